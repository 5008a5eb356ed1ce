package formula

import (
	"math"
	"strconv"
	"strings"
)

type NodePosition struct {
	Start int
	End   int
}

// ASTNode is a parsed expression. dependency extraction, canonical
// rewriting and random detection all walk the tree instead of the text.
type ASTNode interface {
	Eval(s *Scope) (Value, error)
	GetPosition() NodePosition
	ToString() string
}

type StringNode struct {
	Value    string
	Position NodePosition
}

type NumberNode struct {
	Value    float64
	Position NodePosition
}

type BooleanNode struct {
	Value    bool
	Position NodePosition
}

// SymbolNode is a bare name. in canonical text it holds a canonical token.
type SymbolNode struct {
	Name     string
	Position NodePosition
}

type BinaryOpNode struct {
	Op       BinaryOp
	Left     ASTNode
	Right    ASTNode
	Position NodePosition
}

type UnaryOpNode struct {
	Op       UnaryOp
	Operand  ASTNode
	Position NodePosition
}

type FunctionCallNode struct {
	Name     string
	Args     []ASTNode
	Position NodePosition
}

func (n *StringNode) GetPosition() NodePosition       { return n.Position }
func (n *NumberNode) GetPosition() NodePosition       { return n.Position }
func (n *BooleanNode) GetPosition() NodePosition      { return n.Position }
func (n *SymbolNode) GetPosition() NodePosition       { return n.Position }
func (n *BinaryOpNode) GetPosition() NodePosition     { return n.Position }
func (n *UnaryOpNode) GetPosition() NodePosition      { return n.Position }
func (n *FunctionCallNode) GetPosition() NodePosition { return n.Position }

func (n *StringNode) Eval(*Scope) (Value, error)  { return n.Value, nil }
func (n *NumberNode) Eval(*Scope) (Value, error)  { return n.Value, nil }
func (n *BooleanNode) Eval(*Scope) (Value, error) { return n.Value, nil }

func (n *SymbolNode) Eval(s *Scope) (Value, error) {
	return s.Resolve(n.Name)
}

func (n *FunctionCallNode) Eval(s *Scope) (Value, error) {
	return s.library.Call(n, s)
}

// arithmetic operators. non-numeric operands arrive as NaN rather than
// failing the case, and dividing by zero gives Infinity or NaN.
var arithmetic = map[BinaryOp]func(a, b float64) (Value, error){
	BinOpAdd:      func(a, b float64) (Value, error) { return a + b, nil },
	BinOpSubtract: func(a, b float64) (Value, error) { return a - b, nil },
	BinOpMultiply: func(a, b float64) (Value, error) { return a * b, nil },
	BinOpPower:    func(a, b float64) (Value, error) { return math.Pow(a, b), nil },
	BinOpDivide:   func(a, b float64) (Value, error) { return a / b, nil },
	BinOpModulo:   func(a, b float64) (Value, error) { return math.Mod(a, b), nil },
}

func (n *BinaryOpNode) Eval(s *Scope) (Value, error) {
	left, err := n.Left.Eval(s)
	if err != nil {
		return nil, err
	}

	// and/or only look at the right side when the left does not decide
	if n.Op == BinOpAnd || n.Op == BinOpOr {
		if isTruthy(left) == (n.Op == BinOpOr) {
			return n.Op == BinOpOr, nil
		}
		right, err := n.Right.Eval(s)
		if err != nil {
			return nil, err
		}
		return isTruthy(right), nil
	}

	right, err := n.Right.Eval(s)
	if err != nil {
		return nil, err
	}

	if fn, ok := arithmetic[n.Op]; ok {
		return fn(toNumberOrNaN(left), toNumberOrNaN(right))
	}
	switch n.Op {
	case BinOpConcat:
		return toString(left) + toString(right), nil
	case BinOpEqual:
		return valuesEqual(left, right), nil
	case BinOpNotEqual:
		return !valuesEqual(left, right), nil
	case BinOpLess:
		return compareValues(left, right) < 0, nil
	case BinOpLessEqual:
		return compareValues(left, right) <= 0, nil
	case BinOpGreater:
		return compareValues(left, right) > 0, nil
	case BinOpGreaterEqual:
		return compareValues(left, right) >= 0, nil
	}
	return nil, NewError(RuntimeEvaluationError, "Unknown operator")
}

func (n *UnaryOpNode) Eval(s *Scope) (Value, error) {
	v, err := n.Operand.Eval(s)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case UnaryOpPlus:
		return toNumberOrNaN(v), nil
	case UnaryOpMinus:
		return -toNumberOrNaN(v), nil
	case UnaryOpNot:
		return !isTruthy(v), nil
	}
	return nil, NewError(RuntimeEvaluationError, "Unknown unary operator")
}

// ToString renders a node in a fully parenthesized form used by tests and
// debug logging. it is not the display text.

func (n *StringNode) ToString() string {
	return quoteString(n.Value)
}

// quoteString renders text as a double quoted literal the lexer reads back
func quoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func (n *NumberNode) ToString() string {
	if n.Value == math.Trunc(n.Value) && math.Abs(n.Value) < 1e18 {
		return strconv.FormatInt(int64(n.Value), 10)
	}
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

func (n *BooleanNode) ToString() string {
	return strconv.FormatBool(n.Value)
}

func (n *SymbolNode) ToString() string {
	if SafeSymbolName(n.Name) != n.Name {
		return "`" + n.Name + "`"
	}
	return n.Name
}

func (n *BinaryOpNode) ToString() string {
	text := binaryOpText[n.Op]
	if n.Op == BinOpAnd || n.Op == BinOpOr {
		text = " " + text + " "
	}
	return "(" + n.Left.ToString() + text + n.Right.ToString() + ")"
}

var unaryOpText = map[UnaryOp]string{
	UnaryOpPlus:  "+",
	UnaryOpMinus: "-",
	UnaryOpNot:   "!",
}

func (n *UnaryOpNode) ToString() string {
	return unaryOpText[n.Op] + n.Operand.ToString()
}

func (n *FunctionCallNode) ToString() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.ToString()
	}
	return n.Name + "(" + strings.Join(args, ",") + ")"
}

// walkAST visits every node depth first, parents before children
func walkAST(node ASTNode, visit func(ASTNode)) {
	if node == nil {
		return
	}
	visit(node)
	switch n := node.(type) {
	case *BinaryOpNode:
		walkAST(n.Left, visit)
		walkAST(n.Right, visit)
	case *UnaryOpNode:
		walkAST(n.Operand, visit)
	case *FunctionCallNode:
		for _, arg := range n.Args {
			walkAST(arg, visit)
		}
	}
}
