package formula

import "strconv"

// binding describes how a binary operator token parses. higher prec binds
// tighter.
type binding struct {
	op         BinaryOp
	prec       int
	rightAssoc bool
}

var bindings = map[string]binding{
	"or":  {op: BinOpOr, prec: 1},
	"and": {op: BinOpAnd, prec: 2},
	"==":  {op: BinOpEqual, prec: 3},
	"!=":  {op: BinOpNotEqual, prec: 3},
	"<":   {op: BinOpLess, prec: 3},
	"<=":  {op: BinOpLessEqual, prec: 3},
	">":   {op: BinOpGreater, prec: 3},
	">=":  {op: BinOpGreaterEqual, prec: 3},
	"&":   {op: BinOpConcat, prec: 4},
	"+":   {op: BinOpAdd, prec: 5},
	"-":   {op: BinOpSubtract, prec: 5},
	"*":   {op: BinOpMultiply, prec: 6},
	"/":   {op: BinOpDivide, prec: 6},
	"%":   {op: BinOpModulo, prec: 6},
	"^":   {op: BinOpPower, prec: 7, rightAssoc: true},
}

// binaryOpText is the token spelling of each operator
var binaryOpText = func() map[BinaryOp]string {
	m := make(map[BinaryOp]string, len(bindings))
	for text, b := range bindings {
		m[b.op] = text
	}
	return m
}()

var unaryOps = map[string]UnaryOp{
	"+":   UnaryOpPlus,
	"-":   UnaryOpMinus,
	"!":   UnaryOpNot,
	"not": UnaryOpNot,
}

// Parser builds an AST from lexer tokens by precedence climbing. unary
// operators bind tighter than any binary operator, so -2^2 is (-2)^2.
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser creates a parser over tokens ending in TokenEOF
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// ParseExpression lexes and parses formula text. all failures are
// SyntaxError formula errors.
func ParseExpression(text string) (ASTNode, error) {
	tokens, lexErrors := NewLexer(text).Tokenize()
	if len(lexErrors) > 0 {
		return nil, NewError(SyntaxError, lexErrors[0])
	}
	return NewParser(tokens).Parse()
}

func (p *Parser) Parse() (ASTNode, error) {
	if p.peek().Type == TokenEOF {
		return nil, newErrorf(SyntaxError, "Empty expression")
	}
	node, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type != TokenEOF {
		return nil, newErrorf(SyntaxError, "Unexpected %s", describeToken(tok))
	}
	return node, nil
}

// peek returns the token at the cursor, or EOF past the end
func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) next() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// parseBinary parses operands joined by operators of at least minPrec
func (p *Parser) parseBinary(minPrec int) (ASTNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}
		b, ok := bindings[tok.Value]
		if !ok {
			return nil, newErrorf(SyntaxError, "Unexpected %s", describeToken(tok))
		}
		if b.prec < minPrec {
			return left, nil
		}
		p.next()

		nextPrec := b.prec + 1
		if b.rightAssoc {
			nextPrec = b.prec
		}
		right, err := p.parseBinary(nextPrec)
		if err != nil {
			return nil, err
		}
		left = &BinaryOpNode{
			Op:       b.op,
			Left:     left,
			Right:    right,
			Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
		}
	}
}

func (p *Parser) parseUnary() (ASTNode, error) {
	tok := p.peek()
	if tok.Type != TokenUnaryPrefixOp {
		return p.parsePrimary()
	}
	op, ok := unaryOps[tok.Value]
	if !ok {
		return nil, newErrorf(SyntaxError, "Unexpected operator %s", tok.Value)
	}
	p.next()
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &UnaryOpNode{
		Op:       op,
		Operand:  operand,
		Position: NodePosition{Start: tok.Pos, End: operand.GetPosition().End},
	}, nil
}

func (p *Parser) parsePrimary() (ASTNode, error) {
	tok := p.next()
	at := NodePosition{Start: tok.Pos, End: tok.End}

	switch tok.Type {
	case TokenNumber:
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, newErrorf(SyntaxError, "Invalid number %s", tok.Value)
		}
		return &NumberNode{Value: f, Position: at}, nil
	case TokenString:
		return &StringNode{Value: tok.Value, Position: at}, nil
	case TokenBoolean:
		return &BooleanNode{Value: tok.Value == "true", Position: at}, nil
	case TokenIdentifier:
		return &SymbolNode{Name: tok.Value, Position: at}, nil
	case TokenFunction:
		return p.parseCall(tok)
	case TokenLeftParen:
		inner, err := p.parseBinary(1)
		if err != nil {
			return nil, err
		}
		if p.next().Type != TokenRightParen {
			return nil, newErrorf(SyntaxError, "Parenthesis ) expected")
		}
		return inner, nil
	case TokenEOF:
		return nil, newErrorf(SyntaxError, "Unexpected end of expression")
	}
	return nil, newErrorf(SyntaxError, "Unexpected %s", describeToken(tok))
}

// parseCall parses the parenthesized argument list after a function name
func (p *Parser) parseCall(name Token) (ASTNode, error) {
	if p.next().Type != TokenLeftParen {
		return nil, newErrorf(SyntaxError, "Parenthesis ( expected after %s", name.Value)
	}

	call := &FunctionCallNode{Name: name.Value, Args: []ASTNode{}}
	if p.peek().Type != TokenRightParen {
		for {
			arg, err := p.parseBinary(1)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)

			tok := p.peek()
			if tok.Type == TokenRightParen {
				break
			}
			if tok.Type != TokenComma {
				return nil, newErrorf(SyntaxError, "Unexpected %s in function arguments", describeToken(tok))
			}
			p.next()
		}
	}
	closing := p.next()
	call.Position = NodePosition{Start: name.Pos, End: closing.End}
	return call, nil
}
