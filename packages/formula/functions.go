package formula

import (
	"math"
	"math/rand/v2"
	"slices"
	"strings"
)

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// NewRandomGenerator returns a deterministic generator for a non-zero seed
// and the default one otherwise
func NewRandomGenerator(seed uint64) RandomGenerator {
	if seed == 0 {
		return &DefaultRandomGenerator{}
	}
	return rand.New(rand.NewPCG(seed, seed))
}

// Function describes one evaluable function.
//
// A function with Reduce is an aggregate: called with at most one argument
// it evaluates that argument for every case of the current aggregate group
// and reduces the results. with more arguments Evaluate is used instead.
type Function struct {
	Name    string
	MinArgs int
	MaxArgs int // -1 for no limit
	// Random functions produce a new result on every evaluation
	Random bool

	Evaluate func(args []Value, s *Scope) (Value, error)
	Reduce   func(values []Value) (Value, error)
	// EvaluateRaw receives unevaluated arguments
	EvaluateRaw func(args []ASTNode, s *Scope) (Value, error)

	// Canonicalize rewrites string literal arguments that name foreign
	// entities. args[i] is nil when argument i is not a lone string literal.
	Canonicalize func(args []*Token, m *DisplayNameMap)
	// GetDependency reports what a call depends on beyond bare symbols
	GetDependency func(args []ASTNode) Dependency
}

// Library evaluates function calls. it carries the per-engine state
// functions need, currently only the random source.
type Library struct {
	rng RandomGenerator
}

// NewLibrary creates a library using rng for random functions
func NewLibrary(rng RandomGenerator) *Library {
	if rng == nil {
		rng = &DefaultRandomGenerator{}
	}
	return &Library{rng: rng}
}

// NewDefaultLibrary creates a Library with default implementations
func NewDefaultLibrary() *Library {
	return NewLibrary(nil)
}

var functionRegistry = map[string]*Function{}

func register(fns ...*Function) {
	for _, fn := range fns {
		functionRegistry[strings.ToLower(fn.Name)] = fn
	}
}

// lookupFunction finds a function by name, ignoring case
func lookupFunction(name string) (*Function, bool) {
	fn, ok := functionRegistry[strings.ToLower(name)]
	return fn, ok
}

// FunctionNames lists every registered function
func FunctionNames() []string {
	names := make([]string, 0, len(functionRegistry))
	for _, fn := range functionRegistry {
		names = append(names, fn.Name)
	}
	slices.Sort(names)
	return names
}

// Call invokes a function call node
func (l *Library) Call(n *FunctionCallNode, s *Scope) (Value, error) {
	fn, ok := lookupFunction(n.Name)
	if !ok {
		if suggestion := closestName(n.Name, FunctionNames()); suggestion != "" {
			return nil, newErrorf(UnresolvedNameError, "Unknown function %s. Did you mean %s?", n.Name, suggestion)
		}
		return nil, newErrorf(UnresolvedNameError, "Unknown function %s", n.Name)
	}

	if err := checkArity(fn, len(n.Args)); err != nil {
		return nil, err
	}

	if fn.EvaluateRaw != nil {
		return fn.EvaluateRaw(n.Args, s)
	}

	if fn.Reduce != nil && len(n.Args) <= 1 {
		var arg ASTNode
		if len(n.Args) == 1 {
			arg = n.Args[0]
		}
		values, err := s.aggregateValues(n, arg)
		if err != nil {
			return nil, err
		}
		return fn.Reduce(values)
	}

	args := make([]Value, len(n.Args))
	for i, argNode := range n.Args {
		val, err := argNode.Eval(s)
		if err != nil {
			return nil, err
		}
		args[i] = val
	}
	return fn.Evaluate(args, s)
}

func checkArity(fn *Function, count int) error {
	if count >= fn.MinArgs && (fn.MaxArgs < 0 || count <= fn.MaxArgs) {
		return nil
	}
	switch {
	case fn.MinArgs == fn.MaxArgs && fn.MinArgs == 1:
		return newErrorf(ArgumentError, "%s expects 1 argument", fn.Name)
	case fn.MinArgs == fn.MaxArgs:
		return newErrorf(ArgumentError, "%s expects %d arguments", fn.Name, fn.MinArgs)
	case fn.MaxArgs < 0:
		return newErrorf(ArgumentError, "%s expects at least %d arguments", fn.Name, fn.MinArgs)
	default:
		return newErrorf(ArgumentError, "%s expects %d to %d arguments", fn.Name, fn.MinArgs, fn.MaxArgs)
	}
}

// numbers keeps the numeric values, skipping empty and non-numeric ones
func numbers(values []Value) []float64 {
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		if num, ok := toNumber(v); ok {
			nums = append(nums, num)
		}
	}
	return nums
}

// unary builds a one argument numeric function
func unary(name string, f func(float64) float64) *Function {
	return &Function{
		Name:    name,
		MinArgs: 1,
		MaxArgs: 1,
		Evaluate: func(args []Value, s *Scope) (Value, error) {
			return f(toNumberOrNaN(args[0])), nil
		},
	}
}

func sum(nums []float64) float64 {
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return total
}

func mean(nums []float64) float64 {
	if len(nums) == 0 {
		return math.NaN()
	}
	return sum(nums) / float64(len(nums))
}

func variance(nums []float64) float64 {
	if len(nums) < 2 {
		return math.NaN()
	}
	m := mean(nums)
	squares := 0.0
	for _, n := range nums {
		squares += (n - m) * (n - m)
	}
	return squares / float64(len(nums)-1)
}

func median(nums []float64) float64 {
	if len(nums) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(nums)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		// even count: average of two middle values
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func extreme(nums []float64, better func(a, b float64) bool) float64 {
	if len(nums) == 0 {
		return math.NaN()
	}
	result := nums[0]
	for _, n := range nums[1:] {
		if better(n, result) {
			result = n
		}
	}
	return result
}

func less(a, b float64) bool    { return a < b }
func greater(a, b float64) bool { return a > b }

// roundHalfUp rounds like a spreadsheet user expects, 2.5 -> 3
func roundHalfUp(x float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Floor(x*p+0.5) / p
}

func init() {
	register(
		unary("abs", math.Abs),
		unary("ceil", math.Ceil),
		unary("floor", math.Floor),
		unary("sqrt", math.Sqrt),
		unary("exp", math.Exp),
		unary("ln", math.Log),
		&Function{
			Name:    "round",
			MinArgs: 1,
			MaxArgs: 2,
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				digits := 0
				if len(args) == 2 {
					digits = int(toNumberOrNaN(args[1]))
				}
				return roundHalfUp(toNumberOrNaN(args[0]), digits), nil
			},
		},
		&Function{
			Name:    "log",
			MinArgs: 1,
			MaxArgs: 2,
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				x := toNumberOrNaN(args[0])
				if len(args) == 2 {
					return math.Log(x) / math.Log(toNumberOrNaN(args[1])), nil
				}
				return math.Log10(x), nil
			},
		},
		&Function{
			Name:    "pow",
			MinArgs: 2,
			MaxArgs: 2,
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				return math.Pow(toNumberOrNaN(args[0]), toNumberOrNaN(args[1])), nil
			},
		},
		&Function{
			Name:    "mod",
			MinArgs: 2,
			MaxArgs: 2,
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				return math.Mod(toNumberOrNaN(args[0]), toNumberOrNaN(args[1])), nil
			},
		},
		&Function{
			Name:    "pi",
			MinArgs: 0,
			MaxArgs: 0,
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				return math.Pi, nil
			},
		},

		// aggregates
		&Function{
			Name:    "sum",
			MinArgs: 1,
			MaxArgs: 1,
			Reduce: func(values []Value) (Value, error) {
				return sum(numbers(values)), nil
			},
		},
		&Function{
			Name:    "mean",
			MinArgs: 1,
			MaxArgs: 1,
			Reduce: func(values []Value) (Value, error) {
				return mean(numbers(values)), nil
			},
		},
		&Function{
			Name:    "median",
			MinArgs: 1,
			MaxArgs: 1,
			Reduce: func(values []Value) (Value, error) {
				return median(numbers(values)), nil
			},
		},
		&Function{
			Name:    "variance",
			MinArgs: 1,
			MaxArgs: 1,
			Reduce: func(values []Value) (Value, error) {
				return variance(numbers(values)), nil
			},
		},
		&Function{
			Name:    "stdDev",
			MinArgs: 1,
			MaxArgs: 1,
			Reduce: func(values []Value) (Value, error) {
				return math.Sqrt(variance(numbers(values))), nil
			},
		},
		&Function{
			Name:    "count",
			MinArgs: 0,
			MaxArgs: 1,
			Reduce: func(values []Value) (Value, error) {
				count := 0
				for _, v := range values {
					if !isEmpty(v) && v != false {
						count++
					}
				}
				return float64(count), nil
			},
		},
		&Function{
			Name:    "first",
			MinArgs: 1,
			MaxArgs: 1,
			Reduce: func(values []Value) (Value, error) {
				for _, v := range values {
					if !isEmpty(v) {
						return v, nil
					}
				}
				return UndefinedResult, nil
			},
		},
		&Function{
			Name:    "last",
			MinArgs: 1,
			MaxArgs: 1,
			Reduce: func(values []Value) (Value, error) {
				for i := len(values) - 1; i >= 0; i-- {
					if !isEmpty(values[i]) {
						return values[i], nil
					}
				}
				return UndefinedResult, nil
			},
		},
		&Function{
			Name:    "min",
			MinArgs: 1,
			MaxArgs: -1,
			Reduce: func(values []Value) (Value, error) {
				return extreme(numbers(values), less), nil
			},
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				return extreme(numbers(args), less), nil
			},
		},
		&Function{
			Name:    "max",
			MinArgs: 1,
			MaxArgs: -1,
			Reduce: func(values []Value) (Value, error) {
				return extreme(numbers(values), greater), nil
			},
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				return extreme(numbers(args), greater), nil
			},
		},

		// logic
		&Function{
			Name:    "if",
			MinArgs: 2,
			MaxArgs: 3,
			// only the chosen branch is evaluated
			EvaluateRaw: func(args []ASTNode, s *Scope) (Value, error) {
				condition, err := args[0].Eval(s)
				if err != nil {
					return nil, err
				}
				if isTruthy(condition) {
					return args[1].Eval(s)
				}
				if len(args) == 3 {
					return args[2].Eval(s)
				}
				return UndefinedResult, nil
			},
		},
		&Function{
			Name:    "and",
			MinArgs: 1,
			MaxArgs: -1,
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				for _, arg := range args {
					if !isTruthy(arg) {
						return false, nil
					}
				}
				return true, nil
			},
		},
		&Function{
			Name:    "or",
			MinArgs: 1,
			MaxArgs: -1,
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				for _, arg := range args {
					if isTruthy(arg) {
						return true, nil
					}
				}
				return false, nil
			},
		},
		&Function{
			Name:    "not",
			MinArgs: 1,
			MaxArgs: 1,
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				return !isTruthy(args[0]), nil
			},
		},

		// text
		&Function{
			Name:    "concat",
			MinArgs: 1,
			MaxArgs: -1,
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				var b strings.Builder
				for _, arg := range args {
					b.WriteString(toString(arg))
				}
				return b.String(), nil
			},
		},
		textFunction("upper", strings.ToUpper),
		textFunction("lower", strings.ToLower),
		textFunction("trim", strings.TrimSpace),
		&Function{
			Name:    "len",
			MinArgs: 1,
			MaxArgs: 1,
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				return float64(len([]rune(toString(args[0])))), nil
			},
		},

		// random
		&Function{
			Name:    "random",
			MinArgs: 0,
			MaxArgs: 2,
			Random:  true,
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				r := s.library.rng.Float64()
				switch len(args) {
				case 1:
					return r * toNumberOrNaN(args[0]), nil
				case 2:
					lo, hi := toNumberOrNaN(args[0]), toNumberOrNaN(args[1])
					return lo + r*(hi-lo), nil
				}
				return r, nil
			},
		},
		&Function{
			Name:    "randomNormal",
			MinArgs: 0,
			MaxArgs: 2,
			Random:  true,
			Evaluate: func(args []Value, s *Scope) (Value, error) {
				mu, sigma := 0.0, 1.0
				if len(args) > 0 {
					mu = toNumberOrNaN(args[0])
				}
				if len(args) > 1 {
					sigma = toNumberOrNaN(args[1])
				}
				// box-muller
				u1 := 1 - s.library.rng.Float64()
				u2 := s.library.rng.Float64()
				z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
				return mu + sigma*z, nil
			},
		},
	)
}

func textFunction(name string, f func(string) string) *Function {
	return &Function{
		Name:    name,
		MinArgs: 1,
		MaxArgs: 1,
		Evaluate: func(args []Value, s *Scope) (Value, error) {
			return f(toString(args[0])), nil
		},
	}
}

// isRandomFunction reports whether name is a random function
func isRandomFunction(name string) bool {
	fn, ok := lookupFunction(name)
	return ok && fn.Random
}
