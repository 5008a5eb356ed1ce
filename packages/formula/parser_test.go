package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFormula(text string) bool {
	_, err := ParseExpression(text)
	return err == nil
}

func evalFormula(t *testing.T, text string) (Value, error) {
	t.Helper()
	ast, err := ParseExpression(text)
	require.NoError(t, err, "parsing %q", text)
	return ast.Eval(NewScope(ScopeOptions{Library: NewLibrary(fixedRandom(0.5))}))
}

type fixedRandom float64

func (f fixedRandom) Float64() float64 {
	return float64(f)
}

func TestParserBasicFormulas(t *testing.T) {
	validFormulas := []string{
		"1+2",
		"a",
		"mean(a)",
		"2 * x",
		"-a + +b",
		"not a",
		"a and b or c",
		"a = 1",
		"a == 1",
		"a != 1",
		"a <> 1",
		"a ≠ 1",
		"a ≤ b",
		"`my attr` * 2",
		`"Hello 世界"`,
		`'single quoted'`,
		`concat("Hello ", "世界")`,
		`lookupByIndex("Mammals", "Speed", 2)`,
		"pi()",
		"if(a > 1, \"big\", \"small\")",
		"1.5e3",
		"((1))",
	}

	for _, text := range validFormulas {
		t.Run(text, func(t *testing.T) {
			if !parseFormula(text) {
				t.Errorf("Failed to parse valid formula: %s", text)
			}
		})
	}
}

func TestParserInvalidFormulas(t *testing.T) {
	invalidFormulas := []string{
		"",
		"   ",
		"1 +",
		"mean(",
		"(1",
		"1)",
		"a b",
		`"hello`,
		"`unterminated",
		"1 , 2",
		"* 2",
		"a $ b",
	}

	for _, text := range invalidFormulas {
		t.Run(text, func(t *testing.T) {
			if parseFormula(text) {
				t.Errorf("Expected formula to fail but it succeeded: %s", text)
			}
		})
	}
}

func TestParserSyntaxErrorKind(t *testing.T) {
	_, err := ParseExpression("1 +")
	require.Error(t, err)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, SyntaxError, fe.Kind)
	assert.Equal(t, "Unexpected end of expression", fe.Message)

	_, err = ParseExpression("")
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "Empty expression", fe.Message)
}

func TestParserPrecedence(t *testing.T) {
	tests := []struct {
		text     string
		expected string
	}{
		{"1+2*3", "(1+(2*3))"},
		{"(1+2)*3", "((1+2)*3)"},
		{"2^3^2", "(2^(3^2))"},
		{"-2^2", "(-2^2)"},
		{"a & b = c", "((a&b)==c)"},
		{"a or b and c", "(a or (b and c))"},
		{"not a = b", "(!a==b)"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			ast, err := ParseExpression(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ast.ToString())
		})
	}
}

func TestEvaluateExpressions(t *testing.T) {
	tests := []struct {
		text     string
		expected string
	}{
		{"1+2", "3"},
		{"0.1+0.2", "0.3"},
		{"7 % 3", "1"},
		{"2^10", "1024"},
		{"-(3)", "-3"},
		{`"a" & "b" & 1`, "ab1"},
		{`"1" = 1`, "true"},
		{`"true" = true`, "true"},
		{"2 > 10", "false"},
		{`"b" > "a"`, "true"},
		{"true and false", "false"},
		{"false or 1", "true"},
		{"not 0", "true"},
		{`if(1 > 2, "yes", "no")`, "no"},
		{`if(false, 1)`, ""},
		{"round(2.5)", "3"},
		{"round(3.14159, 2)", "3.14"},
		{"abs(-4)", "4"},
		{"sqrt(16)", "4"},
		{"pow(2, 3)", "8"},
		{"mod(7, 4)", "3"},
		{"log(100)", "2"},
		{`len("hello")`, "5"},
		{`concat("a", 1, true)`, "a1true"},
		{`"x" + 1`, ""},
		{"random()", "0.5"},
		{"1/0", "Infinity"},
		{"-1/0", "-Infinity"},
		{"0/0", ""},
		{"5 % 0", ""},
		{"mod(5, 0)", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			value, err := evalFormula(t, tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, FormatValue(value))
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		text    string
		kind    ErrorKind
		message string
	}{
		{"nosuch(1)", UnresolvedNameError, "Unknown function nosuch"},
		{"sqr(4)", UnresolvedNameError, "Unknown function sqr. Did you mean sqrt?"},
		{"pow(1)", ArgumentError, "pow expects 2 arguments"},
		{"abs(1, 2)", ArgumentError, "abs expects 1 argument"},
		{"x + 1", UnresolvedNameError, "Undefined symbol x"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := evalFormula(t, tt.text)
			require.Error(t, err)
			var fe *Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.kind, fe.Kind)
			assert.Contains(t, fe.Message, tt.message)
		})
	}
}

func TestFunctionNamesAreCaseInsensitive(t *testing.T) {
	value, err := evalFormula(t, "ABS(-2) + Sqrt(4)")
	require.NoError(t, err)
	assert.Equal(t, 4.0, value)
}
