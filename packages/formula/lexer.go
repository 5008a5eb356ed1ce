package formula

import "strings"

// TokenType classifies a scanned token
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenString
	TokenBoolean
	TokenFunction
	TokenIdentifier
	TokenUnaryPrefixOp
	TokenBinaryOp
	TokenComma
	TokenLeftParen
	TokenRightParen
)

// BinaryOp is the operator of a BinaryOpNode
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpModulo
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
	BinOpAnd
	BinOpOr
)

// UnaryOp is the operator of a UnaryOpNode
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpNot
)

// Token is one lexeme of formula text. Pos and End are rune offsets into
// the input, End exclusive. Value is normalized: operators use their
// ascii spelling, booleans are lower case and strings are unescaped.
type Token struct {
	Type   TokenType
	Value  string
	Pos    int
	End    int
	Quoted bool // identifier written as `name`
}

// Text returns the exact source text a token was scanned from
func (t Token) Text(runes []rune) string {
	if t.Pos < 0 || t.End > len(runes) || t.Pos > t.End {
		return ""
	}
	return string(runes[t.Pos:t.End])
}

// lexState is what the lexer has just seen, which decides the tokens that
// may legally come next
type lexState int

const (
	lexBegin   lexState = iota // nothing yet
	lexOperand                 // an operator or comma
	lexGroup                   // an opening parenthesis
	lexValue                   // a value or closing parenthesis
	lexCall                    // a function name
)

func isOperandStart(tt TokenType) bool {
	switch tt {
	case TokenNumber, TokenString, TokenBoolean, TokenFunction,
		TokenIdentifier, TokenLeftParen, TokenUnaryPrefixOp:
		return true
	}
	return false
}

func (s lexState) accepts(tt TokenType) bool {
	switch s {
	case lexBegin:
		return tt == TokenEOF || isOperandStart(tt)
	case lexOperand:
		return isOperandStart(tt)
	case lexGroup:
		// arg-less calls like pi()
		return tt == TokenRightParen || isOperandStart(tt)
	case lexValue:
		return tt == TokenBinaryOp || tt == TokenRightParen || tt == TokenComma || tt == TokenEOF
	case lexCall:
		return tt == TokenLeftParen
	}
	return false
}

func (s lexState) after(tt TokenType) lexState {
	switch tt {
	case TokenLeftParen:
		return lexGroup
	case TokenFunction:
		return lexCall
	case TokenUnaryPrefixOp, TokenBinaryOp, TokenComma:
		return lexOperand
	}
	return lexValue
}

// prefixAllowed reports whether + - and not are unary here
func (s lexState) prefixAllowed() bool {
	return s == lexBegin || s == lexOperand || s == lexGroup
}

// operatorSpellings is matched in order, so longer spellings come first
var operatorSpellings = []struct {
	text  []rune
	value string
}{
	{[]rune("<="), "<="},
	{[]rune(">="), ">="},
	{[]rune("<>"), "!="},
	{[]rune("!="), "!="},
	{[]rune("=="), "=="},
	{[]rune("="), "=="},
	{[]rune("<"), "<"},
	{[]rune(">"), ">"},
	{[]rune("≠"), "!="},
	{[]rune("≤"), "<="},
	{[]rune("≥"), ">="},
	{[]rune("+"), "+"},
	{[]rune("-"), "-"},
	{[]rune("*"), "*"},
	{[]rune("/"), "/"},
	{[]rune("%"), "%"},
	{[]rune("^"), "^"},
	{[]rune("&"), "&"},
	{[]rune("!"), "!"},
}

// Lexer splits formula text into tokens and rejects token sequences that
// can never parse. there is no leading '='; the whole input is the
// expression.
type Lexer struct {
	runes  []rune
	pos    int
	state  lexState
	depth  int
	tokens []Token
}

// NewLexer creates a lexer over input
func NewLexer(input string) *Lexer {
	return &Lexer{runes: []rune(input)}
}

// Runes returns the rune view of the input that token positions index
func (l *Lexer) Runes() []rune {
	return l.runes
}

// Tokenize scans the whole input. on failure it returns no tokens and a
// single message.
func (l *Lexer) Tokenize() ([]Token, []string) {
	fail := func(msg string) ([]Token, []string) {
		l.tokens = nil
		return nil, []string{msg}
	}

	for {
		l.skipSpace()
		if l.pos >= len(l.runes) {
			break
		}
		tok, msg := l.scan()
		if msg != "" {
			return fail(msg)
		}
		if !l.state.accepts(tok.Type) {
			return fail("Unexpected " + describeToken(tok))
		}
		l.tokens = append(l.tokens, tok)
		l.state = l.state.after(tok.Type)
	}

	switch {
	case !l.state.accepts(TokenEOF):
		return fail("Unexpected end of expression")
	case l.depth > 0:
		return fail("Parenthesis ) expected")
	}
	end := len(l.runes)
	return append(l.tokens, Token{Type: TokenEOF, Pos: end, End: end}), nil
}

func describeToken(tok Token) string {
	switch tok.Type {
	case TokenString:
		return "string \"" + tok.Value + "\""
	case TokenNumber:
		return "number " + tok.Value
	case TokenIdentifier, TokenFunction:
		return "symbol " + tok.Value
	case TokenLeftParen, TokenRightParen, TokenComma:
		return "character " + tok.Value
	}
	return "operator " + tok.Value
}

func (l *Lexer) at(offset int) rune {
	i := l.pos + offset
	if i < 0 || i >= len(l.runes) {
		return 0
	}
	return l.runes[i]
}

// skipWhile advances past runes matching pred and returns how many it skipped
func (l *Lexer) skipWhile(pred func(rune) bool) int {
	start := l.pos
	for l.pos < len(l.runes) && pred(l.runes[l.pos]) {
		l.pos++
	}
	return l.pos - start
}

func (l *Lexer) skipSpace() {
	l.skipWhile(func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isNameRune(r rune) bool {
	return isLetter(r) || isDigit(r) || r == '_'
}

// emit builds a token spanning from start to the cursor
func (l *Lexer) emit(tt TokenType, value string, start int) Token {
	return Token{Type: tt, Value: value, Pos: start, End: l.pos}
}

// scan reads one token at the cursor. a non-empty message is a lex error.
func (l *Lexer) scan() (Token, string) {
	start := l.pos
	r := l.at(0)

	switch {
	case r == '"' || r == '\'':
		return l.scanString(r)
	case r == '`':
		return l.scanQuotedName()
	case isDigit(r) || (r == '.' && isDigit(l.at(1))):
		return l.scanNumber(), ""
	case isLetter(r) || r == '_':
		return l.scanWord(), ""
	case r == '(':
		l.pos++
		l.depth++
		return l.emit(TokenLeftParen, "(", start), ""
	case r == ')':
		l.pos++
		l.depth--
		if l.depth < 0 {
			return Token{}, "Unexpected character )"
		}
		return l.emit(TokenRightParen, ")", start), ""
	case r == ',':
		l.pos++
		return l.emit(TokenComma, ",", start), ""
	}

	if tok, ok := l.scanOperator(); ok {
		return tok, ""
	}
	return Token{}, "Unexpected character " + string(r)
}

func (l *Lexer) scanOperator() (Token, bool) {
	start := l.pos
	for _, op := range operatorSpellings {
		if !l.hasPrefix(op.text) {
			continue
		}
		l.pos += len(op.text)
		switch {
		case op.value == "!":
			return l.emit(TokenUnaryPrefixOp, "!", start), true
		case (op.value == "+" || op.value == "-") && l.state.prefixAllowed():
			return l.emit(TokenUnaryPrefixOp, op.value, start), true
		}
		return l.emit(TokenBinaryOp, op.value, start), true
	}
	return Token{}, false
}

func (l *Lexer) hasPrefix(text []rune) bool {
	if l.pos+len(text) > len(l.runes) {
		return false
	}
	for i, r := range text {
		if l.runes[l.pos+i] != r {
			return false
		}
	}
	return true
}

// scanNumber reads digits with an optional fraction and exponent. an
// exponent marker with no digits after it is left for the next token.
func (l *Lexer) scanNumber() Token {
	start := l.pos
	l.skipWhile(isDigit)
	if l.at(0) == '.' && isDigit(l.at(1)) {
		l.pos++
		l.skipWhile(isDigit)
	}
	if e := l.at(0); e == 'e' || e == 'E' {
		mark := l.pos
		l.pos++
		if s := l.at(0); s == '+' || s == '-' {
			l.pos++
		}
		if l.skipWhile(isDigit) == 0 {
			l.pos = mark
		}
	}
	return l.emit(TokenNumber, string(l.runes[start:l.pos]), start)
}

// scanString reads a literal closed by quote. a backslash escapes the next
// rune and a doubled quote stands for itself.
func (l *Lexer) scanString(quote rune) (Token, string) {
	start := l.pos
	l.pos++

	var b strings.Builder
	for l.pos < len(l.runes) {
		r := l.at(0)
		switch {
		case r == '\\' && l.pos+1 < len(l.runes):
			b.WriteRune(l.at(1))
			l.pos += 2
		case r == quote && l.at(1) == quote:
			b.WriteRune(quote)
			l.pos += 2
		case r == quote:
			l.pos++
			return l.emit(TokenString, b.String(), start), ""
		default:
			b.WriteRune(r)
			l.pos++
		}
	}
	return Token{}, "Unterminated string"
}

// scanQuotedName reads `any name`, which lets display text refer to names
// that are not valid bare identifiers. a quoted name is never a function.
func (l *Lexer) scanQuotedName() (Token, string) {
	start := l.pos
	l.pos++
	l.skipWhile(func(r rune) bool { return r != '`' })
	if l.pos >= len(l.runes) {
		return Token{}, "Unterminated name"
	}
	name := string(l.runes[start+1 : l.pos])
	l.pos++

	if l.at(0) == '(' {
		return Token{}, "Unexpected character ("
	}
	tok := l.emit(TokenIdentifier, name, start)
	tok.Quoted = true
	return tok, ""
}

// scanWord reads a bare name. depending on what follows and where it
// appears, a word is a function name, a boolean, one of the word operators
// and/or/not, or an identifier.
func (l *Lexer) scanWord() Token {
	start := l.pos
	l.skipWhile(isNameRune)
	word := string(l.runes[start:l.pos])

	if l.at(0) == '(' {
		return l.emit(TokenFunction, word, start)
	}

	lower := strings.ToLower(word)
	switch {
	case lower == "true" || lower == "false":
		return l.emit(TokenBoolean, lower, start)
	case (lower == "and" || lower == "or") && l.state == lexValue:
		return l.emit(TokenBinaryOp, lower, start)
	case lower == "not" && l.state.prefixAllowed():
		return l.emit(TokenUnaryPrefixOp, lower, start)
	}
	return l.emit(TokenIdentifier, word, start)
}
