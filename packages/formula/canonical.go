package formula

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// textEdit replaces the runes in [start, end) with text
type textEdit struct {
	start int
	end   int
	text  string
}

// applyEdits rewrites runes with non-overlapping edits
func applyEdits(runes []rune, edits []textEdit) string {
	if len(edits) == 0 {
		return string(runes)
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var b strings.Builder
	last := 0
	for _, e := range edits {
		b.WriteString(string(runes[last:e.start]))
		b.WriteString(e.text)
		last = e.end
	}
	b.WriteString(string(runes[last:]))
	return b.String()
}

// literalArgs returns, for the function call whose name token is at
// index fn, one entry per argument: a copy of the string token when the
// argument is a lone string literal, nil otherwise.
func literalArgs(tokens []Token, fn int) []*Token {
	var args []*Token
	depth := 0
	var current []Token

	flush := func() {
		if len(current) == 1 && current[0].Type == TokenString {
			tok := current[0]
			args = append(args, &tok)
		} else {
			args = append(args, nil)
		}
		current = nil
	}

	for i := fn + 2; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.Type {
		case TokenLeftParen:
			depth++
		case TokenRightParen:
			if depth == 0 {
				if len(current) > 0 || len(args) > 0 {
					flush()
				}
				return args
			}
			depth--
		case TokenComma:
			if depth == 0 {
				flush()
				continue
			}
		}
		current = append(current, tok)
	}
	return args
}

// Canonicalize replaces every recognized name in display text with its
// canonical token. everything else, including unrecognized names, is left
// exactly as written, so canonicalizing canonical text is a no-op.
func Canonicalize(display string, m *DisplayNameMap) (string, error) {
	lexer := NewLexer(display)
	tokens, lexErrors := lexer.Tokenize()
	if len(lexErrors) > 0 {
		return "", NewError(SyntaxError, lexErrors[0])
	}

	var edits []textEdit
	for i, tok := range tokens {
		switch tok.Type {
		case TokenIdentifier:
			token, ok := m.LocalNames[tok.Value]
			if !ok {
				key := SafeSymbolName(tok.Value)
				if key == "" {
					key = EmptySymbolName
				}
				token, ok = m.LocalNames[key]
			}
			if ok {
				edits = append(edits, textEdit{start: tok.Pos, end: tok.End, text: token})
			}

		case TokenFunction:
			fn, ok := lookupFunction(tok.Value)
			if !ok || fn.Canonicalize == nil {
				continue
			}
			args := literalArgs(tokens, i)
			originals := make([]string, len(args))
			for j, arg := range args {
				if arg != nil {
					originals[j] = arg.Value
				}
			}
			fn.Canonicalize(args, m)
			for j, arg := range args {
				if arg != nil && arg.Value != originals[j] {
					edits = append(edits, textEdit{start: arg.Pos, end: arg.End, text: quoteString(arg.Value)})
				}
			}
		}
	}

	return applyEdits(lexer.Runes(), edits), nil
}

// Decanonicalize regenerates display text from canonical text. where the
// original display text has the same token shape, the original spelling of
// each name is kept. a token with no name (e.g. a deleted attribute) is an
// error and the caller keeps its previous display text.
func Decanonicalize(canonical, originalDisplay string, cm CanonicalNameMap) (string, error) {
	lexer := NewLexer(canonical)
	tokens, lexErrors := lexer.Tokenize()
	if len(lexErrors) > 0 {
		return "", NewError(SyntaxError, lexErrors[0])
	}

	origLexer := NewLexer(originalDisplay)
	origTokens, origErrors := origLexer.Tokenize()
	sameShape := len(origErrors) == 0 && len(origTokens) == len(tokens)
	if sameShape {
		for i := range tokens {
			if tokens[i].Type != origTokens[i].Type {
				sameShape = false
				break
			}
		}
	}

	var edits []textEdit
	for i, tok := range tokens {
		switch tok.Type {
		case TokenIdentifier:
			if !IsCanonicalToken(tok.Value) {
				continue
			}
			name, ok := cm[tok.Value]
			if !ok {
				return "", errors.Errorf("no display name for %s", tok.Value)
			}
			text := symbolText(name)
			if sameShape && SafeSymbolName(origTokens[i].Value) == SafeSymbolName(name) {
				text = origTokens[i].Text(origLexer.Runes())
			}
			edits = append(edits, textEdit{start: tok.Pos, end: tok.End, text: text})

		case TokenFunction:
			fn, ok := lookupFunction(tok.Value)
			if !ok || fn.Canonicalize == nil {
				continue
			}
			var origArgs []*Token
			if sameShape {
				origArgs = literalArgs(origTokens, i)
			}
			for j, arg := range literalArgs(tokens, i) {
				if arg == nil || !IsCanonicalToken(arg.Value) {
					continue
				}
				name, ok := cm[arg.Value]
				if !ok {
					return "", errors.Errorf("no display name for %s", arg.Value)
				}
				text := quoteString(name)
				if j < len(origArgs) && origArgs[j] != nil && origArgs[j].Value == name {
					text = origArgs[j].Text(origLexer.Runes())
				}
				edits = append(edits, textEdit{start: arg.Pos, end: arg.End, text: text})
			}
		}
	}

	return applyEdits(lexer.Runes(), edits), nil
}
