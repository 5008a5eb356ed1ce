package formula

import (
	"strings"

	"github.com/google/uuid"
)

// FormulaIDPrefix starts every formula id
const FormulaIDPrefix = "FORM"

// NewFormulaID returns a new typed formula id
func NewFormulaID() string {
	return FormulaIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// formulaHost is the side of the manager a registered formula talks to
type formulaHost interface {
	displayNameMapFor(f *Formula) *DisplayNameMap
	canonicalNameMapFor(f *Formula) CanonicalNameMap
	formulaDisplayChanged(f *Formula)
	rerandomize(f *Formula)
}

// Formula is an expression owned by an attribute or a graph annotation.
// display is what the user typed; canonical is derived from it when the
// display text is edited and is left alone by renames. both persist as
// plain strings.
type Formula struct {
	id        string
	display   string
	canonical string

	host formulaHost

	// parse results of the current display text
	parsedDisplay string
	parsed        bool
	syntaxError   string
	random        bool
}

// NewFormula creates a formula with a fresh id
func NewFormula(display string) *Formula {
	return &Formula{
		id:      NewFormulaID(),
		display: display,
	}
}

// RestoreFormula recreates a persisted formula
func RestoreFormula(id, display, canonical string) *Formula {
	if id == "" {
		id = NewFormulaID()
	}
	return &Formula{
		id:        id,
		display:   display,
		canonical: canonical,
	}
}

func (f *Formula) ID() string {
	return f.id
}

func (f *Formula) Display() string {
	return f.display
}

func (f *Formula) Canonical() string {
	return f.canonical
}

// SetDisplayFormula replaces the display text. a registered formula is
// recanonicalized and recalculated before this returns.
func (f *Formula) SetDisplayFormula(display string) {
	if display == f.display {
		return
	}
	f.display = display
	if f.host != nil {
		f.host.formulaDisplayChanged(f)
		return
	}
	// derived again on registration
	f.canonical = ""
}

// Empty reports whether there is no expression at all
func (f *Formula) Empty() bool {
	return strings.TrimSpace(f.display) == ""
}

func (f *Formula) parseDisplay() {
	if f.parsed && f.parsedDisplay == f.display {
		return
	}
	f.parsed = true
	f.parsedDisplay = f.display
	f.syntaxError = ""
	f.random = false
	if f.Empty() {
		return
	}

	ast, err := ParseExpression(f.display)
	if err != nil {
		f.syntaxError = err.Error()
		return
	}
	walkAST(ast, func(node ASTNode) {
		if call, ok := node.(*FunctionCallNode); ok && isRandomFunction(call.Name) {
			f.random = true
		}
	})
}

// SyntaxError returns the parse error message of the display text, or ""
func (f *Formula) SyntaxError() string {
	f.parseDisplay()
	return f.syntaxError
}

// Valid reports whether the formula is non-empty and parses
func (f *Formula) Valid() bool {
	return !f.Empty() && f.SyntaxError() == ""
}

// IsRandomFunctionPresent reports whether the formula calls a random
// function and so changes on every evaluation
func (f *Formula) IsRandomFunctionPresent() bool {
	f.parseDisplay()
	return f.random
}

// UpdateCanonicalFormula derives canonical text from display text against
// the current document names. an invalid formula has no canonical text.
func (f *Formula) UpdateCanonicalFormula() {
	f.canonical = ""
	if !f.Valid() {
		return
	}
	m := &DisplayNameMap{LocalNames: map[string]string{}, DataSet: map[string]*DataSetNames{}}
	if f.host != nil {
		m = f.host.displayNameMapFor(f)
	}
	canonical, err := Canonicalize(f.display, m)
	if err != nil {
		return
	}
	f.canonical = canonical
}

// ResolveNewNames canonicalizes the bare names that canonical text still
// holds because they named nothing when the formula was canonicalized.
// tokens already in canonical text are never touched, so a rename can not
// retarget a formula. it reports whether canonical text changed.
func (f *Formula) ResolveNewNames() bool {
	if f.canonical == "" {
		before := f.canonical
		f.UpdateCanonicalFormula()
		return f.canonical != before
	}
	if f.host == nil {
		return false
	}
	canonical, err := Canonicalize(f.canonical, f.host.displayNameMapFor(f))
	if err != nil || canonical == f.canonical {
		return false
	}
	f.canonical = canonical
	return true
}

// UpdateDisplayFormula regenerates display text after a rename. when a
// canonical token has no name anymore the previous display text is kept.
func (f *Formula) UpdateDisplayFormula() {
	if f.canonical == "" || f.host == nil {
		return
	}
	display, err := Decanonicalize(f.canonical, f.display, f.host.canonicalNameMapFor(f))
	if err != nil {
		return
	}
	f.display = display
}

// Rerandomize recalculates a formula that calls a random function even
// though none of its inputs changed
func (f *Formula) Rerandomize() {
	if f.host != nil {
		f.host.rerandomize(f)
	}
}

func (f *Formula) attach(host formulaHost) {
	f.host = host
}

func (f *Formula) detach() {
	f.host = nil
}
