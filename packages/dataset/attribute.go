package dataset

import "github.com/vogtb/go-formula/packages/formula"

// Attribute is one column of a dataset. values are stored per item; a
// formula attribute holds its results in the same slots.
type Attribute struct {
	id      string
	name    string
	formula *formula.Formula

	values map[string]uint32 // item id -> value ID
}

func newAttribute(id, name, display string) *Attribute {
	if id == "" {
		id = newID(AttributeIDPrefix)
	}
	return &Attribute{
		id:      id,
		name:    name,
		formula: formula.NewFormula(display),
		values:  make(map[string]uint32),
	}
}

func (a *Attribute) ID() string {
	return a.id
}

func (a *Attribute) Name() string {
	return a.name
}

// Formula is never nil; ordinary attributes have an empty formula
func (a *Attribute) Formula() *formula.Formula {
	return a.formula
}

// HasFormula reports whether the attribute is computed
func (a *Attribute) HasFormula() bool {
	return !a.formula.Empty()
}
