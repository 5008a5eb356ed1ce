package dataset

import (
	"fmt"
	"slices"

	"github.com/vogtb/go-formula/packages/formula"
)

// GlobalValue is a named document-wide number, e.g. the value of a slider
type GlobalValue struct {
	id    string
	name  string
	value float64
}

func (g *GlobalValue) ID() string {
	return g.id
}

func (g *GlobalValue) Name() string {
	return g.name
}

func (g *GlobalValue) Value() float64 {
	return g.value
}

// GlobalValueManager holds the global values of a document
type GlobalValueManager struct {
	formula.Observers

	id      string
	globals map[string]*GlobalValue
	order   []string
}

func NewGlobalValueManager() *GlobalValueManager {
	return &GlobalValueManager{
		id:      newID(GlobalIDPrefix),
		globals: make(map[string]*GlobalValue),
	}
}

func (m *GlobalValueManager) Globals() []formula.GlobalValue {
	result := make([]formula.GlobalValue, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.globals[id])
	}
	return result
}

func (m *GlobalValueManager) GlobalByID(id string) (formula.GlobalValue, bool) {
	g, exists := m.globals[id]
	if !exists {
		return nil, false
	}
	return g, true
}

func (m *GlobalValueManager) GlobalByName(name string) (*GlobalValue, bool) {
	for _, id := range m.order {
		if g := m.globals[id]; g.name == name {
			return g, true
		}
	}
	return nil, false
}

// Add creates a global value. names are unique.
func (m *GlobalValueManager) Add(name string, value float64) (*GlobalValue, error) {
	if name == "" {
		return nil, formula.NewApplicationError(formula.InvalidArgument, "global value name is required")
	}
	if _, exists := m.GlobalByName(name); exists {
		return nil, formula.NewApplicationError(formula.AlreadyExists, fmt.Sprintf("global value %s already exists", name))
	}
	g := &GlobalValue{id: newID(GlobalIDPrefix), name: name, value: value}
	m.globals[g.id] = g
	m.order = append(m.order, g.id)
	m.Emit(formula.Event{Kind: formula.EventGlobalAdded, SourceID: m.id, GlobalID: g.id})
	return g, nil
}

func (m *GlobalValueManager) SetValue(id string, value float64) error {
	g, exists := m.globals[id]
	if !exists {
		return formula.NewApplicationError(formula.NotFound, fmt.Sprintf("global value %s not found", id))
	}
	if g.value == value {
		return nil
	}
	g.value = value
	m.Emit(formula.Event{Kind: formula.EventGlobalValueChanged, SourceID: m.id, GlobalID: id})
	return nil
}

func (m *GlobalValueManager) Rename(id, name string) error {
	g, exists := m.globals[id]
	if !exists {
		return formula.NewApplicationError(formula.NotFound, fmt.Sprintf("global value %s not found", id))
	}
	if other, exists := m.GlobalByName(name); exists && other.id != id {
		return formula.NewApplicationError(formula.AlreadyExists, fmt.Sprintf("global value %s already exists", name))
	}
	if g.name == name {
		return nil
	}
	g.name = name
	m.Emit(formula.Event{Kind: formula.EventGlobalRenamed, SourceID: m.id, GlobalID: id})
	return nil
}

func (m *GlobalValueManager) Remove(id string) error {
	if _, exists := m.globals[id]; !exists {
		return formula.NewApplicationError(formula.NotFound, fmt.Sprintf("global value %s not found", id))
	}
	delete(m.globals, id)
	m.order = slices.DeleteFunc(m.order, func(other string) bool { return other == id })
	m.Emit(formula.Event{Kind: formula.EventGlobalRemoved, SourceID: m.id, GlobalID: id})
	return nil
}
