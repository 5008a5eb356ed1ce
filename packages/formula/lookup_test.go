package formula_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-formula/packages/dataset"
	"github.com/vogtb/go-formula/packages/formula"
)

type lookupFixture struct {
	local   *dataset.DataSet
	table   *dataset.DataSet
	items   []string
	globals *dataset.GlobalValueManager
}

func newLookupFixture(t *testing.T) *lookupFixture {
	t.Helper()
	f := &lookupFixture{
		local:   dataset.New("Local"),
		table:   dataset.New("Planets"),
		globals: dataset.NewGlobalValueManager(),
	}
	for _, name := range []string{"k", "n"} {
		_, err := f.local.AddAttribute(dataset.AttributeSpec{Name: name})
		require.NoError(t, err)
	}
	for _, name := range []string{"name", "moons", "blank"} {
		_, err := f.table.AddAttribute(dataset.AttributeSpec{Name: name})
		require.NoError(t, err)
	}
	f.table.AddCases(
		dataset.Case{Values: map[string]string{"name": "Mercury", "moons": "0"}},
		dataset.Case{Values: map[string]string{"name": "Earth", "moons": "1"}},
		dataset.Case{Values: map[string]string{"name": "Mars", "moons": "2"}},
	)
	f.items = f.local.AddCases(
		dataset.Case{Values: map[string]string{"k": "Earth", "n": "2"}},
		dataset.Case{Values: map[string]string{"k": "Pluto", "n": "7"}},
	)
	return f
}

// eval canonicalizes display against the fixture's names and evaluates it
// for the local case at index
func (f *lookupFixture) eval(t *testing.T, display string, index int) (formula.Value, error) {
	t.Helper()
	dataSets := []formula.DataSet{f.local, f.table}
	m := formula.BuildDisplayNameMap(formula.NameMapOptions{
		LocalDataSet:       f.local,
		DataSets:           dataSets,
		GlobalValueManager: f.globals,
	}, true)
	canonical, err := formula.Canonicalize(display, m)
	require.NoError(t, err)
	ast, err := formula.ParseExpression(canonical)
	require.NoError(t, err)

	s := formula.NewScope(formula.ScopeOptions{
		LocalDataSet:       f.local,
		DataSets:           map[string]formula.DataSet{f.local.ID(): f.local, f.table.ID(): f.table},
		GlobalValueManager: f.globals,
	})
	info, ok := f.local.CaseInfo(f.items[index])
	require.True(t, ok)
	s.SetCase(info)
	return ast.Eval(s)
}

func TestLookupByIndex(t *testing.T) {
	f := newLookupFixture(t)
	tests := []struct {
		display  string
		expected string
	}{
		{`lookupByIndex("Planets", "name", 1)`, "Mercury"},
		{`lookupByIndex("Planets", "name", n)`, "Earth"},
		{`lookupByIndex("Planets", "moons", 1 + 1) * 10`, "10"},
		{`lookupByIndex("Planets", "name", 0)`, ""},
		{`lookupByIndex("Planets", "name", 4)`, ""},
		{`lookupByIndex("Planets", "name", "two")`, ""},
		{`lookupByIndex("Planets", "blank", 1)`, ""},
		{`lookupByIndex("Planets", "name", 2.9)`, ""},
		{`lookupByIndex("Planets", "name", 1.5 + 0.5)`, "Earth"},
		{`lookupByIndex("Planets", "name", n / 4)`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.display, func(t *testing.T) {
			value, err := f.eval(t, tt.display, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, formula.FormatValue(value))
		})
	}
}

func TestLookupByKey(t *testing.T) {
	f := newLookupFixture(t)
	tests := []struct {
		display  string
		index    int
		expected string
	}{
		{`lookupByKey("Planets", "moons", "name", k)`, 0, "1"},
		{`lookupByKey("Planets", "moons", "name", k)`, 1, ""},
		{`lookupByKey("Planets", "name", "moons", 2)`, 0, "Mars"},
		{`lookupByKey("Planets", "name", "moons", "2")`, 0, "Mars"},
		{`lookupByKey("Planets", "blank", "name", "Earth")`, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.display, func(t *testing.T) {
			value, err := f.eval(t, tt.display, tt.index)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, formula.FormatValue(value))
		})
	}
}

func TestLookupErrors(t *testing.T) {
	f := newLookupFixture(t)
	tests := []struct {
		display string
		kind    formula.ErrorKind
		message string
	}{
		{
			`lookupByIndex(k, "name", 1)`,
			formula.ArgumentError, "lookupByIndex requires argument 1 to be a string constant",
		},
		{
			`lookupByIndex("Planets", k, 1)`,
			formula.ArgumentError, "lookupByIndex requires argument 2 to be a string constant",
		},
		{
			`lookupByKey("Planets", "name", k, 1)`,
			formula.ArgumentError, "lookupByKey requires argument 3 to be a string constant",
		},
		{
			`lookupByIndex("Nowhere", "name", 1)`,
			formula.LookupTargetError, "Unknown dataset: Nowhere",
		},
		{
			`lookupByIndex("Planets", "radius", 1)`,
			formula.LookupTargetError, "Unknown attribute radius in dataset Planets",
		},
		{
			`lookupByIndex("Planets", "name")`,
			formula.ArgumentError, "lookupByIndex expects 3 arguments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.display, func(t *testing.T) {
			_, err := f.eval(t, tt.display, 0)
			require.Error(t, err)
			var fe *formula.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.kind, fe.Kind)
			assert.Equal(t, tt.message, fe.Message)
		})
	}
}
