package formula

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDataSetID = "DATA1"

// setAttrFormula registers formulaID as computing attrID from canonical
func setAttrFormula(t *testing.T, dg *DependencyGraph, formulaID, attrID, canonical string) {
	t.Helper()
	ast, err := ParseExpression(canonical)
	require.NoError(t, err)
	owner := AttrKey{DataSetID: testDataSetID, AttrID: attrID}
	dg.SetFormula(formulaID, testDataSetID, &owner, AnalyzeFormula(ast))
}

func local(attrID string) string {
	return LocalAttrIDToCanonical(attrID)
}

func key(attrID string) AttrKey {
	return AttrKey{DataSetID: testDataSetID, AttrID: attrID}
}

func TestDependencyGraphCycles(t *testing.T) {
	t.Run("two attribute cycle", func(t *testing.T) {
		dg := NewDependencyGraph()
		setAttrFormula(t, dg, "F_FOO", "foo", local("bar")+" + 1")
		setAttrFormula(t, dg, "F_BAR", "bar", local("foo")+" + 1")

		assert.Equal(t, []AttrKey{key("foo"), key("bar")}, dg.FindCycle("F_FOO"))
		assert.Equal(t, []AttrKey{key("bar"), key("foo")}, dg.FindCycle("F_BAR"))
		_, hasCycle := dg.GetCalculationOrder()
		assert.True(t, hasCycle)
	})

	t.Run("self reference", func(t *testing.T) {
		dg := NewDependencyGraph()
		setAttrFormula(t, dg, "F_A", "a", local("a")+" * 2")
		assert.Equal(t, []AttrKey{key("a")}, dg.FindCycle("F_A"))
	})

	t.Run("three attribute cycle with a tail", func(t *testing.T) {
		dg := NewDependencyGraph()
		setAttrFormula(t, dg, "F_A", "a", local("b"))
		setAttrFormula(t, dg, "F_B", "b", local("c"))
		setAttrFormula(t, dg, "F_C", "c", local("a"))
		setAttrFormula(t, dg, "F_D", "d", local("a"))

		assert.Equal(t, []AttrKey{key("a"), key("b"), key("c")}, dg.FindCycle("F_A"))
		// d reads the cycle but is not on it
		assert.Nil(t, dg.FindCycle("F_D"))
	})

	t.Run("breaking the cycle", func(t *testing.T) {
		dg := NewDependencyGraph()
		setAttrFormula(t, dg, "F_FOO", "foo", local("bar")+" + 1")
		setAttrFormula(t, dg, "F_BAR", "bar", local("foo")+" + 1")
		setAttrFormula(t, dg, "F_BAR", "bar", "2")

		assert.Nil(t, dg.FindCycle("F_FOO"))
		assert.Nil(t, dg.FindCycle("F_BAR"))
		_, hasCycle := dg.GetCalculationOrder()
		assert.False(t, hasCycle)
	})

	t.Run("lookups never close a cycle", func(t *testing.T) {
		dg := NewDependencyGraph()
		setAttrFormula(t, dg, "F_A", "a",
			`lookupByIndex("`+IDToCanonical(testDataSetID)+`", "`+IDToCanonical("a")+`", 1)`)
		assert.Nil(t, dg.FindCycle("F_A"))
	})
}

func TestDependencyGraphCalculationOrder(t *testing.T) {
	dg := NewDependencyGraph()
	setAttrFormula(t, dg, "F_C", "c", local("b")+" + "+local("a"))
	setAttrFormula(t, dg, "F_B", "b", local("a")+" * 2")
	setAttrFormula(t, dg, "F_A", "a", local("x")+" + 1")

	order, hasCycle := dg.GetCalculationOrder()
	assert.False(t, hasCycle)
	assert.Equal(t, []string{"F_A", "F_B", "F_C"}, order)

	readers := dg.FormulasReading(key("a"))
	assert.ElementsMatch(t, []string{"F_B", "F_C"}, readers)
	assert.ElementsMatch(t, []string{"F_A", "F_B", "F_C"}, dg.GetAllDependents(key("x")))
	assert.ElementsMatch(t, []string{"F_B", "F_C"}, dg.GetAllDependents(key("a")))
	assert.Empty(t, dg.GetAllDependents(key("c")))
}

func TestDependencyGraphDependentsOfACycle(t *testing.T) {
	dg := NewDependencyGraph()
	setAttrFormula(t, dg, "F_FOO", "foo", local("bar")+" + 1")
	setAttrFormula(t, dg, "F_BAR", "bar", local("foo")+" + 1")

	// bar still reads foo after foo stops reading bar
	assert.ElementsMatch(t, []string{"F_FOO", "F_BAR"}, dg.GetAllDependents(key("foo")))
	setAttrFormula(t, dg, "F_FOO", "foo", "1")
	assert.Equal(t, []string{"F_BAR"}, dg.GetAllDependents(key("foo")))
}

func TestDependencyGraphRemoveFormula(t *testing.T) {
	dg := NewDependencyGraph()
	setAttrFormula(t, dg, "F_B", "b", local("a")+" * 2")
	_, ok := dg.GetNode(key("a"))
	require.True(t, ok)

	owner, ok := dg.Owner("F_B")
	require.True(t, ok)
	assert.Equal(t, key("b"), owner)

	dg.RemoveFormula("F_B")
	_, ok = dg.Owner("F_B")
	assert.False(t, ok)
	_, ok = dg.GetNode(key("a"))
	assert.False(t, ok)
	_, ok = dg.GetNode(key("b"))
	assert.False(t, ok)
	assert.Empty(t, dg.FormulasReading(key("a")))
}

func TestDependencyGraphClear(t *testing.T) {
	dg := NewDependencyGraph()
	setAttrFormula(t, dg, "F_R", "r", "random() + "+local("a"))
	dg.Clear()

	_, ok := dg.Owner("F_R")
	assert.False(t, ok)
	assert.False(t, dg.IsRandom("F_R"))
	assert.Empty(t, dg.FormulasReading(key("a")))
	order, _ := dg.GetCalculationOrder()
	assert.Empty(t, order)
}

func TestDependencyGraphRandomAndHostedFormulas(t *testing.T) {
	dg := NewDependencyGraph()
	setAttrFormula(t, dg, "F_R", "r", "random()")

	ast, err := ParseExpression("mean(" + local("a") + ")")
	require.NoError(t, err)
	dg.SetFormula("F_PLOT", testDataSetID, nil, AnalyzeFormula(ast))

	assert.Equal(t, []string{"F_R"}, dg.RandomFormulas())
	assert.True(t, dg.IsRandom("F_R"))
	assert.False(t, dg.IsRandom("F_PLOT"))

	// a formula without an owner attribute has no node
	_, ok := dg.Owner("F_PLOT")
	assert.False(t, ok)
	assert.Equal(t, []Dependency{{Type: DependencyLocalAttribute, AttrID: "a"}}, dg.Dependencies("F_PLOT"))
}

func TestAnalyzeFormula(t *testing.T) {
	tests := []struct {
		name      string
		canonical string
		expected  FormulaAnalysis
	}{
		{
			name:      "local attributes are deduplicated",
			canonical: local("a") + " + " + local("a") + " * " + local("b"),
			expected: FormulaAnalysis{Dependencies: []Dependency{
				{Type: DependencyLocalAttribute, AttrID: "a"},
				{Type: DependencyLocalAttribute, AttrID: "b"},
			}},
		},
		{
			name:      "aggregate and global",
			canonical: "sum(" + local("a") + ") / " + GlobalValueIDToCanonical("G1"),
			expected: FormulaAnalysis{
				Dependencies: []Dependency{
					{Type: DependencyLocalAttribute, AttrID: "a"},
					{Type: DependencyGlobal, GlobalID: "G1"},
				},
				HasAggregate: true,
			},
		},
		{
			name:      "case index",
			canonical: local(CaseIndexAttrID) + " * 2",
			expected:  FormulaAnalysis{UsesCaseIndex: true},
		},
		{
			name: "lookup by key",
			canonical: `lookupByKey("` + IDToCanonical("DATA2") + `", "` + IDToCanonical("ATTR_V") + `", "` +
				IDToCanonical("ATTR_K") + `", ` + local("k") + `)`,
			expected: FormulaAnalysis{Dependencies: []Dependency{
				{Type: DependencyLookup, DataSetID: "DATA2", AttrID: "ATTR_V", KeyAttrID: "ATTR_K"},
				{Type: DependencyLocalAttribute, AttrID: "k"},
			}},
		},
		{
			name:      "random",
			canonical: "randomNormal(0, 1)",
			expected:  FormulaAnalysis{HasRandom: true},
		},
		{
			name:      "mean with two arguments is not an aggregate",
			canonical: "mean(1, 2)",
			expected:  FormulaAnalysis{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ast, err := ParseExpression(tt.canonical)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.expected, AnalyzeFormula(ast)); diff != "" {
				t.Errorf("analysis mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
