package formula_test

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-formula/packages/dataset"
	"github.com/vogtb/go-formula/packages/formula"
	"github.com/vogtb/go-formula/packages/graph"
)

// EngineTestCase drives a manager with live datasets, globals and graphs
// and checks what ends up in them. steps stop after the first failure.
type EngineTestCase struct {
	t       *testing.T
	name    string
	manager *formula.Manager
	plotted *formula.PlottedValueFormulaAdapter
	globals *dataset.GlobalValueManager
	current *dataset.DataSet
	items   map[string][]string // dataset name -> item ids
	sets    map[string]*dataset.DataSet
	graph   *graph.ContentModel
	log     *bytes.Buffer
	saved   map[string]string // attribute id -> canonical text
	err     error
}

func NewEngineTestCase(t *testing.T, name string) *EngineTestCase {
	log := &bytes.Buffer{}
	cfg := formula.DefaultConfig()
	cfg.RandomSeed = 7
	manager := formula.NewManager(formula.ManagerOptions{
		Config: &cfg,
		Logger: hclog.New(&hclog.LoggerOptions{Name: "formula", Level: hclog.Debug, Output: log}),
	})
	tc := &EngineTestCase{
		t:       t,
		name:    name,
		manager: manager,
		plotted: formula.NewPlottedValueFormulaAdapter(manager),
		globals: dataset.NewGlobalValueManager(),
		items:   make(map[string][]string),
		sets:    make(map[string]*dataset.DataSet),
		log:     log,
		saved:   make(map[string]string),
	}
	tc.check(manager.RegisterAdapter(formula.NewAttributeFormulaAdapter(manager)), "RegisterAdapter")
	tc.check(manager.RegisterAdapter(tc.plotted), "RegisterAdapter")
	manager.SetGlobalValueManager(tc.globals)
	t.Cleanup(manager.Close)
	return tc
}

func (tc *EngineTestCase) check(err error, step string) {
	if err != nil && tc.err == nil {
		tc.err = err
		tc.t.Errorf("%s: %s failed: %v", tc.name, step, err)
	}
}

func (tc *EngineTestCase) ok() bool {
	return tc.err == nil
}

// DataSet creates a dataset, registers it and makes it current
func (tc *EngineTestCase) DataSet(name string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	ds := dataset.New(name)
	tc.sets[name] = ds
	tc.current = ds
	tc.check(tc.manager.AddDataSet(ds), "AddDataSet("+name+")")
	return tc
}

// Use makes an existing dataset current
func (tc *EngineTestCase) Use(name string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	ds, exists := tc.sets[name]
	if !exists {
		tc.check(formula.NewApplicationError(formula.NotFound, name), "Use")
		return tc
	}
	tc.current = ds
	return tc
}

// Attr adds an attribute to the current dataset; display may be empty
func (tc *EngineTestCase) Attr(name, display string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	_, err := tc.current.AddAttribute(dataset.AttributeSpec{Name: name, Formula: display})
	tc.check(err, "AddAttribute("+name+")")
	return tc
}

// Cases adds rows of name=value pairs, e.g. "a=1", "b=x"
func (tc *EngineTestCase) Cases(rows ...[]string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	cases := make([]dataset.Case, 0, len(rows))
	for _, row := range rows {
		values := make(map[string]string, len(row))
		for _, pair := range row {
			name, value, _ := strings.Cut(pair, "=")
			values[name] = value
		}
		cases = append(cases, dataset.Case{Values: values})
	}
	ids := tc.current.AddCases(cases...)
	tc.items[tc.current.Name()] = append(tc.items[tc.current.Name()], ids...)
	return tc
}

func row(pairs ...string) []string {
	return pairs
}

func (tc *EngineTestCase) attrID(name string) string {
	id := tc.current.AttrIDFromName(name)
	if id == "" {
		tc.check(formula.NewApplicationError(formula.NotFound, "attribute "+name), "attrID")
	}
	return id
}

func (tc *EngineTestCase) SetFormula(attr, display string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	tc.check(tc.current.SetAttributeFormula(tc.attrID(attr), display), "SetAttributeFormula("+attr+")")
	return tc
}

// SetValue edits the value of one item, counted from 0
func (tc *EngineTestCase) SetValue(item int, attr, value string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	itemID := tc.items[tc.current.Name()][item]
	tc.check(tc.current.SetValue(itemID, tc.attrID(attr), value), "SetValue("+attr+")")
	return tc
}

func (tc *EngineTestCase) RemoveItem(item int) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	name := tc.current.Name()
	itemID := tc.items[name][item]
	tc.current.RemoveCases(itemID)
	tc.items[name] = append(tc.items[name][:item:item], tc.items[name][item+1:]...)
	return tc
}

func (tc *EngineTestCase) Rename(attr, newName string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	tc.check(tc.current.RenameAttribute(tc.attrID(attr), newName), "RenameAttribute("+attr+")")
	return tc
}

func (tc *EngineTestCase) RemoveAttr(attr string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	tc.check(tc.current.RemoveAttribute(tc.attrID(attr)), "RemoveAttribute("+attr+")")
	return tc
}

func (tc *EngineTestCase) MoveToNewCollection(attr string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	_, err := tc.current.MoveAttributeToNewCollection(tc.attrID(attr))
	tc.check(err, "MoveAttributeToNewCollection("+attr+")")
	return tc
}

func (tc *EngineTestCase) Global(name string, value float64) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	_, err := tc.globals.Add(name, value)
	tc.check(err, "Global("+name+")")
	return tc
}

func (tc *EngineTestCase) SetGlobal(name string, value float64) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	g, exists := tc.globals.GlobalByName(name)
	if !exists {
		tc.check(formula.NewApplicationError(formula.NotFound, name), "SetGlobal")
		return tc
	}
	tc.check(tc.globals.SetValue(g.ID(), value), "SetGlobal("+name+")")
	return tc
}

func (tc *EngineTestCase) RenameGlobal(name, newName string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	g, exists := tc.globals.GlobalByName(name)
	if !exists {
		tc.check(formula.NewApplicationError(formula.NotFound, name), "RenameGlobal")
		return tc
	}
	tc.check(tc.globals.Rename(g.ID(), newName), "RenameGlobal("+name+")")
	return tc
}

// Graph plots the current dataset with a plotted value formula
func (tc *EngineTestCase) Graph(display string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	tc.graph = graph.New(tc.current)
	tc.graph.AddPlottedValue(display)
	tc.plotted.AddGraphContentModel(tc.graph)
	return tc
}

func (tc *EngineTestCase) Axis(place, attr string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	attrID := ""
	if attr != "" {
		attrID = tc.attrID(attr)
	}
	tc.check(tc.graph.SetAxisAttribute(place, attrID), "SetAxisAttribute("+place+")")
	return tc
}

// AssertValues checks the value of attr for every item of the current
// dataset, in order
func (tc *EngineTestCase) AssertValues(attr string, expected ...string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	attrID := tc.attrID(attr)
	var actual []string
	for _, itemID := range tc.items[tc.current.Name()] {
		actual = append(actual, tc.current.GetValue(itemID, attrID))
	}
	assert.Equal(tc.t, expected, actual, "%s: values of %s", tc.name, attr)
	return tc
}

// AssertAllValues checks that every item holds the same value
func (tc *EngineTestCase) AssertAllValues(attr, expected string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	values := make([]string, len(tc.items[tc.current.Name()]))
	for i := range values {
		values[i] = expected
	}
	return tc.AssertValues(attr, values...)
}

// AssertValueContains checks the value of one item for a substring
func (tc *EngineTestCase) AssertValueContains(item int, attr, substr string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	value := tc.current.GetValue(tc.items[tc.current.Name()][item], tc.attrID(attr))
	assert.Contains(tc.t, value, substr, "%s: value of %s", tc.name, attr)
	return tc
}

func (tc *EngineTestCase) AssertDisplay(attr, expected string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	a, _ := tc.current.Attribute(tc.attrID(attr))
	assert.Equal(tc.t, expected, a.Formula().Display(), "%s: display formula of %s", tc.name, attr)
	return tc
}

// SaveCanonical remembers the canonical text of attr for
// AssertCanonicalSaved; it is keyed by id so it survives renames
func (tc *EngineTestCase) SaveCanonical(attr string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	attrID := tc.attrID(attr)
	a, _ := tc.current.Attribute(attrID)
	require.NotEmpty(tc.t, a.Formula().Canonical(), "%s: canonical formula of %s", tc.name, attr)
	tc.saved[attrID] = a.Formula().Canonical()
	return tc
}

func (tc *EngineTestCase) AssertCanonicalSaved(attr string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	attrID := tc.attrID(attr)
	a, _ := tc.current.Attribute(attrID)
	assert.Equal(tc.t, tc.saved[attrID], a.Formula().Canonical(), "%s: canonical formula of %s", tc.name, attr)
	return tc
}

// AssertMeasures checks the plotted value per cell, keyed by the category
// of the split attribute ("" for an unsplit graph)
func (tc *EngineTestCase) AssertMeasures(split string, expected map[string]float64) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	adornment := tc.graph.Adornment()
	require.NotNil(tc.t, adornment)
	actual := make(map[string]float64)
	for _, cell := range tc.graph.SubPlotCells() {
		value, ok := adornment.Measure(cell.InstanceKey)
		assert.True(tc.t, ok, "%s: no measure for %s", tc.name, cell.InstanceKey)
		category := ""
		if split != "" {
			category = cell.Key[tc.attrID(split)]
		}
		actual[category] = value
	}
	assert.Equal(tc.t, expected, actual, "%s: measures", tc.name)
	return tc
}

func (tc *EngineTestCase) AssertPlottedError(substr string) *EngineTestCase {
	if !tc.ok() {
		return tc
	}
	if substr == "" {
		assert.Empty(tc.t, tc.graph.Adornment().FormulaError(), "%s: plotted value error", tc.name)
	} else {
		assert.Contains(tc.t, tc.graph.Adornment().FormulaError(), substr, "%s: plotted value error", tc.name)
	}
	return tc
}

func TestSimpleArithmetic(t *testing.T) {
	NewEngineTestCase(t, "constant formula").
		DataSet("Mammals").
		Attr("foo", "1 + 2").
		Cases(row(), row()).
		AssertAllValues("foo", "3")

	NewEngineTestCase(t, "formula added after cases").
		DataSet("Mammals").
		Attr("a", "").
		Cases(row("a=1"), row("a=2"), row("a=x")).
		Attr("double", "a * 2").
		AssertValues("double", "2", "4", "")

	NewEngineTestCase(t, "chained formulas").
		DataSet("Mammals").
		Attr("a", "").
		Attr("b", "a + 1").
		Attr("c", "b * 10").
		Cases(row("a=1"), row("a=5")).
		AssertValues("c", "20", "60").
		SetValue(0, "a", "2").
		AssertValues("b", "3", "6").
		AssertValues("c", "30", "60")
}

func TestFormulaEdits(t *testing.T) {
	NewEngineTestCase(t, "replacing a formula").
		DataSet("Mammals").
		Attr("a", "").
		Attr("foo", "a + 1").
		Cases(row("a=1"), row("a=2")).
		AssertValues("foo", "2", "3").
		SetFormula("foo", "a * 100").
		AssertValues("foo", "100", "200")

	NewEngineTestCase(t, "syntax error").
		DataSet("Mammals").
		Attr("foo", "1 +").
		Cases(row()).
		AssertValues("foo", "❌ Unexpected end of expression")

	NewEngineTestCase(t, "undefined symbol with a suggestion").
		DataSet("Mammals").
		Attr("speed", "").
		Attr("foo", "sped * 2").
		Cases(row("speed=3")).
		AssertValues("foo", "❌ Undefined symbol sped. Did you mean speed?")

	NewEngineTestCase(t, "attribute added later resolves").
		DataSet("Mammals").
		Attr("foo", "bar * 2").
		Cases(row()).
		AssertValueContains(0, "foo", "Undefined symbol bar").
		Attr("bar", "").
		SetValue(0, "bar", "4").
		AssertValues("foo", "8")

	NewEngineTestCase(t, "division by zero").
		DataSet("Mammals").
		Attr("a", "").
		Attr("foo", "10 / a").
		Cases(row("a=2"), row("a=0"), row("a=-1")).
		AssertValues("foo", "5", "Infinity", "-10").
		SetFormula("foo", "0 / a").
		AssertValues("foo", "0", "", "0")
}

func TestSetFormulaErrorWritesMessage(t *testing.T) {
	tc := NewEngineTestCase(t, "set formula error").
		DataSet("Mammals").
		Attr("foo", "1 + 2").
		Cases(row(), row())

	attr, _ := tc.current.AttrFromName("foo")
	meta, ok := tc.manager.FormulaExtraMetadata(attr.Formula().ID())
	require.True(t, ok)
	ctx, ok := tc.manager.FormulaContext(attr.Formula().ID())
	require.True(t, ok)

	require.NoError(t, tc.manager.SetFormulaError(ctx, meta, "test error"))
	tc.AssertAllValues("foo", "test error")

	// the error does not stick; the next recalculation replaces it
	require.NoError(t, tc.manager.RecalculateFormula(ctx, meta, formula.AllCases))
	tc.AssertAllValues("foo", "3")
}

func TestManagerRejectsBadRequests(t *testing.T) {
	tc := NewEngineTestCase(t, "bad requests").
		DataSet("Mammals").
		Attr("foo", "1")
	attr, _ := tc.current.AttrFromName("foo")
	ctx, ok := tc.manager.FormulaContext(attr.Formula().ID())
	require.True(t, ok)

	var appErr *formula.AppError
	err := tc.manager.RecalculateFormula(ctx, formula.ExtraMetadata{}, formula.AllCases)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, formula.InvalidArgument, appErr.Code)

	err = tc.manager.SetFormulaError(ctx, formula.ExtraMetadata{Type: "NoSuchAdapter"}, "x")
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, formula.NotFound, appErr.Code)

	_, err = tc.manager.GetFormulaError(nil, formula.ExtraMetadata{Type: formula.AttributeFormulaAdapterType})
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, formula.InvalidArgument, appErr.Code)

	err = tc.manager.RegisterAdapter(formula.NewAttributeFormulaAdapter(tc.manager))
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, formula.AlreadyExists, appErr.Code)

	err = tc.manager.AddDataSet(tc.current)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, formula.AlreadyExists, appErr.Code)

	err = tc.manager.RemoveDataSet("DATAnope")
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, formula.NotFound, appErr.Code)
}

func TestCircularReferences(t *testing.T) {
	tc := NewEngineTestCase(t, "two attribute cycle").
		DataSet("Mammals").
		Attr("foo", "bar + 1").
		Attr("bar", "foo + 1").
		Cases(row(), row()).
		AssertValueContains(0, "foo", "Circular reference").
		AssertValueContains(1, "bar", "Circular reference").
		AssertValues("foo", "❌ Circular reference involving foo, bar", "❌ Circular reference involving foo, bar")

	attr, _ := tc.current.AttrFromName("foo")
	meta, _ := tc.manager.FormulaExtraMetadata(attr.Formula().ID())
	ctx, _ := tc.manager.FormulaContext(attr.Formula().ID())
	message, err := tc.manager.GetFormulaError(ctx, meta)
	require.NoError(t, err)
	assert.True(t, formula.IsErrorText(message))
	assert.Contains(t, message, "Circular reference")

	// breaking the cycle frees both attributes
	tc.SetFormula("bar", "2").
		AssertAllValues("bar", "2").
		AssertAllValues("foo", "3")

	NewEngineTestCase(t, "self reference").
		DataSet("Mammals").
		Attr("a", "a + 1").
		Cases(row()).
		AssertValues("a", "❌ Circular reference involving a")

	NewEngineTestCase(t, "cycle created by an edit").
		DataSet("Mammals").
		Attr("a", "1").
		Attr("b", "a * 2").
		Cases(row()).
		AssertValues("b", "2").
		SetFormula("a", "b + 1").
		AssertValueContains(0, "a", "Circular reference").
		AssertValueContains(0, "b", "Circular reference")

	NewEngineTestCase(t, "breaking a three attribute cycle").
		DataSet("Mammals").
		Attr("a", "c + 1").
		Attr("b", "a + 1").
		Attr("c", "b + 1").
		Cases(row()).
		AssertValueContains(0, "a", "Circular reference").
		SetFormula("c", "10").
		AssertValues("c", "10").
		AssertValues("a", "11").
		AssertValues("b", "12")
}

func TestStructuralChanges(t *testing.T) {
	NewEngineTestCase(t, "formula attribute moved to a new collection").
		DataSet("Mammals").
		Attr("a", "").
		Attr("foo", "1 + 2").
		Cases(row("a=1"), row("a=2")).
		AssertAllValues("foo", "3").
		MoveToNewCollection("foo").
		AssertAllValues("foo", "3")

	NewEngineTestCase(t, "unrelated attribute moved to a new collection").
		DataSet("Mammals").
		Attr("a", "").
		Attr("bar", "").
		Attr("foo", "1 + 2").
		Cases(row("a=1", "bar=x"), row("a=2", "bar=y")).
		AssertAllValues("foo", "3").
		SaveCanonical("foo").
		MoveToNewCollection("bar").
		AssertAllValues("foo", "3").
		AssertCanonicalSaved("foo").
		AssertDisplay("foo", "1 + 2")

	NewEngineTestCase(t, "aggregates follow the parent grouping").
		DataSet("Mammals").
		Attr("group", "").
		Attr("v", "").
		Attr("avg", "mean(v)").
		Cases(row("group=a", "v=1"), row("group=a", "v=3"), row("group=b", "v=10")).
		AssertAllValues("avg", "4.66666666666667").
		MoveToNewCollection("group").
		AssertValues("avg", "2", "2", "10")

	NewEngineTestCase(t, "aggregate in a parent collection").
		DataSet("Mammals").
		Attr("group", "").
		Attr("v", "").
		Cases(row("group=a", "v=1"), row("group=a", "v=3"), row("group=b", "v=10")).
		MoveToNewCollection("group").
		Attr("total", "sum(v)").
		MoveToNewCollection("total").
		AssertValues("total", "14", "14", "14")

	NewEngineTestCase(t, "case index").
		DataSet("Mammals").
		Attr("a", "").
		Attr("idx", "caseIndex").
		Cases(row("a=x"), row("a=y"), row("a=z")).
		AssertValues("idx", "1", "2", "3").
		RemoveItem(0).
		AssertValues("idx", "1", "2")

	NewEngineTestCase(t, "cases added to an aggregate").
		DataSet("Mammals").
		Attr("v", "").
		Attr("total", "sum(v)").
		Cases(row("v=1"), row("v=2")).
		AssertAllValues("total", "3").
		Cases(row("v=4")).
		AssertAllValues("total", "7").
		RemoveItem(0).
		AssertAllValues("total", "6")

	NewEngineTestCase(t, "removing a referenced attribute").
		DataSet("Mammals").
		Attr("a", "").
		Attr("foo", "a + 1").
		Cases(row("a=1")).
		AssertValues("foo", "2").
		RemoveAttr("a").
		AssertValueContains(0, "foo", "Undefined symbol")
}

func TestRenames(t *testing.T) {
	NewEngineTestCase(t, "attribute rename updates display text").
		DataSet("Mammals").
		Attr("x", "").
		Attr("foo", "2 * x").
		Cases(row("x=4")).
		AssertValues("foo", "8").
		SaveCanonical("foo").
		Rename("x", "y").
		AssertDisplay("foo", "2 * y").
		AssertCanonicalSaved("foo").
		AssertValues("foo", "8").
		Rename("y", "top speed").
		AssertDisplay("foo", "2 * `top speed`").
		AssertCanonicalSaved("foo").
		SetValue(0, "top speed", "5").
		AssertValues("foo", "10")

	NewEngineTestCase(t, "rename onto a reserved name keeps the reference").
		DataSet("Mammals").
		Attr("x", "").
		Attr("foo", "2 * x").
		Cases(row("x=10"), row("x=20")).
		AssertValues("foo", "20", "40").
		SaveCanonical("foo").
		Rename("x", "caseIndex").
		AssertCanonicalSaved("foo").
		AssertValues("foo", "20", "40").
		Rename("caseIndex", "x").
		AssertDisplay("foo", "2 * x").
		AssertCanonicalSaved("foo").
		SetValue(0, "x", "1").
		AssertValues("foo", "2", "40")

	NewEngineTestCase(t, "rename onto a name that collides once sanitized").
		DataSet("Mammals").
		Attr("x", "").
		Attr("a_b", "").
		Attr("foo", "2 * x").
		Cases(row("x=1", "a_b=100")).
		AssertValues("foo", "2").
		SaveCanonical("foo").
		Rename("x", "a b").
		AssertCanonicalSaved("foo").
		AssertDisplay("foo", "2 * `a b`").
		AssertValues("foo", "2").
		SetValue(0, "a b", "5").
		AssertValues("foo", "10").
		SetValue(0, "a_b", "7").
		AssertValues("foo", "10")

	NewEngineTestCase(t, "global rename and value change").
		Global("slider", 3).
		DataSet("Mammals").
		Attr("a", "").
		Attr("foo", "a * slider").
		Cases(row("a=2")).
		AssertValues("foo", "6").
		SetGlobal("slider", 10).
		AssertValues("foo", "20").
		SaveCanonical("foo").
		RenameGlobal("slider", "scale").
		AssertDisplay("foo", "a * scale").
		AssertCanonicalSaved("foo").
		AssertValues("foo", "20")

	NewEngineTestCase(t, "new name matching an old spelling is not picked up").
		DataSet("Mammals").
		Attr("x", "").
		Attr("foo", "x + 1").
		Cases(row("x=1")).
		SaveCanonical("foo").
		Rename("x", "y").
		Attr("x", "").
		SetValue(0, "x", "50").
		AssertCanonicalSaved("foo").
		AssertDisplay("foo", "y + 1").
		AssertValues("foo", "2")
}

func TestLookupFormulas(t *testing.T) {
	NewEngineTestCase(t, "lookups follow the target dataset").
		DataSet("Planets").
		Attr("name", "").
		Attr("moons", "").
		Cases(row("name=Mercury", "moons=0"), row("name=Earth", "moons=1")).
		DataSet("Local").
		Attr("k", "").
		Attr("byIndex", `lookupByIndex("Planets", "name", 2)`).
		Attr("byKey", `lookupByKey("Planets", "moons", "name", k)`).
		Attr("outOfRange", `lookupByIndex("Planets", "name", 99)`).
		Attr("literal", `lookupByIndex(k, "name", 1)`).
		Cases(row("k=Earth"), row("k=Pluto")).
		AssertAllValues("byIndex", "Earth").
		AssertValues("byKey", "1", "").
		AssertAllValues("outOfRange", "").
		AssertAllValues("literal", "❌ lookupByIndex requires argument 1 to be a string constant").
		Use("Planets").
		SetValue(1, "moons", "3").
		SetValue(1, "name", "Terra").
		Use("Local").
		AssertAllValues("byIndex", "Terra").
		AssertValues("byKey", "", "")

	NewEngineTestCase(t, "lookup target renamed").
		DataSet("Planets").
		Attr("name", "").
		Cases(row("name=Mercury")).
		DataSet("Local").
		Attr("first", `lookupByIndex("Planets", "name", 1)`).
		Cases(row()).
		AssertValues("first", "Mercury").
		Use("Planets").
		Rename("name", "title").
		Use("Local").
		AssertDisplay("first", `lookupByIndex("Planets", "title", 1)`).
		AssertValues("first", "Mercury")

	NewEngineTestCase(t, "lookup dataset added later").
		DataSet("Local").
		Attr("first", `lookupByIndex("Planets", "name", 1)`).
		Cases(row()).
		AssertValues("first", "❌ Unknown dataset: Planets").
		DataSet("Planets").
		Attr("name", "").
		Cases(row("name=Venus")).
		Use("Local").
		AssertValues("first", "Venus")
}

func TestRandomFormulas(t *testing.T) {
	tc := NewEngineTestCase(t, "random").
		DataSet("Mammals").
		Attr("r", "random()").
		Cases(row(), row())

	before := tc.current.Values(tc.attrID("r"))
	for _, value := range before {
		assert.NotEmpty(t, value)
	}
	tc.manager.RerandomizeAll()
	after := tc.current.Values(tc.attrID("r"))
	assert.NotEqual(t, before, after)

	tc.Attr("c", "1 + 1")
	c, _ := tc.current.AttrFromName("c")
	tc.log.Reset()
	c.Formula().Rerandomize()
	assert.NotContains(t, tc.log.String(), "recalculating formula")

	r, _ := tc.current.AttrFromName("r")
	r.Formula().Rerandomize()
	assert.Contains(t, tc.log.String(), "recalculating formula")
	assert.NotEqual(t, after, tc.current.Values(tc.attrID("r")))
}

func TestPlottedValue(t *testing.T) {
	NewEngineTestCase(t, "single cell").
		DataSet("Mammals").
		Attr("v", "").
		Cases(row("v=1"), row("v=2"), row("v=6")).
		Graph("mean(v)").
		AssertMeasures("", map[string]float64{"": 3}).
		AssertPlottedError("")

	NewEngineTestCase(t, "one value per cell").
		DataSet("Mammals").
		Attr("diet", "").
		Attr("v", "").
		Cases(row("diet=plants", "v=1"), row("diet=meat", "v=10"), row("diet=plants", "v=3")).
		Graph("mean(v)").
		AssertMeasures("", map[string]float64{"": 14.0 / 3}).
		Axis(graph.AxisX, "diet").
		AssertMeasures("diet", map[string]float64{"plants": 2, "meat": 10}).
		Axis(graph.AxisX, "v").
		AssertMeasures("", map[string]float64{"": 14.0 / 3})

	NewEngineTestCase(t, "globals and renames").
		Global("offset", 100).
		DataSet("Mammals").
		Attr("v", "").
		Cases(row("v=1"), row("v=3")).
		Graph("max(v) + offset").
		AssertMeasures("", map[string]float64{"": 103}).
		SetGlobal("offset", 0).
		AssertMeasures("", map[string]float64{"": 3}).
		Rename("v", "value")

	tc := NewEngineTestCase(t, "evaluation error").
		DataSet("Mammals").
		Attr("v", "").
		Cases(row("v=1")).
		Graph("nosuch(v)").
		AssertPlottedError("Unknown function nosuch")
	for _, value := range tc.graph.Adornment().Measures() {
		assert.True(t, math.IsNaN(value))
	}
}

func TestPlottedValueFollowsRenames(t *testing.T) {
	tc := NewEngineTestCase(t, "plotted value rename").
		DataSet("Mammals").
		Attr("v", "").
		Cases(row("v=2")).
		Graph("mean(v) * 2").
		Rename("v", "value")
	assert.Equal(t, "mean(value) * 2", tc.graph.Adornment().Formula().Display())
	tc.AssertMeasures("", map[string]float64{"": 4})
}

func TestRemovingFormulaOwners(t *testing.T) {
	tc := NewEngineTestCase(t, "dataset removal").
		DataSet("Planets").
		Attr("name", "").
		Cases(row("name=Mercury")).
		DataSet("Local").
		Attr("first", `lookupByIndex("Planets", "name", 1)`).
		Cases(row()).
		AssertValues("first", "Mercury")

	require.NoError(t, tc.manager.RemoveDataSet(tc.sets["Planets"].ID()))
	tc.AssertValueContains(0, "first", "Unknown dataset")
	assert.Len(t, tc.manager.GetAllFormulas(), 1)

	tc.SetFormula("first", "")
	assert.Empty(t, tc.manager.GetAllFormulas())
	// an attribute whose formula was cleared keeps its last values
	tc.AssertValueContains(0, "first", "Unknown dataset")
}

func TestRecalculateAll(t *testing.T) {
	tc := NewEngineTestCase(t, "recalculate all").
		DataSet("Mammals").
		Attr("a", "").
		Attr("b", "a + 1").
		Cases(row("a=1"))
	require.NoError(t, tc.manager.RecalculateAll())
	tc.AssertValues("b", "2")
	assert.Contains(t, tc.log.String(), "registered formula")
}
