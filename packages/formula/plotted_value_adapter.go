package formula

import "math"

// PlottedValueFormulaAdapterType is the adapter type of plotted value
// graph annotations
const PlottedValueFormulaAdapterType = "PlottedValueFormulaAdapter"

// PlottedValueFormulaAdapter runs the formula of a graph's plotted value
// annotation once per category cell of the graph and stores each result as
// a measure of the annotation.
type PlottedValueFormulaAdapter struct {
	api AdapterAPI

	graphs     map[string]GraphContentModel
	graphOrder []string
	// graphs whose measures are re-added on their next recalculation
	resetPoints map[string]bool
}

func NewPlottedValueFormulaAdapter(api AdapterAPI) *PlottedValueFormulaAdapter {
	return &PlottedValueFormulaAdapter{
		api:         api,
		graphs:      make(map[string]GraphContentModel),
		resetPoints: make(map[string]bool),
	}
}

func (a *PlottedValueFormulaAdapter) Type() string {
	return PlottedValueFormulaAdapterType
}

// AddGraphContentModel makes a graph's plotted value formula live
func (a *PlottedValueFormulaAdapter) AddGraphContentModel(g GraphContentModel) {
	if _, exists := a.graphs[g.ID()]; !exists {
		a.graphOrder = append(a.graphOrder, g.ID())
	}
	a.graphs[g.ID()] = g
	a.api.RegisterAllFormulas()
}

func (a *PlottedValueFormulaAdapter) RemoveGraphContentModel(graphID string) {
	if _, exists := a.graphs[graphID]; !exists {
		return
	}
	delete(a.graphs, graphID)
	delete(a.resetPoints, graphID)
	for i, id := range a.graphOrder {
		if id == graphID {
			a.graphOrder = append(a.graphOrder[:i], a.graphOrder[i+1:]...)
			break
		}
	}
	a.api.RegisterAllFormulas()
}

func (a *PlottedValueFormulaAdapter) GraphContentModel(graphID string) (GraphContentModel, bool) {
	g, exists := a.graphs[graphID]
	return g, exists
}

func (a *PlottedValueFormulaAdapter) GetActiveFormulas() []ActiveFormula {
	var result []ActiveFormula
	for _, id := range a.graphOrder {
		g := a.graphs[id]
		pv, ds := g.PlottedValue(), g.DataSet()
		if pv == nil || ds == nil {
			continue
		}
		f := pv.Formula()
		if f == nil || f.Empty() {
			continue
		}
		result = append(result, ActiveFormula{
			Formula: f,
			ExtraMetadata: ExtraMetadata{
				Type:                PlottedValueFormulaAdapterType,
				DataSetID:           ds.ID(),
				GraphContentModelID: id,
			},
		})
	}
	return result
}

// RecalculateFormula recomputes every cell of the graph. the scope is
// ignored; a cell's value depends on all of its cases.
func (a *PlottedValueFormulaAdapter) RecalculateFormula(ctx *FormulaContext, meta ExtraMetadata, _ CaseScope) {
	logger := contextLogger(ctx)
	g, exists := a.graphs[meta.GraphContentModelID]
	if !exists {
		logger.Warn("graph content model not found", "graph", meta.GraphContentModelID)
		return
	}
	pv := g.PlottedValue()
	if pv == nil || ctx.Formula.Empty() {
		return
	}

	compiled, err := compiledFor(ctx)
	if err != nil {
		a.SetFormulaError(ctx, meta, ErrorText(err.Error()))
		return
	}
	pv.SetFormulaError("")

	reset := a.resetPoints[g.ID()]
	delete(a.resetPoints, g.ID())
	for _, cell := range g.SubPlotCells() {
		value := a.computeFormula(ctx, meta, compiled, cell.CaseIDs)
		if reset || !pv.HasMeasure(cell.InstanceKey) {
			pv.AddMeasure(value, cell.InstanceKey)
		} else {
			pv.UpdateMeasureValue(value, cell.InstanceKey)
		}
	}
}

// computeFormula evaluates the formula over the cases of one cell.
// aggregates range over exactly these cases; bare attribute references
// read the first of them.
func (a *PlottedValueFormulaAdapter) computeFormula(ctx *FormulaContext, meta ExtraMetadata,
	compiled *CompiledFormula, caseIDs []string) float64 {
	s := ctx.NewScope(append([]string{}, caseIDs...))
	if len(caseIDs) > 0 && ctx.DataSet != nil {
		info, ok := ctx.DataSet.CaseInfo(caseIDs[0])
		if !ok {
			info = CaseInfo{ID: caseIDs[0], Index: 1}
		}
		s.SetCase(info)
	}

	value, err := compiled.AST.Eval(s)
	if err != nil {
		contextLogger(ctx).Trace("evaluation failed", "formula", ctx.Formula.ID(), "error", err)
		a.SetFormulaError(ctx, meta, ErrorText(err.Error()))
		return math.NaN()
	}
	return toNumberOrNaN(value)
}

func (a *PlottedValueFormulaAdapter) SetFormulaError(_ *FormulaContext, meta ExtraMetadata, message string) {
	g, exists := a.graphs[meta.GraphContentModelID]
	if !exists {
		return
	}
	if pv := g.PlottedValue(); pv != nil {
		pv.SetFormulaError(message)
	}
}

// GetFormulaError has nothing to report before evaluation
func (a *PlottedValueFormulaAdapter) GetFormulaError(*FormulaContext, ExtraMetadata) string {
	return ""
}

// SetupFormulaObservers watches axis reassignment on the owning graph. the
// dataset is watched for renames and added attributes only, to keep names
// current.
func (a *PlottedValueFormulaAdapter) SetupFormulaObservers(ctx *FormulaContext, meta ExtraMetadata) func() {
	f := ctx.Formula
	formulaID := f.ID()
	var analysis FormulaAnalysis
	if ctx.Compiled != nil {
		analysis = ctx.Compiled.Analysis
	}

	var disposers []func()
	if g, exists := a.graphs[meta.GraphContentModelID]; exists {
		disposers = append(disposers, g.Subscribe(func(Event) {
			a.resetPoints[meta.GraphContentModelID] = true
			a.api.RecalculateFormulaByID(formulaID, AllCases)
		}, EventAxisAttributeChanged))
	}
	if ds := ctx.DataSet; ds != nil {
		disposers = append(disposers, ds.Subscribe(func(e Event) {
			if e.Kind == EventAttributeRenamed {
				f.UpdateDisplayFormula()
				return
			}
			a.api.RefreshFormula(formulaID)
		}, EventAttributeRenamed, EventAttributesAdded))
	}
	if globals := ctx.GlobalValueManager; globals != nil {
		disposers = append(disposers, globals.Subscribe(func(e Event) {
			if !analysis.DependsOnGlobal(e.GlobalID) {
				return
			}
			if e.Kind == EventGlobalRenamed {
				f.UpdateDisplayFormula()
				return
			}
			a.api.RecalculateFormulaByID(formulaID, AllCases)
		}, EventGlobalRenamed, EventGlobalValueChanged, EventGlobalRemoved))
	}

	return func() {
		for _, dispose := range disposers {
			dispose()
		}
	}
}
