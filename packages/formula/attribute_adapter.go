package formula

import (
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// AttributeFormulaAdapterType is the adapter type of attribute formulas
const AttributeFormulaAdapterType = "AttributeFormulaAdapter"

// AttributeFormulaAdapter runs formulas of computed attributes. results and
// errors are written into the attribute's own case values, so a formula
// attribute has no independently editable value.
type AttributeFormulaAdapter struct {
	api AdapterAPI
}

func NewAttributeFormulaAdapter(api AdapterAPI) *AttributeFormulaAdapter {
	return &AttributeFormulaAdapter{api: api}
}

func (a *AttributeFormulaAdapter) Type() string {
	return AttributeFormulaAdapterType
}

// GetActiveFormulas returns the formula of every attribute, in every
// dataset, that has a non-empty one
func (a *AttributeFormulaAdapter) GetActiveFormulas() []ActiveFormula {
	dataSets := a.api.DataSets()
	ids := make([]string, 0, len(dataSets))
	for id := range dataSets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var result []ActiveFormula
	for _, id := range ids {
		for _, attr := range dataSets[id].Attributes() {
			f := attr.Formula()
			if f == nil || f.Empty() {
				continue
			}
			result = append(result, ActiveFormula{
				Formula: f,
				ExtraMetadata: ExtraMetadata{
					Type:        AttributeFormulaAdapterType,
					DataSetID:   id,
					AttributeID: attr.ID(),
				},
			})
		}
	}
	return result
}

// RecalculateFormula evaluates the formula for the cases in scope and
// stores the results. a cyclic formula is not evaluated at all.
func (a *AttributeFormulaAdapter) RecalculateFormula(ctx *FormulaContext, meta ExtraMetadata, scope CaseScope) {
	ds := ctx.DataSet
	logger := contextLogger(ctx)
	if ds == nil {
		logger.Debug("dataset of formula not found", "dataset", meta.DataSetID)
		return
	}
	f := ctx.Formula
	if f.Empty() {
		return
	}

	if message := a.GetFormulaError(ctx, meta); message != "" {
		a.SetFormulaError(ctx, meta, message)
		return
	}

	cases := ds.CasesForAttribute(meta.AttributeID)
	if !scope.All {
		selected := cases[:0:0]
		for _, info := range cases {
			if scope.Includes(info.ID) {
				selected = append(selected, info)
			}
		}
		cases = selected
	}
	if len(cases) == 0 {
		return
	}

	write := func(text func(CaseInfo) string) {
		values := make([]CaseValue, 0, len(cases))
		for _, info := range cases {
			values = append(values, CaseValue{CaseID: info.ID, AttrID: meta.AttributeID, Value: text(info)})
		}
		ds.SetCaseValues(meta.AttributeID, values)
	}

	compiled, err := compiledFor(ctx)
	if err != nil {
		message := ErrorText(err.Error())
		write(func(CaseInfo) string { return message })
		return
	}

	s := ctx.NewScope(nil)
	write(func(info CaseInfo) string {
		s.SetCase(info)
		value, err := compiled.AST.Eval(s)
		if err != nil {
			logger.Trace("evaluation failed", "formula", f.ID(), "case", info.ID, "error", err)
			return ErrorText(err.Error())
		}
		return FormatValue(value)
	})
}

// SetFormulaError writes message, as given, into every case of the
// attribute
func (a *AttributeFormulaAdapter) SetFormulaError(ctx *FormulaContext, meta ExtraMetadata, message string) {
	ds := ctx.DataSet
	if ds == nil {
		return
	}
	cases := ds.CasesForAttribute(meta.AttributeID)
	values := make([]CaseValue, 0, len(cases))
	for _, info := range cases {
		values = append(values, CaseValue{CaseID: info.ID, AttrID: meta.AttributeID, Value: message})
	}
	ds.SetCaseValues(meta.AttributeID, values)
}

// GetFormulaError reports a dependency cycle through the attribute
func (a *AttributeFormulaAdapter) GetFormulaError(ctx *FormulaContext, meta ExtraMetadata) string {
	ds := ctx.DataSet
	if ds == nil {
		return ""
	}
	cycle := a.cycle(ctx, meta)
	if len(cycle) == 0 {
		return ""
	}
	names := make([]string, 0, len(cycle))
	for _, key := range cycle {
		if attr, ok := ds.AttrFromID(key.AttrID); ok {
			names = append(names, attr.Name())
		} else {
			names = append(names, key.AttrID)
		}
	}
	err := newErrorf(CircularReferenceError, "Circular reference involving %s", strings.Join(names, ", "))
	return ErrorText(err.Error())
}

// cycle finds a cycle through the formula's attribute. registered formulas
// use the manager's graph; otherwise one is built from the dataset.
func (a *AttributeFormulaAdapter) cycle(ctx *FormulaContext, meta ExtraMetadata) []AttrKey {
	if graph := a.api.DependencyGraph(); graph != nil {
		if _, registered := graph.Owner(ctx.Formula.ID()); registered {
			return graph.FindCycle(ctx.Formula.ID())
		}
	}

	graph := NewDependencyGraph()
	for _, attr := range ctx.DataSet.Attributes() {
		f := attr.Formula()
		if f == nil || f.Canonical() == "" {
			continue
		}
		ast, err := ParseExpression(f.Canonical())
		if err != nil {
			continue
		}
		owner := AttrKey{DataSetID: meta.DataSetID, AttrID: attr.ID()}
		graph.SetFormula(f.ID(), meta.DataSetID, &owner, AnalyzeFormula(ast))
	}
	return graph.FindCycle(ctx.Formula.ID())
}

// SetupFormulaObservers subscribes to the local dataset, to every dataset
// the formula looks up into, and to global values
func (a *AttributeFormulaAdapter) SetupFormulaObservers(ctx *FormulaContext, meta ExtraMetadata) func() {
	f := ctx.Formula
	formulaID := f.ID()
	var analysis FormulaAnalysis
	if ctx.Compiled != nil {
		analysis = ctx.Compiled.Analysis
	}
	recalculate := func(scope CaseScope) {
		a.api.RecalculateFormulaByID(formulaID, scope)
	}
	renamed := f.UpdateDisplayFormula
	added := func() {
		a.api.RefreshFormula(formulaID)
	}

	var disposers []func()
	if ds := ctx.DataSet; ds != nil {
		disposers = append(disposers, ds.Subscribe(func(e Event) {
			a.onLocalEvent(e, ds, meta, analysis, recalculate, renamed, added)
		}))
	}

	for _, dataSetID := range analysis.LookupDataSetIDs() {
		if dataSetID == meta.DataSetID {
			continue
		}
		target, ok := ctx.DataSets[dataSetID]
		if !ok {
			continue
		}
		disposers = append(disposers, target.Subscribe(func(e Event) {
			switch e.Kind {
			case EventAttributeRenamed, EventDataSetRenamed:
				renamed()
			case EventAttributesAdded:
				added()
			default:
				recalculate(AllCases)
			}
		}, EventValuesChanged, EventCasesAdded, EventCasesRemoved, EventAttributesAdded,
			EventAttributesRemoved, EventAttributeRenamed, EventDataSetRenamed))
	}

	if globals := ctx.GlobalValueManager; globals != nil {
		disposers = append(disposers, globals.Subscribe(func(e Event) {
			switch e.Kind {
			case EventGlobalRenamed:
				if analysis.DependsOnGlobal(e.GlobalID) {
					renamed()
				}
			case EventGlobalValueChanged, EventGlobalRemoved:
				if analysis.DependsOnGlobal(e.GlobalID) {
					recalculate(AllCases)
				}
			}
		}, EventGlobalRenamed, EventGlobalValueChanged, EventGlobalRemoved))
	}

	return func() {
		for _, dispose := range disposers {
			dispose()
		}
	}
}

func (a *AttributeFormulaAdapter) onLocalEvent(e Event, ds DataSet, meta ExtraMetadata, analysis FormulaAnalysis,
	recalculate func(CaseScope), renamed, added func()) {
	switch e.Kind {
	case EventAttributeMoved, EventCollectionsChanged, EventAttributesRemoved:
		// case grouping, indexes and aggregates may all differ
		recalculate(AllCases)

	case EventAttributesAdded:
		added()

	case EventAttributeRenamed:
		renamed()

	case EventCasesAdded:
		if analysis.HasAggregate || analysis.UsesCaseIndex || readsLookupInto(analysis, meta.DataSetID) ||
			!allCasesOf(ds, meta.AttributeID, e.CaseIDs) {
			recalculate(AllCases)
			return
		}
		recalculate(Cases(e.CaseIDs...))

	case EventCasesRemoved:
		if analysis.HasAggregate || analysis.UsesCaseIndex || readsLookupInto(analysis, meta.DataSetID) {
			recalculate(AllCases)
		}

	case EventValuesChanged:
		// writes of this formula's own results
		if e.Origin == meta.AttributeID {
			return
		}
		if readsLookupAttr(analysis, meta.DataSetID, e.AttrIDs) {
			recalculate(AllCases)
			return
		}
		if !readsAny(analysis, e) {
			return
		}
		if analysis.HasAggregate || !allCasesOf(ds, meta.AttributeID, e.CaseIDs) {
			recalculate(AllCases)
			return
		}
		recalculate(Cases(e.CaseIDs...))
	}
}

// readsAny reports whether the formula reads one of the local attributes
// the event names
func readsAny(analysis FormulaAnalysis, e Event) bool {
	for _, id := range analysis.LocalAttrIDs() {
		if e.HasAttr(id) {
			return true
		}
	}
	return false
}

func readsLookupInto(analysis FormulaAnalysis, dataSetID string) bool {
	for _, id := range analysis.LookupDataSetIDs() {
		if id == dataSetID {
			return true
		}
	}
	return false
}

func readsLookupAttr(analysis FormulaAnalysis, dataSetID string, attrIDs []string) bool {
	for _, dep := range analysis.Dependencies {
		if dep.Type != DependencyLookup || dep.DataSetID != dataSetID {
			continue
		}
		for _, changed := range attrIDs {
			if changed == dep.AttrID || changed == dep.KeyAttrID {
				return true
			}
		}
	}
	return false
}

// allCasesOf reports whether every case id belongs to the collection of the
// attribute, i.e. a targeted recalculation of exactly those cases is enough
func allCasesOf(ds DataSet, attrID string, caseIDs []string) bool {
	if len(caseIDs) == 0 {
		return false
	}
	own := make(map[string]struct{})
	for _, info := range ds.CasesForAttribute(attrID) {
		own[info.ID] = struct{}{}
	}
	for _, id := range caseIDs {
		if _, ok := own[id]; !ok {
			return false
		}
	}
	return true
}

// compiledFor returns the compiled canonical formula of a context. a
// formula that was never registered is canonicalized against the context's
// names on the fly.
func compiledFor(ctx *FormulaContext) (*CompiledFormula, error) {
	f := ctx.Formula
	if syntax := f.SyntaxError(); syntax != "" {
		return nil, NewError(SyntaxError, syntax)
	}
	canonical := f.Canonical()
	if ctx.Compiled != nil && ctx.Compiled.Canonical == canonical && canonical != "" {
		return ctx.Compiled, nil
	}
	if canonical == "" {
		ids := make([]string, 0, len(ctx.DataSets))
		for id := range ctx.DataSets {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		dataSets := make([]DataSet, 0, len(ids))
		for _, id := range ids {
			dataSets = append(dataSets, ctx.DataSets[id])
		}
		m := BuildDisplayNameMap(NameMapOptions{
			LocalDataSet:       ctx.DataSet,
			DataSets:           dataSets,
			GlobalValueManager: ctx.GlobalValueManager,
		}, true)
		var err error
		if canonical, err = Canonicalize(f.Display(), m); err != nil {
			return nil, err
		}
	}
	ast, err := ParseExpression(canonical)
	if err != nil {
		return nil, err
	}
	return &CompiledFormula{Canonical: canonical, AST: ast, Analysis: AnalyzeFormula(ast)}, nil
}

func contextLogger(ctx *FormulaContext) hclog.Logger {
	if ctx.Logger != nil {
		return ctx.Logger
	}
	return hclog.NewNullLogger()
}
