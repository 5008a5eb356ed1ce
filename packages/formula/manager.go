package formula

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Manager is the orchestrator of the engine. it discovers every live formula
// through the registered adapters, keeps canonical text and dependencies
// current, and drives recalculation when the document changes.
//
// the manager is not safe for concurrent use. every notification it reacts
// to is delivered synchronously inside the mutation that caused it.
type Manager struct {
	config  Config
	logger  hclog.Logger
	library *Library

	adapters     map[string]Adapter
	adapterOrder []string

	formulas map[string]*formulaEntry // formula id -> registration

	dataSets        map[string]DataSet
	dataSetOrder    []string
	dataSetDisposer map[string]func()
	globals         GlobalValueManager
	globalsDisposer func()

	graph *DependencyGraph
	table *FormulaTable
	stack *CalculationStack

	registering bool
	reregister  bool
}

type formulaEntry struct {
	formula *Formula
	meta    ExtraMetadata
	adapter Adapter
	dispose func()
}

// owner returns the attribute the formula computes, if any
func (e *formulaEntry) owner() *AttrKey {
	if e.meta.AttributeID == "" {
		return nil
	}
	return &AttrKey{DataSetID: e.meta.DataSetID, AttrID: e.meta.AttributeID}
}

// ManagerOptions configures a Manager. every field is optional.
type ManagerOptions struct {
	Config  *Config
	Logger  hclog.Logger
	Library *Library
}

// NewManager creates a manager with no adapters and no datasets
func NewManager(opts ManagerOptions) *Manager {
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if cfg.MaxRecalcDepth <= 0 {
		cfg.MaxRecalcDepth = DefaultMaxRecalcDepth
	}

	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.DebugFormulas {
		logger.SetLevel(hclog.Trace)
	}

	library := opts.Library
	if library == nil {
		library = NewLibrary(NewRandomGenerator(cfg.RandomSeed))
	}

	return &Manager{
		config:          cfg,
		logger:          logger,
		library:         library,
		adapters:        make(map[string]Adapter),
		formulas:        make(map[string]*formulaEntry),
		dataSets:        make(map[string]DataSet),
		dataSetDisposer: make(map[string]func()),
		graph:           NewDependencyGraph(),
		table:           NewFormulaTable(),
		stack:           NewCalculationStack(),
	}
}

// RegisterAdapter adds an adapter. adapters are looked up by their type.
func (m *Manager) RegisterAdapter(adapter Adapter) error {
	if adapter == nil {
		return NewApplicationError(InvalidArgument, "cannot register a nil adapter")
	}
	adapterType := adapter.Type()
	if _, exists := m.adapters[adapterType]; exists {
		return NewApplicationError(AlreadyExists, fmt.Sprintf("adapter %s is already registered", adapterType))
	}
	m.adapters[adapterType] = adapter
	m.adapterOrder = append(m.adapterOrder, adapterType)
	m.logger.Debug("registered adapter", "type", adapterType)

	m.RegisterAllFormulas()
	return nil
}

// Adapter returns the registered adapter of a type
func (m *Manager) Adapter(adapterType string) (Adapter, bool) {
	adapter, exists := m.adapters[adapterType]
	return adapter, exists
}

// AddDataSet makes a dataset part of the document
func (m *Manager) AddDataSet(ds DataSet) error {
	if ds == nil {
		return NewApplicationError(InvalidArgument, "cannot add a nil dataset")
	}
	id := ds.ID()
	if _, exists := m.dataSets[id]; exists {
		return NewApplicationError(AlreadyExists, fmt.Sprintf("dataset %s was already added", id))
	}
	m.dataSets[id] = ds
	m.dataSetOrder = append(m.dataSetOrder, id)
	m.dataSetDisposer[id] = ds.Subscribe(func(e Event) {
		if e.Kind == EventDataSetRenamed {
			m.namesRenamed()
			return
		}
		m.RegisterAllFormulas()
	}, EventFormulaChanged, EventAttributesAdded, EventAttributesRemoved, EventDataSetRenamed)
	m.logger.Debug("added dataset", "id", id, "name", ds.Name())

	m.RegisterAllFormulas()
	// lookups naming this dataset may resolve now
	m.namesAdded()
	return nil
}

// RemoveDataSet drops a dataset with all its formulas. formulas looking up
// into it are recalculated and report the missing dataset.
func (m *Manager) RemoveDataSet(id string) error {
	if _, exists := m.dataSets[id]; !exists {
		return NewApplicationError(NotFound, fmt.Sprintf("dataset %s not found", id))
	}
	if dispose := m.dataSetDisposer[id]; dispose != nil {
		dispose()
	}
	delete(m.dataSetDisposer, id)
	delete(m.dataSets, id)
	for i, other := range m.dataSetOrder {
		if other == id {
			m.dataSetOrder = append(m.dataSetOrder[:i], m.dataSetOrder[i+1:]...)
			break
		}
	}
	m.logger.Debug("removed dataset", "id", id)

	m.RegisterAllFormulas()
	var affected []string
	for _, formulaID := range m.formulaIDs() {
		for _, dep := range m.graph.Dependencies(formulaID) {
			if dep.Type == DependencyLookup && dep.DataSetID == id {
				affected = append(affected, formulaID)
				break
			}
		}
	}
	m.recalculateAll(affected)
	return nil
}

// SetGlobalValueManager sets the source of global values
func (m *Manager) SetGlobalValueManager(globals GlobalValueManager) {
	if m.globalsDisposer != nil {
		m.globalsDisposer()
		m.globalsDisposer = nil
	}
	m.globals = globals
	if globals != nil {
		m.globalsDisposer = globals.Subscribe(func(Event) {
			m.namesAdded()
		}, EventGlobalAdded)
	}
	m.namesAdded()
}

// DataSets returns every dataset of the document by id
func (m *Manager) DataSets() map[string]DataSet {
	result := make(map[string]DataSet, len(m.dataSets))
	for id, ds := range m.dataSets {
		result[id] = ds
	}
	return result
}

func (m *Manager) orderedDataSets() []DataSet {
	result := make([]DataSet, 0, len(m.dataSetOrder))
	for _, id := range m.dataSetOrder {
		result = append(result, m.dataSets[id])
	}
	return result
}

func (m *Manager) GlobalValueManager() GlobalValueManager {
	return m.globals
}

func (m *Manager) DependencyGraph() *DependencyGraph {
	return m.graph
}

func (m *Manager) Library() *Library {
	return m.library
}

func (m *Manager) Logger() hclog.Logger {
	return m.logger
}

// FormulaTable returns the shared compiled formula cache
func (m *Manager) FormulaTable() *FormulaTable {
	return m.table
}

// GetAllFormulas lists every live formula across all adapters. this is the
// authoritative enumeration of formulas in the document.
func (m *Manager) GetAllFormulas() []ActiveFormula {
	var result []ActiveFormula
	for _, adapterType := range m.adapterOrder {
		for _, active := range m.adapters[adapterType].GetActiveFormulas() {
			if active.Formula == nil {
				continue
			}
			if active.ExtraMetadata.Type == "" {
				active.ExtraMetadata.Type = adapterType
			}
			result = append(result, active)
		}
	}
	return result
}

// Formula returns a registered formula by id
func (m *Manager) Formula(formulaID string) (*Formula, bool) {
	entry, exists := m.formulas[formulaID]
	if !exists {
		return nil, false
	}
	return entry.formula, true
}

func (m *Manager) FormulaExtraMetadata(formulaID string) (ExtraMetadata, bool) {
	entry, exists := m.formulas[formulaID]
	if !exists {
		return ExtraMetadata{}, false
	}
	return entry.meta, true
}

func (m *Manager) FormulaContext(formulaID string) (*FormulaContext, bool) {
	entry, exists := m.formulas[formulaID]
	if !exists {
		return nil, false
	}
	return m.context(entry), true
}

func (m *Manager) context(entry *formulaEntry) *FormulaContext {
	compiled, _ := m.table.Get(entry.formula.ID())
	return &FormulaContext{
		Formula:            entry.formula,
		Compiled:           compiled,
		Adapter:            entry.adapter,
		DataSet:            m.dataSets[entry.meta.DataSetID],
		DataSets:           m.DataSets(),
		GlobalValueManager: m.globals,
		Library:            m.library,
		Logger:             m.logger.Named(entry.adapter.Type()),
	}
}

func (m *Manager) formulaIDs() []string {
	ids := make([]string, 0, len(m.formulas))
	for id := range m.formulas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RegisterAllFormulas reconciles the registry with what the adapters report:
// new formulas are canonicalized, compiled, observed and calculated, and
// vanished formulas are torn down.
func (m *Manager) RegisterAllFormulas() {
	if m.registering {
		m.reregister = true
		return
	}
	m.registering = true
	defer func() { m.registering = false }()

	for pass := 0; pass < m.config.MaxRecalcDepth; pass++ {
		m.reregister = false
		m.reconcile()
		if !m.reregister {
			return
		}
	}
	m.logger.Warn("formula registration did not settle", "passes", m.config.MaxRecalcDepth)
}

func (m *Manager) reconcile() {
	seen := make(map[string]struct{})
	var affected []string

	for _, active := range m.GetAllFormulas() {
		id := active.Formula.ID()
		seen[id] = struct{}{}
		entry, exists := m.formulas[id]
		if exists && entry.formula == active.Formula && entry.meta == active.ExtraMetadata {
			continue
		}
		if exists {
			m.unregister(id)
		}
		if err := m.register(active); err != nil {
			m.logger.Warn("cannot register formula", "formula", id, "error", err)
			continue
		}
		affected = append(affected, id)
		if owner := m.formulas[id].owner(); owner != nil {
			affected = append(affected, m.graph.FormulasReading(*owner)...)
		}
	}

	for _, id := range m.formulaIDs() {
		if _, ok := seen[id]; ok {
			continue
		}
		if owner := m.formulas[id].owner(); owner != nil {
			affected = append(affected, m.graph.FormulasReading(*owner)...)
		}
		m.unregister(id)
	}

	m.recalculateAll(affected)
}

func (m *Manager) register(active ActiveFormula) error {
	adapter, exists := m.adapters[active.ExtraMetadata.Type]
	if !exists {
		return NewApplicationError(NotFound, fmt.Sprintf("no adapter registered for type %s", active.ExtraMetadata.Type))
	}
	f := active.Formula
	entry := &formulaEntry{
		formula: f,
		meta:    active.ExtraMetadata,
		adapter: adapter,
	}
	m.formulas[f.ID()] = entry
	f.attach(m)

	if f.Canonical() == "" {
		f.UpdateCanonicalFormula()
	}
	m.compile(entry)
	m.observe(entry)
	m.logger.Debug("registered formula", "formula", f.ID(), "type", entry.meta.Type,
		"display", f.Display(), "canonical", f.Canonical())
	return nil
}

func (m *Manager) unregister(formulaID string) {
	entry, exists := m.formulas[formulaID]
	if !exists {
		return
	}
	if entry.dispose != nil {
		entry.dispose()
	}
	entry.formula.detach()
	m.table.Release(formulaID)
	m.graph.RemoveFormula(formulaID)
	delete(m.formulas, formulaID)
	m.logger.Debug("unregistered formula", "formula", formulaID)
}

// compile refreshes the compiled entry and the dependencies of a formula
func (m *Manager) compile(entry *formulaEntry) {
	id := entry.formula.ID()
	canonical := entry.formula.Canonical()
	if canonical == "" {
		m.table.Release(id)
		m.graph.RemoveFormula(id)
		return
	}
	compiled, err := m.table.Intern(id, canonical)
	if err != nil {
		m.logger.Debug("canonical formula does not parse", "formula", id, "canonical", canonical, "error", err)
		m.table.Release(id)
		m.graph.RemoveFormula(id)
		return
	}
	m.graph.SetFormula(id, entry.meta.DataSetID, entry.owner(), compiled.Analysis)
	if cycle := m.graph.FindCycle(id); cycle != nil {
		m.logger.Debug("formula is on a dependency cycle", "formula", id, "length", len(cycle))
	}
}

// observe (re)installs the adapter's observers for a formula
func (m *Manager) observe(entry *formulaEntry) {
	if entry.dispose != nil {
		entry.dispose()
		entry.dispose = nil
	}
	entry.dispose = entry.adapter.SetupFormulaObservers(m.context(entry), entry.meta)
}

// resolveAdapter finds the adapter responsible for a request
func (m *Manager) resolveAdapter(ctx *FormulaContext, meta ExtraMetadata) (Adapter, error) {
	if ctx == nil || ctx.Formula == nil {
		return nil, NewApplicationError(InvalidArgument, "a formula context is required")
	}
	if meta.Type == "" {
		return nil, NewApplicationError(InvalidArgument,
			fmt.Sprintf("missing extra metadata for formula %s", ctx.Formula.ID()))
	}
	adapter, exists := m.adapters[meta.Type]
	if !exists {
		return nil, NewApplicationError(NotFound, fmt.Sprintf("no adapter registered for type %s", meta.Type))
	}
	return adapter, nil
}

// RecalculateFormula recalculates one formula over scope through its
// adapter. a request made while another recalculation is running waits
// until that one finishes, so no formula is evaluated while a formula it
// reads is half written.
func (m *Manager) RecalculateFormula(ctx *FormulaContext, meta ExtraMetadata, scope CaseScope) error {
	adapter, err := m.resolveAdapter(ctx, meta)
	if err != nil {
		return err
	}

	id := ctx.Formula.ID()
	_, registered := m.formulas[id]
	if m.stack.isProcessing(id) {
		m.logger.Trace("dropping self-triggered recalculation", "formula", id)
		return nil
	}
	if m.stack.active() && registered {
		m.logger.Trace("deferring recalculation", "formula", id)
		m.stack.deferRequest(id, scope)
		return nil
	}

	m.run(adapter, ctx, meta, scope)
	if m.stack.active() {
		return nil
	}
	return m.drain()
}

func (m *Manager) run(adapter Adapter, ctx *FormulaContext, meta ExtraMetadata, scope CaseScope) {
	id := ctx.Formula.ID()
	current := *ctx
	if compiled, ok := m.table.Get(id); ok {
		current.Compiled = compiled
	}
	if current.Logger == nil {
		current.Logger = m.logger.Named(adapter.Type())
	}

	m.stack.push(id)
	defer m.stack.pop()

	m.logger.Debug("recalculating formula", "formula", id, "type", meta.Type,
		"canonical", ctx.Formula.Canonical(), "all", scope.All, "cases", len(scope.CaseIDs))
	adapter.RecalculateFormula(&current, meta, scope)
}

// drain runs the requests deferred during a recalculation. each round may
// defer more; the number of rounds is bounded by max_recalc_depth.
func (m *Manager) drain() error {
	for round := 1; m.stack.hasPending(); round++ {
		if round > m.config.MaxRecalcDepth {
			dropped, _ := m.stack.takePending()
			m.logger.Warn("recalculation cascade exceeded limit",
				"limit", m.config.MaxRecalcDepth, "dropped", len(dropped))
			return NewApplicationError(ResourceExhausted,
				fmt.Sprintf("recalculation cascade deeper than %d rounds", m.config.MaxRecalcDepth))
		}
		ids, scopes := m.stack.takePending()
		for _, id := range m.inCalculationOrder(ids) {
			entry, exists := m.formulas[id]
			if !exists {
				continue
			}
			m.run(entry.adapter, m.context(entry), entry.meta, scopes[id])
		}
	}
	return nil
}

// inCalculationOrder sorts and dedupes formula ids so that attribute
// formulas come after the attribute formulas they read. other formulas
// follow in the order given.
func (m *Manager) inCalculationOrder(ids []string) []string {
	order, _ := m.graph.GetCalculationOrder()
	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}

	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.SliceStable(unique, func(i, j int) bool {
		ri, iok := rank[unique[i]]
		rj, jok := rank[unique[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		default:
			return false
		}
	})
	return unique
}

// RecalculateFormulaByID recalculates a registered formula, logging rather
// than returning failures. adapters use it from their observers.
func (m *Manager) RecalculateFormulaByID(formulaID string, scope CaseScope) {
	entry, exists := m.formulas[formulaID]
	if !exists {
		m.logger.Debug("recalculation requested for unknown formula", "formula", formulaID)
		return
	}
	if err := m.RecalculateFormula(m.context(entry), entry.meta, scope); err != nil {
		m.logger.Warn("recalculation failed", "formula", formulaID, "error", err)
	}
}

// recalculateAll recalculates every case of the given formulas in
// dependency order
func (m *Manager) recalculateAll(ids []string) {
	for _, id := range m.inCalculationOrder(ids) {
		m.RecalculateFormulaByID(id, AllCases)
	}
}

// RecalculateAll recalculates every registered formula. failures are
// collected rather than stopping the pass.
func (m *Manager) RecalculateAll() error {
	var result *multierror.Error
	for _, id := range m.inCalculationOrder(m.formulaIDs()) {
		entry, exists := m.formulas[id]
		if !exists {
			continue
		}
		if err := m.RecalculateFormula(m.context(entry), entry.meta, AllCases); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "formula %s", id))
		}
	}
	return result.ErrorOrNil()
}

// RerandomizeAll recalculates every formula that calls a random function
func (m *Manager) RerandomizeAll() {
	m.recalculateAll(m.graph.RandomFormulas())
}

// SetFormulaError writes message into the formula's owner through its
// adapter
func (m *Manager) SetFormulaError(ctx *FormulaContext, meta ExtraMetadata, message string) error {
	adapter, err := m.resolveAdapter(ctx, meta)
	if err != nil {
		return err
	}
	adapter.SetFormulaError(ctx, meta, message)
	return nil
}

// GetFormulaError returns the error the adapter knows about before
// evaluation, or ""
func (m *Manager) GetFormulaError(ctx *FormulaContext, meta ExtraMetadata) (string, error) {
	adapter, err := m.resolveAdapter(ctx, meta)
	if err != nil {
		return "", err
	}
	return adapter.GetFormulaError(ctx, meta), nil
}

// RefreshFormula resolves names that canonical text could not resolve
// before, e.g. after the attribute it names was added, and recalculates
// the formula when that changed anything
func (m *Manager) RefreshFormula(formulaID string) {
	entry, exists := m.formulas[formulaID]
	if !exists {
		return
	}
	before := entry.formula.Canonical()
	if !entry.formula.ResolveNewNames() {
		return
	}
	m.logger.Debug("formula canonical text changed", "formula", formulaID,
		"before", before, "after", entry.formula.Canonical())
	m.compile(entry)
	m.observe(entry)
	m.RecalculateFormulaByID(formulaID, AllCases)
}

// namesAdded lets every formula pick up names that now exist
func (m *Manager) namesAdded() {
	for _, id := range m.formulaIDs() {
		m.RefreshFormula(id)
	}
}

// namesRenamed regenerates display text. canonical text and values are
// not affected by a rename.
func (m *Manager) namesRenamed() {
	for _, id := range m.formulaIDs() {
		if entry, exists := m.formulas[id]; exists {
			entry.formula.UpdateDisplayFormula()
		}
	}
}

// Close tears down every observer the manager installed
func (m *Manager) Close() {
	for _, id := range m.formulaIDs() {
		m.unregister(id)
	}
	for id, dispose := range m.dataSetDisposer {
		dispose()
		delete(m.dataSetDisposer, id)
	}
	if m.globalsDisposer != nil {
		m.globalsDisposer()
		m.globalsDisposer = nil
	}
	m.graph.Clear()
	m.stack.reset()
}

// formulaHost

func (m *Manager) nameMapOptions(formulaID string) NameMapOptions {
	opts := NameMapOptions{
		DataSets:           m.orderedDataSets(),
		GlobalValueManager: m.globals,
	}
	if entry, exists := m.formulas[formulaID]; exists {
		opts.LocalDataSet = m.dataSets[entry.meta.DataSetID]
	}
	return opts
}

func (m *Manager) displayNameMapFor(f *Formula) *DisplayNameMap {
	return BuildDisplayNameMap(m.nameMapOptions(f.ID()), m.config.UseSafeSymbolNames)
}

func (m *Manager) canonicalNameMapFor(f *Formula) CanonicalNameMap {
	return BuildCanonicalNameMap(m.nameMapOptions(f.ID()))
}

func (m *Manager) formulaDisplayChanged(f *Formula) {
	entry, exists := m.formulas[f.ID()]
	if !exists {
		return
	}
	f.UpdateCanonicalFormula()
	m.compile(entry)
	m.observe(entry)
	m.logger.Debug("formula changed", "formula", f.ID(), "display", f.Display(), "canonical", f.Canonical())

	// an edit only changes what the owner reads, so everything that read it
	// before, including formulas on a cycle with this one, still does
	ids := []string{f.ID()}
	if owner := entry.owner(); owner != nil {
		ids = append(ids, m.graph.GetAllDependents(*owner)...)
		ids = append(ids, m.graph.FormulasReading(*owner)...)
	}
	m.recalculateAll(ids)
}

func (m *Manager) rerandomize(f *Formula) {
	if !m.graph.IsRandom(f.ID()) {
		return
	}
	m.RecalculateFormulaByID(f.ID(), AllCases)
}
