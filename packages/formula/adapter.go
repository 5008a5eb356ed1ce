package formula

import (
	"slices"

	"github.com/hashicorp/go-hclog"
)

// ExtraMetadata identifies the entity that owns a formula. Type selects the
// adapter; the remaining fields are adapter specific.
type ExtraMetadata struct {
	Type                string
	DataSetID           string
	AttributeID         string
	GraphContentModelID string
}

// ActiveFormula is a live formula and its owner
type ActiveFormula struct {
	Formula       *Formula
	ExtraMetadata ExtraMetadata
}

// CaseScope selects the cases a recalculation covers
type CaseScope struct {
	All     bool
	CaseIDs []string
}

// AllCases recalculates every case of a formula
var AllCases = CaseScope{All: true}

// Cases recalculates only the given cases
func Cases(ids ...string) CaseScope {
	return CaseScope{CaseIDs: ids}
}

// Includes reports whether the scope covers caseID
func (c CaseScope) Includes(caseID string) bool {
	return c.All || slices.Contains(c.CaseIDs, caseID)
}

// merge widens c to cover other as well
func (c CaseScope) merge(other CaseScope) CaseScope {
	if c.All || other.All {
		return AllCases
	}
	merged := slices.Clone(c.CaseIDs)
	for _, id := range other.CaseIDs {
		if !slices.Contains(merged, id) {
			merged = append(merged, id)
		}
	}
	return CaseScope{CaseIDs: merged}
}

// FormulaContext is everything an adapter needs to evaluate one formula
type FormulaContext struct {
	Formula            *Formula
	Compiled           *CompiledFormula // nil when the formula is invalid
	Adapter            Adapter
	DataSet            DataSet
	DataSets           map[string]DataSet
	GlobalValueManager GlobalValueManager
	Library            *Library
	Logger             hclog.Logger
}

// NewScope creates an evaluation scope for the context's formula
func (c *FormulaContext) NewScope(caseIDs []string) *Scope {
	return NewScope(ScopeOptions{
		LocalDataSet:       c.DataSet,
		DataSets:           c.DataSets,
		GlobalValueManager: c.GlobalValueManager,
		Library:            c.Library,
		CaseIDs:            caseIDs,
	})
}

// Adapter bridges the engine and one kind of formula owning model
type Adapter interface {
	Type() string
	// GetActiveFormulas lists every non-empty formula of this kind
	GetActiveFormulas() []ActiveFormula
	RecalculateFormula(ctx *FormulaContext, meta ExtraMetadata, scope CaseScope)
	SetFormulaError(ctx *FormulaContext, meta ExtraMetadata, message string)
	// GetFormulaError returns an error known before evaluation, e.g. a
	// cycle, or ""
	GetFormulaError(ctx *FormulaContext, meta ExtraMetadata) string
	// SetupFormulaObservers subscribes to the mutations that invalidate the
	// formula and returns the disposer
	SetupFormulaObservers(ctx *FormulaContext, meta ExtraMetadata) (dispose func())
}

// AdapterAPI is what the manager offers adapters
type AdapterAPI interface {
	DataSets() map[string]DataSet
	GlobalValueManager() GlobalValueManager
	FormulaExtraMetadata(formulaID string) (ExtraMetadata, bool)
	FormulaContext(formulaID string) (*FormulaContext, bool)
	// RecalculateFormulaByID recalculates through the manager so ordering
	// and reentrancy rules apply
	RecalculateFormulaByID(formulaID string, scope CaseScope)
	// RefreshFormula resolves names the formula's canonical text could not
	// resolve before, e.g. after an attribute it names was added, and
	// recalculates it if that changed its canonical text. existing tokens
	// are kept.
	RefreshFormula(formulaID string)
	// RegisterAllFormulas reconciles the registry with the adapters
	RegisterAllFormulas()
	DependencyGraph() *DependencyGraph
	Logger() hclog.Logger
}
