package formula

// Attribute is one column of a dataset. every attribute hosts a formula,
// which is empty for ordinary attributes.
type Attribute interface {
	ID() string
	Name() string
	Formula() *Formula
}

// CaseInfo describes one case of a collection as seen by formulas
type CaseInfo struct {
	ID string
	// 1-based position of the case within its parent group
	Index int
	// the cases aggregate functions range over when evaluated for this case
	AggregateIDs []string
}

// CaseValue is a single cell write
type CaseValue struct {
	CaseID string
	AttrID string
	Value  string
}

// DataSet is the tabular, hierarchical data store formulas read from and
// write to. values are stored as text; a single slot per (case, attribute)
// holds either a literal value or a formula result.
type DataSet interface {
	ID() string
	Name() string
	Attributes() []Attribute
	AttrFromID(id string) (Attribute, bool)

	// ItemIDs lists the childmost cases in document order
	ItemIDs() []string
	// CasesForAttribute lists the cases of the collection holding attrID
	CasesForAttribute(attrID string) []CaseInfo
	CaseInfo(caseID string) (CaseInfo, bool)

	GetValue(caseID, attrID string) string
	GetValueAtIndex(index int, attrID string) (string, bool)
	// SetCaseValues writes values tagged with origin. formula writes pass
	// the id of the attribute whose formula produced them.
	SetCaseValues(origin string, values []CaseValue)

	Subscribe(fn func(Event), kinds ...EventKind) (dispose func())
}

// GlobalValue is a named document-wide number (e.g. a slider)
type GlobalValue interface {
	ID() string
	Name() string
	Value() float64
}

type GlobalValueManager interface {
	Globals() []GlobalValue
	GlobalByID(id string) (GlobalValue, bool)
	Subscribe(fn func(Event), kinds ...EventKind) (dispose func())
}

// SubPlotCell is one cell of a graph's category cross product
type SubPlotCell struct {
	// attribute id -> category for every split axis
	Key map[string]string
	// stable identity of the cell, used to key measures
	InstanceKey string
	CaseIDs     []string
}

// PlottedValueModel is the graph annotation that hosts a plotted value
// formula and keeps one measure per cell.
type PlottedValueModel interface {
	Formula() *Formula
	HasMeasure(instanceKey string) bool
	AddMeasure(value float64, instanceKey string)
	UpdateMeasureValue(value float64, instanceKey string)
	SetFormulaError(message string)
	FormulaError() string
}

type GraphContentModel interface {
	ID() string
	DataSet() DataSet
	// PlottedValue returns nil when the graph shows no plotted value
	PlottedValue() PlottedValueModel
	SubPlotCells() []SubPlotCell
	Subscribe(fn func(Event), kinds ...EventKind) (dispose func())
}
