package formula

// CompiledFormula is a parsed canonical formula and what was learned from it
type CompiledFormula struct {
	ID        uint32
	Canonical string
	AST       ASTNode
	Analysis  FormulaAnalysis
}

// FormulaTable stores compiled formulas centrally. formulas with the same
// canonical text share one compiled entry, reference counted by the
// formulas using it.
type FormulaTable struct {
	index     map[string]uint32           // canonical text -> compiled ID
	compiled  map[uint32]*CompiledFormula // compiled ID -> parsed formula
	refCounts map[uint32]int              // compiled ID -> reference count

	compiledFor map[string]uint32 // formula id -> compiled ID (reverse index)

	nextID uint32
}

// NewFormulaTable creates a new formula table
func NewFormulaTable() *FormulaTable {
	return &FormulaTable{
		index:       make(map[string]uint32),
		compiled:    make(map[uint32]*CompiledFormula),
		refCounts:   make(map[uint32]int),
		compiledFor: make(map[string]uint32),
		nextID:      1, // start at 1, reserve 0 for no formula
	}
}

// Intern compiles canonical text for a formula, reusing an existing entry
// when the text was seen before. the formula's previous entry is released.
func (ft *FormulaTable) Intern(formulaID, canonical string) (*CompiledFormula, error) {
	if id, exists := ft.compiledFor[formulaID]; exists {
		if ft.compiled[id].Canonical == canonical {
			return ft.compiled[id], nil
		}
		ft.Release(formulaID)
	}

	// check if formula already exists
	if id, exists := ft.index[canonical]; exists {
		ft.refCounts[id]++
		ft.compiledFor[formulaID] = id
		return ft.compiled[id], nil
	}

	ast, err := ParseExpression(canonical)
	if err != nil {
		return nil, err
	}

	id := ft.nextID
	entry := &CompiledFormula{
		ID:        id,
		Canonical: canonical,
		AST:       ast,
		Analysis:  AnalyzeFormula(ast),
	}
	ft.index[canonical] = id
	ft.compiled[id] = entry
	ft.refCounts[id] = 1
	ft.compiledFor[formulaID] = id
	ft.nextID++

	return entry, nil
}

// Get retrieves the compiled entry used by a formula
func (ft *FormulaTable) Get(formulaID string) (*CompiledFormula, bool) {
	id, exists := ft.compiledFor[formulaID]
	if !exists {
		return nil, false
	}
	return ft.compiled[id], true
}

// Release drops a formula's reference. the compiled entry is removed once
// nothing uses it. returns true if the entry was removed.
func (ft *FormulaTable) Release(formulaID string) bool {
	id, exists := ft.compiledFor[formulaID]
	if !exists {
		return false
	}
	delete(ft.compiledFor, formulaID)

	ft.refCounts[id]--
	if ft.refCounts[id] <= 0 {
		delete(ft.index, ft.compiled[id].Canonical)
		delete(ft.compiled, id)
		delete(ft.refCounts, id)
		return true
	}
	return false
}

// GetReferenceCount returns the reference count for a compiled ID
func (ft *FormulaTable) GetReferenceCount(id uint32) int {
	return ft.refCounts[id]
}

// Count returns the number of distinct compiled formulas
func (ft *FormulaTable) Count() int {
	return len(ft.compiled)
}
