package formula

import "slices"

// CalculationStack tracks the formulas being recalculated and the requests
// that arrived while they were. notifications are synchronous, so a write
// made by one recalculation can ask for another before the first returns;
// those requests wait here until the outermost recalculation is done.
type CalculationStack struct {
	items      []string            // stack of formulas being recalculated
	processing map[string]struct{} // currently being recalculated

	pending      map[string]CaseScope // deferred requests, scopes merged
	pendingOrder []string
}

// NewCalculationStack creates a new calculation stack
func NewCalculationStack() *CalculationStack {
	return &CalculationStack{
		items:      make([]string, 0),
		processing: make(map[string]struct{}),
		pending:    make(map[string]CaseScope),
	}
}

// push adds a formula to the stack
func (cs *CalculationStack) push(formulaID string) {
	cs.items = append(cs.items, formulaID)
	cs.processing[formulaID] = struct{}{}
}

// pop removes and returns the top formula from the stack
func (cs *CalculationStack) pop() (string, bool) {
	if len(cs.items) == 0 {
		return "", false
	}
	formulaID := cs.items[len(cs.items)-1]
	cs.items = cs.items[:len(cs.items)-1]
	if !slices.Contains(cs.items, formulaID) {
		delete(cs.processing, formulaID)
	}
	return formulaID, true
}

// isProcessing checks if a formula is currently being recalculated
func (cs *CalculationStack) isProcessing(formulaID string) bool {
	_, exists := cs.processing[formulaID]
	return exists
}

// active reports whether any recalculation is under way
func (cs *CalculationStack) active() bool {
	return len(cs.items) > 0
}

// defer queues a request, widening the scope of one already queued
func (cs *CalculationStack) deferRequest(formulaID string, scope CaseScope) {
	if queued, exists := cs.pending[formulaID]; exists {
		cs.pending[formulaID] = queued.merge(scope)
		return
	}
	cs.pending[formulaID] = scope
	cs.pendingOrder = append(cs.pendingOrder, formulaID)
}

// takePending removes and returns every queued request
func (cs *CalculationStack) takePending() ([]string, map[string]CaseScope) {
	order, scopes := cs.pendingOrder, cs.pending
	cs.pendingOrder = nil
	cs.pending = make(map[string]CaseScope)
	return order, scopes
}

func (cs *CalculationStack) hasPending() bool {
	return len(cs.pendingOrder) > 0
}

// reset clears the stack
func (cs *CalculationStack) reset() {
	cs.items = cs.items[:0]
	cs.processing = make(map[string]struct{})
	cs.pending = make(map[string]CaseScope)
	cs.pendingOrder = nil
}
