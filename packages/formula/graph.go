package formula

import "sort"

// AttrKey identifies an attribute across datasets
type AttrKey struct {
	DataSetID string
	AttrID    string
}

// DependencyNode represents an attribute in the dependency graph
type DependencyNode struct {
	// address of *THIS* node
	Key AttrKey

	// attribute-to-attribute dependencies within one dataset
	Precedents map[AttrKey]*DependencyNode // attributes this one reads
	Dependents map[AttrKey]*DependencyNode // attributes that read this one

	// id of the formula computing this attribute, empty for literal
	// attributes that are only read
	FormulaID string
}

// DependencyGraph tracks what every registered formula depends on. only
// attribute formulas become nodes; cycles are searched among them alone.
// lookups are recorded for impact analysis but are never traversed:
// foreign datasets are only read, so a lookup cannot close a cycle in the
// same pass.
type DependencyGraph struct {
	nodes          map[AttrKey]*DependencyNode // all nodes in the graph
	formulaNodes   map[string]AttrKey          // formula id -> attribute it computes
	formulaDeps    map[string][]Dependency     // formula id -> every dependency record
	formulaOwners  map[string]string           // formula id -> local dataset id
	randomFormulas map[string]struct{}         // formulas with random functions (always recompute)
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:          make(map[AttrKey]*DependencyNode),
		formulaNodes:   make(map[string]AttrKey),
		formulaDeps:    make(map[string][]Dependency),
		formulaOwners:  make(map[string]string),
		randomFormulas: make(map[string]struct{}),
	}
}

// GetOrCreateNode gets an existing node or creates a new one
func (dg *DependencyGraph) GetOrCreateNode(key AttrKey) *DependencyNode {
	if node, exists := dg.nodes[key]; exists {
		return node
	}

	node := &DependencyNode{
		Key:        key,
		Precedents: make(map[AttrKey]*DependencyNode),
		Dependents: make(map[AttrKey]*DependencyNode),
	}
	dg.nodes[key] = node
	return node
}

// GetNode retrieves a node if it exists
func (dg *DependencyGraph) GetNode(key AttrKey) (*DependencyNode, bool) {
	node, exists := dg.nodes[key]
	return node, exists
}

// cleanupNodeIfEmpty removes a node if it has no dependencies or formula
func (dg *DependencyGraph) cleanupNodeIfEmpty(key AttrKey) {
	node, exists := dg.nodes[key]
	if !exists {
		return
	}

	if node.FormulaID != "" || len(node.Precedents) > 0 || len(node.Dependents) > 0 {
		return
	}
	delete(dg.nodes, key)
}

// AddDependency adds an attribute-to-attribute dependency (from reads to)
func (dg *DependencyGraph) AddDependency(from, to AttrKey) {
	fromNode := dg.GetOrCreateNode(from)
	toNode := dg.GetOrCreateNode(to)

	fromNode.Precedents[to] = toNode
	toNode.Dependents[from] = fromNode
}

// ClearDependencies clears all precedents of an attribute
func (dg *DependencyGraph) ClearDependencies(key AttrKey) {
	node, exists := dg.nodes[key]
	if !exists {
		return
	}
	for precedentKey, precedent := range node.Precedents {
		delete(precedent.Dependents, key)
		delete(node.Precedents, precedentKey)
		dg.cleanupNodeIfEmpty(precedentKey)
	}
}

// SetFormula records the dependencies of a formula. owner is the attribute
// the formula computes, or nil for formulas hosted elsewhere (e.g. a graph
// annotation).
func (dg *DependencyGraph) SetFormula(formulaID, dataSetID string, owner *AttrKey, analysis FormulaAnalysis) {
	dg.RemoveFormula(formulaID)

	dg.formulaDeps[formulaID] = analysis.Dependencies
	dg.formulaOwners[formulaID] = dataSetID
	if analysis.HasRandom {
		dg.randomFormulas[formulaID] = struct{}{}
	}
	if owner == nil {
		return
	}

	node := dg.GetOrCreateNode(*owner)
	node.FormulaID = formulaID
	dg.formulaNodes[formulaID] = *owner
	for _, dep := range analysis.Dependencies {
		if dep.Type == DependencyLocalAttribute {
			dg.AddDependency(*owner, AttrKey{DataSetID: owner.DataSetID, AttrID: dep.AttrID})
		}
	}
}

// RemoveFormula forgets a formula and its outgoing edges
func (dg *DependencyGraph) RemoveFormula(formulaID string) {
	delete(dg.formulaDeps, formulaID)
	delete(dg.formulaOwners, formulaID)
	delete(dg.randomFormulas, formulaID)

	key, exists := dg.formulaNodes[formulaID]
	if !exists {
		return
	}
	delete(dg.formulaNodes, formulaID)
	dg.ClearDependencies(key)
	if node, ok := dg.nodes[key]; ok && node.FormulaID == formulaID {
		node.FormulaID = ""
	}
	dg.cleanupNodeIfEmpty(key)
}

// Owner returns the attribute an attribute formula computes
func (dg *DependencyGraph) Owner(formulaID string) (AttrKey, bool) {
	key, exists := dg.formulaNodes[formulaID]
	return key, exists
}

// Dependencies returns the dependency records of a formula
func (dg *DependencyGraph) Dependencies(formulaID string) []Dependency {
	return dg.formulaDeps[formulaID]
}

// FindCycle returns the attributes on a dependency cycle through the
// formula's own attribute, starting with that attribute, or nil
func (dg *DependencyGraph) FindCycle(formulaID string) []AttrKey {
	start, exists := dg.formulaNodes[formulaID]
	if !exists {
		return nil
	}

	// three states: unvisited (not in map), visiting (false), visited (true)
	state := make(map[AttrKey]bool)
	path := []AttrKey{start}

	var visit func(key AttrKey) bool
	visit = func(key AttrKey) bool {
		state[key] = false
		node := dg.nodes[key]
		for _, precedentKey := range sortedKeys(node.Precedents) {
			if precedentKey == start {
				return true
			}
			if _, seen := state[precedentKey]; seen {
				continue
			}
			path = append(path, precedentKey)
			if visit(precedentKey) {
				return true
			}
			path = path[:len(path)-1]
		}
		state[key] = true
		return false
	}

	if visit(start) {
		return path
	}
	return nil
}

func sortedKeys(m map[AttrKey]*DependencyNode) []AttrKey {
	keys := make([]AttrKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].DataSetID != keys[j].DataSetID {
			return keys[i].DataSetID < keys[j].DataSetID
		}
		return keys[i].AttrID < keys[j].AttrID
	})
	return keys
}

// GetCalculationOrder returns attribute formula ids with every formula after
// the formulas it reads, and whether any cycle was found. formulas on a
// cycle are still listed.
func (dg *DependencyGraph) GetCalculationOrder() ([]string, bool) {
	// three states: unvisited (not in map), visiting (false), visited (true)
	state := make(map[AttrKey]bool)
	var order []string
	hasCycle := false

	var visit func(key AttrKey)
	visit = func(key AttrKey) {
		if completed, exists := state[key]; exists {
			if !completed {
				// currently visiting - cycle detected
				hasCycle = true
			}
			return
		}

		state[key] = false
		node, exists := dg.nodes[key]
		if exists {
			for _, precedentKey := range sortedKeys(node.Precedents) {
				visit(precedentKey)
			}
		}
		state[key] = true
		if exists && node.FormulaID != "" {
			order = append(order, node.FormulaID)
		}
	}

	for _, key := range sortedKeys(dg.nodes) {
		visit(key)
	}
	return order, hasCycle
}

// GetAllDependents returns every attribute formula that transitively reads
// the attribute
func (dg *DependencyGraph) GetAllDependents(key AttrKey) []string {
	visited := make(map[AttrKey]struct{})
	var result []string
	dg.collectDependents(key, visited, &result)
	return result
}

// collectDependents recursively collects all dependents
func (dg *DependencyGraph) collectDependents(key AttrKey, visited map[AttrKey]struct{}, result *[]string) {
	node, exists := dg.nodes[key]
	if !exists {
		return
	}
	for _, depKey := range sortedKeys(node.Dependents) {
		if _, seen := visited[depKey]; seen {
			continue
		}
		visited[depKey] = struct{}{}
		if dependent := dg.nodes[depKey]; dependent.FormulaID != "" {
			*result = append(*result, dependent.FormulaID)
		}
		dg.collectDependents(depKey, visited, result)
	}
}

// FormulasReading returns every formula, of any kind, whose dependency
// records name the attribute, directly or through a lookup
func (dg *DependencyGraph) FormulasReading(key AttrKey) []string {
	var result []string
	for formulaID, deps := range dg.formulaDeps {
		for _, dep := range deps {
			local := dep.Type == DependencyLocalAttribute &&
				dg.formulaOwners[formulaID] == key.DataSetID && dep.AttrID == key.AttrID
			lookup := dep.Type == DependencyLookup && dep.DataSetID == key.DataSetID &&
				(dep.AttrID == key.AttrID || dep.KeyAttrID == key.AttrID)
			if local || lookup {
				result = append(result, formulaID)
				break
			}
		}
	}
	sort.Strings(result)
	return result
}

// IsRandom checks if a formula contains random functions
func (dg *DependencyGraph) IsRandom(formulaID string) bool {
	_, exists := dg.randomFormulas[formulaID]
	return exists
}

// RandomFormulas returns all formulas marked as random
func (dg *DependencyGraph) RandomFormulas() []string {
	result := make([]string, 0, len(dg.randomFormulas))
	for id := range dg.randomFormulas {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Clear removes all nodes and dependencies from the graph
func (dg *DependencyGraph) Clear() {
	dg.nodes = make(map[AttrKey]*DependencyNode)
	dg.formulaNodes = make(map[string]AttrKey)
	dg.formulaDeps = make(map[string][]Dependency)
	dg.formulaOwners = make(map[string]string)
	dg.randomFormulas = make(map[string]struct{})
}
