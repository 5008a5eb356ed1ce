package formula

import "strings"

// DependencyType says what kind of entity a formula depends on
type DependencyType string

const (
	DependencyLocalAttribute DependencyType = "localAttribute"
	DependencyGlobal         DependencyType = "globalValue"
	DependencyLookup         DependencyType = "lookup"
)

// Dependency is one thing a formula reads. lookups name a foreign dataset
// and attribute, and for lookupByKey also the key attribute.
type Dependency struct {
	Type      DependencyType
	DataSetID string
	AttrID    string
	KeyAttrID string
	GlobalID  string
}

// FormulaAnalysis is everything learned about a compiled formula by
// walking its tree once
type FormulaAnalysis struct {
	Dependencies  []Dependency
	HasAggregate  bool
	HasRandom     bool
	UsesCaseIndex bool
}

// LocalAttrIDs returns the ids of local attributes the formula reads
func (a FormulaAnalysis) LocalAttrIDs() []string {
	var ids []string
	for _, dep := range a.Dependencies {
		if dep.Type == DependencyLocalAttribute {
			ids = append(ids, dep.AttrID)
		}
	}
	return ids
}

// LookupDataSetIDs returns the ids of datasets the formula looks up into
func (a FormulaAnalysis) LookupDataSetIDs() []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, dep := range a.Dependencies {
		if dep.Type != DependencyLookup || dep.DataSetID == "" {
			continue
		}
		if _, ok := seen[dep.DataSetID]; !ok {
			seen[dep.DataSetID] = struct{}{}
			ids = append(ids, dep.DataSetID)
		}
	}
	return ids
}

// DependsOnGlobal reports whether the formula reads globalID
func (a FormulaAnalysis) DependsOnGlobal(globalID string) bool {
	for _, dep := range a.Dependencies {
		if dep.Type == DependencyGlobal && dep.GlobalID == globalID {
			return true
		}
	}
	return false
}

// AnalyzeFormula extracts dependency records and formula traits from a
// canonical AST
func AnalyzeFormula(ast ASTNode) FormulaAnalysis {
	var analysis FormulaAnalysis
	seen := make(map[Dependency]struct{})
	add := func(dep Dependency) {
		if _, exists := seen[dep]; exists {
			return
		}
		seen[dep] = struct{}{}
		analysis.Dependencies = append(analysis.Dependencies, dep)
	}

	walkAST(ast, func(node ASTNode) {
		switch n := node.(type) {
		case *SymbolNode:
			if !IsCanonicalToken(n.Name) {
				return
			}
			rest := RmCanonicalPrefix(n.Name)
			switch {
			case rest == LocalAttrPrefix+CaseIndexAttrID:
				analysis.UsesCaseIndex = true
			case strings.HasPrefix(rest, LocalAttrPrefix):
				add(Dependency{Type: DependencyLocalAttribute, AttrID: strings.TrimPrefix(rest, LocalAttrPrefix)})
			case strings.HasPrefix(rest, GlobalValuePrefix):
				add(Dependency{Type: DependencyGlobal, GlobalID: strings.TrimPrefix(rest, GlobalValuePrefix)})
			}

		case *FunctionCallNode:
			fn, ok := lookupFunction(n.Name)
			if !ok {
				return
			}
			if fn.Reduce != nil && len(n.Args) <= 1 {
				analysis.HasAggregate = true
			}
			if fn.Random {
				analysis.HasRandom = true
			}
			if fn.GetDependency != nil {
				add(fn.GetDependency(n.Args))
			}
		}
	})

	return analysis
}
