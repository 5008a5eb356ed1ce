package formula

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// ScopeOptions configures an evaluation scope
type ScopeOptions struct {
	LocalDataSet       DataSet
	DataSets           map[string]DataSet
	GlobalValueManager GlobalValueManager
	Library            *Library
	// CaseIDs, when set, is the explicit case set the formula runs over,
	// e.g. the cases of one graph cell. aggregates then range over exactly
	// these cases.
	CaseIDs []string
}

// Scope resolves symbols to values for one case at a time. it is built for
// a single recalculation and discarded afterwards.
type Scope struct {
	localDataSet DataSet
	dataSets     map[string]DataSet
	globals      GlobalValueManager
	library      *Library
	caseIDs      []string

	current CaseInfo
	hasCase bool

	// aggregate results shared by every case of a group
	aggregates map[string]Value
}

// NewScope creates a scope with no current case
func NewScope(opts ScopeOptions) *Scope {
	library := opts.Library
	if library == nil {
		library = NewDefaultLibrary()
	}
	return &Scope{
		localDataSet: opts.LocalDataSet,
		dataSets:     opts.DataSets,
		globals:      opts.GlobalValueManager,
		library:      library,
		caseIDs:      opts.CaseIDs,
		aggregates:   make(map[string]Value),
	}
}

// SetCase makes info the case symbols resolve against
func (s *Scope) SetCase(info CaseInfo) {
	if s.caseIDs != nil {
		info.AggregateIDs = s.caseIDs
	}
	s.current = info
	s.hasCase = true
}

// DataSet finds any dataset of the document by id
func (s *Scope) DataSet(id string) (DataSet, bool) {
	ds, ok := s.dataSets[id]
	return ds, ok
}

// withCase returns a scope positioned on another case of the local
// dataset, sharing everything else
func (s *Scope) withCase(caseID string) *Scope {
	clone := *s
	info, ok := CaseInfo{ID: caseID}, false
	if s.localDataSet != nil {
		info, ok = s.localDataSet.CaseInfo(caseID)
	}
	if !ok {
		info = CaseInfo{ID: caseID, AggregateIDs: s.current.AggregateIDs}
	}
	clone.SetCase(info)
	return &clone
}

// aggregateGroup returns the cases aggregate functions range over
func (s *Scope) aggregateGroup() []string {
	if s.caseIDs != nil {
		return s.caseIDs
	}
	if s.hasCase {
		return s.current.AggregateIDs
	}
	if s.localDataSet != nil {
		return s.localDataSet.ItemIDs()
	}
	return nil
}

// aggregateValues evaluates arg for every case of the current aggregate
// group. a nil arg yields one true per case. results are cached per call
// site and group; groups partition the cases, so the first case and size
// identify a group.
func (s *Scope) aggregateValues(call *FunctionCallNode, arg ASTNode) ([]Value, error) {
	group := s.aggregateGroup()
	key := fmt.Sprintf("%p", call)
	if len(group) > 0 {
		key = fmt.Sprintf("%p|%s|%d", call, group[0], len(group))
	}
	if cached, ok := s.aggregates[key]; ok {
		if values, ok := cached.([]Value); ok {
			return values, nil
		}
	}

	values := make([]Value, 0, len(group))
	for _, caseID := range group {
		if arg == nil {
			values = append(values, true)
			continue
		}
		value, err := arg.Eval(s.withCase(caseID))
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	s.aggregates[key] = values
	return values, nil
}

// Resolve returns the value of a symbol for the current case. resolution
// order is local attribute, then caseIndex, then global value. foreign
// datasets are never bare symbols; they are read through lookup functions.
func (s *Scope) Resolve(name string) (Value, error) {
	if !IsCanonicalToken(name) {
		return nil, s.unresolved(name)
	}

	rest := RmCanonicalPrefix(name)
	switch {
	case strings.HasPrefix(rest, LocalAttrPrefix):
		attrID := strings.TrimPrefix(rest, LocalAttrPrefix)
		if s.localDataSet != nil {
			if _, ok := s.localDataSet.AttrFromID(attrID); ok {
				if !s.hasCase {
					return UndefinedResult, nil
				}
				return s.localDataSet.GetValue(s.current.ID, attrID), nil
			}
		}
		if attrID == CaseIndexAttrID {
			if !s.hasCase {
				return UndefinedResult, nil
			}
			return float64(s.current.Index), nil
		}
		return nil, NewError(UnresolvedNameError, "Undefined symbol: the attribute no longer exists")

	case strings.HasPrefix(rest, GlobalValuePrefix):
		globalID := strings.TrimPrefix(rest, GlobalValuePrefix)
		if s.globals != nil {
			if global, ok := s.globals.GlobalByID(globalID); ok {
				return global.Value(), nil
			}
		}
		return nil, NewError(UnresolvedNameError, "Undefined symbol: the global value no longer exists")
	}

	return nil, newErrorf(UnresolvedNameError, "Undefined symbol %s", rest)
}

// unresolved builds the error for a bare name, suggesting the closest
// known local name
func (s *Scope) unresolved(name string) error {
	message := fmt.Sprintf("Undefined symbol %s", name)
	if suggestion := s.suggest(name); suggestion != "" {
		message += fmt.Sprintf(". Did you mean %s?", suggestion)
	}
	return NewError(UnresolvedNameError, message)
}

func (s *Scope) suggest(name string) string {
	var candidates []string
	if s.localDataSet != nil {
		for _, attr := range s.localDataSet.Attributes() {
			candidates = append(candidates, symbolText(attr.Name()))
		}
	}
	if s.globals != nil {
		for _, global := range s.globals.Globals() {
			candidates = append(candidates, symbolText(global.Name()))
		}
	}
	candidates = append(candidates, CaseIndexName)
	sort.Strings(candidates)
	return closestName(name, candidates)
}

// closestName returns the candidate within two edits of name, ignoring
// case and backticks, or ""
func closestName(name string, candidates []string) string {
	best, bestDistance := "", 3
	for _, candidate := range candidates {
		distance := levenshtein.Distance(strings.ToLower(name), strings.ToLower(strings.Trim(candidate, "`")), nil)
		if distance < bestDistance {
			best, bestDistance = candidate, distance
		}
	}
	return best
}
