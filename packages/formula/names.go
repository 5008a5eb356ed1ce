package formula

import (
	"regexp"
	"strings"
)

const (
	// CanonicalPrefix starts every canonical token
	CanonicalPrefix = "__CANONICAL_NAME__"
	// LocalAttrPrefix marks an attribute of the formula's own dataset
	LocalAttrPrefix = "LOCAL_ATTR_"
	// GlobalValuePrefix marks a global value
	GlobalValuePrefix = "GLOBAL_VALUE_"
	// CaseIndexAttrID is the reserved id of the caseIndex pseudo-attribute
	CaseIndexAttrID = "CASE_INDEX"
	// CaseIndexName is the display name of the caseIndex pseudo-attribute
	CaseIndexName = "caseIndex"
	// EmptySymbolName stands in for an empty display name
	EmptySymbolName = "_empty_symbol_name_"
)

var (
	leadingDigits = regexp.MustCompile(`^(\d+)`)
	unsafeChars   = regexp.MustCompile(`[^a-zA-Z0-9_]`)
)

// SafeSymbolName turns an arbitrary name into a bare identifier: leading
// digits get a "_" prefix and every other character outside [A-Za-z0-9_]
// becomes "_". distinct names can collide; that ambiguity is kept.
func SafeSymbolName(name string) string {
	name = leadingDigits.ReplaceAllString(name, "_$1")
	return unsafeChars.ReplaceAllString(name, "_")
}

// LocalAttrIDToCanonical returns the token for an attribute of the local
// dataset
func LocalAttrIDToCanonical(attrID string) string {
	return CanonicalPrefix + LocalAttrPrefix + attrID
}

// GlobalValueIDToCanonical returns the token for a global value
func GlobalValueIDToCanonical(globalID string) string {
	return CanonicalPrefix + GlobalValuePrefix + globalID
}

// IDToCanonical returns the token for a foreign dataset or one of its
// attributes. these only appear inside lookup function string arguments.
func IDToCanonical(id string) string {
	return CanonicalPrefix + id
}

// RmCanonicalPrefix strips the canonical prefix, leaving the id
func RmCanonicalPrefix(s string) string {
	return strings.TrimPrefix(s, CanonicalPrefix)
}

// IsCanonicalToken reports whether s is a canonical token
func IsCanonicalToken(s string) bool {
	return strings.HasPrefix(s, CanonicalPrefix)
}

// DataSetNames holds the names of one foreign dataset
type DataSetNames struct {
	// canonical token of the dataset itself
	ID string
	// attribute name -> canonical token
	Attribute map[string]string
}

// DisplayNameMap maps display names to canonical tokens for one document
// state. it is rebuilt whenever it is needed and never persisted.
type DisplayNameMap struct {
	// sanitized local symbol name -> canonical token
	LocalNames map[string]string
	// foreign dataset name -> its names
	DataSet map[string]*DataSetNames
}

// CanonicalNameMap maps canonical tokens back to display names
type CanonicalNameMap map[string]string

// NameMapOptions lists the name sources of a document
type NameMapOptions struct {
	LocalDataSet       DataSet
	DataSets           []DataSet
	GlobalValueManager GlobalValueManager
}

// BuildDisplayNameMap constructs the display name map. later sources win on
// a name collision: globals first, then local attributes, then reserved
// names. useSafeSymbolNames is false only when the map is built to be
// reversed into a canonical name map.
func BuildDisplayNameMap(opts NameMapOptions, useSafeSymbolNames bool) *DisplayNameMap {
	m := &DisplayNameMap{
		LocalNames: make(map[string]string),
		DataSet:    make(map[string]*DataSetNames),
	}

	key := func(name string, safe bool) string {
		if safe {
			name = SafeSymbolName(name)
		}
		if name == "" {
			return EmptySymbolName
		}
		return name
	}

	if opts.GlobalValueManager != nil {
		for _, global := range opts.GlobalValueManager.Globals() {
			m.LocalNames[key(global.Name(), useSafeSymbolNames)] = GlobalValueIDToCanonical(global.ID())
		}
	}

	if opts.LocalDataSet != nil {
		for _, attr := range opts.LocalDataSet.Attributes() {
			m.LocalNames[key(attr.Name(), useSafeSymbolNames)] = LocalAttrIDToCanonical(attr.ID())
		}
	}

	// caseIndex behaves like a local attribute holding the 1-based index of
	// the case in its collection group
	m.LocalNames[CaseIndexName] = LocalAttrIDToCanonical(CaseIndexAttrID)

	// foreign names are string constants, never bare symbols, so they are
	// never sanitized
	for _, ds := range opts.DataSets {
		if ds.Name() == "" {
			continue
		}
		dsKey := key(ds.Name(), false)
		names := &DataSetNames{
			ID:        IDToCanonical(ds.ID()),
			Attribute: make(map[string]string),
		}
		for _, attr := range ds.Attributes() {
			names.Attribute[key(attr.Name(), false)] = IDToCanonical(attr.ID())
		}
		m.DataSet[dsKey] = names
	}

	return m
}

// ReverseDisplayNameMap inverts a display name map
func ReverseDisplayNameMap(m *DisplayNameMap) CanonicalNameMap {
	reversed := make(CanonicalNameMap)
	for name, token := range m.LocalNames {
		reversed[token] = name
	}
	for dsName, names := range m.DataSet {
		reversed[names.ID] = dsName
	}
	for _, names := range m.DataSet {
		for attrName, token := range names.Attribute {
			reversed[token] = attrName
		}
	}
	return reversed
}

// BuildCanonicalNameMap builds the map used to regenerate display text
// from canonical text. names are not sanitized so they round trip.
func BuildCanonicalNameMap(opts NameMapOptions) CanonicalNameMap {
	return ReverseDisplayNameMap(BuildDisplayNameMap(opts, false))
}

var reservedWords = map[string]struct{}{
	"true":  {},
	"false": {},
	"and":   {},
	"or":    {},
	"not":   {},
}

// symbolText renders a name as it should appear in display text
func symbolText(name string) string {
	_, reserved := reservedWords[strings.ToLower(name)]
	if name != "" && !reserved && SafeSymbolName(name) == name {
		return name
	}
	return "`" + name + "`"
}
