package formula

import "math"

// lookup functions read values from another dataset. their dataset and
// attribute arguments must be string constants so that they can be
// canonicalized and reported as dependencies.

const (
	lookupByIndexArgs = 3
	lookupByKeyArgs   = 4
)

// stringConstant returns the value of a string literal argument
func stringConstant(arg ASTNode) (string, bool) {
	if str, ok := arg.(*StringNode); ok {
		return str.Value, true
	}
	return "", false
}

// requireStringConstants checks that the first count args are string
// constants. positions in the message are 1-based.
func requireStringConstants(name string, args []ASTNode, count int) error {
	for i := 0; i < count; i++ {
		if _, ok := stringConstant(args[i]); !ok {
			return newErrorf(ArgumentError, "%s requires argument %d to be a string constant", name, i+1)
		}
	}
	return nil
}

// canonicalizeLookupArgs rewrites the dataset name and any attribute names
// of that dataset to canonical tokens. unknown names stay as written. the
// dataset argument may already be a token, e.g. when an attribute named
// in the lookup was added to the target after the formula was written.
func canonicalizeLookupArgs(args []*Token, m *DisplayNameMap, attrArgs int) {
	if len(args) == 0 || args[0] == nil {
		return
	}
	names, ok := lookupDataSetNames(m, args[0].Value)
	if !ok {
		return
	}
	args[0].Value = names.ID
	for i := 1; i <= attrArgs && i < len(args); i++ {
		if args[i] == nil {
			continue
		}
		if token, ok := names.Attribute[args[i].Value]; ok {
			args[i].Value = token
		}
	}
}

func lookupDataSetNames(m *DisplayNameMap, arg string) (*DataSetNames, bool) {
	if names, ok := m.DataSet[arg]; ok {
		return names, true
	}
	if !IsCanonicalToken(arg) {
		return nil, false
	}
	for _, names := range m.DataSet {
		if names.ID == arg {
			return names, true
		}
	}
	return nil, false
}

func lookupDependency(args []ASTNode, withKey bool) Dependency {
	dep := Dependency{Type: DependencyLookup}
	if len(args) > 0 {
		value, _ := stringConstant(args[0])
		dep.DataSetID = RmCanonicalPrefix(value)
	}
	if len(args) > 1 {
		value, _ := stringConstant(args[1])
		dep.AttrID = RmCanonicalPrefix(value)
	}
	if withKey && len(args) > 2 {
		value, _ := stringConstant(args[2])
		dep.KeyAttrID = RmCanonicalPrefix(value)
	}
	return dep
}

// lookupTarget resolves the dataset and attributes of a lookup, failing
// with a LookupTargetError naming the missing entity
func lookupTarget(s *Scope, dep Dependency) (DataSet, error) {
	ds, ok := s.DataSet(dep.DataSetID)
	if !ok {
		return nil, newErrorf(LookupTargetError, "Unknown dataset: %s", dep.DataSetID)
	}
	for _, attrID := range []string{dep.AttrID, dep.KeyAttrID} {
		if attrID == "" {
			continue
		}
		if _, ok := ds.AttrFromID(attrID); !ok {
			return nil, newErrorf(LookupTargetError, "Unknown attribute %s in dataset %s", attrID, ds.Name())
		}
	}
	return ds, nil
}

func init() {
	register(
		// lookupByIndex("dataSetName", "attributeName", index)
		&Function{
			Name:    "lookupByIndex",
			MinArgs: lookupByIndexArgs,
			MaxArgs: lookupByIndexArgs,
			Canonicalize: func(args []*Token, m *DisplayNameMap) {
				canonicalizeLookupArgs(args, m, 1)
			},
			GetDependency: func(args []ASTNode) Dependency {
				return lookupDependency(args, false)
			},
			EvaluateRaw: func(args []ASTNode, s *Scope) (Value, error) {
				if err := requireStringConstants("lookupByIndex", args, 2); err != nil {
					return nil, err
				}
				dep := lookupDependency(args, false)
				index, err := args[2].Eval(s)
				if err != nil {
					return nil, err
				}
				ds, err := lookupTarget(s, dep)
				if err != nil {
					return nil, err
				}
				num, ok := toNumber(index)
				if !ok || num != math.Trunc(num) {
					return UndefinedResult, nil
				}
				zeroBasedIndex := int(num) - 1
				value, ok := ds.GetValueAtIndex(zeroBasedIndex, dep.AttrID)
				if !ok || value == "" {
					return UndefinedResult, nil
				}
				return value, nil
			},
		},

		// lookupByKey("dataSetName", "attributeName", "keyAttributeName", keyValue)
		&Function{
			Name:    "lookupByKey",
			MinArgs: lookupByKeyArgs,
			MaxArgs: lookupByKeyArgs,
			Canonicalize: func(args []*Token, m *DisplayNameMap) {
				canonicalizeLookupArgs(args, m, 2)
			},
			GetDependency: func(args []ASTNode) Dependency {
				return lookupDependency(args, true)
			},
			EvaluateRaw: func(args []ASTNode, s *Scope) (Value, error) {
				if err := requireStringConstants("lookupByKey", args, 3); err != nil {
					return nil, err
				}
				dep := lookupDependency(args, true)
				keyValue, err := args[3].Eval(s)
				if err != nil {
					return nil, err
				}
				ds, err := lookupTarget(s, dep)
				if err != nil {
					return nil, err
				}
				// linear scan, first match wins
				for _, caseID := range ds.ItemIDs() {
					if valuesEqual(ds.GetValue(caseID, dep.KeyAttrID), keyValue) {
						if value := ds.GetValue(caseID, dep.AttrID); value != "" {
							return value, nil
						}
						return UndefinedResult, nil
					}
				}
				return UndefinedResult, nil
			},
		},
	)
}
