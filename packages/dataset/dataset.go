package dataset

import (
	"fmt"
	"slices"

	"github.com/vogtb/go-formula/packages/formula"
)

// DataSet is an in-memory hierarchical table. items are the rows; the
// collections group them into parent cases by the values of parent
// attributes. every mutation notifies subscribers before it returns.
type DataSet struct {
	formula.Observers

	id   string
	name string

	attributes  []*Attribute
	attrByID    map[string]*Attribute
	collections []*Collection

	itemIDs   []string
	itemIndex map[string]int
	values    *ValueTable

	cases *hierarchy // nil when stale
}

// Case is an item to add. values are keyed by attribute name or id.
type Case struct {
	ID     string
	Values map[string]string
}

// AttributeSpec describes an attribute to add
type AttributeSpec struct {
	ID      string
	Name    string
	Formula string
	// Collection is the id of the collection to add to, the childmost when
	// empty
	Collection string
}

// New creates an empty flat dataset
func New(name string) *DataSet {
	return NewWithID("", name)
}

func NewWithID(id, name string) *DataSet {
	if id == "" {
		id = newID(DataSetIDPrefix)
	}
	return &DataSet{
		id:          id,
		name:        name,
		attrByID:    make(map[string]*Attribute),
		collections: []*Collection{{id: newID(CollectionIDPrefix), name: "Cases"}},
		itemIndex:   make(map[string]int),
		values:      NewValueTable(),
	}
}

func (ds *DataSet) ID() string {
	return ds.id
}

func (ds *DataSet) Name() string {
	return ds.name
}

// SetName renames the dataset
func (ds *DataSet) SetName(name string) {
	if name == ds.name {
		return
	}
	ds.name = name
	ds.Emit(formula.Event{Kind: formula.EventDataSetRenamed, SourceID: ds.id})
}

func (ds *DataSet) Attributes() []formula.Attribute {
	result := make([]formula.Attribute, 0, len(ds.attributes))
	for _, attr := range ds.attributes {
		result = append(result, attr)
	}
	return result
}

func (ds *DataSet) AttrFromID(id string) (formula.Attribute, bool) {
	attr, exists := ds.attrByID[id]
	if !exists {
		return nil, false
	}
	return attr, true
}

// Attribute returns an attribute by id
func (ds *DataSet) Attribute(id string) (*Attribute, bool) {
	attr, exists := ds.attrByID[id]
	return attr, exists
}

// AttrFromName returns the first attribute with the name
func (ds *DataSet) AttrFromName(name string) (*Attribute, bool) {
	for _, attr := range ds.attributes {
		if attr.name == name {
			return attr, true
		}
	}
	return nil, false
}

// AttrIDFromName returns the id of the attribute with the name, or ""
func (ds *DataSet) AttrIDFromName(name string) string {
	if attr, ok := ds.AttrFromName(name); ok {
		return attr.id
	}
	return ""
}

// resolveAttr finds an attribute by id, then by name
func (ds *DataSet) resolveAttr(key string) (*Attribute, bool) {
	if attr, exists := ds.attrByID[key]; exists {
		return attr, true
	}
	return ds.AttrFromName(key)
}

// AddAttribute adds an attribute, with a formula when spec.Formula is set
func (ds *DataSet) AddAttribute(spec AttributeSpec) (*Attribute, error) {
	if spec.Name == "" {
		return nil, formula.NewApplicationError(formula.InvalidArgument, "attribute name is required")
	}
	if _, exists := ds.AttrFromName(spec.Name); exists {
		return nil, formula.NewApplicationError(formula.AlreadyExists,
			fmt.Sprintf("attribute %s already exists in dataset %s", spec.Name, ds.name))
	}
	if _, exists := ds.attrByID[spec.ID]; exists && spec.ID != "" {
		return nil, formula.NewApplicationError(formula.AlreadyExists, fmt.Sprintf("attribute id %s is taken", spec.ID))
	}
	collection := ds.childmost()
	if spec.Collection != "" {
		var ok bool
		if collection, ok = ds.Collection(spec.Collection); !ok {
			return nil, formula.NewApplicationError(formula.NotFound, fmt.Sprintf("collection %s not found", spec.Collection))
		}
	}

	attr := newAttribute(spec.ID, spec.Name, spec.Formula)
	ds.attributes = append(ds.attributes, attr)
	ds.attrByID[attr.id] = attr
	collection.attrIDs = append(collection.attrIDs, attr.id)
	ds.invalidateCases()

	ds.Emit(formula.Event{Kind: formula.EventAttributesAdded, SourceID: ds.id, AttrIDs: []string{attr.id}})
	return attr, nil
}

// RemoveAttribute deletes an attribute and its values. a collection left
// without attributes is removed too.
func (ds *DataSet) RemoveAttribute(id string) error {
	attr, exists := ds.attrByID[id]
	if !exists {
		return formula.NewApplicationError(formula.NotFound, fmt.Sprintf("attribute %s not found", id))
	}
	for _, valueID := range attr.values {
		ds.values.Release(valueID)
	}
	delete(ds.attrByID, id)
	ds.attributes = slices.DeleteFunc(ds.attributes, func(a *Attribute) bool { return a.id == id })
	collectionsChanged := ds.detachFromCollection(id)
	ds.invalidateCases()

	ds.Emit(formula.Event{Kind: formula.EventAttributesRemoved, SourceID: ds.id, AttrIDs: []string{id}})
	if collectionsChanged {
		ds.Emit(formula.Event{Kind: formula.EventCollectionsChanged, SourceID: ds.id})
	}
	return nil
}

func (ds *DataSet) RenameAttribute(id, name string) error {
	attr, exists := ds.attrByID[id]
	if !exists {
		return formula.NewApplicationError(formula.NotFound, fmt.Sprintf("attribute %s not found", id))
	}
	if name == "" {
		return formula.NewApplicationError(formula.InvalidArgument, "attribute name is required")
	}
	if other, exists := ds.AttrFromName(name); exists && other.id != id {
		return formula.NewApplicationError(formula.AlreadyExists,
			fmt.Sprintf("attribute %s already exists in dataset %s", name, ds.name))
	}
	if attr.name == name {
		return nil
	}
	attr.name = name
	ds.Emit(formula.Event{Kind: formula.EventAttributeRenamed, SourceID: ds.id, AttrIDs: []string{id}})
	return nil
}

// SetAttributeFormula replaces the display formula of an attribute. an
// empty display turns the attribute back into an ordinary one that keeps
// its last values.
func (ds *DataSet) SetAttributeFormula(id, display string) error {
	attr, exists := ds.attrByID[id]
	if !exists {
		return formula.NewApplicationError(formula.NotFound, fmt.Sprintf("attribute %s not found", id))
	}
	// formula attributes do not group parent cases
	ds.invalidateCases()
	attr.formula.SetDisplayFormula(display)
	ds.Emit(formula.Event{Kind: formula.EventFormulaChanged, SourceID: ds.id, AttrIDs: []string{id}})
	return nil
}

// Collections lists the collections from top parent to childmost
func (ds *DataSet) Collections() []*Collection {
	return append([]*Collection(nil), ds.collections...)
}

func (ds *DataSet) Collection(id string) (*Collection, bool) {
	for _, c := range ds.collections {
		if c.id == id {
			return c, true
		}
	}
	return nil, false
}

func (ds *DataSet) childmost() *Collection {
	return ds.collections[len(ds.collections)-1]
}

// collectionLevel returns the level of the collection holding attrID.
// unknown attributes, e.g. caseIndex, belong to the childmost collection.
func (ds *DataSet) collectionLevel(attrID string) int {
	for level, c := range ds.collections {
		if c.indexOf(attrID) >= 0 {
			return level
		}
	}
	return len(ds.collections) - 1
}

// detachFromCollection removes an attribute from its collection and drops
// the collection if it became empty. reports whether collections changed.
func (ds *DataSet) detachFromCollection(attrID string) bool {
	for level, c := range ds.collections {
		i := c.indexOf(attrID)
		if i < 0 {
			continue
		}
		c.attrIDs = slices.Delete(c.attrIDs, i, i+1)
		if len(c.attrIDs) == 0 && len(ds.collections) > 1 {
			ds.collections = slices.Delete(ds.collections, level, level+1)
			return true
		}
		return false
	}
	return false
}

// MoveAttributeToNewCollection moves an attribute into a new top-level
// parent collection and returns the new collection's id
func (ds *DataSet) MoveAttributeToNewCollection(attrID string) (string, error) {
	attr, exists := ds.attrByID[attrID]
	if !exists {
		return "", formula.NewApplicationError(formula.NotFound, fmt.Sprintf("attribute %s not found", attrID))
	}
	if ds.leavesChildmostEmpty(attrID) {
		return "", formula.NewApplicationError(formula.FailedPrecondition,
			fmt.Sprintf("attribute %s is the last attribute of the childmost collection", attr.name))
	}
	ds.detachFromCollection(attrID)
	collection := &Collection{id: newID(CollectionIDPrefix), name: attr.name, attrIDs: []string{attrID}}
	ds.collections = append([]*Collection{collection}, ds.collections...)
	ds.invalidateCases()

	ds.Emit(formula.Event{Kind: formula.EventAttributeMoved, SourceID: ds.id, AttrIDs: []string{attrID}})
	ds.Emit(formula.Event{Kind: formula.EventCollectionsChanged, SourceID: ds.id})
	return collection.id, nil
}

// MoveAttribute moves an attribute into an existing collection
func (ds *DataSet) MoveAttribute(attrID, collectionID string) error {
	if _, exists := ds.attrByID[attrID]; !exists {
		return formula.NewApplicationError(formula.NotFound, fmt.Sprintf("attribute %s not found", attrID))
	}
	target, ok := ds.Collection(collectionID)
	if !ok {
		return formula.NewApplicationError(formula.NotFound, fmt.Sprintf("collection %s not found", collectionID))
	}
	if target.indexOf(attrID) >= 0 {
		return nil
	}
	if ds.leavesChildmostEmpty(attrID) {
		return formula.NewApplicationError(formula.FailedPrecondition,
			fmt.Sprintf("attribute %s is the last attribute of the childmost collection", attrID))
	}
	collectionsChanged := ds.detachFromCollection(attrID)
	target.attrIDs = append(target.attrIDs, attrID)
	ds.invalidateCases()

	ds.Emit(formula.Event{Kind: formula.EventAttributeMoved, SourceID: ds.id, AttrIDs: []string{attrID}})
	if collectionsChanged {
		ds.Emit(formula.Event{Kind: formula.EventCollectionsChanged, SourceID: ds.id})
	}
	return nil
}

func (ds *DataSet) leavesChildmostEmpty(attrID string) bool {
	c := ds.childmost()
	return len(c.attrIDs) == 1 && c.attrIDs[0] == attrID
}

// AddCases appends items and returns their ids. values given for formula
// attributes are ignored.
func (ds *DataSet) AddCases(cases ...Case) []string {
	ids := make([]string, 0, len(cases))
	for _, c := range cases {
		id := c.ID
		if id == "" {
			id = newID(ItemIDPrefix)
		}
		if _, exists := ds.itemIndex[id]; exists {
			continue
		}
		ds.itemIndex[id] = len(ds.itemIDs)
		ds.itemIDs = append(ds.itemIDs, id)
		for key, value := range c.Values {
			attr, ok := ds.resolveAttr(key)
			if !ok || attr.HasFormula() || value == "" {
				continue
			}
			attr.values[id] = ds.values.Intern(value)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ids
	}
	ds.invalidateCases()
	ds.Emit(formula.Event{Kind: formula.EventCasesAdded, SourceID: ds.id, CaseIDs: ids})
	return ids
}

// RemoveCases removes items, or every item of a parent case
func (ds *DataSet) RemoveCases(caseIDs ...string) {
	remove := make(map[string]struct{})
	for _, caseID := range caseIDs {
		for _, itemID := range ds.itemsOf(caseID) {
			remove[itemID] = struct{}{}
		}
	}
	if len(remove) == 0 {
		return
	}

	removed := make([]string, 0, len(remove))
	kept := ds.itemIDs[:0]
	for _, itemID := range ds.itemIDs {
		if _, ok := remove[itemID]; !ok {
			kept = append(kept, itemID)
			continue
		}
		removed = append(removed, itemID)
		for _, attr := range ds.attributes {
			if valueID, ok := attr.values[itemID]; ok {
				ds.values.Release(valueID)
				delete(attr.values, itemID)
			}
		}
	}
	ds.itemIDs = kept
	ds.itemIndex = make(map[string]int, len(kept))
	for i, itemID := range kept {
		ds.itemIndex[itemID] = i
	}
	ds.invalidateCases()
	ds.Emit(formula.Event{Kind: formula.EventCasesRemoved, SourceID: ds.id, CaseIDs: removed})
}

// itemsOf expands a case id to the ids of its items
func (ds *DataSet) itemsOf(caseID string) []string {
	if _, isItem := ds.itemIndex[caseID]; isItem {
		return []string{caseID}
	}
	if group, exists := ds.caseHierarchy().byID[caseID]; exists {
		return group.itemIDs
	}
	return nil
}

// ItemIDs lists the items in order
func (ds *DataSet) ItemIDs() []string {
	return append([]string(nil), ds.itemIDs...)
}

// CasesForAttribute lists the cases of the attribute's collection
func (ds *DataSet) CasesForAttribute(attrID string) []formula.CaseInfo {
	h := ds.caseHierarchy()
	level := ds.collectionLevel(attrID)
	result := make([]formula.CaseInfo, 0, len(h.levels[level]))
	for _, group := range h.levels[level] {
		result = append(result, ds.caseInfo(h, group))
	}
	return result
}

// CasesForCollection lists the cases of a collection
func (ds *DataSet) CasesForCollection(collectionID string) []formula.CaseInfo {
	h := ds.caseHierarchy()
	for level, c := range ds.collections {
		if c.id != collectionID {
			continue
		}
		result := make([]formula.CaseInfo, 0, len(h.levels[level]))
		for _, group := range h.levels[level] {
			result = append(result, ds.caseInfo(h, group))
		}
		return result
	}
	return nil
}

func (ds *DataSet) CaseInfo(caseID string) (formula.CaseInfo, bool) {
	h := ds.caseHierarchy()
	group, exists := h.byID[caseID]
	if !exists {
		return formula.CaseInfo{}, false
	}
	return ds.caseInfo(h, group), true
}

// caseInfo describes a case for formulas. a childmost case aggregates over
// the items sharing its parent; a parent case over its own items.
func (ds *DataSet) caseInfo(h *hierarchy, group *caseGroup) formula.CaseInfo {
	info := formula.CaseInfo{ID: group.id, Index: group.index}
	switch {
	case group.level < len(ds.collections)-1:
		info.AggregateIDs = group.itemIDs
	case group.parentID != "":
		info.AggregateIDs = h.byID[group.parentID].itemIDs
	default:
		info.AggregateIDs = ds.itemIDs
	}
	return info
}

func (ds *DataSet) itemValue(itemID, attrID string) string {
	attr, exists := ds.attrByID[attrID]
	if !exists {
		return ""
	}
	return ds.values.Value(attr.values[itemID])
}

// GetValue returns the value of a case. a parent case has the value of its
// first item.
func (ds *DataSet) GetValue(caseID, attrID string) string {
	items := ds.itemsOf(caseID)
	if len(items) == 0 {
		return ""
	}
	return ds.itemValue(items[0], attrID)
}

// GetValueAtIndex returns the value of the item at a 0-based index
func (ds *DataSet) GetValueAtIndex(index int, attrID string) (string, bool) {
	if index < 0 || index >= len(ds.itemIDs) {
		return "", false
	}
	if _, exists := ds.attrByID[attrID]; !exists {
		return "", false
	}
	return ds.itemValue(ds.itemIDs[index], attrID), true
}

// Values lists the values of an attribute for the cases of its collection
func (ds *DataSet) Values(attrID string) []string {
	cases := ds.CasesForAttribute(attrID)
	result := make([]string, 0, len(cases))
	for _, info := range cases {
		result = append(result, ds.GetValue(info.ID, attrID))
	}
	return result
}

// SetValue is a user edit of one value. formula attributes cannot be
// edited.
func (ds *DataSet) SetValue(caseID, attrID, value string) error {
	attr, exists := ds.attrByID[attrID]
	if !exists {
		return formula.NewApplicationError(formula.NotFound, fmt.Sprintf("attribute %s not found", attrID))
	}
	if attr.HasFormula() {
		return formula.NewApplicationError(formula.FailedPrecondition,
			fmt.Sprintf("attribute %s is computed by a formula", attr.name))
	}
	if len(ds.itemsOf(caseID)) == 0 {
		return formula.NewApplicationError(formula.NotFound, fmt.Sprintf("case %s not found", caseID))
	}
	ds.SetCaseValues("", []formula.CaseValue{{CaseID: caseID, AttrID: attrID, Value: value}})
	return nil
}

// SetCaseValues writes values and notifies once for those that changed.
// origin is empty for user edits, which are ignored for formula
// attributes, and the formula attribute id for formula results.
func (ds *DataSet) SetCaseValues(origin string, values []formula.CaseValue) {
	var attrIDs, caseIDs []string
	seenCases := make(map[string]struct{})
	regroup := false
	for _, cv := range values {
		attr, exists := ds.attrByID[cv.AttrID]
		if !exists || (origin == "" && attr.HasFormula()) {
			continue
		}
		changed := false
		for _, itemID := range ds.itemsOf(cv.CaseID) {
			old := attr.values[itemID]
			if ds.values.Value(old) == cv.Value {
				continue
			}
			if id := ds.values.Replace(old, cv.Value); id == 0 {
				delete(attr.values, itemID)
			} else {
				attr.values[itemID] = id
			}
			changed = true
		}
		if !changed {
			continue
		}
		if !slices.Contains(attrIDs, cv.AttrID) {
			attrIDs = append(attrIDs, cv.AttrID)
		}
		if _, seen := seenCases[cv.CaseID]; !seen {
			seenCases[cv.CaseID] = struct{}{}
			caseIDs = append(caseIDs, cv.CaseID)
		}
		if !attr.HasFormula() && ds.collectionLevel(cv.AttrID) < len(ds.collections)-1 {
			regroup = true
		}
	}
	if len(attrIDs) == 0 {
		return
	}
	if regroup {
		ds.invalidateCases()
	}
	ds.Emit(formula.Event{
		Kind:     formula.EventValuesChanged,
		SourceID: ds.id,
		AttrIDs:  attrIDs,
		CaseIDs:  caseIDs,
		Origin:   origin,
	})
}
