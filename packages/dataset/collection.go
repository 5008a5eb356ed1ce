package dataset

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/minio/highwayhash"
)

// Collection is one level of the case hierarchy. the first collection of a
// dataset is the top parent; the last is the childmost, whose cases are the
// items themselves.
type Collection struct {
	id      string
	name    string
	attrIDs []string
}

func (c *Collection) ID() string {
	return c.id
}

func (c *Collection) Name() string {
	return c.name
}

// AttrIDs lists the attributes of the collection in order
func (c *Collection) AttrIDs() []string {
	return append([]string(nil), c.attrIDs...)
}

func (c *Collection) indexOf(attrID string) int {
	for i, id := range c.attrIDs {
		if id == attrID {
			return i
		}
	}
	return -1
}

// caseGroup is one case of a collection
type caseGroup struct {
	id       string
	level    int
	index    int // 1-based position within the collection
	itemIDs  []string
	parentID string
}

// hierarchy is the grouping of items into cases for every collection
type hierarchy struct {
	levels [][]*caseGroup
	byID   map[string]*caseGroup
}

var caseHashKey = []byte("CASE0123456789ABCDEF0123456789AB")

// parentCaseID derives a stable case id from the values that define the
// case, so a parent case keeps its id for as long as its values do
func parentCaseID(collectionID, groupKey string) string {
	hash, err := highwayhash.New64(caseHashKey)
	if err != nil {
		panic(fmt.Sprintf("case hash key: %v", err))
	}
	_, _ = hash.Write([]byte(collectionID))
	_, _ = hash.Write([]byte{0x1e})
	_, _ = hash.Write([]byte(groupKey))
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], hash.Sum64())
	return fmt.Sprintf("%s%x", CaseIDPrefix, sum)
}

// buildHierarchy groups items level by level. parent cases are identified
// by the values of the attributes of their own and all ancestor
// collections; cases appear in order of their first item. formula
// attributes never group, so writing results cannot regroup cases.
func (ds *DataSet) buildHierarchy() *hierarchy {
	h := &hierarchy{
		levels: make([][]*caseGroup, len(ds.collections)),
		byID:   make(map[string]*caseGroup),
	}
	last := len(ds.collections) - 1

	// item id -> case of the previous level
	parentOf := make(map[string]string, len(ds.itemIDs))
	var keyAttrs []string
	for level, collection := range ds.collections {
		if level == last {
			for i, itemID := range ds.itemIDs {
				group := &caseGroup{
					id:       itemID,
					level:    level,
					index:    i + 1,
					itemIDs:  []string{itemID},
					parentID: parentOf[itemID],
				}
				h.levels[level] = append(h.levels[level], group)
				h.byID[itemID] = group
			}
			break
		}

		for _, attrID := range collection.attrIDs {
			if attr, ok := ds.attrByID[attrID]; ok && !attr.HasFormula() {
				keyAttrs = append(keyAttrs, attrID)
			}
		}
		groups := make(map[string]*caseGroup)
		next := make(map[string]string, len(ds.itemIDs))
		for _, itemID := range ds.itemIDs {
			parts := make([]string, 0, len(keyAttrs))
			for _, attrID := range keyAttrs {
				parts = append(parts, ds.itemValue(itemID, attrID))
			}
			caseID := parentCaseID(collection.id, strings.Join(parts, "\x1f"))
			group, exists := groups[caseID]
			if !exists {
				group = &caseGroup{
					id:       caseID,
					level:    level,
					index:    len(h.levels[level]) + 1,
					parentID: parentOf[itemID],
				}
				groups[caseID] = group
				h.levels[level] = append(h.levels[level], group)
				h.byID[caseID] = group
			}
			group.itemIDs = append(group.itemIDs, itemID)
			next[itemID] = caseID
		}
		parentOf = next
	}
	return h
}

// caseHierarchy returns the current grouping, rebuilding it after a change
func (ds *DataSet) caseHierarchy() *hierarchy {
	if ds.cases == nil {
		ds.cases = ds.buildHierarchy()
	}
	return ds.cases
}

func (ds *DataSet) invalidateCases() {
	ds.cases = nil
}
