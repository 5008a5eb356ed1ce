package dataset

// ValueTable interns case values with reference counting. most columns
// repeat a small set of values, so cells store an id instead of the text.
// id 0 is the empty value and is never stored.
type ValueTable struct {
	values     map[string]uint32
	reverseMap map[uint32]string
	refCounts  map[uint32]int // reference count for each value ID
	nextID     uint32
}

// NewValueTable creates an empty value table
func NewValueTable() *ValueTable {
	return &ValueTable{
		values:     make(map[string]uint32),
		reverseMap: make(map[uint32]string),
		refCounts:  make(map[uint32]int),
		nextID:     1, // start at 1, reserve 0 for the empty value
	}
}

// Intern adds a reference to a value and returns its ID
func (vt *ValueTable) Intern(s string) uint32 {
	if s == "" {
		return 0
	}
	if id, exists := vt.values[s]; exists {
		vt.refCounts[id]++
		return id
	}

	id := vt.nextID
	vt.values[s] = id
	vt.reverseMap[id] = s
	vt.refCounts[id] = 1
	vt.nextID++

	return id
}

// Value retrieves a value by its ID
func (vt *ValueTable) Value(id uint32) string {
	return vt.reverseMap[id]
}

// Contains checks if a value is stored and returns its ID
func (vt *ValueTable) Contains(s string) (uint32, bool) {
	id, exists := vt.values[s]
	return id, exists
}

// Release drops a reference. the value is forgotten once nothing uses it.
// returns true if the value was removed.
func (vt *ValueTable) Release(id uint32) bool {
	s, exists := vt.reverseMap[id]
	if !exists {
		return false
	}

	vt.refCounts[id]--
	if vt.refCounts[id] <= 0 {
		delete(vt.values, s)
		delete(vt.reverseMap, id)
		delete(vt.refCounts, id)
		return true
	}
	return false
}

// Replace releases old and interns s, returning the new ID
func (vt *ValueTable) Replace(old uint32, s string) uint32 {
	if vt.reverseMap[old] == s && old != 0 {
		return old
	}
	id := vt.Intern(s)
	vt.Release(old)
	return id
}

// GetReferenceCount returns the reference count for a value ID
func (vt *ValueTable) GetReferenceCount(id uint32) int {
	return vt.refCounts[id]
}

// Count returns the number of distinct values in the table
func (vt *ValueTable) Count() int {
	return len(vt.values)
}

// TotalReferences returns the total number of references across all values
func (vt *ValueTable) TotalReferences() int {
	total := 0
	for _, count := range vt.refCounts {
		total += count
	}
	return total
}
