package formula

import "slices"

// EventKind is a category of structural or value mutation
type EventKind int

const (
	EventAttributesAdded EventKind = iota
	EventAttributesRemoved
	EventAttributeRenamed
	EventAttributeMoved
	EventCasesAdded
	EventCasesRemoved
	EventValuesChanged
	EventCollectionsChanged
	EventDataSetRenamed
	EventFormulaChanged
	EventGlobalAdded
	EventGlobalRemoved
	EventGlobalRenamed
	EventGlobalValueChanged
	EventAxisAttributeChanged
)

var eventKindNames = map[EventKind]string{
	EventAttributesAdded:      "attributesAdded",
	EventAttributesRemoved:    "attributesRemoved",
	EventAttributeRenamed:     "attributeRenamed",
	EventAttributeMoved:       "attributeMoved",
	EventCasesAdded:           "casesAdded",
	EventCasesRemoved:         "casesRemoved",
	EventValuesChanged:        "valuesChanged",
	EventCollectionsChanged:   "collectionsChanged",
	EventDataSetRenamed:       "dataSetRenamed",
	EventFormulaChanged:       "formulaChanged",
	EventGlobalAdded:          "globalAdded",
	EventGlobalRemoved:        "globalRemoved",
	EventGlobalRenamed:        "globalRenamed",
	EventGlobalValueChanged:   "globalValueChanged",
	EventAxisAttributeChanged: "setAttributeID",
}

func (k EventKind) String() string {
	return eventKindNames[k]
}

// Event is a mutation notification. only the fields relevant to Kind are
// set.
type Event struct {
	Kind EventKind
	// id of the dataset, global manager or graph that emitted the event
	SourceID string
	AttrIDs  []string
	CaseIDs  []string
	GlobalID string
	// Origin is the formula attribute id for formula-produced value writes
	// and empty for user edits
	Origin string
	// Axis is the axis place for axis reassignment
	Axis string
}

// HasAttr reports whether the event names attrID
func (e Event) HasAttr(attrID string) bool {
	return slices.Contains(e.AttrIDs, attrID)
}

type subscription struct {
	fn    func(Event)
	kinds map[EventKind]struct{}
}

// Observers is a synchronous observer registry. collaborators embed it to
// deliver notifications inside the mutation that caused them.
type Observers struct {
	subs   map[int]*subscription
	order  []int
	nextID int
}

// Subscribe registers fn for the given kinds, or every kind when none are
// given. the returned disposer is safe to call more than once.
func (o *Observers) Subscribe(fn func(Event), kinds ...EventKind) func() {
	if o.subs == nil {
		o.subs = make(map[int]*subscription)
	}
	o.nextID++
	id := o.nextID
	sub := &subscription{fn: fn}
	if len(kinds) > 0 {
		sub.kinds = make(map[EventKind]struct{}, len(kinds))
		for _, kind := range kinds {
			sub.kinds[kind] = struct{}{}
		}
	}
	o.subs[id] = sub
	o.order = append(o.order, id)

	return func() {
		if _, exists := o.subs[id]; !exists {
			return
		}
		delete(o.subs, id)
		o.order = slices.DeleteFunc(o.order, func(other int) bool { return other == id })
	}
}

// Emit delivers e to every matching subscriber in subscription order.
// subscribers may subscribe or dispose while being notified.
func (o *Observers) Emit(e Event) {
	ids := slices.Clone(o.order)
	for _, id := range ids {
		sub, exists := o.subs[id]
		if !exists {
			continue
		}
		if sub.kinds != nil {
			if _, wanted := sub.kinds[e.Kind]; !wanted {
				continue
			}
		}
		sub.fn(e)
	}
}

// Count returns the number of live subscriptions
func (o *Observers) Count() int {
	return len(o.subs)
}
