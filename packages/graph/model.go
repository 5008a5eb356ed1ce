package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/vogtb/go-formula/packages/formula"
)

// axis places a graph can split its cases by
const (
	AxisTop   = "top"
	AxisRight = "right"
	AxisX     = "x"
	AxisY     = "y"
)

var axisPlaces = []string{AxisTop, AxisRight, AxisX, AxisY}

// ContentModel is a graph: a dataset plotted against attributes assigned to
// axis places. categorical axis attributes split the plot into cells.
type ContentModel struct {
	formula.Observers

	id           string
	dataSet      formula.DataSet
	axes         map[string]string // place -> attribute id
	plottedValue *PlottedValueAdornment
}

func New(ds formula.DataSet) *ContentModel {
	return &ContentModel{
		id:      "GRPH" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		dataSet: ds,
		axes:    make(map[string]string),
	}
}

func (m *ContentModel) ID() string {
	return m.id
}

func (m *ContentModel) DataSet() formula.DataSet {
	return m.dataSet
}

// SetAxisAttribute assigns an attribute to an axis place; "" clears it
func (m *ContentModel) SetAxisAttribute(place, attrID string) error {
	if !isAxisPlace(place) {
		return formula.NewApplicationError(formula.InvalidArgument, fmt.Sprintf("unknown axis place %s", place))
	}
	if attrID != "" {
		if _, ok := m.dataSet.AttrFromID(attrID); !ok {
			return formula.NewApplicationError(formula.NotFound, fmt.Sprintf("attribute %s not found", attrID))
		}
	}
	if m.axes[place] == attrID {
		return nil
	}
	if attrID == "" {
		delete(m.axes, place)
	} else {
		m.axes[place] = attrID
	}
	m.Emit(formula.Event{
		Kind:     formula.EventAxisAttributeChanged,
		SourceID: m.id,
		AttrIDs:  []string{attrID},
		Axis:     place,
	})
	return nil
}

func (m *ContentModel) AxisAttribute(place string) string {
	return m.axes[place]
}

func isAxisPlace(place string) bool {
	for _, p := range axisPlaces {
		if p == place {
			return true
		}
	}
	return false
}

// AddPlottedValue shows a plotted value computed by display
func (m *ContentModel) AddPlottedValue(display string) *PlottedValueAdornment {
	m.plottedValue = newPlottedValueAdornment(display)
	return m.plottedValue
}

func (m *ContentModel) RemovePlottedValue() {
	m.plottedValue = nil
}

func (m *ContentModel) PlottedValue() formula.PlottedValueModel {
	if m.plottedValue == nil {
		return nil
	}
	return m.plottedValue
}

// Adornment returns the concrete plotted value adornment, or nil
func (m *ContentModel) Adornment() *PlottedValueAdornment {
	return m.plottedValue
}

type split struct {
	attrID     string
	categories []string
}

// splits lists the categorical axis attributes and their categories in
// order of first appearance
func (m *ContentModel) splits() []split {
	var result []split
	items := m.dataSet.ItemIDs()
	for _, place := range axisPlaces {
		attrID, ok := m.axes[place]
		if !ok {
			continue
		}
		var categories []string
		seen := make(map[string]struct{})
		numeric := true
		for _, itemID := range items {
			value := m.dataSet.GetValue(itemID, attrID)
			if value == "" {
				continue
			}
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				numeric = false
			}
			if _, dup := seen[value]; !dup {
				seen[value] = struct{}{}
				categories = append(categories, value)
			}
		}
		if numeric {
			continue
		}
		result = append(result, split{attrID: attrID, categories: categories})
	}
	return result
}

// SubPlotCells is the cross product of the categories of every split.
// a graph without splits has a single cell holding every case.
func (m *ContentModel) SubPlotCells() []formula.SubPlotCell {
	splits := m.splits()
	keys := []map[string]string{{}}
	for _, s := range splits {
		next := make([]map[string]string, 0, len(keys)*len(s.categories))
		for _, key := range keys {
			for _, category := range s.categories {
				extended := make(map[string]string, len(key)+1)
				for k, v := range key {
					extended[k] = v
				}
				extended[s.attrID] = category
				next = append(next, extended)
			}
		}
		keys = next
	}

	cells := make([]formula.SubPlotCell, 0, len(keys))
	items := m.dataSet.ItemIDs()
	for _, key := range keys {
		cell := formula.SubPlotCell{Key: key, InstanceKey: instanceKey(key)}
		for _, itemID := range items {
			if m.inCell(itemID, key) {
				cell.CaseIDs = append(cell.CaseIDs, itemID)
			}
		}
		cells = append(cells, cell)
	}
	return cells
}

func (m *ContentModel) inCell(itemID string, key map[string]string) bool {
	for attrID, category := range key {
		if m.dataSet.GetValue(itemID, attrID) != category {
			return false
		}
	}
	return true
}

// instanceKey is the JSON form of a cell key; map keys marshal sorted, so
// equal keys give equal instance keys
func instanceKey(key map[string]string) string {
	data, err := json.Marshal(key)
	if err != nil {
		return "{}"
	}
	return string(data)
}
