package graph

import (
	"maps"

	"github.com/vogtb/go-formula/packages/formula"
)

// PlottedValueAdornment draws a user formula as a value per graph cell
type PlottedValueAdornment struct {
	formula  *formula.Formula
	measures map[string]float64 // instance key -> value
	err      string
}

func newPlottedValueAdornment(display string) *PlottedValueAdornment {
	return &PlottedValueAdornment{
		formula:  formula.NewFormula(display),
		measures: make(map[string]float64),
	}
}

func (a *PlottedValueAdornment) Formula() *formula.Formula {
	return a.formula
}

func (a *PlottedValueAdornment) HasMeasure(instanceKey string) bool {
	_, exists := a.measures[instanceKey]
	return exists
}

// AddMeasure sets the measure of a cell, replacing any earlier one
func (a *PlottedValueAdornment) AddMeasure(value float64, instanceKey string) {
	a.measures[instanceKey] = value
}

// UpdateMeasureValue changes the measure of a cell that has one
func (a *PlottedValueAdornment) UpdateMeasureValue(value float64, instanceKey string) {
	if _, exists := a.measures[instanceKey]; exists {
		a.measures[instanceKey] = value
	}
}

// Measure returns the value shown in a cell
func (a *PlottedValueAdornment) Measure(instanceKey string) (float64, bool) {
	value, exists := a.measures[instanceKey]
	return value, exists
}

func (a *PlottedValueAdornment) Measures() map[string]float64 {
	return maps.Clone(a.measures)
}

func (a *PlottedValueAdornment) SetFormulaError(message string) {
	a.err = message
}

func (a *PlottedValueAdornment) FormulaError() string {
	return a.err
}
