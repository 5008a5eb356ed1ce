package main

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/vogtb/go-formula/packages/dataset"
	"github.com/vogtb/go-formula/packages/graph"
)

// Document is the YAML input of the tool
type Document struct {
	Globals  []GlobalDoc  `yaml:"globals"`
	DataSets []DataSetDoc `yaml:"datasets"`
	Graphs   []GraphDoc   `yaml:"graphs"`
}

type GlobalDoc struct {
	Name  string  `yaml:"name"`
	Value float64 `yaml:"value"`
}

type DataSetDoc struct {
	Name       string         `yaml:"name"`
	Attributes []AttributeDoc `yaml:"attributes"`
	// Parents lists parent collections, top first, by attribute names
	Parents [][]string          `yaml:"parents"`
	Cases   []map[string]string `yaml:"cases"`
}

type AttributeDoc struct {
	Name    string `yaml:"name"`
	Formula string `yaml:"formula"`
}

type GraphDoc struct {
	DataSet      string            `yaml:"dataset"`
	Axes         map[string]string `yaml:"axes"` // place -> attribute name
	PlottedValue string            `yaml:"plotted_value"`
}

// Workspace is a document turned into live models
type Workspace struct {
	Globals  *dataset.GlobalValueManager
	DataSets []*dataset.DataSet
	Graphs   []*graph.ContentModel
}

// LoadDocument reads a YAML document
func LoadDocument(fs afero.Fs, path string) (*Document, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading document %s", path)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing document %s", path)
	}
	return &doc, nil
}

// Build creates the models of a document. every problem is reported, not
// just the first.
func (d *Document) Build() (*Workspace, error) {
	var result *multierror.Error
	ws := &Workspace{Globals: dataset.NewGlobalValueManager()}

	for _, g := range d.Globals {
		if _, err := ws.Globals.Add(g.Name, g.Value); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "global %q", g.Name))
		}
	}

	byName := make(map[string]*dataset.DataSet)
	for _, doc := range d.DataSets {
		ds, err := doc.build()
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "dataset %q", doc.Name))
		}
		if ds == nil {
			continue
		}
		if _, dup := byName[doc.Name]; dup {
			result = multierror.Append(result, fmt.Errorf("dataset %q is defined twice", doc.Name))
			continue
		}
		byName[doc.Name] = ds
		ws.DataSets = append(ws.DataSets, ds)
	}

	for i, doc := range d.Graphs {
		ds, ok := byName[doc.DataSet]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("graph %d: unknown dataset %q", i+1, doc.DataSet))
			continue
		}
		g := graph.New(ds)
		places := make([]string, 0, len(doc.Axes))
		for place := range doc.Axes {
			places = append(places, place)
		}
		sort.Strings(places)
		for _, place := range places {
			attrID := ds.AttrIDFromName(doc.Axes[place])
			if attrID == "" {
				result = multierror.Append(result, fmt.Errorf("graph %d: unknown attribute %q", i+1, doc.Axes[place]))
				continue
			}
			if err := g.SetAxisAttribute(place, attrID); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "graph %d", i+1))
			}
		}
		if doc.PlottedValue != "" {
			g.AddPlottedValue(doc.PlottedValue)
		}
		ws.Graphs = append(ws.Graphs, g)
	}

	return ws, result.ErrorOrNil()
}

func (d DataSetDoc) build() (*dataset.DataSet, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("dataset name is required")
	}
	var result *multierror.Error
	ds := dataset.New(d.Name)
	for _, attr := range d.Attributes {
		if _, err := ds.AddAttribute(dataset.AttributeSpec{Name: attr.Name, Formula: attr.Formula}); err != nil {
			result = multierror.Append(result, err)
		}
	}

	// innermost parent first; each new collection goes on top
	for i := len(d.Parents) - 1; i >= 0; i-- {
		names := d.Parents[i]
		var collectionID string
		for _, name := range names {
			attrID := ds.AttrIDFromName(name)
			if attrID == "" {
				result = multierror.Append(result, fmt.Errorf("parent collection names unknown attribute %q", name))
				continue
			}
			var err error
			if collectionID == "" {
				collectionID, err = ds.MoveAttributeToNewCollection(attrID)
			} else {
				err = ds.MoveAttribute(attrID, collectionID)
			}
			if err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	cases := make([]dataset.Case, 0, len(d.Cases))
	for _, values := range d.Cases {
		cases = append(cases, dataset.Case{Values: values})
	}
	ds.AddCases(cases...)
	return ds, result.ErrorOrNil()
}
