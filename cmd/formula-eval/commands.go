package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/mitchellh/cli"
	"github.com/spf13/afero"

	"github.com/vogtb/go-formula/packages/formula"
	"github.com/vogtb/go-formula/packages/graph"
)

// Meta holds what every command shares
type Meta struct {
	Ui        cli.Ui
	FS        afero.Fs
	LogOutput io.Writer
}

type session struct {
	manager  *formula.Manager
	plotted  *formula.PlottedValueFormulaAdapter
	ws       *Workspace
	dataSets map[string]string // id -> name
}

// start parses the common flags, loads the document and registers
// everything with a new manager
func (m *Meta) start(name string, args []string) (*session, bool) {
	var configPath, logLevel string
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&logLevel, "log-level", "", "log level")
	if err := flags.Parse(args); err != nil {
		m.Ui.Error(err.Error())
		return nil, false
	}
	if flags.NArg() != 1 {
		m.Ui.Error("expected exactly one document path")
		return nil, false
	}

	cfg := formula.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = formula.LoadConfig(m.FS, configPath); err != nil {
			m.Ui.Error(err.Error())
			return nil, false
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
		if err := cfg.Validate(); err != nil {
			m.Ui.Error(err.Error())
			return nil, false
		}
	}
	logger := formula.NewLogger(cfg, m.LogOutput)

	doc, err := LoadDocument(m.FS, flags.Arg(0))
	if err != nil {
		m.Ui.Error(err.Error())
		return nil, false
	}
	ws, err := doc.Build()
	if err != nil {
		m.Ui.Error(err.Error())
		return nil, false
	}

	manager := formula.NewManager(formula.ManagerOptions{Config: &cfg, Logger: logger})
	plotted := formula.NewPlottedValueFormulaAdapter(manager)
	for _, adapter := range []formula.Adapter{formula.NewAttributeFormulaAdapter(manager), plotted} {
		if err := manager.RegisterAdapter(adapter); err != nil {
			m.Ui.Error(err.Error())
			return nil, false
		}
	}
	manager.SetGlobalValueManager(ws.Globals)
	names := make(map[string]string)
	for _, ds := range ws.DataSets {
		names[ds.ID()] = ds.Name()
		if err := manager.AddDataSet(ds); err != nil {
			m.Ui.Error(err.Error())
			return nil, false
		}
	}
	for _, g := range ws.Graphs {
		plotted.AddGraphContentModel(g)
	}
	return &session{manager: manager, plotted: plotted, ws: ws, dataSets: names}, true
}

// RunCommand evaluates a document and prints the results
type RunCommand struct {
	Meta
}

func (c *RunCommand) Run(args []string) int {
	s, ok := c.start("run", args)
	if !ok {
		return 1
	}
	defer s.manager.Close()

	if err := s.manager.RecalculateAll(); err != nil {
		c.Ui.Warn(err.Error())
	}

	var out strings.Builder
	for _, ds := range s.ws.DataSets {
		fmt.Fprintf(&out, "== %s ==\n", ds.Name())
		w := tabwriter.NewWriter(&out, 0, 4, 2, ' ', 0)
		attrs := ds.Attributes()
		header := make([]string, 0, len(attrs))
		for _, attr := range attrs {
			header = append(header, attr.Name())
		}
		fmt.Fprintln(w, strings.Join(header, "\t"))
		for _, itemID := range ds.ItemIDs() {
			row := make([]string, 0, len(attrs))
			for _, attr := range attrs {
				row = append(row, ds.GetValue(itemID, attr.ID()))
			}
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
		w.Flush()
	}
	for i, g := range s.ws.Graphs {
		writeGraph(&out, i+1, g, s.dataSets[g.DataSet().ID()])
	}
	c.Ui.Output(strings.TrimRight(out.String(), "\n"))
	return 0
}

func writeGraph(out io.Writer, n int, g *graph.ContentModel, dataSetName string) {
	adornment := g.Adornment()
	if adornment == nil {
		return
	}
	fmt.Fprintf(out, "== graph %d (%s): %s ==\n", n, dataSetName, adornment.Formula().Display())
	if msg := adornment.FormulaError(); msg != "" {
		fmt.Fprintln(out, msg)
	}
	measures := adornment.Measures()
	keys := make([]string, 0, len(measures))
	for key := range measures {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, key := range keys {
		value := measures[key]
		text := formula.FormatValue(value)
		if math.IsNaN(value) {
			text = "NaN"
		}
		fmt.Fprintf(w, "%s\t%s\n", key, text)
	}
	w.Flush()
}

func (c *RunCommand) Help() string {
	return strings.TrimSpace(`
Usage: formula-eval run [options] DOCUMENT

  Loads a YAML document of datasets, global values and graphs, evaluates
  every formula and prints the resulting columns and plotted values.

Options:

  -config=path      YAML engine config.
  -log-level=level  Overrides the configured log level.
`)
}

func (c *RunCommand) Synopsis() string {
	return "Evaluate every formula of a document"
}

// CheckCommand reports formula problems without printing values
type CheckCommand struct {
	Meta
}

func (c *CheckCommand) Run(args []string) int {
	s, ok := c.start("check", args)
	if !ok {
		return 1
	}
	defer s.manager.Close()

	problems := 0
	for _, active := range s.manager.GetAllFormulas() {
		f, meta := active.Formula, active.ExtraMetadata
		owner := s.owner(meta)
		if syntax := f.SyntaxError(); syntax != "" {
			c.Ui.Error(fmt.Sprintf("%s: %s", owner, syntax))
			problems++
			continue
		}
		ctx, registered := s.manager.FormulaContext(f.ID())
		if registered {
			msg, err := s.manager.GetFormulaError(ctx, meta)
			if err != nil {
				c.Ui.Error(fmt.Sprintf("%s: %s", owner, err))
				problems++
				continue
			}
			if msg != "" {
				c.Ui.Error(fmt.Sprintf("%s: %s", owner, strings.TrimPrefix(msg, formula.ErrorPrefix)))
				problems++
				continue
			}
		}
		c.Ui.Output(fmt.Sprintf("%s: ok %q -> %q", owner, f.Display(), f.Canonical()))
	}
	if problems > 0 {
		return 1
	}
	return 0
}

func (s *session) owner(meta formula.ExtraMetadata) string {
	dsName := s.dataSets[meta.DataSetID]
	if meta.GraphContentModelID != "" {
		return fmt.Sprintf("%s plotted value", dsName)
	}
	for _, ds := range s.ws.DataSets {
		if ds.ID() != meta.DataSetID {
			continue
		}
		if attr, ok := ds.Attribute(meta.AttributeID); ok {
			return fmt.Sprintf("%s.%s", dsName, attr.Name())
		}
	}
	return dsName
}

func (c *CheckCommand) Help() string {
	return strings.TrimSpace(`
Usage: formula-eval check [options] DOCUMENT

  Canonicalizes every formula of a document and reports syntax errors and
  circular references.

Options:

  -config=path      YAML engine config.
  -log-level=level  Overrides the configured log level.
`)
}

func (c *CheckCommand) Synopsis() string {
	return "Report formula problems of a document"
}
