package main

import (
	"io"
	"os"

	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
)

const version = "0.1.0"

func main() {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}
	os.Exit(realMain(os.Args[1:], afero.NewOsFs(), ui, os.Stderr))
}

func realMain(args []string, fs afero.Fs, ui cli.Ui, logOutput io.Writer) int {
	meta := Meta{Ui: ui, FS: fs, LogOutput: logOutput}

	c := cli.NewCLI("formula-eval", version)
	c.Args = args
	c.Commands = map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &RunCommand{Meta: meta}, nil
		},
		"check": func() (cli.Command, error) {
			return &CheckCommand{Meta: meta}, nil
		},
	}

	code, err := c.Run()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	return code
}
