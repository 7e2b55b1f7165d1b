package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/effectus/progressive-go/analysis"
	"github.com/effectus/progressive-go/config"
)

var graphCmd = &cobra.Command{
	Use:   "graph [document]",
	Short: "Print the element dependency graph",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := documentPath(args)
		if err != nil {
			return err
		}
		return runGraph(cmd.OutOrStdout(), path, opts.GraphFormat)
	},
}

func runGraph(out io.Writer, path, format string) error {
	doc, err := config.Load(path)
	if err != nil {
		return err
	}

	graph := analysis.BuildDependencyGraph(doc)
	switch strings.ToLower(format) {
	case "dot":
		_, err = io.WriteString(out, graph.DOT())
		return err
	case "json", "":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(graph)
	default:
		return fmt.Errorf("unknown graph format: %s", format)
	}
}
