package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/effectus/progressive-go/config"
	"github.com/effectus/progressive-go/lint"
)

var checkCmd = &cobra.Command{
	Use:   "check [document]",
	Short: "Validate and lint a progression configuration",
	Long: `Validates the document structure and reports lint findings such as dependency cycles,
references to undeclared elements, unknown trigger or action types, malformed windows and
rules that repeat a non-idempotent action on every tick.

Exits non-zero when validation fails or any finding has error severity.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := documentPath(args)
		if err != nil {
			return err
		}
		return runCheck(cmd.OutOrStdout(), path)
	},
}

func runCheck(out io.Writer, path string) error {
	mode, err := lint.ParseUnsafeMode(opts.Unsafe)
	if err != nil {
		return err
	}

	doc, err := config.Load(path)
	if err != nil {
		return err
	}

	issues := lint.LintConfigWithOptions(doc, path, lint.LintOptions{UnsafeMode: mode})
	for _, issue := range issues {
		fmt.Fprintln(out, issue.String())
	}
	logger.Debug("lint finished", zap.String("document", path), zap.Int("issues", len(issues)))

	if lint.HasErrors(issues) {
		return fmt.Errorf("%s: lint reported errors", path)
	}
	if len(issues) == 0 {
		fmt.Fprintf(out, "%s: ok\n", path)
	}
	return nil
}
