package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/report"
)

func newParseReportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-report <file>",
		Short: "Classify a saved analysis report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading report: %w", err)
			}
			res := report.Parse(string(raw))
			fmt.Fprintln(cmd.OutOrStdout(), renderResult(res))
			return nil
		},
	}
}

func renderResult(res report.Result) string {
	return renderTable(
		[]string{"Field", "Value"},
		[][]string{
			{"Status", string(res.Status)},
			{"Completed", strconv.FormatBool(res.Completed)},
			{"Details", res.Details},
		},
	)
}
