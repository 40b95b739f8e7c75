package main

import (
	"encoding/json"
	"fmt"

	"github.com/spboyer/querylens/internal/apiclient"
	"github.com/spboyer/querylens/internal/reporting"
	"github.com/spf13/cobra"
)

func newReportCommand(global *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the aggregate quality analysis of evaluated queries",
		Long: `Fetch the backend's quality analysis: average scores, a breakdown by
query type, weak queries with the reason they scored low, and
recommendations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}

			report, err := newClient(cfg).AnalysisReport(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching analysis report: %s", apiclient.UserMessage(err))
			}

			if jsonOutput {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return fmt.Errorf("marshaling report: %w", err)
				}
				_, _ = cmd.OutOrStdout().Write(append(data, '\n'))
				return nil
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), reporting.FormatAnalysisReport(report))
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw report as JSON")

	return cmd
}
