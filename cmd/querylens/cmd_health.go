package main

import (
	"fmt"

	"github.com/spboyer/querylens/internal/apiclient"
	"github.com/spf13/cobra"
)

func newHealthCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check backend and database connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			h, err := newClient(cfg).Health(cmd.Context())
			if err != nil {
				return &QueryFailedError{Message: fmt.Sprintf("%s unreachable: %s", cfg.API.BaseURL, apiclient.UserMessage(err))}
			}

			fmt.Fprintf(w, "Backend:  %s (%s)\n", h.Status, cfg.API.BaseURL) //nolint:errcheck
			fmt.Fprintf(w, "Database: %s\n", h.Database)                     //nolint:errcheck
			if h.Error != "" {
				fmt.Fprintf(w, "Error:    %s\n", h.Error) //nolint:errcheck
			}
			if !h.Healthy() {
				return &QueryFailedError{Message: "backend is unhealthy"}
			}
			return nil
		},
	}
}
