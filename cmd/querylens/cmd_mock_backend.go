package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spboyer/querylens/internal/projectconfig"
	"github.com/spboyer/querylens/internal/webapi"
	"github.com/spboyer/querylens/internal/webserver"
	"github.com/spf13/cobra"
)

func newMockBackendCommand() *cobra.Command {
	var (
		scriptPath string
		host       string
		port       int
		origins    []string
	)

	cmd := &cobra.Command{
		Use:   "mock-backend",
		Short: "Serve a scripted query backend for local runs and demos",
		Long: `Start an in-memory backend that speaks the same HTTP API as the real
text-to-SQL service.

Answers come from a YAML script: each scenario matches questions by
substring and returns rows, an application error, or an HTTP error. Results
scenarios can walk an evaluation through a sequence of statuses before
scores appear. Without --script a built-in employee directory is served.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			script := webapi.DefaultScript()
			if scriptPath != "" {
				s, err := webapi.LoadScript(scriptPath)
				if err != nil {
					return err
				}
				script = s
			}

			if !cmd.Flags().Changed("port") {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("getting working directory: %w", err)
				}
				cfg, err := projectconfig.Load(wd)
				if err != nil {
					return err
				}
				port = cfg.Server.Port
			}

			srv, err := webserver.New(webserver.Config{
				Host:           host,
				Port:           port,
				Script:         script,
				AllowedOrigins: origins,
				Logger:         slog.Default(),
				Out:            cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&scriptPath, "script", "", "YAML scenario script (default: built-in demo data)")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Interface to bind")
	cmd.Flags().IntVar(&port, "port", webserver.DefaultPort, "Port to listen on (overrides config)")
	cmd.Flags().StringSliceVar(&origins, "cors", nil, "Browser origins allowed to call the API (repeatable)")

	return cmd
}
