package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spboyer/querylens/internal/dataset"
	"github.com/spboyer/querylens/internal/orchestration"
	"github.com/spboyer/querylens/internal/poller"
	"github.com/spboyer/querylens/internal/projectconfig"
	"github.com/spboyer/querylens/internal/reporting"
	"github.com/spboyer/querylens/internal/scoring"
	"github.com/spboyer/querylens/internal/session"
	"github.com/spboyer/querylens/internal/spinner"
	"github.com/spboyer/querylens/internal/utils"
	"github.com/spboyer/querylens/internal/wizard"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type queryOptions struct {
	*globalOptions

	junitPath     string
	csvPath       string
	minTier       string
	maxRows       int
	hideResults   bool
	submitTimeout time.Duration
	pollInterval  time.Duration
	pollBudget    time.Duration
	sessionLog    bool
	sessionDir    string
}

func newQueryCommand(global *globalOptions) *cobra.Command {
	opts := &queryOptions{globalOptions: global}

	cmd := &cobra.Command{
		Use:   "query [question...]",
		Short: "Ask a question and follow its evaluation",
		Long: `Submit a natural-language question to the backend.

The generated SQL and result rows are printed as soon as they arrive. If the
backend started an evaluation, the command keeps polling until the scores are
ready, the evaluation fails, or the polling budget runs out.

Without arguments the question is read from an interactive prompt, or from
stdin when it is not a terminal.

Exit codes:
  0  results returned (and scores at or above --min-tier, when set)
  1  the query failed, the evaluation failed or stalled, or a score is below --min-tier
  2  configuration or runtime error`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.junitPath, "junit", "", "Write a JUnit XML report to this path")
	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "Write the result rows as CSV to this path")
	cmd.Flags().StringVar(&opts.minTier, "min-tier", "", "Fail unless every score reaches this tier (low, mid, high)")
	cmd.Flags().IntVar(&opts.maxRows, "max-rows", reporting.DefaultMaxRows, "Maximum result rows to print (-1 for all)")
	cmd.Flags().BoolVar(&opts.hideResults, "hide-results", false, "Print only the evaluation, not the SQL and rows")
	cmd.Flags().DurationVar(&opts.submitTimeout, "submit-timeout", 0, "Give up waiting for results after this long (overrides config)")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", 0, "Delay between evaluation status checks (overrides config)")
	cmd.Flags().DurationVar(&opts.pollBudget, "poll-budget", 0, "Total time to wait for evaluation scores (overrides config)")
	cmd.Flags().BoolVar(&opts.sessionLog, "session-log", false, "Record session events as NDJSON (overrides config)")
	cmd.Flags().StringVar(&opts.sessionDir, "session-dir", "", "Directory for session logs (overrides config)")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *queryOptions, args []string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	opts.applyOverrides(cfg)

	minTier := scoring.TierLow
	if opts.minTier != "" {
		if minTier, err = scoring.ParseTier(opts.minTier); err != nil {
			return err
		}
	}

	query, err := readQuery(cmd, args, cfg.UI.MaxQueryLength)
	if err != nil {
		return err
	}

	events, err := openSessionLog(cfg)
	if err != nil {
		return err
	}

	orch := orchestration.New(newClient(cfg),
		orchestration.WithPollOptions(poller.Options{
			Interval:       cfg.PollInterval(),
			Budget:         cfg.PollBudget(),
			RequestTimeout: cfg.PollRequestTimeout(),
		}),
		orchestration.WithSessionLogger(events),
		orchestration.WithLogger(slog.Default()),
	)
	defer func() {
		if cerr := orch.Close(); cerr != nil {
			slog.Warn("closing session log", "error", cerr)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	d := newDisplay(cmd.OutOrStdout(), cmd.ErrOrStderr(), reporting.SessionOptions{
		MaxRows:     opts.maxRows,
		HideResults: opts.hideResults,
	})

	gen := orch.Submit(ctx, query)
	final, err := awaitSession(ctx, orch, gen, cfg.SubmitTimeout(), d.update)
	d.finish(final)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("interrupted")
		}
		return err
	}

	if l, ok := events.(*session.JSONLogger); ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "Session log: %s\n", l.Path()) //nolint:errcheck
	}

	if opts.csvPath != "" && final.Phase == session.PhaseResultsReady {
		if err := dataset.ExportCSV(opts.csvPath, reporting.Columns(final.Results), final.Results); err != nil {
			return err
		}
	}

	if opts.junitPath != "" {
		if err := reporting.WriteJUnitXML(final, minTier, opts.junitPath); err != nil {
			return fmt.Errorf("writing JUnit report: %w", err)
		}
	}

	return outcome(final, minTier)
}

func (o *queryOptions) applyOverrides(cfg *projectconfig.ProjectConfig) {
	if o.submitTimeout > 0 {
		cfg.UI.SubmitTimeoutMs = int(o.submitTimeout / time.Millisecond)
	}
	if o.pollInterval > 0 {
		cfg.Poll.IntervalMs = int(o.pollInterval / time.Millisecond)
	}
	if o.pollBudget > 0 {
		cfg.Poll.BudgetMs = int(o.pollBudget / time.Millisecond)
	}
	if o.sessionLog {
		cfg.SessionLog.Enabled = utils.Ptr(true)
	}
	if o.sessionDir != "" {
		cfg.SessionLog.Dir = o.sessionDir
	}
}

func readQuery(cmd *cobra.Command, args []string, maxLength int) (string, error) {
	if len(args) == 0 {
		return wizard.PromptQuery(cmd.InOrStdin(), cmd.ErrOrStderr(), maxLength)
	}
	query := strings.TrimSpace(strings.Join(args, " "))
	if err := wizard.ValidateQuery(query, maxLength); err != nil {
		return "", err
	}
	return query, nil
}

func openSessionLog(cfg *projectconfig.ProjectConfig) (session.Logger, error) {
	if !cfg.SessionLogEnabled() {
		return session.NopLogger{}, nil
	}
	l, err := session.OpenLog(cfg.SessionLog.Dir)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// awaitSession waits for the session of generation gen to settle. Alongside
// the wait it runs the external submission watchdog and forwards snapshots
// of that session to onUpdate.
func awaitSession(ctx context.Context, orch *orchestration.Orchestrator, gen uint64, submitTimeout time.Duration, onUpdate func(session.QuerySession)) (session.QuerySession, error) {
	updates, unsubscribe := orch.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gctx)
	defer stopWatch()

	g.Go(func() error {
		timer := time.NewTimer(submitTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			if orch.ExpireSubmission(gen) {
				slog.Debug("submission timed out", "generation", gen, "timeout", submitTimeout)
			}
		case <-watchCtx.Done():
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case s, ok := <-updates:
				if !ok {
					return nil
				}
				if s.Generation == gen {
					onUpdate(s)
				}
			case <-watchCtx.Done():
				return nil
			}
		}
	})

	var final session.QuerySession
	g.Go(func() error {
		defer stopWatch()
		s, err := orch.Wait(gctx, gen)
		final = s
		return err
	})

	err := g.Wait()
	return final, err
}

// outcome maps a settled session to the command's result.
func outcome(s session.QuerySession, minTier scoring.Tier) error {
	switch s.State() {
	case session.StateSubmitFailed:
		return &QueryFailedError{Message: s.ErrorMessage}
	case session.StateEvalFailed:
		return &QueryFailedError{Message: s.ErrorMessage}
	case session.StateStalled:
		return &QueryFailedError{Message: s.Stall.Message}
	case session.StateEvaluated:
		below := scoring.Assess(*s.EvaluationScores).Below(minTier)
		if len(below) > 0 {
			names := make([]string, len(below))
			for i, m := range below {
				names[i] = m.Label
			}
			return &QueryFailedError{Message: fmt.Sprintf("%d score(s) below %s: %s", len(below), minTier, strings.Join(names, ", "))}
		}
	}
	return nil
}

// display prints a session progressively: results as soon as they arrive,
// then the evaluation once it settles. On a terminal a spinner fills the
// gaps.
type display struct {
	out    io.Writer
	errOut io.Writer
	opts   reporting.SessionOptions

	mu          sync.Mutex
	interactive bool
	spin        *spinner.Spinner
	shown       bool
	shownState  session.State
}

func newDisplay(out, errOut io.Writer, opts reporting.SessionOptions) *display {
	return &display{
		out:         out,
		errOut:      errOut,
		opts:        opts,
		interactive: spinner.Interactive(errOut),
	}
}

func (d *display) update(s session.QuerySession) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case s.Phase == session.PhaseSubmitting:
		d.spinLocked("Running query...")
	case s.Phase == session.PhaseResultsReady && !d.shown:
		d.stopLocked()
		reporting.RenderSession(d.out, s, d.opts)
		d.shown = true
		d.shownState = s.State()
		if !s.State().Terminal() {
			d.spinLocked("Evaluating...")
		}
	case s.State() == session.StateEvaluating:
		d.spinLocked(fmt.Sprintf("Evaluating (%s)...", s.EvaluationStatus))
	}
}

// finish prints whatever part of the settled session has not been shown.
func (d *display) finish(s session.QuerySession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()

	switch {
	case s.Phase == session.PhaseIdle || s.Phase == session.PhaseSubmitting:
	case !d.shown:
		reporting.RenderSession(d.out, s, d.opts)
	case s.State() != d.shownState:
		fmt.Fprintln(d.out) //nolint:errcheck
		reporting.RenderEvaluation(d.out, s)
	}
}

func (d *display) spinLocked(msg string) {
	if !d.interactive {
		return
	}
	if d.spin == nil {
		d.spin = spinner.Start(d.errOut, msg)
		return
	}
	d.spin.Update(msg)
}

func (d *display) stopLocked() {
	if d.spin != nil {
		d.spin.Stop()
		d.spin = nil
	}
}
