package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/namegraph/internal/engine"
	"github.com/roach88/namegraph/internal/harness"
	"github.com/roach88/namegraph/internal/heal"
	"github.com/roach88/namegraph/internal/store"
	"github.com/roach88/namegraph/internal/tracing"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Resume bool

	// RunIDGenerator overrides the engine run id (for testing).
	RunIDGenerator func() string
}

// IngestResult summarizes an ingest run.
type IngestResult struct {
	Files   int `json:"files"`
	Events  int `json:"events"`
	Skipped int `json:"skipped"`
	engine.Stats
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <events.yaml>...",
		Short: "Apply event files to the database",
		Long: `Apply the events in one or more YAML event files, in file order.

Contracts may be given as addresses or as manifest role aliases
("registry", "controller.1", ...). Every event commits in its own
transaction. The first event that fails stops the run; the events
before it stay applied.

With --resume, events at or before each chain's stored cursor are
skipped, so a file can be re-ingested after a failure is fixed.

Exit codes:
  0 - All events applied or ignored
  1 - An event failed
  2 - Command error (bad config, unreadable file, etc.)

Examples:
  namegraph ingest --db ./names.db events.yaml
  namegraph ingest --resume --heal-url http://localhost:3223 events.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "skip events at or before the stored cursor")

	return cmd
}

func runIngest(opts *IngestOptions, files []string, cmd *cobra.Command) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()
	out := opts.formatter(cmd)

	aliases, err := harness.NewAliases(sess.manifest)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read manifest routes", err)
	}

	var events []engine.Event
	for _, f := range files {
		out.VerboseLog("reading %s", f)
		records, err := engine.LoadEvents(f)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read events", err)
		}
		for i, r := range records {
			ev, err := r.ToEvent(aliases.Resolve)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("%s: event %d", f, i), err)
			}
			events = append(events, ev)
		}
	}

	result := IngestResult{Files: len(files), Events: len(events)}
	if opts.Resume {
		events, result.Skipped, err = skipApplied(ctx, sess.db, events)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read cursor", err)
		}
		out.VerboseLog("skipped %d events", result.Skipped)
	}

	healer, err := newHealer(sess)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create healing client", err)
	}

	traceCfg := sess.cfg.Tracing()
	traceCfg.Writer = cmd.ErrOrStderr()
	tp, err := tracing.NewProvider(ctx, traceCfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create tracer", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			sess.logger.Error("error flushing spans", "error", err)
		}
	}()

	engineOpts := []engine.Option{
		engine.WithLogger(sess.logger),
		engine.WithTracer(tp.Tracer()),
	}
	if opts.RunIDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithRunIDGenerator(opts.RunIDGenerator))
	}
	eng, err := engine.New(sess.db, sess.manifest, healer, engineOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	out.RunID = eng.RunID()

	if err := eng.Init(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize database", err)
	}

	for _, ev := range events {
		eng.Enqueue(ev)
	}
	eng.Stop()

	runErr := eng.Run(ctx)
	result.Stats = eng.Stats()

	if runErr != nil {
		var pe *engine.ProcessError
		if errors.As(runErr, &pe) {
			_ = out.Error(string(pe.Code), pe.Error(), result)
			return WrapExitError(ExitFailure, "ingest stopped", runErr)
		}
		return WrapExitError(ExitFailure, "ingest interrupted", runErr)
	}

	if out.Format == "json" {
		return out.Success(result)
	}
	return out.Success(fmt.Sprintf("Ingested %d events: %d applied, %d ignored, %d skipped.",
		result.Events, result.Applied, result.Ignored, result.Skipped))
}

// skipApplied drops the events each chain's cursor has already passed.
func skipApplied(ctx context.Context, db *store.DB, events []engine.Event) ([]engine.Event, int, error) {
	kept := events[:0:0]
	skipped := 0
	for _, ev := range events {
		cur, found, err := db.Cursor(ctx, ev.ChainID)
		if err != nil {
			return nil, 0, err
		}
		if found && cur.Before(ev.BlockNumber, uint64(ev.LogIndex)) {
			skipped++
			continue
		}
		kept = append(kept, ev)
	}
	return kept, skipped, nil
}

func newHealer(s *session) (heal.Healer, error) {
	cfg, ok := s.cfg.HealClient()
	if !ok {
		s.logger.Debug("label healing disabled")
		return heal.None, nil
	}
	return heal.NewClient(cfg, s.logger)
}
