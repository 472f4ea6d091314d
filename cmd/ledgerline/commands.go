package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgerline/internal/pipeline"
	"github.com/ajitpratap0/ledgerline/internal/status"
	"github.com/ajitpratap0/ledgerline/pkg/config"
	"github.com/ajitpratap0/ledgerline/pkg/connector"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
	"github.com/ajitpratap0/ledgerline/pkg/extractor"
	"github.com/ajitpratap0/ledgerline/pkg/loader"
	"github.com/ajitpratap0/ledgerline/pkg/metrics"
	"github.com/ajitpratap0/ledgerline/pkg/observability"
)

type runFlags struct {
	chunkSize      int
	startFromChunk int
	lenient        bool
	metricsFile    string
}

func (a *app) runCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run a configured job",
		Long: `Run a job from the selected server of the settings file.

Exit codes:
  0  the job loaded its input
  1  the job could not be found or the settings are invalid
  2  the input is unchanged since the last run
  3  the job raised an error

Example:
  ledgerline run permits --config settings.yaml --server production`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args[0], f)
		},
	}

	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", 0, "Rows per load call (overrides the job setting)")
	cmd.Flags().IntVar(&f.startFromChunk, "start-from-chunk", 0, "Resume at this 1-based chunk, skipping earlier ones")
	cmd.Flags().BoolVar(&f.lenient, "lenient", false, "Skip rows that fail validation instead of aborting")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	return cmd
}

func (a *app) run(ctx context.Context, job string, f runFlags) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	log, err := a.newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	provider, err := observability.NewProvider(cfg.Tracing, a.stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	jobs, err := cfg.Pipelines(log,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(metrics.NewCollector(reg)),
		pipeline.WithTracer(provider.Tracer()),
	)
	if err != nil {
		return err
	}

	var overrides []pipeline.Option
	if f.chunkSize > 0 {
		overrides = append(overrides, pipeline.WithChunkSize(f.chunkSize))
	}
	if f.startFromChunk > 0 {
		overrides = append(overrides, pipeline.WithStartFromChunk(f.startFromChunk))
	}
	if f.lenient {
		overrides = append(overrides, pipeline.WithStrict(false))
	}

	p, err := jobs.Get(job, overrides...)
	if err != nil {
		if pipeline.IsNotFound(err) {
			return &exitError{code: exitNotFound, msg: err.Error()}
		}
		return err
	}

	sum, runErr := p.Run(ctx)

	if f.metricsFile != "" {
		if err := prometheus.WriteToTextfile(f.metricsFile, reg); err != nil {
			log.Warn("failed to write metrics file", zap.String("path", f.metricsFile), zap.Error(err))
		}
	}

	switch {
	case errors.IsType(runErr, errors.ErrorTypeDuplicate):
		return &exitError{code: exitDuplicate, msg: fmt.Sprintf("Duplicate input, nothing to do for pipeline %q", job)}
	case runErr != nil:
		return &exitError{code: exitFailed, msg: fmt.Sprintf("Pipeline %q raised an error: %s", job, runErr)}
	}

	if a.jsonOut {
		return a.printJSON(sum)
	}
	fmt.Fprintf(a.stdout, "Pipeline %q finished: %d rows loaded in %d chunks\n", job, sum.NumLines, sum.Chunks)
	return nil
}

func (a *app) createDBCmd() *cobra.Command {
	var drop bool

	cmd := &cobra.Command{
		Use:   "create-db",
		Short: "Create the status table of the server's status database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			l, err := a.openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer l.Close()

			if drop {
				fmt.Fprintln(a.stdout, "Dropping table...")
			}
			fmt.Fprintln(a.stdout, "Creating table...")
			return l.EnsureTable(cmd.Context(), drop)
		},
	}

	cmd.Flags().BoolVar(&drop, "drop", false, "Drop the existing status table first")
	return cmd
}

// statusRow is the JSON shape of a ledger row.
type statusRow struct {
	Name          string     `json:"name"`
	DisplayName   string     `json:"display_name"`
	StartTime     time.Time  `json:"start_time"`
	LastRan       *time.Time `json:"last_ran,omitempty"`
	Status        string     `json:"status"`
	NumLines      int        `json:"num_lines"`
	InputChecksum string     `json:"input_checksum,omitempty"`
}

func (a *app) statusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status [job]",
		Short: "Show recent runs from the status ledger",
		Long: `Show recent runs, newest first. The argument is a job name or a display
name; without it every pipeline is listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			var displayName string
			if len(args) == 1 {
				displayName = args[0]
				if job, ok := cfg.Jobs[args[0]]; ok && job.DisplayName != "" {
					displayName = job.DisplayName
				}
			}

			l, err := a.openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer l.Close()

			if err := l.EnsureTable(cmd.Context(), false); err != nil {
				return err
			}
			recs, err := l.List(cmd.Context(), displayName, limit)
			if err != nil {
				return err
			}
			return a.printStatus(recs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	return cmd
}

func (a *app) openLedger(ctx context.Context, cfg *config.ServerConfig) (*status.Ledger, error) {
	if cfg.StatusDB.DSN == "" {
		return nil, errors.Newf(errors.ErrorTypeMissingStatusDB, "missing required setting %s.statusdb.dsn", cfg.Name())
	}
	return status.Open(ctx, cfg.StatusDB.Driver, cfg.StatusDB.DSN)
}

func (a *app) printStatus(recs []status.Record) error {
	if a.jsonOut {
		rows := make([]statusRow, len(recs))
		for i, r := range recs {
			rows[i] = statusRow{
				Name:          r.Name,
				DisplayName:   r.DisplayName,
				StartTime:     r.StartTime.UTC(),
				Status:        r.Status,
				NumLines:      r.NumLines,
				InputChecksum: r.InputChecksum,
			}
			if !r.LastRan.IsZero() {
				t := r.LastRan.UTC()
				rows[i].LastRan = &t
			}
		}
		return a.printJSON(rows)
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDISPLAY NAME\tSTARTED\tLAST RAN\tLINES\tSTATUS")
	for _, r := range recs {
		lastRan := "-"
		if !r.LastRan.IsZero() {
			lastRan = r.LastRan.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Name, r.DisplayName, r.StartTime.UTC().Format(time.RFC3339), lastRan, r.NumLines, r.Status)
	}
	return w.Flush()
}

// jobInfo is the JSON shape of a configured job.
type jobInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Connector   string `json:"connector"`
	Target      string `json:"target"`
	Extractor   string `json:"extractor"`
	Loader      string `json:"loader"`
	LogStatus   bool   `json:"log_status"`
}

type listing struct {
	Jobs       []jobInfo `json:"jobs"`
	Connectors []string  `json:"connectors"`
	Extractors []string  `json:"extractors"`
	Loaders    []string  `json:"loaders"`
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured jobs and available component types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			out := listing{
				Jobs:       []jobInfo{},
				Connectors: connector.Types(),
				Extractors: extractor.Types(),
				Loaders:    loader.Types(),
			}
			for _, name := range cfg.JobNames() {
				job := cfg.Jobs[name]
				display := job.DisplayName
				if display == "" {
					display = name
				}
				out.Jobs = append(out.Jobs, jobInfo{
					Name:        name,
					DisplayName: display,
					Connector:   job.Connector.Type,
					Target:      job.Connector.Target,
					Extractor:   job.Extractor.Type,
					Loader:      job.Loader.Type,
					LogStatus:   job.LogStatus,
				})
			}

			if a.jsonOut {
				return a.printJSON(out)
			}

			fmt.Fprintf(a.stdout, "Jobs on %s:\n", cfg.Name())
			for _, j := range out.Jobs {
				fmt.Fprintf(a.stdout, "  - %s (%s): %s %s -> %s -> %s\n",
					j.Name, j.DisplayName, j.Connector, j.Target, j.Extractor, j.Loader)
			}
			printTypes(a, "Connectors", out.Connectors)
			printTypes(a, "Extractors", out.Extractors)
			printTypes(a, "Loaders", out.Loaders)
			return nil
		},
	}
}

func printTypes(a *app, title string, types []string) {
	fmt.Fprintf(a.stdout, "\n%s:\n", title)
	for _, t := range types {
		fmt.Fprintf(a.stdout, "  - %s\n", t)
	}
}
