package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/redcapetl/internal/state"
	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
)

// Config holds pipeline configuration.
type Config struct {
	Rules  RulesConfig
	Schema schema.GeneratorConfig

	// RecordIDField overrides the record id field from project metadata.
	RecordIDField string
	// FilterLogic restricts extracted records unless a FILTER rule is given.
	FilterLogic string

	// BatchSize is the number of records extracted per source request.
	BatchSize int
	// TimeLimit aborts the run when positive and exceeded.
	TimeLimit time.Duration
	// DropTables drops existing tables and label views before loading.
	DropTables bool

	// SourceName and ConfigFile are recorded in run history.
	SourceName string
	ConfigFile string
}

// Pipeline extracts records from a source, transforms them and loads them
// into a target.
type Pipeline struct {
	cfg    Config
	source redcap.Source
	target adapter.Connection
	store  state.Store
	logger *slog.Logger
}

// New creates a pipeline. store may be nil to skip run history; a nil
// logger uses a discard logger.
func New(cfg Config, source redcap.Source, target adapter.Connection, store state.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = adapter.DefaultBatchSize
	}
	return &Pipeline{cfg: cfg, source: source, target: target, store: store, logger: logger}
}

// Result summarizes a run.
type Result struct {
	// RunID is the run history id, empty without a store.
	RunID   string
	Records int64
	// Rows counts loaded rows per table.
	Rows map[string]int64
	// Skipped counts candidate rows per table that produced no row: the
	// record lacked the context the table needs, or had no data for it.
	Skipped  map[string]int64
	Duration time.Duration
}

// TotalRows returns the number of rows loaded over all tables.
func (r *Result) TotalRows() int64 {
	var n int64
	for _, c := range r.Rows {
		n += c
	}
	return n
}

// TotalSkipped returns the number of skipped rows over all tables.
func (r *Result) TotalSkipped() int64 {
	var n int64
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

func (r *Result) stats() state.RunStats {
	return state.RunStats{Records: r.Records, Skipped: r.TotalSkipped(), Tables: r.Rows}
}

// Run executes the whole pipeline, recording it in run history when a
// store is configured.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if p.cfg.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TimeLimit)
		defer cancel()
	}

	start := time.Now()
	res := &Result{Rows: make(map[string]int64), Skipped: make(map[string]int64)}

	var run *state.Run
	if p.store != nil {
		var err error
		run, err = p.store.CreateRun(ctx, state.NewRun{
			Source:     p.cfg.SourceName,
			Target:     p.target.Identity(),
			ConfigFile: p.cfg.ConfigFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		res.RunID = run.ID
	}

	p.logger.Info("starting run", slog.String("run_id", res.RunID), slog.String("target", p.target.Identity()))

	runErr := p.run(ctx, res)
	if runErr != nil && p.cfg.TimeLimit > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		runErr = fmt.Errorf("time limit %s exceeded: %w", p.cfg.TimeLimit, runErr)
	}
	res.Duration = time.Since(start)

	if run != nil {
		status, msg := state.RunStatusCompleted, ""
		switch {
		case runErr != nil && errors.Is(runErr, context.Canceled):
			status, msg = state.RunStatusCancelled, runErr.Error()
		case runErr != nil:
			status, msg = state.RunStatusFailed, runErr.Error()
		}
		// The run context may be done; history is written regardless.
		if err := p.store.CompleteRun(context.WithoutCancel(ctx), run.ID, status, res.stats(), msg); err != nil {
			p.logger.Warn("failed to record run", slog.String("run_id", run.ID), slog.String("error", err.Error()))
		}
	}

	if runErr != nil {
		p.logger.Info("run failed", slog.String("run_id", res.RunID), slog.String("error", runErr.Error()))
		return res, runErr
	}
	p.logger.Info("run completed",
		slog.String("run_id", res.RunID),
		slog.Int64("records", res.Records),
		slog.Int64("rows", res.TotalRows()),
		slog.Int64("skipped", res.TotalSkipped()),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, res *Result) error {
	plan, err := BuildPlan(ctx, p.source, p.cfg, p.logger)
	if err != nil {
		return err
	}
	p.logger.Debug("plan ready", slog.String("plan", plan.String()))

	if err := p.prepareTarget(ctx, plan.Schema); err != nil {
		return err
	}
	if lt := plan.Schema.LookupTable; lt != nil {
		rows := plan.Schema.Lookup.Rows(lt)
		if err := p.target.InsertRows(ctx, lt, rows); err != nil {
			return err
		}
		res.Rows[lt.Name] = int64(len(rows))
	}

	idField := plan.Project.RecordIDField()
	ids, err := p.source.RecordIDs(ctx, idField, plan.FilterLogic)
	if err != nil {
		return core.Errorf(core.SourceError, "extract record ids", "%w", err)
	}
	p.logger.Info("extracting records", slog.Int("records", len(ids)), slog.Int("batch_size", p.cfg.BatchSize))

	tr := &transformer{schema: plan.Schema, keys: schema.NewKeyAllocator(p.target.Identity())}
	order := plan.Schema.LoadOrder()

	return p.forEachBatch(ctx, ids, func(batch []redcap.Record) error {
		out := newBatchRows()
		groups := redcap.GroupByRecord(batch, idField)
		for _, g := range groups {
			tr.record(g, out)
		}
		for _, t := range order {
			rows := out.rows[t]
			if len(rows) == 0 {
				continue
			}
			if err := p.target.InsertRows(ctx, t, rows); err != nil {
				return err
			}
			res.Rows[t.Name] += int64(len(rows))
		}
		for name, n := range out.skipped {
			res.Skipped[name] += n
		}
		res.Records += int64(len(groups))
		p.logger.Debug("batch loaded", slog.Int("records", len(groups)), slog.Int64("total_records", res.Records))
		return nil
	})
}

// forEachBatch fetches records batch by batch, fetching the next batch
// while fn transforms and loads the current one. fn runs on one goroutine.
func (p *Pipeline) forEachBatch(ctx context.Context, ids []string, fn func([]redcap.Record) error) error {
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []redcap.Record, 1)

	g.Go(func() error {
		defer close(batches)
		for start := 0; start < len(ids); start += p.cfg.BatchSize {
			end := min(start+p.cfg.BatchSize, len(ids))
			recs, err := p.source.Records(gctx, ids[start:end])
			if err != nil {
				return core.Errorf(core.SourceError, "extract records", "%w", err)
			}
			select {
			case batches <- recs:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		for batch := range batches {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(batch); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}
