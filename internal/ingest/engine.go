// Package ingest orchestrates one ingestion run: selecting due sources,
// fetching them concurrently with per-source isolation, upserting records,
// and recording the outcome in the run ledger.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/gasrisk-cli/internal/config"
	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/source"
	"github.com/sells-group/gasrisk-cli/internal/store"
)

// Options configures which sources run and how.
type Options struct {
	Range   model.DateRange
	Sources []string // restrict to specific source ids; empty = all
	Force   bool     // ignore ShouldRun() cadence gating
	DryRun  bool     // fetch and validate but do not upsert
}

// Engine runs ingestion over the registered sources.
type Engine struct {
	store store.Store
	reg   *source.Registry
	cfg   config.IngestConfig
	now   func() time.Time
}

// NewEngine creates an ingestion engine.
func NewEngine(st store.Store, reg *source.Registry, cfg config.IngestConfig) *Engine {
	return &Engine{store: st, reg: reg, cfg: cfg, now: time.Now}
}

// Run executes one ingestion run. A source failing never stops its
// siblings; the returned run carries the per-source outcomes and an
// overall status of ok, partial, or failed. The error return is reserved
// for infrastructure faults (the ledger itself being unwritable).
func (e *Engine) Run(ctx context.Context, opts Options) (*model.Run, error) {
	log := zap.L().With(zap.String("component", "ingest.engine"))
	now := e.now().UTC()

	sources, err := e.reg.Select(opts.Sources)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, eris.New("ingest: no sources selected")
	}

	// Ledger writes survive cancellation: an aborted run must still show
	// its sources as cancelled, not vanish.
	ledgerCtx := context.WithoutCancel(ctx)

	run := &model.Run{
		Status:    model.RunStatusRunning,
		Range:     opts.Range,
		DryRun:    opts.DryRun,
		StartedAt: now,
		Sources:   make(map[model.SourceID]model.SourceStatus),
	}
	if err := e.store.CreateRun(ledgerCtx, run); err != nil {
		return nil, eris.Wrap(err, "ingest: create run")
	}

	log.Info("run started",
		zap.String("run_id", run.ID),
		zap.Time("range_start", opts.Range.Start),
		zap.Time("range_end", opts.Range.End),
		zap.Int("sources", len(sources)),
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("force", opts.Force),
	)

	runCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.RunTimeoutSecs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.RunTimeoutSecs)*time.Second)
		defer cancel()
	}

	var mu sync.Mutex
	record := func(st model.SourceStatus) error {
		mu.Lock()
		run.Sources[st.SourceID] = st
		mu.Unlock()
		return e.store.RecordSourceStatus(ledgerCtx, run.ID, st)
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(e.cfg.MaxConcurrent)

	for _, src := range sources {
		g.Go(func() error {
			st, err := e.runSource(gctx, src, opts, now)
			if err != nil {
				return err // infrastructure fault, aborts the group
			}
			return record(st)
		})
	}
	if err := g.Wait(); err != nil {
		// Best effort: mark the run failed before surfacing the fault.
		_ = e.store.FinalizeRun(ledgerCtx, run.ID, model.RunStatusFailed, e.now().UTC())
		return nil, err
	}

	finished := e.now().UTC()
	run.Status = overallStatus(run)
	run.FinishedAt = &finished
	if err := e.store.FinalizeRun(ledgerCtx, run.ID, run.Status, finished); err != nil {
		return nil, eris.Wrap(err, "ingest: finalize run")
	}

	log.Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("succeeded", run.Succeeded()),
		zap.Int("attempted", run.Attempted()),
		zap.Duration("elapsed", finished.Sub(now)),
	)
	return run, nil
}

// runSource fetches one source and returns its ledger entry. The returned
// error is only for infrastructure faults; fetch failures land in the
// SourceStatus.
func (e *Engine) runSource(ctx context.Context, src source.Source, opts Options, now time.Time) (model.SourceStatus, error) {
	id := src.Name()
	log := zap.L().With(zap.String("component", "ingest.engine"), zap.String("source", string(id)))

	if !opts.Force {
		last, err := e.store.LastSuccess(ctx, id)
		if err != nil {
			return model.SourceStatus{}, eris.Wrapf(err, "ingest: last success for %s", id)
		}
		if !src.ShouldRun(now, last) {
			log.Debug("skipping (not due)", zap.Timep("last_success", last))
			return model.SourceStatus{SourceID: id, Outcome: model.SourceSkipped}, nil
		}
	}

	srcCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.SourceTimeoutSecs > 0 {
		srcCtx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.SourceTimeoutSecs)*time.Second)
		defer cancel()
	}

	count := 0
	emit := func(rec model.RawRecord) error {
		// Cancellation is honored at record boundaries: a partial batch
		// stays persisted, the next run's upsert makes it whole.
		if err := srcCtx.Err(); err != nil {
			return err
		}
		if opts.DryRun {
			count++
			return nil
		}
		if err := e.store.UpsertRecord(srcCtx, rec); err != nil {
			return err
		}
		count++
		return nil
	}

	log.Info("source fetch starting")
	start := time.Now()
	err := src.Fetch(srcCtx, opts.Range, emit)
	elapsed := time.Since(start)

	st := model.SourceStatus{
		SourceID:    id,
		Outcome:     model.SourceOK,
		RecordCount: count,
		Elapsed:     elapsed,
	}
	if err != nil {
		se := source.Classify(id, srcCtx.Err(), err)
		st.Error = se.Error()
		st.ErrorKind = string(se.Kind)
		if se.Kind == source.KindCancelled {
			st.Outcome = model.SourceCancelled
		} else {
			st.Outcome = model.SourceFailed
		}
		log.Error("source fetch failed",
			zap.String("kind", string(se.Kind)),
			zap.Int("records", count),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return st, nil
	}

	log.Info("source fetch complete", zap.Int("records", count), zap.Duration("elapsed", elapsed))
	return st, nil
}

// overallStatus folds the per-source outcomes into the run status: ok when
// nothing attempted failed, failed when everything attempted failed,
// partial otherwise.
func overallStatus(run *model.Run) model.RunStatus {
	attempted := run.Attempted()
	if attempted == 0 {
		return model.RunStatusOK
	}
	succeeded := run.Succeeded()
	switch {
	case succeeded == attempted:
		return model.RunStatusOK
	case succeeded == 0:
		return model.RunStatusFailed
	default:
		return model.RunStatusPartial
	}
}
