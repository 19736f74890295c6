package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Result holds the counters a stage accumulates over one run.
type Result struct {
	Files    int
	Inserted int64
	Updated  int64
	Skipped  int64
	Deleted  int64
	Metadata map[string]any
}

// Add folds another result into this one. Metadata keys from other win.
func (r *Result) Add(other *Result) {
	if other == nil {
		return
	}
	r.Files += other.Files
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Deleted += other.Deleted
	if other.Metadata != nil {
		if r.Metadata == nil {
			r.Metadata = make(map[string]any, len(other.Metadata))
		}
		for k, v := range other.Metadata {
			r.Metadata[k] = v
		}
	}
}

// Stage is one unit of pipeline work: an importer, updater, or pruner.
type Stage interface {
	Name() string
	Run(ctx context.Context) (*Result, error)
}

// Pipeline runs stages sequentially, recording each run in the run log.
// A fatal stage error aborts the remaining stages; any other stage error is
// logged and the pipeline moves on, reporting the failure count at the end.
type Pipeline struct {
	runLog *RunLog
	stages []Stage
}

// NewPipeline creates a Pipeline over the given stages.
func NewPipeline(runLog *RunLog, stages ...Stage) *Pipeline {
	return &Pipeline{runLog: runLog, stages: stages}
}

// Run executes every stage in order.
func (p *Pipeline) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "ingest.pipeline"))

	total := &Result{}
	var failed int

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: cancelled")
		}

		slog := log.With(zap.String("stage", stage.Name()))
		slog.Info("stage starting")

		runID, err := p.runLog.Start(ctx, stage.Name())
		if err != nil {
			return err
		}

		started := time.Now()
		result, err := stage.Run(ctx)
		if err != nil {
			if logErr := p.runLog.Fail(ctx, runID, err.Error()); logErr != nil {
				slog.Warn("failed to record stage failure", zap.Error(logErr))
			}
			if IsFatal(err) {
				slog.Error("stage failed fatally, aborting pipeline", zap.Error(err))
				return err
			}
			slog.Error("stage failed, continuing", zap.Error(err))
			failed++
			continue
		}

		if err := p.runLog.Complete(ctx, runID, result); err != nil {
			slog.Warn("failed to record stage completion", zap.Error(err))
		}

		slog.Info("stage complete",
			zap.Duration("elapsed", time.Since(started)),
			zap.Int("files", result.Files),
			zap.Int64("inserted", result.Inserted),
			zap.Int64("updated", result.Updated),
			zap.Int64("skipped", result.Skipped),
			zap.Int64("deleted", result.Deleted),
		)
		total.Add(result)
	}

	log.Info("pipeline complete",
		zap.Int("stages", len(p.stages)),
		zap.Int("failed", failed),
		zap.Int64("inserted", total.Inserted),
		zap.Int64("updated", total.Updated),
		zap.Int64("skipped", total.Skipped),
		zap.Int64("deleted", total.Deleted),
	)
	if total.Skipped > 0 {
		log.Warn("some records were skipped; affected features may be missing explanations or statistics",
			zap.Int64("skipped", total.Skipped))
	}
	if failed > 0 {
		return eris.Errorf("pipeline: %d of %d stages failed", failed, len(p.stages))
	}
	return nil
}
