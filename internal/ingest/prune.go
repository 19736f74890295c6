package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/realm-ml/interp-ingest/internal/config"
	"github.com/realm-ml/interp-ingest/internal/db"
)

// Pruner trims each unit's activation examples down to the k strongest by
// maxValue. It works one layer group at a time; each group's deletion commits
// independently, so an interrupted run leaves whole groups either pruned or
// untouched.
type Pruner struct {
	pool    db.Pool
	cfg     config.IngestConfig
	dir     string
	modelID string
	topK    int
}

// NewPruner creates a Pruner. modelID may be empty, in which case it is
// derived from the batch files in dir. topK <= 0 falls back to the configured
// default.
func NewPruner(pool db.Pool, cfg config.IngestConfig, dir, modelID string, topK int) *Pruner {
	if topK <= 0 {
		topK = cfg.TopK
	}
	return &Pruner{pool: pool, cfg: cfg, dir: dir, modelID: modelID, topK: topK}
}

// Name implements Stage.
func (p *Pruner) Name() string { return "prune" }

// Run implements Stage.
func (p *Pruner) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "ingest.prune"))

	modelID := p.modelID
	if modelID == "" {
		info, err := DiscoverDataset(ctx, p.dir)
		if err != nil {
			return nil, Fatal(err)
		}
		modelID = info.ModelID
	}

	pattern := "%-" + p.cfg.SourceSet

	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT layer FROM "Activation" WHERE "modelId" = $1 AND layer LIKE $2 ORDER BY layer`,
		modelID, pattern,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: list activation layers for %s", modelID)
	}

	var layers []string
	for rows.Next() {
		var layer string
		if err := rows.Scan(&layer); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "ingest: scan activation layer")
		}
		layers = append(layers, layer)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "ingest: iterate activation layers")
	}

	log.Info("pruning activations",
		zap.String("model", modelID),
		zap.Int("layers", len(layers)),
		zap.Int("top_k", p.topK),
	)

	result := &Result{Metadata: map[string]any{"model": modelID, "top_k": p.topK}}

	for _, layer := range layers {
		// An activation survives only if fewer than k activations of the same
		// unit have a strictly greater maxValue. Ties beyond position k are
		// all kept, so every unit retains at least k examples.
		tag, err := p.pool.Exec(ctx,
			`DELETE FROM "Activation" a1
			 WHERE a1."modelId" = $1 AND a1.layer = $2
			   AND (
			       SELECT COUNT(*) FROM "Activation" a2
			       WHERE a2."modelId" = a1."modelId"
			         AND a2.layer = a1.layer
			         AND a2.index = a1.index
			         AND a2."maxValue" > a1."maxValue"
			   ) >= $3`,
			modelID, layer, p.topK,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: prune layer %s", layer)
		}
		result.Deleted += tag.RowsAffected()
		log.Info("layer pruned",
			zap.String("layer", layer),
			zap.Int64("deleted", tag.RowsAffected()),
		)
	}

	return result, nil
}
