package ingest

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/realm-ml/interp-ingest/internal/db"
)

// MaxActFixer backfills Neuron.maxActApprox for units where feature ingestion
// left it zero or null but activation examples exist. The approximation is the
// strongest stored activation's maxValue.
type MaxActFixer struct {
	pool    db.Pool
	modelID string // optional filter; empty means all models
	confirm Confirmer
}

// NewMaxActFixer creates a MaxActFixer. modelID narrows the fix to one model;
// pass "" to scan everything.
func NewMaxActFixer(pool db.Pool, modelID string, confirm Confirmer) *MaxActFixer {
	if confirm == nil {
		confirm = DenyAll
	}
	return &MaxActFixer{pool: pool, modelID: modelID, confirm: confirm}
}

// Name implements Stage.
func (f *MaxActFixer) Name() string { return "fix-max-act" }

// Run implements Stage.
func (f *MaxActFixer) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "ingest.maxact"))

	filter := `(n."maxActApprox" IS NULL OR n."maxActApprox" = 0)`
	args := []any{}
	if f.modelID != "" {
		filter += ` AND n."modelId" = $1`
		args = append(args, f.modelID)
	}

	var count int64
	err := f.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT COUNT(*)
		 FROM "Neuron" n
		 WHERE %s
		   AND EXISTS (
		       SELECT 1 FROM "Activation" a
		       WHERE a."modelId" = n."modelId" AND a.layer = n.layer AND a.index = n.index
		   )`, filter), args...,
	).Scan(&count)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: count units missing maxActApprox")
	}

	if count == 0 {
		log.Info("no units need a maxActApprox backfill")
		return &Result{}, nil
	}

	if !f.confirm(fmt.Sprintf("Backfill maxActApprox for %d units from their stored activations?", count)) {
		return nil, eris.New("ingest: maxActApprox backfill declined")
	}

	tag, err := f.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE "Neuron" n
		 SET "maxActApprox" = s.max_value
		 FROM (
		     SELECT "modelId", layer, index, MAX("maxValue") AS max_value
		     FROM "Activation"
		     GROUP BY "modelId", layer, index
		 ) s
		 WHERE n."modelId" = s."modelId" AND n.layer = s.layer AND n.index = s.index
		   AND %s`, filter), args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: backfill maxActApprox")
	}

	log.Info("backfilled maxActApprox",
		zap.Int64("updated", tag.RowsAffected()),
		zap.String("model", f.modelID),
	)
	return &Result{Updated: tag.RowsAffected()}, nil
}
