package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/realm-ml/interp-ingest/internal/batch"
	"github.com/realm-ml/interp-ingest/internal/config"
	"github.com/realm-ml/interp-ingest/internal/db"
	"github.com/realm-ml/interp-ingest/internal/resolve"
)

// ActivationID builds the deterministic id for an activation example. The file
// and line positions are part of the identity, so re-running the same input
// collides instead of duplicating while distinct examples for the same unit
// never collide with each other.
func ActivationID(modelID, sourceID string, index Index, fileIdx, lineIdx int) string {
	return fmt.Sprintf("act_%s_%s_%s_%d_%d", modelID, sourceID, index, fileIdx, lineIdx)
}

// ActivationImporter streams activation batch files into the store. Inserts
// are guarded by unit existence: candidates whose unit is missing are dropped
// rather than failing the batch. It never creates parent entities beyond the
// owning user.
type ActivationImporter struct {
	pool       db.Pool
	cfg        config.IngestConfig
	guar       *Guarantor
	dir        string
	clear      bool
	confirm    Confirmer
	maxRecords int
}

// NewActivationImporter creates an importer over the batch files in dir.
// When clear is set, existing activations for the dataset's model and source
// set are deleted first, gated by confirm. maxRecords caps the total records
// processed; zero means no cap.
func NewActivationImporter(pool db.Pool, cfg config.IngestConfig, dir string, clear bool, confirm Confirmer, maxRecords int) *ActivationImporter {
	if confirm == nil {
		confirm = DenyAll
	}
	return &ActivationImporter{
		pool:       pool,
		cfg:        cfg,
		guar:       NewGuarantor(pool, cfg),
		dir:        dir,
		clear:      clear,
		confirm:    confirm,
		maxRecords: maxRecords,
	}
}

// Name implements Stage.
func (im *ActivationImporter) Name() string { return "activations" }

// Run implements Stage.
func (im *ActivationImporter) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "ingest.activations"))

	info, err := DiscoverDataset(ctx, im.dir)
	if err != nil {
		return nil, Fatal(err)
	}
	modelID := info.ModelID

	ownerID, err := im.guar.EnsureUser(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{Metadata: map[string]any{"model": modelID}}

	if im.clear {
		deleted, err := im.clearExisting(ctx, modelID)
		if err != nil {
			return nil, err
		}
		result.Deleted = deleted
	}

	files, err := batch.Discover(im.dir)
	if err != nil {
		return nil, Fatal(err)
	}

	log.Info("starting activation import",
		zap.String("model", modelID),
		zap.Int("files", len(files)),
	)

	var duplicates int64
	var failedFiles int
	seen := 0

	for fileIdx, path := range files {
		n, err := im.importFile(ctx, path, modelID, ownerID, fileIdx, &seen, result, &duplicates)
		if err != nil {
			if IsFatal(err) {
				return nil, err
			}
			failedFiles++
			log.Error("file failed, continuing with next",
				zap.String("file", path), zap.Error(err))
			continue
		}
		result.Files++
		log.Info("file complete", zap.String("file", path), zap.Int("records", n))

		if im.maxRecords > 0 && seen >= im.maxRecords {
			log.Info("record cap reached, stopping", zap.Int("records", seen))
			break
		}
	}

	result.Metadata["duplicates"] = duplicates
	if failedFiles > 0 {
		result.Metadata["failed_files"] = failedFiles
	}
	return result, nil
}

// clearExisting deletes all activations for the model and configured source
// set. The deletion is destructive and gated on confirmation.
func (im *ActivationImporter) clearExisting(ctx context.Context, modelID string) (int64, error) {
	pattern := "%-" + im.cfg.SourceSet

	var count int64
	err := im.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM "Activation" WHERE "modelId" = $1 AND layer LIKE $2`,
		modelID, pattern,
	).Scan(&count)
	if err != nil {
		return 0, Fatal(eris.Wrapf(err, "ingest: count activations for %s", modelID))
	}
	if count == 0 {
		return 0, nil
	}

	prompt := fmt.Sprintf("Delete %d existing activations for model %q, source set %q?", count, modelID, im.cfg.SourceSet)
	if !im.confirm(prompt) {
		return 0, eris.New("ingest: activation clear declined")
	}

	tag, err := im.pool.Exec(ctx,
		`DELETE FROM "Activation" WHERE "modelId" = $1 AND layer LIKE $2`,
		modelID, pattern,
	)
	if err != nil {
		return 0, Fatal(eris.Wrapf(err, "ingest: clear activations for %s", modelID))
	}

	zap.L().Info("cleared existing activations",
		zap.String("model", modelID),
		zap.Int64("deleted", tag.RowsAffected()),
	)
	return tag.RowsAffected(), nil
}

func (im *ActivationImporter) importFile(ctx context.Context, path, modelID, ownerID string, fileIdx int, seen *int, result *Result, duplicates *int64) (int, error) {
	log := zap.L().With(zap.String("component", "ingest.activations"), zap.String("file", path))

	var pending [][]any

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		inserted, dropped, err := db.BulkInsert(ctx, im.pool, db.InsertConfig{
			Table:        "Activation",
			Columns:      []string{"id", "modelId", "layer", "index", "creatorId", "tokens", "values", "maxValue", "minValue", "maxValueTokenIndex"},
			ConflictKeys: []string{"id"},
			Parent: &db.ParentGuard{
				Table: "Neuron",
				On: [][2]string{
					{"modelId", "modelId"},
					{"layer", "layer"},
					{"index", "index"},
				},
			},
		}, pending)
		if err != nil {
			return eris.Wrapf(err, "ingest: insert activation batch from %s", path)
		}
		result.Inserted += inserted
		// Orphans whose unit is absent are skips; the remaining shortfall is
		// re-run collisions on the deterministic id.
		result.Skipped += dropped
		*duplicates += int64(len(pending)) - inserted - dropped
		pending = pending[:0]
		return nil
	}

	onSkip := func(e *batch.MalformedRecordError) {
		result.Skipped++
		log.Warn("skipping malformed record", zap.Int("line", e.Line), zap.Error(e.Err))
	}

	lineIdx := 0
	n, err := batch.DecodeFile(ctx, path, onSkip, func(rec ActivationRecord) error {
		if im.maxRecords > 0 && *seen >= im.maxRecords {
			return errRecordCap
		}
		*seen++
		pos := lineIdx
		lineIdx++

		if rec.Index == "" {
			result.Skipped++
			log.Warn("skipping record with missing index", zap.String("layer", rec.Layer))
			return nil
		}

		layer, err := resolve.LayerIndex(rec.Layer)
		if err != nil {
			result.Skipped++
			log.Warn("skipping record with unresolvable layer",
				zap.String("layer", rec.Layer), zap.Error(err))
			return nil
		}
		sourceID := resolve.SourceID(layer, im.cfg.SourceSet)

		tokens := rec.Tokens
		if tokens == nil {
			tokens = []string{}
		}
		values := rec.Values
		if values == nil {
			values = []float64{}
		}

		pending = append(pending, []any{
			ActivationID(modelID, sourceID, rec.Index, fileIdx, pos),
			modelID, sourceID, string(rec.Index), ownerID,
			tokens, values,
			rec.MaxValue, rec.MinValue, rec.MaxValueTokenIndex,
		})
		if len(pending) >= im.cfg.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRecordCap) {
		return n, err
	}

	if err := flush(); err != nil {
		return n, err
	}
	return n, nil
}
