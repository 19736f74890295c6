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

// errRecordCap aborts a file scan once the configured record cap is reached.
var errRecordCap = errors.New("ingest: record cap reached")

// ExplanationID builds the deterministic id for an explanation, so re-running
// the same input collides with the prior row instead of duplicating it.
func ExplanationID(prefix, modelID, sourceID string, index Index) string {
	return fmt.Sprintf("%s_%s_%s_%s", prefix, modelID, sourceID, index)
}

// ExplanationImporter streams explanation batch files into the store. It
// bootstraps the parent entity chain, then inserts explanations in batches
// with insert-or-skip semantics, creating any referenced neurons first.
type ExplanationImporter struct {
	pool       db.Pool
	cfg        config.IngestConfig
	guar       *Guarantor
	dir        string
	maxRecords int
}

// NewExplanationImporter creates an importer over the batch files in dir.
// maxRecords caps the total records processed; zero means no cap.
func NewExplanationImporter(pool db.Pool, cfg config.IngestConfig, dir string, maxRecords int) *ExplanationImporter {
	return &ExplanationImporter{
		pool:       pool,
		cfg:        cfg,
		guar:       NewGuarantor(pool, cfg),
		dir:        dir,
		maxRecords: maxRecords,
	}
}

// Name implements Stage.
func (im *ExplanationImporter) Name() string { return "explanations" }

// Run implements Stage.
func (im *ExplanationImporter) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "ingest.explanations"))

	info, err := DiscoverDataset(ctx, im.dir)
	if err != nil {
		return nil, Fatal(err)
	}

	ownerID, err := im.guar.EnsureUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := im.guar.EnsureExplanationTypes(ctx, ownerID); err != nil {
		return nil, err
	}
	modelID, err := im.guar.EnsureModel(ctx, info.RawModelID, info.Layers, ownerID)
	if err != nil {
		return nil, err
	}
	if err := im.guar.EnsureSourceSet(ctx, modelID, info.Layers, ownerID); err != nil {
		return nil, err
	}

	files, err := batch.Discover(im.dir)
	if err != nil {
		return nil, Fatal(err)
	}

	log.Info("starting explanation import",
		zap.String("model", modelID),
		zap.Int("layers", info.Layers),
		zap.Int("files", len(files)),
	)

	result := &Result{Metadata: map[string]any{"model": modelID, "layers": info.Layers}}
	var duplicates int64
	var failedFiles int
	seen := 0

	for _, path := range files {
		n, err := im.importFile(ctx, path, modelID, ownerID, &seen, result, &duplicates)
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

// pendingExplanation is one resolved record awaiting a batch flush.
type pendingExplanation struct {
	sourceID string
	index    Index
	row      []any
}

func (im *ExplanationImporter) importFile(ctx context.Context, path, modelID, ownerID string, seen *int, result *Result, duplicates *int64) (int, error) {
	log := zap.L().With(zap.String("component", "ingest.explanations"), zap.String("file", path))

	var pending []pendingExplanation

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		// Neurons must exist before explanations reference them. Group the
		// batch by source since neurons are keyed per layer.
		bySource := make(map[string][]Index)
		for _, p := range pending {
			bySource[p.sourceID] = append(bySource[p.sourceID], p.index)
		}
		for sourceID, indices := range bySource {
			if _, err := im.guar.EnsureNeurons(ctx, modelID, sourceID, indices, ownerID); err != nil {
				return err
			}
		}

		rows := make([][]any, len(pending))
		for i, p := range pending {
			rows[i] = p.row
		}
		inserted, _, err := db.BulkInsert(ctx, im.pool, db.InsertConfig{
			Table:        "Explanation",
			Columns:      []string{"id", "modelId", "layer", "index", "description", "typeName", "explanationModelName", "authorId"},
			ConflictKeys: []string{"id"},
		}, rows)
		if err != nil {
			return eris.Wrapf(err, "ingest: insert explanation batch from %s", path)
		}
		result.Inserted += inserted
		*duplicates += int64(len(pending)) - inserted
		pending = pending[:0]
		return nil
	}

	onSkip := func(e *batch.MalformedRecordError) {
		result.Skipped++
		log.Warn("skipping malformed record", zap.Int("line", e.Line), zap.Error(e.Err))
	}

	n, err := batch.DecodeFile(ctx, path, onSkip, func(rec ExplanationRecord) error {
		if im.maxRecords > 0 && *seen >= im.maxRecords {
			return errRecordCap
		}
		*seen++

		if rec.Index == "" || rec.Description == "" {
			result.Skipped++
			log.Warn("skipping record with missing required field",
				zap.String("index", string(rec.Index)),
				zap.String("layer", rec.Layer))
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

		typeName := rec.TypeName
		if typeName == "" {
			typeName = "imported"
		}
		modelName := rec.ExplanationModelName
		if modelName == "" {
			modelName = "unknown"
		}

		pending = append(pending, pendingExplanation{
			sourceID: sourceID,
			index:    rec.Index,
			row: []any{
				ExplanationID(im.cfg.ExplanationPrefix, modelID, sourceID, rec.Index),
				modelID, sourceID, string(rec.Index),
				rec.Description, typeName, modelName, ownerID,
			},
		})
		if len(pending) >= im.cfg.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRecordCap) {
		return n, err
	}

	// Final partial batch is the file's checkpoint: everything read so far is
	// durable before the next file starts.
	if err := flush(); err != nil {
		return n, err
	}
	return n, nil
}
