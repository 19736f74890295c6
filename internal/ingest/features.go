package ingest

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/realm-ml/interp-ingest/internal/batch"
	"github.com/realm-ml/interp-ingest/internal/config"
	"github.com/realm-ml/interp-ingest/internal/db"
	"github.com/realm-ml/interp-ingest/internal/resolve"
)

// featureColumns are the wide statistics columns updated in place on Neuron.
// Order must match the row building in importFile.
var featureColumns = []string{
	"maxActApprox",
	"hasVector",
	"vector",
	"vectorDefaultSteerStrength",
	"vectorLabel",
	"topkCosSimIndices",
	"topkCosSimValues",
	"neuron_alignment_indices",
	"neuron_alignment_values",
	"neuron_alignment_l1",
	"correlated_neurons_indices",
	"correlated_neurons_pearson",
	"correlated_neurons_l1",
	"correlated_features_indices",
	"correlated_features_pearson",
	"correlated_features_l1",
	"neg_str",
	"neg_values",
	"pos_str",
	"pos_values",
	"frac_nonzero",
	"freq_hist_data_bar_heights",
	"freq_hist_data_bar_values",
	"logits_hist_data_bar_heights",
	"logits_hist_data_bar_values",
	"decoder_weights_dist",
	"hookName",
}

// FeatureStatsUpdater streams feature-statistics batch files and applies them
// as in-place updates on existing neurons. Records for absent units match
// nothing and are counted as skipped; updates never create rows.
type FeatureStatsUpdater struct {
	pool       db.Pool
	cfg        config.IngestConfig
	dir        string
	maxRecords int
}

// NewFeatureStatsUpdater creates an updater over the batch files in dir.
// maxRecords caps the total records processed; zero means no cap.
func NewFeatureStatsUpdater(pool db.Pool, cfg config.IngestConfig, dir string, maxRecords int) *FeatureStatsUpdater {
	return &FeatureStatsUpdater{pool: pool, cfg: cfg, dir: dir, maxRecords: maxRecords}
}

// Name implements Stage.
func (u *FeatureStatsUpdater) Name() string { return "features" }

// Run implements Stage.
func (u *FeatureStatsUpdater) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "ingest.features"))

	info, err := DiscoverDataset(ctx, u.dir)
	if err != nil {
		return nil, Fatal(err)
	}
	modelID := info.ModelID

	files, err := batch.Discover(u.dir)
	if err != nil {
		return nil, Fatal(err)
	}

	log.Info("starting feature statistics update",
		zap.String("model", modelID),
		zap.Int("files", len(files)),
	)

	result := &Result{Metadata: map[string]any{"model": modelID}}
	var failedFiles int
	seen := 0

	for _, path := range files {
		n, err := u.updateFile(ctx, path, modelID, &seen, result)
		if err != nil {
			failedFiles++
			log.Error("file failed, continuing with next",
				zap.String("file", path), zap.Error(err))
			continue
		}
		result.Files++
		log.Info("file complete", zap.String("file", path), zap.Int("records", n))

		if u.maxRecords > 0 && seen >= u.maxRecords {
			log.Info("record cap reached, stopping", zap.Int("records", seen))
			break
		}
	}

	if failedFiles > 0 {
		result.Metadata["failed_files"] = failedFiles
	}
	return result, nil
}

func (u *FeatureStatsUpdater) updateFile(ctx context.Context, path, modelID string, seen *int, result *Result) (int, error) {
	log := zap.L().With(zap.String("component", "ingest.features"), zap.String("file", path))

	var pending [][]any

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		updated, err := db.BulkUpdate(ctx, u.pool, db.UpdateConfig{
			Table:   "Neuron",
			Keys:    []string{"modelId", "layer", "index"},
			Columns: featureColumns,
		}, pending)
		if err != nil {
			return eris.Wrapf(err, "ingest: update feature batch from %s", path)
		}
		result.Updated += updated
		// Rows with no matching unit update nothing.
		result.Skipped += int64(len(pending)) - updated
		pending = pending[:0]
		return nil
	}

	onSkip := func(e *batch.MalformedRecordError) {
		result.Skipped++
		log.Warn("skipping malformed record", zap.Int("line", e.Line), zap.Error(e.Err))
	}

	n, err := batch.DecodeFile(ctx, path, onSkip, func(rec FeatureRecord) error {
		if u.maxRecords > 0 && *seen >= u.maxRecords {
			return errRecordCap
		}
		*seen++

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
		sourceID := resolve.SourceID(layer, u.cfg.SourceSet)

		pending = append(pending, featureRow(modelID, sourceID, rec))
		if len(pending) >= u.cfg.BatchSize {
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

// featureRow builds one update row: key values first, then the columns in
// featureColumns order.
func featureRow(modelID, sourceID string, rec FeatureRecord) []any {
	return []any{
		modelID, sourceID, string(rec.Index),

		rec.MaxActApprox,
		rec.HasVector,
		floats(rec.Vector),
		rec.VectorDefaultSteerStrength,
		rec.VectorLabel,
		int32s(rec.TopkCosSimIndices),
		floats(rec.TopkCosSimValues),
		int32s(rec.NeuronAlignmentIndices),
		floats(rec.NeuronAlignmentValues),
		floats(rec.NeuronAlignmentL1),
		int32s(rec.CorrelatedNeuronsIndices),
		floats(rec.CorrelatedNeuronsPearson),
		floats(rec.CorrelatedNeuronsL1),
		int32s(rec.CorrelatedFeaturesIndices),
		floats(rec.CorrelatedFeaturesPearson),
		floats(rec.CorrelatedFeaturesL1),
		strs(rec.NegStr),
		floats(rec.NegValues),
		strs(rec.PosStr),
		floats(rec.PosValues),
		rec.FracNonzero,
		floats(rec.FreqHistDataBarHeights),
		floats(rec.FreqHistDataBarValues),
		floats(rec.LogitsHistDataBarHeights),
		floats(rec.LogitsHistDataBarValues),
		floats(rec.DecoderWeightsDist),
		rec.HookName,
	}
}

// Array columns are NOT NULL, so absent fields become empty arrays.

func floats(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

func strs(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func int32s(v []int) []int32 {
	out := make([]int32, len(v))
	for i, x := range v {
		out[i] = int32(x)
	}
	return out
}
