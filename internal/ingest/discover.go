package ingest

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/realm-ml/interp-ingest/internal/batch"
	"github.com/realm-ml/interp-ingest/internal/resolve"
)

// discoverySampleFiles bounds how many leading batch files are scanned to
// derive the model id and layer count. Layer coverage is assumed uniform
// across files, so a small prefix is representative.
const discoverySampleFiles = 3

// DatasetInfo describes the model a batch directory belongs to, derived from
// its leading files.
type DatasetInfo struct {
	RawModelID string // as emitted upstream
	ModelID    string // canonical store id
	Layers     int    // max observed layer index + 1
}

// DiscoverDataset derives DatasetInfo from the batch files in dir. The model
// id comes from the first record; the layer count from the highest layer
// index seen in the sampled files. Malformed lines are skipped.
func DiscoverDataset(ctx context.Context, dir string) (*DatasetInfo, error) {
	files, err := batch.Discover(dir)
	if err != nil {
		return nil, err
	}
	if len(files) > discoverySampleFiles {
		files = files[:discoverySampleFiles]
	}

	type header struct {
		ModelID string `json:"modelId"`
		Layer   string `json:"layer"`
	}

	info := &DatasetInfo{}
	maxLayer := -1

	for _, path := range files {
		_, err := batch.DecodeFile(ctx, path, nil, func(h header) error {
			if info.RawModelID == "" && h.ModelID != "" {
				info.RawModelID = h.ModelID
				info.ModelID = resolve.CanonicalModelID(h.ModelID)
			}
			layer, err := resolve.LayerIndex(h.Layer)
			if err != nil {
				return nil // unresolvable layer: ignore for discovery
			}
			if layer > maxLayer {
				maxLayer = layer
			}
			return nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: discover dataset in %s", dir)
		}
	}

	if info.RawModelID == "" || maxLayer < 0 {
		return nil, eris.Errorf("ingest: no usable records found in leading batch files of %s", dir)
	}

	info.Layers = maxLayer + 1
	return info, nil
}
