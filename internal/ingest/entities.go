package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/realm-ml/interp-ingest/internal/config"
	"github.com/realm-ml/interp-ingest/internal/db"
	"github.com/realm-ml/interp-ingest/internal/resolve"
)

// Guarantor ensures parent entities exist before any dependent record is
// written. Every operation is check-then-create with duplicate inserts
// treated as no-ops, safe to call repeatedly. Failures are fatal and never
// retried: they signal an environment or schema problem, not transient
// contention.
type Guarantor struct {
	pool db.Pool
	cfg  config.IngestConfig
}

// NewGuarantor creates a Guarantor.
func NewGuarantor(pool db.Pool, cfg config.IngestConfig) *Guarantor {
	return &Guarantor{pool: pool, cfg: cfg}
}

// EnsureUser guarantees the configured owner user row exists and returns its id.
func (g *Guarantor) EnsureUser(ctx context.Context) (string, error) {
	id := g.cfg.OwnerID

	var existing string
	err := g.pool.QueryRow(ctx, `SELECT id FROM "User" WHERE id = $1`, id).Scan(&existing)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", Fatal(eris.Wrapf(err, "guarantor: look up user %s", id))
	}

	_, err = g.pool.Exec(ctx,
		`INSERT INTO "User" (id, name, email, "emailUnsubscribeCode")
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		id, id, id+"@ingest.local", "unsubscribe-"+id,
	)
	if err != nil {
		return "", Fatal(eris.Wrapf(err, "guarantor: create user %s", id))
	}

	zap.L().Info("created user", zap.String("user", id))
	return id, nil
}

// explanationTypes are the fixed vocabulary rows explanation records may
// reference via typeName.
var explanationTypes = [][3]string{
	{"np_max-act-logits", "Max Activation with Logits", "Max activation with logits explanation"},
	{"oai_token-act-pair", "Token Activation Pair", "Token activation pair explanation"},
	{"imported", "Imported", "Imported explanation from external source"},
}

// explanationModelTypes are the models an explanation can be attributed to.
var explanationModelTypes = [][3]string{
	{"gpt-4o-mini", "GPT-4o Mini", "OpenAI GPT-4o Mini model"},
	{"unknown", "Unknown", "Unknown explanation model"},
}

// EnsureExplanationTypes guarantees the fixed explanation type rows exist.
func (g *Guarantor) EnsureExplanationTypes(ctx context.Context, ownerID string) error {
	for _, t := range explanationTypes {
		_, err := g.pool.Exec(ctx,
			`INSERT INTO "ExplanationType" (name, "displayName", description, "creatorId", "creatorName", "createdAt", "updatedAt")
			 VALUES ($1, $2, $3, $4, 'system', now(), now())
			 ON CONFLICT (name) DO NOTHING`,
			t[0], t[1], t[2], ownerID,
		)
		if err != nil {
			return Fatal(eris.Wrapf(err, "guarantor: ensure explanation type %s", t[0]))
		}
	}

	for _, t := range explanationModelTypes {
		_, err := g.pool.Exec(ctx,
			`INSERT INTO "ExplanationModelType" (name, "displayName", description, "creatorName", "createdAt", "updatedAt")
			 VALUES ($1, $2, $3, 'system', now(), now())
			 ON CONFLICT (name) DO NOTHING`,
			t[0], t[1], t[2],
		)
		if err != nil {
			return Fatal(eris.Wrapf(err, "guarantor: ensure explanation model type %s", t[0]))
		}
	}

	return nil
}

// EnsureModel guarantees a Model row exists for the raw upstream id and
// returns the canonical store id. First writer wins: an existing row is never
// updated, even when the observed layer count disagrees with the stored one.
// The mismatch is logged so under-provisioning is at least visible.
func (g *Guarantor) EnsureModel(ctx context.Context, rawID string, layers int, ownerID string) (string, error) {
	id := resolve.CanonicalModelID(rawID)

	var storedLayers int
	err := g.pool.QueryRow(ctx, `SELECT layers FROM "Model" WHERE id = $1`, id).Scan(&storedLayers)
	if err == nil {
		if storedLayers != layers {
			zap.L().Warn("model layer count mismatch, keeping stored value",
				zap.String("model", id),
				zap.Int("stored", storedLayers),
				zap.Int("observed", layers),
			)
		}
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", Fatal(eris.Wrapf(err, "guarantor: look up model %s", id))
	}

	_, err = g.pool.Exec(ctx,
		`INSERT INTO "Model" (id, "displayName", "creatorId", layers, "neuronsPerLayer", owner, visibility, "createdAt", "updatedAt")
		 VALUES ($1, $2, $3, $4, $5, $6, 'PUBLIC', now(), now())
		 ON CONFLICT (id) DO NOTHING`,
		id, fmt.Sprintf("%s (Local)", rawID), ownerID, layers, g.cfg.NeuronsPerLayer, ownerID,
	)
	if err != nil {
		return "", Fatal(eris.Wrapf(err, "guarantor: create model %s", id))
	}

	zap.L().Info("created model",
		zap.String("model", id),
		zap.String("raw_id", rawID),
		zap.Int("layers", layers),
	)
	return id, nil
}

// EnsureSourceSet guarantees the source set and one Source per layer in
// [0, layers) exist for the model.
func (g *Guarantor) EnsureSourceSet(ctx context.Context, modelID string, layers int, ownerID string) error {
	setName := g.cfg.SourceSet

	var existing string
	err := g.pool.QueryRow(ctx,
		`SELECT name FROM "SourceSet" WHERE "modelId" = $1 AND name = $2`,
		modelID, setName,
	).Scan(&existing)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Fatal(eris.Wrapf(err, "guarantor: look up source set %s/%s", modelID, setName))
		}
		_, err = g.pool.Exec(ctx,
			`INSERT INTO "SourceSet" ("modelId", name, description, "creatorName", "creatorId", visibility, "createdAt")
			 VALUES ($1, $2, $3, $4, $5, 'PUBLIC', now())
			 ON CONFLICT ("modelId", name) DO NOTHING`,
			modelID, setName,
			fmt.Sprintf("Auto-interpreted SAE features for %s", modelID),
			ownerID, ownerID,
		)
		if err != nil {
			return Fatal(eris.Wrapf(err, "guarantor: create source set %s/%s", modelID, setName))
		}
		zap.L().Info("created source set", zap.String("model", modelID), zap.String("set", setName))
	}

	rows := make([][]any, 0, layers)
	for layer := 0; layer < layers; layer++ {
		rows = append(rows, []any{resolve.SourceID(layer, setName), modelID, setName, ownerID})
	}

	_, _, err = db.BulkInsert(ctx, g.pool, db.InsertConfig{
		Table:        "Source",
		Columns:      []string{"id", "modelId", "setName", "creatorId"},
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return Fatal(eris.Wrapf(err, "guarantor: ensure sources for %s/%s", modelID, setName))
	}

	return nil
}

// EnsureNeurons guarantees a Neuron row exists for every index in the batch.
// Must complete before any dependent explanation insert for those indices.
// Returns the number of neurons actually created.
func (g *Guarantor) EnsureNeurons(ctx context.Context, modelID, sourceID string, indices []Index, ownerID string) (int64, error) {
	if len(indices) == 0 {
		return 0, nil
	}

	seen := make(map[Index]bool, len(indices))
	rows := make([][]any, 0, len(indices))
	for _, ix := range indices {
		if seen[ix] {
			continue
		}
		seen[ix] = true
		rows = append(rows, []any{modelID, sourceID, string(ix), g.cfg.SourceSet, ownerID})
	}

	n, _, err := db.BulkInsert(ctx, g.pool, db.InsertConfig{
		Table:        "Neuron",
		Columns:      []string{"modelId", "layer", "index", "sourceSetName", "creatorId"},
		ConflictKeys: []string{"modelId", "layer", "index"},
	}, rows)
	if err != nil {
		return 0, Fatal(eris.Wrapf(err, "guarantor: ensure neurons for %s/%s", modelID, sourceID))
	}
	return n, nil
}
