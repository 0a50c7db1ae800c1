package index

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/adapter"
	"github.com/m-mizutani/nutriguide/pkg/interfaces"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
)

const DefaultSnapshotKey = "index/nutrition.json"

type snapshot struct {
	Embedder  string                   `json:"embedder"`
	Dimension int                      `json:"dimension"`
	Records   []*model.NutritionRecord `json:"records"`
	Vectors   [][]float32              `json:"vectors"`
}

// Save writes the index so that Load can restore it without re-embedding
func Save(ctx context.Context, storage adapter.Storage, key string, m *Memory) error {
	snap := snapshot{
		Embedder: m.embedder.Name(),
		Records:  m.records,
		Vectors:  m.vectors,
	}
	if len(m.vectors) > 0 {
		snap.Dimension = len(m.vectors[0])
	}

	w, err := storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open index snapshot for writing", goerr.V("key", key))
	}

	if err := json.NewEncoder(w).Encode(snap); err != nil {
		w.Close()
		return goerr.Wrap(err, "failed to encode index snapshot", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to write index snapshot", goerr.V("key", key))
	}

	logging.From(ctx).Info("index snapshot saved", "key", key, "records", len(snap.Records))
	return nil
}

// Load restores a snapshot. The embedder must be the one the snapshot was built with,
// because queries are embedded at search time.
func Load(ctx context.Context, storage adapter.Storage, key string, embedder interfaces.Embedder, opts ...Option) (*Memory, error) {
	r, err := storage.Get(ctx, key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open index snapshot", goerr.V("key", key))
	}
	defer r.Close()

	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, goerr.Wrap(err, "failed to decode index snapshot", goerr.V("key", key))
	}

	if snap.Embedder != embedder.Name() {
		return nil, goerr.New("snapshot was built with a different embedder",
			goerr.V("snapshot", snap.Embedder), goerr.V("configured", embedder.Name()))
	}
	for _, vec := range snap.Vectors {
		if len(vec) != snap.Dimension {
			return nil, goerr.New("snapshot vector has wrong dimension", goerr.V("expected", snap.Dimension), goerr.V("actual", len(vec)))
		}
	}

	m, err := newMemory(embedder, snap.Records, snap.Vectors, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid index snapshot", goerr.V("key", key))
	}

	logging.From(ctx).Debug("index snapshot loaded", "key", key, "records", m.Len())
	return m, nil
}
