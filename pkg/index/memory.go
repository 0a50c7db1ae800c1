package index

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/interfaces"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
)

const DefaultMinScore = 0.3

// minScorer is implemented by embedders whose similarities run on a different scale than
// DefaultMinScore assumes
type minScorer interface {
	MinScore() float64
}

// Memory is a flat cosine index held in memory. It is immutable after Build and safe for
// concurrent readers.
type Memory struct {
	embedder interfaces.Embedder
	records  []*model.NutritionRecord
	vectors  [][]float32
	byKey    map[string]int
	minScore float64
	timeout  time.Duration
}

var _ interfaces.NutritionIndex = (*Memory)(nil)

type Option func(*options)

type options struct {
	minScore float64
	timeout  time.Duration
}

// WithMinScore drops search hits whose cosine similarity is below score
func WithMinScore(score float64) Option {
	return func(o *options) {
		o.minScore = score
	}
}

// WithTimeout bounds every search; zero leaves the caller's deadline as the only bound
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// newOptions starts from the embedder's own threshold when it has one
func newOptions(embedder interfaces.Embedder, opts []Option) options {
	o := options{minScore: DefaultMinScore}
	if ms, ok := embedder.(minScorer); ok {
		o.minScore = ms.MinScore()
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Build embeds the description of every record and returns the index
func Build(ctx context.Context, embedder interfaces.Embedder, records []*model.NutritionRecord, opts ...Option) (*Memory, error) {
	vectors := make([][]float32, 0, len(records))
	for _, rec := range records {
		vec, err := embedder.Embed(ctx, rec.Description())
		if err != nil {
			return nil, goerr.Wrap(err, "failed to embed record", goerr.V("food", rec.Name))
		}
		vec = append([]float32(nil), vec...)
		normalize(vec)
		vectors = append(vectors, vec)
	}

	logging.From(ctx).Info("nutrition index built", "records", len(records), "embedder", embedder.Name())
	return newMemory(embedder, records, vectors, opts...)
}

// newMemory expects unit-length vectors
func newMemory(embedder interfaces.Embedder, records []*model.NutritionRecord, vectors [][]float32, opts ...Option) (*Memory, error) {
	if len(records) != len(vectors) {
		return nil, goerr.New("records and vectors are not aligned", goerr.V("records", len(records)), goerr.V("vectors", len(vectors)))
	}

	o := newOptions(embedder, opts)
	m := &Memory{
		embedder: embedder,
		records:  make([]*model.NutritionRecord, 0, len(records)),
		vectors:  make([][]float32, 0, len(vectors)),
		byKey:    make(map[string]int, len(records)),
		minScore: o.minScore,
		timeout:  o.timeout,
	}

	dim := -1
	for i, rec := range records {
		if _, dup := m.byKey[rec.Key()]; dup {
			continue
		}
		vec := vectors[i]
		if dim < 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return nil, goerr.New("inconsistent vector dimension", goerr.V("food", rec.Name), goerr.V("expected", dim), goerr.V("actual", len(vec)))
		}

		m.byKey[rec.Key()] = len(m.records)
		m.records = append(m.records, rec)
		m.vectors = append(m.vectors, vec)
	}

	return m, nil
}

// Len returns the number of indexed records
func (m *Memory) Len() int {
	return len(m.records)
}

// Records returns the indexed records in build order
func (m *Memory) Records() []*model.NutritionRecord {
	return append([]*model.NutritionRecord(nil), m.records...)
}

func (m *Memory) Search(ctx context.Context, query string, k int) ([]*model.ScoredRecord, error) {
	if k <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "k must be positive", goerr.V("k", k))
	}
	if strings.TrimSpace(query) == "" {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "query is empty")
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	qvec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, goerr.Wrap(model.ErrTimeout, "index query timed out", goerr.V("query", query))
		}
		return nil, goerr.Wrap(err, "failed to embed query", goerr.V("query", query))
	}
	if len(m.vectors) > 0 && len(qvec) != len(m.vectors[0]) {
		return nil, goerr.New("query dimension does not match index", goerr.V("expected", len(m.vectors[0])), goerr.V("actual", len(qvec)))
	}
	qvec = append([]float32(nil), qvec...)
	normalize(qvec)

	hits := make([]*model.ScoredRecord, 0, len(m.records))
	for i, vec := range m.vectors {
		if i%256 == 0 && ctx.Err() != nil {
			return nil, goerr.Wrap(model.ErrTimeout, "index query timed out", goerr.V("query", query))
		}
		score := dot(qvec, vec)
		if score < m.minScore {
			continue
		}
		hits = append(hits, &model.ScoredRecord{Record: m.records[i], Score: score})
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func sortHits(hits []*model.ScoredRecord) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.Key() < hits[j].Record.Key()
	})
}

func (m *Memory) Lookup(ctx context.Context, name string) (*model.NutritionRecord, error) {
	key := model.NormalizeFoodName(name)
	if key == "" {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "food name is empty")
	}
	i, ok := m.byKey[key]
	if !ok {
		return nil, goerr.Wrap(model.ErrNoMatchFound, "food is not in the index", goerr.V("name", name))
	}
	return m.records[i], nil
}

func (m *Memory) Categories(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var categories []string
	for _, rec := range m.records {
		if rec.Category == "" || seen[rec.Category] {
			continue
		}
		seen[rec.Category] = true
		categories = append(categories, rec.Category)
	}
	sort.Strings(categories)
	return categories, nil
}

func (m *Memory) ListByCategory(ctx context.Context, category string) ([]*model.NutritionRecord, error) {
	want := strings.ToLower(strings.TrimSpace(category))
	if want == "" {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "category is empty")
	}

	var records []*model.NutritionRecord
	for _, rec := range m.records {
		if rec.Category == want {
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		return nil, goerr.Wrap(model.ErrNoMatchFound, "no food in category", goerr.V("category", category))
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Key() < records[j].Key()
	})
	return records, nil
}
