package index

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/interfaces"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	DefaultCollection = "nutrition"
	distanceField     = "vector_distance"
)

// Firestore keeps records with their embeddings in a collection and answers searches with
// the native vector query. The collection needs a vector index on the embedding field.
type Firestore struct {
	client     *firestore.Client
	collection string
	embedder   interfaces.Embedder
	minScore   float64
	timeout    time.Duration
}

var _ interfaces.NutritionIndex = (*Firestore)(nil)

type nutritionDoc struct {
	model.NutritionRecord
	Key       string             `firestore:"key"`
	Embedder  string             `firestore:"embedder"`
	Embedding firestore.Vector32 `firestore:"embedding"`
}

func NewFirestore(ctx context.Context, projectID, databaseID, collection string, embedder interfaces.Embedder, opts ...Option) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}
	return newFirestore(client, collection, embedder, opts...), nil
}

// NewFirestoreWithOptions is NewFirestore with explicit client options such as a credentials file
func NewFirestoreWithOptions(ctx context.Context, projectID, databaseID, collection string, embedder interfaces.Embedder, clientOpts []option.ClientOption, opts ...Option) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}
	return newFirestore(client, collection, embedder, opts...), nil
}

func newFirestore(client *firestore.Client, collection string, embedder interfaces.Embedder, opts ...Option) *Firestore {
	if collection == "" {
		collection = DefaultCollection
	}
	o := newOptions(embedder, opts)
	return &Firestore{
		client:     client,
		collection: collection,
		embedder:   embedder,
		minScore:   o.minScore,
		timeout:    o.timeout,
	}
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

// Put embeds and uploads records. Existing documents with the same name are replaced.
func (f *Firestore) Put(ctx context.Context, records []*model.NutritionRecord) error {
	col := f.client.Collection(f.collection)
	writer := f.client.BulkWriter(ctx)

	jobs := make([]*firestore.BulkWriterJob, 0, len(records))
	for _, rec := range records {
		vec, err := f.embedder.Embed(ctx, rec.Description())
		if err != nil {
			writer.End()
			return goerr.Wrap(err, "failed to embed record", goerr.V("food", rec.Name))
		}
		doc := &nutritionDoc{
			NutritionRecord: *rec,
			Key:             rec.Key(),
			Embedder:        f.embedder.Name(),
			Embedding:       firestore.Vector32(vec),
		}
		job, err := writer.Set(col.Doc(rec.Key()), doc)
		if err != nil {
			writer.End()
			return goerr.Wrap(err, "failed to enqueue record", goerr.V("food", rec.Name))
		}
		jobs = append(jobs, job)
	}
	writer.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to write record", goerr.V("collection", f.collection))
		}
	}

	logging.From(ctx).Info("nutrition records uploaded", "collection", f.collection, "records", len(records))
	return nil
}

func (f *Firestore) Search(ctx context.Context, query string, k int) ([]*model.ScoredRecord, error) {
	if k <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "k must be positive", goerr.V("k", k))
	}
	if strings.TrimSpace(query) == "" {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "query is empty")
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	qvec, err := f.embedder.Embed(ctx, query)
	if err != nil {
		return nil, f.wrapQueryError(ctx, err, query)
	}

	vq := f.client.Collection(f.collection).
		FindNearest("embedding", firestore.Vector32(qvec), k, firestore.DistanceMeasureCosine,
			&firestore.FindNearestOptions{DistanceResultField: distanceField})

	docs, err := vq.Documents(ctx).GetAll()
	if err != nil {
		return nil, f.wrapQueryError(ctx, err, query)
	}

	hits := make([]*model.ScoredRecord, 0, len(docs))
	for _, snap := range docs {
		var doc nutritionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode nutrition document", goerr.V("id", snap.Ref.ID))
		}

		distance, ok := snap.Data()[distanceField].(float64)
		if !ok {
			return nil, goerr.New("vector distance is missing", goerr.V("id", snap.Ref.ID))
		}
		score := 1 - distance
		if score < f.minScore {
			continue
		}

		rec := doc.NutritionRecord
		hits = append(hits, &model.ScoredRecord{Record: &rec, Score: score})
	}

	sortHits(hits)
	return hits, nil
}

func (f *Firestore) wrapQueryError(ctx context.Context, err error, query string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		status.Code(err) == codes.DeadlineExceeded {
		return goerr.Wrap(model.ErrTimeout, "index query timed out", goerr.V("query", query))
	}
	return goerr.Wrap(err, "failed to search nutrition index", goerr.V("query", query))
}

func (f *Firestore) Lookup(ctx context.Context, name string) (*model.NutritionRecord, error) {
	key := model.NormalizeFoodName(name)
	if key == "" {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "food name is empty")
	}

	snap, err := f.client.Collection(f.collection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNoMatchFound, "food is not in the index", goerr.V("name", name))
		}
		return nil, goerr.Wrap(err, "failed to get nutrition document", goerr.V("name", name))
	}

	var doc nutritionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode nutrition document", goerr.V("name", name))
	}
	return &doc.NutritionRecord, nil
}

func (f *Firestore) Categories(ctx context.Context) ([]string, error) {
	iter := f.client.Collection(f.collection).Select("category").Documents(ctx)
	defer iter.Stop()

	seen := make(map[string]bool)
	var categories []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list categories")
		}
		category, _ := snap.Data()["category"].(string)
		if category == "" || seen[category] {
			continue
		}
		seen[category] = true
		categories = append(categories, category)
	}

	sort.Strings(categories)
	return categories, nil
}

func (f *Firestore) ListByCategory(ctx context.Context, category string) ([]*model.NutritionRecord, error) {
	want := strings.ToLower(strings.TrimSpace(category))
	if want == "" {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "category is empty")
	}

	docs, err := f.client.Collection(f.collection).Where("category", "==", want).Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list category", goerr.V("category", category))
	}
	if len(docs) == 0 {
		return nil, goerr.Wrap(model.ErrNoMatchFound, "no food in category", goerr.V("category", category))
	}

	records := make([]*model.NutritionRecord, 0, len(docs))
	for _, snap := range docs {
		var doc nutritionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode nutrition document", goerr.V("id", snap.Ref.ID))
		}
		rec := doc.NutritionRecord
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Key() < records[j].Key()
	})
	return records, nil
}
