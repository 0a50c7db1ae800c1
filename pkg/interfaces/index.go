package interfaces

import (
	"context"

	"github.com/m-mizutani/nutriguide/pkg/model"
)

// NutritionIndex is the read-only similarity index over nutrition records
type NutritionIndex interface {
	// Search returns at most k records ordered by descending similarity to query.
	// Records scoring below the configured minimum are never returned.
	Search(ctx context.Context, query string, k int) ([]*model.ScoredRecord, error)

	// Lookup returns the record whose normalized name equals name
	Lookup(ctx context.Context, name string) (*model.NutritionRecord, error)

	// Categories returns the known categories in sorted order
	Categories(ctx context.Context) ([]string, error)

	// ListByCategory returns records of a category sorted by name
	ListByCategory(ctx context.Context, category string) ([]*model.NutritionRecord, error)
}

// Embedder turns text into a fixed-dimension vector
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}
