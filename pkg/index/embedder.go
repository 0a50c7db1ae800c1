package index

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/adapter"
)

// GeminiEmbedder embeds text with the configured Gemini embedding model
type GeminiEmbedder struct {
	client    adapter.Gemini
	dimension int
}

func NewGeminiEmbedder(client adapter.Gemini, dimension int) *GeminiEmbedder {
	return &GeminiEmbedder{client: client, dimension: dimension}
}

func (e *GeminiEmbedder) Name() string {
	return fmt.Sprintf("gemini:%d", e.dimension)
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embedding(ctx, text, e.dimension)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed text")
	}
	if len(vec) != e.dimension {
		return nil, goerr.New("unexpected embedding dimension", goerr.V("expected", e.dimension), goerr.V("actual", len(vec)))
	}
	return vec, nil
}

// HashMinScore is the default threshold of HashEmbedder. A single shared word between a
// short query and a record description scores around 0.15.
const HashMinScore = 0.1

// HashEmbedder maps word tokens into signed buckets with FNV-1a. It needs no network and
// is deterministic, so it serves offline runs and tests.
type HashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashEmbedder{dimension: dimension}
}

func (e *HashEmbedder) Name() string {
	return fmt.Sprintf("hash:%d", e.dimension)
}

func (e *HashEmbedder) MinScore() float64 {
	return HashMinScore
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()

		bucket := int(sum % uint64(e.dimension))
		if sum>>63 == 1 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	normalize(vec)
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize scales vec to unit length in place; a zero vector stays zero
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
