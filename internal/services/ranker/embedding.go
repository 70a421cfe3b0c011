package ranker

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/services/upstream"
)

// Embedder turns text into a vector in the corpus embedding space.
type Embedder interface {
	Embed(ctx context.Context, apiKey, text string) ([]float64, error)
}

// UpstreamEmbedder embeds through the provider's embedding model, falling
// back to a deterministic pseudo-embedding when no credential is supplied
// or the call fails. The fallback keeps ranking exercisable offline; it is
// a development aid, not a quality guarantee.
type UpstreamEmbedder struct {
	client *upstream.Client
	logger *logrus.Logger
}

func NewUpstreamEmbedder(client *upstream.Client, logger *logrus.Logger) *UpstreamEmbedder {
	return &UpstreamEmbedder{client: client, logger: logger}
}

func (e *UpstreamEmbedder) Embed(ctx context.Context, apiKey, text string) ([]float64, error) {
	if apiKey != "" {
		vec, err := e.client.Embed(ctx, apiKey, text)
		if err == nil {
			return vec, nil
		}
		e.logger.WithError(err).Debug("Embedding call failed, using hash fallback")
	}
	return HashEmbed(text), nil
}

// HashEmbedder is the pure fallback used by tests and offline tooling.
type HashEmbedder struct{}

func (HashEmbedder) Embed(_ context.Context, _ string, text string) ([]float64, error) {
	return HashEmbed(text), nil
}

// hashDim is the fallback vector size. Small enough to stay cheap, large
// enough that unrelated texts rarely collide on every bucket.
const hashDim = 256

// HashEmbed maps text to a stable L2-normalized vector by hashing tokens
// into fixed buckets. Identical text always yields an identical vector.
func HashEmbed(text string) []float64 {
	vec := make([]float64, hashDim)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%hashDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}
