package ranker

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// topK caps how many chunks survive ranking.
	topK = 6

	// RetrievalCutoff filters ranked chunks after truncation. Distinct from
	// GroundingCutoff on purpose: one serves recall, the other grounding
	// confidence. Both values are inherited tuning, not validated.
	RetrievalCutoff = 0.25

	// GroundingCutoff is the stricter score any chunk must exceed before
	// the orchestrator answers in grounded mode.
	GroundingCutoff = 0.35
)

// Scored pairs a chunk with its similarity against the query.
type Scored struct {
	Chunk *Chunk
	Score float64
}

// Ranker owns the in-memory corpus and ranks chunks by cosine similarity.
// Corpora are loaded lazily once per process and read-only afterwards, so
// concurrent retrieval needs no locking beyond the load itself.
type Ranker struct {
	dir      string
	embedder Embedder
	logger   *logrus.Logger

	loadOnce sync.Once
	nec      []Chunk
	wattmonk []Chunk
}

// New creates a ranker that loads corpora from dir on first use.
func New(dir string, embedder Embedder, logger *logrus.Logger) *Ranker {
	return &Ranker{dir: dir, embedder: embedder, logger: logger}
}

// NewFromChunks creates a ranker over pre-loaded corpora. Used by tests
// and by tooling that builds chunks in memory.
func NewFromChunks(nec, wattmonk []Chunk, embedder Embedder, logger *logrus.Logger) *Ranker {
	r := &Ranker{embedder: embedder, logger: logger, nec: nec, wattmonk: wattmonk}
	r.loadOnce.Do(func() {})
	return r
}

func (r *Ranker) load() {
	r.loadOnce.Do(func() {
		var err error
		if r.nec, err = loadCorpus(r.dir, CorpusNEC); err != nil {
			r.logger.WithError(err).Warn("Failed to load regulatory corpus")
		}
		if r.wattmonk, err = loadCorpus(r.dir, CorpusWattmonk); err != nil {
			r.logger.WithError(err).Warn("Failed to load company corpus")
		}
		r.logger.WithFields(logrus.Fields{
			"nec":      len(r.nec),
			"wattmonk": len(r.wattmonk),
		}).Info("Corpus loaded")
	})
}

// Retrieve ranks the intent-selected pool against the query and returns at
// most topK chunks scoring above RetrievalCutoff, best first. The
// threshold is applied after truncation, so fewer than topK results (or
// none) is a legitimate outcome even for a non-empty pool.
func (r *Ranker) Retrieve(ctx context.Context, apiKey, query string, intent Intent) ([]Scored, error) {
	r.load()

	var pool []Chunk
	switch intent {
	case IntentNEC:
		pool = r.nec
	case IntentWattmonk:
		pool = r.wattmonk
	default:
		pool = append(append([]Chunk(nil), r.nec...), r.wattmonk...)
	}
	if len(pool) == 0 {
		return nil, nil
	}

	queryVec, err := r.embedder.Embed(ctx, apiKey, query)
	if err != nil {
		return nil, err
	}

	scored := make([]Scored, 0, len(pool))
	for i := range pool {
		scored = append(scored, Scored{
			Chunk: &pool[i],
			Score: CosineSimilarity(queryVec, pool[i].Embedding),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	kept := scored[:0]
	for _, s := range scored {
		if s.Score > RetrievalCutoff {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

// CosineSimilarity computes cosine similarity on raw vectors. Mismatched
// lengths or a zero-norm operand yield 0; the denominator is never exactly
// zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
