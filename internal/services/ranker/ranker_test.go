package ranker

import (
	"context"
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func chunk(id, corpus, text string) Chunk {
	return Chunk{
		ID:        id,
		Corpus:    corpus,
		Source:    corpus,
		File:      corpus + ".pdf",
		Text:      text,
		Embedding: HashEmbed(text),
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{2, 4, 6}

	if got := CosineSimilarity(a, a); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("self similarity = %v, want 1.0", got)
	}
	if got := CosineSimilarity(a, b); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("parallel vectors = %v, want 1.0", got)
	}
	if got, rev := CosineSimilarity(a, b), CosineSimilarity(b, a); got != rev {
		t.Errorf("similarity not symmetric: %v vs %v", got, rev)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors = %v, want 0", got)
	}
	if got := CosineSimilarity([]float64{0, 0}, []float64{1, 2}); got != 0 {
		t.Errorf("zero-norm operand = %v, want 0", got)
	}
	if got := CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}); got != 0 {
		t.Errorf("mismatched lengths = %v, want 0", got)
	}
}

func TestRetrieveCapsAndFilters(t *testing.T) {
	// Eight near-identical chunks all scoring high against the query.
	var nec []Chunk
	for i := 0; i < 8; i++ {
		nec = append(nec, chunk(fmt.Sprintf("n%d", i), CorpusNEC,
			fmt.Sprintf("gfci protection required in kitchen receptacles case %d", i)))
	}
	r := NewFromChunks(nec, nil, HashEmbedder{}, testLogger())

	scored, err := r.Retrieve(context.Background(), "", "gfci protection required in kitchen receptacles", IntentNEC)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(scored) > 6 {
		t.Fatalf("got %d results, want at most 6", len(scored))
	}
	if len(scored) == 0 {
		t.Fatal("expected matching chunks for near-identical query")
	}
	for i, s := range scored {
		if s.Score <= RetrievalCutoff {
			t.Errorf("result %d score %v at or below cutoff %v", i, s.Score, RetrievalCutoff)
		}
		if i > 0 && s.Score > scored[i-1].Score {
			t.Errorf("results not sorted descending at %d", i)
		}
	}
}

func TestRetrieveDropsUnrelatedChunks(t *testing.T) {
	nec := []Chunk{
		chunk("n1", CorpusNEC, "grounding electrode conductor sizing per table"),
		chunk("n2", CorpusNEC, "zzz qqq xxx completely unrelated filler words"),
	}
	r := NewFromChunks(nec, nil, HashEmbedder{}, testLogger())

	scored, err := r.Retrieve(context.Background(), "", "grounding electrode conductor sizing per table", IntentNEC)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, s := range scored {
		if s.Chunk.ID == "n2" {
			t.Errorf("unrelated chunk survived the cutoff with score %v", s.Score)
		}
	}
}

func TestRetrievePoolByIntent(t *testing.T) {
	nec := []Chunk{chunk("n1", CorpusNEC, "gfci outlets in bathrooms and kitchens")}
	wm := []Chunk{chunk("w1", CorpusWattmonk, "gfci outlets in bathrooms and kitchens")}
	r := NewFromChunks(nec, wm, HashEmbedder{}, testLogger())

	scored, err := r.Retrieve(context.Background(), "", "gfci outlets in bathrooms and kitchens", IntentWattmonk)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, s := range scored {
		if s.Chunk.Corpus != CorpusWattmonk {
			t.Errorf("chunk %s from corpus %s leaked into wattmonk pool", s.Chunk.ID, s.Chunk.Corpus)
		}
	}

	// General intent pools both corpora.
	scored, err = r.Retrieve(context.Background(), "", "gfci outlets in bathrooms and kitchens", IntentGeneral)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(scored) != 2 {
		t.Errorf("general intent returned %d chunks, want 2", len(scored))
	}
}

func TestRetrieveEmptyPool(t *testing.T) {
	r := NewFromChunks(nil, nil, HashEmbedder{}, testLogger())
	scored, err := r.Retrieve(context.Background(), "", "anything at all", IntentNEC)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(scored) != 0 {
		t.Fatalf("empty pool returned %d results", len(scored))
	}
}
