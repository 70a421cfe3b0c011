package ranker

import (
	"math"
	"testing"
)

func TestHashEmbedDeterministic(t *testing.T) {
	a := HashEmbed("grounded conductor sized per article 250")
	b := HashEmbed("grounded conductor sized per article 250")

	if len(a) != hashDim || len(b) != hashDim {
		t.Fatalf("unexpected vector size %d, want %d", len(a), hashDim)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestHashEmbedNormalized(t *testing.T) {
	vec := HashEmbed("solar permit design package turnaround")

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-9 {
		t.Errorf("vector norm = %v, want 1.0", math.Sqrt(norm))
	}
}

func TestHashEmbedEmptyText(t *testing.T) {
	vec := HashEmbed("")
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("empty text produced non-zero component at %d: %v", i, v)
		}
	}
}

func TestHashEmbedCaseAndPunctuationInsensitive(t *testing.T) {
	a := HashEmbed("NEC Article 250, Grounding!")
	b := HashEmbed("nec article 250 grounding")
	if sim := CosineSimilarity(a, b); math.Abs(sim-1.0) > 1e-9 {
		t.Errorf("case/punctuation variants similarity = %v, want 1.0", sim)
	}
}
