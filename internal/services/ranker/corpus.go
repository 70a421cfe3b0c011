package ranker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Corpus labels. The regulatory corpus carries NEC code text; the company
// corpus carries Wattmonk policy and service knowledge.
const (
	CorpusNEC      = "nec"
	CorpusWattmonk = "wattmonk"
)

// Chunk is one immutable context fragment produced by the offline
// ingestion pipeline.
type Chunk struct {
	ID        string    `json:"id"`
	Corpus    string    `json:"corpus"`
	Source    string    `json:"source"`
	File      string    `json:"file"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding"`
}

// loadCorpus reads one JSONL corpus file, one chunk per line. A missing
// file is not an error: the corpus is simply empty and retrieval
// short-circuits.
func loadCorpus(dir, label string) ([]Chunk, error) {
	path := filepath.Join(dir, label+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open corpus %s: %w", label, err)
	}
	defer f.Close()

	var chunks []Chunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(line, &c); err != nil {
			return nil, fmt.Errorf("failed to parse corpus %s: %w", label, err)
		}
		if c.Corpus == "" {
			c.Corpus = label
		}
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus %s: %w", label, err)
	}

	return chunks, nil
}
