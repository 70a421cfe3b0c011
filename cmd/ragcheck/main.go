// Command ragcheck runs one retrieval round-trip from the terminal: request
// JSON on stdin (or a query as arguments), result JSON on stdout. Useful for
// corpus debugging and as the exec-mode collaborator contract in reverse.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/models"
	"github.com/wattmonk-ai/rag-gateway/internal/services/ranker"
	"github.com/wattmonk-ai/rag-gateway/internal/services/retrieval"
)

func main() {
	corpusDir := flag.String("corpus", "data/corpus", "Directory holding the corpus jsonl files")
	timeout := flag.Duration("timeout", 30*time.Second, "Retrieval deadline")
	flag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)

	var req struct {
		Messages []models.Message `json:"messages"`
		APIKey   string           `json:"apiKey"`
	}

	if args := flag.Args(); len(args) > 0 {
		req.Messages = []models.Message{{Role: "user", Content: strings.Join(args, " ")}}
	} else {
		if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read request from stdin: %v\n", err)
			os.Exit(1)
		}
	}

	rk := ranker.New(*corpusDir, ranker.HashEmbedder{}, log)
	client := retrieval.NewLocalClient(rk, log)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := client.Retrieve(ctx, req.Messages, req.APIKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "retrieval failed: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}
}
