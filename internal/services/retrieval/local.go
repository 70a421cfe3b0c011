package retrieval

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/models"
	"github.com/wattmonk-ai/rag-gateway/internal/services/ranker"
)

// LocalClient runs the retrieval ranker in-process. This is the default
// strategy and the only one with no collaborator to lose.
type LocalClient struct {
	ranker *ranker.Ranker
	logger *logrus.Logger
}

func NewLocalClient(rk *ranker.Ranker, logger *logrus.Logger) *LocalClient {
	return &LocalClient{ranker: rk, logger: logger}
}

func (c *LocalClient) Retrieve(ctx context.Context, messages []models.Message, apiKey string) (*Result, error) {
	query := lastUserMessage(messages)
	intent := ranker.ClassifyIntent(query)

	scored, err := c.ranker.Retrieve(ctx, apiKey, query, intent)
	if err != nil {
		return nil, err
	}

	docs := make([]Doc, 0, len(scored))
	for i, s := range scored {
		docs = append(docs, Doc{
			ID:     i + 1,
			Text:   s.Chunk.Text,
			Source: s.Chunk.Source,
			File:   s.Chunk.File,
			Score:  s.Score,
		})
	}

	return &Result{Docs: docs, Intent: string(intent)}, nil
}
