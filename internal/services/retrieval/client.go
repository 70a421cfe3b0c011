package retrieval

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/config"
	"github.com/wattmonk-ai/rag-gateway/internal/models"
	"github.com/wattmonk-ai/rag-gateway/internal/services/ranker"
)

// Doc is one retrieved context chunk in the collaborator wire shape.
type Doc struct {
	ID     int     `json:"id"`
	Text   string  `json:"text"`
	Source string  `json:"source"`
	File   string  `json:"file"`
	Score  float64 `json:"score"`
}

// Result is the retrieval outcome for one query.
type Result struct {
	Docs          []Doc  `json:"docs"`
	Intent        string `json:"intent"`
	Mode          string `json:"mode,omitempty"`
	MemorySummary string `json:"memory_summary,omitempty"`
}

// request is the collaborator wire request, shared by the http and exec
// transports.
type request struct {
	Messages []models.Message `json:"messages"`
	APIKey   string           `json:"apiKey,omitempty"`
}

// Client retrieves ranked context for a conversation. A failing client
// never fails the request: the orchestrator degrades to general mode.
type Client interface {
	Retrieve(ctx context.Context, messages []models.Message, apiKey string) (*Result, error)
}

// New selects the retrieval strategy from configuration. The choice is
// made once at construction, not per request.
func New(cfg *config.RetrievalConfig, rk *ranker.Ranker, logger *logrus.Logger) (Client, error) {
	switch cfg.Mode {
	case "local":
		return NewLocalClient(rk, logger), nil
	case "http":
		return NewHTTPClient(cfg.Endpoint, cfg.Timeout, logger), nil
	case "exec":
		return NewExecClient(cfg.Command, cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown retrieval mode: %s", cfg.Mode)
	}
}

// lastUserMessage extracts the query: the most recent user turn.
func lastUserMessage(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
