package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/models"
)

// ExecClient shells out to a retrieval process: request JSON on stdin,
// result JSON on stdout. Used where the collaborator is co-located but not
// reachable over HTTP.
type ExecClient struct {
	command []string
	timeout time.Duration
	logger  *logrus.Logger
}

func NewExecClient(command []string, timeout time.Duration, logger *logrus.Logger) *ExecClient {
	return &ExecClient{command: command, timeout: timeout, logger: logger}
}

func (c *ExecClient) Retrieve(ctx context.Context, messages []models.Message, apiKey string) (*Result, error) {
	if len(c.command) == 0 {
		return nil, fmt.Errorf("no retrieval command configured")
	}

	payload, err := json.Marshal(request{Messages: messages, APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal retrieval request: %w", err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.command[0], c.command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		c.logger.WithError(err).WithField("stderr", stderr.String()).Warn("Retrieval process failed")
		return nil, fmt.Errorf("retrieval process failed: %w", err)
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse retrieval output: %w", err)
	}
	return &result, nil
}
