package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/config"
	"github.com/wattmonk-ai/rag-gateway/internal/i18n"
	"github.com/wattmonk-ai/rag-gateway/internal/middleware"
	"github.com/wattmonk-ai/rag-gateway/internal/models"
	"github.com/wattmonk-ai/rag-gateway/internal/services/cache"
	"github.com/wattmonk-ai/rag-gateway/internal/services/ranker"
	"github.com/wattmonk-ai/rag-gateway/internal/services/registry"
	"github.com/wattmonk-ai/rag-gateway/internal/services/retrieval"
	"github.com/wattmonk-ai/rag-gateway/internal/services/upstream"
	"github.com/wattmonk-ai/rag-gateway/pkg/logger"
)

// Response modes.
const (
	ModeRAG     = "rag"
	ModeGeneral = "general"
)

// Retry policy for throttling-class upstream failures. Applies per
// candidate; permission-class failures advance immediately and unknown
// failures stop the whole loop.
const (
	maxThrottleAttempts = 5
	backoffBase         = 500 * time.Millisecond
	backoffCap          = 8 * time.Second
	jitterMax           = 300 * time.Millisecond
)

// Confidence is derived from retrieval strength, not from the model.
const (
	confidenceFloor   = 0.3
	confidenceCeiling = 0.98
)

// Request is one inbound generation request after transport decoding.
type Request struct {
	Messages   []models.Message
	APIKey     string
	Model      string
	CallerAddr string
	Lang       string
}

// Orchestrator drives the full request pipeline: limiter, cache,
// retrieval, prompt assembly, candidate loop, write-back. All shared state
// lives in the owned services, constructed once at service start.
type Orchestrator struct {
	cfg       *config.Config
	upstream  *upstream.Client
	registry  *registry.Registry
	retriever retrieval.Client
	cache     cache.Service
	limiter   middleware.RateLimiter
	metrics   *middleware.Metrics
	localizer *i18n.Localizer
	logger    *logrus.Logger

	// sleep is injectable so tests skip real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator over its collaborating services.
func New(
	cfg *config.Config,
	client *upstream.Client,
	reg *registry.Registry,
	retriever retrieval.Client,
	responseCache cache.Service,
	limiter middleware.RateLimiter,
	metrics *middleware.Metrics,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		upstream:  client,
		registry:  reg,
		retriever: retriever,
		cache:     responseCache,
		limiter:   limiter,
		metrics:   metrics,
		localizer: localizer,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// Generate runs the buffered pipeline. Pre-flight failures (malformed
// request, bad credential, local rate limit) are returned as errors for
// the handler to map; once generation starts, failures are folded into a
// well-formed response body instead.
func (o *Orchestrator) Generate(ctx context.Context, req *Request) (*models.ChatResponse, error) {
	apiKey, query, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	prefix := registry.KeyPrefix(apiKey)
	reqLog := logger.WithRequest(o.logger, req.CallerAddr, prefix)

	if !o.limiter.Allow(middleware.CallerKey(req.CallerAddr, prefix)) {
		o.metrics.RecordRateLimitRejection()
		return nil, models.ErrRateLimited
	}

	if resp, ok := o.cache.Get(prefix, query); ok {
		o.metrics.RecordCacheHit()
		return resp, nil
	}
	o.metrics.RecordCacheMiss()

	ret := o.retrieve(ctx, req.Messages, apiKey)
	mode, maxScore := decideMode(ret)
	prompt := buildPrompt(query, ret.Docs, mode, ret.Intent)
	contents := buildContents(req.Messages, prompt)

	candidates := orderCandidates(o.registry.ResolveCandidates(ctx, apiKey), sanitizeModel(req.Model))
	text, used, genErr := o.callCandidates(ctx, apiKey, candidates, contents)

	resp := &models.ChatResponse{
		Sources:       sourcesFromDocs(ret.Docs),
		Confidence:    confidence(maxScore),
		Intent:        ret.Intent,
		Mode:          mode,
		ModelUsed:     used,
		MemorySummary: ret.MemorySummary,
	}

	if genErr != nil {
		resp.Text = o.failureText(req.Lang, genErr)
		return resp, nil
	}

	resp.Text = text
	if resp.MemorySummary == "" {
		resp.MemorySummary = o.memorySummary(ctx, apiKey, used, req.Messages)
	}
	o.registry.Promote(apiKey, used)
	o.cache.Set(prefix, query, resp)

	reqLog.WithFields(logrus.Fields{
		"model":  used,
		"mode":   mode,
		"intent": ret.Intent,
	}).Info("Generation completed")
	return resp, nil
}

// ValidateKey probes the credential against its candidate models.
func (o *Orchestrator) ValidateKey(ctx context.Context, apiKey string) (*models.ValidationResult, error) {
	return o.registry.Validate(ctx, apiKey)
}

// prepare rejects malformed requests and bad credentials synchronously,
// before any network call, and resolves the effective credential.
func (o *Orchestrator) prepare(req *Request) (string, string, error) {
	if len(req.Messages) == 0 {
		return "", "", models.ErrMalformedRequest
	}
	query := lastUserMessage(req.Messages)
	if strings.TrimSpace(query) == "" {
		return "", "", models.ErrMalformedRequest
	}

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = o.cfg.Upstream.APIKey
	}
	if !registry.ValidFormat(apiKey) {
		return "", "", models.ErrInvalidKeyFormat
	}
	return apiKey, query, nil
}

// retrieve calls the retrieval collaborator. Failure never surfaces: the
// request degrades to ungrounded general mode.
func (o *Orchestrator) retrieve(ctx context.Context, messages []models.Message, apiKey string) *retrieval.Result {
	res, err := o.retriever.Retrieve(ctx, messages, apiKey)
	if err != nil || res == nil {
		if err == nil {
			err = models.ErrRetrievalUnavailable
		}
		o.metrics.RecordRetrieval("unavailable")
		o.logger.WithError(err).Warn("Retrieval unavailable, degrading to general mode")
		return &retrieval.Result{Intent: string(ranker.IntentGeneral)}
	}
	o.metrics.RecordRetrieval("success")
	if res.Intent == "" {
		res.Intent = string(ranker.IntentGeneral)
	}
	return res
}

// callCandidates walks the ordered candidate list and returns the first
// successful generation. The returned model is the last one attempted,
// populated even on failure.
func (o *Orchestrator) callCandidates(ctx context.Context, apiKey string, candidates []string, contents []upstream.Content) (string, string, error) {
	genReq := &upstream.GenerateRequest{
		Contents:         contents,
		GenerationConfig: &upstream.GenerationConfig{Temperature: 0.7},
	}

	var lastAttempted string

candidateLoop:
	for _, model := range candidates {
		lastAttempted = model

		for attempt := 1; attempt <= maxThrottleAttempts; attempt++ {
			start := time.Now()
			text, err := o.upstream.Generate(ctx, apiKey, model, genReq)
			if err == nil {
				o.metrics.RecordUpstreamRequest(model, "success", time.Since(start))
				return text, model, nil
			}

			var statusErr *upstream.StatusError
			if !errors.As(err, &statusErr) {
				// Network-level failure: soft, advance without retrying.
				o.metrics.RecordCandidateFallback("transport")
				o.logger.WithError(err).WithField("model", model).Warn("Upstream unreachable, advancing candidate")
				continue candidateLoop
			}

			o.metrics.RecordUpstreamRequest(model, fmt.Sprintf("%d", statusErr.StatusCode), time.Since(start))

			switch {
			case statusErr.Permission():
				o.metrics.RecordCandidateFallback("permission")
				o.logger.WithFields(logrus.Fields{
					"model":  model,
					"status": statusErr.StatusCode,
				}).Info("Model not permitted, advancing candidate")
				continue candidateLoop

			case statusErr.Throttled():
				if attempt == maxThrottleAttempts {
					o.metrics.RecordCandidateFallback("throttled")
					o.logger.WithField("model", model).Warn("Throttle retries exhausted, advancing candidate")
					continue candidateLoop
				}
				if err := o.backoff(ctx, attempt); err != nil {
					return "", lastAttempted, err
				}

			default:
				// Fail fast on unknown errors rather than masking them by
				// walking the rest of the list.
				return "", lastAttempted, statusErr
			}
		}
	}

	return "", lastAttempted, models.ErrAllCandidatesExhausted
}

// backoff sleeps for an exponentially growing, capped, jittered delay.
func (o *Orchestrator) backoff(ctx context.Context, attempt int) error {
	delay := backoffBase << uint(attempt-1)
	if delay > backoffCap {
		delay = backoffCap
	}
	delay += time.Duration(rand.Int63n(int64(jitterMax)))
	return o.sleep(ctx, delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// memorySummary condenses the trailing conversation into a short summary.
// Throttled to every Nth message; any failure yields an empty summary.
func (o *Orchestrator) memorySummary(ctx context.Context, apiKey, model string, messages []models.Message) string {
	mem := o.cfg.Memory
	if !mem.Enabled || model == "" || mem.Interval <= 0 {
		return ""
	}
	if len(messages) == 0 || len(messages)%mem.Interval != 0 {
		return ""
	}

	window := messages
	if mem.Window > 0 && len(window) > mem.Window {
		window = window[len(window)-mem.Window:]
	}

	var sb strings.Builder
	sb.WriteString("Summarize the following conversation briefly but keep key facts, user goals, constraints, and any conclusions.\n\n")
	for _, m := range window {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	out, err := o.upstream.Generate(ctx, apiKey, model, &upstream.GenerateRequest{
		Contents:         []upstream.Content{{Role: "user", Parts: []upstream.Part{{Text: sb.String()}}}},
		GenerationConfig: &upstream.GenerationConfig{Temperature: 0.3},
	})
	if err != nil {
		o.logger.WithError(err).Debug("Memory summary failed")
		return ""
	}
	return out
}

// failureText maps a terminal generation failure to a localized,
// actionable message standing in for the response text.
func (o *Orchestrator) failureText(lang string, err error) string {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		return o.localizer.Get(lang, statusErr.HintID, map[string]interface{}{
			"Status": statusErr.StatusCode,
		})
	}
	return o.localizer.Get(lang, i18n.MsgAllModelsExhausted, nil)
}

// ---- pure assembly helpers ----

const (
	professionalismDirective = "You are a professional assistant for solar design and electrical code questions. Keep answers clear, courteous, and concise."
	groundingPolicy          = "When the question is domain-specific, answer strictly from the provided context. If the context does not cover the question, say you are not sure instead of guessing."
	contextDelimiter         = "\n---\n"
)

// buildPrompt concatenates the prompt pieces in fixed order, omitting any
// piece whose precondition does not hold so no empty section leaks in.
func buildPrompt(query string, docs []retrieval.Doc, mode, intent string) string {
	var sb strings.Builder
	sb.WriteString(professionalismDirective)
	sb.WriteString("\n\n")
	sb.WriteString(groundingPolicy)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)

	if mode == ModeRAG && len(docs) > 0 {
		sb.WriteString("\n\nContext:\n")
		parts := make([]string, 0, len(docs))
		for _, d := range docs {
			parts = append(parts, fmt.Sprintf("[%d][%s][%s] %s", d.ID, d.Source, d.File, d.Text))
		}
		sb.WriteString(strings.Join(parts, contextDelimiter))
	}

	if guidance := guidanceForIntent(intent); guidance != "" {
		sb.WriteString("\n\n")
		sb.WriteString(guidance)
	}

	return sb.String()
}

func guidanceForIntent(intent string) string {
	switch intent {
	case string(ranker.IntentNEC):
		return "Cite the relevant NEC article numbers when they appear in the context."
	case string(ranker.IntentWattmonk):
		return "Answer according to Wattmonk's documented policies and service terms."
	default:
		return ""
	}
}

// buildContents maps the conversation into the provider's wire format.
// The caller's assistant role becomes the provider's model role; ordering
// is preserved. The final user turn is replaced by the assembled prompt.
func buildContents(messages []models.Message, prompt string) []upstream.Content {
	last := lastUserIndex(messages)

	contents := make([]upstream.Content, 0, len(messages))
	for i, m := range messages {
		if i == last {
			continue
		}
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, upstream.Content{Role: role, Parts: []upstream.Part{{Text: m.Content}}})
	}
	contents = append(contents, upstream.Content{Role: "user", Parts: []upstream.Part{{Text: prompt}}})
	return contents
}

func lastUserIndex(messages []models.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return i
		}
	}
	return -1
}

func lastUserMessage(messages []models.Message) string {
	if i := lastUserIndex(messages); i >= 0 {
		return messages[i].Content
	}
	return ""
}

var modelRevisionSuffix = regexp.MustCompile(`-00\d$`)

// sanitizeModel strips a trailing revision suffix from a caller-requested
// model so membership against discovered candidates works.
func sanitizeModel(model string) string {
	return modelRevisionSuffix.ReplaceAllString(strings.ToLower(model), "")
}

// orderCandidates tries the requested model first when it is a member of
// the candidate list; otherwise registry order is used unmodified.
func orderCandidates(candidates []string, requested string) []string {
	if requested == "" {
		return candidates
	}
	member := false
	for _, c := range candidates {
		if c == requested {
			member = true
			break
		}
	}
	if !member {
		return candidates
	}

	ordered := make([]string, 0, len(candidates))
	ordered = append(ordered, requested)
	for _, c := range candidates {
		if c != requested {
			ordered = append(ordered, c)
		}
	}
	return ordered
}

// decideMode derives the grounding decision from the stricter cutoff. The
// collaborator's own mode, when present, wins.
func decideMode(ret *retrieval.Result) (string, float64) {
	var maxScore float64
	for _, d := range ret.Docs {
		if d.Score > maxScore {
			maxScore = d.Score
		}
	}

	if ret.Mode != "" {
		return ret.Mode, maxScore
	}
	if maxScore > ranker.GroundingCutoff {
		return ModeRAG, maxScore
	}
	return ModeGeneral, maxScore
}

// confidence is a monotonic function of retrieval strength. No retrieved
// chunks means the floor, not the formula's midpoint.
func confidence(maxScore float64) float64 {
	if maxScore <= 0 {
		return confidenceFloor
	}
	c := 0.5 + 0.5*maxScore
	if c < confidenceFloor {
		return confidenceFloor
	}
	if c > confidenceCeiling {
		return confidenceCeiling
	}
	return c
}

func sourcesFromDocs(docs []retrieval.Doc) []models.Source {
	sources := make([]models.Source, 0, len(docs))
	for _, d := range docs {
		sources = append(sources, models.Source{
			ID:     d.ID,
			Source: d.Source,
			File:   d.File,
			Score:  d.Score,
		})
	}
	return sources
}
