package registry

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/models"
	"github.com/wattmonk-ai/rag-gateway/internal/services/upstream"
)

const (
	// cacheTTL is how long a discovery result stays authoritative.
	cacheTTL        = 30 * time.Minute
	cleanupInterval = 10 * time.Minute

	// prefixLen is how much of the credential is kept as a cache key.
	// Enough to disambiguate callers without holding the full secret.
	prefixLen = 8
)

// Entry is a cached discovery result for one credential prefix.
type Entry struct {
	BestModel    string
	Candidates   []string
	DiscoveredAt time.Time
}

// Registry discovers which generation models a credential may use and
// caches the decision. Concurrent discovery for the same key may race;
// the last successful write wins.
type Registry struct {
	client   *upstream.Client
	cache    *gocache.Cache
	defaults []string
	logger   *logrus.Logger
}

// New creates a registry. defaults is the static fallback candidate list
// used when discovery fails or yields nothing.
func New(client *upstream.Client, defaults []string, logger *logrus.Logger) *Registry {
	return &Registry{
		client:   client,
		cache:    gocache.New(cacheTTL, cleanupInterval),
		defaults: defaults,
		logger:   logger,
	}
}

// KeyPrefix returns the short, non-secret slice of a credential used as a
// cache and rate-limit key.
func KeyPrefix(apiKey string) string {
	if len(apiKey) <= prefixLen {
		return apiKey
	}
	return apiKey[:prefixLen]
}

var keyFormat = regexp.MustCompile(`^[A-Za-z0-9_\-]{20,}$`)

// ValidFormat reports whether the credential even looks like an API key.
// Checked synchronously before any network call.
func ValidFormat(apiKey string) bool {
	return keyFormat.MatchString(apiKey)
}

// ResolveCandidates returns the ordered candidate model list for the
// credential, consulting the cache first. Discovery failure degrades to
// the static default list and is never cached as a success.
func (r *Registry) ResolveCandidates(ctx context.Context, apiKey string) []string {
	prefix := KeyPrefix(apiKey)
	if val, found := r.cache.Get(prefix); found {
		entry := val.(*Entry)
		return append([]string(nil), entry.Candidates...)
	}

	names, err := r.client.ListModels(ctx, apiKey)
	if err != nil {
		r.logger.WithError(err).WithField("key_prefix", prefix).Warn("Model discovery failed, using defaults")
		return append([]string(nil), r.defaults...)
	}

	candidates := rankCandidates(normalizeModels(names))
	if len(candidates) == 0 {
		r.logger.WithField("key_prefix", prefix).Warn("Model discovery returned no usable models, using defaults")
		return append([]string(nil), r.defaults...)
	}

	r.cache.SetDefault(prefix, &Entry{
		BestModel:    candidates[0],
		Candidates:   candidates,
		DiscoveredAt: time.Now(),
	})

	r.logger.WithFields(logrus.Fields{
		"key_prefix": prefix,
		"candidates": len(candidates),
		"best":       candidates[0],
	}).Debug("Model discovery completed")

	return append([]string(nil), candidates...)
}

// Promote records that a model worked for this credential so it is
// preferred on the next request.
func (r *Registry) Promote(apiKey, model string) {
	prefix := KeyPrefix(apiKey)

	var entry *Entry
	if val, found := r.cache.Get(prefix); found {
		entry = val.(*Entry)
	} else {
		entry = &Entry{Candidates: append([]string(nil), r.defaults...), DiscoveredAt: time.Now()}
	}

	reordered := make([]string, 0, len(entry.Candidates)+1)
	reordered = append(reordered, model)
	for _, c := range entry.Candidates {
		if c != model {
			reordered = append(reordered, c)
		}
	}

	r.cache.SetDefault(prefix, &Entry{
		BestModel:    model,
		Candidates:   reordered,
		DiscoveredAt: entry.DiscoveredAt,
	})
}

// Validate probes candidates with a minimal generation call until one
// succeeds or all are exhausted. A throttled probe means the credential is
// valid but currently rate limited.
func (r *Registry) Validate(ctx context.Context, apiKey string) (*models.ValidationResult, error) {
	if !ValidFormat(apiKey) {
		return nil, models.ErrInvalidKeyFormat
	}

	probe := &upstream.GenerateRequest{
		Contents:         []upstream.Content{{Role: "user", Parts: []upstream.Part{{Text: "ping"}}}},
		GenerationConfig: &upstream.GenerationConfig{MaxOutputTokens: 1},
	}

	for _, model := range r.ResolveCandidates(ctx, apiKey) {
		_, err := r.client.Generate(ctx, apiKey, model, probe)
		if err == nil {
			r.Promote(apiKey, model)
			return &models.ValidationResult{Valid: true, Model: model}, nil
		}

		var statusErr *upstream.StatusError
		if errors.As(err, &statusErr) {
			if statusErr.Throttled() {
				// Quota errors prove the key itself is accepted.
				return &models.ValidationResult{Valid: true, Model: model, RateLimited: true}, nil
			}
			if statusErr.Permission() {
				continue
			}
			return nil, err
		}

		// Network-level failure: soft, try the next candidate.
		r.logger.WithError(err).WithField("model", model).Warn("Validation probe failed to reach upstream")
	}

	return nil, models.ErrCredentialUnusable
}

// normalizeModels strips the namespace prefix, case-normalizes, keeps only
// generation-family models, and dedupes.
func normalizeModels(names []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(names))
	for _, name := range names {
		id := strings.ToLower(strings.TrimPrefix(name, "models/"))
		if id == "" || seen[id] {
			continue
		}
		if !strings.HasPrefix(id, "gemini") {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// rankCandidates orders models by generation-family preference, newer
// families first, preserving discovery order within a rank.
func rankCandidates(ids []string) []string {
	ranked := append([]string(nil), ids...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return familyRank(ranked[i]) < familyRank(ranked[j])
	})
	return ranked
}

func familyRank(id string) int {
	prefixes := []string{
		"gemini-2.5",
		"gemini-2.0",
		"gemini-1.5-pro",
		"gemini-1.5-flash",
		"gemini-1.5",
		"gemini-1.0",
	}
	for rank, p := range prefixes {
		if strings.HasPrefix(id, p) {
			return rank
		}
	}
	return len(prefixes)
}
