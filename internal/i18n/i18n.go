package i18n

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/wattmonk-ai/rag-gateway/internal/config"
	"golang.org/x/text/language"
)

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	// Load language files
	for _, lang := range cfg.Languages {
		if _, err := bundle.LoadMessageFile(filepath.Join(cfg.Dir, lang+".json")); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Default returns a localizer that serves the built-in English strings
// without any message files. Used as a fallback and in tests.
func Default() *Localizer {
	return &Localizer{defaultLanguage: "en"}
}

// Get returns a localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	if localizer != nil {
		msg, err := localizer.Localize(&i18n.LocalizeConfig{
			MessageID:    messageID,
			TemplateData: data,
		})
		if err == nil {
			return msg
		}
	}

	if msg, ok := builtin[messageID]; ok {
		return msg
	}
	return messageID
}

// Message IDs
const (
	MsgRateLimitExceeded   = "rate_limit_exceeded"
	MsgMalformedRequest    = "malformed_request"
	MsgInvalidKeyFormat    = "invalid_key_format"
	MsgAllModelsExhausted  = "all_models_exhausted"
	MsgHintPermission      = "hint_permission_denied"
	MsgHintRateLimited     = "hint_rate_limited"
	MsgHintInvalidKey      = "hint_invalid_key"
	MsgHintUpstreamGeneric = "hint_upstream_generic"
)

// builtin holds last-resort English strings so user-facing text never
// degrades to a bare message ID when the bundle is absent.
var builtin = map[string]string{
	MsgRateLimitExceeded:   "You're sending requests too quickly. Please wait a moment and try again.",
	MsgMalformedRequest:    "The request must include at least one message.",
	MsgInvalidKeyFormat:    "The API key looks malformed. Check that you pasted the full key.",
	MsgAllModelsExhausted:  "Sorry - I couldn't reach any of the available models right now. Please try again in a moment.",
	MsgHintPermission:      "Permission denied for this model. Check billing status and key restrictions.",
	MsgHintRateLimited:     "The upstream quota was exceeded. Wait a moment, or use a key with more quota.",
	MsgHintInvalidKey:      "The API key was rejected upstream. Verify the key is active.",
	MsgHintUpstreamGeneric: "The model service returned an unexpected error.",
}
