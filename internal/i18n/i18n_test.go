package i18n

import (
	"strings"
	"testing"
)

func TestDefaultServesBuiltinStrings(t *testing.T) {
	l := Default()

	msg := l.Get("en", MsgRateLimitExceeded, nil)
	if msg == MsgRateLimitExceeded || msg == "" {
		t.Errorf("Get returned %q, want a human-readable string", msg)
	}

	// Unknown language falls back to the default.
	if got := l.Get("xx", MsgAllModelsExhausted, nil); got != l.Get("en", MsgAllModelsExhausted, nil) {
		t.Errorf("unknown language returned %q", got)
	}
}

func TestUnknownMessageIDFallsBackToID(t *testing.T) {
	l := Default()
	if got := l.Get("en", "no_such_message", nil); got != "no_such_message" {
		t.Errorf("Get = %q, want the ID itself", got)
	}
}

func TestBuiltinCoversAllMessageIDs(t *testing.T) {
	ids := []string{
		MsgRateLimitExceeded,
		MsgMalformedRequest,
		MsgInvalidKeyFormat,
		MsgAllModelsExhausted,
		MsgHintPermission,
		MsgHintRateLimited,
		MsgHintInvalidKey,
		MsgHintUpstreamGeneric,
	}
	for _, id := range ids {
		msg, ok := builtin[id]
		if !ok {
			t.Errorf("message ID %q has no built-in string", id)
			continue
		}
		if strings.TrimSpace(msg) == "" {
			t.Errorf("message ID %q maps to a blank string", id)
		}
	}
}
