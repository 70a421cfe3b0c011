package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// StatusError is an upstream failure that carried an HTTP status. The body
// is best-effort parsed for the provider's machine status/message pair;
// unparsable bodies fall back to a generic hint keyed only by status code.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
	// HintID is the i18n message ID of the actionable hint shown to users.
	HintID string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream status %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream status %d", e.StatusCode)
}

// Throttled reports a quota/throttling class failure: retry the same
// candidate with backoff.
func (e *StatusError) Throttled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Permission reports a permission/not-found class failure: abandon the
// candidate and advance to the next one.
func (e *StatusError) Permission() bool {
	return e.StatusCode == http.StatusForbidden || e.StatusCode == http.StatusNotFound
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseStatusError(statusCode int, body []byte) *StatusError {
	se := &StatusError{
		StatusCode: statusCode,
		HintID:     hintForStatus(statusCode),
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		se.Status = parsed.Error.Status
		se.Message = parsed.Error.Message
	} else if s := strings.TrimSpace(string(body)); s != "" && len(s) < 512 {
		se.Message = s
	}

	return se
}

func hintForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "hint_invalid_key"
	case http.StatusForbidden, http.StatusNotFound:
		return "hint_permission_denied"
	case http.StatusTooManyRequests:
		return "hint_rate_limited"
	default:
		return "hint_upstream_generic"
	}
}
