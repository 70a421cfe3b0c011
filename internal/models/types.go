package models

// Message represents a single conversation turn supplied by the caller.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the inbound request shape shared by the buffered and
// streaming endpoints. The API key may alternatively arrive in the
// X-API-Key header.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	APIKey   string    `json:"apiKey,omitempty"`
	Model    string    `json:"model,omitempty"`
}

// Source is one retrieved context chunk cited in a response.
type Source struct {
	ID     int     `json:"id"`
	Source string  `json:"source"`
	File   string  `json:"file"`
	Score  float64 `json:"score"`
}

// ChatResponse is the buffered response shape.
type ChatResponse struct {
	Text          string   `json:"text"`
	Sources       []Source `json:"sources"`
	Confidence    float64  `json:"confidence"`
	Intent        string   `json:"intent"`
	Mode          string   `json:"mode"`
	ModelUsed     string   `json:"modelUsed"`
	MemorySummary string   `json:"memory_summary"`
}

// StreamEventType names the event kinds emitted on the streaming path.
type StreamEventType string

const (
	StreamMeta  StreamEventType = "meta"
	StreamData  StreamEventType = "data"
	StreamError StreamEventType = "error"
	StreamEnd   StreamEventType = "end"
)

// StreamMetadata carries the response metadata, emitted exactly once per
// stream after a working candidate model has been confirmed.
type StreamMetadata struct {
	Sources       []Source `json:"sources"`
	Confidence    float64  `json:"confidence"`
	Intent        string   `json:"intent"`
	Mode          string   `json:"mode"`
	ModelUsed     string   `json:"modelUsed"`
	MemorySummary string   `json:"memory_summary"`
}

// StreamFailure is the payload of an error event.
type StreamFailure struct {
	Status int    `json:"status,omitempty"`
	Error  string `json:"error"`
}

// StreamEvent is one element of the event sequence produced by the
// streaming relay. Exactly one of Meta, Data, Err is set depending on Type;
// end events carry no payload.
type StreamEvent struct {
	Type StreamEventType
	Meta *StreamMetadata
	Data []byte
	Err  *StreamFailure
}

// ValidationResult is the outcome of a credential probe.
type ValidationResult struct {
	Valid       bool   `json:"valid"`
	Model       string `json:"model,omitempty"`
	RateLimited bool   `json:"rateLimited,omitempty"`
}
