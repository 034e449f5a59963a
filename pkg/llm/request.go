package llm

import "github.com/xhad/synthdata/internal/models"

// Request is one chat completion call. Sampling fields left nil fall back
// to the client defaults.
type Request struct {
	Messages    []models.Message
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

type RequestOption func(*Request)

func WithTemperature(t float64) RequestOption {
	return func(r *Request) { r.Temperature = &t }
}

func WithMaxTokens(n int) RequestOption {
	return func(r *Request) { r.MaxTokens = &n }
}

func WithTopP(p float64) RequestOption {
	return func(r *Request) { r.TopP = &p }
}

func NewRequest(messages []models.Message, opts ...RequestOption) Request {
	r := Request{Messages: messages}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// UserRequest builds a request holding a single user message.
func UserRequest(prompt string, opts ...RequestOption) Request {
	return NewRequest([]models.Message{{Role: models.RoleUser, Content: prompt}}, opts...)
}

// Params are the sampling settings a backend sends, after defaults have
// been applied.
type Params struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// Result is the outcome of one request in a batch.
type Result struct {
	Text string
	Err  error
}

func (r Result) OK() bool { return r.Err == nil }
