package models

import "fmt"

// Chat roles used in conversations and generation requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is an ordered list of chat turns.
type Conversation []Message

type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func (q QAPair) Valid() bool {
	return q.Question != "" && q.Answer != ""
}

type CotExample struct {
	Question  string `json:"question"`
	Reasoning string `json:"reasoning"`
	Answer    string `json:"answer"`
}

func (c CotExample) Valid() bool {
	return c.Question != "" && c.Reasoning != "" && c.Answer != ""
}

// Conversation renders the example as a system/user/assistant exchange.
func (c CotExample) Conversation() Conversation {
	return Conversation{
		{Role: RoleSystem, Content: "You are a helpful assistant that provides detailed explanations."},
		{Role: RoleUser, Content: c.Question},
		{Role: RoleAssistant, Content: fmt.Sprintf("Let me think through this step by step:\n\n%s\n\nSo the answer is: %s", c.Reasoning, c.Answer)},
	}
}

// RatedItem is a QA pair with the score assigned by the rating pass.
// It encodes flat: {"question", "answer", "rating"}.
type RatedItem struct {
	QAPair
	Rating float64 `json:"rating"`
}

// Metrics summarises a quality-filter run.
type Metrics struct {
	Total         int     `json:"total"`
	Filtered      int     `json:"filtered"`
	RetentionRate float64 `json:"retention_rate"`
	AvgScore      float64 `json:"avg_score"`
}

type QAResult struct {
	Summary string   `json:"summary"`
	QAPairs []QAPair `json:"qa_pairs"`
}

type CotResult struct {
	Summary       string         `json:"summary"`
	Examples      []CotExample   `json:"cot_examples"`
	Conversations []Conversation `json:"conversations"`
}

type CurateResult struct {
	Summary       string      `json:"summary,omitempty"`
	FilteredPairs []RatedItem `json:"filtered_pairs"`
	Metrics       Metrics     `json:"metrics"`
}
