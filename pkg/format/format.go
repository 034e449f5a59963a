// Package format converts generated datasets into fine-tuning file formats.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xhad/synthdata/internal/models"
)

// Supported output formats.
const (
	JSONL  = "jsonl"
	Alpaca = "alpaca"
	FT     = "ft"
	ChatML = "chatml"
)

// Formats lists the supported output formats.
var Formats = []string{JSONL, Alpaca, FT, ChatML}

const defaultSystemPrompt = "You are a helpful assistant."

type alpacaRecord struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}

type messagesRecord struct {
	Messages models.Conversation `json:"messages"`
}

// Extension returns the file extension used for format.
func Extension(format string) string {
	if format == JSONL || format == ChatML {
		return ".jsonl"
	}
	return ".json"
}

// Encode renders d in format. JSON array formats are indented when pretty
// is set; line-delimited formats never are.
func Encode(d Dataset, format string, pretty bool) ([]byte, error) {
	switch format {
	case JSONL:
		return encodeLines(d.pairs())

	case Alpaca:
		pairs := d.pairs()
		records := make([]alpacaRecord, 0, len(pairs))
		for _, p := range pairs {
			records = append(records, alpacaRecord{Instruction: p.Question, Output: p.Answer})
		}
		return encodeArray(records, pretty)

	case FT:
		convs := d.conversations()
		records := make([]messagesRecord, 0, len(convs))
		for _, c := range convs {
			records = append(records, messagesRecord{Messages: c})
		}
		return encodeArray(records, pretty)

	case ChatML:
		convs := d.conversations()
		records := make([]messagesRecord, 0, len(convs))
		for _, c := range convs {
			records = append(records, messagesRecord{Messages: c})
		}
		return encodeLines(records)

	default:
		return nil, fmt.Errorf("unknown format %q (supported: %v)", format, Formats)
	}
}

// WriteFile encodes d and writes it to path, creating parent directories.
func WriteFile(path string, d Dataset, format string, pretty bool) error {
	data, err := Encode(d, format, pretty)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// Records returns the format's records as individual JSON documents, for
// storage targets that keep one row per record.
func Records(d Dataset, format string) ([]json.RawMessage, error) {
	data, err := Encode(d, format, false)
	if err != nil {
		return nil, err
	}

	if format == JSONL || format == ChatML {
		var out []json.RawMessage
		for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
			if len(line) > 0 {
				out = append(out, json.RawMessage(line))
			}
		}
		return out, nil
	}

	var out []json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d Dataset) pairs() []models.QAPair {
	if len(d.Pairs) > 0 {
		return d.Pairs
	}
	pairs := make([]models.QAPair, 0, len(d.Conversations))
	for _, c := range d.Conversations {
		var p models.QAPair
		for _, m := range c {
			switch {
			case m.Role == models.RoleUser && p.Question == "":
				p.Question = m.Content
			case m.Role == models.RoleAssistant:
				p.Answer = m.Content
			}
		}
		if p.Valid() {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

func (d Dataset) conversations() []models.Conversation {
	if len(d.Conversations) > 0 {
		return d.Conversations
	}
	convs := make([]models.Conversation, 0, len(d.Pairs))
	for _, p := range d.Pairs {
		convs = append(convs, models.Conversation{
			{Role: models.RoleSystem, Content: defaultSystemPrompt},
			{Role: models.RoleUser, Content: p.Question},
			{Role: models.RoleAssistant, Content: p.Answer},
		})
	}
	return convs
}

func encodeArray(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

func encodeLines[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
