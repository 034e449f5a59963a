package format

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xhad/synthdata/internal/models"
	"github.com/xhad/synthdata/pkg/extract"
)

// Dataset is the content of a generated or curated file, normalised for
// export.
type Dataset struct {
	Summary       string
	Pairs         []models.QAPair
	Conversations []models.Conversation
}

func (d Dataset) Len() int {
	if len(d.Pairs) > 0 {
		return len(d.Pairs)
	}
	return len(d.Conversations)
}

// file covers the keys written by the generate and curate stages.
type file struct {
	Summary       string                `json:"summary"`
	QAPairs       []models.QAPair       `json:"qa_pairs"`
	FilteredPairs []models.RatedItem    `json:"filtered_pairs"`
	CotExamples   []models.CotExample   `json:"cot_examples"`
	Conversations []models.Conversation `json:"conversations"`
}

// Parse reads a dataset from the JSON produced by the generate or curate
// stages: an object with filtered_pairs, qa_pairs, cot_examples or
// conversations, or a bare array of pairs, examples or conversations.
func Parse(data []byte) (Dataset, error) {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return Dataset{}, fmt.Errorf("invalid dataset JSON: %w", err)
	}

	if values, ok := decoded.([]any); ok {
		return fromArray(values)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return Dataset{}, fmt.Errorf("unrecognized dataset layout: %w", err)
	}

	d := Dataset{Summary: f.Summary}
	switch {
	case len(f.FilteredPairs) > 0:
		for _, item := range f.FilteredPairs {
			d.Pairs = append(d.Pairs, item.QAPair)
		}
	case len(f.QAPairs) > 0:
		d.Pairs = f.QAPairs
	case len(f.CotExamples) > 0:
		for _, ex := range f.CotExamples {
			d.Pairs = append(d.Pairs, models.QAPair{Question: ex.Question, Answer: ex.Answer})
			d.Conversations = append(d.Conversations, ex.Conversation())
		}
	}
	if len(f.Conversations) > 0 {
		d.Conversations = f.Conversations
	}

	if d.Len() == 0 {
		return Dataset{}, fmt.Errorf("no qa_pairs, filtered_pairs, cot_examples or conversations found")
	}
	return d, nil
}

func fromArray(values []any) (Dataset, error) {
	if len(values) == 0 {
		return Dataset{}, nil
	}

	if examples := extract.Items(values, models.CotExample.Valid); len(examples) == len(values) {
		var d Dataset
		for _, ex := range examples {
			d.Pairs = append(d.Pairs, models.QAPair{Question: ex.Question, Answer: ex.Answer})
			d.Conversations = append(d.Conversations, ex.Conversation())
		}
		return d, nil
	}
	if pairs := extract.Items(values, models.QAPair.Valid); len(pairs) > 0 {
		return Dataset{Pairs: pairs}, nil
	}
	if convs := extract.Items(values, func(c models.Conversation) bool { return len(c) > 0 }); len(convs) > 0 {
		return Dataset{Conversations: convs}, nil
	}
	return Dataset{}, fmt.Errorf("array holds no pairs, examples or conversations")
}

// Load reads and parses a dataset file.
func Load(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("error reading %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return Dataset{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}
