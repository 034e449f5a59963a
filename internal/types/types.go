package types

import (
	"context"
	"encoding/json"

	"github.com/xhad/synthdata/pkg/llm"
	"github.com/xhad/synthdata/pkg/store"
)

// Core interfaces
type Parser interface {
	Parse(ctx context.Context, source string) (string, error)
}

type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
	CompleteBatch(ctx context.Context, reqs []llm.Request, batchSize int) []llm.Result
}

// Checker is a backend that can report whether it is reachable.
type Checker interface {
	Provider() string
	Check(ctx context.Context) error
}

// LLMClient is the generation client used by the workflows.
type LLMClient interface {
	Completer
	Checker
}

type DatasetStore interface {
	Store(ctx context.Context, dataset, format string, records []json.RawMessage) (int, error)
	Query(ctx context.Context, dataset string, limit int) ([]store.Record, error)
	Close()
}
