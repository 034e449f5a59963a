package processor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/xhad/synthdata/internal/models"
)

// ErrInvalidArgument is returned for chunk parameters outside 0 <= overlap < chunkSize.
var ErrInvalidArgument = errors.New("invalid argument")

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) (Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 4000
	}
	if err := validate(config.ChunkSize, config.ChunkOverlap); err != nil {
		return Processor{}, err
	}

	return Processor{
		config: config,
	}, nil
}

// Split chunks text with the processor's configured size and overlap.
func (p Processor) Split(text string) ([]models.Chunk, error) {
	return Split(text, p.config.ChunkSize, p.config.ChunkOverlap)
}

// Split cuts text into windows of at most chunkSize characters, each
// starting overlap characters before the previous window ended. A window
// prefers to end on the last paragraph break past its midpoint, then on
// the last sentence end past its midpoint, else on the hard boundary.
//
// Empty text yields no chunks. Text shorter than chunkSize yields one.
func Split(text string, chunkSize, overlap int) ([]models.Chunk, error) {
	if err := validate(chunkSize, overlap); err != nil {
		return nil, err
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	var chunks []models.Chunk
	start, covered := 0, 0
	for start < n {
		end := start + chunkSize
		if end >= n {
			end = n
		} else {
			end = snapEnd(runes, start, end, covered)
		}
		covered = end

		chunks = append(chunks, models.Chunk{
			Text:         string(runes[start:end]),
			Index:        len(chunks),
			SourceOffset: start,
		})

		if end == n {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks, nil
}

func validate(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d: %w", chunkSize, ErrInvalidArgument)
	}
	if overlap < 0 || overlap >= chunkSize {
		return fmt.Errorf("overlap must be in [0, %d), got %d: %w", chunkSize, overlap, ErrInvalidArgument)
	}
	return nil
}

// snapEnd moves a window end back to a natural boundary in the second half
// of runes[start:end]. The result always stays beyond covered so every
// chunk contributes characters the previous one did not.
func snapEnd(runes []rune, start, end, covered int) int {
	mid := start + (end-start)/2

	for i := end - 2; i > mid; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			if i+2 > covered {
				return i + 2
			}
			break
		}
	}

	for i := end - 1; i > mid; i-- {
		if isSentenceEnd(runes[i]) && (i+1 >= len(runes) || unicode.IsSpace(runes[i+1])) {
			if i+1 > covered {
				return i + 1
			}
			break
		}
	}

	return end
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// Clean normalises parsed text before chunking. Paragraph breaks survive.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
