package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/xhad/synthdata/pkg/parser"
)

// Stats describes what a stage would process, without processing it.
type Stats struct {
	Input            string         `json:"input"`
	TotalFiles       int            `json:"total_files"`
	SupportedFiles   int            `json:"supported_files"`
	UnsupportedFiles int            `json:"unsupported_files"`
	ByExtension      map[string]int `json:"by_extension"`
	Files            []string       `json:"files"`
}

// Preview lists the files stage would pick up from input. contentType only
// matters for create, where cot-enhance reads conversation JSON instead of
// text.
func Preview(stage, input, contentType string) (Stats, error) {
	var supported func(string) bool
	switch stage {
	case "ingest":
		supported = parser.Supported
	case "create":
		extensions := CreateExtensions
		if contentType == TypeCoTEnhance {
			extensions = JSONExtensions
		}
		supported = hasExtension(extensions)
	case "curate", "save-as":
		supported = hasExtension(JSONExtensions)
	default:
		return Stats{}, fmt.Errorf("unknown stage %q", stage)
	}

	stats := Stats{Input: input, ByExtension: map[string]int{}, Files: []string{}}
	if stage == "ingest" && isURL(input) {
		stats.TotalFiles, stats.SupportedFiles = 1, 1
		stats.ByExtension["url"] = 1
		stats.Files = append(stats.Files, input)
		return stats, nil
	}

	info, err := os.Stat(input)
	if err != nil {
		return Stats{}, fmt.Errorf("input not found: %w", err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(input)
		if err != nil {
			return Stats{}, fmt.Errorf("error reading directory %s: %w", input, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(input, e.Name()))
			}
		}
	} else {
		files = []string{input}
	}

	for _, f := range files {
		stats.TotalFiles++
		if !supported(f) {
			stats.UnsupportedFiles++
			continue
		}
		stats.SupportedFiles++
		stats.ByExtension[strings.ToLower(filepath.Ext(f))]++
		stats.Files = append(stats.Files, f)
	}
	slices.Sort(stats.Files)
	return stats, nil
}

func hasExtension(extensions []string) func(string) bool {
	return func(path string) bool {
		return slices.Contains(extensions, strings.ToLower(filepath.Ext(path)))
	}
}
