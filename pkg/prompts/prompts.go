// Package prompts holds the prompt templates used for generation and rating.
//
// Templates use named placeholders such as {text} and {num_examples}.
// Placeholders without a value are left untouched so literal braces in
// example JSON survive formatting.
package prompts

import (
	"fmt"
	"sort"
	"strings"
)

// Template names looked up by the generator and the quality filter.
const (
	Summary        = "summary"
	QAGeneration   = "qa_generation"
	QARating       = "qa_rating"
	CotGeneration  = "cot_generation"
	CotEnhancement = "cot_enhancement"
)

var defaults = map[string]string{
	Summary: `Summarize this document in 2-3 sentences, focusing on the main topic and key concepts.`,

	QAGeneration: `Create {num_pairs} question-answer pairs from this text for LLM training.

Rules:
1. Questions must be about important facts in the text
2. Answers must be directly supported by the text
3. Return JSON format only:

[
  {
    "question": "Question 1?",
    "answer": "Answer 1."
  },
  {
    "question": "Question 2?",
    "answer": "Answer 2."
  }
]

Text:
{text}`,

	QARating: `Rate each of these question-answer pairs for quality and return exactly this JSON format:

[
  {"question": "same question text", "answer": "same answer text", "rating": n}
]

Where n is a number from 1-10.

DO NOT include any text outside of the JSON array, just return valid JSON:

{pairs}`,

	CotGeneration: `Create {num_examples} complex reasoning examples from this text that demonstrate chain-of-thought thinking.

Each example should have:
1. A challenging question that requires step-by-step reasoning
2. Detailed reasoning steps that break down the problem
3. A concise final answer

Return JSON format only:

[
  {
    "question": "Complex question about the text?",
    "reasoning": "Step 1: First, I need to consider...\nStep 2: Then, I analyze...\nStep 3: Finally, I can conclude...",
    "answer": "Final answer based on the reasoning."
  }
]

Text:
{text}`,

	CotEnhancement: `You are an expert reasoning assistant. Your task is to enhance the given conversation by adding chain-of-thought reasoning.

For each assistant response, add clear step-by-step reasoning before the answer.
Keep the original system and user messages exactly as they are.
Include simple steps for trivial answers: {include_simple_steps}

Return the enhanced conversation as a JSON array of messages, in the same format as the input:

[
  {"role": "system", "content": "..."},
  {"role": "user", "content": "..."},
  {"role": "assistant", "content": "Let me think through this step by step:\n\n1. ...\n\nTherefore, ..."}
]

Conversation:
{conversations}`,
}

// Defaults returns a copy of the built-in templates.
func Defaults() map[string]string {
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	return out
}

// Set is a collection of named templates with built-in fallbacks. The zero
// Set serves the built-in templates.
type Set struct {
	templates map[string]string
}

// NewSet layers overrides on top of the built-in templates. Empty
// overrides are ignored.
func NewSet(overrides map[string]string) Set {
	templates := Defaults()
	for k, v := range overrides {
		if strings.TrimSpace(v) != "" {
			templates[k] = v
		}
	}
	return Set{templates: templates}
}

// Get returns the template called name.
func (s Set) Get(name string) (string, error) {
	t, ok := s.templates[name]
	if !ok {
		t, ok = defaults[name]
	}
	if !ok {
		return "", fmt.Errorf("no prompt template named %q", name)
	}
	return t, nil
}

// Render formats the template called name with vars.
func (s Set) Render(name string, vars map[string]any) (string, error) {
	t, err := s.Get(name)
	if err != nil {
		return "", err
	}
	return Format(t, vars), nil
}

// Names lists the available templates in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s.templates))
	for k := range s.templates {
		names = append(names, k)
	}
	for k := range defaults {
		if _, ok := s.templates[k]; !ok {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Format replaces each {name} in tmpl with the matching value in vars.
func Format(tmpl string, vars map[string]any) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
