package models

import "unicode/utf8"

// Document is parsed source text. It is produced by a parser and consumed by the chunker.
type Document struct {
	ID       string
	Source   string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// Len reports the document length in characters.
func (d Document) Len() int {
	return utf8.RuneCountInString(d.Content)
}

// Chunk is a bounded window of a document. SourceOffset and the length of
// Text are measured in characters (runes), not bytes.
type Chunk struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	SourceOffset int    `json:"source_offset"`
}

// End returns the character offset one past the last character of the chunk.
func (c Chunk) End() int {
	return c.SourceOffset + utf8.RuneCountInString(c.Text)
}
