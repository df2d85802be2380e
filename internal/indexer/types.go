package indexer

// Chunk represents a chunk of text from a markdown document.
type Chunk struct {
	Index   int    `json:"index"`   // Position within the document (starts at 0, stable for unchanged input)
	Level   int    `json:"level"`   // Depth of the heading that opened the section, 0 for front matter
	Heading string `json:"heading"` // Nearest enclosing heading text, empty for front matter
	Chapter string `json:"chapter"` // Top-level section label
	Text    string `json:"text"`    // Raw markdown, heading line included
	Source  string `json:"source"`  // Originating document identifier
}
