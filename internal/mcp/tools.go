package mcp

// SearchInput is the search tool's input schema.
type SearchInput struct {
	Query      string  `json:"query" jsonschema:"the memory search query"`
	MaxResults int     `json:"maxResults,omitempty" jsonschema:"maximum number of results, default from config"`
	MinScore   float64 `json:"minScore,omitempty" jsonschema:"minimum relevance score between 0 and 1"`
}

// SearchOutput is the search tool's output schema.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"ranked memory hits"`
	Status  string               `json:"status,omitempty" jsonschema:"index status note when results may be incomplete"`
}

// SearchResultOutput is one ranked hit.
type SearchResultOutput struct {
	Path      string  `json:"path" jsonschema:"source document path"`
	StartLine int     `json:"startLine" jsonschema:"first line of the chunk, 1-indexed"`
	EndLine   int     `json:"endLine" jsonschema:"last line of the chunk, inclusive"`
	Heading   string  `json:"heading,omitempty" jsonschema:"markdown heading breadcrumb of the chunk"`
	Snippet   string  `json:"snippet" jsonschema:"bounded content excerpt"`
	Score     float64 `json:"score" jsonschema:"relevance score between 0 and 1"`
	Source    string  `json:"source" jsonschema:"source kind: curated-memory, daily-log, or transcript"`
}

// GetInput is the get tool's input schema.
type GetInput struct {
	Path  string `json:"path" jsonschema:"document path to read"`
	From  int    `json:"from,omitempty" jsonschema:"first line to read, 1-indexed, default 1"`
	Lines int    `json:"lines,omitempty" jsonschema:"number of lines to read, bounded by config"`
}

// GetOutput is the get tool's output schema.
type GetOutput struct {
	Path       string `json:"path" jsonschema:"resolved document path"`
	From       int    `json:"from" jsonschema:"first returned line, 1-indexed"`
	To         int    `json:"to" jsonschema:"last returned line, inclusive"`
	TotalLines int    `json:"totalLines" jsonschema:"total lines in the document"`
	Content    string `json:"content" jsonschema:"requested line window"`
}
