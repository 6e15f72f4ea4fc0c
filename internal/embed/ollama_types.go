package embed

// ollamaEmbedRequest is the request body for POST /api/embed.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

// ollamaEmbedResponse is the response body from POST /api/embed.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ollamaModelInfo describes one installed model from GET /api/tags.
type ollamaModelInfo struct {
	Name string `json:"name"`
}

// ollamaModelListResponse is the response body from GET /api/tags.
type ollamaModelListResponse struct {
	Models []ollamaModelInfo `json:"models"`
}
