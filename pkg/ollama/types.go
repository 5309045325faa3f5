package ollama

// generateRequest is the body POSTed to the generate endpoint.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateChunk is one NDJSON fragment of a streamed response. The same
// shape comes back as a single object when stream is false.
type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// TokenFunc receives each streamed token as it arrives. The attempt number
// lets callers discard tokens from a superseded attempt after a mid-stream
// retry.
type TokenFunc func(attempt int, token string)

// DoneFunc receives the assembled response text, or the final attempt's
// error when retries are exhausted.
type DoneFunc func(text string, err error)
