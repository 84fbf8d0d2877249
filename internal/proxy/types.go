package proxy

import "github.com/kalambet/carewatch/internal/engine"

// ChatRequest is the subset of the OpenAI chat completion request we send.
type ChatRequest struct {
	Model          string           `json:"model"`
	Messages       []engine.Message `json:"messages"`
	Temperature    *float64         `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat  `json:"response_format,omitempty"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatResponse is the subset of a non-streaming completion we read.
type ChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message engine.Message `json:"message"`
	} `json:"choices"`
}
