package ai

import "context"

// Summarizer turns recorded speech into text following a system prompt.
type Summarizer interface {
	Summarize(ctx context.Context, audio []byte, mimeType, systemPrompt string) (string, error)
}

// GeminiSummarizer wraps GeminiClient with a fixed model.
type GeminiSummarizer struct {
	client *GeminiClient
	model  string
}

// NewGeminiSummarizer builds a Gemini-based Summarizer.
func NewGeminiSummarizer(client *GeminiClient, model string) *GeminiSummarizer {
	return &GeminiSummarizer{client: client, model: model}
}

// Summarize implements Summarizer using Gemini.
func (g *GeminiSummarizer) Summarize(ctx context.Context, audio []byte, mimeType, systemPrompt string) (string, error) {
	return g.client.SummarizeAudio(ctx, g.model, audio, mimeType, systemPrompt)
}
