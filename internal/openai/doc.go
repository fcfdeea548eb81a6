// Package openai is a small client for the two OpenAI endpoints todovex
// uses: chat completions for suggestions and embeddings for search.
package openai
