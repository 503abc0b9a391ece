// Package llm talks to OpenAI-compatible chat completion APIs.
package llm

import (
	"context"
	"math"
)

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is a finished, non-streamed answer.
type Completion struct {
	Content string
	Usage   Usage
}

// Chunk is one streamed delta. Usage is set on the final chunk when the
// provider reports it.
type Chunk struct {
	Content string
	Usage   *Usage
}

// Stream yields chunks until Recv returns io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Client defines the interface for LLM providers.
type Client interface {
	Chat(ctx context.Context, system, user string) (*Completion, error)
	Stream(ctx context.Context, system, user string) (Stream, error)
	Name() string
}

// Pricing holds per-million-token prices.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost is the price of one call.
type Cost struct {
	Input  float64
	Output float64
	Total  float64
}

const million = 1_000_000

// Cost prices a usage.
func (p Pricing) Cost(u Usage) Cost {
	in := float64(u.PromptTokens) * p.InputPerMillion / million
	out := float64(u.CompletionTokens) * p.OutputPerMillion / million
	return Cost{Input: in, Output: out, Total: in + out}
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
