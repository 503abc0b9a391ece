// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"io"
	"sync"

	"github.com/storytrim/server/internal/llm"
)

// Fake returns canned answers. Reply, when set, computes the answer from
// the user message; otherwise Content is returned. Chunks splits streamed
// output; when empty the whole answer is one chunk.
type Fake struct {
	Content   string
	Reply     func(user string) (string, error)
	Chunks    []string
	StreamErr error // Returned from Stream before any chunk
	Usage     llm.Usage

	mu    sync.Mutex
	calls int
}

func (f *Fake) Name() string {
	return "fake"
}

// Calls reports how many Chat or Stream calls were made.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) answer(user string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.Reply != nil {
		return f.Reply(user)
	}
	return f.Content, nil
}

func (f *Fake) Chat(ctx context.Context, system, user string) (*llm.Completion, error) {
	content, err := f.answer(user)
	if err != nil {
		return nil, err
	}
	return &llm.Completion{Content: content, Usage: f.Usage}, nil
}

func (f *Fake) Stream(ctx context.Context, system, user string) (llm.Stream, error) {
	if f.StreamErr != nil {
		f.mu.Lock()
		f.calls++
		f.mu.Unlock()
		return nil, f.StreamErr
	}
	content, err := f.answer(user)
	if err != nil {
		return nil, err
	}
	chunks := f.Chunks
	if len(chunks) == 0 {
		chunks = []string{content}
	}
	usage := f.Usage
	return &stream{chunks: chunks, usage: &usage}, nil
}

type stream struct {
	chunks []string
	usage  *llm.Usage
	pos    int
}

func (s *stream) Recv() (llm.Chunk, error) {
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return llm.Chunk{Content: c}, nil
	}
	if s.usage != nil {
		u := s.usage
		s.usage = nil
		return llm.Chunk{Usage: u}, nil
	}
	return llm.Chunk{}, io.EOF
}

func (s *stream) Close() error {
	return nil
}
