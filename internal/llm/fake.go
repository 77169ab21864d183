package llm

import (
	"context"
	"io"
	"sync"
)

// Fake is a scripted Generator for tests. Unset funcs return empty output.
type Fake struct {
	CompleteFunc func(req Request) (string, error)
	StreamFunc   func(req Request) (Stream, error)

	mu    sync.Mutex
	calls []Request
}

// Complete records req and delegates to CompleteFunc.
func (f *Fake) Complete(ctx context.Context, req Request) (string, error) {
	f.record(req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.CompleteFunc == nil {
		return "", nil
	}
	return f.CompleteFunc(req)
}

// Stream records req and delegates to StreamFunc.
func (f *Fake) Stream(ctx context.Context, req Request) (Stream, error) {
	f.record(req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.StreamFunc == nil {
		return NewSliceStream(nil, nil), nil
	}
	return f.StreamFunc(req)
}

func (f *Fake) record(req Request) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
}

// Calls returns the requests seen so far, optionally only those for purpose.
func (f *Fake) Calls(purpose Purpose) []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, c := range f.calls {
		if purpose == "" || c.Purpose == purpose {
			out = append(out, c)
		}
	}
	return out
}

// SliceStream replays fixed increments, then returns err (io.EOF when nil).
type SliceStream struct {
	chunks []string
	err    error
	pos    int
	closed bool
	mu     sync.Mutex
}

// NewSliceStream returns a stream yielding chunks and then err.
func NewSliceStream(chunks []string, err error) *SliceStream {
	if err == nil {
		err = io.EOF
	}
	return &SliceStream{chunks: chunks, err: err}
}

func (s *SliceStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", io.ErrClosedPipe
	}
	if s.pos < len(s.chunks) {
		s.pos++
		return s.chunks[s.pos-1], nil
	}
	return "", s.err
}

func (s *SliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *SliceStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
