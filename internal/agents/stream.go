package agents

import (
	"context"

	"forgefix/internal/faults"
)

// =============================================================================
// STREAMING VARIANT
// =============================================================================

// ChunkType tags a streamed chunk.
type ChunkType string

const (
	// ChunkStatus marks a role transition.
	ChunkStatus ChunkType = "status"
	// ChunkAgent carries one expert's validated structured output.
	ChunkAgent ChunkType = "agent"
	// ChunkFix carries the proposed fix location and content.
	ChunkFix ChunkType = "fix"
	// ChunkError reports the failure that stopped the pipeline.
	ChunkError ChunkType = "error"
	// ChunkDone terminates a successful stream.
	ChunkDone ChunkType = "done"
)

// FixChunk is the fix payload of a ChunkFix.
type FixChunk struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// Chunk is one typed unit of streamed progress.
type Chunk struct {
	Type    ChunkType              `json:"type"`
	Agent   Role                   `json:"agent,omitempty"`
	Message string                 `json:"message,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Fix     *FixChunk              `json:"fix,omitempty"`
}

type emitFunc func(Chunk) error

// Stream is a running pipeline delivering chunks under consumer
// backpressure: the producer will not emit chunk N+1 until the consumer has
// acknowledged chunk N. With no consumer attached at most one chunk sits
// buffered and the producer parks.
//
// Usage:
//
//	s := orch.Stream(ctx, in)
//	for c := range s.Chunks() {
//	    handle(c)
//	    s.Ack()
//	}
//	result, err := s.Wait()
//
// Every received chunk must be acknowledged, the terminal one included.
type Stream struct {
	chunks chan Chunk
	acks   chan struct{}
	done   chan struct{}

	result *Result
	err    error
}

// Stream starts the pipeline and returns immediately. Chunks are delivered
// in pipeline order; cancellation of ctx releases the producer at any
// suspension point.
func (o *Orchestrator) Stream(ctx context.Context, in Inputs) *Stream {
	s := &Stream{
		chunks: make(chan Chunk, 1),
		acks:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	go func() {
		res, err := o.run(ctx, in, func(c Chunk) error { return s.emit(ctx, c) })
		s.result, s.err = res, err
		close(s.chunks)
		close(s.done)
	}()

	return s
}

// Chunks returns the delivery channel. It closes when the pipeline ends.
func (s *Stream) Chunks() <-chan Chunk { return s.chunks }

// Ack acknowledges the most recently received chunk. It never blocks after
// the stream has ended.
func (s *Stream) Ack() {
	select {
	case s.acks <- struct{}{}:
	case <-s.done:
	}
}

// Wait blocks until the pipeline ends and returns its (possibly partial)
// result and terminal error.
func (s *Stream) Wait() (*Result, error) {
	<-s.done
	return s.result, s.err
}

// emit delivers one chunk and waits for its acknowledgement.
func (s *Stream) emit(ctx context.Context, c Chunk) error {
	select {
	case s.chunks <- c:
	case <-ctx.Done():
		return faults.FromContext(ctx)
	}
	select {
	case <-s.acks:
		return nil
	case <-ctx.Done():
		return faults.FromContext(ctx)
	}
}
