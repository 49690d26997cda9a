package agents

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"forgefix/internal/faults"
	"forgefix/internal/llm"
)

func TestMain(m *testing.M) {
	// go.opencensus.io starts a global worker goroutine at package init
	// (via a transitive dependency) that can never be stopped.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func TestStream_OrderedChunks(t *testing.T) {
	backend := newScriptedBackend(happyHandler)
	o := New(NewRunner(backend, nil, fastPolicy(), nil), nil)

	s := o.Stream(context.Background(), testInputs())

	var got []string
	for c := range s.Chunks() {
		got = append(got, fmt.Sprintf("%s:%s", c.Type, c.Agent))
		s.Ack()
	}

	res, err := s.Wait()
	require.NoError(t, err)
	require.NotNil(t, res.Summary)

	want := []string{
		"status:log-analyst", "agent:log-analyst",
		"status:workflow-expert", "agent:workflow-expert",
		"status:code-reviewer", "agent:code-reviewer",
		"status:fix-generator", "agent:fix-generator",
		"fix:fix-generator",
		"done:",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("chunk order mismatch (-want +got):\n%s", diff)
	}
}

func TestStream_FixChunkCarriesProposal(t *testing.T) {
	backend := newScriptedBackend(happyHandler)
	o := New(NewRunner(backend, nil, fastPolicy(), nil), nil)

	s := o.Stream(context.Background(), testInputs())

	var fix *FixChunk
	for c := range s.Chunks() {
		if c.Type == ChunkFix {
			fix = c.Fix
		}
		s.Ack()
	}
	_, err := s.Wait()
	require.NoError(t, err)

	require.NotNil(t, fix)
	assert.Equal(t, ".github/workflows/release.yml", fix.File)
	assert.Equal(t, 12, fix.Line)
	assert.Contains(t, fix.Content, "registry-url")
}

func TestStream_BackpressureHoldsUntilAck(t *testing.T) {
	backend := newScriptedBackend(happyHandler)
	o := New(NewRunner(backend, nil, fastPolicy(), nil), nil)

	s := o.Stream(context.Background(), testInputs())

	first := <-s.Chunks()
	assert.Equal(t, ChunkStatus, first.Type)

	// Without an ack the producer must not advance past the next buffered
	// chunk boundary.
	select {
	case c := <-s.Chunks():
		t.Fatalf("producer advanced without ack: got %s chunk", c.Type)
	case <-time.After(75 * time.Millisecond):
	}

	s.Ack()
	second := <-s.Chunks()
	assert.Equal(t, ChunkAgent, second.Type)
	s.Ack()

	for range s.Chunks() {
		s.Ack()
	}
	res, err := s.Wait()
	require.NoError(t, err)
	require.NotNil(t, res.Summary)
}

func TestStream_CancellationReleasesProducer(t *testing.T) {
	// The Workflow Expert call parks on the context so cancellation
	// deterministically lands mid-pipeline.
	backend := newScriptedBackend(func(ctx context.Context, role Role, attempt int, req llm.Request) (llm.Response, error) {
		if role == RoleWorkflowExpert {
			<-ctx.Done()
			return llm.Response{}, ctx.Err()
		}
		return happyHandler(ctx, role, attempt, req)
	})
	o := New(NewRunner(backend, nil, fastPolicy(), nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	s := o.Stream(ctx, testInputs())

	// status + agent for the Log Analyst, then the Workflow Expert's
	// status chunk; the producer is now inside the blocked backend call.
	for i := 0; i < 3; i++ {
		<-s.Chunks()
		s.Ack()
	}
	cancel()

	for range s.Chunks() {
		s.Ack()
	}
	res, err := s.Wait()
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.Cancelled), "got %v", err)
	require.NotNil(t, res, "partial result must survive cancellation")
	assert.NotNil(t, res.LogAnalyst)
	assert.Nil(t, res.WorkflowExpert)
}

func TestStream_ErrorChunkOnAgentFailure(t *testing.T) {
	backend := newScriptedBackend(func(ctx context.Context, role Role, attempt int, req llm.Request) (llm.Response, error) {
		if role == RoleWorkflowExpert {
			return llm.Response{}, faults.New(faults.BackendUnavailable, "socket closed")
		}
		return happyHandler(ctx, role, attempt, req)
	})
	policy := fastPolicy()
	policy.MaxAttempts = 1
	o := New(NewRunner(backend, nil, policy, nil), nil)

	s := o.Stream(context.Background(), testInputs())

	var sawError bool
	for c := range s.Chunks() {
		if c.Type == ChunkError {
			sawError = true
			assert.Equal(t, RoleWorkflowExpert, c.Agent)
			assert.Contains(t, c.Message, "socket closed")
		}
		s.Ack()
	}
	res, err := s.Wait()
	require.Error(t, err)
	assert.True(t, sawError, "stream must surface the failing role")
	assert.NotNil(t, res.LogAnalyst, "prior output survives")
	assert.Nil(t, res.WorkflowExpert)
}
