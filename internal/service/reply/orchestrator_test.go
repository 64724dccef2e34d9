package reply_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatmodel "github.com/zhouzirui/instachat/backend/internal/model/chat"
	"github.com/zhouzirui/instachat/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/instachat/backend/internal/service/chat"
	"github.com/zhouzirui/instachat/backend/internal/service/reply"
)

var operator = persona.NewOperator("Alex Rivera", "creative_soul")

type fakeGenerator struct {
	mu       sync.Mutex
	text     string
	err      error
	panicMsg string
	release  chan struct{}
	calls    [][]chatmodel.Message
	inFlight int32
	maxSeen  int32
}

func (g *fakeGenerator) Generate(_ context.Context, _, _ persona.Persona, history []chatmodel.Message) (string, error) {
	current := atomic.AddInt32(&g.inFlight, 1)
	defer atomic.AddInt32(&g.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&g.maxSeen)
		if current <= seen || atomic.CompareAndSwapInt32(&g.maxSeen, seen, current) {
			break
		}
	}

	g.mu.Lock()
	g.calls = append(g.calls, history)
	g.mu.Unlock()

	if g.release != nil {
		<-g.release
	}
	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	return g.text, g.err
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func setup(t *testing.T, gen reply.Generator, friend persona.Persona) (*chatservice.Service, *reply.Orchestrator, string) {
	t.Helper()
	store := chatservice.NewService(chatservice.WithRecordingTick(0))
	snap, err := store.Open(context.Background(), "session-1", operator, friend)
	require.NoError(t, err)
	return store, reply.New(store, gen, nil), snap.Conversation.ID
}

func awaitReply(t *testing.T, res reply.Result) (chatmodel.Message, bool) {
	t.Helper()
	select {
	case msg, ok := <-res.Reply:
		return msg, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return chatmodel.Message{}, false
	}
}

func TestSendAppendsGeneratedReply(t *testing.T) {
	gen := &fakeGenerator{text: "omg hi!! ☕"}
	store, orch, id := setup(t, gen, persona.Seed()[0])
	ctx := context.Background()

	res, err := orch.Send(ctx, id, "what are you painting?")
	require.NoError(t, err)
	assert.True(t, res.Message.FromOperator)

	msg, ok := awaitReply(t, res)
	require.True(t, ok)
	assert.Equal(t, "omg hi!! ☕", msg.Body)
	assert.False(t, msg.FromOperator)

	snap, err := store.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 3)
	assert.False(t, snap.AwaitingReply)

	require.Equal(t, 1, gen.callCount())
	history := gen.calls[0]
	require.Len(t, history, 2, "generator sees the greeting and the new operator message")
	assert.Equal(t, "what are you painting?", history[1].Body)
}

func TestProviderFailureYieldsSingleFallback(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	store, orch, id := setup(t, gen, persona.Seed()[1])
	ctx := context.Background()

	res, err := orch.Send(ctx, id, "hello?")
	require.NoError(t, err)

	msg, ok := awaitReply(t, res)
	require.True(t, ok)
	assert.Equal(t, reply.FallbackReply, msg.Body)

	orch.Wait()
	transcript, err := store.Transcript(ctx, id)
	require.NoError(t, err)
	assert.Len(t, transcript, 3)
}

func TestPanickingProviderYieldsFallback(t *testing.T) {
	gen := &fakeGenerator{panicMsg: "malformed response"}
	_, orch, id := setup(t, gen, persona.Seed()[1])

	res, err := orch.Send(context.Background(), id, "hello?")
	require.NoError(t, err)

	msg, ok := awaitReply(t, res)
	require.True(t, ok)
	assert.Equal(t, reply.FallbackReply, msg.Body)
}

func TestEmptyGenerationYieldsFiller(t *testing.T) {
	gen := &fakeGenerator{text: "  "}
	_, orch, id := setup(t, gen, persona.Seed()[2])

	res, err := orch.Send(context.Background(), id, "you there?")
	require.NoError(t, err)

	msg, ok := awaitReply(t, res)
	require.True(t, ok)
	assert.Equal(t, reply.FillerReply, msg.Body)
}

func TestMissingGeneratorYieldsFallback(t *testing.T) {
	_, orch, id := setup(t, nil, persona.Seed()[2])

	res, err := orch.Send(context.Background(), id, "hi")
	require.NoError(t, err)

	msg, ok := awaitReply(t, res)
	require.True(t, ok)
	assert.Equal(t, reply.FallbackReply, msg.Body)
}

func TestSecondSendWhileAwaitingIsRejected(t *testing.T) {
	gen := &fakeGenerator{text: "ok", release: make(chan struct{})}
	store, orch, id := setup(t, gen, persona.Seed()[3])
	ctx := context.Background()

	first, err := orch.Send(ctx, id, "one")
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.True(t, snap.AwaitingReply)

	_, err = orch.Send(ctx, id, "two")
	assert.ErrorIs(t, err, chatservice.ErrReplyPending)
	_, err = orch.AttachFile(ctx, id, "photo.png")
	assert.ErrorIs(t, err, chatservice.ErrReplyPending)

	close(gen.release)
	_, ok := awaitReply(t, first)
	require.True(t, ok)
	orch.Wait()

	assert.Equal(t, 1, gen.callCount())
	assert.EqualValues(t, 1, atomic.LoadInt32(&gen.maxSeen))

	transcript, err := store.Transcript(ctx, id)
	require.NoError(t, err)
	assert.Len(t, transcript, 3)
}

func TestConcurrentSendsNeverOverlap(t *testing.T) {
	gen := &fakeGenerator{text: "ok", release: make(chan struct{})}
	_, orch, id := setup(t, gen, persona.Seed()[3])
	ctx := context.Background()

	var accepted int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := orch.Send(ctx, id, "ping"); err == nil {
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	wg.Wait()
	close(gen.release)
	orch.Wait()

	assert.EqualValues(t, 1, accepted)
	assert.EqualValues(t, 1, atomic.LoadInt32(&gen.maxSeen))
}

func TestEmptySendIsInertAndReleasesGate(t *testing.T) {
	gen := &fakeGenerator{text: "ok"}
	store, orch, id := setup(t, gen, persona.Seed()[4])
	ctx := context.Background()

	_, err := orch.Send(ctx, id, "   ")
	assert.ErrorIs(t, err, chatservice.ErrEmptyMessage)

	snap, err := store.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 1)
	assert.False(t, snap.AwaitingReply)

	res, err := orch.Send(ctx, id, "real message")
	require.NoError(t, err)
	_, ok := awaitReply(t, res)
	assert.True(t, ok)
}

func TestFinishRecordingRequestsReply(t *testing.T) {
	gen := &fakeGenerator{text: "nice voice"}
	store, orch, id := setup(t, gen, persona.Seed()[4])
	ctx := context.Background()

	require.NoError(t, store.BeginRecording(ctx, id))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Tick(ctx, id))
	}

	res, err := orch.FinishRecording(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, res.Message.Body, "0:03")

	msg, ok := awaitReply(t, res)
	require.True(t, ok)
	assert.Equal(t, "nice voice", msg.Body)
}

func TestAttachFileRequestsReply(t *testing.T) {
	gen := &fakeGenerator{text: "cute pic"}
	_, orch, id := setup(t, gen, persona.Seed()[0])

	res, err := orch.AttachFile(context.Background(), id, "photo.png")
	require.NoError(t, err)
	assert.Contains(t, res.Message.Body, "photo.png")

	_, ok := awaitReply(t, res)
	assert.True(t, ok)
}

func TestLateReplyForClosedConversationIsDropped(t *testing.T) {
	gen := &fakeGenerator{text: "too late", release: make(chan struct{})}
	store, orch, id := setup(t, gen, persona.Seed()[0])
	ctx := context.Background()

	res, err := orch.Send(ctx, id, "bye")
	require.NoError(t, err)

	require.NoError(t, store.Close(ctx, id))
	close(gen.release)

	_, ok := awaitReply(t, res)
	assert.False(t, ok, "no reply is delivered for a discarded conversation")
	orch.Wait()
}

func TestHumanPersonaGetsNoGeneratedReply(t *testing.T) {
	gen := &fakeGenerator{text: "should not be called"}
	human := persona.Persona{ID: "pat", Name: "Pat", Handle: "pat", Bio: "real", Kind: persona.KindHuman}
	store, orch, id := setup(t, gen, human)
	ctx := context.Background()

	res, err := orch.Send(ctx, id, "hi pat")
	require.NoError(t, err)

	_, ok := awaitReply(t, res)
	assert.False(t, ok)
	assert.Zero(t, gen.callCount())

	snap, err := store.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.False(t, snap.AwaitingReply)
	assert.Len(t, snap.Messages, 2)
}

func TestRequestContextCancellationDoesNotAbortReply(t *testing.T) {
	gen := &fakeGenerator{text: "still here", release: make(chan struct{})}
	_, orch, id := setup(t, gen, persona.Seed()[0])

	ctx, cancel := context.WithCancel(context.Background())
	res, err := orch.Send(ctx, id, "hello")
	require.NoError(t, err)
	cancel()
	close(gen.release)

	msg, ok := awaitReply(t, res)
	require.True(t, ok)
	assert.Equal(t, "still here", msg.Body)
}
