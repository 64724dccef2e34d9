package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/instachat/backend/internal/middleware"
	chatmodel "github.com/zhouzirui/instachat/backend/internal/model/chat"
	"github.com/zhouzirui/instachat/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/instachat/backend/internal/service/chat"
	"github.com/zhouzirui/instachat/backend/internal/service/reply"
	sessionservice "github.com/zhouzirui/instachat/backend/internal/service/session"
)

type stubGenerator struct {
	text    string
	release chan struct{}
}

func (g *stubGenerator) Generate(context.Context, persona.Persona, persona.Persona, []chatmodel.Message) (string, error) {
	if g.release != nil {
		<-g.release
	}
	return g.text, nil
}

type fixture struct {
	router   *chi.Mux
	sessions *sessionservice.Service
	chats    *chatservice.Service
	replies  *reply.Orchestrator
	session  string
}

func setupRouter(t *testing.T, gen reply.Generator) *fixture {
	t.Helper()
	chats := chatservice.NewService(chatservice.WithRecordingTick(0))
	sessions := sessionservice.NewService(chats, nil)
	replies := reply.New(chats, gen, nil)
	store := persona.NewMemoryStore(persona.Seed())

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(sessions))
		New(sessions, chats, replies, store, nil).RegisterRoutes(r)
	})

	sess, err := sessions.Login(context.Background(), "Riley Park", "riley")
	require.NoError(t, err)

	return &fixture{router: r, sessions: sessions, chats: chats, replies: replies, session: sess.ID}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.SessionHeader, f.session)
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func (f *fixture) open(t *testing.T, personaID string) chatmodel.Snapshot {
	t.Helper()
	resp := f.do(http.MethodPost, "/conversations", map[string]string{"personaId": personaID})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var snap chatmodel.Snapshot
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &snap))
	return snap
}

func TestOpenConversationValidPersona(t *testing.T) {
	f := setupRouter(t, &stubGenerator{text: "hi"})
	snap := f.open(t, "luna")

	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "Hey Riley! How's it going? 👋", snap.Messages[0].Body)
	assert.Equal(t, "luna", snap.Conversation.Persona.ID)
}

func TestOpenConversationInvalidPersona(t *testing.T) {
	f := setupRouter(t, nil)

	resp := f.do(http.MethodPost, "/conversations", map[string]string{"personaId": "non-existent"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(http.MethodPost, "/conversations", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRequestsWithoutSessionAreRejected(t *testing.T) {
	f := setupRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewReader([]byte(`{"personaId":"luna"}`)))
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestSendWaitReturnsReply(t *testing.T) {
	f := setupRouter(t, &stubGenerator{text: "painting all day 🎨"})
	snap := f.open(t, "luna")

	resp := f.do(http.MethodPost, "/conversations/"+snap.Conversation.ID+"/messages?wait=true", map[string]string{"text": "what's up?"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var body actionResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "what's up?", body.Message.Body)
	assert.True(t, body.Message.FromOperator)
	require.NotNil(t, body.Reply)
	assert.Equal(t, "painting all day 🎨", body.Reply.Body)
}

func TestEmptySendIsNoContent(t *testing.T) {
	f := setupRouter(t, &stubGenerator{text: "hi"})
	snap := f.open(t, "luna")

	resp := f.do(http.MethodPost, "/conversations/"+snap.Conversation.ID+"/messages", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusNoContent, resp.Code)

	transcript, err := f.chats.Transcript(context.Background(), snap.Conversation.ID)
	require.NoError(t, err)
	assert.Len(t, transcript, 1)
}

func TestSendWhileReplyPendingConflicts(t *testing.T) {
	gen := &stubGenerator{text: "ok", release: make(chan struct{})}
	f := setupRouter(t, gen)
	snap := f.open(t, "jordan")
	path := "/conversations/" + snap.Conversation.ID + "/messages"

	resp := f.do(http.MethodPost, path, map[string]string{"text": "first"})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = f.do(http.MethodPost, path, map[string]string{"text": "second"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	close(gen.release)
	f.replies.Wait()
}

func TestRecordingLifecycle(t *testing.T) {
	f := setupRouter(t, &stubGenerator{text: "cool"})
	snap := f.open(t, "tech_tom")
	base := "/conversations/" + snap.Conversation.ID

	assert.Equal(t, http.StatusConflict, f.do(http.MethodDelete, base+"/recording", nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, base+"/recording", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, base+"/recording", nil).Code)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.chats.Tick(context.Background(), snap.Conversation.ID))
	}

	resp := f.do(http.MethodPost, base+"/recording/finish?wait=1", nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	var body actionResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Contains(t, body.Message.Body, "0:03")
	require.NotNil(t, body.Reply)
}

func TestDraftBlocksRecording(t *testing.T) {
	f := setupRouter(t, nil)
	snap := f.open(t, "tech_tom")
	base := "/conversations/" + snap.Conversation.ID

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPut, base+"/draft", map[string]string{"text": "typing"}).Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, base+"/recording", nil).Code)

	resp := f.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var got chatmodel.Snapshot
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, "typing", got.Composer.Draft)
}

func TestAttachFile(t *testing.T) {
	f := setupRouter(t, &stubGenerator{text: "nice pic"})
	snap := f.open(t, "mia_music")

	resp := f.do(http.MethodPost, "/conversations/"+snap.Conversation.ID+"/attachments?wait=true", map[string]string{"filename": "photo.png"})
	require.Equal(t, http.StatusCreated, resp.Code)

	var body actionResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Contains(t, body.Message.Body, "photo.png")
	require.NotNil(t, body.Reply)
	assert.Equal(t, "nice pic", body.Reply.Body)
}

func TestCloseConversation(t *testing.T) {
	f := setupRouter(t, nil)
	snap := f.open(t, "sam_dev")
	path := "/conversations/" + snap.Conversation.ID

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, path, nil).Code)
}

func TestOtherSessionCannotReadConversation(t *testing.T) {
	f := setupRouter(t, nil)
	snap := f.open(t, "sam_dev")

	other, err := f.sessions.Login(context.Background(), "Other", "other")
	require.NoError(t, err)
	f.session = other.ID

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/conversations/"+snap.Conversation.ID, nil).Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		chatservice.ErrEmptyMessage:         http.StatusNoContent,
		chatservice.ErrConversationNotFound: http.StatusNotFound,
		sessionservice.ErrNotOwner:          http.StatusNotFound,
		sessionservice.ErrSessionNotFound:   http.StatusUnauthorized,
		chatservice.ErrReplyPending:         http.StatusConflict,
		chatservice.ErrRecordingActive:      http.StatusConflict,
		chatservice.ErrPersonaRequired:      http.StatusBadRequest,
		context.DeadlineExceeded:            http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusFor(err), err.Error())
	}
}
