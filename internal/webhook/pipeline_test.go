package webhook

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagateway/internal/admin"
	"wagateway/internal/ratelimit"
	"wagateway/internal/store"
)

type fakeResponder struct {
	reply       string
	err         error
	lastHistory []*store.Message
	lastText    string
}

func (f *fakeResponder) Reply(ctx context.Context, history []*store.Message, userText string) (string, error) {
	f.lastHistory = history
	f.lastText = userText
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type sentChunk struct {
	PhoneNumberID string
	To            string
	Text          string
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []sentChunk
	err    error
	failAt int // 1-based chunk index to fail at, 0 = use err for all
}

func (f *fakeTransport) SendText(ctx context.Context, phoneNumberID, recipientID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil && (f.failAt == 0 || len(f.sent)+1 == f.failAt) {
		return f.err
	}
	f.sent = append(f.sent, sentChunk{phoneNumberID, recipientID, text})
	return nil
}

func (f *fakeTransport) chunks() []sentChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentChunk(nil), f.sent...)
}

func testConfig() Config {
	return Config{
		MaxMessageLength: 4000,
		AITimeout:        time.Second,
		SendTimeout:      time.Second,
		ChunkDelay:       0,
	}
}

func setupPipeline(t *testing.T, responder Responder, transport Transport, adminUsers ...string) (*Pipeline, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 10, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var dispatcher AdminDispatcher
	if len(adminUsers) > 0 {
		dispatcher = admin.New(st, 24*time.Hour, adminUsers, nil)
	}

	p := New(st, ratelimit.New(30), dispatcher, responder, transport, testConfig(), nil)
	return p, st
}

func inbound(from, text string) InboundMessage {
	return InboundMessage{
		From:          from,
		Text:          text,
		MessageID:     "wamid.test",
		PhoneNumberID: "1055512345",
	}
}

func TestPipeline_HelloExchange(t *testing.T) {
	responder := &fakeResponder{reply: "Hi! How can I help?"}
	transport := &fakeTransport{}
	p, st := setupPipeline(t, responder, transport)

	outcome, err := p.Handle(context.Background(), inbound("15550001111", "Hello"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)

	// Both turns of the genuine exchange are persisted
	conv, err := st.GetConversation(context.Background(), "15550001111")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, store.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Hello", conv.Messages[0].Content)
	assert.Equal(t, "wamid.test", conv.Messages[0].ExternalID)
	assert.Equal(t, store.RoleAssistant, conv.Messages[1].Role)

	// Short reply goes out as a single chunk
	chunks := transport.chunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, "Hi! How can I help?", chunks[0].Text)
	assert.Equal(t, "15550001111", chunks[0].To)
	assert.Equal(t, "1055512345", chunks[0].PhoneNumberID)
}

func TestPipeline_HistoryReachesResponder(t *testing.T) {
	responder := &fakeResponder{reply: "ok"}
	transport := &fakeTransport{}
	p, _ := setupPipeline(t, responder, transport)

	ctx := context.Background()
	_, err := p.Handle(ctx, inbound("15550001111", "first"))
	require.NoError(t, err)
	_, err = p.Handle(ctx, inbound("15550001111", "second"))
	require.NoError(t, err)

	// Second turn sees the first exchange as history
	require.Len(t, responder.lastHistory, 2)
	assert.Equal(t, "first", responder.lastHistory[0].Content)
	assert.Equal(t, "second", responder.lastText)
}

func TestPipeline_RateLimited(t *testing.T) {
	responder := &fakeResponder{reply: "should not be called"}
	transport := &fakeTransport{}

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 10, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p := New(st, ratelimit.New(1), nil, responder, transport, testConfig(), nil)

	ctx := context.Background()
	_, err = p.Handle(ctx, inbound("15550001111", "one"))
	require.NoError(t, err)

	outcome, err := p.Handle(ctx, inbound("15550001111", "two"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRateLimited, outcome)

	// The sender got the fixed message, nothing more was persisted
	chunks := transport.chunks()
	require.Len(t, chunks, 2)
	assert.Equal(t, rateLimitReply, chunks[1].Text)

	conv, err := st.GetConversation(ctx, "15550001111")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount, "rejected turn must not be persisted")
}

func TestPipeline_AIFailureFallsBack(t *testing.T) {
	responder := &fakeResponder{err: errors.New("model overloaded")}
	transport := &fakeTransport{}
	p, st := setupPipeline(t, responder, transport)

	outcome, err := p.Handle(context.Background(), inbound("15550001111", "Hello"))
	require.NoError(t, err, "AI failure must not surface as a pipeline error")
	assert.Equal(t, OutcomeReplied, outcome)

	// The user still gets a response
	chunks := transport.chunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, aiFailureReply, chunks[0].Text)

	// But the failed exchange is not persisted
	conv, err := st.GetConversation(context.Background(), "15550001111")
	require.NoError(t, err)
	assert.Zero(t, conv.MessageCount)
}

func TestPipeline_StorageErrorPropagates(t *testing.T) {
	responder := &fakeResponder{reply: "ok"}
	transport := &fakeTransport{}
	p, st := setupPipeline(t, responder, transport)

	// Simulate the backing store going away mid-flight
	require.NoError(t, st.Close())

	_, err := p.Handle(context.Background(), inbound("15550001111", "Hello"))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStorage)
}

func TestPipeline_DeliveryFailureIsTerminal(t *testing.T) {
	responder := &fakeResponder{reply: "hello back"}
	transport := &fakeTransport{err: errors.New("network down")}
	p, st := setupPipeline(t, responder, transport)

	outcome, err := p.Handle(context.Background(), inbound("15550001111", "Hello"))
	require.NoError(t, err, "delivery failures stay operator-visible only")
	assert.Equal(t, OutcomeDeliveryFailed, outcome)

	// The exchange itself was genuine, so it is persisted
	conv, err := st.GetConversation(context.Background(), "15550001111")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)
}

func TestPipeline_LongReplyIsChunkedInOrder(t *testing.T) {
	reply := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)
	responder := &fakeResponder{reply: reply}
	transport := &fakeTransport{}

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 10, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := testConfig()
	cfg.MaxMessageLength = 200
	p := New(st, ratelimit.New(30), nil, responder, transport, cfg, nil)

	outcome, err := p.Handle(context.Background(), inbound("15550001111", "tell me a story"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)

	chunks := transport.chunks()
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c.Text)), 200)
		assert.NotEmpty(t, c.Text)
	}

	// Order is preserved: chunk contents concatenate back to the reply
	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c.Text)
		rebuilt.WriteString(" ")
	}
	assert.Equal(t,
		strings.Join(strings.Fields(reply), " "),
		strings.Join(strings.Fields(rebuilt.String()), " "))
}

func TestPipeline_AdminCommandSkipsAIAndPersistence(t *testing.T) {
	responder := &fakeResponder{reply: "chat reply"}
	transport := &fakeTransport{}
	p, st := setupPipeline(t, responder, transport, "15550009999")

	outcome, err := p.Handle(context.Background(), inbound("15550009999", "/admin stats"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdminHandled, outcome)

	chunks := transport.chunks()
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "Conversations: 0")

	// Operational exchanges never enter the AI history
	conv, err := st.GetConversation(context.Background(), "15550009999")
	require.NoError(t, err)
	assert.Zero(t, conv.MessageCount)
	assert.Empty(t, responder.lastText, "AI must not be called for admin commands")
}

func TestPipeline_NonAdminGetsChatBehaviorForAdminText(t *testing.T) {
	responder := &fakeResponder{reply: "I can't help with that."}
	transport := &fakeTransport{}
	p, st := setupPipeline(t, responder, transport, "15550009999")

	outcome, err := p.Handle(context.Background(), inbound("15550001111", "/admin stats"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)

	// Standard chat path: AI called, exchange persisted, no admin reply
	assert.Equal(t, "/admin stats", responder.lastText)
	chunks := transport.chunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, "I can't help with that.", chunks[0].Text)

	conv, err := st.GetConversation(context.Background(), "15550001111")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)
}
