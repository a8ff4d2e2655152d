package controllers

import (
	"context"
	"errors"
	"fixit/fixit/services/llm"
	"fixit/fixit/services/quota"
	"fixit/fixit/sources/sqlite"
	"fixit/fixit/sources/usage"
	"fixit/fixit/utils/types"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	mu         sync.Mutex
	calls      atomic.Int32
	reply      string
	err        error
	configured bool
	lastPrompt string
	lastMsgs   []llm.Message
}

func newStub(reply string) *stubCompleter {
	return &stubCompleter{reply: reply, configured: true}
}

func (s *stubCompleter) Configured() bool { return s.configured }

func (s *stubCompleter) Complete(_ context.Context, prompt string, msgs []llm.Message) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.lastPrompt = prompt
	s.lastMsgs = msgs
	s.mu.Unlock()
	return s.reply, s.err
}

type brokenStore struct {
	usage.MemoryStore
}

func (*brokenStore) UsageToday(context.Context, string) (int, error) {
	return 0, usage.Wrap("usage today", assert.AnError)
}

func userMsg(content string) types.ChatMessage {
	return types.ChatMessage{Role: llm.RoleUser, Content: content}
}

func newChat(t *testing.T, limit int, up Completer) (*ChatController, *usage.MemoryStore) {
	t.Helper()
	store := usage.NewMemoryStore()
	return NewChatController(quota.NewPolicy(store, limit), up), store
}

func usedToday(t *testing.T, store usage.Store, userID string) int {
	t.Helper()
	n, err := store.UsageToday(context.Background(), userID)
	require.NoError(t, err)
	return n
}

func TestChatSuccess(t *testing.T) {
	up := newStub("Try turning it off and on again.")
	ctrl, store := newChat(t, 3, up)

	resp, err := ctrl.Chat(context.Background(), types.ChatRequest{
		Messages: []types.ChatMessage{userMsg("my laptop is slow")},
		UserID:   " u1 ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Try turning it off and on again.", resp.Content)
	assert.Equal(t, types.UsageSummary{Remaining: 2, Limit: 3, Used: 1}, resp.Usage)
	assert.Equal(t, SystemPrompt, up.lastPrompt)
	assert.Equal(t, 1, usedToday(t, store, "u1"))
}

func TestChatCustomSystemPrompt(t *testing.T) {
	up := newStub("ok")
	ctrl := NewChatController(quota.NewPolicy(usage.NewMemoryStore(), 5), up, WithSystemPrompt("be brief"))

	_, err := ctrl.Chat(context.Background(), types.ChatRequest{Messages: []types.ChatMessage{userMsg("hi")}, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "be brief", up.lastPrompt)
}

func TestChatSanitizesBeforeUpstream(t *testing.T) {
	up := newStub("ok")
	ctrl, _ := newChat(t, 10, up)

	msgs := make([]types.ChatMessage, 60)
	for i := range msgs {
		msgs[i] = userMsg("message " + strings.Repeat("x", i))
	}
	msgs[0].Content = strings.Repeat("é", MaxContentChars+2000)

	_, err := ctrl.Chat(context.Background(), types.ChatRequest{Messages: msgs, UserID: "u1"})
	require.NoError(t, err)

	require.Len(t, up.lastMsgs, MaxMessages)
	assert.Equal(t, MaxContentChars, utf8.RuneCountInString(up.lastMsgs[0].Content))
	assert.True(t, utf8.ValidString(up.lastMsgs[0].Content))
	for i := 1; i < MaxMessages; i++ {
		assert.Equal(t, msgs[i].Content, up.lastMsgs[i].Content, "order preserved")
	}
}

func TestSanitizeMessagesDropsIncomplete(t *testing.T) {
	out := SanitizeMessages([]types.ChatMessage{
		{Role: llm.RoleUser, Content: "a"},
		{Role: "", Content: "b"},
		{Role: llm.RoleAssistant, Content: ""},
		{Role: llm.RoleAssistant, Content: "c"},
	})
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "a"},
		{Role: llm.RoleAssistant, Content: "c"},
	}, out)
}

func TestChatUpstreamFailureDoesNotConsumeQuota(t *testing.T) {
	up := newStub("")
	up.err = &llm.UpstreamError{StatusCode: http.StatusServiceUnavailable, Message: "overloaded"}
	ctrl, store := newChat(t, 1, up)
	req := types.ChatRequest{Messages: []types.ChatMessage{userMsg("hi")}, UserID: "u1"}

	_, err := ctrl.Chat(context.Background(), req)
	var ue *llm.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 0, usedToday(t, store, "u1"))

	// The released slot is usable again.
	up.err = nil
	up.reply = "fixed"
	resp, err := ctrl.Chat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Usage.Used)
	assert.Equal(t, 0, resp.Usage.Remaining)
}

func TestChatTransientFailure(t *testing.T) {
	up := newStub("")
	up.err = &llm.TransientError{Err: context.DeadlineExceeded}
	ctrl, store := newChat(t, 5, up)

	_, err := ctrl.Chat(context.Background(), types.ChatRequest{Messages: []types.ChatMessage{userMsg("hi")}, UserID: "u1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, usedToday(t, store, "u1"))
	rec, ok := store.Record("u1", usage.Day(time.Now()))
	if ok {
		assert.Equal(t, 0, rec.Reserved)
	}
}

func TestChatQuotaExceeded(t *testing.T) {
	up := newStub("answer")
	ctrl, store := newChat(t, 3, up)
	req := types.ChatRequest{Messages: []types.ChatMessage{userMsg("hi")}, UserID: "u1"}

	for i := 1; i <= 3; i++ {
		resp, err := ctrl.Chat(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, i, resp.Usage.Used)
	}

	_, err := ctrl.Chat(context.Background(), req)
	var qe *QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Equal(t, 3, qe.Snapshot.Used)
	assert.Equal(t, 0, qe.Snapshot.Remaining)
	assert.Equal(t, 3, qe.Snapshot.Limit)
	assert.False(t, qe.Snapshot.ResetTime.IsZero())

	assert.EqualValues(t, 3, up.calls.Load(), "no upstream call once exhausted")
	assert.Equal(t, 3, usedToday(t, store, "u1"))
}

func TestChatValidation(t *testing.T) {
	cases := []struct {
		name  string
		req   types.ChatRequest
		paths []string
	}{
		{"no messages", types.ChatRequest{UserID: "u1"}, []string{"messages"}},
		{"empty content", types.ChatRequest{Messages: []types.ChatMessage{userMsg("  ")}, UserID: "u1"}, []string{"messages[0].content"}},
		{"bad role", types.ChatRequest{Messages: []types.ChatMessage{{Role: "tool", Content: "x"}}, UserID: "u1"}, []string{"messages[0].role"}},
		{"no user", types.ChatRequest{Messages: []types.ChatMessage{userMsg("x")}, UserID: "   "}, []string{"userId"}},
		{"several", types.ChatRequest{Messages: []types.ChatMessage{userMsg("x"), {Role: "bot"}}}, []string{"messages[1].content", "messages[1].role", "userId"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			up := newStub("never")
			ctrl, store := newChat(t, 5, up)

			_, err := ctrl.Chat(context.Background(), tc.req)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			var paths []string
			for _, d := range ve.Details {
				paths = append(paths, d.Path)
			}
			assert.Equal(t, tc.paths, paths)
			assert.Zero(t, up.calls.Load())
			assert.Equal(t, 0, usedToday(t, store, "u1"))
		})
	}
}

func TestChatNotConfigured(t *testing.T) {
	up := newStub("")
	up.configured = false
	ctrl, store := newChat(t, 1, up)

	_, err := ctrl.Chat(context.Background(), types.ChatRequest{Messages: []types.ChatMessage{userMsg("hi")}, UserID: "u1"})
	assert.ErrorIs(t, err, ErrUpstreamNotConfigured)
	assert.Zero(t, up.calls.Load())
	assert.Equal(t, 0, usedToday(t, store, "u1"))

	_, err = quota.NewPolicy(store, 1).Admit(context.Background(), "u1")
	assert.NoError(t, err, "slot was released")
}

func TestChatStorageFailureFailsClosed(t *testing.T) {
	up := newStub("never")
	ctrl := NewChatController(quota.NewPolicy(&brokenStore{}, 5), up)

	_, err := ctrl.Chat(context.Background(), types.ChatRequest{Messages: []types.ChatMessage{userMsg("hi")}, UserID: "u1"})
	assert.ErrorIs(t, err, usage.ErrStorage)
	assert.Zero(t, up.calls.Load())
}

func TestChatConcurrentRequestsDoNotOverAdmit(t *testing.T) {
	const limit, callers = 5, 20
	up := newStub("ok")
	ctrl, store := newChat(t, limit, up)

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ctrl.Chat(context.Background(), types.ChatRequest{Messages: []types.ChatMessage{userMsg("hi")}, UserID: "u1"})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, quota.ErrQuotaExceeded):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, limit, ok.Load())
	assert.EqualValues(t, callers-limit, rejected.Load())
	assert.EqualValues(t, limit, up.calls.Load())
	assert.Equal(t, limit, usedToday(t, store, "u1"))
}

func TestChatCommitSurvivesCancelledRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	up := &cancellingCompleter{cancel: cancel}
	ctrl, store := newChat(t, 2, up)

	resp, err := ctrl.Chat(ctx, types.ChatRequest{Messages: []types.ChatMessage{userMsg("hi")}, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, 1, usedToday(t, store, "u1"))
}

type cancellingCompleter struct{ cancel context.CancelFunc }

func (c *cancellingCompleter) Configured() bool { return true }

func (c *cancellingCompleter) Complete(context.Context, string, []llm.Message) (string, error) {
	c.cancel()
	return "done", nil
}

func TestChatCancelledRequestStillAnswersOnSQLite(t *testing.T) {
	store, err := sqlite.OpenStore(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	ctrl := NewChatController(quota.NewPolicy(store, 2), &cancellingCompleter{cancel: cancel})

	resp, err := ctrl.Chat(ctx, types.ChatRequest{Messages: []types.ChatMessage{userMsg("hi")}, UserID: "u1"})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, 1, resp.Usage.Used)
	assert.Equal(t, 1, resp.Usage.Remaining)
	assert.Equal(t, 1, usedToday(t, store, "u1"))
}

func TestChatRejectedByInFlightSlotReportsNothingRemaining(t *testing.T) {
	up := newStub("answer")
	ctrl, store := newChat(t, 2, up)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "u1", 2)
	require.NoError(t, err)
	_, err = ctrl.Chat(ctx, types.ChatRequest{Messages: []types.ChatMessage{userMsg("hi")}, UserID: "u1"})
	require.NoError(t, err)

	_, err = ctrl.Chat(ctx, types.ChatRequest{Messages: []types.ChatMessage{userMsg("hi")}, UserID: "u1"})
	var qe *QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 1, qe.Snapshot.Used)
	assert.Equal(t, 0, qe.Snapshot.Remaining)

	require.NoError(t, store.Rollback(ctx, res))
}
