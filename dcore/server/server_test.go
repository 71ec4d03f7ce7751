package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/dialog-core/dcore/config"
	"github.com/ZanzyTHEbar/dialog-core/dcore/conversation"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Conversation: config.ConversationConfig{
			MaxTurnsBeforeCompaction: 6,
			HistoryTrimSize:          40,
			GeneratorTimeout:         time.Second,
			GeneratorRetries:         1,
			RetryBackoff:             time.Millisecond,
			PollInterval:             2 * time.Millisecond,
			PollTimeout:              2 * time.Second,
		},
		Bridge: config.BridgeConfig{ListenAddr: "127.0.0.1:0"},
	}
	manager := conversation.NewManager(cfg, conversation.Deps{Logger: zerolog.Nop()})
	t.Cleanup(manager.Close)
	return New(cfg, manager, StaticPrompt("bridge test prompt"), zerolog.Nop())
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartThenSendRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/session/start", map[string]string{
		"conversation_id": "bridge-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	started := decode(t, rec)
	assert.Equal(t, "bridge-1", started["conversation_id"])
	assert.Equal(t, "running", started["status"])
	assert.NotEmpty(t, started["handle"])

	rec = doJSON(t, h, http.MethodPost, "/session/send", map[string]string{
		"conversation_id": "bridge-1",
		"message":         "hello bridge",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	sent := decode(t, rec)
	assert.Equal(t, "turn-1", sent["turn_id"])

	reply, ok := sent["reply"].(map[string]any)
	require.True(t, ok, "send must return the committed assistant item")
	assert.Equal(t, "assistant_message", reply["type"])
	assert.Contains(t, reply["content"], `You said: "hello bridge"`)
}

func TestStartIsIdempotentOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	first := decode(t, doJSON(t, h, http.MethodPost, "/session/start", map[string]string{
		"conversation_id": "bridge-idem",
	}))
	second := decode(t, doJSON(t, h, http.MethodPost, "/session/start", map[string]string{
		"conversation_id": "bridge-idem",
	}))
	assert.Equal(t, first["handle"], second["handle"])
}

func TestSendToUnknownConversationIs404(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/session/send", map[string]string{
		"conversation_id": "ghost",
		"message":         "hello?",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartWithoutIDIs400(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/session/start", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestItemsAndStateEndpoints(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/session/start", map[string]string{
		"conversation_id": "bridge-state",
		"message":         "seed turn",
	})

	require.Eventually(t, func() bool {
		rec := doJSON(t, h, http.MethodGet, "/session/bridge-state/items", nil)
		items, _ := decode(t, rec)["items"].([]any)
		return len(items) == 2
	}, 2*time.Second, 5*time.Millisecond)

	rec := doJSON(t, h, http.MethodGet, "/session/bridge-state/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode(t, rec)
	assert.Equal(t, "running", state["status"])
	assert.Equal(t, float64(2), state["next_turn_number"])
	assert.Equal(t, float64(1), state["total_user_turns"])
	assert.Equal(t, float64(2), state["last_sequence"])
}

func TestStateForUnknownConversationIs404(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/session/ghost/state", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReplyHookAcknowledges(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/reply", map[string]string{
		"conversation_id": "bridge-1",
		"turn_id":         "turn-9",
		"response":        "external reply",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestConcurrentSendsAllCommit(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/session/start", map[string]string{
		"conversation_id": "bridge-concurrent",
	})

	done := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func(n int) {
			rec := doJSON(t, h, http.MethodPost, "/session/send", map[string]string{
				"conversation_id": "bridge-concurrent",
				"message":         fmt.Sprintf("parallel message %d", n),
			})
			done <- rec.Code
		}(i)
	}
	for i := 0; i < 3; i++ {
		code := <-done
		assert.Contains(t, []int{http.StatusOK, http.StatusAccepted}, code)
	}

	require.Eventually(t, func() bool {
		rec := doJSON(t, h, http.MethodGet, "/session/bridge-concurrent/items", nil)
		items, _ := decode(t, rec)["items"].([]any)
		return len(items) == 6
	}, 2*time.Second, 5*time.Millisecond)
}
