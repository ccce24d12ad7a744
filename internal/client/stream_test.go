package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dm-go/internal/config"
	"dm-go/internal/imtypes"
	ws "dm-go/internal/websocket"
)

// startChatServer 启动一个只认 "Bearer tok-<id>" 的最小 chat 服务。
func startChatServer(t *testing.T, hub *ws.Hub, handler ws.CommandHandler) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		id, err := imtypes.ParseID(strings.TrimPrefix(token, "tok-"))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws.ServeWs(hub, handler, id, w, r, config.WebSocketConfig{SendBufferSize: 16})
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStream_AppliesPushedEvents(t *testing.T) {
	hub := ws.NewHub()
	t.Cleanup(hub.Close)

	var mu sync.Mutex
	var commands []imtypes.Command
	url := startChatServer(t, hub, func(ctx context.Context, userID uint, cmd imtypes.Command) error {
		mu.Lock()
		defer mu.Unlock()
		commands = append(commands, cmd)
		return nil
	})

	api := newFakeAPI()
	state := NewState(api, "1")
	_, err := state.Open(context.Background(), "2")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := Dial(ctx, url, "tok-1")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx, state.ApplyEvent) }()

	require.Eventually(t, func() bool { return state.IsOnline("1") }, 2*time.Second, 10*time.Millisecond)

	conn, ok := hub.Lookup(1)
	require.True(t, ok)
	for _, m := range []imtypes.Message{msg("10", "2", "1", "a", 0), msg("11", "2", "1", "b", 1)} {
		data, err := json.Marshal(imtypes.NewMessageEvent(m))
		require.NoError(t, err)
		require.True(t, conn.Enqueue(data))
	}

	require.Eventually(t, func() bool { return len(state.Messages("2")) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"11", "10"}, ids(state.Messages("2")))
	require.Equal(t, []string{"10", "11"}, api.markedIDs())

	require.NoError(t, stream.SendCommand(imtypes.Command{Type: imtypes.CommandMarkSeen, MessageID: "10"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(commands) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestDial_Unauthorized(t *testing.T) {
	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	url := startChatServer(t, hub, nil)

	_, err := Dial(context.Background(), url, "garbage")
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}
