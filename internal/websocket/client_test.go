package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"dm-go/internal/config"
	"dm-go/internal/imtypes"
)

type recordedCommand struct {
	userID uint
	cmd    imtypes.Command
}

func startServer(t *testing.T, hub *Hub, handler CommandHandler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(r.URL.Query().Get("uid"), 10, 64)
		if err != nil {
			http.Error(w, "bad uid", http.StatusBadRequest)
			return
		}
		ServeWs(hub, handler, uint(id), w, r, config.WebSocketConfig{SendBufferSize: 8})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, uid uint) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?uid=" + strconv.FormatUint(uint64(uid), 10)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvents 读取下一条 websocket 消息；一条 websocket 消息中可能合并了多帧。
func readEvents(t *testing.T, conn *websocket.Conn) []imtypes.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out []imtypes.Event
	for _, line := range bytes.Split(data, newline) {
		var ev imtypes.Event
		require.NoError(t, json.Unmarshal(line, &ev))
		out = append(out, ev)
	}
	return out
}

func TestServeWs_RegistersAndPushesPresence(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	srv := startServer(t, hub, nil)

	conn := dial(t, srv, 7)
	evs := readEvents(t, conn)
	require.Equal(t, imtypes.EventPresence, evs[0].Type)
	require.Equal(t, []string{"7"}, evs[0].OnlineUsers)

	_, ok := hub.Lookup(7)
	require.True(t, ok)

	conn.Close()
	require.Eventually(t, func() bool {
		_, ok := hub.Lookup(7)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeWs_EnqueuedFramesReachClient(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	srv := startServer(t, hub, nil)

	conn := dial(t, srv, 3)
	readEvents(t, conn) // presence

	live, ok := hub.Lookup(3)
	require.True(t, ok)
	frame, err := json.Marshal(imtypes.NewMessageEvent(imtypes.Message{ID: "10", SenderID: "4", ReceiverID: "3", Text: "hi"}))
	require.NoError(t, err)
	require.True(t, live.Enqueue(frame))

	evs := readEvents(t, conn)
	require.Equal(t, imtypes.EventNewMessage, evs[0].Type)
	require.Equal(t, "hi", evs[0].Message.Text)
}

func TestServeWs_CommandsReachHandler(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	var mu sync.Mutex
	var got []recordedCommand
	handler := func(ctx context.Context, userID uint, cmd imtypes.Command) error {
		mu.Lock()
		got = append(got, recordedCommand{userID: userID, cmd: cmd})
		mu.Unlock()
		return nil
	}
	srv := startServer(t, hub, handler)

	conn := dial(t, srv, 5)
	readEvents(t, conn)
	require.NoError(t, conn.WriteJSON(imtypes.Command{Type: imtypes.CommandSend, ReceiverID: "6", Text: "yo"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, uint(5), got[0].userID)
	require.Equal(t, "yo", got[0].cmd.Text)
	require.Equal(t, "6", got[0].cmd.ReceiverID)
}

func TestServeWs_ReplacedConnectionIsClosed(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	srv := startServer(t, hub, nil)

	first := dial(t, srv, 9)
	readEvents(t, first)
	second := dial(t, srv, 9)
	readEvents(t, second)

	// 旧连接会收到关闭帧 (中间可能先收到一次 presence)
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	var err error
	for err == nil {
		_, _, err = first.ReadMessage()
	}
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	live, ok := hub.Lookup(9)
	require.True(t, ok)
	require.Equal(t, uint(9), live.UserID())
}
