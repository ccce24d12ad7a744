package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"

	"dm-go/internal/imtypes"
)

// EventHandler 处理一条服务端推送事件。
type EventHandler func(ctx context.Context, ev imtypes.Event)

// Stream 是到 chatserver 的 WebSocket 事件流。
type Stream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial 连接到 wsURL (例如 ws://localhost:8080/ws/chat)，令牌放在 Authorization 头里。
func Dial(ctx context.Context, wsURL, token string) (*Stream, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	return &Stream{conn: conn}, nil
}

// Run 持续读取事件并交给 handle，直到连接关闭或 ctx 取消。
// 服务端会把排队的多个事件用换行符拼成一帧。
func (s *Stream) Run(ctx context.Context, handle EventHandler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		for _, frame := range bytes.Split(data, []byte{'\n'}) {
			frame = bytes.TrimSpace(frame)
			if len(frame) == 0 {
				continue
			}
			var ev imtypes.Event
			if err := json.Unmarshal(frame, &ev); err != nil {
				jww.WARN.Printf("无法解析推送事件: %v", err)
				continue
			}
			handle(ctx, ev)
		}
	}
}

// SendCommand 通过 WebSocket 上行一条指令。
func (s *Stream) SendCommand(cmd imtypes.Command) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(cmd)
}

// Close 发送关闭帧后断开连接。
func (s *Stream) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}
