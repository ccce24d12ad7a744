package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"

	"dm-go/internal/config"
	"dm-go/internal/imtypes"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	defaultSendBuffer = 256
)

var newline = []byte("\n")

// CommandHandler 处理客户端通过 WebSocket 上行的指令。userID 来自认证，不信任帧内容。
type CommandHandler func(ctx context.Context, userID uint, cmd imtypes.Command) error

// Client is a middleman between the websocket connection and the hub.
//
// send 永远不会被关闭，关闭信号走 done，这样投递方在任何时刻调用 Enqueue 都是安全的。
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	userID        uint
	handleCommand CommandHandler

	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

// NewClient 创建一个连接，配置中未设置的值使用默认值。
func NewClient(hub *Hub, conn *websocket.Conn, userID uint, handler CommandHandler, wsCfg config.WebSocketConfig) *Client {
	c := &Client{
		hub:            hub,
		conn:           conn,
		done:           make(chan struct{}),
		userID:         userID,
		handleCommand:  handler,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
		maxMessageSize: maxMessageSize,
	}
	bufferSize := wsCfg.SendBufferSize
	if bufferSize <= 0 {
		bufferSize = defaultSendBuffer
	}
	c.send = make(chan []byte, bufferSize)
	if wsCfg.WriteWaitSeconds > 0 {
		c.writeWait = time.Duration(wsCfg.WriteWaitSeconds) * time.Second
	}
	if wsCfg.PongWaitSeconds > 0 {
		c.pongWait = time.Duration(wsCfg.PongWaitSeconds) * time.Second
	}
	if wsCfg.PingPeriodSeconds > 0 {
		c.pingPeriod = time.Duration(wsCfg.PingPeriodSeconds) * time.Second
	}
	if wsCfg.MaxMessageSizeBytes > 0 {
		c.maxMessageSize = int64(wsCfg.MaxMessageSizeBytes)
	}
	return c
}

// UserID 返回连接所属的用户。
func (c *Client) UserID() uint {
	return c.userID
}

// Enqueue implements Connection.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close signals the pumps to stop (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// readPump pumps commands from the websocket connection to the handleCommand callback.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				jww.WARN.Printf("WebSocket 错误 (客户端: %d): %v", c.userID, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			jww.WARN.Printf("警告: 客户端 %d 发送了非文本消息类型: %d", c.userID, messageType)
			continue
		}

		var cmd imtypes.Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			jww.WARN.Printf("错误: 无法反序列化来自客户端 %d 的JSON: %v", c.userID, err)
			continue
		}
		if c.handleCommand == nil {
			jww.WARN.Printf("警告: Client %d 的 handleCommand 未初始化，指令未处理。", c.userID)
			continue
		}
		if err := c.handleCommand(context.Background(), c.userID, cmd); err != nil {
			jww.WARN.Printf("错误: 客户端 %d 的 %s 指令处理失败: %v", c.userID, cmd.Type, err)
		}
	}
}

// writePump pumps frames from the send buffer to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			// 把队列里已有的帧合并到同一个 websocket 消息中，用换行分隔
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs 把 HTTP 请求升级为 websocket，登记到 Hub 并启动读写协程。
func ServeWs(hub *Hub, handler CommandHandler, userID uint, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		jww.ERROR.Println("ServeWs - Upgrade失败:", err)
		return
	}
	client := NewClient(hub, conn, userID, handler, wsCfg)

	go client.writePump()
	if err := hub.Register(client); err != nil {
		jww.WARN.Printf("拒绝连接 UserID %d: %v", userID, err)
		return
	}
	go client.readPump()

	jww.INFO.Printf("客户端已连接: UserID %d", userID)
}
