package websocket

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	jww "github.com/spf13/jwalterweatherman"

	"dm-go/internal/imtypes"
	"dm-go/internal/metrics"
)

// ErrHubClosed 在 Hub 关闭后注册新连接时返回。
var ErrHubClosed = errors.New("hub is closed")

// Connection 是 Hub 持有的一条在线连接。
type Connection interface {
	UserID() uint
	// Enqueue 非阻塞地把一帧放入发送缓冲区。缓冲区已满或连接已关闭时返回 false。
	Enqueue(frame []byte) bool
	// Close 通知连接退出，可以重复调用。
	Close()
}

// Hub 维护 userID -> 连接 的在线表 (presence)。
//
// 每个用户同一时刻最多一条连接，后注册的连接替换并关闭旧连接。
// 所有读写都在同一把锁下完成，在线快照的推送也在锁内进行，
// 因此每个连接收到的 presence 事件顺序与在线表的变化顺序一致。
type Hub struct {
	mu      sync.Mutex
	clients map[uint]Connection
	closed  bool
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[uint]Connection),
	}
}

// Register 把连接登记为该用户的当前连接，替换并关闭已有的旧连接，然后向所有连接推送在线快照。
func (h *Hub) Register(conn Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		conn.Close()
		return ErrHubClosed
	}

	userID := conn.UserID()
	if existing, ok := h.clients[userID]; ok && existing != conn {
		jww.WARN.Printf("用户 %d 已有连接，关闭旧连接并注册新连接。", userID)
		existing.Close()
	}
	h.clients[userID] = conn
	jww.INFO.Printf("客户端已注册: UserID %d", userID)

	h.broadcastPresenceLocked()
	return nil
}

// Unregister 只有在在线表仍指向这条连接时才移除映射，避免已被替换的旧连接把新连接注销掉。
// 连接本身总是会被关闭。
func (h *Hub) Unregister(conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()
	userID := conn.UserID()
	stored, ok := h.clients[userID]
	if !ok || stored != conn {
		jww.DEBUG.Printf("忽略过期连接的注销: UserID %d", userID)
		return
	}
	delete(h.clients, userID)
	jww.INFO.Printf("客户端已注销: UserID %d", userID)

	h.broadcastPresenceLocked()
}

// Lookup 返回用户当前的连接。
func (h *Hub) Lookup(userID uint) (Connection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.clients[userID]
	return conn, ok
}

// Snapshot 返回当前在线的用户 ID，按 ID 升序。
func (h *Hub) Snapshot() []uint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.onlineLocked()
}

// Close 关闭所有连接，之后的 Register 都会失败。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for userID, conn := range h.clients {
		conn.Close()
		delete(h.clients, userID)
	}
	metrics.OnlineUsers.Set(0)
	jww.INFO.Println("WebSocket Hub closed.")
}

func (h *Hub) onlineLocked() []uint {
	ids := make([]uint, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// broadcastPresenceLocked 向所有连接推送在线快照。缓冲区满的连接被移出在线表，
// 此时在线表已经变化，需要再推一次新的快照。
func (h *Hub) broadcastPresenceLocked() {
	for {
		frame, err := json.Marshal(imtypes.PresenceEvent(h.onlineLocked()))
		if err != nil {
			jww.ERROR.Printf("错误: 无法序列化在线快照: %v", err)
			metrics.EventsDropped.WithLabelValues(string(imtypes.EventPresence), metrics.ReasonEncode).Inc()
			return
		}

		evicted := false
		for userID, conn := range h.clients {
			if conn.Enqueue(frame) {
				metrics.EventsDelivered.WithLabelValues(string(imtypes.EventPresence)).Inc()
				continue
			}
			jww.WARN.Printf("警告: UserID %d 的发送通道已满或关闭，移除客户端。", userID)
			metrics.EventsDropped.WithLabelValues(string(imtypes.EventPresence), metrics.ReasonBufferFull).Inc()
			delete(h.clients, userID)
			conn.Close()
			evicted = true
		}
		metrics.OnlineUsers.Set(float64(len(h.clients)))

		if !evicted {
			return
		}
	}
}
