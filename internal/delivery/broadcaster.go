// Package delivery 把服务端事件推送给在线的接收者。
//
// 投递是尽力而为的: 接收者不在线时静默丢弃，没有离线队列也不重试。
// 客户端重新连接或打开会话时通过拉取消息补齐状态。
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jww "github.com/spf13/jwalterweatherman"

	"dm-go/internal/imtypes"
	"dm-go/internal/metrics"
	"dm-go/internal/websocket"
)

var errSendBufferFull = errors.New("send buffer full, connection evicted")

// Broadcaster 把一个事件推送给指定用户。
// Notify 不返回错误，接收者不在线不是调用方需要处理的情况。
type Broadcaster interface {
	Notify(ctx context.Context, event imtypes.Event, targetUserID uint)
}

// presenceHub 是 HubBroadcaster 需要的 Hub 能力。
type presenceHub interface {
	Lookup(userID uint) (websocket.Connection, bool)
	Unregister(conn websocket.Connection)
}

// HubBroadcaster 直接投递到本进程 Hub 上的连接。
type HubBroadcaster struct {
	hub presenceHub
}

// NewHubBroadcaster creates a broadcaster over the local hub.
func NewHubBroadcaster(hub *websocket.Hub) *HubBroadcaster {
	return &HubBroadcaster{hub: hub}
}

// Notify implements Broadcaster. 接收者不在线 (ErrTransportUnavailable) 时是 no-op。
func (b *HubBroadcaster) Notify(ctx context.Context, event imtypes.Event, targetUserID uint) {
	_ = b.Deliver(ctx, event, targetUserID)
}

// Deliver 把事件放进目标连接的发送缓冲区。
// 目标不在线返回 ErrTransportUnavailable；序列化失败或缓冲区已满时返回其他错误，事件都已丢弃。
func (b *HubBroadcaster) Deliver(ctx context.Context, event imtypes.Event, targetUserID uint) error {
	eventType := string(event.Type)

	conn, ok := b.hub.Lookup(targetUserID)
	if !ok {
		metrics.EventsDropped.WithLabelValues(eventType, metrics.ReasonOffline).Inc()
		return fmt.Errorf("user %d: %w", targetUserID, imtypes.ErrTransportUnavailable)
	}

	frame, err := json.Marshal(event)
	if err != nil {
		jww.ERROR.Printf("错误: 无法序列化 %s 事件 (UserID %d): %v", eventType, targetUserID, err)
		metrics.EventsDropped.WithLabelValues(eventType, metrics.ReasonEncode).Inc()
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	if !conn.Enqueue(frame) {
		// 缓冲区满说明客户端跟不上，断开后由客户端重连并重新拉取
		jww.WARN.Printf("警告: UserID %d 的发送通道已满，丢弃 %s 事件并断开连接。", targetUserID, eventType)
		metrics.EventsDropped.WithLabelValues(eventType, metrics.ReasonBufferFull).Inc()
		b.hub.Unregister(conn)
		return errSendBufferFull
	}
	metrics.EventsDelivered.WithLabelValues(eventType).Inc()
	return nil
}
