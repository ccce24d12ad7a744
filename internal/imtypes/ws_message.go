package imtypes

import (
	"strconv"
	"time"
)

// EventType 是服务端推送给客户端的事件类型。
type EventType string

const (
	EventNewMessage     EventType = "newMessage"
	EventMessageUpdated EventType = "messageUpdated" // 已读状态变化和删除都走这个事件
	EventPresence       EventType = "presence"
)

// Message 是消息在 HTTP / WebSocket 上的传输形式。ID 统一用字符串，
// 这样客户端的临时 ID (tmp-xxx) 和服务端 ID 可以放在同一个字段里。
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	Seen       bool      `json:"seen"`
	Deleted    bool      `json:"deleted"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Event is one frame pushed to a live connection.
type Event struct {
	Type        EventType `json:"type"`
	Message     *Message  `json:"message,omitempty"`
	OnlineUsers []string  `json:"onlineUsers,omitempty"`
}

// NewMessageEvent 构造 newMessage 事件。
func NewMessageEvent(m Message) Event {
	return Event{Type: EventNewMessage, Message: &m}
}

// MessageUpdatedEvent 构造 messageUpdated 事件。
func MessageUpdatedEvent(m Message) Event {
	return Event{Type: EventMessageUpdated, Message: &m}
}

// PresenceEvent 构造在线用户快照事件。
func PresenceEvent(online []uint) Event {
	ids := make([]string, 0, len(online))
	for _, id := range online {
		ids = append(ids, FormatID(id))
	}
	return Event{Type: EventPresence, OnlineUsers: ids}
}

// PeerSummary 是会话列表中的一项。
type PeerSummary struct {
	UserID        string     `json:"userId"`
	Username      string     `json:"username"`
	Nickname      string     `json:"nickname,omitempty"`
	AvatarURL     string     `json:"avatarUrl,omitempty"`
	Bio           string     `json:"bio,omitempty"`
	UnseenCount   int64      `json:"unseenCount"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

// FormatID 把数据库 ID 转成传输用的字符串。
func FormatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID 解析传输层的 ID。临时 ID 或非法字符串返回 ErrValidation。
func ParseID(s string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, ErrValidation
	}
	return uint(v), nil
}
