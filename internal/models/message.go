package models

import (
	"sort"
	"strings"

	"dm-go/internal/imtypes"
)

// DeletedMessageText 是被发送者删除后的消息正文 (墓碑)。
const DeletedMessageText = "This message was deleted"

// Message 代表两个用户之间的一条私聊消息。
//
// 创建后只有两个字段会变化:
//   - Seen: 只能由接收者从 false 置为 true
//   - Deleted: 只能由发送者从 false 置为 true，同时清空正文
//
// 记录本身永远不会被物理删除。
type Message struct {
	BaseModel
	SenderID   uint   `gorm:"index:idx_messages_pair,priority:1;not null" json:"senderId"`
	ReceiverID uint   `gorm:"index:idx_messages_pair,priority:2;index;not null" json:"receiverId"`
	Text       string `gorm:"type:text" json:"text"`
	Image      string `gorm:"type:text" json:"image"` // 不透明的图片负载 (URL 或编码后的数据)
	Seen       bool   `gorm:"not null;default:false" json:"seen"`
	Deleted    bool   `gorm:"not null;default:false" json:"deleted"`
}

// TableName 指定 Message 模型的表名。
func (Message) TableName() string {
	return "messages"
}

// HasBody 判断消息是否携带了文本或图片。
func (m *Message) HasBody() bool {
	return strings.TrimSpace(m.Text) != "" || m.Image != ""
}

// PeerOf 返回这条消息中 userID 的对端；userID 不是参与者时返回 0。
func (m *Message) PeerOf(userID uint) uint {
	switch userID {
	case m.SenderID:
		return m.ReceiverID
	case m.ReceiverID:
		return m.SenderID
	default:
		return 0
	}
}

// Tombstone 把消息变成已删除状态。
func (m *Message) Tombstone() {
	m.Deleted = true
	m.Text = DeletedMessageText
	m.Image = ""
}

// ToWire 转换为传输层的消息结构。
func (m *Message) ToWire() imtypes.Message {
	return imtypes.Message{
		ID:         m.IDString(),
		SenderID:   imtypes.FormatID(m.SenderID),
		ReceiverID: imtypes.FormatID(m.ReceiverID),
		Text:       m.Text,
		Image:      m.Image,
		Seen:       m.Seen,
		Deleted:    m.Deleted,
		CreatedAt:  m.CreatedAt,
	}
}

// ToWireList 批量转换。
func ToWireList(msgs []*Message) []imtypes.Message {
	out := make([]imtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ToWire())
	}
	return out
}

// SortNewestFirst 按 CreatedAt 倒序排列，时间相同按 ID 倒序，保证显示顺序稳定。
func SortNewestFirst(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].ID > msgs[j].ID
	})
}
