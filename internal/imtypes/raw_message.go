package imtypes

// SendMessageRequest 是发送消息的请求体。text 和 image 至少要有一个。
type SendMessageRequest struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// CommandType 是客户端通过 WebSocket 发给服务端的指令类型。
type CommandType string

const (
	CommandSend     CommandType = "send"
	CommandMarkSeen CommandType = "markSeen"
)

// Command 是客户端上行的 WebSocket 帧。
// send: ReceiverID + Text/Image；markSeen: MessageID。
type Command struct {
	Type       CommandType `json:"type"`
	ReceiverID string      `json:"receiverId,omitempty"`
	MessageID  string      `json:"messageId,omitempty"`
	Text       string      `json:"text,omitempty"`
	Image      string      `json:"image,omitempty"`
}
