package apiserver

import (
	"encoding/json"
	"net/http"

	"dm-go/internal/imtypes"
	"dm-go/internal/models"
	"dm-go/internal/services"
)

// MessageHandler 暴露私聊会话的 REST 接口。
type MessageHandler struct {
	conversations services.ConversationService
}

// NewMessageHandler 创建一个新的 MessageHandler 实例。
func NewMessageHandler(conversations services.ConversationService) *MessageHandler {
	return &MessageHandler{conversations: conversations}
}

// ListPeers 处理 GET /messages/users。
func (h *MessageHandler) ListPeers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	peers, err := h.conversations.ListPeers(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "获取会话列表失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, peers)
}

// Fetch 处理 GET /messages/{peerID}，副作用是把对方发来的消息标记为已读。
func (h *MessageHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	peerID, ok := pathID(w, r, "peerID")
	if !ok {
		return
	}
	messages, err := h.conversations.Fetch(r.Context(), userID, peerID)
	if err != nil {
		writeServiceError(w, err, "获取消息失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.ToWireList(messages))
}

// Send 处理 POST /messages/send/{peerID}。
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	peerID, ok := pathID(w, r, "peerID")
	if !ok {
		return
	}

	var req imtypes.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	message, err := h.conversations.Send(r.Context(), userID, peerID, req)
	if err != nil {
		writeServiceError(w, err, "发送消息失败")
		return
	}
	writeJSONResponse(w, http.StatusCreated, message.ToWire())
}

// MarkSeen 处理 PUT /messages/mark/{messageID}。
func (h *MessageHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "messageID")
	if !ok {
		return
	}
	message, err := h.conversations.MarkOneSeen(r.Context(), userID, messageID)
	if err != nil {
		writeServiceError(w, err, "标记已读失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, message.ToWire())
}

// Delete 处理 DELETE /messages/{messageID}。
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "messageID")
	if !ok {
		return
	}
	message, err := h.conversations.Delete(r.Context(), userID, messageID)
	if err != nil {
		writeServiceError(w, err, "删除消息失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, message.ToWire())
}
