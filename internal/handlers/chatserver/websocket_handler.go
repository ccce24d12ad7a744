package chatserver

import (
	"encoding/json"
	"net/http"

	jww "github.com/spf13/jwalterweatherman"

	"dm-go/internal/auth"
	"dm-go/internal/config"
	"dm-go/internal/imtypes"
	"dm-go/internal/middleware"
	"dm-go/internal/services"
	ws "dm-go/internal/websocket"
)

// WebSocketHandler 负责处理 WebSocket 连接请求。
type WebSocketHandler struct {
	hub           *ws.Hub
	conversations services.ConversationService
	jwtKey        string
	blacklist     auth.TokenBlacklist
	wsCfg         config.WebSocketConfig
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。conversations 为 nil 时连接只接收推送。
func NewWebSocketHandler(hub *ws.Hub, conversations services.ConversationService, authCfg config.AuthConfig, blacklist auth.TokenBlacklist, wsCfg config.WebSocketConfig) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		conversations: conversations,
		jwtKey:        authCfg.JWTSecretKey,
		blacklist:     blacklist,
		wsCfg:         wsCfg,
	}
}

// ServeWS 认证后把连接升级为 WebSocket 并登记到 Hub。不接受匿名连接。
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromRequest(r)
	if !ok {
		http.Error(w, "缺少认证令牌", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ValidateToken(r.Context(), token, h.jwtKey, h.blacklist)
	if err != nil {
		jww.INFO.Printf("WebSocket 连接尝试失败：令牌无效: %v", err)
		http.Error(w, "令牌无效", http.StatusUnauthorized)
		return
	}
	jww.DEBUG.Printf("用户 %s (ID: %d) 尝试连接 WebSocket", claims.Username, claims.UserID)

	var handler ws.CommandHandler
	if h.conversations != nil {
		handler = h.conversations.HandleCommand
	}
	ws.ServeWs(h.hub, handler, claims.UserID, w, r, h.wsCfg)
}

// OnlineUsers 返回当前实例上的在线用户快照，格式与 presence 事件相同。
func (h *WebSocketHandler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(imtypes.PresenceEvent(h.hub.Snapshot())); err != nil {
		jww.ERROR.Printf("无法编码在线用户列表: %v", err)
	}
}
