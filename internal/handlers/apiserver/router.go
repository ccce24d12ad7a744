package apiserver

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"dm-go/internal/auth"
	"dm-go/internal/middleware"
)

// RouterConfig 汇总 API 路由需要的处理器和认证依赖。
type RouterConfig struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Messages *MessageHandler
	Upload   *UploadHandler

	JWTSecretKey string
	Blacklist    auth.TokenBlacklist

	// UploadDir 非空时以 UploadURLPrefix 提供静态文件。
	UploadDir       string
	UploadURLPrefix string
}

// NewRouter 注册 /api/v1 下的所有路由。
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	// 公共路由
	api.HandleFunc("/auth/register", cfg.Auth.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", cfg.Auth.Login).Methods(http.MethodPost)

	// 受保护的路由
	protected := api.NewRoute().Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWTSecretKey, cfg.Blacklist))

	protected.HandleFunc("/auth/logout", cfg.Auth.Logout).Methods(http.MethodPost)
	protected.HandleFunc("/auth/check", cfg.Auth.Check).Methods(http.MethodGet)

	protected.HandleFunc("/users/me", cfg.Users.GetMyProfile).Methods(http.MethodGet)
	protected.HandleFunc("/users/me", cfg.Users.UpdateMyProfile).Methods(http.MethodPut)
	protected.HandleFunc("/users/search", cfg.Users.SearchUsers).Methods(http.MethodGet)
	protected.HandleFunc("/users/{userID}", cfg.Users.GetUserProfile).Methods(http.MethodGet)

	// /messages/users 必须在 /messages/{peerID} 之前注册
	protected.HandleFunc("/messages/users", cfg.Messages.ListPeers).Methods(http.MethodGet)
	protected.HandleFunc("/messages/send/{peerID}", cfg.Messages.Send).Methods(http.MethodPost)
	protected.HandleFunc("/messages/mark/{messageID}", cfg.Messages.MarkSeen).Methods(http.MethodPut)
	protected.HandleFunc("/messages/{peerID}", cfg.Messages.Fetch).Methods(http.MethodGet)
	protected.HandleFunc("/messages/{messageID}", cfg.Messages.Delete).Methods(http.MethodDelete)

	if cfg.Upload != nil {
		protected.HandleFunc("/upload", cfg.Upload.Upload).Methods(http.MethodPost)
	}

	if cfg.UploadDir != "" && strings.HasPrefix(cfg.UploadURLPrefix, "/") {
		prefix := strings.TrimSuffix(cfg.UploadURLPrefix, "/") + "/"
		r.PathPrefix(prefix).Handler(http.StripPrefix(prefix, http.FileServer(http.Dir(cfg.UploadDir))))
	}
	return r
}
