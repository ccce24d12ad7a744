package apiserver

import (
	"encoding/json"
	"net/http"

	"dm-go/internal/models"
	"dm-go/internal/services"
)

// UserHandler 封装了用户相关的 HTTP 处理器方法。
type UserHandler struct {
	userService services.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// GetMyProfile 处理获取当前登录用户信息的请求。
func (h *UserHandler) GetMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	user, err := h.userService.GetUserProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "获取用户信息失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

// UpdateMyProfile 处理更新当前登录用户信息的请求。
func (h *UserHandler) UpdateMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req services.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	user, err := h.userService.UpdateUserProfile(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, err, "更新用户信息失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

// GetUserProfile 处理获取指定用户公开信息的请求。
func (h *UserHandler) GetUserProfile(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUserID(w, r); !ok {
		return
	}
	targetID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	user, err := h.userService.GetUserProfile(r.Context(), targetID)
	if err != nil {
		writeServiceError(w, err, "获取用户信息失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, user.BasicInfo())
}

// SearchUsers 处理 GET /users/search?q=。
func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	users, err := h.userService.SearchUsers(r.Context(), r.URL.Query().Get("q"), userID)
	if err != nil {
		writeServiceError(w, err, "搜索用户失败")
		return
	}
	result := make([]models.UserBasicInfo, 0, len(users))
	for i := range users {
		result = append(result, users[i].BasicInfo())
	}
	writeJSONResponse(w, http.StatusOK, result)
}
