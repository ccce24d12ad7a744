package apiserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	jww "github.com/spf13/jwalterweatherman"

	"dm-go/internal/imtypes"
	"dm-go/internal/middleware"
)

// ErrorResponse 是 API 错误响应的通用结构体。
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONResponse 是一个辅助函数，用于发送 JSON 响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// 头部已经发出，只能记录
			jww.ERROR.Printf("无法编码 JSON 响应: %v", err)
		}
	}
}

// writeJSONError 是一个辅助函数，用于发送 JSON 格式的错误响应。
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, ErrorResponse{Error: message})
}

// statusForError 把错误分类映射为 HTTP 状态码。
func statusForError(err error) int {
	switch {
	case errors.Is(err, imtypes.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, imtypes.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, imtypes.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError 写出服务层错误。内部错误不向客户端暴露细节。
func writeServiceError(w http.ResponseWriter, err error, action string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		jww.ERROR.Printf("%s: %v", action, err)
		writeJSONError(w, action, status)
		return
	}
	writeJSONError(w, fmt.Sprintf("%s: %v", action, err), status)
}

// currentUserID 取出认证中间件放入的用户 ID，取不到时直接写 401。
func currentUserID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
		return 0, false
	}
	return userID, true
}

// pathID 解析路径参数中的 ID，非法时直接写 400。
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	raw := mux.Vars(r)[name]
	id, err := imtypes.ParseID(raw)
	if err != nil {
		writeJSONError(w, fmt.Sprintf("无效的 %s: %q", name, raw), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
