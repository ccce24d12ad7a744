package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dm-go/internal/imtypes"
)

// API 是客户端依赖的会话接口，对应 apiserver 的 /api/v1/messages 路由。
type API interface {
	ListPeers(ctx context.Context) ([]imtypes.PeerSummary, error)
	Fetch(ctx context.Context, peerID string) ([]imtypes.Message, error)
	Send(ctx context.Context, peerID string, req imtypes.SendMessageRequest) (imtypes.Message, error)
	MarkSeen(ctx context.Context, messageID string) error
	Delete(ctx context.Context, messageID string) (imtypes.Message, error)
}

// StatusError 是服务端返回的非 2xx 响应。Unwrap 按状态码还原错误分类。
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return imtypes.ErrValidation
	case http.StatusNotFound:
		return imtypes.ErrNotFound
	case http.StatusForbidden:
		return imtypes.ErrForbidden
	case http.StatusInternalServerError:
		return imtypes.ErrPersistence
	}
	return nil
}

// HTTPClient 通过 REST 接口访问 apiserver。
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient baseURL 形如 http://localhost:8081。
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  struct {
		ID       uint   `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

// Login 用用户名/邮箱和密码换取令牌，返回携带令牌的客户端和当前用户 ID。
func Login(ctx context.Context, baseURL, username, password string) (*HTTPClient, string, error) {
	c := NewHTTPClient(baseURL, "")
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, "", fmt.Errorf("login: %w", err)
	}
	c.token = resp.Token
	return c, imtypes.FormatID(resp.User.ID), nil
}

// Token 返回当前令牌，建立事件流时复用。
func (c *HTTPClient) Token() string {
	return c.token
}

func (c *HTTPClient) ListPeers(ctx context.Context) ([]imtypes.PeerSummary, error) {
	var peers []imtypes.PeerSummary
	err := c.do(ctx, http.MethodGet, "/api/v1/messages/users", nil, &peers)
	return peers, err
}

func (c *HTTPClient) Fetch(ctx context.Context, peerID string) ([]imtypes.Message, error) {
	var msgs []imtypes.Message
	err := c.do(ctx, http.MethodGet, "/api/v1/messages/"+url.PathEscape(peerID), nil, &msgs)
	return msgs, err
}

func (c *HTTPClient) Send(ctx context.Context, peerID string, req imtypes.SendMessageRequest) (imtypes.Message, error) {
	var msg imtypes.Message
	err := c.do(ctx, http.MethodPost, "/api/v1/messages/send/"+url.PathEscape(peerID), req, &msg)
	return msg, err
}

func (c *HTTPClient) MarkSeen(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPut, "/api/v1/messages/mark/"+url.PathEscape(messageID), nil, nil)
}

func (c *HTTPClient) Delete(ctx context.Context, messageID string) (imtypes.Message, error) {
	var msg imtypes.Message
	err := c.do(ctx, http.MethodDelete, "/api/v1/messages/"+url.PathEscape(messageID), nil, &msg)
	return msg, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
