package apiserver

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dm-go/internal/auth"
	"dm-go/internal/config"
	"dm-go/internal/delivery"
	"dm-go/internal/imtypes"
	"dm-go/internal/models"
	"dm-go/internal/services"
	"dm-go/internal/storage"
	"dm-go/internal/websocket"
)

type apiFixture struct {
	server *httptest.Server
	hub    *websocket.Hub
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.InitDB(config.DatabaseConfig{Type: "sqlite", SQLitePath: filepath.Join(dir, "api.db")})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrateTables(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	storageCfg := config.StorageConfig{LocalPath: filepath.Join(dir, "uploads"), BaseURL: "/uploads", MaxFileSizeMB: 1}
	fileStore, err := storage.NewLocalStorageService(storageCfg)
	require.NoError(t, err)

	userRepo := storage.NewGormUserRepository(db)
	messageRepo := storage.NewGormMessageRepository(db)
	blacklist := auth.NewMemoryBlacklist()
	authCfg := config.AuthConfig{JWTSecretKey: "test-secret", JWTExpiry: time.Hour}
	hub := websocket.NewHub()

	userService := services.NewUserService(userRepo)
	router := NewRouter(RouterConfig{
		Auth:            NewAuthHandler(services.NewAuthService(userRepo, blacklist, authCfg), userService),
		Users:           NewUserHandler(userService),
		Messages:        NewMessageHandler(services.NewConversationService(messageRepo, userRepo, delivery.NewHubBroadcaster(hub))),
		Upload:          NewUploadHandler(fileStore, storageCfg),
		JWTSecretKey:    authCfg.JWTSecretKey,
		Blacklist:       blacklist,
		UploadDir:       storageCfg.LocalPath,
		UploadURLPrefix: storageCfg.BaseURL,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &apiFixture{server: srv, hub: hub}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// signup 注册并登录，返回令牌和用户。
func (f *apiFixture) signup(t *testing.T, username string) (string, *models.User) {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "password1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{UsernameOrEmail: username, Password: "password1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decode[LoginResponse](t, resp)
	require.NotEmpty(t, login.Token)
	return login.Token, login.User
}

func TestAuthFlow(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/auth/check", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, user := f.signup(t, "alice")

	resp = f.do(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{Username: "alice", Email: "a2@example.com", Password: "password1"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{UsernameOrEmail: "alice", Password: "nope"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/auth/check", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[models.User](t, resp)
	require.Equal(t, user.ID, me.ID)

	resp = f.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/auth/check", token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProfileEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.signup(t, "alice")
	_, bob := f.signup(t, "bob")

	nickname := "Ally"
	resp := f.do(t, http.MethodPut, "/api/v1/users/me", token, services.ProfileUpdate{Nickname: &nickname})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Ally", decode[models.User](t, resp).Nickname)

	resp = f.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Ally", decode[models.User](t, resp).Nickname)

	resp = f.do(t, http.MethodGet, "/api/v1/users/search?q=bo", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := decode[[]models.UserBasicInfo](t, resp)
	require.Len(t, found, 1)
	require.Equal(t, bob.ID, found[0].ID)

	resp = f.do(t, http.MethodGet, "/api/v1/users/search?q=", token, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/users/"+imtypes.FormatID(bob.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/users/9999", token, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessageEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	aliceToken, alice := f.signup(t, "alice")
	bobToken, bob := f.signup(t, "bob")
	aliceID := imtypes.FormatID(alice.ID)
	bobID := imtypes.FormatID(bob.ID)

	// 空消息
	resp := f.do(t, http.MethodPost, "/api/v1/messages/send/"+bobID, aliceToken, imtypes.SendMessageRequest{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/messages/send/9999", aliceToken, imtypes.SendMessageRequest{Text: "hi"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/messages/send/abc", aliceToken, imtypes.SendMessageRequest{Text: "hi"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/messages/send/"+bobID, aliceToken, imtypes.SendMessageRequest{Text: "hi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decode[imtypes.Message](t, resp)
	require.Equal(t, "hi", sent.Text)
	require.Equal(t, aliceID, sent.SenderID)
	require.False(t, sent.Seen)

	resp = f.do(t, http.MethodGet, "/api/v1/messages/users", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	peers := decode[[]imtypes.PeerSummary](t, resp)
	require.Len(t, peers, 1)
	require.Equal(t, aliceID, peers[0].UserID)
	require.Equal(t, int64(1), peers[0].UnseenCount)
	require.NotNil(t, peers[0].LastMessageAt)

	resp = f.do(t, http.MethodGet, "/api/v1/messages/"+aliceID, bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv := decode[[]imtypes.Message](t, resp)
	require.Len(t, conv, 1)
	require.True(t, conv[0].Seen)

	resp = f.do(t, http.MethodGet, "/api/v1/messages/users", bobToken, nil)
	require.Equal(t, int64(0), decode[[]imtypes.PeerSummary](t, resp)[0].UnseenCount)

	// 只有接收者可以标记已读
	resp = f.do(t, http.MethodPut, "/api/v1/messages/mark/"+sent.ID, aliceToken, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = f.do(t, http.MethodPut, "/api/v1/messages/mark/"+sent.ID, bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// 只有发送者可以删除
	resp = f.do(t, http.MethodDelete, "/api/v1/messages/"+sent.ID, bobToken, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = f.do(t, http.MethodDelete, "/api/v1/messages/"+sent.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deleted := decode[imtypes.Message](t, resp)
	require.True(t, deleted.Deleted)
	require.Equal(t, models.DeletedMessageText, deleted.Text)

	resp = f.do(t, http.MethodDelete, "/api/v1/messages/9999", aliceToken, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/messages/"+bobID, aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv = decode[[]imtypes.Message](t, resp)
	require.Len(t, conv, 1)
	require.True(t, conv[0].Deleted)
}

func TestUploadEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.signup(t, "alice")

	upload := func(contentType string, data []byte) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="pic.png"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/v1/upload", &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := upload("text/plain", []byte("hello"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = upload("image/png", []byte("fake-png-bytes"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[imtypes.FileInfo](t, resp)
	require.Contains(t, info.URL, "/uploads/")

	// 上传后可以通过静态路径访问
	get, err := http.Get(f.server.URL + info.URL)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	data, err := io.ReadAll(get.Body)
	require.NoError(t, err)
	require.Equal(t, []byte("fake-png-bytes"), data)
}
