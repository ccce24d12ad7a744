package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"dm-go/internal/config"
	"dm-go/internal/delivery"
	"dm-go/internal/imtypes"
	"dm-go/internal/models"
	"dm-go/internal/storage"
	"dm-go/internal/websocket"
)

// testConn 模拟一条在线连接，记录收到的事件。
type testConn struct {
	userID uint

	mu     sync.Mutex
	frames [][]byte
}

func (c *testConn) UserID() uint { return c.userID }

func (c *testConn) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return true
}

func (c *testConn) Close() {}

// messageEvents 返回收到的 newMessage / messageUpdated 事件。
func (c *testConn) messageEvents(t *testing.T) []imtypes.Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []imtypes.Event
	for _, frame := range c.frames {
		var ev imtypes.Event
		require.NoError(t, json.Unmarshal(frame, &ev))
		if ev.Type != imtypes.EventPresence {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	messages    storage.MessageRepository
	users       storage.UserRepository
	hub         *websocket.Hub
	broadcaster delivery.Broadcaster
	svc         ConversationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.InitDB(config.DatabaseConfig{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "services.db"),
	})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrateTables(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	env := &testEnv{
		messages: storage.NewGormMessageRepository(db),
		users:    storage.NewGormUserRepository(db),
		hub:      websocket.NewHub(),
	}
	env.broadcaster = delivery.NewHubBroadcaster(env.hub)
	env.svc = NewConversationService(env.messages, env.users, env.broadcaster)
	return env
}

func (e *testEnv) createUser(t *testing.T, username string) *models.User {
	t.Helper()
	u := &models.User{
		Username:     username,
		Email:        fmt.Sprintf("%s@example.com", username),
		Nickname:     username,
		PasswordHash: "hash",
	}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

func (e *testEnv) connect(t *testing.T, u *models.User) *testConn {
	t.Helper()
	c := &testConn{userID: u.ID}
	require.NoError(t, e.hub.Register(c))
	return c
}
