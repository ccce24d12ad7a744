package websocket

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"dm-go/internal/imtypes"
)

// fakeConn 是一个内存中的 Connection，capacity 控制缓冲区大小。
type fakeConn struct {
	userID   uint
	capacity int

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeConn(userID uint, capacity int) *fakeConn {
	return &fakeConn{userID: userID, capacity: capacity}
}

func (f *fakeConn) UserID() uint { return f.userID }

func (f *fakeConn) Enqueue(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || len(f.frames) >= f.capacity {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) events(t *testing.T) []imtypes.Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]imtypes.Event, 0, len(f.frames))
	for _, frame := range f.frames {
		var ev imtypes.Event
		require.NoError(t, json.Unmarshal(frame, &ev))
		out = append(out, ev)
	}
	return out
}

func lastPresence(t *testing.T, f *fakeConn) []string {
	t.Helper()
	evs := f.events(t)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	require.Equal(t, imtypes.EventPresence, last.Type)
	return last.OnlineUsers
}

func TestHub_RegisterBroadcastsPresence(t *testing.T) {
	hub := NewHub()
	alice := newFakeConn(1, 16)
	bob := newFakeConn(2, 16)

	require.NoError(t, hub.Register(alice))
	require.Equal(t, []string{"1"}, lastPresence(t, alice))

	require.NoError(t, hub.Register(bob))
	require.Equal(t, []string{"1", "2"}, lastPresence(t, alice))
	require.Equal(t, []string{"1", "2"}, lastPresence(t, bob))
	require.Equal(t, []uint{1, 2}, hub.Snapshot())

	conn, ok := hub.Lookup(2)
	require.True(t, ok)
	require.Same(t, bob, conn)

	_, ok = hub.Lookup(3)
	require.False(t, ok)
}

func TestHub_LastConnectionWins(t *testing.T) {
	hub := NewHub()
	first := newFakeConn(1, 16)
	second := newFakeConn(1, 16)

	require.NoError(t, hub.Register(first))
	require.NoError(t, hub.Register(second))
	require.True(t, first.isClosed())
	require.False(t, second.isClosed())

	conn, ok := hub.Lookup(1)
	require.True(t, ok)
	require.Same(t, second, conn)

	// 旧连接迟到的注销不能移除新连接
	hub.Unregister(first)
	conn, ok = hub.Lookup(1)
	require.True(t, ok)
	require.Same(t, second, conn)
	require.Equal(t, []uint{1}, hub.Snapshot())
}

func TestHub_UnregisterBroadcastsPresence(t *testing.T) {
	hub := NewHub()
	alice := newFakeConn(1, 16)
	bob := newFakeConn(2, 16)
	require.NoError(t, hub.Register(alice))
	require.NoError(t, hub.Register(bob))

	hub.Unregister(bob)
	require.True(t, bob.isClosed())
	_, ok := hub.Lookup(2)
	require.False(t, ok)
	require.Equal(t, []string{"1"}, lastPresence(t, alice))
}

func TestHub_PresenceEvictsFullConnections(t *testing.T) {
	hub := NewHub()
	slow := newFakeConn(1, 1)
	require.NoError(t, hub.Register(slow))

	fast := newFakeConn(2, 16)
	require.NoError(t, hub.Register(fast))

	require.True(t, slow.isClosed())
	_, ok := hub.Lookup(1)
	require.False(t, ok)
	require.Equal(t, []string{"2"}, lastPresence(t, fast))
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	alice := newFakeConn(1, 16)
	require.NoError(t, hub.Register(alice))

	hub.Close()
	require.True(t, alice.isClosed())
	require.Empty(t, hub.Snapshot())

	late := newFakeConn(2, 16)
	require.ErrorIs(t, hub.Register(late), ErrHubClosed)
	require.True(t, late.isClosed())

	// 重复关闭无副作用
	hub.Close()
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			c := newFakeConn(id, 1024)
			require.NoError(t, hub.Register(c))
			if id%2 == 0 {
				hub.Unregister(c)
			}
		}(uint(i))
	}
	wg.Wait()
	require.Len(t, hub.Snapshot(), 10)
}
