package client

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jww "github.com/spf13/jwalterweatherman"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"dm-go/internal/imtypes"
)

// TempIDPrefix 是乐观消息临时 ID 的前缀。
const TempIDPrefix = "tmp-"

// prefetchParallelism 限制后台预取的并发请求数。
const prefetchParallelism = 4

// ErrNoOpenConversation 在没有打开会话时发送消息返回。
var ErrNoOpenConversation = fmt.Errorf("%w: no conversation is open", imtypes.ErrValidation)

// IsTempID 判断是否为尚未被服务端确认的乐观消息 ID。
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// conversation 是一个对端的本地缓存，消息最新在前。
type conversation struct {
	messages []imtypes.Message
	// loaded 为 true 表示已经拿到过一次完整列表，之后以缓存为准
	loaded bool
	// updates 暂存加载完成前收到的 messageUpdated，合并拉取结果时应用
	updates map[string]imtypes.Message
}

func (c *conversation) indexOf(id string) int {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *conversation) prepend(m imtypes.Message) {
	c.messages = append([]imtypes.Message{m}, c.messages...)
}

func (c *conversation) remove(id string) {
	if i := c.indexOf(id); i >= 0 {
		c.messages = append(c.messages[:i], c.messages[i+1:]...)
	}
}

// mergeMessage 合并同一条消息的两个版本。seen 和 deleted 只会从 false 变为 true，
// 所以无论事件到达顺序如何都不会回退。
func mergeMessage(cur, next imtypes.Message) imtypes.Message {
	if cur.Deleted && !next.Deleted {
		cur.Seen = cur.Seen || next.Seen
		return cur
	}
	if cur.Seen && !next.Seen {
		next.Seen = true
	}
	return next
}

// State 是一个登录会话的客户端会话状态: 每个对端的消息缓存、未读计数、在线用户，
// 以及乐观发送的对账逻辑。所有方法都可以并发调用。
type State struct {
	api    API
	selfID string

	mu       sync.Mutex
	openPeer string
	convs    map[string]*conversation
	unseen   map[string]int64
	online   map[string]struct{}
	peers    []imtypes.PeerSummary

	// 同一对端的 Open 和预取共用一次请求
	fetches singleflight.Group
	bg      sync.WaitGroup
	now     func() time.Time
}

// NewState 为 selfID 创建会话状态。
func NewState(api API, selfID string) *State {
	return &State{
		api:    api,
		selfID: selfID,
		convs:  make(map[string]*conversation),
		unseen: make(map[string]int64),
		online: make(map[string]struct{}),
		now:    time.Now,
	}
}

// SelfID returns the viewing user's id.
func (s *State) SelfID() string {
	return s.selfID
}

func (s *State) convLocked(peerID string) *conversation {
	c, ok := s.convs[peerID]
	if !ok {
		c = &conversation{}
		s.convs[peerID] = c
	}
	return c
}

// Open 打开与 peerID 的会话并返回消息列表 (最新在前)。
// 已有缓存时直接返回缓存；否则拉取一次并写入缓存。两种情况都会把该对端的未读数清零。
func (s *State) Open(ctx context.Context, peerID string) ([]imtypes.Message, error) {
	s.mu.Lock()
	s.openPeer = peerID
	if c, ok := s.convs[peerID]; ok && c.loaded {
		s.unseen[peerID] = 0
		pending := s.unackedLocked(c, peerID)
		msgs := copyMessages(c.messages)
		s.mu.Unlock()

		s.ackSeen(ctx, peerID, pending)
		return msgs, nil
	}
	s.mu.Unlock()

	if err := s.load(ctx, peerID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 拉取期间用户可能已经切到别的会话
	if s.openPeer == peerID {
		s.unseen[peerID] = 0
	}
	return copyMessages(s.convs[peerID].messages), nil
}

// unackedLocked 返回缓存中对端发来但还没有标记已读的消息 ID。
// 这些消息是会话关闭期间通过推送进入缓存的。
func (s *State) unackedLocked(c *conversation, peerID string) []string {
	var ids []string
	for _, m := range c.messages {
		if m.SenderID == peerID && !m.Seen && !IsTempID(m.ID) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// load 拉取与 peerID 的完整消息列表并与缓存合并。
// 拉取期间到达的推送和乐观消息不会被覆盖。
func (s *State) load(ctx context.Context, peerID string) error {
	_, err, _ := s.fetches.Do(peerID, func() (interface{}, error) {
		msgs, err := s.api.Fetch(ctx, peerID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.mergeFetchedLocked(peerID, msgs)
		s.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("fetch conversation %s: %w", peerID, err)
	}
	return nil
}

func (s *State) mergeFetchedLocked(peerID string, fetched []imtypes.Message) {
	c := s.convLocked(peerID)

	byID := make(map[string]int, len(fetched))
	merged := copyMessages(fetched)
	sortNewestFirst(merged)
	for i := range merged {
		byID[merged[i].ID] = i
	}

	// 缓存里有、拉取结果里没有的条目 (乐观消息、拉取途中推来的新消息) 比拉取结果更新，放在最前面
	var newer []imtypes.Message
	for _, m := range c.messages {
		if i, ok := byID[m.ID]; ok {
			merged[i] = mergeMessage(merged[i], m)
			continue
		}
		newer = append(newer, m)
	}
	for id, u := range c.updates {
		if i, ok := byID[id]; ok {
			merged[i] = mergeMessage(merged[i], u)
		}
	}
	c.updates = nil
	c.messages = append(newer, merged...)
	c.loaded = true
}

// Send 向当前打开的对端发送消息。
// 先在缓存头部插入一条临时 ID 的乐观消息，成功后按 ID 原位替换为服务端消息，失败则移除。
func (s *State) Send(ctx context.Context, req imtypes.SendMessageRequest) (imtypes.Message, error) {
	if strings.TrimSpace(req.Text) == "" && req.Image == "" {
		return imtypes.Message{}, fmt.Errorf("%w: message must carry text or an image", imtypes.ErrValidation)
	}

	s.mu.Lock()
	peerID := s.openPeer
	if peerID == "" {
		s.mu.Unlock()
		return imtypes.Message{}, ErrNoOpenConversation
	}
	optimistic := imtypes.Message{
		ID:         TempIDPrefix + uuid.NewString(),
		SenderID:   s.selfID,
		ReceiverID: peerID,
		Text:       req.Text,
		Image:      req.Image,
		CreatedAt:  s.now(),
	}
	s.convLocked(peerID).prepend(optimistic)
	s.mu.Unlock()

	stored, err := s.api.Send(ctx, peerID, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.convLocked(peerID)
	if err != nil {
		c.remove(optimistic.ID)
		return imtypes.Message{}, fmt.Errorf("send to %s: %w", peerID, err)
	}

	// 服务端消息可能已经通过推送进了缓存 (另一个连接的回显)，这时只去掉临时条目
	if existing := c.indexOf(stored.ID); existing >= 0 {
		c.messages[existing] = mergeMessage(c.messages[existing], stored)
		c.remove(optimistic.ID)
		return stored, nil
	}
	if i := c.indexOf(optimistic.ID); i >= 0 {
		c.messages[i] = stored
	} else {
		c.prepend(stored)
	}
	return stored, nil
}

// Delete 删除自己发送的一条消息，成功后用服务端返回的墓碑原位替换缓存条目。
func (s *State) Delete(ctx context.Context, messageID string) (imtypes.Message, error) {
	if IsTempID(messageID) {
		return imtypes.Message{}, fmt.Errorf("%w: message %s is not confirmed yet", imtypes.ErrValidation, messageID)
	}
	updated, err := s.api.Delete(ctx, messageID)
	if err != nil {
		return imtypes.Message{}, fmt.Errorf("delete message %s: %w", messageID, err)
	}
	s.mu.Lock()
	s.replaceLocked(updated)
	s.mu.Unlock()
	return updated, nil
}

// ApplyEvent 把服务端推送的事件应用到本地状态。
func (s *State) ApplyEvent(ctx context.Context, ev imtypes.Event) {
	switch ev.Type {
	case imtypes.EventNewMessage:
		if ev.Message != nil {
			s.applyNewMessage(ctx, *ev.Message)
		}
	case imtypes.EventMessageUpdated:
		if ev.Message != nil {
			s.mu.Lock()
			s.applyUpdateLocked(*ev.Message)
			s.mu.Unlock()
		}
	case imtypes.EventPresence:
		s.mu.Lock()
		s.online = make(map[string]struct{}, len(ev.OnlineUsers))
		for _, id := range ev.OnlineUsers {
			s.online[id] = struct{}{}
		}
		s.mu.Unlock()
	default:
		jww.DEBUG.Printf("忽略未知事件类型: %s", ev.Type)
	}
}

func (s *State) applyNewMessage(ctx context.Context, m imtypes.Message) {
	s.mu.Lock()

	// 重复推送
	if s.replaceLocked(m) {
		s.mu.Unlock()
		return
	}

	switch {
	case m.SenderID == s.selfID:
		// 自己在另一个连接上发的消息，不计未读也不确认
		s.convLocked(m.ReceiverID).prepend(m)
		s.mu.Unlock()

	case m.SenderID == s.openPeer:
		s.convLocked(m.SenderID).prepend(m)
		s.unseen[m.SenderID] = 0
		s.mu.Unlock()
		s.ackSeen(ctx, m.SenderID, []string{m.ID})

	default:
		s.unseen[m.SenderID]++
		// 即使会话还没加载 (或正在预取) 也要放进缓存，load 合并时会保留它；打开时再确认已读
		s.convLocked(m.SenderID).prepend(m)
		s.mu.Unlock()
	}
}

// applyUpdateLocked 原位替换已缓存的消息。会话还没加载完时先暂存，
// 否则拉取途中到达的删除或已读变化会被旧的拉取结果覆盖。
func (s *State) applyUpdateLocked(m imtypes.Message) {
	if s.replaceLocked(m) {
		return
	}
	peerID := m.SenderID
	if peerID == s.selfID {
		peerID = m.ReceiverID
	}
	c := s.convLocked(peerID)
	if c.loaded {
		return
	}
	if c.updates == nil {
		c.updates = make(map[string]imtypes.Message)
	}
	if prev, ok := c.updates[m.ID]; ok {
		m = mergeMessage(prev, m)
	}
	c.updates[m.ID] = m
}

// replaceLocked 按 ID 在所有缓存中查找并原位替换消息，找到返回 true。
func (s *State) replaceLocked(m imtypes.Message) bool {
	for _, c := range s.convs {
		if i := c.indexOf(m.ID); i >= 0 {
			c.messages[i] = mergeMessage(c.messages[i], m)
			return true
		}
	}
	return false
}

// ackSeen 逐条确认已读，成功后更新本地副本。失败只记录日志。
func (s *State) ackSeen(ctx context.Context, peerID string, ids []string) {
	for _, id := range ids {
		if err := s.api.MarkSeen(ctx, id); err != nil {
			jww.WARN.Printf("标记消息 %s 已读失败: %v", id, err)
			continue
		}
		s.mu.Lock()
		if c, ok := s.convs[peerID]; ok {
			if i := c.indexOf(id); i >= 0 {
				c.messages[i].Seen = true
			}
		}
		s.mu.Unlock()
	}
}

// LoadPeers 拉取会话列表和每个对端的未读数，并在后台预取所有未缓存的会话。
func (s *State) LoadPeers(ctx context.Context) ([]imtypes.PeerSummary, error) {
	peers, err := s.api.ListPeers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}

	s.mu.Lock()
	s.peers = peers
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		if p.UserID == s.openPeer {
			s.unseen[p.UserID] = 0
		} else {
			s.unseen[p.UserID] = p.UnseenCount
		}
		ids = append(ids, p.UserID)
	}
	s.mu.Unlock()

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.Prefetch(context.WithoutCancel(ctx), ids)
	}()
	return copyPeers(peers), nil
}

// Prefetch 并行拉取尚未缓存的会话。失败只记录日志，不重试。
func (s *State) Prefetch(ctx context.Context, peerIDs []string) {
	var g errgroup.Group
	g.SetLimit(prefetchParallelism)
	for _, peerID := range peerIDs {
		s.mu.Lock()
		c, ok := s.convs[peerID]
		cached := ok && c.loaded
		s.mu.Unlock()
		if cached {
			continue
		}
		g.Go(func() error {
			if err := s.load(ctx, peerID); err != nil {
				jww.WARN.Printf("预取会话失败: %v", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Wait 等待 LoadPeers 启动的后台预取结束。
func (s *State) Wait() {
	s.bg.Wait()
}

// Messages 返回 peerID 的缓存消息副本 (最新在前)。
func (s *State) Messages(peerID string) []imtypes.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[peerID]; ok {
		return copyMessages(c.messages)
	}
	return nil
}

// Cached 判断 peerID 的会话是否已经完整加载。
func (s *State) Cached(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[peerID]
	return ok && c.loaded
}

func (s *State) Unseen(peerID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unseen[peerID]
}

func (s *State) OpenPeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openPeer
}

// Close 关闭当前会话，之后来自该对端的新消息只计入未读。
func (s *State) Close() {
	s.mu.Lock()
	s.openPeer = ""
	s.mu.Unlock()
}

func (s *State) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[userID]
	return ok
}

// Online 返回排序后的在线用户 ID。
func (s *State) Online() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *State) Peers() []imtypes.PeerSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyPeers(s.peers)
}

func copyMessages(in []imtypes.Message) []imtypes.Message {
	out := make([]imtypes.Message, len(in))
	copy(out, in)
	return out
}

func copyPeers(in []imtypes.PeerSummary) []imtypes.PeerSummary {
	out := make([]imtypes.PeerSummary, len(in))
	copy(out, in)
	return out
}

func sortNewestFirst(msgs []imtypes.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		// 同一时间戳按数字 ID 倒序
		a, b := msgs[i].ID, msgs[j].ID
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a > b
	})
}
