package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/gorm"

	"dm-go/internal/delivery"
	"dm-go/internal/imtypes"
	"dm-go/internal/models"
	"dm-go/internal/storage"
)

// ConversationService 是私聊的核心业务: 发送、拉取、已读、删除以及会话列表。
//
// 所有写操作先落库再推送，落库失败时不会产生任何推送。
// 推送是尽力而为的，推送失败不影响调用结果。
type ConversationService interface {
	Send(ctx context.Context, senderID, receiverID uint, req imtypes.SendMessageRequest) (*models.Message, error)
	// Fetch 先把 peer 发给 viewer 的未读消息标记为已读，再返回双方的全部消息 (新的在前)。
	Fetch(ctx context.Context, viewerID, peerID uint) ([]*models.Message, error)
	// MarkOneSeen 只能由消息的接收者调用。
	MarkOneSeen(ctx context.Context, viewerID, messageID uint) (*models.Message, error)
	// Delete 只能由消息的发送者调用，双方都会收到 messageUpdated。
	Delete(ctx context.Context, requesterID, messageID uint) (*models.Message, error)
	ListPeers(ctx context.Context, viewerID uint) ([]imtypes.PeerSummary, error)
	// HandleCommand 处理 WebSocket 上行指令。
	HandleCommand(ctx context.Context, userID uint, cmd imtypes.Command) error
}

// conversationService 是 ConversationService 的实现。
type conversationService struct {
	messageRepo storage.MessageRepository
	userRepo    storage.UserRepository
	broadcaster delivery.Broadcaster
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(messageRepo storage.MessageRepository, userRepo storage.UserRepository, broadcaster delivery.Broadcaster) ConversationService {
	return &conversationService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		broadcaster: broadcaster,
	}
}

// requireUser 确认用户存在。
func (s *conversationService) requireUser(ctx context.Context, userID uint) error {
	_, err := s.userRepo.GetByID(ctx, userID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("用户 %d 不存在: %w", userID, imtypes.ErrNotFound)
	default:
		return fmt.Errorf("查询用户 %d 失败: %w: %v", userID, imtypes.ErrPersistence, err)
	}
}

// Send 校验、落库，然后把 newMessage 推给接收者。
func (s *conversationService) Send(ctx context.Context, senderID, receiverID uint, req imtypes.SendMessageRequest) (*models.Message, error) {
	if senderID == 0 || receiverID == 0 {
		return nil, fmt.Errorf("发送者和接收者不能为空: %w", imtypes.ErrValidation)
	}
	if senderID == receiverID {
		return nil, fmt.Errorf("不能给自己发消息: %w", imtypes.ErrValidation)
	}

	message := &models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       req.Text,
		Image:      req.Image,
	}
	if !message.HasBody() {
		return nil, fmt.Errorf("消息必须包含文本或图片: %w", imtypes.ErrValidation)
	}
	if err := s.requireUser(ctx, receiverID); err != nil {
		return nil, err
	}

	if err := s.messageRepo.Append(ctx, message); err != nil {
		return nil, fmt.Errorf("保存消息失败: %w", err)
	}

	s.broadcaster.Notify(ctx, imtypes.NewMessageEvent(message.ToWire()), receiverID)
	jww.DEBUG.Printf("消息 %d 已保存: %d -> %d", message.ID, senderID, receiverID)
	return message, nil
}

// Fetch 实现 ConversationService。
func (s *conversationService) Fetch(ctx context.Context, viewerID, peerID uint) ([]*models.Message, error) {
	if peerID == 0 || peerID == viewerID {
		return nil, fmt.Errorf("无效的会话对象 %d: %w", peerID, imtypes.ErrValidation)
	}
	if err := s.requireUser(ctx, peerID); err != nil {
		return nil, err
	}

	flipped, err := s.messageRepo.MarkSeen(ctx, peerID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("标记已读失败: %w", err)
	}

	messages, err := s.messageRepo.ListBetween(ctx, viewerID, peerID)
	if err != nil {
		return nil, fmt.Errorf("获取会话消息失败: %w", err)
	}
	models.SortNewestFirst(messages)

	if len(flipped) > 0 {
		// 告诉发送方这些消息已被阅读
		byID := make(map[uint]*models.Message, len(messages))
		for _, m := range messages {
			byID[m.ID] = m
		}
		for _, id := range flipped {
			if m, ok := byID[id]; ok {
				s.broadcaster.Notify(ctx, imtypes.MessageUpdatedEvent(m.ToWire()), peerID)
			}
		}
	}
	return messages, nil
}

// MarkOneSeen 实现 ConversationService。重复调用不会再次推送。
func (s *conversationService) MarkOneSeen(ctx context.Context, viewerID, messageID uint) (*models.Message, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.ReceiverID != viewerID {
		return nil, fmt.Errorf("用户 %d 不是消息 %d 的接收者: %w", viewerID, messageID, imtypes.ErrForbidden)
	}

	changed, err := s.messageRepo.MarkOneSeen(ctx, messageID)
	if err != nil {
		return nil, err
	}
	message.Seen = true
	if changed {
		s.broadcaster.Notify(ctx, imtypes.MessageUpdatedEvent(message.ToWire()), message.SenderID)
	}
	return message, nil
}

// Delete 实现 ConversationService。
func (s *conversationService) Delete(ctx context.Context, requesterID, messageID uint) (*models.Message, error) {
	message, err := s.messageRepo.SoftDelete(ctx, messageID, requesterID)
	if err != nil {
		return nil, err
	}

	event := imtypes.MessageUpdatedEvent(message.ToWire())
	s.broadcaster.Notify(ctx, event, message.SenderID)
	s.broadcaster.Notify(ctx, event, message.ReceiverID)
	return message, nil
}

// ListPeers 返回除自己以外的所有用户，附带未读数和最后一条消息的时间。
// 有消息往来的按最后消息时间倒序，没有往来的排在后面并按用户 ID 升序。
func (s *conversationService) ListPeers(ctx context.Context, viewerID uint) ([]imtypes.PeerSummary, error) {
	users, err := s.userRepo.ListOthers(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("获取用户列表失败: %w: %v", imtypes.ErrPersistence, err)
	}
	unseen, err := s.messageRepo.UnseenCounts(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	lastActivity, err := s.messageRepo.LastActivity(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	peers := make([]imtypes.PeerSummary, 0, len(users))
	for i := range users {
		u := &users[i]
		summary := imtypes.PeerSummary{
			UserID:      u.IDString(),
			Username:    u.Username,
			Nickname:    u.Nickname,
			AvatarURL:   u.AvatarURL,
			Bio:         u.Bio,
			UnseenCount: unseen[u.ID],
		}
		if at, ok := lastActivity[u.ID]; ok {
			at := at
			summary.LastMessageAt = &at
		}
		peers = append(peers, summary)
	}

	sort.SliceStable(peers, func(i, j int) bool {
		a, b := peers[i].LastMessageAt, peers[j].LastMessageAt
		switch {
		case a != nil && b != nil:
			return a.After(*b)
		case a != nil:
			return true
		default:
			return false
		}
	})
	return peers, nil
}

// HandleCommand 实现 ConversationService。
func (s *conversationService) HandleCommand(ctx context.Context, userID uint, cmd imtypes.Command) error {
	switch cmd.Type {
	case imtypes.CommandSend:
		receiverID, err := imtypes.ParseID(cmd.ReceiverID)
		if err != nil {
			return fmt.Errorf("无效的接收者 ID %q: %w", cmd.ReceiverID, err)
		}
		_, err = s.Send(ctx, userID, receiverID, imtypes.SendMessageRequest{Text: cmd.Text, Image: cmd.Image})
		return err
	case imtypes.CommandMarkSeen:
		messageID, err := imtypes.ParseID(cmd.MessageID)
		if err != nil {
			return fmt.Errorf("无效的消息 ID %q: %w", cmd.MessageID, err)
		}
		_, err = s.MarkOneSeen(ctx, userID, messageID)
		return err
	default:
		return fmt.Errorf("未知的指令类型 %q: %w", cmd.Type, imtypes.ErrValidation)
	}
}
