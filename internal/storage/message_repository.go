package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"dm-go/internal/imtypes"
	"dm-go/internal/models"
)

// MessageRepository 定义了消息数据操作的接口。
//
// 只有 Append / MarkSeen / MarkOneSeen / SoftDelete 会修改持久化状态，
// 每个修改都是单条条件 UPDATE 或事务，不会出现半完成的 seen / deleted 状态。
type MessageRepository interface {
	Append(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	// ListBetween 返回 {userA, userB} 之间的全部消息，不保证顺序，由调用方排序。
	ListBetween(ctx context.Context, userA, userB uint) ([]*models.Message, error)
	// MarkSeen 把 sender -> receiver 方向所有未读消息标记为已读，返回本次真正被翻转的消息 ID。
	MarkSeen(ctx context.Context, senderID, receiverID uint) ([]uint, error)
	// MarkOneSeen 标记单条消息已读，返回是否发生了变化。
	MarkOneSeen(ctx context.Context, id uint) (bool, error)
	SoftDelete(ctx context.Context, id uint, requesterID uint) (*models.Message, error)
	// UnseenCounts 返回发给 receiverID 的未读消息数，按发送者分组。
	UnseenCounts(ctx context.Context, receiverID uint) (map[uint]int64, error)
	// LastActivity 返回 userID 与每个对端最近一条消息 (任意方向) 的时间。
	LastActivity(ctx context.Context, userID uint) (map[uint]time.Time, error)
}

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

// persistenceErr 把数据库错误归类为 NotFound 或 PersistenceFailure。
func persistenceErr(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(imtypes.ErrNotFound, op)
	}
	return errors.Wrapf(imtypes.ErrPersistence, "%s: %v", op, err)
}

// Append 在数据库中创建一条新的消息记录。
func (r *gormMessageRepository) Append(ctx context.Context, message *models.Message) error {
	if message.SenderID == 0 || message.ReceiverID == 0 {
		return errors.Wrap(imtypes.ErrValidation, "sender and receiver are required")
	}
	if !message.HasBody() {
		return errors.Wrap(imtypes.ErrValidation, "message must carry text or an image")
	}
	// 新消息一律未读、未删除，ID 和时间由数据库分配
	message.ID = 0
	message.Seen = false
	message.Deleted = false
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return persistenceErr(err, "append message")
	}
	return nil
}

// GetByID 通过ID检索消息。
func (r *gormMessageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		return nil, persistenceErr(err, "get message")
	}
	return &message, nil
}

// ListBetween 检索两个用户之间的全部消息。
func (r *gormMessageRepository) ListBetween(ctx context.Context, userA, userB uint) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA).
		Find(&messages).Error
	if err != nil {
		return nil, persistenceErr(err, "list messages")
	}
	return messages, nil
}

// MarkSeen 批量标记已读。
func (r *gormMessageRepository) MarkSeen(ctx context.Context, senderID, receiverID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Message{}).
			Where("sender_id = ? AND receiver_id = ? AND seen = ?", senderID, receiverID, false).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.Message{}).
			Where("id IN ? AND seen = ?", ids, false).
			Update("seen", true).Error
	})
	if err != nil {
		return nil, persistenceErr(err, "mark seen")
	}
	return ids, nil
}

// MarkOneSeen 标记单条消息已读，幂等。
func (r *gormMessageRepository) MarkOneSeen(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND seen = ?", id, false).
		Update("seen", true)
	if res.Error != nil {
		return false, persistenceErr(res.Error, "mark one seen")
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// 没有更新: 要么已经是已读，要么消息不存在
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SoftDelete 把消息替换为墓碑。只有发送者可以删除，重复删除是 no-op。
func (r *gormMessageRepository) SoftDelete(ctx context.Context, id uint, requesterID uint) (*models.Message, error) {
	message, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if message.SenderID != requesterID {
		return nil, errors.Wrapf(imtypes.ErrForbidden, "user %d is not the sender of message %d", requesterID, id)
	}
	if message.Deleted {
		return message, nil
	}

	// 条件里带上 sender_id，正文和 deleted 标志在同一条 UPDATE 中修改
	err = r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND sender_id = ?", id, requesterID).
		Updates(map[string]interface{}{
			"deleted": true,
			"text":    models.DeletedMessageText,
			"image":   "",
		}).Error
	if err != nil {
		return nil, persistenceErr(err, "soft delete message")
	}
	return r.GetByID(ctx, id)
}

// UnseenCounts 按发送者统计未读数。
func (r *gormMessageRepository) UnseenCounts(ctx context.Context, receiverID uint) (map[uint]int64, error) {
	var rows []struct {
		SenderID uint
		Count    int64
	}
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("sender_id, COUNT(*) AS count").
		Where("receiver_id = ? AND seen = ?", receiverID, false).
		Group("sender_id").
		Scan(&rows).Error
	if err != nil {
		return nil, persistenceErr(err, "count unseen messages")
	}

	counts := make(map[uint]int64, len(rows))
	for _, row := range rows {
		counts[row.SenderID] = row.Count
	}
	return counts, nil
}

// LastActivity 先按对端取最大消息 ID (ID 单调递增)，再读取这些消息的创建时间。
func (r *gormMessageRepository) LastActivity(ctx context.Context, userID uint) (map[uint]time.Time, error) {
	var rows []struct {
		PeerID uint
		LastID uint
	}
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS peer_id, MAX(id) AS last_id", userID).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Group("peer_id").
		Scan(&rows).Error
	if err != nil {
		return nil, persistenceErr(err, "query last activity")
	}

	result := make(map[uint]time.Time, len(rows))
	if len(rows) == 0 {
		return result, nil
	}

	ids := make([]uint, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.LastID)
	}
	var latest []*models.Message
	if err := r.db.WithContext(ctx).
		Select("id", "sender_id", "receiver_id", "created_at").
		Find(&latest, ids).Error; err != nil {
		return nil, persistenceErr(err, "load last messages")
	}
	for _, m := range latest {
		result[m.PeerOf(userID)] = m.CreatedAt
	}
	return result, nil
}
