package storage

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"dm-go/internal/models"
)

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	// ListOthers 返回除 excludeID 之外的所有用户，按 ID 升序。
	ListOthers(ctx context.Context, excludeID uint) ([]models.User, error)
	SearchUsers(ctx context.Context, query string, currentUserID uint) ([]models.User, error)
}

// gormUserRepository implements UserRepository using GORM.
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based UserRepository.
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

func (r *gormUserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// firstUser 返回第一条匹配的用户，找不到时返回 gorm.ErrRecordNotFound (不做包装，由服务层判断)。
func (r *gormUserRepository) firstUser(ctx context.Context, query interface{}, args ...interface{}) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where(query, args...).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	return r.firstUser(ctx, "id = ?", id)
}

func (r *gormUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.firstUser(ctx, "username = ?", username)
}

func (r *gormUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.firstUser(ctx, "email = ?", email)
}

// Update updates the mutable profile columns of an existing user.
func (r *gormUserRepository) Update(ctx context.Context, user *models.User) error {
	if user.ID == 0 {
		return gorm.ErrMissingWhereClause
	}
	// 只更新资料字段，不碰密码哈希
	return r.db.WithContext(ctx).Model(user).
		Select("nickname", "avatar_url", "bio").
		Updates(user).Error
}

// ListOthers 用于构建会话列表: 除自己外的每个已知用户都是潜在对端。
func (r *gormUserRepository) ListOthers(ctx context.Context, excludeID uint) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).
		Where("id <> ?", excludeID).
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// SearchUsers 在 username 和 nickname 上做大小写不敏感的模糊匹配，排除当前用户自己。
func (r *gormUserRepository) SearchUsers(ctx context.Context, query string, currentUserID uint) ([]models.User, error) {
	var users []models.User
	searchTerm := "%" + strings.ToLower(query) + "%"

	err := r.db.WithContext(ctx).
		Where("(LOWER(username) LIKE ? OR LOWER(nickname) LIKE ?) AND id <> ?", searchTerm, searchTerm, currentUserID).
		Select("id", "username", "nickname", "avatar_url").
		Limit(10).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
