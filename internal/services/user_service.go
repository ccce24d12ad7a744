package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"dm-go/internal/imtypes"
	"dm-go/internal/models"
	"dm-go/internal/storage"
)

const (
	maxNicknameLength = 100
	maxBioLength      = 500
)

// ProfileUpdate 描述一次资料更新，nil 字段保持不变，空字符串表示清空。
type ProfileUpdate struct {
	Nickname  *string `json:"nickname,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

// UserService 定义了用户相关服务的接口。
type UserService interface {
	GetUserProfile(ctx context.Context, userID uint) (*models.User, error)
	UpdateUserProfile(ctx context.Context, userID uint, update ProfileUpdate) (*models.User, error)
	SearchUsers(ctx context.Context, query string, currentUserID uint) ([]models.User, error)
}

// userService 是 UserService 的实现。
type userService struct {
	userRepo storage.UserRepository
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo storage.UserRepository) UserService {
	return &userService{userRepo: userRepo}
}

// GetUserProfile 获取用户的个人资料。
func (s *userService) GetUserProfile(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("获取用户 %d 失败: %w: %v", userID, imtypes.ErrPersistence, err)
	}
	user.PasswordHash = ""
	return user, nil
}

// UpdateUserProfile 更新用户的昵称、头像和简介。
func (s *userService) UpdateUserProfile(ctx context.Context, userID uint, update ProfileUpdate) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("获取用户 %d 失败: %w: %v", userID, imtypes.ErrPersistence, err)
	}

	if update.Nickname != nil {
		nickname := strings.TrimSpace(*update.Nickname)
		if nickname == "" || utf8.RuneCountInString(nickname) > maxNicknameLength {
			return nil, fmt.Errorf("昵称长度必须在 1 到 %d 之间: %w", maxNicknameLength, imtypes.ErrValidation)
		}
		user.Nickname = nickname
	}
	if update.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*update.AvatarURL)
	}
	if update.Bio != nil {
		if utf8.RuneCountInString(*update.Bio) > maxBioLength {
			return nil, fmt.Errorf("简介不能超过 %d 个字符: %w", maxBioLength, imtypes.ErrValidation)
		}
		user.Bio = *update.Bio
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("更新用户 %d 资料失败: %w: %v", userID, imtypes.ErrPersistence, err)
	}
	user.PasswordHash = ""
	return user, nil
}

// SearchUsers 按用户名或昵称搜索。
func (s *userService) SearchUsers(ctx context.Context, query string, currentUserID uint) ([]models.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("搜索关键字不能为空: %w", imtypes.ErrValidation)
	}
	users, err := s.userRepo.SearchUsers(ctx, query, currentUserID)
	if err != nil {
		return nil, fmt.Errorf("搜索用户失败: %w: %v", imtypes.ErrPersistence, err)
	}
	return users, nil
}
