package services

import (
	"errors"
	"fmt"

	"dm-go/internal/imtypes"
)

var (
	ErrUserAlreadyExists  = fmt.Errorf("用户名或邮箱已存在: %w", imtypes.ErrValidation)
	ErrInvalidCredentials = errors.New("无效的用户名或密码")
	ErrUserNotFound       = fmt.Errorf("用户未找到: %w", imtypes.ErrNotFound)
)
