package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dm-go/internal/imtypes"
)

func strPtr(s string) *string { return &s }

func TestUserService_Profile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	svc := NewUserService(env.users)

	profile, err := svc.GetUserProfile(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", profile.Username)
	require.Empty(t, profile.PasswordHash)

	_, err = svc.GetUserProfile(ctx, 404)
	require.ErrorIs(t, err, ErrUserNotFound)
	require.ErrorIs(t, err, imtypes.ErrNotFound)

	updated, err := svc.UpdateUserProfile(ctx, alice.ID, ProfileUpdate{
		Nickname: strPtr(" Ally "),
		Bio:      strPtr("hello there"),
	})
	require.NoError(t, err)
	require.Equal(t, "Ally", updated.Nickname)
	require.Equal(t, "hello there", updated.Bio)

	// 空字符串清空简介，nil 字段保持不变
	updated, err = svc.UpdateUserProfile(ctx, alice.ID, ProfileUpdate{Bio: strPtr("")})
	require.NoError(t, err)
	require.Empty(t, updated.Bio)
	require.Equal(t, "Ally", updated.Nickname)

	reloaded, err := svc.GetUserProfile(ctx, alice.ID)
	require.NoError(t, err)
	require.Empty(t, reloaded.Bio)
	require.Equal(t, "Ally", reloaded.Nickname)

	_, err = svc.UpdateUserProfile(ctx, alice.ID, ProfileUpdate{Nickname: strPtr("   ")})
	require.ErrorIs(t, err, imtypes.ErrValidation)
	_, err = svc.UpdateUserProfile(ctx, alice.ID, ProfileUpdate{Bio: strPtr(strings.Repeat("x", maxBioLength+1))})
	require.ErrorIs(t, err, imtypes.ErrValidation)
}

func TestUserService_Search(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	env.createUser(t, "bob")
	env.createUser(t, "bobby")
	svc := NewUserService(env.users)

	users, err := svc.SearchUsers(ctx, "bob", alice.ID)
	require.NoError(t, err)
	require.Len(t, users, 2)

	users, err = svc.SearchUsers(ctx, "alice", alice.ID)
	require.NoError(t, err)
	require.Empty(t, users)

	_, err = svc.SearchUsers(ctx, " ", alice.ID)
	require.ErrorIs(t, err, imtypes.ErrValidation)
}
