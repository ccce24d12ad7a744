package storage

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dm-go/internal/config"
	"dm-go/internal/imtypes"
)

func TestLocalStorageService_UploadFile(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewLocalStorageService(config.StorageConfig{LocalPath: dir, BaseURL: "/uploads/"})
	require.NoError(t, err)

	payload := []byte("not-really-a-png")
	info, err := svc.UploadFile(context.Background(), bytes.NewReader(payload), int64(len(payload)), "cat.png", "image/png")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(info.URL, "/uploads/"))
	require.True(t, strings.HasSuffix(info.URL, ".png"))
	require.Equal(t, int64(len(payload)), info.Size)

	data, err := os.ReadFile(info.Path)
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestLocalStorageService_RejectsNonImages(t *testing.T) {
	svc, err := NewLocalStorageService(config.StorageConfig{LocalPath: t.TempDir(), BaseURL: "/uploads"})
	require.NoError(t, err)

	_, err = svc.UploadFile(context.Background(), strings.NewReader("x"), 1, "a.txt", "text/plain")
	require.ErrorIs(t, err, imtypes.ErrValidation)

	_, err = svc.UploadFile(context.Background(), strings.NewReader("xy"), 5, "a.png", "image/png")
	require.ErrorIs(t, err, imtypes.ErrValidation)
}
