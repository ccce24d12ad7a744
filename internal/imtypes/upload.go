package imtypes

import (
	"context"
	"io"
)

// FileInfo 是上传成功后返回给客户端的信息。URL 作为图片消息的 image 字段发送。
type FileInfo struct {
	URL      string `json:"url"`
	Path     string `json:"path"` // 存储内部的相对路径
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"`
}

// StorageService 保存上传的图片。图片负载对会话核心是不透明的。
type StorageService interface {
	UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*FileInfo, error)
}
