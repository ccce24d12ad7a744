package imtypes

import "errors"

// 错误分类。放在 imtypes 中，storage / services / handlers / client 共用，避免循环依赖。
// 具体错误用 errors.Wrap 附加上下文，调用方用 errors.Is 判断类别。
var (
	// ErrValidation 输入不合法，例如空消息。不会自动重试。
	ErrValidation = errors.New("validation error")
	// ErrNotFound 消息或用户不存在。
	ErrNotFound = errors.New("not found")
	// ErrForbidden 调用者无权执行该操作，例如删除别人发送的消息。
	ErrForbidden = errors.New("authorization error")
	// ErrTransportUnavailable 目标用户不在线。投递层把它当作 no-op，不向上传播。
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrPersistence 存储操作没有完成。
	ErrPersistence = errors.New("persistence failure")
)
