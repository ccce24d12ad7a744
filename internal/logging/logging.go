// Package logging 统一配置 jwalterweatherman 的输出级别。
package logging

import (
	"strings"

	jww "github.com/spf13/jwalterweatherman"
)

// ParseLevel 把配置中的日志级别字符串转换为 jww 的阈值，未知值按 info 处理。
func ParseLevel(level string) jww.Threshold {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return jww.LevelTrace
	case "debug":
		return jww.LevelDebug
	case "warn", "warning":
		return jww.LevelWarn
	case "error":
		return jww.LevelError
	case "fatal":
		return jww.LevelFatal
	default:
		return jww.LevelInfo
	}
}

// Init sets the stdout threshold for all jww loggers.
func Init(level string) {
	jww.SetStdoutThreshold(ParseLevel(level))
}
