package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"danmurec/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeExhausted Code = "exhausted"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// sentinelCodes: 哨兵错误到分类的映射，按顺序匹配（取消优先）。
var sentinelCodes = []struct {
	err  error
	code Code
}{
	{context.Canceled, CodeCancel},
	{context.DeadlineExceeded, CodeCancel},
	{contract.ErrConnectionLost, CodeNetwork},
	{contract.ErrSourceExhausted, CodeExhausted},
	{contract.ErrPayloadInvalid, CodeProtocol},
	{contract.ErrInvalidInput, CodeInvariant},
	{contract.ErrPathInvalid, CodeInvariant},
	{contract.ErrWriterClosed, CodeIO},
}

// Classify 将错误归为最小分类。
// 先匹配哨兵，再看标准库错误类型；不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}
	var perr *os.PathError
	var nerr net.Error
	switch {
	case errors.As(err, &perr):
		return CodeIO
	case errors.As(err, &nerr):
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
