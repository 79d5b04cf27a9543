package contract

import "errors"

// 最小错误分类（哨兵），供上层策略判定与日志分类。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvalidInput: 参数/配置非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrConnectionLost: 上游连接断开（可重试）。
	ErrConnectionLost = errors.New("connection lost")
	// ErrSourceExhausted: 有限来源（回放/脚本）已耗尽。
	ErrSourceExhausted = errors.New("source exhausted")
	// ErrPayloadInvalid: 上游载荷无法解码。
	ErrPayloadInvalid = errors.New("payload invalid")
	// ErrWriterClosed: 分段写出器已停止，不再接受请求。
	ErrWriterClosed = errors.New("writer closed")
)
