package contract

import (
	"context"
	"io"
)

// ArtifactID: 持久化工件标识（相对输出根的路径，经 NormalizeFileID 规范化）。
type ArtifactID = FileID

// Writer: 字幕分段的持久化介质（文件系统等）。
// 约束：
//  1. 同一 ArtifactID 单写者（由分段属主 goroutine 保证）；
//  2. Create 以原子方式写出完整初始内容（已存在则替换）；
//  3. Append 追加写入，目标不存在时创建；
//  4. 流式透传字节，不读取/修改业务内容；
//  5. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Create(ctx context.Context, id ArtifactID, r io.Reader) error
	Append(ctx context.Context, id ArtifactID, r io.Reader) error
}
