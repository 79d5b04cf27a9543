package contract

import "context"

// Source: 上游弹幕源（网络连接/回放文件/脚本）。
// 约束：
//  1. Run 异步地把消息投递到 out，运行期间不应自行结束；
//  2. ctx 取消时尽快返回 nil（或 ctx.Err()）；
//  3. 任何其他返回（含 nil 以外的错误、提前返回）均视为故障，由上层重建实例；
//  4. 不得关闭 out（队列在多次重建之间复用）；
//  5. Close 幂等，用于有序停机。
type Source interface {
	Run(ctx context.Context, out chan<- Message) error
	Close() error
}

// SourceFactory: 每次（重）连接调用一次，产出全新的 Source 实例。
type SourceFactory func() (Source, error)
