package diag

import (
	"strings"
	"sync"
)

// 进程内最小指标（计数器），供状态行与退出摘要读取。
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计值）

var metrics = struct {
	mu   sync.Mutex
	ops  map[string]int64
	errs map[string]int64
	dur  map[string]int64
}{
	ops:  map[string]int64{},
	errs: map[string]int64{},
	dur:  map[string]int64{},
}

func key(parts ...string) string { return strings.Join(parts, "/") }

// IncOp 累加操作计数（result=success|error|dropped|invalid）。
func IncOp(comp, stage, result string) {
	metrics.mu.Lock()
	metrics.ops[key(comp, stage, result)]++
	metrics.mu.Unlock()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	metrics.mu.Lock()
	metrics.errs[key(comp, code)]++
	metrics.mu.Unlock()
}

// ObserveDuration 累计阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	metrics.mu.Lock()
	metrics.dur[key(comp, stage)] += durMS
	metrics.mu.Unlock()
}

// Metrics: 某一时刻的计数器副本。
type Metrics struct {
	Ops        map[string]int64
	Errors     map[string]int64
	DurationMS map[string]int64
}

// Op 读取 comp/stage/result 计数。
func (m Metrics) Op(comp, stage, result string) int64 { return m.Ops[key(comp, stage, result)] }

// Error 读取 comp/code 计数。
func (m Metrics) Error(comp, code string) int64 { return m.Errors[key(comp, code)] }

// Snapshot 返回计数器副本。
func Snapshot() Metrics {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	return Metrics{Ops: clone(metrics.ops), Errors: clone(metrics.errs), DurationMS: clone(metrics.dur)}
}

// ResetMetrics 清零（测试使用）。
func ResetMetrics() {
	metrics.mu.Lock()
	metrics.ops = map[string]int64{}
	metrics.errs = map[string]int64{}
	metrics.dur = map[string]int64{}
	metrics.mu.Unlock()
}

func clone(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
