package filesystem

import (
	"bytes"
	"context"
	"testing"

	"danmurec/pkg/contract"
)

// BenchmarkAppend 单行弹幕追加（每次打开/关闭）。
func BenchmarkAppend(b *testing.B) {
	dir := b.TempDir()
	w, err := New(&Options{OutputDir: dir})
	if err != nil {
		b.Fatalf("创建 Writer 失败: %v", err)
	}
	line := []byte(`Dialogue: 0,00:00:01.00,00:00:09.00,R2L,,0,0,0,,{\move(1992,36,-72,36)}测试弹幕` + "\n")
	id := contract.ArtifactID("bench.ass")
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := w.Append(ctx, id, bytes.NewReader(line)); err != nil {
			b.Fatalf("追加失败: %v", err)
		}
	}
}
