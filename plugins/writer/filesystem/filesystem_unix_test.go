//go:build !windows

package filesystem

import (
	"errors"
	"path/filepath"
	"testing"

	"danmurec/pkg/contract"
)

// 分段模板可带子目录，但不得逃出输出根目录。
func TestMapPathUnix(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	for _, id := range []string{"/abs/danmaku-000.ass", "..", ".", "../danmaku-000.ass", "room/../../x.ass"} {
		if _, err := w.mapPath(contract.ArtifactID(id)); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("标识 %s 应被拒绝", id)
		}
	}
	got, err := w.mapPath("room7/./danmaku-001.ass")
	if err != nil || got != filepath.Join(dir, "room7", "danmaku-001.ass") {
		t.Fatalf("子目录映射错误: %s %v", got, err)
	}
}
