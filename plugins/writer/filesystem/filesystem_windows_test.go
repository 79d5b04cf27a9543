//go:build windows

package filesystem

import (
	"errors"
	"path/filepath"
	"testing"

	"danmurec/pkg/contract"
)

// 卷名与绝对路径一律拒绝；正斜杠模板按子目录映射。
func TestMapPathWindows(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	for _, id := range []string{"C:\\abs\\danmaku-000.ass", "C:rel.ass", "..", ".", "..\\danmaku-000.ass"} {
		if _, err := w.mapPath(contract.ArtifactID(id)); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("标识 %s 应被拒绝", id)
		}
	}
	got, err := w.mapPath("room7/danmaku-001.ass")
	if err != nil || got != filepath.Join(dir, "room7", "danmaku-001.ass") {
		t.Fatalf("子目录映射错误: %s %v", got, err)
	}
}
