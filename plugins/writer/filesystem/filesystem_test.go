package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"danmurec/pkg/contract"
)

func noTmpLeft(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("临时文件未清理: %s", e.Name())
		}
	}
}

// TestCreateAtomic 原子创建分段
func TestCreateAtomic(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Create(context.Background(), "danmaku-000.ass", bytes.NewBufferString("[Script Info]\n")); err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "danmaku-000.ass"))
	if err != nil || string(b) != "[Script Info]\n" {
		t.Fatalf("内容不符 %v %q", err, string(b))
	}
	noTmpLeft(t, dir)
}

// 目标已存在时 Create 应替换为新内容。
func TestCreateReplaceExisting(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	ctx := context.Background()
	if err := w.Create(ctx, "out.ass", bytes.NewBufferString("v1")); err != nil {
		t.Fatalf("create v1: %v", err)
	}
	if err := w.Create(ctx, "out.ass", bytes.NewBufferString("v2")); err != nil {
		t.Fatalf("create v2: %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "out.ass"))
	if string(b) != "v2" {
		t.Fatalf("期望替换为 v2, got %q", string(b))
	}
	noTmpLeft(t, dir)
}

// TestCreateThenAppend 头部 + 多次追加按顺序落盘
func TestCreateThenAppend(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	ctx := context.Background()
	if err := w.Create(ctx, "live/seg.ass", strings.NewReader("H\n")); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, line := range []string{"a\n", "b\n", "c\n"} {
		if err := w.Append(ctx, "live/seg.ass", strings.NewReader(line)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	b, _ := os.ReadFile(filepath.Join(dir, "live", "seg.ass"))
	if string(b) != "H\na\nb\nc\n" {
		t.Fatalf("追加顺序错误: %q", string(b))
	}
}

// 追加到不存在的目标时创建之。
func TestAppendCreatesMissing(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	if err := w.Append(context.Background(), "x.ass", strings.NewReader("line\n")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "x.ass")); err != nil {
		t.Fatalf("文件未创建: %v", err)
	}
}

// TestPathInvalid 路径越界
func TestPathInvalid(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	err := w.Create(context.Background(), "../bad.ass", bytes.NewBufferString("x"))
	if !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("期望 ErrPathInvalid, got %v", err)
	}
	err = w.Append(context.Background(), "../bad.ass", bytes.NewBufferString("x"))
	if !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("期望 ErrPathInvalid, got %v", err)
	}
}

// TestFlat 扁平化仅保留文件名
func TestFlat(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir, Flat: true})
	if err := w.Create(context.Background(), "a/b/c.ass", strings.NewReader("v")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "c.ass")); err != nil {
		t.Fatalf("扁平输出缺失: %v", err)
	}
}

// TestNonAtomic 关闭原子写时截断覆盖
func TestNonAtomic(t *testing.T) {
	dir := t.TempDir()
	off := false
	w, _ := New(&Options{OutputDir: dir, Atomic: &off})
	ctx := context.Background()
	_ = w.Create(ctx, "sub/out.ass", strings.NewReader("long content"))
	if err := w.Create(ctx, "sub/out.ass", strings.NewReader("v")); err != nil {
		t.Fatalf("create: %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "sub", "out.ass"))
	if string(b) != "v" {
		t.Fatalf("未截断: %q", string(b))
	}
}

// TestCtxCancel 上下文取消
func TestCtxCancel(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Create(ctx, "a.ass", strings.NewReader("data")); err == nil {
		t.Fatalf("期望 ctx 错误")
	}
	if err := w.Append(ctx, "a.ass", strings.NewReader("data")); err == nil {
		t.Fatalf("期望 ctx 错误")
	}
}

// TestNewInvalid 参数缺失
func TestNewInvalid(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("nil 选项应失败")
	}
	if _, err := New(&Options{OutputDir: "  "}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("空目录应失败: %v", err)
	}
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// TestCreateCopyError 原子写入拷贝失败时清理临时文件
func TestCreateCopyError(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	if err := w.Create(context.Background(), "a.ass", errReader{}); err == nil {
		t.Fatalf("期望拷贝错误")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("残留文件 %v", entries)
	}
}

// TestReaderWithCtxCancel reader 在读取前取消
func TestReaderWithCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := readerWithCtx(ctx, strings.NewReader("data"))
	cancel()
	buf := make([]byte, 1)
	if _, err := r.Read(buf); err == nil {
		t.Fatalf("期望 ctx 错误")
	}
}
