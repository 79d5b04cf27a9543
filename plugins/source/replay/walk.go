package replay

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"danmurec/pkg/contract"
)

// errStdinMixed: "-" 只能单独出现。
var errStdinMixed = errors.New("replay: stdin '-' cannot be mixed with other roots")

type yieldFunc func(id contract.FileID, rc io.ReadCloser) error

// walker 按稳定顺序枚举录制日志（目录字典序，先子目录后文件）。
type walker struct {
	bufSize int
	exclude map[string]struct{} // 小写基名
	stdin   io.ReadCloser
}

func newWalker(bufSize int, exclude []string) *walker {
	ex := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		if name = strings.TrimSpace(name); name != "" {
			ex[strings.ToLower(name)] = struct{}{}
		}
	}
	return &walker{bufSize: bufSize, exclude: ex, stdin: os.Stdin}
}

// walk 遍历 roots；空或仅 "-" 时读取标准输入。
func (w *walker) walk(ctx context.Context, roots []string, yield yieldFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		// 标准输入由进程持有，不随来源关闭
		return yield(contract.FileID("stdin"), newBufferedCloser(io.NopCloser(w.stdin), w.bufSize))
	}
	for _, s := range roots {
		if s == "-" {
			return errStdinMixed
		}
	}
	for _, root := range roots {
		if err := w.one(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) one(ctx context.Context, root string, yield yieldFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		// 仅跟随指向常规文件的链接；目录链接忽略
		t, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !t.Mode().IsRegular() {
			return nil
		}
		return w.open(root, yield)
	}
	if info.IsDir() {
		return w.dir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return w.open(root, yield)
}

func (w *walker) dir(ctx context.Context, dir string, yield yieldFunc) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := w.exclude[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := w.dir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			continue
		}
		if err := w.open(p, yield); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) open(p string, yield yieldFunc) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	brc := newBufferedCloser(f, w.bufSize)
	if err := yield(contract.NormalizeFileID(p), brc); err != nil {
		_ = brc.Close()
		return err
	}
	return nil
}

// bufferedCloser 组合 bufio.Reader 与底层 Closer。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
