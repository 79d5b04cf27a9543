package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RotatingFile 将日志行按自然日分文件写入 dir，单日内超出 maxBytes 再按序号滚动。
// - 当日文件：danmurec-YYYYMMDD.log（本地日期）；
// - 超限时当日文件改名为 danmurec-YYYYMMDD.N.log（N 从 1 递增，取首个未占用序号）后重建；
// - 跨日的首次写入切换到新日期文件，旧文件原样保留。
type RotatingFile struct {
	dir      string
	maxBytes int64
	now      func() time.Time

	mu      sync.Mutex
	f       *os.File
	day     string
	curSize int64
}

const logPrefix = "danmurec-"

func NewRotatingFile(dir string, maxBytes int64) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024 // 10 MiB 默认
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes, now: time.Now}
}

func dayPath(dir, day string) string { return filepath.Join(dir, logPrefix+day+".log") }

func (w *RotatingFile) WriteLine(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	day := w.now().Format("20060102")
	if w.f != nil && w.day != day {
		_ = w.f.Close()
		w.f = nil
	}
	if err := w.open(day); err != nil {
		return err
	}
	lineLen := int64(len(b) + 1)
	// 空文件总是接收首行，超长单行不会无限滚动
	if w.curSize > 0 && w.curSize+lineLen > w.maxBytes {
		if err := w.roll(); err != nil {
			return err
		}
	}
	n, err := w.f.Write(append(b, '\n'))
	w.curSize += int64(n)
	return err
}

func (w *RotatingFile) open(day string) error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(dayPath(w.dir, day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f, w.day, w.curSize = f, day, 0
	if st, err := f.Stat(); err == nil {
		w.curSize = st.Size()
	}
	return nil
}

// roll 将当日文件改名为下一个空闲序号并重新打开。
func (w *RotatingFile) roll() error {
	day := w.day
	_ = w.f.Close()
	w.f = nil
	cur := dayPath(w.dir, day)
	for seq := 1; ; seq++ {
		dst := filepath.Join(w.dir, fmt.Sprintf("%s%s.%d.log", logPrefix, day, seq))
		if _, err := os.Lstat(dst); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return err
		}
		if err := os.Rename(cur, dst); err != nil {
			return fmt.Errorf("rename rotated log: %w", err)
		}
		break
	}
	return w.open(day)
}

// Close 关闭当前文件句柄
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f != nil {
		err := w.f.Close()
		w.f = nil
		return err
	}
	return nil
}
