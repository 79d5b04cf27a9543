package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Status: 录制会话的瞬时计数（状态行使用）。
type Status struct {
	Part     int
	Received int64
	Shown    int64
	Dropped  int64
	Invalid  int64
	Restarts int64
}

// Terminal: 终端状态提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - TTY: 单行 \r 覆盖刷新；非 TTY: 仅关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	source   string
	runStart time.Time
	segment  string

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// NewTerminal 构造终端提示器；enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart: 记录来源并打印起始行。
func (t *Terminal) RunStart(source, target string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.source = safe(source)
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] 来源=%s | 目标=%s", t.source, shorten(safe(target), 64)))
}

// SegmentStart: 新分段开始（两种模式均打印一行）。
func (t *Terminal) SegmentStart(path string, part int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.segment = shortenBase(path, 48)
	t.clearInline()
	t.println(fmt.Sprintf("[segment] %s | 分段=%d", t.segment, part))
}

// Restart: 来源故障后的重连提示。
func (t *Terminal) Restart(attempt int, delay time.Duration, code string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.clearInline()
	t.println(fmt.Sprintf("[retry] 第 %d 次重连 | 等待 %s | 原因 %s", attempt, formatDur(delay), safe(code)))
}

// Progress: 周期性计数刷新（仅 TTY，≥100ms 节流）。
func (t *Terminal) Progress(st Status) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(fmt.Sprintf("[rec] %s | 分段 %d | 上屏 %d/%d | 丢弃 %d | 无效 %d | 重连 %d | 用时 %s",
		t.segment, st.Part, st.Shown, st.Received, st.Dropped, st.Invalid, st.Restarts, formatSince(t.runStart)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration, st Status) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	t.clearInline()
	t.println(fmt.Sprintf("[%s] 录制结束 | 分段数 %d | 上屏 %d/%d | 丢弃 %d | 无效 %d | 重连 %d | 总用时 %s",
		tag, st.Part+1, st.Shown, st.Received, st.Dropped, st.Invalid, st.Restarts, formatDur(dur)))
}

func (t *Terminal) clearInline() {
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 新行比旧行短时以空格覆盖残留
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	return shorten(filepath.Base(strings.TrimSpace(s)), max)
}

func shorten(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if visLen(s) <= max {
		return s
	}
	rs := []rune(s)
	return string(rs[:max-1]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
