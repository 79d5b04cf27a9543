package diag

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Logger 为最小结构化日志器：单行 JSON，写入轮转文件；dir 为空时写 stderr。
// nil *Logger 的所有方法均为 no-op，便于测试与可选注入。
type Logger struct {
	corrID string
	level  Level
	sink   *RotatingFile
	mu     sync.Mutex
}

// NewLogger 以 level 初始化，日志写入 dir（10MiB 轮转）；dir 为空时写 stderr。
func NewLogger(corrID, level, dir string) *Logger {
	lvl := parseLevel(strings.TrimSpace(level))
	var sink *RotatingFile
	if strings.TrimSpace(dir) != "" {
		sink = NewRotatingFile(dir, 10*1024*1024)
	}
	return &Logger{corrID: corrID, level: lvl, sink: sink}
}

// NewCorrID 生成会话级关联 ID。
func NewCorrID() string { return uuid.NewString() }

// CorrID 返回关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Event 为标准事件结构。
type Event struct {
	Level   string            `json:"level"`
	TS      string            `json:"ts"`
	CorrID  string            `json:"corr_id"`
	Comp    string            `json:"comp"`
	Stage   string            `json:"stage"` // start|finish|warn|error|info
	Code    string            `json:"code,omitempty"`
	DurMS   int64             `json:"dur_ms,omitempty"`
	Count   int64             `json:"count,omitempty"`
	Segment string            `json:"segment,omitempty"`
	Msg     string            `json:"msg"`
	KV      map[string]string `json:"kv,omitempty"`
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		_, _ = os.Stderr.Write(append(b, '\n'))
		return
	}
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Close 关闭文件 sink。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWithKV 记录带键值的 start。
func (l *Logger) StartWithKV(comp, msg string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// Info 记录一次性 info 事件（如分段轮转）。
func (l *Logger) Info(comp, segment, msg string, kv map[string]string) {
	l.log(Info, Event{Comp: comp, Stage: "info", Segment: segment, Msg: msg, KV: kv})
}

// Warn 记录可恢复故障（如来源断开后重试）。
func (l *Logger) Warn(comp, code, msg string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", Code: code, Msg: msg, KV: kv})
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", nil)
}

// ErrorWithKV 支持附带分段与键值对。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, segment string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, Segment: segment, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l    *Logger
	comp string
	t0   time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, Msg: msg})
}

// Debug 输出调试事件（仅在 level=debug 时生效）。
func (l *Logger) Debug(comp, msg string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "debug", Msg: msg, KV: kv})
}
