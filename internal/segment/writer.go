package segment

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"danmurec/internal/diag"
	"danmurec/internal/track"
	"danmurec/pkg/contract"
)

const comp = "segment"

// PartVerb: 模板中的分段序号占位符。
const PartVerb = "%03d"

// DefaultCheckInterval: 轮转检查周期。
const DefaultCheckInterval = 5 * time.Second

// Options: 分段写出器配置。
type Options struct {
	Out             contract.Writer
	Template        string        // 输出路径模板（不含 .ass），PartVerb 替换为分段序号
	SegmentLength   float64       // 秒；<=0 表示不轮转
	CheckInterval   time.Duration // <=0 使用 DefaultCheckInterval
	DisplayDuration float64       // 秒
	Style           Style

	Logger   *diag.Logger
	Terminal *diag.Terminal
	Now      func() time.Time
}

// SegmentPath 将模板中的 PartVerb 替换为分段序号并补 .ass 扩展名。
func SegmentPath(template string, part int) contract.ArtifactID {
	p := strings.ReplaceAll(template, PartVerb, fmt.Sprintf("%03d", part))
	return contract.NormalizeFileID(p + ".ass")
}

type request struct {
	msg   contract.Message
	place track.Placement
	res   chan error
}

// Writer: 分段写出器。
// 单属主 goroutine 持有分段序号、当前路径与全部文件操作；
// Emit 经请求通道提交并等待结果，轮转由属主内的 ticker 驱动。
type Writer struct {
	opts   Options
	alpha  string
	header []byte

	reqs    chan request
	done    chan struct{}
	started atomic.Bool
	partNow atomic.Int64

	// 仅属主 goroutine 访问
	start  time.Time
	part   int
	active contract.ArtifactID

	// done 关闭前写入
	err error
}

// New 校验配置并构造写出器（不做 I/O）。
func New(opts Options) (*Writer, error) {
	if opts.Out == nil {
		return nil, fmt.Errorf("segment: %w: writer is nil", contract.ErrInvalidInput)
	}
	if strings.TrimSpace(opts.Template) == "" {
		return nil, fmt.Errorf("segment: %w: empty template", contract.ErrInvalidInput)
	}
	if opts.DisplayDuration <= 0 {
		return nil, fmt.Errorf("segment: %w: display_duration must be > 0", contract.ErrInvalidInput)
	}
	if opts.SegmentLength < 0 {
		opts.SegmentLength = 0
	}
	// 轮转时模板必须能区分分段
	if opts.SegmentLength > 0 && !strings.Contains(opts.Template, PartVerb) {
		opts.Template += "." + PartVerb
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Writer{
		opts:   opts,
		alpha:  OpacityHex(opts.Style.Opacity),
		header: []byte(Header(opts.Style)),
		reqs:   make(chan request),
		done:   make(chan struct{}),
	}, nil
}

// Start 固定起点、同步创建 0 号分段，然后启动属主 goroutine。
// ctx 取消即停止属主；此后的 Emit 返回 ErrWriterClosed。
func (w *Writer) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("segment: %w: already started", contract.ErrInvalidInput)
	}
	if err := w.begin(ctx); err != nil {
		w.err = err
		close(w.done)
		return err
	}
	go w.run(ctx)
	return nil
}

func (w *Writer) begin(ctx context.Context) error {
	w.start = w.opts.Now()
	w.part = 0
	return w.create(ctx, 0)
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	var tick <-chan time.Time
	if w.opts.SegmentLength > 0 {
		t := time.NewTicker(w.opts.CheckInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.reqs:
			req.res <- w.append(ctx, req.msg, req.place)
		case <-tick:
			if err := w.checkRotate(ctx); err != nil {
				w.err = err
				return
			}
		}
	}
}

// checkRotate 按墙钟推进分段序号；停顿过久时补齐全部中间分段。
func (w *Writer) checkRotate(ctx context.Context) error {
	if w.opts.SegmentLength <= 0 {
		return nil
	}
	elapsed := w.opts.Now().Sub(w.start).Seconds()
	target := int(elapsed / w.opts.SegmentLength)
	for w.part < target {
		if err := w.create(ctx, w.part+1); err != nil {
			return err
		}
	}
	return nil
}

// create 原子写出分段头并切换为当前分段。
func (w *Writer) create(ctx context.Context, part int) error {
	t0 := time.Now()
	id := SegmentPath(w.opts.Template, part)
	if err := w.opts.Out.Create(ctx, id, bytes.NewReader(w.header)); err != nil {
		code := string(diag.Classify(err))
		w.opts.Logger.ErrorWithKV(comp, code, err.Error(), &t0, string(id), map[string]string{"part": strconv.Itoa(part)})
		diag.IncError(comp, code)
		return fmt.Errorf("segment: create %s: %w", id, err)
	}
	w.part = part
	w.active = id
	w.partNow.Store(int64(part))
	diag.IncOp(comp, "rotate", "success")
	diag.ObserveDuration(comp, "rotate", time.Since(t0).Milliseconds())
	w.opts.Logger.Info(comp, string(id), "segment started", map[string]string{"part": strconv.Itoa(part)})
	w.opts.Terminal.SegmentStart(string(id), part)
	return nil
}

func (w *Writer) append(ctx context.Context, m contract.Message, p track.Placement) error {
	t0 := m.Time - float64(w.part)*w.opts.SegmentLength
	line := FormatEvent(m, p, t0, w.opts.DisplayDuration, w.alpha)
	if err := w.opts.Out.Append(ctx, w.active, strings.NewReader(line+"\n")); err != nil {
		code := string(diag.Classify(err))
		w.opts.Logger.ErrorWithKV(comp, code, err.Error(), nil, string(w.active), nil)
		diag.IncError(comp, code)
		return fmt.Errorf("segment: append %s: %w", w.active, err)
	}
	return nil
}

// Emit 提交一条已放置的弹幕并等待写入结果。
func (w *Writer) Emit(ctx context.Context, m contract.Message, p track.Placement) error {
	if !w.started.Load() {
		return fmt.Errorf("segment: %w: not started", contract.ErrWriterClosed)
	}
	res := make(chan error, 1)
	select {
	case w.reqs <- request{msg: m, place: p, res: res}:
	case <-w.done:
		if w.err != nil {
			return w.err
		}
		return contract.ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// 属主已接收请求，必定回复
	return <-res
}

// Wait 等待属主退出，返回导致退出的错误（正常取消为 nil）。未启动时立即返回。
func (w *Writer) Wait() error {
	if !w.started.Load() {
		return nil
	}
	<-w.done
	return w.err
}

// Done 在属主退出后关闭。
func (w *Writer) Done() <-chan struct{} { return w.done }

// Part 返回当前分段序号（可并发读取）。
func (w *Writer) Part() int { return int(w.partNow.Load()) }
