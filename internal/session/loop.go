package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"danmurec/internal/diag"
	"danmurec/pkg/contract"
)

const comp = "loop"

// 默认重连参数。
const (
	DefaultBase        = 5 * time.Second
	DefaultCap         = 300 * time.Second
	DefaultStopTimeout = 5 * time.Second
	DefaultQueueSize   = 1024
)

// errSourceStopped: 来源在未被取消时自行返回 nil，同样按故障重建。
var errSourceStopped = errors.New("source stopped unexpectedly")

// Sink 接收已打点且合法的弹幕；返回错误即终止循环。
type Sink func(ctx context.Context, m contract.Message) error

// Settings: 弹性消费循环的运行参数。
type Settings struct {
	Factory     contract.SourceFactory
	Base        time.Duration // 线性退避步长
	Cap         time.Duration // 退避上限
	ResetAfter  time.Duration // >0 时，运行时长达到该值的失败先清零计数
	StopTimeout time.Duration // 停机时等待来源退出的上限
	QueueSize   int

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	Logger   *diag.Logger
	Terminal *diag.Terminal
}

// Backoff = min(base*retry, cap)。
func Backoff(retry int, base, limit time.Duration) time.Duration {
	if retry < 1 {
		return 0
	}
	d := base * time.Duration(retry)
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// Loop: 持有当前来源实例，排空、重建并把合法弹幕转交给 sink。
// 队列在多个来源实例之间复用；调度在本 goroutine 上同步进行。
type Loop struct {
	set  Settings
	sink Sink

	received atomic.Int64
	invalid  atomic.Int64
	restarts atomic.Int64
}

// NewLoop 校验参数并补默认值。
func NewLoop(set Settings, sink Sink) (*Loop, error) {
	if set.Factory == nil || sink == nil {
		return nil, fmt.Errorf("loop: %w: factory and sink are required", contract.ErrInvalidInput)
	}
	if set.Base <= 0 {
		set.Base = DefaultBase
	}
	if set.Cap <= 0 {
		set.Cap = DefaultCap
	}
	if set.StopTimeout <= 0 {
		set.StopTimeout = DefaultStopTimeout
	}
	if set.QueueSize <= 0 {
		set.QueueSize = DefaultQueueSize
	}
	if set.Now == nil {
		set.Now = time.Now
	}
	if set.Sleep == nil {
		set.Sleep = sleepWithCtx
	}
	return &Loop{set: set, sink: sink}, nil
}

// Received/Invalid/Restarts: 计数（可并发读取）。
func (l *Loop) Received() int64 { return l.received.Load() }
func (l *Loop) Invalid() int64  { return l.invalid.Load() }
func (l *Loop) Restarts() int64 { return l.restarts.Load() }

// Run 运行至 ctx 取消（返回 nil）或 sink 失败（返回该错误）。
// 来源故障永不上抛：记录 warn 后按 min(base*retry, cap) 退避并重建。
func (l *Loop) Run(ctx context.Context, start time.Time) error {
	queue := make(chan contract.Message, l.set.QueueSize)
	retry := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		runStart := l.set.Now()
		cause, err := l.attempt(ctx, queue, start)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if l.set.ResetAfter > 0 && l.set.Now().Sub(runStart) >= l.set.ResetAfter {
			retry = 0
		}
		retry++
		delay := Backoff(retry, l.set.Base, l.set.Cap)
		l.restarts.Add(1)
		code := diag.Classify(cause)
		l.set.Logger.Warn(comp, string(code), "source terminated, restarting", map[string]string{
			"attempt": strconv.Itoa(retry),
			"delay":   delay.String(),
			"error":   cause.Error(),
		})
		diag.IncError(comp, string(code))
		diag.IncOp(comp, "restart", "error")
		l.set.Terminal.Restart(retry, delay, string(code))
		if err := l.set.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// attempt 构造并运行一个来源实例，直到其终止（返回 cause）或 sink 失败（返回 fatal）。
// 构造失败同样视为一次终止。
func (l *Loop) attempt(ctx context.Context, queue chan contract.Message, start time.Time) (cause, fatal error) {
	src, err := l.set.Factory()
	if err != nil {
		return fmt.Errorf("source factory: %w", err), nil
	}
	if src == nil {
		return fmt.Errorf("source factory: %w: nil source", contract.ErrInvalidInput), nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- src.Run(runCtx, queue) }()

	for {
		select {
		case m := <-queue:
			if err := l.forward(ctx, m, start); err != nil {
				l.stop(src, cancel, done)
				return nil, err
			}
		case rerr := <-done:
			_ = src.Close()
			// 故障前已入队的消息先于重启转发
			if err := l.flush(ctx, queue, start); err != nil {
				return nil, err
			}
			if rerr == nil {
				rerr = errSourceStopped
			}
			return rerr, nil
		case <-ctx.Done():
			l.stop(src, cancel, done)
			return ctx.Err(), nil
		}
	}
}

func (l *Loop) flush(ctx context.Context, queue chan contract.Message, start time.Time) error {
	for {
		select {
		case m := <-queue:
			if err := l.forward(ctx, m, start); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// forward 打点、校验并转交；非法弹幕静默丢弃。
func (l *Loop) forward(ctx context.Context, m contract.Message, start time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Time = l.set.Now().Sub(start).Seconds()
	l.received.Add(1)
	if !contract.Valid(m) {
		l.invalid.Add(1)
		diag.IncOp(comp, "forward", "invalid")
		return nil
	}
	return l.sink(ctx, m)
}

// stop 取消并关闭来源，最多等待 StopTimeout。
func (l *Loop) stop(src contract.Source, cancel context.CancelFunc, done <-chan error) {
	cancel()
	if err := src.Close(); err != nil {
		l.set.Logger.Warn(comp, string(diag.Classify(err)), "source close failed", map[string]string{"error": err.Error()})
	}
	t := time.NewTimer(l.set.StopTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		l.set.Logger.Warn(comp, string(diag.CodeCancel), "source stop timeout exceeded", map[string]string{"timeout": l.set.StopTimeout.String()})
	}
}

// sleepWithCtx: 可取消的 sleep。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
