package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"danmurec/internal/diag"
	"danmurec/internal/segment"
	"danmurec/internal/track"
	"danmurec/pkg/contract"
)

// Config: 会话装配所需组件。
type Config struct {
	Loop      Settings
	Scheduler *track.Scheduler
	Writer    *segment.Writer
	// StatusInterval: 终端状态刷新周期；<=0 使用 500ms。
	StatusInterval time.Duration
}

// Session: 录制会话的启停控制面。
// Start 固定 start_time 并启动 循环 → 调度 → 分段写出；Stop 幂等。
type Session struct {
	cfg   Config
	loop  *Loop
	sched *track.Scheduler
	out   *segment.Writer
	now   func() time.Time

	shown   atomic.Int64
	dropped atomic.Int64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	start   time.Time

	stopped atomic.Bool
	done    chan struct{}
	err     error // done 关闭前写入
}

// New 构造会话（不启动）。
func New(cfg Config) (*Session, error) {
	if cfg.Scheduler == nil || cfg.Writer == nil {
		return nil, fmt.Errorf("session: %w: scheduler and writer are required", contract.ErrInvalidInput)
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 500 * time.Millisecond
	}
	s := &Session{cfg: cfg, sched: cfg.Scheduler, out: cfg.Writer, done: make(chan struct{})}
	loop, err := NewLoop(cfg.Loop, s.Add)
	if err != nil {
		return nil, err
	}
	s.loop = loop
	s.now = loop.set.Now
	return s, nil
}

// Start 固定起点、创建首个分段并启动全部任务。
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped.Load() {
		return fmt.Errorf("session: %w: already started or stopped", contract.ErrInvalidInput)
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	timer := s.cfg.Loop.Logger.Start("session", "start")
	if err := s.out.Start(runCtx); err != nil {
		cancel()
		s.err = err
		close(s.done)
		return err
	}
	s.start = s.now()
	go s.supervise(runCtx, cancel, timer)
	if s.cfg.Loop.Terminal != nil {
		go s.refresh(runCtx)
	}
	return nil
}

func (s *Session) supervise(ctx context.Context, cancel context.CancelFunc, timer *diag.Timer) {
	defer close(s.done)
	errc := make(chan error, 1)
	go func() { errc <- s.loop.Run(ctx, s.start) }()

	var err error
	select {
	case err = <-errc:
	case <-s.out.Done():
		// 写出属主先退出（轮转失败或已取消）
		err = s.out.Wait()
		cancel()
		if lerr := <-errc; err == nil {
			err = lerr
		}
	}
	cancel()
	if werr := s.out.Wait(); err == nil {
		err = werr
	}
	st := s.Status()
	if err != nil {
		code := string(diag.Classify(err))
		s.cfg.Loop.Logger.ErrorWithKV("session", code, err.Error(), nil, "", nil)
		diag.IncError("session", code)
	} else {
		timer.Finish("stop", st.Shown)
	}
	s.err = err
}

func (s *Session) refresh(ctx context.Context) {
	t := time.NewTicker(s.cfg.StatusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.cfg.Loop.Terminal.Progress(s.Status())
		}
	}
}

// Add 为弹幕选择车道并写出；拥塞丢弃不是错误。
func (s *Session) Add(ctx context.Context, m contract.Message) error {
	p, err := s.sched.Place(m)
	if errors.Is(err, track.ErrDropped) {
		s.dropped.Add(1)
		diag.IncOp("session", "place", "dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.out.Emit(ctx, m, p); err != nil {
		return err
	}
	s.shown.Add(1)
	diag.IncOp("session", "emit", "success")
	return nil
}

// Stop 请求停止；幂等，总是返回 true。
func (s *Session) Stop() bool {
	if s.stopped.CompareAndSwap(false, true) {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	return true
}

// Wait 等待会话结束并返回首个致命错误（正常停止为 nil）。未启动时立即返回 nil。
func (s *Session) Wait() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	<-s.done
	return s.err
}

// StartTime 返回会话起点（Start 之后有效）。
func (s *Session) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start
}

// Status 返回瞬时计数。
func (s *Session) Status() diag.Status {
	return diag.Status{
		Part:     s.out.Part(),
		Received: s.loop.Received(),
		Shown:    s.shown.Load(),
		Dropped:  s.dropped.Load(),
		Invalid:  s.loop.Invalid(),
		Restarts: s.loop.Restarts(),
	}
}
