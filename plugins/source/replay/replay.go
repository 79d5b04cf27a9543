package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"danmurec/internal/diag"
	"danmurec/pkg/contract"
)

const comp = "replay"

const (
	defaultBufSize = 64 * 1024
	maxLineBytes   = 1 << 20
)

// Options: 回放录制日志（JSON lines，每行一条 contract.Record）。
type Options struct {
	// Encoding: WHATWG 编码名（utf-8、gb18030、shift_jis 等），默认 utf-8。
	Encoding string `yaml:"encoding"`
	// Speed: >0 时按记录 time 字段以该倍速节流；0 表示不等待。
	Speed float64 `yaml:"speed"`
	// Hold: 耗尽后保持在线直到停止，而非以 ErrSourceExhausted 失败。
	Hold bool `yaml:"hold"`
	// BufSize: 读缓冲区大小（字节），默认 64KiB。
	BufSize int `yaml:"buf_size"`
	// ExcludeDirNames: 扫描目录时跳过的目录名（基名，大小写不敏感）。
	ExcludeDirNames []string `yaml:"exclude_dir_names"`
}

// Source 顺序回放 roots 下的录制日志。
// 同一工厂产出的实例共享已投递条数：重建后跳过已投递部分，不重复上屏。
type Source struct {
	roots     []string
	enc       encoding.Encoding
	speed     float64
	hold      bool
	w         *walker
	delivered *atomic.Int64
	lg        *diag.Logger

	once   sync.Once
	closed chan struct{}
}

// NewFactory 校验选项并返回工厂；target 以逗号分隔多个根（"-" 为标准输入）。
func NewFactory(target string, opts *Options, lg *diag.Logger) (contract.SourceFactory, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Speed < 0 {
		return nil, fmt.Errorf("replay: %w: speed must be >= 0", contract.ErrInvalidInput)
	}
	enc, err := lookupEncoding(o.Encoding)
	if err != nil {
		return nil, err
	}
	roots := splitRoots(target)
	for _, r := range roots {
		if r == "-" && len(roots) > 1 {
			return nil, fmt.Errorf("%w: %v", contract.ErrInvalidInput, errStdinMixed)
		}
	}
	delivered := new(atomic.Int64)
	return func() (contract.Source, error) {
		return &Source{
			roots:     roots,
			enc:       enc,
			speed:     o.Speed,
			hold:      o.Hold,
			w:         newWalker(o.BufSize, o.ExcludeDirNames),
			delivered: delivered,
			lg:        lg,
			closed:    make(chan struct{}),
		}, nil
	}, nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	if strings.TrimSpace(name) == "" {
		name = "utf-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("replay: %w: unknown encoding %q", contract.ErrInvalidInput, name)
	}
	return enc, nil
}

func splitRoots(target string) []string {
	var roots []string
	for _, s := range strings.Split(target, ",") {
		if s = strings.TrimSpace(s); s != "" {
			roots = append(roots, s)
		}
	}
	return roots
}

// Delivered 返回工厂维度已投递的条数。
func (s *Source) Delivered() int64 { return s.delivered.Load() }

// Run 实现 contract.Source。
func (s *Source) Run(ctx context.Context, out chan<- contract.Message) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	p := pacer{speed: s.speed}
	var seen int64
	err := s.w.walk(ctx, s.roots, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		return s.replayOne(ctx, id, rc, out, &p, &seen)
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if !s.hold {
		return fmt.Errorf("replay: %d records: %w", seen, contract.ErrSourceExhausted)
	}
	<-ctx.Done()
	return nil
}

func (s *Source) replayOne(ctx context.Context, id contract.FileID, r io.Reader, out chan<- contract.Message, p *pacer, seen *int64) error {
	sc := bufio.NewScanner(transform.NewReader(r, s.enc.NewDecoder()))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if text == "" {
			continue
		}
		var rec contract.Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			diag.IncError(comp, string(diag.CodeProtocol))
			s.lg.Warn(comp, string(diag.CodeProtocol), "record skipped", map[string]string{
				"file": string(id), "line": fmt.Sprint(line), "error": err.Error(),
			})
			continue
		}
		*seen++
		if *seen <= s.delivered.Load() {
			continue
		}
		if err := p.wait(ctx, rec.Time); err != nil {
			return err
		}
		select {
		case out <- rec.Message():
			s.delivered.Add(1)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return sc.Err()
}

// pacer 以首条带时间戳的记录为原点，按倍速换算墙钟等待。
type pacer struct {
	speed  float64
	origin float64
	wall   time.Time
	set    bool
}

func (p *pacer) wait(ctx context.Context, at float64) error {
	if p.speed <= 0 || at <= 0 {
		return nil
	}
	if !p.set {
		p.origin, p.wall, p.set = at, time.Now(), true
		return nil
	}
	due := p.wall.Add(time.Duration((at - p.origin) / p.speed * float64(time.Second)))
	d := time.Until(due)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 幂等。
func (s *Source) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

var _ contract.Source = (*Source)(nil)
