package flaky

import (
	"context"
	"fmt"
	"sync/atomic"

	"danmurec/pkg/contract"
	"danmurec/plugins/source/mock"
)

// Options: 前 Failures 次运行直接以 ErrConnectionLost 失败，之后行为同 mock。
type Options struct {
	Failures int `yaml:"failures"`
	// Mock 内联：messages/interval_ms/repeat 与 mock 一致。
	Mock mock.Options `yaml:",inline"`
}

// Source 是带状态的故障注入来源：
// 计数器由同一工厂产出的全部实例共享，用于端到端驱动重连循环。
type Source struct {
	n     int64
	limit int64
	inner contract.Source
}

// NewFactory 构造工厂；count 为可选外部计数器（测试观察用）。
func NewFactory(opts *Options, count *atomic.Int64) (contract.SourceFactory, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Failures < 0 {
		return nil, fmt.Errorf("flaky: %w: failures must be >= 0", contract.ErrInvalidInput)
	}
	inner, err := mock.NewFactory(&o.Mock)
	if err != nil {
		return nil, err
	}
	if count == nil {
		count = new(atomic.Int64)
	}
	limit := int64(o.Failures)
	return func() (contract.Source, error) {
		src, err := inner()
		if err != nil {
			return nil, err
		}
		return &Source{n: count.Add(1), limit: limit, inner: src}, nil
	}, nil
}

// Run 实现 contract.Source。
func (s *Source) Run(ctx context.Context, out chan<- contract.Message) error {
	if s.n <= s.limit {
		return fmt.Errorf("flaky: run %d/%d: %w", s.n, s.limit, contract.ErrConnectionLost)
	}
	return s.inner.Run(ctx, out)
}

// Close 幂等。
func (s *Source) Close() error { return s.inner.Close() }

var _ contract.Source = (*Source)(nil)
