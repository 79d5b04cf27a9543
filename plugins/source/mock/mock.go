package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"danmurec/pkg/contract"
)

// Options: 脚本化弹幕源（联调/测试用，不做任何网络请求）。
type Options struct {
	// Messages: 依次投递的记录；msg_type 留空时视为 "danmaku"。
	Messages []contract.Record `yaml:"messages"`
	// IntervalMS: 相邻两条之间的间隔（毫秒）；0 表示不等待。
	IntervalMS int `yaml:"interval_ms"`
	// Repeat: 投递完一轮后是否从头循环；否则保持连接直到停止。
	Repeat bool `yaml:"repeat"`
}

// 未配置消息时的默认脚本。
var defaultScript = []contract.Record{
	{MsgType: string(contract.KindChat), Name: "mock", Content: "MOCK 弹幕"},
}

// Source: 按固定间隔投递脚本消息。
type Source struct {
	msgs     []contract.Message
	interval time.Duration
	repeat   bool

	once   sync.Once
	closed chan struct{}
}

// NewFactory 校验选项并返回工厂；每次调用产出新的 Source。
func NewFactory(opts *Options) (contract.SourceFactory, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.IntervalMS < 0 {
		return nil, fmt.Errorf("mock: %w: interval_ms must be >= 0", contract.ErrInvalidInput)
	}
	recs := o.Messages
	if len(recs) == 0 {
		recs = defaultScript
	}
	msgs := make([]contract.Message, 0, len(recs))
	for _, r := range recs {
		if r.MsgType == "" {
			r.MsgType = string(contract.KindChat)
		}
		msgs = append(msgs, r.Message())
	}
	interval := time.Duration(o.IntervalMS) * time.Millisecond
	return func() (contract.Source, error) {
		return New(msgs, interval, o.Repeat), nil
	}, nil
}

// New 直接构造 Source（msgs 不会被修改）。
func New(msgs []contract.Message, interval time.Duration, repeat bool) *Source {
	return &Source{msgs: msgs, interval: interval, repeat: repeat, closed: make(chan struct{})}
}

// Run 实现 contract.Source：取消或关闭时返回 nil。
func (s *Source) Run(ctx context.Context, out chan<- contract.Message) error {
	first := true
	for {
		for _, m := range s.msgs {
			if !first {
				if stop := s.wait(ctx); stop {
					return nil
				}
			}
			first = false
			select {
			case out <- m:
			case <-ctx.Done():
				return nil
			case <-s.closed:
				return nil
			}
		}
		if !s.repeat || len(s.msgs) == 0 {
			break
		}
	}
	// 单轮脚本结束后保持“在线”，直到被停止
	select {
	case <-ctx.Done():
	case <-s.closed:
	}
	return nil
}

func (s *Source) wait(ctx context.Context) bool {
	if s.interval <= 0 {
		select {
		case <-ctx.Done():
			return true
		case <-s.closed:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(s.interval)
	defer t.Stop()
	select {
	case <-t.C:
		return false
	case <-ctx.Done():
		return true
	case <-s.closed:
		return true
	}
}

// Close 幂等。
func (s *Source) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

var _ contract.Source = (*Source)(nil)
