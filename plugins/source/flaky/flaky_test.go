package flaky

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"danmurec/pkg/contract"
)

func TestFailuresThenRecover(t *testing.T) {
	var count atomic.Int64
	f, err := NewFactory(&Options{Failures: 2}, &count)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out := make(chan contract.Message, 2)
	for i := 0; i < 2; i++ {
		src, _ := f()
		if err := src.Run(context.Background(), out); !errors.Is(err, contract.ErrConnectionLost) {
			t.Fatalf("第 %d 次应失败: %v", i+1, err)
		}
	}
	src, _ := f()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()
	select {
	case m := <-out:
		if m.Author != "mock" {
			t.Fatalf("恢复后应投递 mock 脚本: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("恢复后未投递")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("取消应返回 nil: %v", err)
	}
	if count.Load() != 3 {
		t.Fatalf("计数错误: %d", count.Load())
	}
}

func TestInvalid(t *testing.T) {
	if _, err := NewFactory(&Options{Failures: -1}, nil); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("负数应失败: %v", err)
	}
	if _, err := NewFactory(nil, nil); err != nil {
		t.Fatalf("nil 选项应可用: %v", err)
	}
}
