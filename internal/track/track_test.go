package track

import (
	"errors"
	"fmt"
	"testing"

	"danmurec/pkg/contract"
)

func baseOpts() Options {
	return Options{
		Width:           1920,
		Height:          1080,
		Margin:          12,
		FontSize:        36,
		DensityRatio:    0.5,
		DisplayDuration: 8,
		Policy:          PolicyIgnore,
	}
}

func msg(content string, at float64) contract.Message {
	return contract.Message{Kind: contract.KindChat, Author: "u", Content: content, Color: contract.DefaultColor, Time: at}
}

func TestLaneCount(t *testing.T) {
	cases := []struct {
		h       int
		density float64
		fs, mg  int
		want    int
	}{
		{1080, 0.5, 36, 12, 10}, // (540-36)/48 = 10.5
		{1080, 1, 36, 12, 21},
		{40, 0.5, 36, 12, 0},   // 负数向零截断
		{10, 0.1, 36, 12, 0},   // (1-36)/48 -> -0.72 -> 0
		{1080, 0.5, 0, 0, 0},   // 步长非正
	}
	for _, c := range cases {
		if got := LaneCount(c.h, c.density, c.fs, c.mg); got != c.want {
			t.Errorf("LaneCount(%d,%v,%d,%d) = %d, want %d", c.h, c.density, c.fs, c.mg, got, c.want)
		}
	}
}

func TestVisualLength(t *testing.T) {
	cases := map[string]int{
		"":      0,
		"ab":    36,  // 2 * 18
		"abc":   54,  // 3 * 18
		"弹幕":    72,  // 2 * 36
		"hi弹幕!": 126, // 3*18 + 2*36
	}
	for in, want := range cases {
		if got := VisualLength(in, 36); got != want {
			t.Errorf("VisualLength(%q) = %d, want %d", in, got, want)
		}
	}
	// 奇数字号截断：1 个单字节字符 0.5*25 = 12.5 -> 12
	if got := VisualLength("a", 25); got != 12 {
		t.Fatalf("截断错误: %d", got)
	}
}

func TestNewInvalid(t *testing.T) {
	o := baseOpts()
	o.Width = 0
	if _, err := New(o); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("width=0 应失败: %v", err)
	}
	o = baseOpts()
	o.DisplayDuration = 0
	if _, err := New(o); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("duration=0 应失败: %v", err)
	}
	o = baseOpts()
	o.Policy = "shuffle"
	if _, err := New(o); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("未知策略应失败: %v", err)
	}
	o = baseOpts()
	o.Policy = ""
	s, err := New(o)
	if err != nil || s.policy != PolicyIgnore {
		t.Fatalf("空策略应默认为 ignore: %v %v", s, err)
	}
}

// 首条消息总是落在 0 号车道且不被丢弃。
func TestFirstMessageLaneZero(t *testing.T) {
	for _, content := range []string{"", "hello", "很长很长很长很长很长很长的弹幕内容"} {
		s, err := New(baseOpts())
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		p, err := s.Place(msg(content, 3.2))
		if err != nil {
			t.Fatalf("首条被丢弃: %v", err)
		}
		if p.Lane != 0 || p.Y != 36 {
			t.Fatalf("首条车道错误: %+v", p)
		}
	}
}

func TestPlacementGeometry(t *testing.T) {
	s, _ := New(baseOpts())
	// 同一时刻连续投递：0 号车道 bias 为负，应依次落到后续空车道。
	for i := 0; i < 3; i++ {
		p, err := s.Place(msg("abcd", 1))
		if err != nil {
			t.Fatalf("place %d: %v", i, err)
		}
		if p.Lane != i {
			t.Fatalf("第 %d 条应落在车道 %d, got %d", i, i, p.Lane)
		}
		wantY := 36 + (36+12)*i
		if p.Y != wantY || p.X0 != 1920+72 || p.X1 != -72 || p.Length != 72 {
			t.Fatalf("几何错误: %+v", p)
		}
	}
}

func TestBias(t *testing.T) {
	s, _ := New(baseOpts())
	if b := s.Bias(nil, 100); b != 1920 {
		t.Fatalf("空车道 bias 应为 width: %v", b)
	}
	latest := msg("ab", 0) // L = 36
	// t=4: 4*(36+1920)/8 - 36 = 978 - 36 = 942
	if b := s.Bias(&latest, 4); b != 942 {
		t.Fatalf("bias 计算错误: %v", b)
	}
	if b := s.Bias(&latest, 0); b != -36 {
		t.Fatalf("同刻 bias 应为 -L: %v", b)
	}
}

// 单车道下同刻第二条消息 bias < 0.05*width，ignore 策略应丢弃且不改变车道状态。
func TestCongestionDrop(t *testing.T) {
	o := baseOpts()
	o.Height = 100
	o.DensityRatio = 1 // (100-36)/48 = 1
	s, _ := New(o)
	if s.Lanes() != 1 {
		t.Fatalf("期望单车道, got %d", s.Lanes())
	}
	if _, err := s.Place(msg("first", 10)); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := s.Place(msg("first", 10)); !errors.Is(err, ErrDropped) {
		t.Fatalf("第二条应被丢弃, got %v", err)
	}
	// 丢弃不应更新占用：足够久之后 bias 依旧按首条计算
	if b := s.Bias(s.lanes[0], 18); b <= 0.2*1920 {
		t.Fatalf("首条应仍为占用者, bias=%v", b)
	}
	if s.lanes[0].Content != "first" || s.lanes[0].Time != 10 {
		t.Fatalf("车道占用被改写: %+v", s.lanes[0])
	}
}

func TestOverlayPolicyNeverDrops(t *testing.T) {
	o := baseOpts()
	o.Height = 100
	o.DensityRatio = 1
	o.Policy = PolicyOverlay
	s, _ := New(o)
	for i := 0; i < 20; i++ {
		p, err := s.Place(msg(fmt.Sprintf("m%d", i), 1))
		if err != nil {
			t.Fatalf("overlay 不应丢弃: %v", err)
		}
		if p.Lane != 0 {
			t.Fatalf("单车道应总为 0: %d", p.Lane)
		}
	}
}

// 零车道配置退化为单车道，不 panic。
func TestZeroLanesDegrade(t *testing.T) {
	o := baseOpts()
	o.Height = 10
	o.DensityRatio = 0.1
	s, err := New(o)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Lanes() != 1 {
		t.Fatalf("应退化为 1 车道, got %d", s.Lanes())
	}
	if p, err := s.Place(msg("x", 0)); err != nil || p.Lane != 0 {
		t.Fatalf("退化模式放置失败: %+v %v", p, err)
	}
}

// 首个超过舒适阈值的车道优先（低序号优先），而不是最大 bias。
func TestFirstFitOverBestFit(t *testing.T) {
	s, _ := New(baseOpts())
	// lane0 占用于 t=0，lane1 占用于 t=0（同刻第二条）
	_, _ = s.Place(msg("ab", 0))
	_, _ = s.Place(msg("ab", 0))
	// t=2: lane0 bias = 2*1956/8 - 36 = 453 > 384，直接选 0，尽管 lane2 为空 (1920)
	p, err := s.Place(msg("ab", 2))
	if err != nil || p.Lane != 0 {
		t.Fatalf("应首适配 lane0: %+v %v", p, err)
	}
}

// 无车道超过舒适阈值时选择 bias 最大者。
func TestBestFitFallback(t *testing.T) {
	o := baseOpts()
	o.Height = 132 // (132-36)/48 = 2 车道
	o.DensityRatio = 1
	s, _ := New(o)
	if s.Lanes() != 2 {
		t.Fatalf("期望 2 车道, got %d", s.Lanes())
	}
	_, _ = s.Place(msg("ab", 0))  // lane0 @0
	_, _ = s.Place(msg("ab", 0.5)) // lane0 bias=0.5*1956/8-36=86.25 < 384 且 lane1 空 -> lane1
	// t=1.5: lane0 = 1.5*244.5-36 = 330.75; lane1 = 1.0*244.5-36 = 208.5，均 < 384 -> 选 lane0
	p, err := s.Place(msg("ab", 1.5))
	if err != nil || p.Lane != 0 {
		t.Fatalf("应回落到最大 bias 车道 0: %+v %v", p, err)
	}
}

// 占用追踪上限即车道数：任意多消息后非空车道数 <= Lanes()。
func TestOccupancyBounded(t *testing.T) {
	s, _ := New(baseOpts())
	for i := 0; i < 5000; i++ {
		_, _ = s.Place(msg("测试弹幕", float64(i)*0.01))
		if s.Occupied() > s.Lanes() {
			t.Fatalf("占用超过车道数")
		}
	}
	if len(s.lanes) != 10 {
		t.Fatalf("车道数组不应增长: %d", len(s.lanes))
	}
}
