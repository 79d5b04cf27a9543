package track

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"danmurec/pkg/contract"
)

// Policy: 拥塞策略（无车道满足最低间隙时的处理）。
type Policy string

const (
	// PolicyIgnore: 丢弃新弹幕（拥塞泄压阀）。
	PolicyIgnore Policy = "ignore"
	// PolicyOverlay: 仍强制放入最优车道，允许重叠。
	PolicyOverlay Policy = "overlay"
)

// 阈值（以画布宽度为单位）。
const (
	comfortRatio = 0.2  // 首个超过该间隙的车道直接选中
	floorRatio   = 0.05 // ignore 策略下低于该间隙则丢弃
)

// Options: 车道调度所需的画布与时间参数。
type Options struct {
	Width           int
	Height          int
	Margin          int
	FontSize        int
	DensityRatio    float64
	DisplayDuration float64 // 秒
	Policy          Policy
}

// Placement: 一次成功调度的结果（车道与移动坐标）。
type Placement struct {
	Lane   int
	Length int // 估算的可视长度
	X0     int
	X1     int
	Y      int
}

// Scheduler: 在线贪心车道分配。
// - 每条车道仅保存最近一次的占用者（单槽，不保存历史），内存 O(车道数)；
// - 车道数组构造后定长，原地更新；
// - mu 保护车道数组，便于状态快照与调度并发读取。
type Scheduler struct {
	width    int
	margin   int
	fontSize int
	duration float64
	policy   Policy

	mu    sync.Mutex
	lanes []*contract.Message
}

// New 构造调度器；车道数由 LaneCount 给出，非正数时退化为单车道。
func New(opts Options) (*Scheduler, error) {
	if opts.Width <= 0 || opts.FontSize <= 0 {
		return nil, fmt.Errorf("track: %w: width/font_size must be > 0", contract.ErrInvalidInput)
	}
	if opts.DisplayDuration <= 0 {
		return nil, fmt.Errorf("track: %w: display_duration must be > 0", contract.ErrInvalidInput)
	}
	switch opts.Policy {
	case PolicyIgnore, PolicyOverlay:
	case "":
		opts.Policy = PolicyIgnore
	default:
		return nil, fmt.Errorf("track: %w: unknown overflow policy %q", contract.ErrInvalidInput, opts.Policy)
	}
	n := LaneCount(opts.Height, opts.DensityRatio, opts.FontSize, opts.Margin)
	if n < 1 {
		n = 1
	}
	return &Scheduler{
		width:    opts.Width,
		margin:   opts.Margin,
		fontSize: opts.FontSize,
		duration: opts.DisplayDuration,
		policy:   opts.Policy,
		lanes:    make([]*contract.Message, n),
	}, nil
}

// LaneCount = floor((height*density - font_size) / (font_size + margin))，向零截断，可能 <= 0。
func LaneCount(height int, density float64, fontSize, margin int) int {
	step := fontSize + margin
	if step <= 0 {
		return 0
	}
	return int((float64(height)*density - float64(fontSize)) / float64(step))
}

// VisualLength 估算文本在画布上的宽度：多字节字符记 fontSize，其余记 0.5*fontSize，结果截断为整数。
func VisualLength(s string, fontSize int) int {
	var length float64
	for _, r := range s {
		if utf8.RuneLen(r) > 1 {
			length += float64(fontSize)
		} else {
			length += 0.5 * float64(fontSize)
		}
	}
	return int(length)
}

// Lanes 返回车道数（构造后不变）。
func (s *Scheduler) Lanes() int { return len(s.lanes) }

// Bias 估算当前时刻车道尾部到画布出生边缘的水平间隙；空车道为 width。
func (s *Scheduler) Bias(latest *contract.Message, now float64) float64 {
	if latest == nil {
		return float64(s.width)
	}
	l := float64(VisualLength(latest.Content, s.fontSize))
	return (now-latest.Time)*(l+float64(s.width))/s.duration - l
}

// ErrDropped: 拥塞丢弃（ignore 策略）；非错误语义，仅供调用方区分。
var ErrDropped = errors.New("track: dropped by congestion")

// Place 为消息选择车道并登记占用。
// 返回 ErrDropped 表示按 ignore 策略被丢弃（车道状态不变）。
func (s *Scheduler) Place(m contract.Message) (Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := float64(s.width)
	lane := 0
	best := -1.0
	for i, latest := range s.lanes {
		b := s.Bias(latest, m.Time)
		if b > comfortRatio*w {
			lane, best = i, b
			break
		}
		if b > best {
			lane, best = i, b
		}
	}
	if best < floorRatio*w && s.policy == PolicyIgnore {
		return Placement{}, ErrDropped
	}

	occupant := m
	s.lanes[lane] = &occupant
	l := VisualLength(m.Content, s.fontSize)
	return Placement{
		Lane:   lane,
		Length: l,
		X0:     s.width + l,
		X1:     -l,
		Y:      s.fontSize + (s.fontSize+s.margin)*lane,
	}, nil
}

// Occupied 返回当前非空车道数（状态展示用）。
func (s *Scheduler) Occupied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.lanes {
		if m != nil {
			n++
		}
	}
	return n
}
