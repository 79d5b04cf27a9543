package segment

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"danmurec/internal/track"
	"danmurec/pkg/contract"
)

func TestOpacityHex(t *testing.T) {
	cases := map[float64]string{
		0.6: "66",
		1:   "00",
		0:   "ff",
		0.5: "7f",
		2:   "00",
		-1:  "ff",
	}
	for in, want := range cases {
		if got := OpacityHex(in); got != want {
			t.Errorf("OpacityHex(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "00:00:00.00"},
		{0.29, "00:00:00.29"},
		{1.999, "00:00:01.99"}, // 截断
		{59.5, "00:00:59.50"},
		{3661.239, "01:01:01.23"},
		{90000, "25:00:00.00"}, // 不按天回绕
		{-3, "00:00:00.00"},
		{math.NaN(), "00:00:00.00"},
	}
	for _, c := range cases {
		if got := FormatTimestamp(c.in); got != c.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

// 任意非负时刻经格式化再解析，误差 < 0.01s。
func TestTimestampRoundTrip(t *testing.T) {
	for i := 0; i < 20000; i++ {
		in := float64(i) * 0.137
		got, err := ParseTimestamp(FormatTimestamp(in))
		if err != nil {
			t.Fatalf("parse %v: %v", in, err)
		}
		if math.Abs(got-in) >= 0.01 {
			t.Fatalf("往返误差过大: in=%v got=%v", in, got)
		}
	}
}

func TestParseTimestampInvalid(t *testing.T) {
	for _, s := range []string{"", "1:2:3", "00:00:00,00", "00:61:00.00", "00:00:60.00", "aa:bb:cc.dd"} {
		if _, err := ParseTimestamp(s); err == nil {
			t.Errorf("ParseTimestamp(%q) 应失败", s)
		}
	}
}

func testStyle() Style {
	return Style{Title: "直播弹幕", Width: 1920, Height: 1080, Font: "Microsoft YaHei", FontSize: 36, Opacity: 0.6}
}

func TestHeader(t *testing.T) {
	h := Header(testStyle())
	want := "Style: R2L,Microsoft YaHei,36,&H66ffffff,,&H66242424,,-1,0,0,0,100,100,0,0,1,2,0,1,0,0,0,0\n"
	if !strings.Contains(h, want) {
		t.Fatalf("样式行不符:\n%s", h)
	}
	if !strings.HasPrefix(h, "[Script Info]\nTitle: 直播弹幕\nScriptType: v4.00+\nCollisions: Normal\nPlayResX: 1920\nPlayResY: 1080\nTimer: 100.0000\n\n[V4+ Styles]\n") {
		t.Fatalf("Script Info 段不符:\n%s", h)
	}
	if !strings.HasSuffix(h, "[Events]\nFormat: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n") {
		t.Fatalf("Events 段不符:\n%s", h)
	}
	// 标题换行不应破坏结构
	s := testStyle()
	s.Title = "a\nb"
	if !strings.Contains(Header(s), "Title: a b\n") {
		t.Fatalf("标题换行未替换")
	}
}

func TestFormatEvent(t *testing.T) {
	p := track.Placement{Lane: 0, Length: 90, X0: 2010, X1: -90, Y: 36}
	m := contract.Message{Kind: contract.KindChat, Author: "u", Content: "hello", Color: contract.DefaultColor, Time: 1.5}
	got := FormatEvent(m, p, 1.5, 8, "66")
	want := `Dialogue: 0,00:00:01.50,00:00:09.50,R2L,,0,0,0,,{\move(2010,36,-90,36)}hello`
	if got != want {
		t.Fatalf("默认颜色:\n got %s\nwant %s", got, want)
	}
	m.Color = "ff0000"
	got = FormatEvent(m, p, 1.5, 8, "66")
	want = `Dialogue: 0,00:00:01.50,00:00:09.50,R2L,,0,0,0,,{\move(2010,36,-90,36)}{\1c&H66ff0000&}hello`
	if got != want {
		t.Fatalf("颜色覆盖:\n got %s\nwant %s", got, want)
	}
	// 负偏移钳为 0
	if got := FormatEvent(m, p, -2, 8, "66"); !strings.HasPrefix(got, "Dialogue: 0,00:00:00.00,00:00:06.00,") {
		t.Fatalf("负偏移处理错误: %s", got)
	}
}

func TestParseDocument(t *testing.T) {
	var b strings.Builder
	b.WriteString(Header(testStyle()))
	alpha := OpacityHex(0.6)
	for i := 0; i < 5; i++ {
		m := contract.Message{Kind: contract.KindChat, Author: "u", Content: fmt.Sprintf("弹幕,%d", i), Color: "ffffff", Time: float64(i) * 1.25}
		if i%2 == 1 {
			m.Color = "00ff7f"
		}
		p := track.Placement{X0: 2000, X1: -80, Y: 36 + 48*i}
		b.WriteString(FormatEvent(m, p, m.Time, 8, alpha) + "\n")
	}
	doc, err := Parse(context.Background(), strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Title != "直播弹幕" || doc.PlayResX != 1920 || doc.PlayResY != 1080 {
		t.Fatalf("头部字段错误: %+v", doc)
	}
	if doc.Style.Name != StyleName || doc.Style.FontSize != 36 || doc.Style.Primary != "&H66ffffff" || doc.Style.Outline != "&H66242424" {
		t.Fatalf("样式字段错误: %+v", doc.Style)
	}
	if len(doc.Events) != 5 {
		t.Fatalf("事件数错误: %d", len(doc.Events))
	}
	for i, ev := range doc.Events {
		if ev.Text != fmt.Sprintf("弹幕,%d", i) {
			t.Fatalf("文本错误（含逗号）: %q", ev.Text)
		}
		if math.Abs(ev.Start-float64(i)*1.25) >= 0.01 || math.Abs(ev.End-ev.Start-8) >= 0.011 {
			t.Fatalf("时间错误: %+v", ev)
		}
		if ev.Y0 != 36+48*i || ev.Y1 != ev.Y0 || ev.X0 != 2000 || ev.X1 != -80 {
			t.Fatalf("坐标错误: %+v", ev)
		}
		if i%2 == 1 && (ev.Color != "00ff7f" || ev.Alpha != "66") {
			t.Fatalf("颜色覆盖丢失: %+v", ev)
		}
		if i%2 == 0 && ev.Color != "" {
			t.Fatalf("默认颜色不应有覆盖: %+v", ev)
		}
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"无节":     "",
		"坏行":     "[Events]\nno colon here\n",
		"坏时间":    "[Events]\nDialogue: 0,0:00,00:00:01.00,R2L,,0,0,0,,{\\move(1,2,3,2)}x\n",
		"缺 move": "[Events]\nDialogue: 0,00:00:00.00,00:00:01.00,R2L,,0,0,0,,plain\n",
		"字段不足":   "[Events]\nDialogue: 0,00:00:00.00\n",
		"坏样式":    "[V4+ Styles]\nStyle: R2L,font\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(context.Background(), strings.NewReader(in)); err == nil {
				t.Fatalf("应返回格式错误")
			}
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Parse(ctx, strings.NewReader("[Events]\n")); err == nil {
		t.Fatalf("取消后应返回错误")
	}
}

func TestSegmentPath(t *testing.T) {
	cases := []struct {
		tpl  string
		part int
		want string
	}{
		{"danmaku-%03d", 0, "danmaku-000.ass"},
		{"live/房间-%03d", 12, "live/房间-012.ass"},
		{"a\\b-%03d", 1000, "a/b-1000.ass"},
		{"single", 3, "single.ass"},
	}
	for _, c := range cases {
		if got := SegmentPath(c.tpl, c.part); string(got) != c.want {
			t.Errorf("SegmentPath(%q,%d) = %q, want %q", c.tpl, c.part, got, c.want)
		}
	}
}
