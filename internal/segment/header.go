package segment

import (
	"fmt"
	"math"
	"strings"
)

// Style: 分段文件头参数（画布、字体、透明度）。
type Style struct {
	Title    string
	Width    int
	Height   int
	Font     string
	FontSize int
	Opacity  float64 // [0,1]，1 为不透明
}

// StyleName: 唯一样式名（右到左滚动）。
const StyleName = "R2L"

const (
	styleFormat = "Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding"
	eventFormat = "Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text"
)

// OpacityHex 将不透明度换算为 ASS alpha：255-round(opacity*255)，两位小写十六进制。
// 超出 [0,1] 的输入先截断到边界。
func OpacityHex(opacity float64) string {
	if math.IsNaN(opacity) || opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	return fmt.Sprintf("%02x", 255-int(math.Round(opacity*255)))
}

// Header 生成分段文件头（每个分段相同），以换行结尾。
func Header(s Style) string {
	alpha := OpacityHex(s.Opacity)
	lines := []string{
		"[Script Info]",
		"Title: " + oneLine(s.Title),
		"ScriptType: v4.00+",
		"Collisions: Normal",
		fmt.Sprintf("PlayResX: %d", s.Width),
		fmt.Sprintf("PlayResY: %d", s.Height),
		"Timer: 100.0000",
		"",
		"[V4+ Styles]",
		styleFormat,
		fmt.Sprintf("Style: %s,%s,%d,&H%sffffff,,&H%s242424,,-1,0,0,0,100,100,0,0,1,2,0,1,0,0,0,0",
			StyleName, oneLine(s.Font), s.FontSize, alpha, alpha),
		"",
		"[Events]",
		eventFormat,
	}
	return strings.Join(lines, "\n") + "\n"
}

// 标题与字体落在单行字段内，换行会破坏节结构。
func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
