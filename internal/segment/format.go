package segment

import (
	"fmt"
	"math"
	"strings"

	"danmurec/internal/track"
	"danmurec/pkg/contract"
)

// FormatTimestamp 将秒数格式化为 H:MM:SS.cc（两位小时起，不按天回绕）。
// 厘秒截断而非四舍五入；负数与 NaN 视为 0。
func FormatTimestamp(sec float64) string {
	if math.IsNaN(sec) || sec < 0 {
		sec = 0
	}
	// 1e-7 吸收 0.29*100 = 28.999... 一类的浮点误差
	cs := int64(math.Floor(sec*100 + 1e-7))
	return fmt.Sprintf("%02d:%02d:%02d.%02d", cs/360000, cs/6000%60, cs/100%60, cs%100)
}

// FormatEvent 生成一条 Dialogue 行（不含换行）。
// t0 为相对当前分段起点的秒数；颜色为默认值时不输出颜色覆盖。
func FormatEvent(m contract.Message, p track.Placement, t0, duration float64, alpha string) string {
	var b strings.Builder
	b.Grow(96 + len(m.Content))
	b.WriteString("Dialogue: 0,")
	b.WriteString(FormatTimestamp(t0))
	b.WriteByte(',')
	b.WriteString(FormatTimestamp(t0 + duration))
	b.WriteString(",")
	b.WriteString(StyleName)
	b.WriteString(",,0,0,0,,")
	fmt.Fprintf(&b, `{\move(%d,%d,%d,%d)}`, p.X0, p.Y, p.X1, p.Y)
	if c := contract.NormalizeColor(m.Color); c != contract.DefaultColor {
		fmt.Fprintf(&b, `{\1c&H%s%s&}`, alpha, c)
	}
	b.WriteString(oneLine(m.Content))
	return b.String()
}
