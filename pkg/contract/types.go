package contract

// Kind: 弹幕记录的类别标签。
type Kind string

// KindChat: 唯一可上屏的类别（线上字段 msg_type 的取值为 "danmaku"）。
const KindChat Kind = "danmaku"

// DefaultColor: 保留的默认颜色，表示“不覆盖颜色”。
const DefaultColor = "ffffff"

// Message: 一条弹幕。
// 约束：
// - Time 为相对会话开始的秒数，由消费端在出队时打点，不信任来源；
// - Color 为 6 位十六进制（来源侧已归一），DefaultColor 表示不输出颜色覆盖；
// - Content 原样保存，合法性见 Valid。
type Message struct {
	Kind    Kind
	Author  string
	Content string
	Color   string
	Time    float64
}

// Record: 线上/落盘的弹幕记录形状（JSON、msgpack 与 YAML 脚本共用键名）。
// 键名沿用录制日志的既有格式：msg_type/name/content/color/time。
type Record struct {
	MsgType string  `json:"msg_type" msgpack:"msg_type" yaml:"msg_type"`
	Name    string  `json:"name" msgpack:"name" yaml:"name"`
	Content string  `json:"content" msgpack:"content" yaml:"content"`
	Color   string  `json:"color,omitempty" msgpack:"color,omitempty" yaml:"color,omitempty"`
	Time    float64 `json:"time,omitempty" msgpack:"time,omitempty" yaml:"time,omitempty"`
}

// Message 将线上记录转换为领域消息；颜色在此归一，Time 保留记录值（调用方可覆盖）。
func (r Record) Message() Message {
	return Message{
		Kind:    Kind(r.MsgType),
		Author:  r.Name,
		Content: r.Content,
		Color:   NormalizeColor(r.Color),
		Time:    r.Time,
	}
}
