package config

import "gopkg.in/yaml.v3"

// Config: 运行期只读配置（一次解析，运行期不变）。
// YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Source  Source  `yaml:"source"`
	Output  Output  `yaml:"output"`
	Render  Render  `yaml:"render"`
	Retry   Retry   `yaml:"retry"`
	Logging Logging `yaml:"logging"`
}

// Source: 弹幕源选择；Options 子树原样交给工厂严格解码。
type Source struct {
	Name    string    `yaml:"name"`
	Target  string    `yaml:"target"`
	Options yaml.Node `yaml:"options,omitempty"`
}

// Output: 分段输出。
type Output struct {
	Dir         string `yaml:"dir"`
	Template    string `yaml:"template"`
	Description string `yaml:"description"`
	// SegmentLength: 分段时长（秒）；0 表示不轮转。
	SegmentLength float64 `yaml:"segment_length"`
	// RotateCheck: 轮转检查周期（秒）。
	RotateCheck   float64   `yaml:"rotate_check"`
	Writer        string    `yaml:"writer"`
	WriterOptions yaml.Node `yaml:"writer_options,omitempty"`
}

// Render: 画布与弹幕样式。
type Render struct {
	Width           int     `yaml:"width"`
	Height          int     `yaml:"height"`
	Margin          int     `yaml:"margin"`
	DensityRatio    float64 `yaml:"density_ratio"`
	Font            string  `yaml:"font"`
	FontSize        int     `yaml:"font_size"`
	OverflowPolicy  string  `yaml:"overflow_policy"`
	DisplayDuration float64 `yaml:"display_duration"`
	Opacity         float64 `yaml:"opacity"`
}

// Retry: 重连退避与停机参数（秒）。
type Retry struct {
	BaseSeconds        float64 `yaml:"base_seconds"`
	MaxSeconds         float64 `yaml:"max_seconds"`
	ResetAfterSeconds  float64 `yaml:"reset_after_seconds"`
	StopTimeoutSeconds float64 `yaml:"stop_timeout_seconds"`
	QueueSize          int     `yaml:"queue_size"`
}

// Logging: 日志等级与目录；Dir 为空时输出到 stderr。
type Logging struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}
