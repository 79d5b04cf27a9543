package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// templateYAML: init-config 写出的模板。
// 使用 mock 来源即可离线运行；各节包含全部键，值为默认或中性值。
const templateYAML = `# danmurec 配置模板
source:
  # mqtt | replay | mock | flaky
  name: mock
  # mqtt: broker 地址（host:port 或 tcp://、ws://）；replay: 逗号分隔的文件/目录，"-" 为标准输入
  target: ""
  options:
    messages:
      - name: danmurec
        content: 弹幕录制测试
      - name: danmurec
        content: colored
        color: "00ff7f"
    interval_ms: 1000
    repeat: true
  # mqtt 选项示例：
  #   topic: live/room/1
  #   qos: 0
  #   client_id: ""
  #   username: ""
  #   password: ""
  #   codec: json
  #   connect_timeout_seconds: 5
  # replay 选项示例：
  #   encoding: utf-8
  #   speed: 1
  #   hold: false

output:
  dir: out
  template: danmaku-%03d
  description: ""
  segment_length: 3600
  rotate_check: 5
  writer: fs
  writer_options:
    atomic: true
    flat: false
    buf_size: 32768

render:
  width: 1920
  height: 1080
  margin: 12
  density_ratio: 0.5
  font: Microsoft YaHei
  font_size: 36
  overflow_policy: ignore
  display_duration: 10
  opacity: 0.8

retry:
  base_seconds: 5
  max_seconds: 300
  reset_after_seconds: 0
  stop_timeout_seconds: 5
  queue_size: 1024

logging:
  level: info
  dir: ""
`

// TemplateYAML 返回模板原文。
func TemplateYAML() []byte { return []byte(templateYAML) }

// DefaultTemplateConfig 返回模板解析后的配置（可直接运行）。
func DefaultTemplateConfig() Config {
	cfg, err := LoadYAML("", TemplateYAML())
	if err != nil {
		// 模板为编译期常量，解析失败属于程序错误
		panic(err)
	}
	return cfg
}

// ErrExists: 目标配置文件已存在（init-config 从不覆盖）。
var ErrExists = errors.New("config file already exists")

// WriteTemplate 在 dir 下写出 danmurec.yaml；已存在时返回 ErrExists。
func WriteTemplate(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, DefaultFile)
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return p, fmt.Errorf("%w: %s", ErrExists, p)
		}
		return p, err
	}
	if _, err := f.Write(TemplateYAML()); err != nil {
		_ = f.Close()
		return p, err
	}
	return p, f.Close()
}
