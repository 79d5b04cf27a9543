package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"danmurec/pkg/contract"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "DANMUREC_"

// EnvConfigFile: 指定配置文件路径的环境变量。
const EnvConfigFile = EnvPrefix + "CONFIG_FILE"

// DefaultFile: 工作目录下存在时自动加载的配置文件名。
const DefaultFile = "danmurec.yaml"

// unset: 覆盖层中“0 有语义”的字段使用的未设置哨兵。
const unset = -1

// Defaults 返回带有安全默认值的 Config。
// 注意：source.name 不设默认（必须由 YAML/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Output: Output{
			Dir:           ".",
			Template:      "danmaku-%03d",
			SegmentLength: 3600,
			RotateCheck:   5,
			Writer:        "fs",
		},
		Render: Render{
			Width:           1920,
			Height:          1080,
			Margin:          12,
			DensityRatio:    0.5,
			Font:            "Microsoft YaHei",
			FontSize:        36,
			OverflowPolicy:  "ignore",
			DisplayDuration: 10,
			Opacity:         0.8,
		},
		Retry: Retry{
			BaseSeconds:        5,
			MaxSeconds:         300,
			StopTimeoutSeconds: 5,
			QueueSize:          1024,
		},
		Logging: Logging{Level: "info"},
	}
}

// Unset 返回空覆盖层：0 有语义的字段置为哨兵，供 Merge 区分“未覆盖”与“显式 0”。
func Unset() Config {
	var c Config
	c.Output.SegmentLength = unset
	c.Retry.ResetAfterSeconds = unset
	c.Render.Opacity = unset
	return c
}

// LoadYAML 从文件路径或原始 YAML 解析 Config（严格拒绝未知字段）。
// 解码叠加在 Defaults 之上：文件中未出现的键保持默认，显式 0 保留。
func LoadYAML(path string, raw []byte) (Config, error) {
	cfg := Defaults()
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config: %w: %v", contract.ErrInvalidInput, err)
	}
	return cfg, nil
}

// ResolvePath 决定配置文件：显式路径 > DANMUREC_CONFIG_FILE > 工作目录下的 danmurec.yaml；均无则为空。
func ResolvePath(flagPath string, getenv func(string) string) string {
	if p := strings.TrimSpace(flagPath); p != "" {
		return p
	}
	if getenv != nil {
		if p := strings.TrimSpace(getenv(EnvConfigFile)); p != "" {
			return p
		}
	}
	if st, err := os.Stat(DefaultFile); err == nil && st.Mode().IsRegular() {
		return DefaultFile
	}
	return ""
}

// Merge 按优先级合并（后者覆盖前者）。
// 字符串空值与数值 0 视为未覆盖；SegmentLength/ResetAfterSeconds/Opacity 以负数哨兵表示未覆盖。
// options 子树整体替换，不做深度合并。
func Merge(base, over Config) Config {
	out := base

	setStr(&out.Source.Name, over.Source.Name)
	setStr(&out.Source.Target, over.Source.Target)
	if over.Source.Options.Kind != 0 {
		out.Source.Options = over.Source.Options
	}

	setStr(&out.Output.Dir, over.Output.Dir)
	setStr(&out.Output.Template, over.Output.Template)
	setStr(&out.Output.Description, over.Output.Description)
	if over.Output.SegmentLength >= 0 {
		out.Output.SegmentLength = over.Output.SegmentLength
	}
	setFloat(&out.Output.RotateCheck, over.Output.RotateCheck)
	setStr(&out.Output.Writer, over.Output.Writer)
	if over.Output.WriterOptions.Kind != 0 {
		out.Output.WriterOptions = over.Output.WriterOptions
	}

	setInt(&out.Render.Width, over.Render.Width)
	setInt(&out.Render.Height, over.Render.Height)
	setInt(&out.Render.Margin, over.Render.Margin)
	setFloat(&out.Render.DensityRatio, over.Render.DensityRatio)
	setStr(&out.Render.Font, over.Render.Font)
	setInt(&out.Render.FontSize, over.Render.FontSize)
	setStr(&out.Render.OverflowPolicy, over.Render.OverflowPolicy)
	setFloat(&out.Render.DisplayDuration, over.Render.DisplayDuration)
	if over.Render.Opacity >= 0 {
		out.Render.Opacity = over.Render.Opacity
	}

	setFloat(&out.Retry.BaseSeconds, over.Retry.BaseSeconds)
	setFloat(&out.Retry.MaxSeconds, over.Retry.MaxSeconds)
	if over.Retry.ResetAfterSeconds >= 0 {
		out.Retry.ResetAfterSeconds = over.Retry.ResetAfterSeconds
	}
	setFloat(&out.Retry.StopTimeoutSeconds, over.Retry.StopTimeoutSeconds)
	setInt(&out.Retry.QueueSize, over.Retry.QueueSize)

	setStr(&out.Logging.Level, over.Logging.Level)
	setStr(&out.Logging.Dir, over.Logging.Dir)
	return out
}

func setStr(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// EnvOverlay 从环境变量构建覆盖层（前缀 DANMUREC_，键为 <节>_<字段> 的大写形式）。
// 例如 DANMUREC_SOURCE_NAME、DANMUREC_RENDER_FONT_SIZE、DANMUREC_RETRY_RESET_AFTER_SECONDS。
// SOURCE_OPTIONS_YAML / OUTPUT_WRITER_OPTIONS_YAML 承载内联 YAML 子树。
// 空值与未知键忽略；已知键的值非法时返回 ErrInvalidInput。
func EnvOverlay(environ []string) (Config, error) {
	over := Unset()
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			continue
		}
		if err := applyEnv(&over, key, val); err != nil {
			return over, fmt.Errorf("config: %w: %s%s: %v", contract.ErrInvalidInput, EnvPrefix, key, err)
		}
	}
	return over, nil
}

func applyEnv(c *Config, key, val string) error {
	var err error
	switch key {
	case "SOURCE_NAME":
		c.Source.Name = val
	case "SOURCE_TARGET":
		c.Source.Target = val
	case "SOURCE_OPTIONS_YAML":
		err = parseNode(val, &c.Source.Options)
	case "OUTPUT_DIR":
		c.Output.Dir = val
	case "OUTPUT_TEMPLATE":
		c.Output.Template = val
	case "OUTPUT_DESCRIPTION":
		c.Output.Description = val
	case "OUTPUT_SEGMENT_LENGTH":
		c.Output.SegmentLength, err = atof(val)
	case "OUTPUT_ROTATE_CHECK":
		c.Output.RotateCheck, err = atof(val)
	case "OUTPUT_WRITER":
		c.Output.Writer = val
	case "OUTPUT_WRITER_OPTIONS_YAML":
		err = parseNode(val, &c.Output.WriterOptions)
	case "RENDER_WIDTH":
		c.Render.Width, err = atoi(val)
	case "RENDER_HEIGHT":
		c.Render.Height, err = atoi(val)
	case "RENDER_MARGIN":
		c.Render.Margin, err = atoi(val)
	case "RENDER_DENSITY_RATIO":
		c.Render.DensityRatio, err = atof(val)
	case "RENDER_FONT":
		c.Render.Font = val
	case "RENDER_FONT_SIZE":
		c.Render.FontSize, err = atoi(val)
	case "RENDER_OVERFLOW_POLICY":
		c.Render.OverflowPolicy = val
	case "RENDER_DISPLAY_DURATION":
		c.Render.DisplayDuration, err = atof(val)
	case "RENDER_OPACITY":
		c.Render.Opacity, err = atof(val)
	case "RETRY_BASE_SECONDS":
		c.Retry.BaseSeconds, err = atof(val)
	case "RETRY_MAX_SECONDS":
		c.Retry.MaxSeconds, err = atof(val)
	case "RETRY_RESET_AFTER_SECONDS":
		c.Retry.ResetAfterSeconds, err = atof(val)
	case "RETRY_STOP_TIMEOUT_SECONDS":
		c.Retry.StopTimeoutSeconds, err = atof(val)
	case "RETRY_QUEUE_SIZE":
		c.Retry.QueueSize, err = atoi(val)
	case "LOGGING_LEVEL":
		c.Logging.Level = val
	case "LOGGING_DIR":
		c.Logging.Dir = val
	default:
		// CONFIG_FILE 等由调用方处理
	}
	return err
}

// parseNode 把内联 YAML 解析为子树；空值视为未设置。
func parseNode(val string, dst *yaml.Node) error {
	if val == "" {
		return nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(val), &doc); err != nil {
		return err
	}
	if len(doc.Content) > 0 {
		*dst = *doc.Content[0]
	}
	return nil
}

func atoi(s string) (int, error) { return strconv.Atoi(strings.TrimSpace(s)) }

func atof(s string) (float64, error) { return strconv.ParseFloat(strings.TrimSpace(s), 64) }
