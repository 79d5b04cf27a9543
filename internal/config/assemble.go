package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"danmurec/internal/diag"
	"danmurec/internal/segment"
	"danmurec/internal/session"
	"danmurec/internal/track"
	"danmurec/pkg/contract"
	"danmurec/pkg/registry"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("config: %w: %s", contract.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Validate 对最小必要边界做静态校验；错误均包装 ErrInvalidInput。
func Validate(cfg Config) error {
	// source
	if cfg.Source.Name == "" {
		return invalid("source.name not set (one of %s)", strings.Join(registry.Names(registry.Source), ", "))
	}
	if registry.Source[cfg.Source.Name] == nil {
		return invalid("source %q not registered", cfg.Source.Name)
	}
	// output
	if strings.TrimSpace(cfg.Output.Dir) == "" {
		return invalid("output.dir empty")
	}
	if strings.TrimSpace(cfg.Output.Template) == "" {
		return invalid("output.template empty")
	}
	if cfg.Output.SegmentLength < 0 {
		return invalid("output.segment_length must be >= 0")
	}
	if cfg.Output.RotateCheck <= 0 {
		return invalid("output.rotate_check must be > 0")
	}
	if registry.Writer[effName(cfg.Output.Writer, Defaults().Output.Writer)] == nil {
		return invalid("writer %q not registered", cfg.Output.Writer)
	}
	// render
	r := cfg.Render
	if r.Width <= 0 || r.Height <= 0 {
		return invalid("render.width/height must be > 0")
	}
	if r.FontSize <= 0 {
		return invalid("render.font_size must be > 0")
	}
	if r.Margin < 0 {
		return invalid("render.margin must be >= 0")
	}
	if r.DensityRatio <= 0 || r.DensityRatio > 1 {
		return invalid("render.density_ratio must be in (0,1]")
	}
	// 字体名直接写入逗号分隔的样式行
	if strings.TrimSpace(r.Font) == "" || strings.ContainsAny(r.Font, ",\r\n") {
		return invalid("render.font must be non-empty without commas or newlines")
	}
	switch track.Policy(r.OverflowPolicy) {
	case track.PolicyIgnore, track.PolicyOverlay:
	default:
		return invalid("render.overflow_policy %q (want ignore|overlay)", r.OverflowPolicy)
	}
	if r.DisplayDuration <= 0 {
		return invalid("render.display_duration must be > 0")
	}
	if math.IsNaN(r.Opacity) || r.Opacity < 0 || r.Opacity > 1 {
		return invalid("render.opacity must be in [0,1]")
	}
	// retry
	rt := cfg.Retry
	if rt.BaseSeconds <= 0 {
		return invalid("retry.base_seconds must be > 0")
	}
	if rt.MaxSeconds < rt.BaseSeconds {
		return invalid("retry.max_seconds must be >= base_seconds")
	}
	if rt.ResetAfterSeconds < 0 {
		return invalid("retry.reset_after_seconds must be >= 0")
	}
	if rt.StopTimeoutSeconds <= 0 {
		return invalid("retry.stop_timeout_seconds must be > 0")
	}
	if rt.QueueSize <= 0 {
		return invalid("retry.queue_size must be > 0")
	}
	// logging
	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("logging.level %q", cfg.Logging.Level)
	}
	return nil
}

// Assemble 校验并构造会话装配（来源工厂、调度器、分段写出器、循环参数）。
// 严格 options 解析在 registry（工厂）层进行；此处只传原样子树。
func Assemble(cfg Config, lg *diag.Logger, term *diag.Terminal) (session.Config, error) {
	if err := Validate(cfg); err != nil {
		return session.Config{}, err
	}

	factory, err := registry.Source[cfg.Source.Name](cfg.Source.Target, &cfg.Source.Options, lg)
	if err != nil {
		return session.Config{}, wrapInvalid(err)
	}
	out, err := registry.Writer[effName(cfg.Output.Writer, Defaults().Output.Writer)](cfg.Output.Dir, &cfg.Output.WriterOptions)
	if err != nil {
		return session.Config{}, wrapInvalid(err)
	}

	r := cfg.Render
	sched, err := track.New(track.Options{
		Width:           r.Width,
		Height:          r.Height,
		Margin:          r.Margin,
		FontSize:        r.FontSize,
		DensityRatio:    r.DensityRatio,
		DisplayDuration: r.DisplayDuration,
		Policy:          track.Policy(r.OverflowPolicy),
	})
	if err != nil {
		return session.Config{}, err
	}
	if n := track.LaneCount(r.Height, r.DensityRatio, r.FontSize, r.Margin); n < 1 {
		lg.Warn("config", string(diag.CodeInvariant), "no lane fits the canvas; degrading to a single lane",
			map[string]string{"computed": fmt.Sprint(n)})
	}

	w, err := segment.New(segment.Options{
		Out:             out,
		Template:        cfg.Output.Template,
		SegmentLength:   cfg.Output.SegmentLength,
		CheckInterval:   seconds(cfg.Output.RotateCheck),
		DisplayDuration: r.DisplayDuration,
		Style: segment.Style{
			Title:    effName(cfg.Output.Description, cfg.Source.Target),
			Width:    r.Width,
			Height:   r.Height,
			Font:     r.Font,
			FontSize: r.FontSize,
			Opacity:  r.Opacity,
		},
		Logger:   lg,
		Terminal: term,
	})
	if err != nil {
		return session.Config{}, err
	}

	rt := cfg.Retry
	return session.Config{
		Loop: session.Settings{
			Factory:     factory,
			Base:        seconds(rt.BaseSeconds),
			Cap:         seconds(rt.MaxSeconds),
			ResetAfter:  seconds(rt.ResetAfterSeconds),
			StopTimeout: seconds(rt.StopTimeoutSeconds),
			QueueSize:   rt.QueueSize,
			Logger:      lg,
			Terminal:    term,
		},
		Scheduler: sched,
		Writer:    w,
	}, nil
}

// wrapInvalid: 工厂的选项解码错误（yaml）未必带哨兵，统一归为配置错误。
func wrapInvalid(err error) error {
	if diag.Classify(err) == diag.CodeInvariant {
		return err
	}
	return fmt.Errorf("config: %w: %v", contract.ErrInvalidInput, err)
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func effName(got, def string) string {
	if strings.TrimSpace(got) == "" {
		return def
	}
	return got
}
