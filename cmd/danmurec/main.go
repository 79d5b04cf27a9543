package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "danmurec/internal/config"
	"danmurec/internal/diag"
	"danmurec/internal/session"
	"danmurec/pkg/registry"
)

// version 由构建时 -ldflags "-X main.version=..." 注入。
var version = "dev"

// 退出码。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 安装信号处理并执行命令树；SIGINT/SIGTERM 触发有序停机。
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runContext(ctx, args)
}

func runContext(ctx context.Context, args []string) int {
	code := exitOK
	root := newRootCmd(&code)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		// 旗标/参数解析错误
		fprintf(stderr, "参数错误: %v\n", err)
		return exitConfig
	}
	return code
}

type flags struct {
	config    string
	source    string
	target    string
	outputDir string
	segment   float64
	status    bool
	logLevel  string
}

func newRootCmd(code *int) *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:   "danmurec",
		Short: "Record live danmaku into rotated ASS subtitle segments",
		Long: `danmurec consumes a live danmaku stream, assigns every comment to a
non-colliding lane and appends it to ASS subtitle files rotated on a
wall-clock timer. Stop with Ctrl-C.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			*code = record(cmd.Context(), cmd, f)
			return nil
		},
	}
	fl := root.Flags()
	fl.StringVar(&f.config, "config", "", "配置文件路径（YAML）；缺省读取 $DANMUREC_CONFIG_FILE 或 ./danmurec.yaml")
	fl.StringVar(&f.source, "source", "", "来源名称（"+strings.Join(registry.Names(registry.Source), "|")+"）")
	fl.StringVar(&f.target, "target", "", "来源目标（broker 地址或回放路径）")
	fl.StringVar(&f.outputDir, "output-dir", "", "输出目录（覆盖 output.dir）")
	fl.Float64Var(&f.segment, "segment", 0, "分段时长（秒）；0 表示不轮转")
	fl.BoolVar(&f.status, "status", false, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	fl.StringVar(&f.logLevel, "log-level", "", "日志等级（debug|info|warn|error）")

	root.AddCommand(newInitConfigCmd(code), newVersionCmd())
	return root
}

func newInitConfigCmd(code *int) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write a template danmurec.yaml (never overwrites)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			p, err := cfgpkg.WriteTemplate(dir)
			if err != nil {
				fprintf(stderr, "生成默认配置失败: %v\n", err)
				*code = exitConfig
				return nil
			}
			fprintf(stdout, "已生成 %s\n", p)
			*code = exitOK
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fprintf(stdout, "danmurec %s\n", version)
		},
	}
}

// record 解析分层配置、装配会话并运行到取消或致命错误。
func record(ctx context.Context, cmd *cobra.Command, f flags) int {
	start := time.Now()
	corrID := diag.NewCorrID()
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）
	_ = loadDotEnv(".env")
	// 占位 logger（stderr），配置确定后按最终 level/dir 重建
	logger := diag.NewLogger(corrID, "info", "")

	cfg := cfgpkg.Defaults()
	if path := cfgpkg.ResolvePath(f.config, os.Getenv); path != "" {
		base, err := cfgpkg.LoadYAML(path, nil)
		if err != nil {
			fprintf(stderr, "配置解析失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "config load", &start)
			return exitConfig
		}
		cfg = base
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(stderr, "环境变量解析失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "env overlay", &start)
		return exitConfig
	}
	cfg = cfgpkg.Merge(cfg, overEnv)
	cfg = cfgpkg.Merge(cfg, cliOverlay(cmd, f))

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(stderr, "配置校验失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "config validate", &start)
		return exitConfig
	}

	logger = diag.NewLogger(corrID, cfg.Logging.Level, cfg.Logging.Dir)
	defer logger.Close()

	if err := preflightCheckOutputDir(cfg); err != nil {
		fprintf(stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "preflight", &start)
		return exitConfig
	}

	term := diag.NewTerminal(stderr, f.status)
	sc, err := cfgpkg.Assemble(cfg, logger, term)
	if err != nil {
		fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "assemble", &start)
		return exitConfig
	}
	sess, err := session.New(sc)
	if err != nil {
		fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "assemble", &start)
		return exitConfig
	}

	logger.Debug("config", "effective", map[string]string{
		"source":         cfg.Source.Name,
		"target":         cfg.Source.Target,
		"output_dir":     cfg.Output.Dir,
		"template":       cfg.Output.Template,
		"segment_length": fmt.Sprint(cfg.Output.SegmentLength),
		"lanes":          fmt.Sprint(sc.Scheduler.Lanes()),
		"policy":         cfg.Render.OverflowPolicy,
	})
	term.RunStart(cfg.Source.Name, cfg.Source.Target)

	if err := sess.Start(ctx); err != nil {
		fprintf(stderr, "启动失败: %v\n", err)
		term.RunFinish(false, time.Since(start), sess.Status())
		return exitRuntime
	}
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			sess.Stop()
		case <-stopped:
		}
	}()
	err = sess.Wait()
	close(stopped)

	st := sess.Status()
	if err != nil && !errors.Is(err, context.Canceled) {
		diag.IncOp("cli", "finish", "error")
		fprintf(stderr, "运行失败: %v\n", err)
		term.RunFinish(false, time.Since(start), st)
		return exitRuntime
	}
	diag.IncOp("cli", "finish", "success")
	diag.ObserveDuration("cli", "finish", time.Since(start).Milliseconds())
	term.RunFinish(true, time.Since(start), st)
	return exitOK
}

// cliOverlay 仅收集显式给出的旗标；segment 的 0 有语义，以 Changed 判定。
func cliOverlay(cmd *cobra.Command, f flags) cfgpkg.Config {
	over := cfgpkg.Unset()
	over.Source.Name = f.source
	over.Source.Target = f.target
	over.Output.Dir = f.outputDir
	over.Logging.Level = f.logLevel
	if cmd != nil && cmd.Flags().Changed("segment") {
		over.Output.SegmentLength = f.segment
	}
	return over
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；
// - 跳过空行与 # 注释；支持可选前缀 "export "；
// - 仅按首个 '=' 分割，成对的单/双引号被去除；
// - 不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 && (val[0] == '\'' || val[0] == '"') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// preflightCheckOutputDir: 使用 fs 写出器时，启动前检查输出目录可写性。
// - 目录已存在：尝试创建并删除临时文件；
// - 目录不存在：尝试创建（分段文件总在其下）。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	name := strings.TrimSpace(cfg.Output.Writer)
	if name != "" && name != "fs" {
		return nil
	}
	dir := strings.TrimSpace(cfg.Output.Dir)
	st, err := os.Stat(dir)
	switch {
	case err == nil && !st.IsDir():
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	case err != nil && !os.IsNotExist(err):
		return err
	case err != nil:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.CreateTemp(dir, ".wcheck-*")
	if err != nil {
		return err
	}
	name = f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}
