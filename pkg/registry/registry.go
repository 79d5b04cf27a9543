package registry

import (
	"bytes"
	"errors"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"danmurec/internal/diag"
	"danmurec/pkg/contract"
	"danmurec/plugins/source/flaky"
	"danmurec/plugins/source/mock"
	"danmurec/plugins/source/mqtt"
	"danmurec/plugins/source/replay"
	wfs "danmurec/plugins/writer/filesystem"
)

// strictDecode: 严格解码 options 子树，拒绝未知键；缺省或 null 保持零值（默认选项）。
// yaml.Node.Decode 不支持 KnownFields，故先回写为文本再经 Decoder 解码。
func strictDecode(node *yaml.Node, v any) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// NewSource 工厂签名：连接目标 + 原样 options 子树。
type NewSource func(target string, raw *yaml.Node, lg *diag.Logger) (contract.SourceFactory, error)

// NewWriter 工厂签名：输出根目录 + 原样 options 子树。
type NewWriter func(outputDir string, raw *yaml.Node) (contract.Writer, error)

// Source 弹幕源注册表（显式、零反射）。
var Source = map[string]NewSource{
	// mqtt: 订阅 broker 主题（json/msgpack 载荷）
	"mqtt": func(target string, raw *yaml.Node, lg *diag.Logger) (contract.SourceFactory, error) {
		var opts mqtt.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return mqtt.NewFactory(target, &opts, lg)
	},
	// replay: 回放录制日志（文件/目录/STDIN）
	"replay": func(target string, raw *yaml.Node, lg *diag.Logger) (contract.SourceFactory, error) {
		var opts replay.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return replay.NewFactory(target, &opts, lg)
	},
	// mock: 脚本化消息（忽略 target）
	"mock": func(_ string, raw *yaml.Node, _ *diag.Logger) (contract.SourceFactory, error) {
		var opts mock.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return mock.NewFactory(&opts)
	},
	// flaky: 前 N 次失败的 mock（演练重连）
	"flaky": func(_ string, raw *yaml.Node, _ *diag.Logger) (contract.SourceFactory, error) {
		var opts flaky.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return flaky.NewFactory(&opts, nil)
	},
}

// Writer 持久化介质注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（原子创建 + 追加）
	"fs": func(outputDir string, raw *yaml.Node) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		opts.OutputDir = outputDir
		w, err := wfs.New(&opts)
		if err != nil {
			return nil, err
		}
		return w, nil
	},
}

// Names 返回注册表键的有序列表（帮助信息与错误提示用）。
func Names[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
