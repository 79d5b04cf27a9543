package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"danmurec/internal/diag"
	"danmurec/pkg/contract"
)

const comp = "mqtt"

// 载荷编码。
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

const (
	defaultConnectTimeout = 5 * time.Second
	disconnectQuiesceMS   = 250
)

// Options: MQTT 弹幕源配置。target 为 broker 地址（缺省协议时补 tcp://）。
type Options struct {
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Codec: json（默认）| msgpack；键名见 contract.Record。
	Codec                 string `yaml:"codec"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
}

// Source 订阅单个主题并把记录投递到队列。
// 不启用客户端自动重连：连接丢失即结束 Run，由上层循环重建实例。
type Source struct {
	broker   string
	opts     Options
	timeout  time.Duration
	lg       *diag.Logger
	dial     func(*paho.ClientOptions) paho.Client
	lost     chan error
	skipped  atomic.Int64
	once     sync.Once
	closed   chan struct{}
	clientID string
}

// NewFactory 校验选项并返回工厂。
func NewFactory(target string, opts *Options, lg *diag.Logger) (contract.SourceFactory, error) {
	o, broker, err := resolve(target, opts)
	if err != nil {
		return nil, err
	}
	return func() (contract.Source, error) {
		return newSource(broker, o, lg, paho.NewClient), nil
	}, nil
}

func resolve(target string, opts *Options) (Options, string, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	broker := strings.TrimSpace(target)
	if broker == "" {
		return o, "", fmt.Errorf("mqtt: %w: broker target is required", contract.ErrInvalidInput)
	}
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	if strings.TrimSpace(o.Topic) == "" {
		return o, "", fmt.Errorf("mqtt: %w: topic is required", contract.ErrInvalidInput)
	}
	if o.QoS < 0 || o.QoS > 2 {
		return o, "", fmt.Errorf("mqtt: %w: qos must be 0, 1 or 2", contract.ErrInvalidInput)
	}
	switch o.Codec {
	case "":
		o.Codec = CodecJSON
	case CodecJSON, CodecMsgpack:
	default:
		return o, "", fmt.Errorf("mqtt: %w: unknown codec %q", contract.ErrInvalidInput, o.Codec)
	}
	if o.ConnectTimeoutSeconds < 0 {
		return o, "", fmt.Errorf("mqtt: %w: connect_timeout_seconds must be >= 0", contract.ErrInvalidInput)
	}
	return o, broker, nil
}

func newSource(broker string, o Options, lg *diag.Logger, dial func(*paho.ClientOptions) paho.Client) *Source {
	timeout := defaultConnectTimeout
	if o.ConnectTimeoutSeconds > 0 {
		timeout = time.Duration(o.ConnectTimeoutSeconds) * time.Second
	}
	id := o.ClientID
	if id == "" {
		// MQTT 3.1 限制 client id 不超过 23 字节
		id = "danmurec-" + uuid.NewString()[:8]
	}
	return &Source{
		broker:   broker,
		opts:     o,
		timeout:  timeout,
		lg:       lg,
		dial:     dial,
		lost:     make(chan error, 1),
		closed:   make(chan struct{}),
		clientID: id,
	}
}

// Skipped 返回因载荷无法解码而跳过的条数。
func (s *Source) Skipped() int64 { return s.skipped.Load() }

// Run 实现 contract.Source。
func (s *Source) Run(ctx context.Context, out chan<- contract.Message) error {
	co := paho.NewClientOptions()
	co.AddBroker(s.broker)
	co.SetClientID(s.clientID)
	if s.opts.Username != "" {
		co.SetUsername(s.opts.Username)
		co.SetPassword(s.opts.Password)
	}
	co.SetAutoReconnect(false)
	co.SetConnectTimeout(s.timeout)
	co.OnConnectionLost = func(_ paho.Client, err error) {
		select {
		case s.lost <- err:
		default:
		}
	}

	c := s.dial(co)
	tok := c.Connect()
	if !tok.WaitTimeout(s.timeout) {
		return fmt.Errorf("mqtt: connect %s: timeout: %w", s.broker, contract.ErrConnectionLost)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: connect %s: %v: %w", s.broker, err, contract.ErrConnectionLost)
	}
	defer c.Disconnect(disconnectQuiesceMS)

	handler := func(_ paho.Client, msg paho.Message) { s.deliver(ctx, out, msg.Payload()) }
	tok = c.Subscribe(s.opts.Topic, byte(s.opts.QoS), handler)
	if !tok.WaitTimeout(s.timeout) {
		return fmt.Errorf("mqtt: subscribe %s: timeout: %w", s.opts.Topic, contract.ErrConnectionLost)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %v: %w", s.opts.Topic, err, contract.ErrConnectionLost)
	}
	s.lg.Debug(comp, "subscribed", map[string]string{"broker": s.broker, "topic": s.opts.Topic, "client_id": s.clientID})

	select {
	case <-ctx.Done():
		return nil
	case <-s.closed:
		return nil
	case err := <-s.lost:
		return fmt.Errorf("mqtt: %v: %w", err, contract.ErrConnectionLost)
	}
}

// deliver 在客户端回调 goroutine 上执行；无法解码的载荷记录后跳过。
func (s *Source) deliver(ctx context.Context, out chan<- contract.Message, payload []byte) {
	m, err := Decode(s.opts.Codec, payload)
	if err != nil {
		s.skipped.Add(1)
		diag.IncError(comp, string(diag.CodeProtocol))
		s.lg.Warn(comp, string(diag.CodeProtocol), "payload skipped", map[string]string{"error": err.Error(), "bytes": fmt.Sprint(len(payload))})
		return
	}
	select {
	case out <- m:
	case <-ctx.Done():
	case <-s.closed:
	}
}

// Close 幂等。
func (s *Source) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Decode 按编码把载荷解为 Message；失败包装 ErrPayloadInvalid。
func Decode(codec string, payload []byte) (contract.Message, error) {
	if len(payload) == 0 {
		return contract.Message{}, fmt.Errorf("mqtt: empty payload: %w", contract.ErrPayloadInvalid)
	}
	var rec contract.Record
	var err error
	switch codec {
	case CodecMsgpack:
		err = msgpack.Unmarshal(payload, &rec)
	case CodecJSON, "":
		err = json.Unmarshal(payload, &rec)
	default:
		return contract.Message{}, fmt.Errorf("mqtt: unknown codec %q: %w", codec, contract.ErrInvalidInput)
	}
	if err != nil {
		return contract.Message{}, fmt.Errorf("mqtt: decode %s: %v: %w", codec, err, contract.ErrPayloadInvalid)
	}
	return rec.Message(), nil
}

var _ contract.Source = (*Source)(nil)
