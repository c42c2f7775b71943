package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/gonglijing/iotconsole/internal/logger"
	"github.com/gonglijing/iotconsole/internal/models"
)

// 代理协议
const (
	ProtocolMQTT  = "mqtt"
	ProtocolMQTTS = "mqtts"
	ProtocolWS    = "ws"
	ProtocolWSS   = "wss"
)

// Protocols 代理可选协议
var Protocols = []string{ProtocolMQTT, ProtocolMQTTS, ProtocolWS, ProtocolWSS}

// ErrProbeTimeout 探测超时
var ErrProbeTimeout = errors.New("mqtt connect timeout")

// ProbeResult 探测结果
type ProbeResult struct {
	URL       string `json:"url"`
	Reachable bool   `json:"reachable"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// BrokerURL 根据代理记录生成 paho 可识别的地址
func BrokerURL(b *models.MQTTBroker) (string, error) {
	if b == nil || strings.TrimSpace(b.Host) == "" {
		return "", errors.New("broker host is required")
	}
	if b.Puerto <= 0 || b.Puerto > 65535 {
		return "", fmt.Errorf("invalid broker port %d", b.Puerto)
	}

	var scheme string
	switch strings.ToLower(b.Protocolo) {
	case "", ProtocolMQTT:
		scheme = "tcp"
		if b.UseTLS {
			scheme = "ssl"
		}
	case ProtocolMQTTS:
		scheme = "ssl"
	case ProtocolWS:
		scheme = "ws"
		if b.UseTLS {
			scheme = "wss"
		}
	case ProtocolWSS:
		scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported protocol %q", b.Protocolo)
	}

	host := net.JoinHostPort(strings.TrimSpace(b.Host), strconv.Itoa(b.Puerto))
	if scheme == "ws" || scheme == "wss" {
		return scheme + "://" + host + "/mqtt", nil
	}
	return scheme + "://" + host, nil
}

// Prober 代理连通性探测器
type Prober struct {
	timeout   time.Duration
	newClient func(*paho.ClientOptions) paho.Client
	log       *logger.StructuredLogger
}

// NewProber 创建探测器
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		timeout:   timeout,
		newClient: paho.NewClient,
		log:       logger.WithModule("mqtt.probe"),
	}
}

func (p *Prober) options(b *models.MQTTBroker, brokerURL string) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("iotconsole-probe-" + uuid.NewString()[:8]).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true).
		SetConnectTimeout(p.timeout)

	if b.Usuario != "" {
		opts.SetUsername(b.Usuario)
	}
	if b.Password != "" {
		opts.SetPassword(b.Password)
	}
	if b.Keepalive > 0 {
		opts.SetKeepAlive(time.Duration(b.Keepalive) * time.Second)
	}
	if strings.HasPrefix(brokerURL, "ssl://") || strings.HasPrefix(brokerURL, "wss://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12, ServerName: b.Host})
	}
	return opts
}

// Probe 建立一次连接并立即断开，报告是否可达及耗时
func (p *Prober) Probe(ctx context.Context, b *models.MQTTBroker) ProbeResult {
	brokerURL, err := BrokerURL(b)
	if err != nil {
		return ProbeResult{Error: err.Error()}
	}
	result := ProbeResult{URL: brokerURL}

	client := p.newClient(p.options(b, brokerURL))
	started := time.Now()
	token := client.Connect()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		abandon(client, token)
		result.Error = ErrProbeTimeout.Error()
		p.log.Warn("broker probe timed out", "url", brokerURL)
		return result
	case <-ctx.Done():
		abandon(client, token)
		result.Error = ctx.Err().Error()
		return result
	}

	result.LatencyMS = time.Since(started).Milliseconds()
	if err := token.Error(); err != nil {
		result.Error = err.Error()
		p.log.Info("broker probe failed", "url", brokerURL, "error", err.Error())
		return result
	}

	result.Reachable = true
	client.Disconnect(250)
	p.log.Info("broker probe ok", "url", brokerURL, "latency_ms", result.LatencyMS)
	return result
}

// abandon 放弃等待中的连接；连接晚到时立即断开
func abandon(client paho.Client, token paho.Token) {
	go func() {
		token.Wait()
		if token.Error() == nil {
			client.Disconnect(0)
		}
	}()
}
