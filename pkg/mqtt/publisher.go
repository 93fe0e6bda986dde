// Package mqtt publishes client payloads to an MQTT broker, for pipelines
// where writes reach Arc through its broker subscriptions instead of HTTP.
// Records and frames go out as msgpack rows, line protocol as plain text.
// There is no query surface over MQTT.
package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/arc-go/internal/wire"
	"github.com/basekick-labs/arc-go/pkg/arc"
	"github.com/basekick-labs/arc-go/pkg/frame"
	"github.com/basekick-labs/arc-go/pkg/models"
)

const (
	MaxTopicLength  = 1024
	MaxClientIDLen  = 255
	MaxBrokerURLLen = 2048

	// disconnectQuiesceMS is how long Disconnect waits for in-flight
	// messages.
	disconnectQuiesceMS = 1000

	defaultTimeoutMS           = 30000
	defaultKeepAliveSeconds    = 60
	defaultReconnectMaxSeconds = 60
)

// Options configures a Publisher.
type Options struct {
	// Broker is the broker URL: tcp://, ssl://, ws://, wss://, mqtt:// or
	// mqtts://.
	Broker string

	// ClientID identifies this publisher to the broker. Generated when
	// empty.
	ClientID string

	// Topic is the topic every payload is published to.
	Topic string

	// QoS is the delivery guarantee, 0 to 2. Defaults to 1.
	QoS int

	// Retained marks published messages as retained.
	Retained bool

	Username string
	Password string

	// TimeoutMS bounds connect and publish waits, in milliseconds.
	TimeoutMS int

	TLSEnabled            bool
	TLSCertPath           string
	TLSKeyPath            string
	TLSCAPath             string
	TLSInsecureSkipVerify bool

	// Logger receives connection and publish events. Defaults to a no-op
	// logger.
	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = generateClientID()
	}
	if o.QoS == 0 {
		o.QoS = 1 // At-least-once
	}
	if o.TimeoutMS == 0 {
		o.TimeoutMS = defaultTimeoutMS
	}
	return o
}

func (o Options) validate() error {
	if o.Broker == "" {
		return fmt.Errorf("%w: broker is required", arc.ErrValidation)
	}
	if len(o.Broker) > MaxBrokerURLLen {
		return fmt.Errorf("%w: broker URL exceeds %d characters", arc.ErrValidation, MaxBrokerURLLen)
	}
	if err := validateBrokerURL(o.Broker); err != nil {
		return fmt.Errorf("%w: invalid broker URL: %v", arc.ErrValidation, err)
	}
	if len(o.ClientID) > MaxClientIDLen {
		return fmt.Errorf("%w: client_id exceeds %d characters", arc.ErrValidation, MaxClientIDLen)
	}
	if o.Topic == "" {
		return fmt.Errorf("%w: topic is required", arc.ErrValidation)
	}
	if len(o.Topic) > MaxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d characters", arc.ErrValidation, MaxTopicLength)
	}
	if strings.ContainsAny(o.Topic, "+#") {
		return fmt.Errorf("%w: publish topic cannot contain wildcards", arc.ErrValidation)
	}
	if o.QoS < 0 || o.QoS > 2 {
		return fmt.Errorf("%w: qos must be 0, 1, or 2", arc.ErrValidation)
	}
	if o.TimeoutMS < 0 {
		return fmt.Errorf("%w: timeout cannot be negative", arc.ErrValidation)
	}
	for _, path := range []string{o.TLSCertPath, o.TLSKeyPath, o.TLSCAPath} {
		if path != "" && strings.Contains(path, "..") {
			return fmt.Errorf("%w: path traversal not allowed in certificate paths", arc.ErrValidation)
		}
	}
	return nil
}

func (o Options) timeout() time.Duration {
	return time.Duration(o.TimeoutMS) * time.Millisecond
}

// Publisher sends payloads to one broker topic. Safe for concurrent use
// once connected.
type Publisher struct {
	opts   Options
	client pahomqtt.Client
	logger zerolog.Logger

	mu        sync.Mutex
	connected bool

	published      atomic.Int64
	publishErrors  atomic.Int64
	bytesPublished atomic.Int64
	reconnects     atomic.Int64
}

// NewPublisher validates the options and returns an unconnected publisher.
func NewPublisher(opts Options) (*Publisher, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Publisher{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "mqtt-publisher").Str("client_id", opts.ClientID).Logger(),
	}, nil
}

// Connect dials the broker. Failures map to ErrConnectionFailed.
func (p *Publisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	clientOpts, err := p.buildClientOptions()
	if err != nil {
		return err
	}
	client := pahomqtt.NewClient(clientOpts)

	p.logger.Info().Str("broker", p.opts.Broker).Msg("Connecting to MQTT broker")

	token := client.Connect()
	if err := p.waitToken(ctx, token); err != nil {
		return fmt.Errorf("%w: connecting to %s: %v", arc.ErrConnectionFailed, p.opts.Broker, err)
	}

	p.mu.Lock()
	p.client = client
	p.connected = true
	p.mu.Unlock()

	p.logger.Info().Msg("Connected to MQTT broker")
	return nil
}

// Close disconnects from the broker, waiting briefly for in-flight
// messages. Safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	client := p.client
	wasConnected := p.connected
	p.client = nil
	p.connected = false
	p.mu.Unlock()

	if !wasConnected {
		return nil
	}
	if client != nil && client.IsConnected() {
		client.Disconnect(disconnectQuiesceMS)
	}
	p.logger.Info().Msg("Disconnected from MQTT broker")
	return nil
}

// PublishRecords publishes records as one msgpack row-array payload.
func (p *Publisher) PublishRecords(ctx context.Context, recs []models.Record) error {
	if len(recs) == 0 {
		return nil
	}
	for i := range recs {
		if err := recs[i].Validate(); err != nil {
			return fmt.Errorf("%w: record %d: %v", arc.ErrValidation, i, err)
		}
	}

	payload, err := wire.EncodeRowList(recs)
	if err != nil {
		return fmt.Errorf("%w: %v", arc.ErrValidation, err)
	}
	return p.publish(ctx, payload)
}

// PublishFrame publishes a frame as msgpack rows under the given
// measurement. Column roles decide what lands in tags versus fields;
// ignore-role columns are dropped.
func (p *Publisher) PublishFrame(ctx context.Context, measurement string, f *frame.Frame) error {
	if measurement == "" {
		return fmt.Errorf("%w: empty measurement", arc.ErrValidation)
	}
	if f == nil {
		return fmt.Errorf("%w: nil frame", arc.ErrValidation)
	}
	recs, err := frameRecords(measurement, f)
	if err != nil {
		return fmt.Errorf("%w: %v", arc.ErrValidation, err)
	}
	return p.PublishRecords(ctx, recs)
}

// PublishLines publishes line protocol as one newline-joined text payload.
func (p *Publisher) PublishLines(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	return p.publish(ctx, []byte(strings.Join(lines, "\n")))
}

// Stats returns cumulative publisher counters.
func (p *Publisher) Stats() map[string]interface{} {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()

	return map[string]interface{}{
		"connected":       connected,
		"published":       p.published.Load(),
		"publish_errors":  p.publishErrors.Load(),
		"bytes_published": p.bytesPublished.Load(),
		"reconnects":      p.reconnects.Load(),
	}
}

func (p *Publisher) publish(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	client := p.client
	connected := p.connected
	p.mu.Unlock()

	if !connected || client == nil {
		return fmt.Errorf("%w: publisher is not connected", arc.ErrNotConnected)
	}

	token := client.Publish(p.opts.Topic, byte(p.opts.QoS), p.opts.Retained, payload)
	if err := p.waitToken(ctx, token); err != nil {
		p.publishErrors.Add(1)
		if !client.IsConnected() {
			return fmt.Errorf("%w: %v", arc.ErrConnectionFailed, err)
		}
		return fmt.Errorf("%w: publishing to %s: %v", arc.ErrWriteFailed, p.opts.Topic, err)
	}

	p.published.Add(1)
	p.bytesPublished.Add(int64(len(payload)))
	return nil
}

// waitToken waits for a paho token under the configured timeout and the
// caller's context.
func (p *Publisher) waitToken(ctx context.Context, token pahomqtt.Token) error {
	timer := time.NewTimer(p.opts.timeout())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %v", p.opts.timeout())
	case <-token.Done():
		return token.Error()
	}
}

func (p *Publisher) buildClientOptions() (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.opts.Broker)
	opts.SetClientID(p.opts.ClientID)
	opts.SetKeepAlive(defaultKeepAliveSeconds * time.Second)
	opts.SetConnectTimeout(p.opts.timeout())
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(defaultReconnectMaxSeconds * time.Second)
	opts.SetCleanSession(true)

	if p.opts.Username != "" {
		opts.SetUsername(p.opts.Username)
	}
	if p.opts.Password != "" {
		opts.SetPassword(p.opts.Password)
	}

	if p.opts.TLSEnabled {
		tlsConfig, err := p.buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", arc.ErrValidation, err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		p.logger.Warn().Err(err).Msg("MQTT connection lost")
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		p.reconnects.Add(1)
		p.logger.Info().
			Int64("reconnect_count", p.reconnects.Load()).
			Msg("Attempting to reconnect to MQTT broker")
	})

	return opts, nil
}

func (p *Publisher) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: p.opts.TLSInsecureSkipVerify,
	}

	if p.opts.TLSCAPath != "" {
		caCert, err := os.ReadFile(p.opts.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parsing CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	if p.opts.TLSCertPath != "" && p.opts.TLSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(p.opts.TLSCertPath, p.opts.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// frameRecords flattens a frame to one record per row using column roles.
func frameRecords(measurement string, f *frame.Frame) ([]models.Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	recs := make([]models.Record, f.Len())
	for i := range recs {
		recs[i] = models.Record{
			Measurement: measurement,
			Fields:      make(map[string]interface{}),
			Tags:        make(map[string]string),
		}
	}

	for _, c := range f.Cols() {
		switch c.Role {
		case frame.RoleIgnore:
			continue
		case frame.RoleTime:
			for i, v := range c.Values {
				t, ok := frame.AsTime(v)
				if !ok {
					return nil, fmt.Errorf("column %q row %d: bad timestamp %v", c.Name, i, v)
				}
				recs[i].Time = t
			}
		case frame.RoleTag:
			for i, v := range c.Values {
				recs[i].Tags[c.Name] = fmt.Sprintf("%v", v)
			}
		default:
			for i, v := range c.Values {
				recs[i].Fields[c.Name] = v
			}
		}
	}

	for i := range recs {
		if len(recs[i].Fields) == 0 {
			return nil, fmt.Errorf("row %d has no field values", i)
		}
	}
	return recs, nil
}

// generateClientID creates a unique client ID for broker connections.
func generateClientID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return "arc-pub-" + hex.EncodeToString(b)
}

// validateBrokerURL checks the broker URL scheme and structure.
func validateBrokerURL(brokerURL string) error {
	validSchemes := []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://"}

	hasValidScheme := false
	for _, scheme := range validSchemes {
		if strings.HasPrefix(brokerURL, scheme) {
			hasValidScheme = true
			break
		}
	}
	if !hasValidScheme {
		return fmt.Errorf("must start with one of: %v", validSchemes)
	}

	parsed, err := url.Parse(brokerURL)
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
