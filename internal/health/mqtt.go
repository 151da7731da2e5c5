package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"camwatch/internal/config"
	"camwatch/internal/logging"
)

// ErrPublish marks a failed MQTT publish.
var ErrPublish = errors.New("mqtt publish failed")

type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes snapshots as retained messages:
//
//	<topic>/state         full snapshot JSON
//	<topic>/slot/<index>  one slot status JSON
//	<topic>/availability  "online", or "offline" via the will message
type MQTTPublisher struct {
	client tokenPublisher
	conn   mqtt.Client
	topic  string
	logger *slog.Logger
}

// ConnectMQTT connects to the configured broker and announces availability.
func ConnectMQTT(ctx context.Context, cfg config.MQTT, logger *slog.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetWill(cfg.Topic+"/availability", "offline", 1, true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	componentLogger := logging.NewComponentLogger(logger, "mqtt")
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.WarnWithContext(componentLogger, "mqtt connection lost; reconnecting", "mqtt_connection_lost",
			logging.Error(err),
		)
	})

	cli := mqtt.NewClient(opts)
	if err := waitToken(ctx, cli.Connect(), 10*time.Second); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	p := newMQTTPublisher(cli, cfg.Topic, logger)
	p.conn = cli
	if err := waitToken(ctx, cli.Publish(cfg.Topic+"/availability", 1, true, "online"), 5*time.Second); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: availability: %w", ErrPublish, err)
	}
	componentLogger.Info("connected to mqtt broker",
		logging.String(logging.FieldEventType, "mqtt_connected"),
		logging.String("broker", cfg.Broker),
		logging.String("topic", cfg.Topic),
	)
	return p, nil
}

func newMQTTPublisher(client tokenPublisher, topic string, logger *slog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		topic:  topic,
		logger: logging.NewComponentLogger(logger, "mqtt"),
	}
}

// Emit publishes snap. Every message is attempted; errors are joined.
func (p *MQTTPublisher) Emit(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	var errs []error
	if err := p.publish(ctx, p.topic+"/state", payload); err != nil {
		errs = append(errs, err)
	}
	for _, slot := range snap.Slots {
		body, err := json.Marshal(slot)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal slot %d: %w", slot.Index, err))
			continue
		}
		if err := p.publish(ctx, p.topic+"/slot/"+strconv.Itoa(slot.Index), body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, payload []byte) error {
	if err := waitToken(ctx, p.client.Publish(topic, 1, true, payload), 0); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublish, topic, err)
	}
	return nil
}

// Close marks the publisher offline and disconnects.
func (p *MQTTPublisher) Close() {
	if p == nil || p.conn == nil || !p.conn.IsConnected() {
		return
	}
	token := p.conn.Publish(p.topic+"/availability", 1, true, "offline")
	token.WaitTimeout(time.Second)
	p.conn.Disconnect(250)
}

// waitToken waits for token until ctx ends or, when positive, timeout passes.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return errors.New("timed out")
	}
}
