// Package mqtt bridges LoRa gateways that publish rescue reports over MQTT.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rescuenet/dispatch/internal/config"
	"github.com/rescuenet/dispatch/internal/intake"
	"github.com/rescuenet/dispatch/internal/ledger"
)

const (
	connectTimeout = 10 * time.Second
	submitTimeout  = 10 * time.Second
	disconnectMs   = 250
)

// Envelope is one gateway message. ReplyTo, when set, receives the Result.
type Envelope struct {
	Source  string            `json:"source"`
	Key     string            `json:"key"`
	Report  intake.LoraReport `json:"report"`
	ReplyTo string            `json:"replyTo,omitempty"`
}

// Reply is published to Envelope.ReplyTo.
type Reply struct {
	OK     bool           `json:"ok"`
	Result *ledger.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Submitter accepts authenticated LoRa reports. *intake.Adapter satisfies it.
type Submitter interface {
	SubmitLora(ctx context.Context, source, key string, l intake.LoraReport) (ledger.Result, error)
}

// Bridge subscribes to the gateway topic and submits every message.
type Bridge struct {
	cfg    config.MQTTConfig
	submit Submitter
	logger *slog.Logger
	client mqtt.Client

	publish func(topic string, payload []byte) mqtt.Token
	replies sync.WaitGroup
}

// New prepares a bridge. Nothing connects until Start.
func New(cfg config.MQTTConfig, submit Submitter, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	b := &Bridge{cfg: cfg, submit: submit, logger: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	// handlers publish replies, which must not hold up the incoming router
	opts.SetOrderMatters(false)
	// subscriptions do not survive a clean-session reconnect
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := b.subscribe(c); err != nil {
			b.logger.Error("MQTT subscribe failed", "topic", cfg.Topic, "error", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn("MQTT connection lost", "error", err)
	})

	b.client = mqtt.NewClient(opts)
	b.publish = func(topic string, payload []byte) mqtt.Token {
		return b.client.Publish(topic, cfg.QoS, false, payload)
	}
	return b
}

// Start connects to the broker. The subscription is made on connect.
func (b *Bridge) Start() error {
	if b.cfg.Topic == "" {
		return errors.New("mqtt topic must not be empty")
	}
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("failed to connect to MQTT broker %s: timed out", b.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", b.cfg.Broker, err)
	}
	b.logger.Info("MQTT bridge connected", "broker", b.cfg.Broker, "topic", b.cfg.Topic)
	return nil
}

func (b *Bridge) subscribe(c mqtt.Client) error {
	token := c.Subscribe(b.cfg.Topic, b.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		b.onMessage(msg)
	})
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("subscribe to %s timed out", b.cfg.Topic)
	}
	return token.Error()
}

// Stop disconnects from the broker once pending replies are settled.
func (b *Bridge) Stop() {
	if b.client.IsConnected() {
		b.client.Unsubscribe(b.cfg.Topic).WaitTimeout(time.Second)
	}
	b.replies.Wait()
	b.client.Disconnect(disconnectMs)
}

func (b *Bridge) onMessage(msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	env, res, err := b.Handle(ctx, msg.Payload())
	if err != nil {
		b.logger.Warn("Rejected LoRa message", "topic", msg.Topic(), "error", err)
	}
	if env.ReplyTo == "" {
		return
	}

	reply := Reply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Result = &res
	}
	data, _ := json.Marshal(reply)
	b.replies.Add(1)
	go b.awaitReply(env.ReplyTo, b.publish(env.ReplyTo, data))
}

func (b *Bridge) awaitReply(topic string, token mqtt.Token) {
	defer b.replies.Done()
	if !token.WaitTimeout(connectTimeout) {
		b.logger.Warn("Failed to publish LoRa reply", "topic", topic, "error", "timed out")
		return
	}
	if err := token.Error(); err != nil {
		b.logger.Warn("Failed to publish LoRa reply", "topic", topic, "error", err)
	}
}

// Handle decodes one message and submits it.
func (b *Bridge) Handle(ctx context.Context, payload []byte) (Envelope, ledger.Result, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, ledger.Result{}, fmt.Errorf("malformed LoRa message: %w", err)
	}
	res, err := b.submit.SubmitLora(ctx, env.Source, env.Key, env.Report)
	if err != nil {
		return env, ledger.Result{}, err
	}
	b.logger.Debug("Accepted LoRa message", "source", env.Source, "rescuePointId", res.ID, "isDuplicate", res.IsDuplicate)
	return env, res, nil
}
