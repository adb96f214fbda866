// Package mqtt publishes the live HRV session to an MQTT broker.
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

	"github.com/oliverhazley/MindMend/internal/config"
)

var ErrStopped = errors.New("mqtt client stopped")

const publishTimeout = 5 * time.Second

type Client struct {
	client    mqtt.Client
	broker    string
	port      int
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// LiveMessage is published on every session change.
type LiveMessage struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	State     string    `json:"state"`
	Ready     bool      `json:"ready"`
	Pulse     int       `json:"pulse"`
	RMSSD     *float64  `json:"rmssd,omitempty"`
	Battery   int       `json:"battery"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMessage is retained so late subscribers see the current link state.
type StateMessage struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	Device    string    `json:"device,omitempty"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

func LiveTopic(userID string) string  { return fmt.Sprintf("mindmend/%s/hrv/live", userID) }
func StateTopic(userID string) string { return fmt.Sprintf("mindmend/%s/hrv/state", userID) }

func NewClient(cfg config.Gateway, logger *slog.Logger) *Client {
	c := &Client{
		broker: cfg.MQTTBroker,
		port:   cfg.MQTTPort,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// The broker clears the retained state if the gateway vanishes.
	will, _ := json.Marshal(StateMessage{UserID: cfg.UserID, State: "disconnected"})
	opts.SetBinaryWill(StateTopic(cfg.UserID), will, 1, true)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect waits for the initial broker connection. It respects ctx and Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}
	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
}

func (c *Client) PublishLive(m LiveMessage) error {
	return c.publish(LiveTopic(m.UserID), 0, false, m)
}

func (c *Client) PublishState(m StateMessage) error {
	return c.publish(StateTopic(m.UserID), 1, true, m)
}

func (c *Client) publish(topic string, qos byte, retained bool, v any) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	token := c.client.Publish(topic, qos, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	c.logger.Debug("mqtt published", "topic", topic, "retained", retained)
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect is idempotent. After it, Connect returns ErrStopped.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.client != nil {
		c.client.Disconnect(250)
	}
	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
