package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/chargeplan/pkg/log"
	"github.com/raterudder/chargeplan/pkg/types"
)

const (
	discoveryPrefix = "homeassistant"
	chargeTimeTopic = "charge_time"
	loadTimeTopic   = "load_time"
)

// Client is the subset of the paho client used for publishing.
type Client interface {
	Connect() mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes the display values as retained Home Assistant sensors.
type MQTT struct {
	broker      string
	clientID    string
	username    string
	password    string
	topicPrefix string

	client Client

	mu         sync.Mutex
	discovered map[string]bool
}

// ConfiguredMQTT sets up the MQTT flags. The publisher is disabled when no
// broker is configured.
func ConfiguredMQTT() *MQTT {
	m := &MQTT{
		discovered: make(map[string]bool),
	}
	broker := lflag.String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883), empty disables MQTT")
	clientID := lflag.String("mqtt-client-id", "chargeplan", "MQTT client ID")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	topicPrefix := lflag.String("mqtt-topic-prefix", "chargeplan", "Prefix for the published state topics")

	lflag.Do(func() {
		m.broker = *broker
		m.clientID = *clientID
		m.username = *username
		m.password = *password
		m.topicPrefix = strings.TrimSuffix(*topicPrefix, "/")
	})
	return m
}

// NewMQTT wraps an existing client. It is used by tests and callers that
// manage the connection themselves.
func NewMQTT(client Client, topicPrefix string) *MQTT {
	return &MQTT{
		client:      client,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		discovered:  make(map[string]bool),
	}
}

// Enabled reports whether a broker was configured.
func (m *MQTT) Enabled() bool {
	return m.broker != "" || m.client != nil
}

// Connect dials the configured broker.
func (m *MQTT) Connect(ctx context.Context) error {
	if m.broker == "" {
		return errors.New("mqtt-broker is required")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(m.broker).
		SetClientID(m.clientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true)
	if m.username != "" {
		opts.SetUsername(m.username)
	}
	if m.password != "" {
		opts.SetPassword(m.password)
	}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		// discovery configs are re-sent after every (re)connect
		m.mu.Lock()
		m.discovered = make(map[string]bool)
		m.mu.Unlock()
		log.Ctx(ctx).InfoContext(ctx, "connected to mqtt broker", slog.String("broker", m.broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Ctx(ctx).WarnContext(ctx, "lost mqtt connection", slog.Any("error", err))
	})

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	m.client = client
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}

func (m *MQTT) stateTopic(siteID, name string) string {
	if siteID == "" || siteID == types.SiteIDNone {
		return m.topicPrefix + "/" + name
	}
	return m.topicPrefix + "/" + siteID + "/" + name
}

type discoveryConfig struct {
	Name       string `json:"name"`
	UniqueID   string `json:"unique_id"`
	StateTopic string `json:"state_topic"`
	Icon       string `json:"icon"`
}

func (m *MQTT) discoveryTopic(siteID, name string) (string, discoveryConfig) {
	objectID := m.clientID
	if objectID == "" {
		objectID = "chargeplan"
	}
	if siteID != "" && siteID != types.SiteIDNone {
		objectID += "_" + siteID
	}
	objectID += "_" + name

	cfg := discoveryConfig{
		Name:       strings.ReplaceAll(name, "_", " "),
		UniqueID:   objectID,
		StateTopic: m.stateTopic(siteID, name),
		Icon:       "mdi:battery-clock",
	}
	return discoveryPrefix + "/sensor/" + objectID + "/config", cfg
}

func (m *MQTT) publishDiscovery(ctx context.Context, siteID string) error {
	m.mu.Lock()
	done := m.discovered[siteID]
	m.mu.Unlock()
	if done {
		return nil
	}

	for _, name := range []string{chargeTimeTopic, loadTimeTopic} {
		topic, cfg := m.discoveryTopic(siteID, name)
		b, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal discovery config: %w", err)
		}
		if err := wait(ctx, m.client.Publish(topic, 1, true, b)); err != nil {
			return fmt.Errorf("failed to publish discovery config to %s: %w", topic, err)
		}
	}

	m.mu.Lock()
	m.discovered[siteID] = true
	m.mu.Unlock()
	return nil
}

// Publish sends the charge and load times as retained messages. It does
// nothing when no broker is configured.
func (m *MQTT) Publish(ctx context.Context, siteID string, values types.Display) error {
	if !m.Enabled() {
		return nil
	}
	if m.client == nil {
		return errors.New("mqtt client not connected")
	}
	if err := m.publishDiscovery(ctx, siteID); err != nil {
		return err
	}

	for name, value := range map[string]string{
		chargeTimeTopic: values.ChargeTime,
		loadTimeTopic:   values.LoadTime,
	} {
		topic := m.stateTopic(siteID, name)
		if err := wait(ctx, m.client.Publish(topic, 1, true, value)); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, err)
		}
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"published display values to mqtt",
		slog.String("chargeTime", values.ChargeTime),
		slog.String("loadTime", values.LoadTime),
	)
	return nil
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
