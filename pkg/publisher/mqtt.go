package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/types"
)

const (
	DefaultTopicPrefix = "smarthub"

	connectTimeout = 10 * time.Second
	publishTimeout = 10 * time.Second
	// unavailablePayload is written to the state topic of a location without
	// a current value.
	unavailablePayload = "unavailable"
)

// publishClient is the part of mqtt.Client used to publish.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes sensor states as retained messages. Each location gets a
// state topic with the month-to-date value and an attributes topic with JSON
// metadata. Without a broker configured it does nothing.
type MQTT struct {
	client mqtt.Client
	pub    publishClient
	prefix string
}

// Attributes is the JSON document written to the attributes topic.
type Attributes struct {
	AccountID       string     `json:"account_id"`
	LocationID      string     `json:"location_id"`
	Description     string     `json:"description"`
	StatisticID     string     `json:"statistic_id"`
	Unit            string     `json:"unit_of_measurement"`
	Available       bool       `json:"available"`
	LastReadingTime *time.Time `json:"last_reading_time,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// Configured sets up the MQTT publisher from flags.
func Configured() *MQTT {
	broker := lflag.String("mqtt-broker", "", "MQTT broker host:port to publish sensor states to (empty disables publishing)")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	prefix := lflag.String("mqtt-topic-prefix", DefaultTopicPrefix, "Prefix of the published MQTT topics")

	m := &MQTT{}

	lflag.Do(func() {
		m.prefix = strings.Trim(*prefix, "/")
		if m.prefix == "" {
			m.prefix = DefaultTopicPrefix
		}
		if *broker == "" {
			return
		}

		opts := mqtt.NewClientOptions()
		if strings.Contains(*broker, "://") {
			opts.AddBroker(*broker)
		} else {
			opts.AddBroker(fmt.Sprintf("tcp://%s", *broker))
		}
		opts.SetClientID("smarthubsync-" + strconv.FormatInt(time.Now().UnixNano(), 36))
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectTimeout(connectTimeout)
		if *username != "" {
			opts.SetUsername(*username)
		}
		if *password != "" {
			opts.SetPassword(*password)
		}

		if err := m.connect(mqtt.NewClient(opts)); err != nil {
			panic(fmt.Sprintf("failed to connect to mqtt broker: %v", err))
		}
	})

	return m
}

func (m *MQTT) connect(client mqtt.Client) error {
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// the client keeps retrying in the background
		log.Default().Warn("mqtt broker not reachable yet")
	} else if err := token.Error(); err != nil {
		return err
	}
	m.client = client
	m.pub = client
	return nil
}

// StateTopic returns the state topic of a location.
func (m *MQTT) StateTopic(locationID string) string {
	return fmt.Sprintf("%s/%s/state", m.prefix, locationID)
}

// AttributesTopic returns the attributes topic of a location.
func (m *MQTT) AttributesTopic(locationID string) string {
	return fmt.Sprintf("%s/%s/attributes", m.prefix, locationID)
}

// statePayload formats the current value, or unavailablePayload.
func statePayload(s types.SensorState) string {
	if !s.Available || s.CurrentValue == nil {
		return unavailablePayload
	}
	return strconv.FormatFloat(*s.CurrentValue, 'f', -1, 64)
}

func attributes(s types.SensorState) Attributes {
	a := Attributes{
		AccountID:   s.AccountID,
		LocationID:  s.Location.ID,
		Description: s.Location.Description,
		StatisticID: s.StatisticID,
		Unit:        types.StatisticUnit,
		Available:   s.Available,
	}
	if !s.LastReadingTime.IsZero() {
		t := s.LastReadingTime.UTC()
		a.LastReadingTime = &t
	}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt.UTC()
		a.UpdatedAt = &t
	}
	return a
}

// Publish writes the retained state and attributes of every location. It
// keeps going after a failed message and returns every failure.
func (m *MQTT) Publish(ctx context.Context, states []types.SensorState) error {
	if m.pub == nil {
		return nil
	}

	var errs []error
	for _, s := range states {
		attrs, err := json.Marshal(attributes(s))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to encode attributes of %s: %w", s.Location.ID, err))
			continue
		}
		if err := m.send(ctx, m.AttributesTopic(s.Location.ID), attrs); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.send(ctx, m.StateTopic(s.Location.ID), []byte(statePayload(s))); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Ctx(ctx).DebugContext(ctx, "published sensor state", slog.String("locationID", s.Location.ID), slog.Bool("available", s.Available))
	}
	return errors.Join(errs...)
}

func (m *MQTT) send(ctx context.Context, topic string, payload []byte) error {
	token := m.pub.Publish(topic, 1, true, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to publish %s: %w", topic, ctx.Err())
	case <-time.After(publishTimeout):
		return fmt.Errorf("failed to publish %s: timed out", topic)
	}
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}
