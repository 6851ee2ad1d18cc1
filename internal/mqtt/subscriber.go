package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Cubikon/Smart-Heating-Control/internal/config"
	"github.com/Cubikon/Smart-Heating-Control/internal/logger"
	"github.com/Cubikon/Smart-Heating-Control/internal/models"
)

// Source tags updates that arrived over MQTT
const Source = "mqtt"

// MessageProcessor is a function that processes batches of state updates
type MessageProcessor func([]models.StateUpdate) error

// Subscriber receives sensor states published on an MQTT topic tree
type Subscriber struct {
	config    config.MQTTConfig
	client    pahomqtt.Client
	processor MessageProcessor
	log       *logger.Logger
}

// NewSubscriber connects to the broker
func NewSubscriber(cfg config.MQTTConfig, processor MessageProcessor, log *logger.Logger) (*Subscriber, error) {
	s := &Subscriber{
		config:    cfg,
		processor: processor,
		log:       log.Component("mqtt"),
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			s.log.Warn("mqtt connection lost", "error", err)
		})
	s.client = pahomqtt.NewClient(opts)

	token := s.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return s, nil
}

// Run subscribes and blocks until ctx is cancelled
func (s *Subscriber) Run(ctx context.Context) error {
	token := s.client.Subscribe(s.config.Topic, byte(s.config.QoS), s.handle)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", s.config.Topic, err)
	}
	s.log.Info("subscribed", "topic", s.config.Topic)

	<-ctx.Done()
	s.client.Unsubscribe(s.config.Topic).WaitTimeout(time.Second)
	s.client.Disconnect(250)
	return nil
}

func (s *Subscriber) handle(_ pahomqtt.Client, msg pahomqtt.Message) {
	update, err := decodeMessage(s.config.Topic, msg.Topic(), msg.Payload(), time.Now())
	if err != nil {
		s.log.Warn("error decoding state update", "topic", msg.Topic(), "error", err)
		return
	}
	if err := s.processor([]models.StateUpdate{update}); err != nil {
		s.log.Warn("error processing state update", "id", update.ID, "error", err)
	}
}

// StateIDFromTopic maps a topic below the subscription root to a state id:
// heating/states/hm-rpc/0/living/temperature -> hm-rpc.0.living.temperature
func StateIDFromTopic(filter, topic string) string {
	root := strings.TrimSuffix(strings.TrimSuffix(filter, "#"), "/")
	rest := strings.TrimPrefix(topic, root)
	rest = strings.Trim(rest, "/")
	return strings.ReplaceAll(rest, "/", ".")
}

// decodeMessage accepts either a JSON state update or a bare value payload
func decodeMessage(filter, topic string, payload []byte, received time.Time) (models.StateUpdate, error) {
	payload = bytes.TrimSpace(payload)
	var update models.StateUpdate
	if len(payload) > 0 && payload[0] == '{' {
		if err := json.Unmarshal(payload, &update); err != nil {
			return update, err
		}
	} else {
		update.ID = StateIDFromTopic(filter, topic)
		update.Value = string(payload)
	}
	if update.ID == "" {
		return update, fmt.Errorf("topic %s carries no state id", topic)
	}
	if update.Value == "" {
		return update, fmt.Errorf("empty payload for %s", update.ID)
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = received
	}
	update.Source = Source
	return update, nil
}
