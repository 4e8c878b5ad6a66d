package main

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	telemetryQueueSize = 16
	publishTimeout     = 5 * time.Second
)

// telemetryMessage is one outgoing MQTT publication.
type telemetryMessage struct {
	topic   string
	payload []byte
	retain  bool
}

// telemetryPublisher mirrors monitor state to an MQTT broker. A single
// worker goroutine owns the client; producers enqueue and never block on the
// network.
type telemetryPublisher struct {
	client    mqtt.Client
	messages  chan telemetryMessage
	topicRoot string
}

func startTelemetry(conf *Config, stop <-chan struct{}) (*telemetryPublisher, error) {
	hostname := getHostname()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(conf.MQTTBroker)
	opts.SetClientID("presto-ups-" + hostname)
	if conf.MQTTUser != "" {
		opts.SetUsername(conf.MQTTUser)
		opts.SetPassword(conf.MQTTPassword)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("Connected to MQTT broker ", conf.MQTTBroker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("Lost connection to MQTT broker: %v", err)
	})

	p := &telemetryPublisher{
		client:    mqtt.NewClient(opts),
		messages:  make(chan telemetryMessage, telemetryQueueSize),
		topicRoot: "presto/ups/" + hostname,
	}

	// With connect retries on, the token resolves on the first successful
	// connection, so don't wait for it here.
	p.client.Connect()

	go p.worker(stop)
	return p, nil
}

func (p *telemetryPublisher) worker(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			p.client.Disconnect(250)
			return
		case msg := <-p.messages:
			token := p.client.Publish(msg.topic, 1, msg.retain, msg.payload)
			if !token.WaitTimeout(publishTimeout) {
				log.Warn("Timed out publishing to ", msg.topic)
			} else if token.Error() != nil {
				log.Warnf("Failed to publish to %s: %v", msg.topic, token.Error())
			}
		}
	}
}

// publishState queues the latest status JSON, retained so late subscribers
// see the last known state.
func (p *telemetryPublisher) publishState(payload []byte) {
	p.enqueue(telemetryMessage{topic: p.topicRoot + "/state", payload: payload, retain: true})
}

// publishEvent queues a dispatched alert.
func (p *telemetryPublisher) publishEvent(kind, message string) {
	payload, err := json.Marshal(map[string]string{
		"event":   kind,
		"message": message,
	})
	if err != nil {
		return
	}
	p.enqueue(telemetryMessage{topic: p.topicRoot + "/event", payload: payload})
}

func (p *telemetryPublisher) enqueue(msg telemetryMessage) {
	select {
	case p.messages <- msg:
	default:
		log.Warn("Telemetry queue full, dropping message for ", msg.topic)
	}
}
