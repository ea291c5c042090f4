package bus

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	clientIDPrefix = "adsb-analyser-"
)

// Client wraps the MQTT connection used for aircraft batch publishing. The
// underlying client reconnects on its own; a publish during an outage simply
// fails and the batch is retried on the next tick.
type Client struct {
	client mqtt.Client
	topic  string
}

// New connects to the broker at host:port and returns a publish client bound
// to the given topic.
func New(host string, port int, topic string) (*Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", host, port)).
		SetClientID(clientIDPrefix + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt: connection to %s:%d timed out", host, port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connection to %s:%d failed: %w", host, port, err)
	}
	return &Client{client: client, topic: topic}, nil
}

// Publish hands one payload to the broker.
func (c *Client) Publish(payload []byte) error {
	token := c.client.Publish(c.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", c.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s failed: %w", c.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(250)
}
