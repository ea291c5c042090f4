package nats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectSBSRaw carries every raw MSG line received from the feed.
	SubjectSBSRaw = "sbs.raw"

	streamName   = "SBS_RAW"
	streamMaxAge = 24 * time.Hour
)

// RawMessage is one raw feed line with its receipt metadata.
type RawMessage struct {
	Raw       string    `json:"raw"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Client mirrors raw feed lines to a JetStream stream so downstream
// consumers can replay the feed.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to NATS and ensures the raw stream exists.
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{SubjectSBSRaw},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{conn: nc, js: js}, nil
}

// PublishRaw mirrors one feed line. The publish is asynchronous so the
// ingestion path never waits on the broker.
func (c *Client) PublishRaw(line, source string, ts time.Time) error {
	data, err := json.Marshal(&RawMessage{Raw: line, Source: source, Timestamp: ts})
	if err != nil {
		return fmt.Errorf("failed to marshal raw message: %w", err)
	}
	if _, err := c.js.PublishAsync(SubjectSBSRaw, data); err != nil {
		return fmt.Errorf("failed to publish raw message: %w", err)
	}
	return nil
}

// SubscribeRaw subscribes to mirrored feed lines.
func (c *Client) SubscribeRaw(handler func(*RawMessage)) error {
	_, err := c.js.Subscribe(SubjectSBSRaw, func(msg *nats.Msg) {
		var raw RawMessage
		if err := json.Unmarshal(msg.Data, &raw); err != nil {
			fmt.Printf("Error unmarshaling raw message: %v\n", err)
			return
		}
		handler(&raw)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
