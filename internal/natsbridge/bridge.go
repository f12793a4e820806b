package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	nc "github.com/nats-io/nats.go"

	"github.com/marcusd/internal/events"
)

// SubjectPrefix roots every forwarded event subject
const SubjectPrefix = "marcus.events"

// Client wraps a NATS connection with reconnect handling
type Client struct {
	conn *nc.Conn
}

// NewClient connects to the broker with indefinite reconnects
func NewClient(url string) (*Client, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(conn *nc.Conn, err error) {
			if err != nil {
				log.Printf("[NATS] disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			log.Printf("[NATS] reconnected to %s", conn.ConnectedUrl())
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{conn: conn}, nil
}

// PublishJSON publishes a JSON-encoded message to a subject
func (c *Client) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// SubscribeJSON delivers decoded events from a subject pattern
func (c *Client) SubscribeJSON(subject string, handler func(events.Event)) (*nc.Subscription, error) {
	return c.conn.Subscribe(subject, func(msg *nc.Msg) {
		var e events.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			log.Printf("[NATS] malformed event on %s: %v", msg.Subject, err)
			return
		}
		handler(e)
	})
}

// Close closes the connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Bridge forwards bus events to NATS subjects named by event type:
// marcus.events.TaskAssigned, marcus.events.LeaseReclaimed, ...
type Bridge struct {
	client *Client
}

// NewBridge creates a bridge over an established client
func NewBridge(client *Client) *Bridge {
	return &Bridge{client: client}
}

// Attach subscribes the bridge to a project's event bus. Publish failures
// are logged and counted by the bus; they never block the core.
func (b *Bridge) Attach(bus *events.Bus) {
	bus.Subscribe(events.TypeAll, func(ctx context.Context, e events.Event) error {
		subject := fmt.Sprintf("%s.%s", SubjectPrefix, e.Type)
		return b.client.PublishJSON(subject, e)
	})
}
