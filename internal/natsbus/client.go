package natsbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nidhogg/nuka-council/internal/audit"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"go.uber.org/zap"
)

// Client publishes run events. It implements orchestrator.Recorder.
type Client struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// Connect dials url.
func Connect(url string, logger *zap.Logger) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("council"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(subject, data)
}

// Record publishes the step on its step subject, and again on the done
// subject when the run has finished.
func (c *Client) Record(_ context.Context, step orchestrator.Step) error {
	ev := audit.FromStep(step)
	if err := c.PublishJSON(SubjectStep(ev.Workflow, ev.ThreadID), ev); err != nil {
		return fmt.Errorf("publish step: %w", err)
	}
	if ev.Final() {
		if err := c.PublishJSON(SubjectDone(ev.Workflow, ev.ThreadID), ev); err != nil {
			return fmt.Errorf("publish done: %w", err)
		}
	}
	return nil
}

// Subscribe decodes events on subject and passes them to handler.
func (c *Client) Subscribe(subject string, handler func(audit.Event)) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ev audit.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.logger.Warn("bad event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(ev)
	})
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}
