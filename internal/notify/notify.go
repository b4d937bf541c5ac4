// Package notify publishes a best-effort run-completion event to an AMQP
// exchange each time a mapping finishes processing. A failed
// publish never fails the sync itself — it is logged and swallowed by the
// caller.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
)

// RunCompletedEvent is published once per processed mapping.
type RunCompletedEvent struct {
	RunID       string    `json:"run_id"`
	Mapping     string    `json:"mapping"`
	FinishedAt  time.Time `json:"finished_at"`
	RowsWritten int       `json:"rows_written"`
	RowsDeleted int       `json:"rows_deleted"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// Publisher publishes run-completion events.
type Publisher interface {
	Publish(event RunCompletedEvent) error
	Close() error
}

// Open connects to the configured AMQP broker and declares its exchange,
// or returns a no-op Publisher when cfg is nil.
func Open(cfg *config.NotifyConfig) (Publisher, error) {
	if cfg == nil {
		return noopPublisher{}, nil
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to notify broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening notify channel: %w", err)
	}

	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "snowflake_to_falkordb.runs"
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring notify exchange %q: %w", exchange, err)
	}

	return &amqpPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

type amqpPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(event RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding run-completed event: %w", err)
	}

	return p.channel.Publish(p.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   event.FinishedAt,
	})
}

func (p *amqpPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

type noopPublisher struct{}

func (noopPublisher) Publish(RunCompletedEvent) error { return nil }
func (noopPublisher) Close() error                    { return nil }
