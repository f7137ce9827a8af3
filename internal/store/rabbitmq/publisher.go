package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/ai-relay/internal/common"
	"github.com/suPer8Hu/ai-relay/internal/relay"
)

// LogMessage is the queue body for one answered turn. ID is minted at
// publish time so the consumer can drop redeliveries.
type LogMessage struct {
	ID         string            `json:"id"`
	SessionKey string            `json:"session_key"`
	UserID     string            `json:"user_id"`
	Message    string            `json:"message"`
	Response   string            `json:"response"`
	Provider   string            `json:"provider"`
	Model      string            `json:"model"`
	TokensUsed int               `json:"tokens_used"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func NewLogMessage(e relay.LogEntry) (LogMessage, error) {
	id, err := common.NewULID()
	if err != nil {
		return LogMessage{}, err
	}
	return LogMessage{
		ID:         id,
		SessionKey: e.SessionKey,
		UserID:     e.UserID,
		Message:    e.Message,
		Response:   e.Response,
		Provider:   e.Provider,
		Model:      e.Model,
		TokensUsed: e.TokensUsed,
		Metadata:   e.Metadata,
		CreatedAt:  e.CreatedAt,
	}, nil
}

func (m LogMessage) Entry() relay.LogEntry {
	return relay.LogEntry{
		SessionKey: m.SessionKey,
		UserID:     m.UserID,
		Message:    m.Message,
		Response:   m.Response,
		Provider:   m.Provider,
		Model:      m.Model,
		TokensUsed: m.TokensUsed,
		Metadata:   m.Metadata,
		CreatedAt:  m.CreatedAt,
	}
}

// Queues returns the main, retry and dead-letter queue names for queue.
func Queues(queue string) (main, retry, dlq string) {
	return queue, queue + ".retry", queue + ".dlq"
}

// DeclareTopology declares the dead-letter queue, a retry queue that
// dead-letters back into main, and main itself dead-lettering into the DLQ.
// Publisher and worker both call it so either can start first.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ, retryQ, dlqQ := Queues(queue)

	if _, err := ch.QueueDeclare(dlqQ, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(retryQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": mainQ,
	}); err != nil {
		return err
	}
	// reject/nack(requeue=false) lands in the DLQ
	_, err := ch.QueueDeclare(mainQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqQ,
	})
	return err
}

// Publisher sends log messages to the queue. It implements relay.LogSink.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) Log(ctx context.Context, e relay.LogEntry) error {
	msg, err := NewLogMessage(e)
	if err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
