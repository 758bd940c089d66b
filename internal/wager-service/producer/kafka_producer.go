package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/radieske/lucky-wager-poc/pkg/contracts/events"
)

// MessageWriter é o subconjunto de *kafka.Writer usado aqui
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher publica os eventos do programa de apostas, um writer por tópico.
// A chave da mensagem é o registro (ou o funds), mantendo a ordem por conta.
type KafkaPublisher struct {
	Played    MessageWriter
	Settled   MessageWriter
	Withdrawn MessageWriter
	now       func() time.Time
}

func NewKafkaPublisher(played, settled, withdrawn MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{Played: played, Settled: settled, Withdrawn: withdrawn, now: time.Now}
}

func (p *KafkaPublisher) PublishWagerPlayed(ctx context.Context, e events.WagerPlayed) error {
	e.TsUnixMs = p.now().UnixMilli()
	return write(ctx, p.Played, e.Record, e)
}

func (p *KafkaPublisher) PublishWagerSettled(ctx context.Context, e events.WagerSettled) error {
	e.TsUnixMs = p.now().UnixMilli()
	return write(ctx, p.Settled, e.Record, e)
}

func (p *KafkaPublisher) PublishFundsWithdrawn(ctx context.Context, e events.FundsWithdrawn) error {
	e.TsUnixMs = p.now().UnixMilli()
	return write(ctx, p.Withdrawn, e.Funds, e)
}

func write(ctx context.Context, w MessageWriter, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}
