package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/lucky-wager-poc/pkg/contracts/events"
)

// Reader é o subconjunto do *kafka.Reader usado pelo processor (commit manual)
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Repo interface {
	RecordPlayed(ctx context.Context, e events.WagerPlayed) error
	RecordSettled(ctx context.Context, e events.WagerSettled) error
	RecordWithdrawal(ctx context.Context, e events.FundsWithdrawn) error
}

// Topics mapeia cada tópico consumido para o tipo de evento
type Topics struct {
	Played    string
	Settled   string
	Withdrawn string
}

var errInvalidEvent = errors.New("invalid event")

// Processor consome os eventos de apostas e grava a trilha de auditoria.
// Mensagens que não decodificam vão direto para a DLQ; falhas de banco são
// tentadas de novo algumas vezes antes de ir para a DLQ. O offset só é
// commitado depois que a mensagem foi persistida ou desviada.
type Processor struct {
	Log    *zap.Logger
	Reader Reader
	Repo   Repo
	DLQ    Writer // opcional: sem DLQ a mensagem é descartada com log
	Topics Topics

	Retries int           // tentativas extras no banco (default 3)
	Backoff time.Duration // base do backoff linear (default 300ms)

	OnConsumed func(topic string)  // métricas
	OnPersist  func(topic string)  // métricas
	OnDLQ      func(reason string) // métricas
	OnError    func(stage string)  // métricas por fase
}

// Run inicia o loop principal de consumo até o contexto ser cancelado
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka fetch failed", zap.Error(err))
			p.failed("read")
			if !sleep(ctx, 500*time.Millisecond) {
				return ctx.Err()
			}
			continue
		}
		if p.OnConsumed != nil {
			p.OnConsumed(m.Topic)
		}

		// Commit é por offset: a próxima mensagem só é lida depois desta
		// ser persistida ou desviada
		if err := p.handleUntilDone(ctx, m); err != nil {
			return err
		}
		if err := p.Reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka commit failed", zap.Error(err))
			p.failed("commit")
		}
	}
}

const maxRedeliveryBackoff = 30 * time.Second

// handleUntilDone repete Handle na mesma mensagem até funcionar ou o contexto acabar
func (p *Processor) handleUntilDone(ctx context.Context, m kafka.Message) error {
	wait := p.Backoff
	if wait <= 0 {
		wait = 300 * time.Millisecond
	}
	for {
		err := p.Handle(ctx, m)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.Log.Error("message not handled, retrying",
			zap.String("topic", m.Topic),
			zap.Int64("offset", m.Offset),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
		wait = min(2*wait, maxRedeliveryBackoff)
	}
}

// Handle persiste uma mensagem ou a desvia para a DLQ.
// Só devolve erro quando nem a persistência nem a DLQ funcionaram.
func (p *Processor) Handle(ctx context.Context, m kafka.Message) error {
	persist, err := p.decode(m)
	if err != nil {
		p.Log.Warn("invalid message", zap.String("topic", m.Topic), zap.Error(err))
		p.failed("decode")
		return p.deadLetter(ctx, m, "decode", err)
	}

	retries, backoff := p.Retries, p.Backoff
	if retries <= 0 {
		retries = 3
	}
	if backoff <= 0 {
		backoff = 300 * time.Millisecond
	}
	for attempt := 0; ; attempt++ {
		err = persist(ctx)
		if err == nil {
			if p.OnPersist != nil {
				p.OnPersist(m.Topic)
			}
			return nil
		}
		p.Log.Warn("db write failed", zap.String("topic", m.Topic), zap.Int("attempt", attempt+1), zap.Error(err))
		p.failed("db")
		if attempt >= retries {
			break
		}
		if !sleep(ctx, time.Duration(attempt+1)*backoff) {
			return ctx.Err()
		}
	}
	return p.deadLetter(ctx, m, "db", err)
}

func (p *Processor) decode(m kafka.Message) (func(context.Context) error, error) {
	switch m.Topic {
	case p.Topics.Played:
		var e events.WagerPlayed
		if err := json.Unmarshal(m.Value, &e); err != nil {
			return nil, err
		}
		if e.ExecutionID == "" || e.Record == "" {
			return nil, fmt.Errorf("%w: missing execution_id or record", errInvalidEvent)
		}
		return func(ctx context.Context) error { return p.Repo.RecordPlayed(ctx, e) }, nil
	case p.Topics.Settled:
		var e events.WagerSettled
		if err := json.Unmarshal(m.Value, &e); err != nil {
			return nil, err
		}
		if e.ExecutionID == "" || e.Record == "" {
			return nil, fmt.Errorf("%w: missing execution_id or record", errInvalidEvent)
		}
		return func(ctx context.Context) error { return p.Repo.RecordSettled(ctx, e) }, nil
	case p.Topics.Withdrawn:
		var e events.FundsWithdrawn
		if err := json.Unmarshal(m.Value, &e); err != nil {
			return nil, err
		}
		if e.ExecutionID == "" || e.Funds == "" {
			return nil, fmt.Errorf("%w: missing execution_id or funds", errInvalidEvent)
		}
		return func(ctx context.Context) error { return p.Repo.RecordWithdrawal(ctx, e) }, nil
	default:
		return nil, fmt.Errorf("%w: unexpected topic %q", errInvalidEvent, m.Topic)
	}
}

func (p *Processor) deadLetter(ctx context.Context, m kafka.Message, reason string, cause error) error {
	if p.OnDLQ != nil {
		p.OnDLQ(reason)
	}
	if p.DLQ == nil {
		p.Log.Error("message dropped (no dlq)", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(cause))
		return nil
	}
	dl := kafka.Message{
		Key:   m.Key,
		Value: m.Value,
		Headers: []kafka.Header{
			{Key: "x-original-topic", Value: []byte(m.Topic)},
			{Key: "x-original-offset", Value: []byte(fmt.Sprint(m.Offset))},
			{Key: "x-reason", Value: []byte(reason)},
			{Key: "x-error", Value: []byte(cause.Error())},
		},
		Time: time.Now(),
	}
	if err := p.DLQ.WriteMessages(ctx, dl); err != nil {
		p.failed("dlq")
		return fmt.Errorf("dlq write: %w", err)
	}
	return nil
}

func (p *Processor) failed(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
