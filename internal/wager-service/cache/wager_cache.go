package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// versionTTL só precisa cobrir uma leitura em andamento
const versionTTL = 24 * time.Hour

// Cache guarda visões decodificadas de registros de aposta no Redis.
// Cada registro tem um contador de versão incrementado a cada escrita
// confirmada; uma leitura só grava no cache se a versão não mudou desde
// antes de ela consultar o ledger.
type Cache struct {
	R   *redis.Client
	TTL time.Duration
}

func New(r *redis.Client, ttl time.Duration) *Cache { return &Cache{R: r, TTL: ttl} }

func keyRecord(pubkey string) string  { return "wager:record:" + pubkey }
func keyVersion(pubkey string) string { return "wager:record:ver:" + pubkey }

func (c *Cache) GetWager(ctx context.Context, pubkey string, dst any) (bool, error) {
	b, err := c.R.Get(ctx, keyRecord(pubkey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

// Version devolve a versão atual do registro (0 se nunca invalidado)
func (c *Cache) Version(ctx context.Context, pubkey string) (int64, error) {
	v, err := c.R.Get(ctx, keyVersion(pubkey)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// SetWager grava a visão lida na versão informada. Se uma escrita foi
// confirmada nesse meio tempo a gravação é descartada.
func (c *Cache) SetWager(ctx context.Context, pubkey string, version int64, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	vk := keyVersion(pubkey)
	err = c.R.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, vk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, keyRecord(pubkey), b, c.TTL)
			return nil
		})
		return err
	}, vk)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// Invalidate avança a versão e remove a visão depois de uma escrita no registro
func (c *Cache) Invalidate(ctx context.Context, pubkey string) error {
	_, err := c.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, keyVersion(pubkey))
		p.Expire(ctx, keyVersion(pubkey), versionTTL)
		p.Del(ctx, keyRecord(pubkey))
		return nil
	})
	return err
}
