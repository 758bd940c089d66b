package replay

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
)

// ErrGuardFull indica que o L1 está cheio de assinaturas ainda válidas e não
// há Redis para assumir o registro
var ErrGuardFull = errors.New("replay: guard full of unexpired signatures")

func key(sig string) string { return "wager:sig:" + sig }

// Guard rejeita assinaturas já processadas.
// L1 é um LRU em processo; L2 (opcional) é um SETNX no Redis compartilhado
// entre instâncias. Cada assinatura fica marcada até a validade da própria
// transação, e sem Redis nenhuma assinatura válida é descartada do LRU.
// Só transações confirmadas ficam marcadas: em caso de falha o chamador usa
// Forget e o cliente pode reenviar.
type Guard struct {
	mu    sync.Mutex
	local *lru.Cache
	size  int
	rdb   *redis.Client
	now   func() time.Time
}

// New cria o guard; rdb pode ser nil (somente L1)
func New(size int, rdb *redis.Client) (*Guard, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Guard{local: c, size: size, rdb: rdb, now: time.Now}, nil
}

// Seen marca a assinatura até until e informa se ela já estava marcada
func (g *Guard) Seen(ctx context.Context, sig string, until time.Time) (bool, error) {
	g.mu.Lock()
	now := g.now()
	if v, ok := g.local.Peek(sig); ok && now.Before(v.(time.Time)) {
		g.mu.Unlock()
		return true, nil
	}
	if g.rdb == nil && !g.local.Contains(sig) && g.local.Len() >= g.size {
		// O Add a seguir descartaria a mais antiga; só pode se ela já venceu
		if _, v, ok := g.local.GetOldest(); ok && now.Before(v.(time.Time)) {
			g.mu.Unlock()
			return false, ErrGuardFull
		}
	}
	g.local.Add(sig, until)
	g.mu.Unlock()

	if g.rdb == nil {
		return false, nil
	}
	ttl := until.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := g.rdb.SetNX(ctx, key(sig), 1, ttl).Result()
	if err != nil {
		g.local.Remove(sig)
		return false, err
	}
	return !ok, nil
}

// Forget libera a assinatura (transação falhou e nada foi gravado)
func (g *Guard) Forget(ctx context.Context, sig string) error {
	g.local.Remove(sig)
	if g.rdb == nil {
		return nil
	}
	return g.rdb.Del(ctx, key(sig)).Err()
}
