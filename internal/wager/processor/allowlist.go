package processor

import "github.com/radieske/lucky-wager-poc/internal/ledger"

// AllowList é o conjunto de identidades autorizadas para um papel (Funds, Admin)
type AllowList struct {
	keys []ledger.Pubkey
	set  map[ledger.Pubkey]struct{}
}

func NewAllowList(keys ...ledger.Pubkey) AllowList {
	a := AllowList{set: make(map[ledger.Pubkey]struct{}, len(keys))}
	for _, k := range keys {
		if _, dup := a.set[k]; dup {
			continue
		}
		a.set[k] = struct{}{}
		a.keys = append(a.keys, k)
	}
	return a
}

func (a AllowList) Contains(k ledger.Pubkey) bool {
	_, ok := a.set[k]
	return ok
}

// Keys devolve as chaves na ordem em que foram configuradas
func (a AllowList) Keys() []ledger.Pubkey {
	return append([]ledger.Pubkey(nil), a.keys...)
}

func (a AllowList) Len() int { return len(a.keys) }
