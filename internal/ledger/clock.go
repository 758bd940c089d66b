package ledger

import (
	"context"
	"encoding/binary"
	"time"
)

const clockSysvarLen = 40

// Clock é o relógio do ledger no momento da execução
type Clock struct {
	Slot                uint64 `json:"slot"`
	EpochStartTimestamp int64  `json:"epoch_start_timestamp"`
	Epoch               uint64 `json:"epoch"`
	LeaderScheduleEpoch uint64 `json:"leader_schedule_epoch"`
	UnixTimestamp       int64  `json:"unix_timestamp"`
}

// ClockSource fornece o relógio a cada execução
type ClockSource interface {
	Now(ctx context.Context) (Clock, error)
}

// FixedClock devolve sempre o mesmo relógio (testes e replays)
type FixedClock Clock

func (c FixedClock) Now(context.Context) (Clock, error) { return Clock(c), nil }

// SystemClock deriva slot e epoch do tempo decorrido desde o gênesis
type SystemClock struct {
	Genesis       time.Time
	SlotDuration  time.Duration
	SlotsPerEpoch uint64

	now func() time.Time
}

// NewSystemClock usa slots de 400ms e epochs de 432000 slots
func NewSystemClock(genesis time.Time) *SystemClock {
	return &SystemClock{
		Genesis:       genesis,
		SlotDuration:  400 * time.Millisecond,
		SlotsPerEpoch: 432000,
		now:           time.Now,
	}
}

func (c *SystemClock) Now(context.Context) (Clock, error) {
	nowFn := c.now
	if nowFn == nil {
		nowFn = time.Now
	}
	now := nowFn()
	elapsed := now.Sub(c.Genesis)
	if elapsed < 0 {
		elapsed = 0
	}
	slot := uint64(elapsed / c.SlotDuration)
	epoch := slot / c.SlotsPerEpoch
	epochStart := c.Genesis.Add(time.Duration(epoch*c.SlotsPerEpoch) * c.SlotDuration)
	return Clock{
		Slot:                slot,
		EpochStartTimestamp: epochStart.Unix(),
		Epoch:               epoch,
		LeaderScheduleEpoch: epoch + 1,
		UnixTimestamp:       now.Unix(),
	}, nil
}

func (c Clock) marshal() []byte {
	b := make([]byte, clockSysvarLen)
	binary.LittleEndian.PutUint64(b[0:8], c.Slot)
	binary.LittleEndian.PutUint64(b[8:16], uint64(c.EpochStartTimestamp))
	binary.LittleEndian.PutUint64(b[16:24], c.Epoch)
	binary.LittleEndian.PutUint64(b[24:32], c.LeaderScheduleEpoch)
	binary.LittleEndian.PutUint64(b[32:40], uint64(c.UnixTimestamp))
	return b
}

// ClockFromAccount lê o sysvar de relógio entregue ao programa como conta
func ClockFromAccount(info *AccountInfo) (Clock, error) {
	if info.Key != SysvarClockID || len(info.Data) != clockSysvarLen {
		return Clock{}, ErrInvalidArgument
	}
	return Clock{
		Slot:                binary.LittleEndian.Uint64(info.Data[0:8]),
		EpochStartTimestamp: int64(binary.LittleEndian.Uint64(info.Data[8:16])),
		Epoch:               binary.LittleEndian.Uint64(info.Data[16:24]),
		LeaderScheduleEpoch: binary.LittleEndian.Uint64(info.Data[24:32]),
		UnixTimestamp:       int64(binary.LittleEndian.Uint64(info.Data[32:40])),
	}, nil
}
