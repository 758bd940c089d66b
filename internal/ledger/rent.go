package ledger

import (
	"encoding/binary"
	"math"
)

// AccountStorageOverhead são os bytes de metadados cobrados além dos dados
const AccountStorageOverhead = 128

const rentSysvarLen = 17

// Rent é o oráculo de saldo mínimo (isenção de aluguel)
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
	BurnPercent         uint8
}

// DefaultRent segue os parâmetros de referência do cluster
func DefaultRent() Rent {
	return Rent{LamportsPerByteYear: 3480, ExemptionThreshold: 2.0, BurnPercent: 50}
}

// MinimumBalance é o saldo necessário para uma conta com dataLen bytes ficar isenta
func (r Rent) MinimumBalance(dataLen int) uint64 {
	bytes := uint64(AccountStorageOverhead + dataLen)
	return uint64(float64(bytes*r.LamportsPerByteYear) * r.ExemptionThreshold)
}

// IsExempt informa se balance cobre o mínimo para dataLen bytes
func (r Rent) IsExempt(balance uint64, dataLen int) bool {
	return balance >= r.MinimumBalance(dataLen)
}

func (r Rent) marshal() []byte {
	b := make([]byte, rentSysvarLen)
	binary.LittleEndian.PutUint64(b[0:8], r.LamportsPerByteYear)
	binary.LittleEndian.PutUint64(b[8:16], math.Float64bits(r.ExemptionThreshold))
	b[16] = r.BurnPercent
	return b
}

// RentFromAccount lê o sysvar de aluguel entregue ao programa como conta
func RentFromAccount(info *AccountInfo) (Rent, error) {
	if info.Key != SysvarRentID || len(info.Data) != rentSysvarLen {
		return Rent{}, ErrInvalidArgument
	}
	return Rent{
		LamportsPerByteYear: binary.LittleEndian.Uint64(info.Data[0:8]),
		ExemptionThreshold:  math.Float64frombits(binary.LittleEndian.Uint64(info.Data[8:16])),
		BurnPercent:         info.Data[16],
	}, nil
}
