package programerr

import "github.com/radieske/lucky-wager-poc/internal/ledger"

// Erros próprios do programa de apostas. Os códigos são estáveis e
// expostos aos clientes; erros nativos do runtime vêm de ledger.
var (
	ErrInvalidInstruction     = ledger.Custom(0, "invalid instruction")
	ErrNotRentExempt          = ledger.Custom(1, "lamport balance below rent-exempt threshold")
	ErrExpectedAmountMismatch = ledger.Custom(2, "expected amount mismatch")
	ErrAmountOverflow         = ledger.Custom(3, "amount overflow")
)
