package ledger

import (
	"errors"
	"fmt"
)

// ProgramError é a falha tipada devolvida por um programa ao runtime.
// Erros customizados usam o próprio código (0..2^32-1); erros nativos do
// runtime usam o índice deslocado 32 bits, então os dois espaços não colidem.
type ProgramError struct {
	code uint64
	name string
}

const builtinShift = 32

func builtin(index uint64, name string) *ProgramError {
	return &ProgramError{code: index << builtinShift, name: name}
}

// Custom cria um erro de programa com código próprio
func Custom(code uint32, name string) *ProgramError {
	c := uint64(code)
	if c == 0 {
		c = 1 << builtinShift // Custom(0) tem representação própria
	}
	return &ProgramError{code: c, name: name}
}

func (e *ProgramError) Error() string { return e.name }

// Code é o inteiro estável exposto aos clientes
func (e *ProgramError) Code() uint64 { return e.code }

// Erros nativos do runtime
var (
	ErrInvalidArgument           = builtin(2, "invalid argument")
	ErrInvalidInstructionData    = builtin(3, "invalid instruction data")
	ErrInvalidAccountData        = builtin(4, "invalid account data")
	ErrAccountDataTooSmall       = builtin(5, "account data too small")
	ErrInsufficientFunds         = builtin(6, "insufficient funds")
	ErrIncorrectProgramID        = builtin(7, "incorrect program id")
	ErrMissingRequiredSignature  = builtin(8, "missing required signature")
	ErrAccountAlreadyInitialized = builtin(9, "account already initialized")
	ErrUninitializedAccount      = builtin(10, "uninitialized account")
	ErrNotEnoughAccountKeys      = builtin(11, "not enough account keys")
)

// Violações detectadas pelo runtime depois que o programa retorna com sucesso.
// Nenhuma delas chega a ser persistida.
var (
	ErrUnknownProgram             = errors.New("ledger: unknown program")
	ErrUnbalancedTransaction      = errors.New("ledger: sum of account balances changed")
	ErrReadonlyModified           = errors.New("ledger: read-only account modified")
	ErrExternalLamportSpend       = errors.New("ledger: lamports debited from account not owned by program")
	ErrExternalDataModified       = errors.New("ledger: data modified on account not owned by program")
	ErrAccountDataSizeChanged     = errors.New("ledger: account data size changed by non-owner")
	ErrModifiedProgramID          = errors.New("ledger: account owner changed by non-owner")
	ErrSignatureVerification      = errors.New("ledger: signature verification failed")
	ErrDuplicateSignature         = errors.New("ledger: transaction already processed")
	ErrTransactionExpired         = errors.New("ledger: transaction expired")
	ErrLifetimeTooLong            = errors.New("ledger: transaction valid_until too far in the future")
	ErrLamportOverflow            = errors.New("ledger: lamport total overflow")
	ErrTooManyAccounts            = errors.New("ledger: too many accounts")
	ErrSysvarWritable             = errors.New("ledger: sysvar account requested as writable")
	ErrInstructionDataTooLarge    = errors.New("ledger: instruction data too large")
	ErrTransactionAlreadyFinished = errors.New("ledger: store transaction already finished")
)

// AsProgramError extrai o ProgramError de uma cadeia de erros
func AsProgramError(err error) (*ProgramError, bool) {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// runtimeViolation envolve uma violação com a conta que a provocou
func runtimeViolation(err error, key Pubkey) error {
	return fmt.Errorf("%w: %s", err, key)
}
