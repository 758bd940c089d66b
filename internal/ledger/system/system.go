package system

import (
	"context"
	"encoding/binary"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
)

// MaxPermittedDataLength limita o tamanho de dados alocados por CreateAccount
const MaxPermittedDataLength = 10 * 1024 * 1024

const (
	tagCreateAccount uint32 = 0
	tagTransfer      uint32 = 2
)

// Erros próprios do system program
var (
	ErrAccountAlreadyInUse        = ledger.Custom(0, "account already in use")
	ErrResultWithNegativeLamports = ledger.Custom(1, "result with negative lamports")
	ErrInvalidAccountDataLength   = ledger.Custom(3, "invalid account data length")
)

// Program cria contas e move lamports entre contas do system program.
// É por ele que Deposit, Record e Funds nascem antes de qualquer Play.
type Program struct{}

func (Program) Process(_ context.Context, inv *ledger.Invocation) error {
	if len(inv.Data) < 4 {
		return ledger.ErrInvalidInstructionData
	}
	tag := binary.LittleEndian.Uint32(inv.Data[:4])
	rest := inv.Data[4:]
	switch tag {
	case tagCreateAccount:
		if len(rest) < 8+8+ledger.PubkeyLen {
			return ledger.ErrInvalidInstructionData
		}
		lamports := binary.LittleEndian.Uint64(rest[0:8])
		space := binary.LittleEndian.Uint64(rest[8:16])
		owner, _ := ledger.PubkeyFromBytes(rest[16 : 16+ledger.PubkeyLen])
		return createAccount(inv, lamports, space, owner)
	case tagTransfer:
		if len(rest) < 8 {
			return ledger.ErrInvalidInstructionData
		}
		return transfer(inv, binary.LittleEndian.Uint64(rest[0:8]))
	default:
		return ledger.ErrInvalidInstructionData
	}
}

func createAccount(inv *ledger.Invocation, lamports, space uint64, owner ledger.Pubkey) error {
	from, err := inv.Account(0)
	if err != nil {
		return err
	}
	to, err := inv.Account(1)
	if err != nil {
		return err
	}
	if !from.IsSigner || !to.IsSigner {
		return ledger.ErrMissingRequiredSignature
	}
	if to.Lamports != 0 || len(to.Data) != 0 || to.Owner != ledger.SystemProgramID {
		return ErrAccountAlreadyInUse
	}
	if space > MaxPermittedDataLength {
		return ErrInvalidAccountDataLength
	}
	if err := move(from, to, lamports); err != nil {
		return err
	}
	to.Data = make([]byte, space)
	to.Owner = owner
	inv.Logf("create account %s owner=%s space=%d lamports=%d", to.Key, owner, space, lamports)
	return nil
}

func transfer(inv *ledger.Invocation, lamports uint64) error {
	from, err := inv.Account(0)
	if err != nil {
		return err
	}
	to, err := inv.Account(1)
	if err != nil {
		return err
	}
	if !from.IsSigner {
		return ledger.ErrMissingRequiredSignature
	}
	if len(from.Data) != 0 {
		return ledger.ErrInvalidArgument
	}
	if err := move(from, to, lamports); err != nil {
		return err
	}
	inv.Logf("transfer %d lamports %s -> %s", lamports, from.Key, to.Key)
	return nil
}

func move(from, to *ledger.AccountInfo, lamports uint64) error {
	if from.Owner != ledger.SystemProgramID {
		return ledger.ErrInvalidArgument
	}
	if from.Lamports < lamports {
		return ErrResultWithNegativeLamports
	}
	if from.Key == to.Key {
		return nil
	}
	sum := to.Lamports + lamports
	if sum < to.Lamports {
		return ledger.ErrInvalidArgument
	}
	from.Lamports -= lamports
	to.Lamports = sum
	return nil
}

// CreateAccountTx monta a transação que cria e financia uma conta nova
func CreateAccountTx(funder, account ledger.Pubkey, lamports, space uint64, owner ledger.Pubkey) ledger.Transaction {
	data := binary.LittleEndian.AppendUint32(nil, tagCreateAccount)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	data = binary.LittleEndian.AppendUint64(data, space)
	data = append(data, owner[:]...)
	return ledger.Transaction{
		ProgramID: ledger.SystemProgramID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: funder, IsSigner: true, IsWritable: true},
			{Pubkey: account, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

// TransferTx monta a transação que move lamports de uma conta do system program
func TransferTx(from, to ledger.Pubkey, lamports uint64) ledger.Transaction {
	data := binary.LittleEndian.AppendUint32(nil, tagTransfer)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	return ledger.Transaction{
		ProgramID: ledger.SystemProgramID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsWritable: true},
		},
		Data: data,
	}
}
