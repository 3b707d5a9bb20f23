package solana

import (
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// WireTransaction decodes the wire bytes of a binary or legacy binary
// transaction. Other variants return an error.
func WireTransaction(tx EncodedTransaction) (*solanago.Transaction, error) {
	var data []byte
	switch t := tx.(type) {
	case *BinaryTransaction:
		b, err := t.Bytes()
		if err != nil {
			return nil, err
		}
		data = b
	case *LegacyBinaryTransaction:
		b, err := base58.Decode(t.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: legacy base58: %v", ErrDecode, err)
		}
		data = b
	default:
		return nil, fmt.Errorf("%w: %s transaction has no wire form", ErrDecode, tx.Variant())
	}

	out, err := solanago.TransactionFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: wire transaction: %v", ErrDecode, err)
	}
	return out, nil
}

// ToJSONTransaction projects a decoded wire transaction onto the json
// encoding shape so it can be reported like any other raw message.
func ToJSONTransaction(tx *solanago.Transaction) *JSONTransaction {
	sigs := make([]string, len(tx.Signatures))
	for i, s := range tx.Signatures {
		sigs[i] = s.String()
	}

	keys := make([]string, len(tx.Message.AccountKeys))
	for i, k := range tx.Message.AccountKeys {
		keys[i] = k.String()
	}

	ixs := make([]CompiledInstruction, len(tx.Message.Instructions))
	for i, ix := range tx.Message.Instructions {
		ixs[i] = CompiledInstruction{
			ProgramIDIndex: ix.ProgramIDIndex,
			Accounts:       ix.Accounts,
			Data:           ix.Data.String(),
		}
	}

	return &JSONTransaction{
		Signatures: sigs,
		Message: &RawMessage{
			Header: MessageHeader{
				NumRequiredSignatures:       tx.Message.Header.NumRequiredSignatures,
				NumReadonlySignedAccounts:   tx.Message.Header.NumReadonlySignedAccounts,
				NumReadonlyUnsignedAccounts: tx.Message.Header.NumReadonlyUnsignedAccounts,
			},
			AccountKeys:     keys,
			RecentBlockhash: tx.Message.RecentBlockhash.String(),
			Instructions:    ixs,
		},
	}
}

// InvokesProgram reports whether any top-level instruction of tx targets program.
func InvokesProgram(tx *solanago.Transaction, program solanago.PublicKey) bool {
	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) < len(tx.Message.AccountKeys) &&
			tx.Message.AccountKeys[ix.ProgramIDIndex].Equals(program) {
			return true
		}
	}
	return false
}
