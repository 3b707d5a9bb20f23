package report

import (
	"encoding/json"
	"time"

	"github.com/brojonat/slotwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Event kinds for JSON output.
const (
	EventBlock        = "block"
	EventTransaction  = "transaction"
	EventVote         = "vote"
	EventSlot         = "slot"
	EventDiscovered   = "discovered_slot"
	EventSkippedBlock = "block_skipped"
)

// InstructionEvent is the JSON projection of one instruction.
type InstructionEvent struct {
	Kind           string          `json:"kind"`
	Program        string          `json:"program,omitempty"`
	ProgramID      string          `json:"program_id,omitempty"`
	ProgramIDIndex *uint16         `json:"program_id_index,omitempty"`
	Accounts       []string        `json:"accounts,omitempty"`
	AccountIndexes []uint16        `json:"account_indexes,omitempty"`
	Data           string          `json:"data,omitempty"`
	Parsed         json.RawMessage `json:"parsed,omitempty"`
}

// HeaderEvent carries message header counts.
type HeaderEvent struct {
	NumRequiredSignatures       uint8 `json:"num_required_signatures"`
	NumReadonlySignedAccounts   uint8 `json:"num_readonly_signed_accounts"`
	NumReadonlyUnsignedAccounts uint8 `json:"num_readonly_unsigned_accounts"`
}

// TransactionEvent is the JSON projection of one transaction.
type TransactionEvent struct {
	Event           string             `json:"event"`
	Slot            uint64             `json:"slot"`
	Index           int                `json:"index"`
	Variant         string             `json:"variant"`
	Version         string             `json:"version,omitempty"`
	Failed          bool               `json:"failed"`
	Fee             uint64             `json:"fee"`
	Skipped         bool               `json:"skipped"`
	Signatures      []string           `json:"signatures,omitempty"`
	Header          *HeaderEvent       `json:"header,omitempty"`
	AccountKeys     []string           `json:"account_keys,omitempty"`
	RecentBlockhash string             `json:"recent_blockhash,omitempty"`
	Instructions    []InstructionEvent `json:"instructions,omitempty"`
}

// BlockEvent is the JSON projection of a block. It is also the payload
// published to downstream sinks.
type BlockEvent struct {
	Event             string             `json:"event"`
	Slot              uint64             `json:"slot"`
	ParentSlot        uint64             `json:"parent_slot"`
	Blockhash         string             `json:"blockhash"`
	PreviousBlockhash string             `json:"previous_blockhash"`
	BlockTime         *time.Time         `json:"block_time,omitempty"`
	BlockHeight       *uint64            `json:"block_height,omitempty"`
	TransactionCount  int                `json:"transaction_count"`
	Transactions      []TransactionEvent `json:"transactions,omitempty"`
	// Truncated is set when Transactions was dropped to fit a sink's
	// message size limit. TransactionCount is still accurate.
	Truncated bool `json:"truncated,omitempty"`
}

// Summary returns ev without its transactions.
func (ev BlockEvent) Summary() BlockEvent {
	ev.Transactions = nil
	ev.Truncated = true
	return ev
}

// NoticeEvent is a slot-level notice with no further payload.
type NoticeEvent struct {
	Event string `json:"event"`
	Slot  uint64 `json:"slot"`
	Error string `json:"error,omitempty"`
}

// NewBlockEvent projects a block. With decodeBinary, binary transactions
// are decoded and reported like raw messages.
func NewBlockEvent(block *solana.Block, decodeBinary bool) BlockEvent {
	ev := BlockEvent{
		Event:             EventBlock,
		Slot:              block.Slot,
		ParentSlot:        block.ParentSlot,
		Blockhash:         block.Blockhash,
		PreviousBlockhash: block.PreviousBlockhash,
		BlockTime:         block.BlockTime,
		BlockHeight:       block.BlockHeight,
		TransactionCount:  len(block.Transactions),
		Transactions:      make([]TransactionEvent, 0, len(block.Transactions)),
	}
	for i, tx := range block.Transactions {
		ev.Transactions = append(ev.Transactions, NewTransactionEvent(block.Slot, i, tx, decodeBinary))
	}
	return ev
}

// NewTransactionEvent projects one transaction.
func NewTransactionEvent(slot uint64, index int, tx solana.TransactionWithMeta, decodeBinary bool) TransactionEvent {
	ev := TransactionEvent{
		Event:   EventTransaction,
		Slot:    slot,
		Index:   index,
		Variant: tx.Transaction.Variant(),
		Version: tx.Version,
		Failed:  tx.Meta.Failed(),
	}
	if tx.Meta != nil {
		ev.Fee = tx.Meta.Fee
	}

	encoded := resolve(tx.Transaction, decodeBinary)
	switch t := encoded.(type) {
	case *solana.JSONTransaction:
		ev.Signatures = t.Signatures
		fillMessage(&ev, t.Message)
	case *solana.AccountsTransaction:
		ev.Signatures = t.Signatures
		for _, k := range t.AccountKeys {
			ev.AccountKeys = append(ev.AccountKeys, k.Pubkey)
		}
		ev.Skipped = true
	default:
		ev.Skipped = true
	}
	return ev
}

// NewVoteEvent projects a vote transaction learned from the discovery source.
func NewVoteEvent(slot uint64, tx *solanago.Transaction) TransactionEvent {
	jt := solana.ToJSONTransaction(tx)
	ev := TransactionEvent{
		Event:      EventVote,
		Slot:       slot,
		Variant:    "vote",
		Signatures: jt.Signatures,
	}
	fillMessage(&ev, jt.Message)
	return ev
}

func fillMessage(ev *TransactionEvent, msg solana.UIMessage) {
	switch m := msg.(type) {
	case *solana.ParsedMessage:
		ev.RecentBlockhash = m.RecentBlockhash
		for _, k := range m.AccountKeys {
			ev.AccountKeys = append(ev.AccountKeys, k.Pubkey)
		}
		for _, ix := range m.Instructions {
			ev.Instructions = append(ev.Instructions, instructionEvent(ix))
		}
	case *solana.RawMessage:
		ev.RecentBlockhash = m.RecentBlockhash
		ev.AccountKeys = m.AccountKeys
		ev.Header = &HeaderEvent{
			NumRequiredSignatures:       m.Header.NumRequiredSignatures,
			NumReadonlySignedAccounts:   m.Header.NumReadonlySignedAccounts,
			NumReadonlyUnsignedAccounts: m.Header.NumReadonlyUnsignedAccounts,
		}
		for i := range m.Instructions {
			ev.Instructions = append(ev.Instructions, instructionEvent(&m.Instructions[i]))
		}
	}
}

func instructionEvent(ix solana.UIInstruction) InstructionEvent {
	switch in := ix.(type) {
	case *solana.ParsedInstruction:
		return InstructionEvent{Kind: "parsed", Program: in.Program, ProgramID: in.ProgramID, Parsed: in.Parsed}
	case *solana.PartiallyDecodedInstruction:
		return InstructionEvent{Kind: "partially_decoded", ProgramID: in.ProgramID, Accounts: in.Accounts, Data: in.Data}
	case *solana.CompiledInstruction:
		idx := in.ProgramIDIndex
		return InstructionEvent{Kind: "compiled", ProgramIDIndex: &idx, AccountIndexes: in.Accounts, Data: in.Data}
	}
	return InstructionEvent{Kind: "unknown"}
}

// resolve swaps binary payloads for their decoded form when enabled. A
// payload that fails to decode is returned unchanged and stays skipped.
func resolve(tx solana.EncodedTransaction, decodeBinary bool) solana.EncodedTransaction {
	if !decodeBinary {
		return tx
	}
	switch tx.(type) {
	case *solana.BinaryTransaction, *solana.LegacyBinaryTransaction:
		wire, err := solana.WireTransaction(tx)
		if err != nil {
			return tx
		}
		return solana.ToJSONTransaction(wire)
	}
	return tx
}
