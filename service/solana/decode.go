package solana

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
)

// rawBlock mirrors the getBlock result with transactions left undecoded so
// every encoding can be classified by shape.
type rawBlock struct {
	Blockhash         string       `json:"blockhash"`
	PreviousBlockhash string       `json:"previousBlockhash"`
	ParentSlot        uint64       `json:"parentSlot"`
	BlockTime         *int64       `json:"blockTime"`
	BlockHeight       *uint64      `json:"blockHeight"`
	Transactions      []rawTxEntry `json:"transactions"`
	Signatures        []string     `json:"signatures"`
}

type rawTxEntry struct {
	Transaction json.RawMessage  `json:"transaction"`
	Meta        *TransactionMeta `json:"meta"`
	Version     json.RawMessage  `json:"version"`
}

// decodeBlock converts a raw getBlock result into a Block. A transaction
// that cannot be classified is kept as an UnsupportedTransaction so the
// rest of the block still decodes.
func decodeBlock(slot uint64, rb *rawBlock) *Block {
	b := &Block{
		Slot:              slot,
		Blockhash:         rb.Blockhash,
		PreviousBlockhash: rb.PreviousBlockhash,
		ParentSlot:        rb.ParentSlot,
		BlockHeight:       rb.BlockHeight,
		Signatures:        rb.Signatures,
		Transactions:      make([]TransactionWithMeta, 0, len(rb.Transactions)),
	}
	if rb.BlockTime != nil {
		t := time.Unix(*rb.BlockTime, 0).UTC()
		b.BlockTime = &t
	}

	for _, entry := range rb.Transactions {
		b.Transactions = append(b.Transactions, TransactionWithMeta{
			Transaction: DecodeTransaction(entry.Transaction),
			Meta:        entry.Meta,
			Version:     decodeVersion(entry.Version),
		})
	}

	return b
}

func decodeVersion(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatUint(n, 10)
	}
	return string(raw)
}

// DecodeTransaction classifies a transaction payload by its JSON shape:
// an array is binary, a string is legacy binary, and an object is either a
// JSON transaction (has a message) or an accounts-only listing. Anything
// else comes back as an *UnsupportedTransaction carrying the reason.
func DecodeTransaction(raw json.RawMessage) EncodedTransaction {
	tx, err := decodeTransaction(raw)
	if err != nil {
		return &UnsupportedTransaction{Raw: raw, Err: err}
	}
	return tx
}

func decodeTransaction(raw json.RawMessage) (EncodedTransaction, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty transaction", ErrDecode)
	}

	switch raw[0] {
	case '[':
		return decodeBinary(raw)
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: legacy binary: %v", ErrDecode, err)
		}
		return &LegacyBinaryTransaction{Data: s}, nil
	case '{':
		var probe struct {
			Signatures  []string        `json:"signatures"`
			Message     json.RawMessage `json:"message"`
			AccountKeys []ParsedAccount `json:"accountKeys"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("%w: transaction object: %v", ErrDecode, err)
		}
		if len(probe.Message) > 0 {
			msg, err := decodeMessage(probe.Message)
			if err != nil {
				return nil, err
			}
			return &JSONTransaction{Signatures: probe.Signatures, Message: msg}, nil
		}
		if probe.AccountKeys != nil {
			return &AccountsTransaction{Signatures: probe.Signatures, AccountKeys: probe.AccountKeys}, nil
		}
		return nil, fmt.Errorf("%w: transaction object has neither message nor accountKeys", ErrDecode)
	}

	return nil, fmt.Errorf("%w: unexpected transaction payload %q", ErrDecode, raw[0])
}

// decodeBinary checks the [data, encoding] shape only. The payload itself
// is decoded on demand by BinaryTransaction.Bytes.
func decodeBinary(raw json.RawMessage) (*BinaryTransaction, error) {
	var pair []string
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return nil, fmt.Errorf("%w: binary transaction must be [data, encoding]", ErrDecode)
	}
	return &BinaryTransaction{Data: pair[0], Encoding: pair[1]}, nil
}

func decodeBytes(data, encoding string) ([]byte, error) {
	switch encoding {
	case EncodingBase58:
		out, err := base58.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: base58: %v", ErrDecode, err)
		}
		return out, nil
	case EncodingBase64:
		out, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
		}
		return out, nil
	case EncodingBase64Zstd:
		compressed, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrDecode, err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrDecode, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown binary encoding %q", ErrDecode, encoding)
}

// decodeMessage picks RawMessage when a header is present and ParsedMessage
// otherwise.
func decodeMessage(raw json.RawMessage) (UIMessage, error) {
	var probe struct {
		Header          *MessageHeader    `json:"header"`
		AccountKeys     json.RawMessage   `json:"accountKeys"`
		RecentBlockhash string            `json:"recentBlockhash"`
		Instructions    []json.RawMessage `json:"instructions"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: message: %v", ErrDecode, err)
	}

	if probe.Header != nil {
		msg := &RawMessage{Header: *probe.Header, RecentBlockhash: probe.RecentBlockhash}
		if len(probe.AccountKeys) > 0 {
			if err := json.Unmarshal(probe.AccountKeys, &msg.AccountKeys); err != nil {
				return nil, fmt.Errorf("%w: raw account keys: %v", ErrDecode, err)
			}
		}
		msg.Instructions = make([]CompiledInstruction, 0, len(probe.Instructions))
		for i, ix := range probe.Instructions {
			var ci CompiledInstruction
			if err := json.Unmarshal(ix, &ci); err != nil {
				return nil, fmt.Errorf("%w: instruction %d: %v", ErrDecode, i, err)
			}
			msg.Instructions = append(msg.Instructions, ci)
		}
		return msg, nil
	}

	msg := &ParsedMessage{RecentBlockhash: probe.RecentBlockhash}
	if len(probe.AccountKeys) > 0 {
		if err := json.Unmarshal(probe.AccountKeys, &msg.AccountKeys); err != nil {
			return nil, fmt.Errorf("%w: parsed account keys: %v", ErrDecode, err)
		}
	}
	msg.Instructions = make([]UIInstruction, 0, len(probe.Instructions))
	for i, ix := range probe.Instructions {
		inst, err := decodeInstruction(ix)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		msg.Instructions = append(msg.Instructions, inst)
	}
	return msg, nil
}

func decodeInstruction(raw json.RawMessage) (UIInstruction, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var out UIInstruction
	switch {
	case probe["parsed"] != nil:
		out = &ParsedInstruction{}
	case probe["programIdIndex"] != nil:
		out = &CompiledInstruction{}
	default:
		out = &PartiallyDecodedInstruction{}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return out, nil
}
