package solana

import (
	"encoding/json"
	"time"

	solanago "github.com/gagliardetto/solana-go"
)

// Block is a decoded getBlock result. It is produced once per fetch and
// never mutated afterwards.
type Block struct {
	Slot              uint64
	Blockhash         string
	PreviousBlockhash string
	ParentSlot        uint64
	BlockTime         *time.Time
	BlockHeight       *uint64
	Transactions      []TransactionWithMeta
	// Signatures is only populated when the block was fetched with
	// transactionDetails=signatures.
	Signatures []string
}

// TransactionWithMeta pairs a transaction, in whatever encoding the node
// returned, with its status metadata.
type TransactionWithMeta struct {
	Transaction EncodedTransaction
	Meta        *TransactionMeta
	// Version is "legacy", a numeric version, or empty when the node omits it.
	Version string
}

// TransactionMeta is the subset of transaction status we report.
type TransactionMeta struct {
	Err json.RawMessage `json:"err"`
	Fee uint64          `json:"fee"`
}

// Failed reports whether the transaction errored on chain.
func (m *TransactionMeta) Failed() bool {
	return m != nil && len(m.Err) > 0 && string(m.Err) != "null"
}

// Encoding names accepted by getBlock.
const (
	EncodingJSON       = "json"
	EncodingJSONParsed = "jsonParsed"
	EncodingBase58     = "base58"
	EncodingBase64     = "base64"
	EncodingBase64Zstd = "base64+zstd"
)

// EncodedTransaction is one of *JSONTransaction, *BinaryTransaction,
// *LegacyBinaryTransaction, *AccountsTransaction or *UnsupportedTransaction.
type EncodedTransaction interface {
	isEncodedTransaction()
	// Variant is a short stable name used in logs and metrics.
	Variant() string
}

// JSONTransaction is returned for the json and jsonParsed encodings.
type JSONTransaction struct {
	Signatures []string
	Message    UIMessage
}

// BinaryTransaction is the ["<data>", "<encoding>"] form. Data is kept
// encoded until Bytes is called.
type BinaryTransaction struct {
	Data     string
	Encoding string
}

// Bytes decodes Data according to Encoding.
func (t *BinaryTransaction) Bytes() ([]byte, error) {
	return decodeBytes(t.Data, t.Encoding)
}

// LegacyBinaryTransaction is a bare base58 string, used by old nodes.
type LegacyBinaryTransaction struct {
	Data string
}

// AccountsTransaction is returned for transactionDetails=accounts. It
// carries no message.
type AccountsTransaction struct {
	Signatures  []string
	AccountKeys []ParsedAccount
}

// UnsupportedTransaction is a payload whose encoding was not recognized.
// Err says why; the transaction is reported as skipped.
type UnsupportedTransaction struct {
	Raw json.RawMessage
	Err error
}

func (*JSONTransaction) isEncodedTransaction()         {}
func (*BinaryTransaction) isEncodedTransaction()       {}
func (*LegacyBinaryTransaction) isEncodedTransaction() {}
func (*AccountsTransaction) isEncodedTransaction()     {}
func (*UnsupportedTransaction) isEncodedTransaction()  {}

func (t *JSONTransaction) Variant() string {
	if _, ok := t.Message.(*RawMessage); ok {
		return "raw"
	}
	return "parsed"
}
func (*BinaryTransaction) Variant() string       { return "binary" }
func (*LegacyBinaryTransaction) Variant() string { return "legacy_binary" }
func (*AccountsTransaction) Variant() string     { return "accounts" }
func (*UnsupportedTransaction) Variant() string  { return "unsupported" }

// UIMessage is either *ParsedMessage or *RawMessage.
type UIMessage interface {
	isUIMessage()
	Blockhash() string
}

// ParsedMessage is the jsonParsed message form.
type ParsedMessage struct {
	AccountKeys     []ParsedAccount
	RecentBlockhash string
	Instructions    []UIInstruction
}

// RawMessage is the json message form and the shape binary transactions
// are converted into when decoding is enabled.
type RawMessage struct {
	Header          MessageHeader
	AccountKeys     []string
	RecentBlockhash string
	Instructions    []CompiledInstruction
}

func (*ParsedMessage) isUIMessage() {}
func (*RawMessage) isUIMessage()    {}

func (m *ParsedMessage) Blockhash() string { return m.RecentBlockhash }
func (m *RawMessage) Blockhash() string    { return m.RecentBlockhash }

// MessageHeader holds the signer and read-only account counts.
type MessageHeader struct {
	NumRequiredSignatures       uint8 `json:"numRequiredSignatures"`
	NumReadonlySignedAccounts   uint8 `json:"numReadonlySignedAccounts"`
	NumReadonlyUnsignedAccounts uint8 `json:"numReadonlyUnsignedAccounts"`
}

// ParsedAccount is an account key as reported by jsonParsed and accounts.
type ParsedAccount struct {
	Pubkey   string `json:"pubkey"`
	Writable bool   `json:"writable"`
	Signer   bool   `json:"signer"`
	Source   string `json:"source,omitempty"`
}

// UIInstruction is one of *ParsedInstruction, *PartiallyDecodedInstruction
// or *CompiledInstruction.
type UIInstruction interface {
	isUIInstruction()
}

// ParsedInstruction is an instruction the node knows how to decode.
// Parsed is whatever JSON the node produced (object or string).
type ParsedInstruction struct {
	Program     string          `json:"program"`
	ProgramID   string          `json:"programId"`
	Parsed      json.RawMessage `json:"parsed"`
	StackHeight *uint32         `json:"stackHeight"`
}

// PartiallyDecodedInstruction is an instruction for a program the node
// cannot decode; Data is base58.
type PartiallyDecodedInstruction struct {
	ProgramID   string   `json:"programId"`
	Accounts    []string `json:"accounts"`
	Data        string   `json:"data"`
	StackHeight *uint32  `json:"stackHeight"`
}

// CompiledInstruction references accounts by index into the message keys.
// Data is base58.
type CompiledInstruction struct {
	ProgramIDIndex uint16   `json:"programIdIndex"`
	Accounts       []uint16 `json:"accounts"`
	Data           string   `json:"data"`
	StackHeight    *uint32  `json:"stackHeight"`
}

func (*ParsedInstruction) isUIInstruction()           {}
func (*PartiallyDecodedInstruction) isUIInstruction() {}
func (*CompiledInstruction) isUIInstruction()         {}

// VoteProgramID is the native vote program.
var VoteProgramID = solanago.VoteProgramID
