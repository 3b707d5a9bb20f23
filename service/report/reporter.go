// Package report renders decoded blocks, votes, and slot notifications for
// human inspection, either as indented text or as one JSON object per line.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/brojonat/slotwatch/service/metrics"
	"github.com/brojonat/slotwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Format selects the output rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures a Reporter.
type Options struct {
	Format Format
	// Filters only apply to JSON output.
	Filters []*Filter
	// DecodeBinary decodes binary transactions instead of skipping them.
	DecodeBinary bool
	// Errors receives per-slot fetch failures. Nil discards them.
	Errors  io.Writer
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Reporter is a stateless projection onto an io.Writer. Each call writes
// its output with a single Write so concurrent callers do not interleave.
type Reporter struct {
	out  io.Writer
	opts Options
	mu   sync.Mutex
}

// New creates a Reporter writing to out.
func New(out io.Writer, opts Options) *Reporter {
	if opts.Format == "" {
		opts.Format = FormatText
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reporter{out: out, opts: opts}
}

// HandleBlock reports every transaction of block in block order.
func (r *Reporter) HandleBlock(ctx context.Context, block *solana.Block) error {
	if r.opts.Metrics != nil {
		for _, tx := range block.Transactions {
			r.opts.Metrics.RecordTransaction(tx.Transaction.Variant())
		}
	}

	if r.opts.Format == FormatJSON {
		var buf bytes.Buffer
		for i, tx := range block.Transactions {
			ev := NewTransactionEvent(block.Slot, i, tx, r.opts.DecodeBinary)
			if err := r.appendJSON(&buf, ev); err != nil {
				return err
			}
		}
		return r.write(buf.Bytes())
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "New block received: Slot %d\n", block.Slot)
	for _, tx := range block.Transactions {
		r.writeTransaction(ctx, &buf, block.Slot, tx.Transaction)
	}
	return r.write(buf.Bytes())
}

// ReportDiscoveredSlot announces a slot learned from the discovery source.
func (r *Reporter) ReportDiscoveredSlot(slot uint64) error {
	if r.opts.Format == FormatJSON {
		return r.writeJSON(NoticeEvent{Event: EventDiscovered, Slot: slot})
	}
	return r.write([]byte(fmt.Sprintf("CRDS Entry Slot: %d\n", slot)))
}

// ReportSlotNotification prints one push subscription notification.
func (r *Reporter) ReportSlotNotification(slot uint64) error {
	if r.opts.Format == FormatJSON {
		return r.writeJSON(NoticeEvent{Event: EventSlot, Slot: slot})
	}
	return r.write([]byte(strconv.FormatUint(slot, 10) + "\n"))
}

// ReportFetchError records a slot whose block could not be fetched.
func (r *Reporter) ReportFetchError(slot uint64, err error) error {
	if r.opts.Errors == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.Format == FormatJSON {
		data, mErr := json.Marshal(NoticeEvent{Event: EventSkippedBlock, Slot: slot, Error: err.Error()})
		if mErr != nil {
			return mErr
		}
		_, wErr := r.opts.Errors.Write(append(data, '\n'))
		return wErr
	}
	_, wErr := fmt.Fprintf(r.opts.Errors, "Failed to get block for slot %d: %v\n", slot, err)
	return wErr
}

// ReportVote prints a vote transaction: signatures, header counts, account
// keys, blockhash, and each instruction's raw program index, accounts and data.
func (r *Reporter) ReportVote(slot uint64, tx *solanago.Transaction) error {
	if r.opts.Format == FormatJSON {
		return r.writeJSON(NewVoteEvent(slot, tx))
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Vote transaction detected: Slot %d\n", slot)
	for _, sig := range tx.Signatures {
		fmt.Fprintf(&buf, "    Signature: %s\n", sig)
	}
	h := tx.Message.Header
	fmt.Fprintf(&buf, "    Required Signatures: %d\n", h.NumRequiredSignatures)
	fmt.Fprintf(&buf, "    Readonly Signed Accounts: %d\n", h.NumReadonlySignedAccounts)
	fmt.Fprintf(&buf, "    Readonly Unsigned Accounts: %d\n", h.NumReadonlyUnsignedAccounts)
	keys := make([]string, len(tx.Message.AccountKeys))
	for i, k := range tx.Message.AccountKeys {
		keys[i] = k.String()
	}
	fmt.Fprintf(&buf, "    Account Keys: %s\n", formatStrings(keys))
	fmt.Fprintf(&buf, "    Recent Blockhash: %s\n", tx.Message.RecentBlockhash)
	buf.WriteString("    Instructions:\n")
	for _, ix := range tx.Message.Instructions {
		fmt.Fprintf(&buf, "      Program ID Index: %d\n", ix.ProgramIDIndex)
		fmt.Fprintf(&buf, "      Accounts: %s\n", formatIndexes(ix.Accounts))
		fmt.Fprintf(&buf, "      Data: %s\n", formatBytes(ix.Data))
	}
	buf.WriteString("\n")
	return r.write(buf.Bytes())
}

func (r *Reporter) writeTransaction(ctx context.Context, buf *bytes.Buffer, slot uint64, tx solana.EncodedTransaction) {
	switch t := tx.(type) {
	case *solana.JSONTransaction:
		writeJSONTransaction(buf, t)
	case *solana.BinaryTransaction, *solana.LegacyBinaryTransaction:
		if r.opts.DecodeBinary {
			wire, err := solana.WireTransaction(t)
			if err == nil {
				writeJSONTransaction(buf, solana.ToJSONTransaction(wire))
				return
			}
			r.opts.Logger.WarnContext(ctx, "failed to decode binary transaction",
				"slot", slot,
				"error", err,
			)
		}
		if _, legacy := t.(*solana.LegacyBinaryTransaction); legacy {
			buf.WriteString("  Legacy binary transaction detected (skipping)\n")
		} else {
			buf.WriteString("  Binary transaction detected (skipping)\n")
		}
	case *solana.AccountsTransaction:
		buf.WriteString("  Accounts detected (skipping)\n")
	case *solana.UnsupportedTransaction:
		r.opts.Logger.DebugContext(ctx, "unsupported transaction encoding",
			"slot", slot,
			"error", t.Err,
		)
		buf.WriteString("  Unsupported transaction encoding (skipping)\n")
	default:
		buf.WriteString("  Unsupported transaction encoding (skipping)\n")
	}
}

func writeJSONTransaction(buf *bytes.Buffer, t *solana.JSONTransaction) {
	buf.WriteString("  Transaction detected:\n")
	for _, sig := range t.Signatures {
		fmt.Fprintf(buf, "    Signature: %s\n", sig)
	}

	switch m := t.Message.(type) {
	case *solana.ParsedMessage:
		fmt.Fprintf(buf, "    Recent Blockhash: %s\n", m.RecentBlockhash)
		buf.WriteString("    Instructions:\n")
		for _, ix := range m.Instructions {
			writeInstruction(buf, ix)
		}
	case *solana.RawMessage:
		buf.WriteString("  Raw message detected:\n")
		fmt.Fprintf(buf, "    Recent Blockhash: %s\n", m.RecentBlockhash)
		buf.WriteString("    Instructions:\n")
		for i := range m.Instructions {
			writeInstruction(buf, &m.Instructions[i])
		}
	}
	buf.WriteString("\n")
}

func writeInstruction(buf *bytes.Buffer, ix solana.UIInstruction) {
	switch in := ix.(type) {
	case *solana.ParsedInstruction:
		fmt.Fprintf(buf, "      Program ID: %s\n", in.ProgramID)
		fmt.Fprintf(buf, "      Program: %q\n", in.Program)
		fmt.Fprintf(buf, "      Parsed: %s\n", compactJSON(in.Parsed))
	case *solana.PartiallyDecodedInstruction:
		fmt.Fprintf(buf, "      Program ID: %s\n", in.ProgramID)
		fmt.Fprintf(buf, "      Data: %q\n", in.Data)
		fmt.Fprintf(buf, "      Accounts: %s\n", formatStrings(in.Accounts))
	case *solana.CompiledInstruction:
		fmt.Fprintf(buf, "      Program ID Index: %d\n", in.ProgramIDIndex)
		fmt.Fprintf(buf, "      Data: %q\n", in.Data)
		fmt.Fprintf(buf, "      Accounts: %s\n", formatIndexes(in.Accounts))
	}
}

func (r *Reporter) appendJSON(buf *bytes.Buffer, event interface{}) error {
	ok, err := matchAll(r.opts.Filters, event)
	if err != nil {
		return fmt.Errorf("filter event: %w", err)
	}
	if !ok {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}

func (r *Reporter) writeJSON(event interface{}) error {
	var buf bytes.Buffer
	if err := r.appendJSON(&buf, event); err != nil {
		return err
	}
	return r.write(buf.Bytes())
}

func (r *Reporter) write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.out.Write(p)
	return err
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func formatIndexes(idx []uint16) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = strconv.Itoa(int(v))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatStrings(s []string) string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.Quote(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
