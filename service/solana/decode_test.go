package solana

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTransaction_Variants(t *testing.T) {
	t.Run("raw message with compiled instructions", func(t *testing.T) {
		raw := `{
			"signatures": ["s1", "s2"],
			"message": {
				"header": {"numRequiredSignatures": 2, "numReadonlySignedAccounts": 0, "numReadonlyUnsignedAccounts": 1},
				"accountKeys": ["A", "B", "C"],
				"recentBlockhash": "bh",
				"instructions": [{"programIdIndex": 2, "accounts": [0, 1], "data": "3Bxs4h24hBtQy9rw", "stackHeight": null}]
			}
		}`
		tx := DecodeTransaction(json.RawMessage(raw))

		jt := tx.(*JSONTransaction)
		assert.Equal(t, "raw", jt.Variant())
		msg, ok := jt.Message.(*RawMessage)
		require.True(t, ok)
		assert.Equal(t, uint8(2), msg.Header.NumRequiredSignatures)
		assert.Equal(t, uint8(1), msg.Header.NumReadonlyUnsignedAccounts)
		assert.Equal(t, []string{"A", "B", "C"}, msg.AccountKeys)
		assert.Equal(t, "bh", msg.Blockhash())
		require.Len(t, msg.Instructions, 1)
		assert.Equal(t, uint16(2), msg.Instructions[0].ProgramIDIndex)
		assert.Equal(t, []uint16{0, 1}, msg.Instructions[0].Accounts)
	})

	t.Run("parsed message with compiled instruction", func(t *testing.T) {
		raw := `{"signatures":["s"],"message":{"accountKeys":[],"recentBlockhash":"bh","instructions":[{"programIdIndex":1,"accounts":[0],"data":"x"}]}}`
		tx := DecodeTransaction(json.RawMessage(raw))

		msg := tx.(*JSONTransaction).Message.(*ParsedMessage)
		require.Len(t, msg.Instructions, 1)
		ci, ok := msg.Instructions[0].(*CompiledInstruction)
		require.True(t, ok)
		assert.Equal(t, uint16(1), ci.ProgramIDIndex)
	})

	t.Run("parsed instruction keeps payload", func(t *testing.T) {
		raw := `{"signatures":["s"],"message":{"accountKeys":[],"recentBlockhash":"bh","instructions":[{"program":"system","programId":"11111111111111111111111111111111","parsed":{"type":"transfer","info":{"lamports":5}}}]}}`
		tx := DecodeTransaction(json.RawMessage(raw))

		pi := tx.(*JSONTransaction).Message.(*ParsedMessage).Instructions[0].(*ParsedInstruction)
		assert.Equal(t, "system", pi.Program)
		assert.JSONEq(t, `{"type":"transfer","info":{"lamports":5}}`, string(pi.Parsed))
	})

	t.Run("legacy binary", func(t *testing.T) {
		tx := DecodeTransaction(json.RawMessage(`"3Bxs4h24hBtQy9rw"`))
		assert.Equal(t, "legacy_binary", tx.Variant())
	})

	t.Run("accounts only", func(t *testing.T) {
		tx := DecodeTransaction(json.RawMessage(`{"signatures":["s"],"accountKeys":[{"pubkey":"A","writable":true,"signer":true,"source":"transaction"}]}`))
		at, ok := tx.(*AccountsTransaction)
		require.True(t, ok)
		assert.Equal(t, "A", at.AccountKeys[0].Pubkey)
		assert.True(t, at.AccountKeys[0].Signer)
	})

	t.Run("base58 binary", func(t *testing.T) {
		raw := fmt.Sprintf(`[%q, "base58"]`, base58.Encode([]byte{9, 8, 7}))
		tx := DecodeTransaction(json.RawMessage(raw))
		data, err := tx.(*BinaryTransaction).Bytes()
		require.NoError(t, err)
		assert.Equal(t, []byte{9, 8, 7}, data)
	})

	t.Run("base64+zstd binary", func(t *testing.T) {
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		compressed := enc.EncodeAll([]byte("wire bytes"), nil)
		require.NoError(t, enc.Close())

		raw := fmt.Sprintf(`[%q, "base64+zstd"]`, base64.StdEncoding.EncodeToString(compressed))
		tx := DecodeTransaction(json.RawMessage(raw))
		data, err := tx.(*BinaryTransaction).Bytes()
		require.NoError(t, err)
		assert.Equal(t, []byte("wire bytes"), data)
	})

	t.Run("binary payload is decoded on demand", func(t *testing.T) {
		for _, raw := range []string{`["AA", "hex"]`, `["not base64!", "base64"]`} {
			tx := DecodeTransaction(json.RawMessage(raw))
			bt, ok := tx.(*BinaryTransaction)
			require.True(t, ok, "payload %q", raw)
			_, err := bt.Bytes()
			assert.ErrorIs(t, err, ErrDecode, "payload %q", raw)
		}
	})

	t.Run("unrecognized payloads are unsupported", func(t *testing.T) {
		for _, raw := range []string{``, `42`, `["only-one"]`, `{"signatures":[]}`} {
			tx := DecodeTransaction(json.RawMessage(raw))
			ut, ok := tx.(*UnsupportedTransaction)
			require.True(t, ok, "payload %q", raw)
			assert.Equal(t, "unsupported", ut.Variant())
			assert.ErrorIs(t, ut.Err, ErrDecode, "payload %q", raw)
		}
	})
}

func TestWireTransaction(t *testing.T) {
	key := solanago.NewWallet().PublicKey()
	built, err := solanago.NewTransaction(
		[]solanago.Instruction{
			solanago.NewInstruction(VoteProgramID, solanago.AccountMetaSlice{solanago.Meta(key).WRITE().SIGNER()}, []byte{1, 2, 3}),
		},
		solanago.Hash{},
		solanago.TransactionPayer(key),
	)
	require.NoError(t, err)
	wire, err := built.MarshalBinary()
	require.NoError(t, err)

	t.Run("binary round trip", func(t *testing.T) {
		tx, err := WireTransaction(&BinaryTransaction{Data: base64.StdEncoding.EncodeToString(wire), Encoding: EncodingBase64})
		require.NoError(t, err)
		assert.True(t, InvokesProgram(tx, VoteProgramID))
		assert.False(t, InvokesProgram(tx, solanago.SystemProgramID))

		jt := ToJSONTransaction(tx)
		msg := jt.Message.(*RawMessage)
		assert.Len(t, jt.Signatures, 1)
		assert.Equal(t, uint8(1), msg.Header.NumRequiredSignatures)
		assert.Contains(t, msg.AccountKeys, key.String())
		require.Len(t, msg.Instructions, 1)
		assert.Equal(t, base58.Encode([]byte{1, 2, 3}), msg.Instructions[0].Data)
	})

	t.Run("legacy binary", func(t *testing.T) {
		tx, err := WireTransaction(&LegacyBinaryTransaction{Data: base58.Encode(wire)})
		require.NoError(t, err)
		assert.Len(t, tx.Message.Instructions, 1)
	})

	t.Run("unknown binary encoding", func(t *testing.T) {
		_, err := WireTransaction(&BinaryTransaction{Data: "AA", Encoding: "hex"})
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("json has no wire form", func(t *testing.T) {
		_, err := WireTransaction(&JSONTransaction{Message: &RawMessage{}})
		assert.ErrorIs(t, err, ErrDecode)
	})
}
