package ledger

import (
	"encoding/binary"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type journalEntry struct {
	Call   Call   `json:"call"`
	Result Result `json:"result"`
}

type rawJournalEntry struct {
	Call   Call            `json:"call"`
	Result json.RawMessage `json:"result"`
}

// chainHash = keccak256(prev ‖ seq ‖ now ‖ payload)，seq 与 now 以大端 8 字节编码。
func chainHash(prev common.Hash, seq uint64, now int64, payload []byte) common.Hash {
	var header [16]byte
	binary.BigEndian.PutUint64(header[:8], seq)
	binary.BigEndian.PutUint64(header[8:], uint64(now))
	return crypto.Keccak256Hash(prev.Bytes(), header[:], payload)
}

func encodeEntry(call Call, result Result) ([]byte, error) {
	return json.Marshal(journalEntry{Call: call, Result: result})
}
