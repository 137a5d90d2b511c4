package reconcile

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"basewall.xyz/wallsign/sigcodec"
)

// Payload is raw signature bytes. It marshals as 0x-prefixed hex.
type Payload []byte

func (p Payload) MarshalText() ([]byte, error) {
	return []byte("0x" + hex.EncodeToString(p)), nil
}

func (p *Payload) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(strings.TrimPrefix(string(text), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("reconcile: payload is not hex: %w", err)
	}
	*p = b
	return nil
}

// RawEvent is one Signed log as delivered by a source, before any checks.
type RawEvent struct {
	Signer      string  `json:"signer"`
	TokenID     uint64  `json:"tokenId"`
	Data        Payload `json:"data"`
	TxHash      string  `json:"txHash"`
	LogIndex    uint64  `json:"logIndex"`
	BlockNumber uint64  `json:"blockNumber"`
}

// Key identifies a log on chain.
type Key struct {
	TxHash   string `json:"txHash"`
	LogIndex uint64 `json:"logIndex"`
}

func (k Key) String() string { return fmt.Sprintf("%s-%d", k.TxHash, k.LogIndex) }

// Key returns the event's identity. Hashes compare case-insensitively.
func (e RawEvent) Key() Key {
	return Key{TxHash: normalizeHex(e.TxHash), LogIndex: e.LogIndex}
}

func normalizeHex(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// sameContent reports whether two records with the same key carry the same log.
func sameContent(a, b RawEvent) bool {
	return a.BlockNumber == b.BlockNumber &&
		a.TokenID == b.TokenID &&
		normalizeHex(a.Signer) == normalizeHex(b.Signer) &&
		bytes.Equal(a.Data, b.Data)
}

// contentLess orders conflicting records so that the same one always wins.
func contentLess(a, b RawEvent) bool {
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber < b.BlockNumber
	}
	if a.TokenID != b.TokenID {
		return a.TokenID < b.TokenID
	}
	if sa, sb := normalizeHex(a.Signer), normalizeHex(b.Signer); sa != sb {
		return sa < sb
	}
	return bytes.Compare(a.Data, b.Data) < 0
}

// Event is an accepted, decoded signature.
type Event struct {
	Signer      string            `json:"signer"`
	TokenID     uint64            `json:"tokenId"`
	Strokes     []sigcodec.Stroke `json:"strokes"`
	Format      string            `json:"format"`
	TxHash      string            `json:"txHash"`
	LogIndex    uint64            `json:"logIndex"`
	BlockNumber uint64            `json:"blockNumber"`
	PayloadCID  string            `json:"payloadCid"`
}

// Key returns the event's identity.
func (e Event) Key() Key { return Key{TxHash: e.TxHash, LogIndex: e.LogIndex} }

// ReasonConflict marks a record discarded because another record with the same
// key but different content won.
const ReasonConflict = "conflicting duplicate"

// Skip reports a record that was left out of the result.
type Skip struct {
	Key     Key    `json:"key"`
	TokenID uint64 `json:"tokenId"`
	// Reason is a codec RuleID for undecodable payloads, or ReasonConflict.
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}
