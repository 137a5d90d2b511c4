// Package cidutil derives the content identifiers used for payloads, rendered
// walls and reconciliation inputs: CIDv1, raw codec, sha2-256 multihash.
package cidutil

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ErrUnsupported is returned by Parse for CIDs that are well formed but not
// CIDv1 raw/sha2-256.
var ErrUnsupported = errors.New("cidutil: unsupported cid (want v1 raw sha2-256)")

// Sum returns the CID of data.
func Sum(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// String returns the CID of data in its default (base32) string form.
func String(data []byte) string {
	id, err := Sum(data)
	if err != nil {
		// sha2-256 with the default length cannot fail.
		return ""
	}
	return id.String()
}

// Parse decodes s and checks that it uses the raw codec and a sha2-256 hash.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("cidutil: %w", err)
	}
	p := id.Prefix()
	if p.Version != 1 || p.Codec != cid.Raw || p.MhType != multihash.SHA2_256 {
		return cid.Undef, ErrUnsupported
	}
	return id, nil
}

// Verify reports whether data hashes to id.
func Verify(id cid.Cid, data []byte) bool {
	got, err := Sum(data)
	return err == nil && got.Equals(id)
}
