// Package bundle packs blobs from a storage.CAS into a deterministic TAR
// archive and loads them back. The daemon uses it to export a wall: every
// accepted payload, the rendered PNG and a manifest describing the window.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"basewall.xyz/wallsign/cidutil"
	"basewall.xyz/wallsign/storage"
)

// FormatVersion is the current index schema version.
const FormatVersion = 1

const (
	blocksDir    = "blocks/"
	indexName    = "index.json"
	manifestName = "manifest.json"
)

var epoch0 = time.Unix(0, 0).UTC()

// ExportOptions controls bundle export behavior.
type ExportOptions struct {
	// Manifest, when non-nil, is stored verbatim as manifest.json.
	Manifest []byte
}

type index struct {
	Version   int     `json:"version"`
	CIDCodec  string  `json:"cidCodec"`
	Multihash string  `json:"multihash"`
	Blocks    []block `json:"blocks"`
}

type block struct {
	CID  string `json:"cid"`
	Size int    `json:"size"`
}

// Export writes the blobs named by ids to w.
//
// Entry order is lexicographic by CID and TAR headers are normalized, so the
// same set of ids always yields the same bytes. Every blob is verified against
// its CID before it is written.
func Export(ctx context.Context, w io.Writer, cas storage.CAS, ids []cid.Cid, opts ExportOptions) error {
	if cas == nil {
		return errors.New("bundle: nil CAS")
	}

	uniq := make(map[string]cid.Cid, len(ids))
	for _, id := range ids {
		if !id.Defined() {
			return storage.ErrInvalidCID
		}
		uniq[id.String()] = id
	}
	names := make([]string, 0, len(uniq))
	for s := range uniq {
		names = append(names, s)
	}
	sort.Strings(names)

	tw := tar.NewWriter(w)
	fail := func(err error) error {
		_ = tw.Close()
		return err
	}

	idx := index{Version: FormatVersion, CIDCodec: "raw", Multihash: "sha2-256", Blocks: make([]block, 0, len(names))}
	for _, s := range names {
		id := uniq[s]
		b, err := cas.Get(ctx, id)
		if err != nil {
			return fail(fmt.Errorf("bundle: %s: %w", s, err))
		}
		if !cidutil.Verify(id, b) {
			return fail(storage.ErrCIDMismatch)
		}
		if err := writeFile(tw, blocksDir+s, b); err != nil {
			return fail(err)
		}
		idx.Blocks = append(idx.Blocks, block{CID: s, Size: len(b)})
	}

	ib, err := json.Marshal(idx)
	if err != nil {
		return fail(err)
	}
	if err := writeFile(tw, indexName, append(ib, '\n')); err != nil {
		return fail(err)
	}
	if opts.Manifest != nil {
		if err := writeFile(tw, manifestName, opts.Manifest); err != nil {
			return fail(err)
		}
	}
	return tw.Close()
}

// Import reads a bundle from r, stores every block in cas and returns the
// manifest (nil when absent).
//
// Import fails closed: unknown entries, duplicate blocks and blocks whose
// bytes do not match their name are errors.
func Import(ctx context.Context, r io.Reader, cas storage.CAS) ([]byte, error) {
	if cas == nil {
		return nil, errors.New("bundle: nil CAS")
	}

	tr := tar.NewReader(r)
	seen := map[string]struct{}{}
	var manifest []byte
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return manifest, nil
		}
		if err != nil {
			return nil, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return nil, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			return nil, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		switch {
		case name == indexName:
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return nil, err
			}
		case name == manifestName:
			if manifest, err = io.ReadAll(tr); err != nil {
				return nil, err
			}
		case strings.HasPrefix(name, blocksDir):
			if err := importBlock(ctx, tr, cas, strings.TrimPrefix(name, blocksDir), seen); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("bundle: unknown entry: %s", name)
		}
	}
}

func importBlock(ctx context.Context, r io.Reader, cas storage.CAS, name string, seen map[string]struct{}) error {
	id, err := cid.Decode(name)
	if err != nil || !id.Defined() {
		return storage.ErrInvalidCID
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if !cidutil.Verify(id, payload) {
		return storage.ErrCIDMismatch
	}
	if _, ok := seen[id.String()]; ok {
		return fmt.Errorf("bundle: duplicate block entry: %s", id)
	}
	seen[id.String()] = struct{}{}

	putID, err := cas.Put(ctx, payload)
	if err != nil {
		return err
	}
	if !putID.Equals(id) {
		return storage.ErrCIDMismatch
	}
	return nil
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"), "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
