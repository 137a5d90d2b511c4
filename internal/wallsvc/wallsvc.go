// Package wallsvc keeps a local copy of the chain's Signed log and serves
// reconciled, rendered walls from it.
package wallsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	log "github.com/sirupsen/logrus"

	"basewall.xyz/wallsign/chainlog"
	"basewall.xyz/wallsign/reconcile"
	"basewall.xyz/wallsign/render"
	"basewall.xyz/wallsign/storage"
	"basewall.xyz/wallsign/storage/bundle"
	"basewall.xyz/wallsign/wall"
)

// ErrNoChain is returned by Sync when the service was built without a chain
// source.
var ErrNoChain = errors.New("wallsvc: no chain source")

// EventStore is the persisted event log.
type EventStore interface {
	Cursor(ctx context.Context) (uint64, bool, error)
	ReplaceRange(ctx context.Context, from, to uint64, events []reconcile.RawEvent) error
	All(ctx context.Context) ([]reconcile.RawEvent, error)
}

// ChainSource yields Signed records from the chain.
type ChainSource interface {
	SafeHead(ctx context.Context) (uint64, error)
	Scan(ctx context.Context, from, to uint64) iter.Seq2[chainlog.Batch, error]
}

type Config struct {
	Layout        wall.Layout
	Reconcile     reconcile.Options
	Render        render.Options
	DeployBlock   uint64
	Confirmations uint64
	SyncInterval  time.Duration
}

type Service struct {
	cfg    Config
	events EventStore
	chain  ChainSource
	blobs  storage.CAS

	syncMu sync.Mutex

	renderMu sync.Mutex
	rendered map[string]cid.Cid
}

// New builds a Service. chain may be nil for a read-only service over an
// existing event log.
func New(cfg Config, events EventStore, chain ChainSource, blobs storage.CAS) (*Service, error) {
	if events == nil || blobs == nil {
		return nil, errors.New("wallsvc: event store and blob store are required")
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		cfg:      cfg,
		events:   events,
		chain:    chain,
		blobs:    blobs,
		rendered: map[string]cid.Cid{},
	}, nil
}

// SyncReport summarizes one Sync pass.
type SyncReport struct {
	From    uint64 `json:"from"`
	To      uint64 `json:"to"`
	Batches int    `json:"batches"`
	Events  int    `json:"events"`
}

// Sync copies new Signed records into the event log, up to the chain's safe
// head. The last Confirmations blocks before the cursor are read again and
// replaced so that a late reorg is picked up. Every payload is stored in the
// blob store. Batches committed before a failure stay committed.
func (s *Service) Sync(ctx context.Context) (SyncReport, error) {
	if s.chain == nil {
		return SyncReport{}, ErrNoChain
	}
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	head, err := s.chain.SafeHead(ctx)
	if err != nil {
		syncFailures.Inc()
		return SyncReport{}, err
	}
	cursor, ok, err := s.events.Cursor(ctx)
	if err != nil {
		syncFailures.Inc()
		return SyncReport{}, err
	}

	from := s.cfg.DeployBlock
	if ok {
		from = cursor + 1
		if from > s.cfg.Confirmations {
			from -= s.cfg.Confirmations
		} else {
			from = 0
		}
		from = max(from, s.cfg.DeployBlock)
	}
	report := SyncReport{From: from, To: head}
	if from > head {
		return report, nil
	}

	for b, err := range s.chain.Scan(ctx, from, head) {
		if err != nil {
			syncFailures.Inc()
			return report, err
		}
		for _, e := range b.Events {
			if _, err := s.blobs.Put(ctx, e.Data); err != nil {
				syncFailures.Inc()
				return report, fmt.Errorf("wallsvc: store payload %s: %w", e.Key(), err)
			}
		}
		if err := s.events.ReplaceRange(ctx, b.From, b.To, b.Events); err != nil {
			syncFailures.Inc()
			return report, err
		}
		report.Batches++
		report.Events += len(b.Events)
		eventsIngested.Add(float64(len(b.Events)))
		syncedBlock.Set(float64(b.To))
	}
	return report, nil
}

// Run syncs immediately and then every SyncInterval until ctx is done. Sync
// errors are logged and retried on the next tick.
func (s *Service) Run(ctx context.Context) error {
	interval := s.cfg.SyncInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := s.Sync(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.WithError(err).Warn("wall sync failed")
		case err == nil && report.Batches > 0:
			log.WithFields(log.Fields{
				"from":   report.From,
				"to":     report.To,
				"events": report.Events,
			}).Info("wall sync")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// View is one reconciled wall.
type View struct {
	*reconcile.Result
	// Latest is the highest token id in the event log.
	Latest uint64 `json:"latest"`
	// Closed is set once every id of the window has been minted; a closed
	// wall never changes.
	Closed      bool   `json:"closed"`
	Fingerprint string `json:"fingerprint"`
}

// LatestWindow returns the window holding the highest stored token id.
func (s *Service) LatestWindow(ctx context.Context) (wall.Window, error) {
	raw, err := s.events.All(ctx)
	if err != nil {
		return wall.Window{}, err
	}
	return s.cfg.Layout.Range(latestToken(raw))
}

// LatestWall reconciles the wall holding the highest stored token id.
func (s *Service) LatestWall(ctx context.Context) (*View, error) {
	raw, err := s.events.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("wallsvc: read event log: %w", err)
	}
	w, err := s.cfg.Layout.Range(latestToken(raw))
	if err != nil {
		return nil, err
	}
	return s.view(raw, w)
}

// Wall reconciles the wall with the given index.
func (s *Service) Wall(ctx context.Context, index uint64) (*View, error) {
	w, err := s.cfg.Layout.Window(index)
	if err != nil {
		return nil, err
	}
	raw, err := s.events.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("wallsvc: read event log: %w", err)
	}
	return s.view(raw, w)
}

func (s *Service) view(raw []reconcile.RawEvent, w wall.Window) (*View, error) {
	res, err := reconcile.Reconcile(raw, w, s.cfg.Reconcile)
	if res != nil {
		for _, sk := range res.Skipped {
			recordsSkipped.WithLabelValues(sk.Reason).Inc()
		}
	}
	if err != nil {
		return nil, err
	}
	latest := latestToken(raw)
	return &View{
		Result:      res,
		Latest:      latest,
		Closed:      latest >= w.To,
		Fingerprint: res.Fingerprint(),
	}, nil
}

func latestToken(raw []reconcile.RawEvent) uint64 {
	var latest uint64
	for _, e := range raw {
		latest = max(latest, e.TokenID)
	}
	return latest
}

// RenderPNG renders v and stores the PNG in the blob store. Renders are
// cached by fingerprint.
func (s *Service) RenderPNG(ctx context.Context, v *View) ([]byte, cid.Cid, error) {
	start := time.Now()
	s.renderMu.Lock()
	id, ok := s.rendered[v.Fingerprint]
	s.renderMu.Unlock()
	if ok {
		b, err := s.blobs.Get(ctx, id)
		if err == nil {
			renderDuration.WithLabelValues("hit").Observe(time.Since(start).Seconds())
			return b, id, nil
		}
		if !storage.IsNotFound(err) {
			return nil, cid.Undef, err
		}
	}

	img, err := render.Render(v.Strokes(), s.cfg.Render)
	if err != nil {
		return nil, cid.Undef, err
	}
	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, img); err != nil {
		return nil, cid.Undef, err
	}
	id, err = s.blobs.Put(ctx, buf.Bytes())
	if err != nil {
		return nil, cid.Undef, err
	}

	s.renderMu.Lock()
	s.rendered[v.Fingerprint] = id
	s.renderMu.Unlock()
	renderDuration.WithLabelValues("miss").Observe(time.Since(start).Seconds())
	return buf.Bytes(), id, nil
}

// Manifest describes an exported wall.
type Manifest struct {
	Window      wall.Window      `json:"window"`
	Fingerprint string           `json:"fingerprint"`
	Image       string           `json:"image"`
	Events      []ManifestEvent  `json:"events"`
	Skipped     []reconcile.Skip `json:"skipped,omitempty"`
}

type ManifestEvent struct {
	TokenID     uint64 `json:"tokenId"`
	Signer      string `json:"signer"`
	TxHash      string `json:"txHash"`
	LogIndex    uint64 `json:"logIndex"`
	BlockNumber uint64 `json:"blockNumber"`
	Payload     string `json:"payload"`
}

// Export writes v as a bundle: every accepted payload, the rendered PNG and a
// manifest.
func (s *Service) Export(ctx context.Context, w io.Writer, v *View) error {
	_, imgID, err := s.RenderPNG(ctx, v)
	if err != nil {
		return err
	}
	m := Manifest{
		Window:      v.Window,
		Fingerprint: v.Fingerprint,
		Image:       imgID.String(),
		Events:      make([]ManifestEvent, 0, len(v.Events)),
		Skipped:     v.Skipped,
	}
	ids := []cid.Cid{imgID}
	for _, e := range v.Events {
		id, err := cid.Decode(e.PayloadCID)
		if err != nil {
			return fmt.Errorf("wallsvc: payload cid %q: %w", e.PayloadCID, err)
		}
		ids = append(ids, id)
		m.Events = append(m.Events, ManifestEvent{
			TokenID:     e.TokenID,
			Signer:      e.Signer,
			TxHash:      e.TxHash,
			LogIndex:    e.LogIndex,
			BlockNumber: e.BlockNumber,
			Payload:     e.PayloadCID,
		})
	}
	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return bundle.Export(ctx, w, s.blobs, ids, bundle.ExportOptions{Manifest: append(manifest, '\n')})
}
