package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"basewall.xyz/wallsign/chainlog"
	"basewall.xyz/wallsign/eventlog"
	"basewall.xyz/wallsign/internal/config"
	"basewall.xyz/wallsign/internal/httpapi"
	"basewall.xyz/wallsign/internal/wallsvc"
	"basewall.xyz/wallsign/render"
	"basewall.xyz/wallsign/storage/grpccas"
)

const shutdownTimeout = 10 * time.Second

// daemon owns every long-lived resource of the server. Stop releases them in
// reverse order of acquisition.
type daemon struct {
	cfg     *config.Config
	svc     *wallsvc.Service
	syncing bool

	httpServer *http.Server
	grpcServer *grpc.Server
	httpAddr   net.Addr
	grpcAddr   net.Addr

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []func()
}

func newDaemon(cfg *config.Config) (*daemon, error) {
	d := &daemon{cfg: cfg}

	events, err := eventlog.Open(cfg.EventDbDir())
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	d.onStop(func() { logClose("event log", events.Close()) })

	blobs, closeBlobs, err := cfg.Store().Open()
	if err != nil {
		d.Stop()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	d.onStop(func() { logClose("blob store", closeBlobs()) })

	// Without an RPC endpoint the daemon serves whatever the event log holds.
	var chain wallsvc.ChainSource
	if cfg.RPCURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		src, closeChain, err := chainlog.Dial(ctx, cfg.Chain())
		cancel()
		if err != nil {
			d.Stop()
			return nil, err
		}
		d.onStop(closeChain)
		chain = src
		d.syncing = true
	} else {
		log.Warn("no rpc url configured, serving the local event log only")
	}

	svc, err := wallsvc.New(wallsvc.Config{
		Layout:        cfg.Layout(),
		Reconcile:     cfg.ReconcileOptions(),
		Render:        render.DefaultOptions(cfg.CanvasWidth, cfg.CanvasHeight),
		DeployBlock:   cfg.DeployBlock,
		Confirmations: cfg.Confirmations,
		SyncInterval:  cfg.SyncInterval,
	}, events, chain, blobs)
	if err != nil {
		d.Stop()
		return nil, err
	}
	d.svc = svc

	d.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpapi.NewRouter(svc, blobs),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.GRPCPort > 0 {
		d.grpcServer = grpc.NewServer()
		grpccas.RegisterBlobsServer(d.grpcServer, &grpccas.Server{CAS: blobs, ReadOnly: true})
	}
	return d, nil
}

// Start binds the listeners and launches the sync loop and servers. It
// returns once everything is listening.
func (d *daemon) Start(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", d.httpServer.Addr)
	if err != nil {
		return err
	}
	d.httpAddr = httpLis.Addr()
	var grpcLis net.Listener
	if d.grpcServer != nil {
		if grpcLis, err = net.Listen("tcp", fmt.Sprintf(":%d", d.cfg.GRPCPort)); err != nil {
			_ = httpLis.Close()
			return err
		}
		d.grpcAddr = grpcLis.Addr()
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.syncing {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("sync loop stopped")
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		log.Infof("http server listening on %s", httpLis.Addr())
		if err := d.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
		}
	}()

	if grpcLis != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			log.Infof("grpc blob server listening on %s", grpcLis.Addr())
			if err := d.grpcServer.Serve(grpcLis); err != nil {
				log.WithError(err).Error("grpc server stopped")
			}
		}()
	}
	return nil
}

// Stop shuts the servers down, waits for the background goroutines and
// closes the stores. It is safe to call on a partially built daemon.
func (d *daemon) Stop() {
	if d.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.httpServer.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
		cancel()
	}
	if d.grpcServer != nil {
		d.grpcServer.GracefulStop()
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func (d *daemon) onStop(fn func()) {
	d.closers = append(d.closers, fn)
}

func logClose(what string, err error) {
	if err != nil {
		log.WithError(err).Warnf("close %s", what)
	}
}
