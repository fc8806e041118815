// Package setup wires the bridge daemon together and runs it until shutdown.
package setup

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	clientconfig "github.com/quantumauth-io/wc-bridge/cmd/wc-bridge/config"
	"github.com/quantumauth-io/wc-bridge/internal/bridge"
	"github.com/quantumauth-io/wc-bridge/internal/chains"
	"github.com/quantumauth-io/wc-bridge/internal/history"
	"github.com/quantumauth-io/wc-bridge/internal/hostwallet"
	clienthttp "github.com/quantumauth-io/wc-bridge/internal/http"
	"github.com/quantumauth-io/wc-bridge/internal/kvstore"
	"github.com/quantumauth-io/wc-bridge/internal/metrics"
	"github.com/quantumauth-io/wc-bridge/internal/monitor"
	"github.com/quantumauth-io/wc-bridge/internal/notice"
	"github.com/quantumauth-io/wc-bridge/internal/sessions"
	"github.com/quantumauth-io/wc-bridge/internal/swap"
	"github.com/quantumauth-io/wc-bridge/internal/transport"
	"github.com/quantumauth-io/wc-bridge/internal/transport/wsrelay"

	"github.com/quantumauth-io/quantum-go-utils/log"
)

type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is one fully wired bridge process.
type Daemon struct {
	Config  *clientconfig.Config
	Bridge  *bridge.Bridge
	Wallet  *hostwallet.Adapter
	History *history.Store
	Chains  *chains.Service
	Notices *notice.Feed
	Metrics *metrics.Metrics
	API     *clienthttp.Server

	// cancels transaction watches started by swaps
	stopWatches context.CancelFunc
}

// Build assembles every component from cfg. A nil dialer means the websocket relay.
func Build(ctx context.Context, cfg *clientconfig.Config, build BuildInfo, dialer transport.Dialer) (*Daemon, error) {
	kv, err := kvstore.NewFileStore(cfg.Client.DataDir)
	if err != nil {
		return nil, err
	}

	sessStore, err := sessions.NewStore(kv)
	if err != nil {
		return nil, err
	}
	hist := history.NewStore(kv)

	chainSvc, err := chains.NewService(cfg.Chains)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	feed := notice.NewFeed(50)

	// ---- Host wallet: host provider first, injected second
	wallet := hostwallet.NewAdapter(
		hostwallet.NewPrimaryHostProvider(cfg.HostWallet.PrimaryURL),
		hostwallet.NewInjectedProvider(cfg.HostWallet.InjectedURL),
	)
	wallet.SetMetrics(m)

	if dialer == nil {
		dialer = wsrelay.NewDialer(wsrelay.Config{
			URL:         cfg.Relay.URL,
			ProjectID:   cfg.Relay.ProjectID,
			Metadata:    cfg.Relay.Metadata,
			CallTimeout: cfg.CallTimeout(),
		})
	}

	br := bridge.New(bridgeConfig(cfg, chainSvc), dialer, wallet, sessStore, feed, m)

	watchCtx, stopWatches := context.WithCancel(context.WithoutCancel(ctx))
	mon := monitor.New(monitor.Config{
		Interval:    cfg.MonitorInterval(),
		MaxAttempts: cfg.Monitor.MaxAttempts,
	}, receiptResolver(chainSvc), hist, feed, m)
	executor := swap.NewExecutor(watchCtx, wallet, hist, mon, chainSvc, feed)

	api, err := clienthttp.NewServer(clienthttp.Deps{
		Bridge:  br,
		Wallet:  wallet,
		History: hist,
		Swapper: executor,
		Notices: feed,
		Metrics: m,
	}, clienthttp.Options{
		AllowedOrigins:    cfg.Client.AllowedOrigins,
		RequestsPerSecond: cfg.RateLimit.HTTPRequestsPerSecond,
		Burst:             cfg.RateLimit.HTTPBurst,
		Version:           build.Version,
	})
	if err != nil {
		stopWatches()
		_ = br.Close()
		chainSvc.Close()
		return nil, err
	}

	return &Daemon{
		Config:      cfg,
		Bridge:      br,
		Wallet:      wallet,
		History:     hist,
		Chains:      chainSvc,
		Notices:     feed,
		Metrics:     m,
		API:         api,
		stopWatches: stopWatches,
	}, nil
}

// Close stops the bridge, pending watches and cached chain clients.
func (d *Daemon) Close() {
	d.stopWatches()
	if err := d.Bridge.Close(); err != nil {
		log.Warn("bridge close failed", "error", err)
	}
	d.Chains.Close()
}

func Run(ctx context.Context, cfg *clientconfig.Config, build BuildInfo) error {
	log.Info("wc-bridge",
		"version", build.Version,
		"commit", build.Commit,
		"build_date", build.BuildDate,
	)

	d, err := Build(ctx, cfg, build, nil)
	if err != nil {
		return err
	}
	defer d.Close()

	tokenPath := cfg.TokenPath(clienthttp.TokenFileName)
	if err := clienthttp.WriteTokenFile(tokenPath, d.API.SessionToken()); err != nil {
		return err
	}
	log.Info("local API session token written", "path", tokenPath)

	go d.logEvents(ctx)

	// ---- Bridge: connect in the background and again whenever the transport drops
	go keepInitialized(ctx, d.Bridge, cfg.RetryInterval())

	listenAddr := net.JoinHostPort(cfg.Client.LocalHost, cfg.Client.Port)
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           d.API,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("local API listening", "addr", listenAddr)
		if serr := server.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", serr)
		}
	}()

	// ---- graceful shutdown
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Error("HTTP server shutdown failed", "error", serr)
	} else {
		log.Info("HTTP server gracefully stopped")
	}
	return nil
}
