package setup

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"
	clientconfig "github.com/quantumauth-io/wc-bridge/cmd/wc-bridge/config"
	"github.com/quantumauth-io/wc-bridge/internal/bridge"
	"github.com/quantumauth-io/wc-bridge/internal/chains"
	"github.com/quantumauth-io/wc-bridge/internal/monitor"
)

const defaultRetryInterval = 10 * time.Second

// initializer is the part of the bridge keepInitialized drives.
type initializer interface {
	State() bridge.GlobalState
	Initialize(ctx context.Context) error
}

// keepInitialized dials the bridge now and then again on every tick it finds it
// uninitialized, so persisted sessions are served again once the relay is back.
// A configuration error ends the loop; only a config change fixes it.
func keepInitialized(ctx context.Context, b initializer, every time.Duration) {
	if every <= 0 {
		every = defaultRetryInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if b.State() == bridge.StateUninitialized {
			err := b.Initialize(ctx)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return
			case errors.Is(err, bridge.ErrConfiguration), errors.Is(err, bridge.ErrClosed):
				log.Error("bridge initialization stopped", "error", err)
				return
			default:
				log.Warn("bridge initialization failed, retrying", "every", every.String(), "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func bridgeConfig(cfg *clientconfig.Config, svc *chains.Service) bridge.Config {
	return bridge.Config{
		ProjectID:         cfg.Relay.ProjectID,
		DefaultChain:      svc.DefaultChain(),
		Supported:         svc.Supported(),
		DialTimeout:       cfg.DialTimeout(),
		RequestsPerSecond: cfg.RateLimit.SessionRequestsPerSecond,
		RequestBurst:      cfg.RateLimit.SessionBurst,
	}
}

// receiptResolver hands the monitor the cached client of a configured chain.
func receiptResolver(svc *chains.Service) monitor.Resolver {
	return func(ctx context.Context, chainID uint64) (monitor.ReceiptFetcher, error) {
		c, err := svc.Client(ctx, chainID)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (d *Daemon) logEvents(ctx context.Context) {
	events, unsubscribe := d.Bridge.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			log.Info("bridge event", "kind", string(ev.Kind), "topic", ev.Topic, "state", ev.State.String())
		}
	}
}
