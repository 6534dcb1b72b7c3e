// Command host runs the netfr relay's host side: it listens on two fabric
// channels (bulk writes and low-latency messaging) for exactly one client
// each, in a single-process bootstrap.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/netfr-go/netfr/internal/config"
	"github.com/netfr-go/netfr/internal/host"
	"github.com/netfr-go/netfr/internal/logging"
	"github.com/netfr-go/netfr/internal/metrics"
	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/fabric/tcpfab"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
	"github.com/netfr-go/netfr/internal/shared/wire"
	"github.com/netfr-go/netfr/internal/sysmon"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides NFR_LOG_LEVEL)")
	flag.Parse()

	bootLog := log.New(os.Stdout, "[netfr-host] ", log.LstdFlags)

	// automaxprocs rounds GOMAXPROCS down to any container CPU quota; the
	// relay's own concurrency model is single-threaded cooperative
	// progress, so this only matters for the background goroutines tcpfab
	// and sysmon spawn.
	bootLog.Printf("GOMAXPROCS: %d", runtime.GOMAXPROCS(0))

	cfg, err := config.Load(nil)
	if err != nil {
		bootLog.Fatalf("failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(cfg)
	cfg.LogConfig(logger)

	transport := func(tag string) fabric.Transport {
		if tag == "rdma" {
			return fabric.TransportRDMA
		}
		return fabric.TransportTCP
	}

	h, err := host.Init(host.Options{
		Provider:   tcpfab.NewProvider(logger),
		Addrs:      [wire.NumChannels]string{cfg.PrimaryAddr, cfg.SecondaryAddr},
		Transports: [wire.NumChannels]fabric.Transport{transport(cfg.PrimaryTransport), transport(cfg.SecondaryTransport)},
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize host")
	}
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sampler, err := sysmon.New(logger)
	if err != nil {
		logger.Warn().Err(err).Msg("process sampler unavailable")
	} else {
		go sampler.Run(ctx)
	}

	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metrics.ListenAndServe(cfg.MetricsAddr); err != nil {
			logger.Error().Err(err).Msg("metrics server exited")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go runLoop(ctx, h, logger, done)

	<-sigCh
	logger.Info().Msg("shutting down")
	cancel()
	<-done
}

// runLoop drives host.Process in a tight cooperative loop. A real
// deployment would interleave this with the host's own read/write/buffer
// work on the same call stack; this command exists to exercise the relay
// end to end, so it simply keeps every channel's event queue and
// completion queue draining until shutdown.
func runLoop(ctx context.Context, h *host.Host, logger zerolog.Logger, done chan<- struct{}) {
	defer close(done)
	defer logging.RecoverPanic(logger, "host.runLoop")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		err := h.Process()
		switch {
		case err == nil:
			// work happened; go around immediately
		case relayerr.Is(err, relayerr.KindNotConnected), relayerr.Is(err, relayerr.KindAgain):
			time.Sleep(time.Millisecond)
		default:
			logger.Error().Err(err).Msg("host process error")
			time.Sleep(time.Millisecond)
		}
	}
}
