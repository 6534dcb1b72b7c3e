// Command client runs the netfr relay's client side: it actively connects
// to a host on two fabric channels and drains ClientProcess events in a
// single-process bootstrap.
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

	"github.com/netfr-go/netfr/internal/client"
	"github.com/netfr-go/netfr/internal/config"
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

	bootLog := log.New(os.Stdout, "[netfr-client] ", log.LstdFlags)
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

	c, err := client.Init(client.Options{
		Provider:   tcpfab.NewProvider(logger),
		PeerAddrs:  [wire.NumChannels]string{cfg.PrimaryAddr, cfg.SecondaryAddr},
		Transports: [wire.NumChannels]fabric.Transport{transport(cfg.PrimaryTransport), transport(cfg.SecondaryTransport)},
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize client")
	}
	defer c.Close()

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

	if err := connectWithRetry(c, cfg.ConnectRetries, cfg.ConnectRetryInterval, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to host")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go runLoop(ctx, c, logger, done)

	<-sigCh
	logger.Info().Msg("shutting down")
	cancel()
	<-done
}

// connectWithRetry drives SessionInit until every channel reaches
// CONNECTED, retrying on Again up to retries times. A non-Again error
// (e.g. ConnRefused from the one-client-per-channel rule) fails fast.
func connectWithRetry(c *client.Client, retries int, interval time.Duration, logger zerolog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		err := c.SessionInit()
		if err == nil {
			logger.Info().Int("attempt", attempt+1).Msg("connected to host")
			return nil
		}
		if !relayerr.Is(err, relayerr.KindAgain) {
			return err
		}
		lastErr = err
		time.Sleep(interval)
	}
	return lastErr
}

func runLoop(ctx context.Context, c *client.Client, logger zerolog.Logger, done chan<- struct{}) {
	defer close(done)
	defer logging.RecoverPanic(logger, "client.runLoop")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ev, err := c.Process(-1)
		switch {
		case err == nil:
			logger.Debug().
				Int("channel", ev.ChannelIndex).
				Uint32("serial", ev.Serial).
				Uint32("payload_length", ev.PayloadLength).
				Msg("event")
		case relayerr.Is(err, relayerr.KindNotConnected), relayerr.Is(err, relayerr.KindAgain):
			time.Sleep(time.Millisecond)
		default:
			logger.Error().Err(err).Msg("client process error")
			time.Sleep(time.Millisecond)
		}
	}
}
