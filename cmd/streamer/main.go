// Command streamer runs the full market-data streaming substrate: upstream
// connectors, ingestion, caching, fan-out and the control-plane HTTP/WS
// surface, in one process. Staging shape (env load, signal-driven
// shutdown, /metrics served by the same HTTP server) follows the
// teacher's cmd/mdengine/main.go.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketfeed/internal/cache"
	"marketfeed/internal/config"
	"marketfeed/internal/control"
	"marketfeed/internal/fanout"
	"marketfeed/internal/hydrator"
	"marketfeed/internal/ingest"
	"marketfeed/internal/masterdata"
	"marketfeed/internal/model"
	"marketfeed/internal/obs"
	"marketfeed/internal/registry"
	"marketfeed/internal/stream"
	"marketfeed/internal/tokens"
	"marketfeed/internal/upstream"
	"marketfeed/pkg/upstoxfeed"
)

const upstreamWSURL = "wss://api.upstox.com/v3/feed/market-data-feed"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[streamer] config load failed: %v", err)
	}

	zlog := obs.NewLogger(cfg.Environment)
	zlog.Info().Msg("streamer starting")

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	shutdownTracing, err := obs.InitTracing(context.Background(), "marketfeed-streamer")
	if err != nil {
		zlog.Warn().Err(err).Msg("tracing init failed, continuing without it")
		shutdownTracing = func(context.Context) error { return nil }
	}

	gw := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, zlog).WithMetrics(metrics)
	defer gw.Close()

	regGate := registry.New()
	tokenSource := tokens.NewSource(gw, cfg.AuthorityServiceURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokenProvider := func() string {
		if len(cfg.AccountIDs) == 0 {
			return ""
		}
		tok, err := tokenSource.Resolve(ctx, cfg.AccountIDs[0])
		if err != nil {
			return ""
		}
		return tok
	}

	// Server is constructed before the Hub and Hydrator it will be
	// attached to: its encoder methods don't read those fields, so the
	// Hub can be built against srv.EncodeTick/EncodeCandle/EncodePortfolio
	// as method values before srv actually holds a Hub.
	srv := control.NewServer(obs.Component(zlog, "control"), regGate, nil, nil, tokenProvider)

	hub := fanout.New(obs.Component(zlog, "fanout"), metrics, regGate, fanout.Encoders{
		Tick:      srv.EncodeTick,
		Candle:    srv.EncodeCandle,
		Portfolio: srv.EncodePortfolio,
	}, func(clientID string) { regGate.RemoveClient(clientID) })

	history := upstoxfeed.NewHistoryClient(cfg.HistoryAPIBaseURL, cfg.HistoryAPITimeout)
	hyd := hydrator.New(obs.Component(zlog, "hydrator"), metrics, gw, history, srv.DeliverSnapshot, 4)

	srv.AttachHub(hub)
	srv.AttachHydrator(hyd)

	pipe := ingest.New(gw, metrics, obs.Component(zlog, "ingest"), hub.PublishTick, hub.PublishCandle)

	sup := stream.New(obs.Component(zlog, "stream"), func(events []upstoxfeed.Event) { pipe.Process(ctx, events) }, func(index int, err error) {
		zlog.Warn().Int("connector", index).Err(err).Msg("connector reported an error")
	}).WithMetrics(metrics)

	reloader := tokens.New(obs.Component(zlog, "tokens"), tokenSource, sup, cfg.AccountIDs, upstreamWSURL)

	conns := make([]*upstream.Connector, 0, len(cfg.AccountIDs))
	for i, acct := range cfg.AccountIDs {
		tok, err := tokenSource.Resolve(ctx, acct)
		if err != nil {
			zlog.Error().Str("account", acct).Err(err).Msg("initial token resolve failed, connector will not start")
			continue
		}
		conns = append(conns, upstream.New(i, upstreamWSURL, tok, sup))
	}
	sup.SetConnectors(conns)
	for idx, connErr := range sup.ConnectAll(ctx) {
		zlog.Warn().Int("connector", idx).Err(connErr).Msg("initial connect failed")
	}

	if len(cfg.InitialInstruments) > 0 {
		if ok, subErrs := sup.Subscribe(cfg.InitialInstruments, model.ModeFull); !ok {
			zlog.Error().Interface("errors", subErrs).Msg("initial subscribe failed on every connector")
		}
	}

	var relstore *masterdata.RelStore
	relstore, err = masterdata.Open(cfg.RelStorePath)
	if err != nil {
		zlog.Warn().Err(err).Msg("master-data relational store unavailable, FNO underlying endpoint will be empty")
		relstore = nil
	} else {
		defer relstore.Close()
	}

	// The relational store is the external FNO underlying table (spec
	// §4.8): some out-of-process loader keeps it current, and the
	// scheduler's job is to read it on a fixed cadence and push the result
	// into the Redis cache (fno_und:* keys); /api/fno-underlying itself
	// queries the store directly. With no store open there is nothing to
	// read.
	fnoSource := masterdata.Source(func(context.Context) ([]model.FNOUnderlying, error) { return nil, nil })
	if relstore != nil {
		fnoSource = func(context.Context) ([]model.FNOUnderlying, error) { return relstore.All() }
	}
	scheduler := masterdata.New(obs.Component(zlog, "masterdata"), gw, relstore, fnoSource)
	go scheduler.Run(ctx)

	admin := control.NewAdmin(obs.Component(zlog, "admin"), sup, gw, relstore, reloader)

	router := gin.New()
	router.Use(gin.Recovery())
	admin.Register(router)
	router.GET("/ws", func(c *gin.Context) { srv.HandleWS(c.Writer, c.Request) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	httpSrv := &http.Server{
		Addr:    fmtAddr(cfg.HTTPPort),
		Handler: router,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()
	zlog.Info().Int("port", cfg.HTTPPort).Msg("control plane listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zlog.Info().Msg("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	hyd.Stop()
	sup.StopAll()
	shutdownTracing(shutdownCtx)
	cancel()
}

func fmtAddr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}
