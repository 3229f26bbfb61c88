package main

import (
	"context"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ttnsdk "github.com/TheThingsNetwork/go-app-sdk"
	"github.com/brocaar/lorawan"
	"github.com/dgraph-io/badger/v2"
	"github.com/dgraph-io/badger/v2/options"
	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gobuffalo/packr/v2"
	"github.com/gorilla/handlers"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	grpc_middleware "github.com/mwitkow/go-grpc-middleware"
	grpc_opentracing "github.com/mwitkow/go-grpc-middleware/tracing/opentracing"
	"github.com/namsral/flag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/akhenakh/climateguard/config"
	"github.com/akhenakh/climateguard/gw"
	"github.com/akhenakh/climateguard/payload"
	badgeridx "github.com/akhenakh/climateguard/storage/badger"
	"github.com/akhenakh/climateguard/uplinksvc"
	"github.com/akhenakh/climateguard/web"
)

const appName = "climated"

var (
	version = "no version from LDFLAGS"

	configPath    = flag.String("configPath", "", "YAML file with custom layouts and devices")
	defaultLayout = flag.String("defaultLayout", "", "layout for devices without assignment, overrides the config file, defaults to versioned")

	appID        = flag.String("appID", "climateguard", "The things network application ID")
	appAccessKey = flag.String("appAccessKey", "", "The things network access key, TTN is disabled when empty")

	gwAddr = flag.String("gwAddr", "", "UDP address for packet forwarders, eg :1700, disabled when empty")

	selfHostedMap = flag.Bool("selfHostedMap", false, "Use a self hosted map rather than MapBox")
	tilesKey      = flag.String("tilesKey", "", "The key that will passed in the queries to the tiles server")
	tilesURL      = flag.String(
		"tilesURL",
		"http://127.0.0.1:8081",
		"the URL where to point to get tiles",
	)

	dbPath = flag.String("dbPath", "climate.db", "DB path")

	logLevel = flag.String("logLevel", "info", "log level: debug, info, warn, error")

	httpMetricsPort = flag.Int("httpMetricsPort", 8888, "http port")
	httpAPIPort     = flag.Int("httpAPIPort", 9201, "http API port")
	grpcPort        = flag.Int("grpcPort", 9200, "gRPC API port")
	healthPort      = flag.Int("healthPort", 6666, "grpc health port")

	httpServer        *http.Server
	grpcHealthServer  *grpc.Server
	grpcServer        *grpc.Server
	httpMetricsServer *http.Server
)

func main() {
	flag.Parse()

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "caller", log.DefaultCaller, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "app", appName)
	logger = level.NewFilter(logger, levelOption(*logLevel))

	stdlog.SetOutput(log.NewStdlibAdapter(logger))

	level.Info(logger).Log("msg", "Starting app", "version", version)

	// layouts and devices
	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			level.Error(logger).Log("msg", "can't load config", "error", err, "path", *configPath)
			os.Exit(2)
		}
	}
	if *defaultLayout != "" {
		cfg.DefaultLayout = *defaultLayout
	}
	if cfg.DefaultLayout == "" {
		cfg.DefaultLayout = payload.LayoutVersioned
	}
	if err := cfg.Register(); err != nil {
		level.Error(logger).Log("msg", "can't register layouts", "error", err)
		os.Exit(2)
	}
	if _, err := payload.Lookup(cfg.DefaultLayout); err != nil {
		level.Error(logger).Log("msg", "invalid default layout", "error", err)
		os.Exit(2)
	}
	sessions, err := cfg.Sessions()
	if err != nil {
		level.Error(logger).Log("msg", "invalid device sessions", "error", err)
		os.Exit(2)
	}
	level.Info(logger).Log(
		"msg", "layouts loaded",
		"default_layout", cfg.DefaultLayout,
		"codecs", fmt.Sprintf("%v", payload.Names()),
		"devices", len(cfg.Devices),
	)

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)

	// catch termination
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	// Badger
	opts := badger.DefaultOptions(*dbPath)
	opts.Logger = nil
	opts.TableLoadingMode = options.FileIO

	bdb, err := badger.Open(opts)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open DB", "error", err, "path", *dbPath)
		os.Exit(2)
	}
	defer bdb.Close()

	idx := &badgeridx.Indexer{DB: bdb}

	// gRPC Health Server
	healthServer := health.NewServer()
	g.Go(func() error {
		grpcHealthServer = grpc.NewServer()

		healthpb.RegisterHealthServer(grpcHealthServer, healthServer)

		haddr := fmt.Sprintf(":%d", *healthPort)
		hln, err := net.Listen("tcp", haddr)
		if err != nil {
			level.Error(logger).Log("msg", "gRPC Health server: failed to listen", "error", err)
			os.Exit(2)
		}
		level.Info(logger).Log("msg", fmt.Sprintf("gRPC health server serving at %s", haddr))
		return grpcHealthServer.Serve(hln)
	})

	// web server metrics
	g.Go(func() error {
		httpMetricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", *httpMetricsPort),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP Metrics server serving at :%d", *httpMetricsPort))

		// Register Prometheus metrics handler.
		http.Handle("/metrics", promhttp.Handler())

		if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	scfg := uplinksvc.Config{
		DefaultLayout: cfg.DefaultLayout,
		DeviceLayouts: cfg.DeviceLayouts(),
	}
	s := uplinksvc.NewServer(appName, logger, idx, scfg)
	s.Health = healthServer

	// gRPC Server
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", *grpcPort)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			level.Error(logger).Log("msg", "gRPC server: failed to listen", "error", err)
			os.Exit(2)
		}

		grpcServer = grpc.NewServer(
			// MaxConnectionAge is just to avoid long connection, to facilitate load balancing
			// MaxConnectionAgeGrace will torn them, default to infinity
			grpc.KeepaliveParams(keepalive.ServerParameters{MaxConnectionAge: 2 * time.Minute}),
			grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
				grpc_opentracing.StreamServerInterceptor(),
				grpc_prometheus.StreamServerInterceptor,
			)),
			grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
				grpc_opentracing.UnaryServerInterceptor(),
				grpc_prometheus.UnaryServerInterceptor,
			)),
		)
		uplinksvc.RegisterDecoderServer(grpcServer, s)
		grpc_prometheus.Register(grpcServer)
		level.Info(logger).Log("msg", fmt.Sprintf("gRPC server serving at %s", addr))

		healthServer.SetServingStatus(fmt.Sprintf("grpc.health.v1.%s", appName), healthpb.HealthCheckResponse_SERVING)

		return grpcServer.Serve(ln)
	})

	// web server
	g.Go(func() error {
		cfg := web.Config{
			TilesURL:      *tilesURL,
			TilesKey:      *tilesKey,
			SelfHostedMap: *selfHostedMap,
		}

		ws := web.NewServer(appName, logger, idx, cfg)

		// box html templates
		box := packr.New("Root box", "./templates")

		ws.FileHandler = http.FileServer(box)
		ws.Box = box

		r := ws.Router()
		r.PathPrefix("/").Handler(ws)

		httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", *httpAPIPort),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{"*"}),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
				handlers.AllowedHeaders([]string{"Content-Type"}),
			)(handlers.CompressHandler(r)),
		}
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP API server serving at :%d", *httpAPIPort))

		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	// Packet forwarders
	if *gwAddr != "" {
		g.Go(func() error {
			return runGateway(ctx, logger, s, sessions)
		})
	}

	// TTN client subscriptions
	if *appAccessKey != "" {
		g.Go(func() error {
			return runTTN(ctx, logger, s)
		})
	} else {
		level.Warn(logger).Log("msg", "no TTN access key, not subscribing to TTN")
	}

	select {
	case <-interrupt:
		cancel()
		break
	case <-ctx.Done():
		break
	}

	level.Warn(logger).Log("msg", "received shutdown signal")

	healthServer.SetServingStatus(fmt.Sprintf("grpc.health.v1.%s", appName), healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		_ = httpMetricsServer.Shutdown(shutdownCtx)
	}

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	if grpcHealthServer != nil {
		grpcHealthServer.GracefulStop()
	}

	err = g.Wait()
	if err != nil {
		level.Error(logger).Log("msg", "server returning an error", "error", err)
		os.Exit(2)
	}
}

func runGateway(ctx context.Context, logger log.Logger, s *uplinksvc.Server, sessions map[lorawan.DevAddr]config.Session) error {
	gs := gw.NewServer(appName, logger, s, sessions)
	if err := gs.StartListener(ctx, *gwAddr); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func runTTN(ctx context.Context, logger log.Logger, s *uplinksvc.Server) error {
	logger = log.With(logger, "component", "ttnclient")
	ttnConfig := ttnsdk.NewCommunityConfig(appName)
	ttnConfig.ClientVersion = version

	// Create a new SDK client for the application
	client := ttnConfig.NewClient(*appID, *appAccessKey)
	defer client.Close()

	// Start Publish/Subscribe client (MQTT)
	pubsub, err := client.PubSub()
	if err != nil {
		level.Error(logger).Log("msg", "can't get pub/sub", "error", err)
		return err
	}
	defer pubsub.Close()

	// Get a publish/subscribe client for all devices
	allDevicesPubSub := pubsub.AllDevices()

	// This also stops existing subscriptions
	defer allDevicesPubSub.Close()

	msgs, err := allDevicesPubSub.SubscribeUplink()
	if err != nil {
		level.Error(logger).Log("msg", "can't subscribe to uplinks", "error", err)
		return err
	}
	level.Info(logger).Log("msg", "subscribed to uplink messages")

	for {
		select {
		case <-ctx.Done():
			level.Info(logger).Log("msg", "unsubscribing to uplink messages")

			if err = allDevicesPubSub.UnsubscribeUplink(); err != nil {
				level.Error(logger).Log("msg", "can't unsubscribe from uplinks", "error", err)
				return err
			}
			return nil
		case msg := <-msgs:
			if msg == nil {
				break
			}
			s.HandleMessage(ctx, msg)
		}
	}
}

func levelOption(l string) level.Option {
	switch l {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}
