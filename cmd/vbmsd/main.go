package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"vbmsd/config"
	"vbmsd/gateway/auth"
	"vbmsd/gateway/middleware"
	"vbmsd/gateway/routes"
	"vbmsd/integrations/exports"
	"vbmsd/native/claim"
	"vbmsd/native/ledger"
	"vbmsd/observability"
	"vbmsd/observability/logging"
	telemetry "vbmsd/observability/otel"
	"vbmsd/storage"
	"vbmsd/storage/historydb"
)

func main() {
	configFile := flag.String("config", "./vbmsd.toml", "Path to the configuration file")
	listenFlag := flag.String("listen", "", "Listen address (overrides config ListenAddress)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(*listenFlag) != "" {
		cfg.ListenAddress = *listenFlag
	}

	logger := logging.Setup("vbmsd", cfg.Environment)

	otlpEndpoint := strings.TrimSpace(cfg.Telemetry.Endpoint)
	if env := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); env != "" {
		otlpEndpoint = env
	}
	var shutdownTelemetry func(context.Context) error
	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdownTelemetry, err = telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "vbmsd",
			Environment: cfg.Environment,
			Endpoint:    otlpEndpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			logger.Error("initialise telemetry", "error", err)
			os.Exit(1)
		}
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	kvPath := filepath.Join(cfg.DataDir, "kv")
	db, err := storage.NewLevelDB(kvPath)
	if err != nil {
		logger.Error("open database", "error", err, "path", kvPath)
		os.Exit(1)
	}
	defer db.Close()
	state := storage.NewState(db)

	bank := ledger.NewLedger(state)
	bank.SetEmitter(observability.NewLoggingEmitter(logger, nil))

	params, err := claimParams(cfg)
	if err != nil {
		logger.Error("parse claim parameters", "error", err)
		os.Exit(1)
	}
	deny, err := claim.LoadDenyList(cfg.DenyListPath)
	if err != nil {
		logger.Error("load deny list", "error", err, "path", cfg.DenyListPath)
		os.Exit(1)
	}
	if deny.Len() > 0 {
		logger.Info("deny list loaded", "entries", deny.Len())
	}
	gate, err := claim.NewGate(params, deny)
	if err != nil {
		logger.Error("build claim gate", "error", err)
		os.Exit(1)
	}

	engine := claim.NewEngine(bank, claim.NewHistory(state), gate)
	engine.SetEmitter(observability.NewLoggingEmitter(logger, nil))

	if endpoint := strings.TrimSpace(cfg.Signer.Endpoint); endpoint != "" {
		signer, err := claim.NewHTTPSigner(endpoint, cfg.Signer.BearerToken, cfg.SignerTimeout())
		if err != nil {
			logger.Error("configure signer", "error", err)
			os.Exit(1)
		}
		engine.SetSigner(observability.InstrumentSigner(signer))
	} else {
		logger.Warn("no signer endpoint configured, conversions will fail at signing")
	}
	if endpoint := strings.TrimSpace(cfg.Oracle.RPCEndpoint); endpoint != "" {
		oracle, err := claim.NewRPCOracle(endpoint, cfg.Oracle.ContractAddress, cfg.OracleTimeout())
		if err != nil {
			logger.Error("configure oracle", "error", err)
			os.Exit(1)
		}
		engine.SetOracle(observability.InstrumentOracle(oracle))
	} else {
		logger.Warn("no oracle endpoint configured, recoveries will be refused")
	}

	history, err := historydb.Open(cfg.HistoryDBPath)
	if err != nil {
		logger.Error("open history database", "error", err, "path", cfg.HistoryDBPath)
		os.Exit(1)
	}
	defer history.Close()

	exporter := exports.NewAuditExporter(bank, filepath.Join(cfg.DataDir, "exports"))

	var authenticator *auth.Authenticator
	if strings.TrimSpace(cfg.Auth.JWTSecret) != "" {
		authenticator, err = auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			logger.Error("configure authentication", "error", err)
			os.Exit(1)
		}
	} else if !strings.EqualFold(cfg.Environment, "dev") {
		logger.Error("Auth.JWTSecret is required outside dev environments")
		os.Exit(1)
	} else {
		logger.Warn("authentication disabled, mutating routes are open")
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimit{
		RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
		Burst:             cfg.RateLimit.Burst,
	})

	router, err := routes.New(routes.Config{
		Engine:        engine,
		HistoryDB:     history,
		Exporter:      exporter,
		Logger:        logger,
		Authenticator: authenticator,
		RateLimiter:   limiter,
	})
	if err != nil {
		logger.Error("build router", "error", err)
		os.Exit(1)
	}

	handler := http.Handler(router)
	if cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(router, "vbmsd")
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Error("listen", "error", err, "address", cfg.ListenAddress)
		os.Exit(1)
	}
	go func() {
		logger.Info("listening", "address", listener.Addr().String(), "environment", cfg.Environment)
		if serveErr := server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("serve", "error", serveErr)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", "error", err)
	}
}

// claimParams translates the decimal-string config bounds into engine params.
func claimParams(cfg *config.Config) (claim.Params, error) {
	params := claim.DefaultParams()
	minClaim, ok := new(big.Int).SetString(cfg.Claims.MinimumClaim, 10)
	if !ok {
		return claim.Params{}, fmt.Errorf("invalid MinimumClaim %q", cfg.Claims.MinimumClaim)
	}
	maxClaim, ok := new(big.Int).SetString(cfg.Claims.MaximumClaim, 10)
	if !ok {
		return claim.Params{}, fmt.Errorf("invalid MaximumClaim %q", cfg.Claims.MaximumClaim)
	}
	params.MinimumClaim = minClaim
	params.MaximumClaim = maxClaim
	params.Cooldown = time.Duration(cfg.Claims.CooldownSeconds) * time.Second
	params.RecoveryWindow = time.Duration(cfg.Claims.RecoveryWindowSeconds) * time.Second
	params.DailyRecoveryLimit = cfg.Claims.DailyRecoveryLimit
	return params, nil
}
