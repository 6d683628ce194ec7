package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"aquasense-cloud/internal/audit"
	"aquasense-cloud/internal/auth"
	backupapp "aquasense-cloud/internal/backup/application"
	backuphttp "aquasense-cloud/internal/backup/interfaces/http"
	"aquasense-cloud/internal/live"
	"aquasense-cloud/internal/observability/metrics"
	presenceapp "aquasense-cloud/internal/presence/application"
	presencerepo "aquasense-cloud/internal/presence/infrastructure/postgres"
	presencehttp "aquasense-cloud/internal/presence/interfaces/http"
	telemetryapp "aquasense-cloud/internal/telemetry/application"
	telemetryrepo "aquasense-cloud/internal/telemetry/infrastructure/postgres"
	telemetryhttp "aquasense-cloud/internal/telemetry/interfaces/http"
	telemetrymqtt "aquasense-cloud/internal/telemetry/interfaces/mqtt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	recordRepo := telemetryrepo.NewRecordRepository(db)
	recordQuery := telemetryrepo.NewRecordQuery(db)
	deviceRepo := presencerepo.NewDeviceRepository(db)

	buffer := telemetryapp.NewBuffer()
	metrics.RegisterBufferDepth(func() float64 { return float64(buffer.Len()) })

	localNormalizer, err := telemetryapp.NewNormalizer(telemetryapp.ModeLocalOffset, cfg.UTCOffset)
	if err != nil {
		logger.Fatalf("normalizer error: %v", err)
	}
	utcNormalizer, err := telemetryapp.NewNormalizer(telemetryapp.ModeUTC, 0)
	if err != nil {
		logger.Fatalf("normalizer error: %v", err)
	}

	broker := live.NewBroker()

	flusher, err := telemetryapp.NewFlusher(buffer, recordRepo, deviceRepo, broker, logger,
		telemetryapp.WithFlushInterval(cfg.FlushInterval))
	if err != nil {
		logger.Fatalf("flusher error: %v", err)
	}

	tracker, err := presenceapp.NewTracker(deviceRepo, recordQuery, broker, logger,
		presenceapp.WithReconcileInterval(cfg.ReconcileInterval),
		presenceapp.WithOfflineInterval(cfg.OfflineInterval),
		presenceapp.WithOfflineAfter(cfg.OfflineAfter))
	if err != nil {
		logger.Fatalf("presence tracker error: %v", err)
	}

	backupCfg, err := backupapp.LoadConfig()
	if err != nil {
		logger.Fatalf("backup config error: %v", err)
	}
	backupStore := backupapp.NewStore()
	backupManager, err := backupapp.NewManager(backupStore, recordQuery, backupCfg, logger)
	if err != nil {
		logger.Fatalf("backup manager error: %v", err)
	}

	ctx := context.Background()
	go flusher.Run(ctx)
	go tracker.Run(ctx)
	go backupManager.RunReaper(ctx)

	if cfg.MQTTBrokerURL != "" {
		source, err := telemetrymqtt.NewSource(telemetrymqtt.SourceConfig{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			QoS:       byte(cfg.MQTTQoS),
		}, localNormalizer, buffer, logger)
		if err != nil {
			logger.Fatalf("mqtt source error: %v", err)
		}
		go source.Connect(ctx, time.Second, 30*time.Second)
	}

	localIngest, err := telemetryhttp.NewIngestHandler(localNormalizer, buffer, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	utcIngest, err := telemetryhttp.NewIngestHandler(utcNormalizer, buffer, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	queryHandler, err := telemetryhttp.NewQueryHandler(recordQuery)
	if err != nil {
		logger.Fatalf("query handler error: %v", err)
	}
	exportHandler, err := telemetryhttp.NewExportHandler(recordQuery, auditRepo, logger)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}
	devicesHandler, err := presencehttp.NewListHandler(deviceRepo)
	if err != nil {
		logger.Fatalf("devices handler error: %v", err)
	}
	backupHandler, err := backuphttp.NewHandler(backupManager, backupCfg.StatusInterval, auditRepo, logger)
	if err != nil {
		logger.Fatalf("backup handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/telemetry", ingestAuth.Wrap(localIngest))
	mux.Handle("/ingest/telemetry/utc", ingestAuth.Wrap(utcIngest))
	mux.Handle("/api/v1/telemetry", queryHandler)
	mux.Handle("/api/v1/devices", devicesHandler)
	mux.Handle("/api/v1/stream", live.NewStreamHandler(broker))
	mux.Handle("/api/v1/exports/telemetry.xlsx", exportHandler)
	mux.Handle("/api/v1/exports/telemetry.pdf", exportHandler)
	mux.Handle("/api/v1/backups", backupHandler)
	mux.Handle("/api/v1/backups/", backupHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	UTCOffset         time.Duration
	FlushInterval     time.Duration
	ReconcileInterval time.Duration
	OfflineInterval   time.Duration
	OfflineAfter      time.Duration
	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int
	MQTTBrokerURL     string
	MQTTClientID      string
	MQTTTopic         string
	MQTTUsername      string
	MQTTPassword      string
	MQTTQoS           int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		UTCOffset:         getenvDuration("UTC_OFFSET", -3*time.Hour),
		FlushInterval:     getenvDuration("FLUSH_INTERVAL", 10*time.Second),
		ReconcileInterval: getenvDuration("RECONCILE_INTERVAL", 10*time.Minute),
		OfflineInterval:   getenvDuration("OFFLINE_SWEEP_INTERVAL", time.Minute),
		OfflineAfter:      getenvDuration("OFFLINE_AFTER", 10*time.Minute),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		MQTTBrokerURL:     getenvDefault("MQTT_BROKER_URL", ""),
		MQTTClientID:      getenvDefault("MQTT_CLIENT_ID", "aquasense-cloud"),
		MQTTTopic:         getenvDefault("MQTT_TOPIC", "aquasense/telemetry/#"),
		MQTTUsername:      getenvDefault("MQTT_USERNAME", ""),
		MQTTPassword:      getenvDefault("MQTT_PASSWORD", ""),
		MQTTQoS:           getenvIntDefault("MQTT_QOS", 1),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the wrapped writer so SSE handlers behind the logging
// middleware can stream.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
