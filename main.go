package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"conciliation-cloud/internal/audit"
	"conciliation-cloud/internal/auth"
	"conciliation-cloud/internal/conciliation/application"
	concpostgres "conciliation-cloud/internal/conciliation/infrastructure/postgres"
	conchttp "conciliation-cloud/internal/conciliation/interfaces/http"
	"conciliation-cloud/internal/observability/metrics"
	"conciliation-cloud/internal/requestid"
	"conciliation-cloud/internal/summary"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	accountChecker := auth.NewAccountChecker(db)
	auditRepo := audit.NewRepository(db)

	store := concpostgres.NewStore(db)
	service, err := application.NewService(store, logger)
	if err != nil {
		logger.Fatalf("conciliation service error: %v", err)
	}
	concHandler, err := conchttp.NewHandler(service, accountChecker, auditRepo)
	if err != nil {
		logger.Fatalf("conciliation handler error: %v", err)
	}

	reportXLSX, err := summary.NewReportHandler(store, "xlsx")
	if err != nil {
		logger.Fatalf("report handler error: %v", err)
	}
	reportPDF, err := summary.NewReportHandler(store, "pdf")
	if err != nil {
		logger.Fatalf("report handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/conciliation/manual", concHandler)
	mux.Handle("/api/v1/conciliation/day-details", concHandler)
	mux.Handle("/api/v1/conciliation/manual-candidates", concHandler)
	mux.Handle("/api/v1/summary/monthly", summary.NewMonthlyHandler(store))
	mux.Handle("/api/v1/summary/daily", summary.NewDailyHandler(store))
	mux.Handle("/api/v1/summary/report.xlsx", reportXLSX)
	mux.Handle("/api/v1/summary/report.pdf", reportPDF)
	mux.Handle("/api/v1/exports/daily.csv", summary.NewExportDailyCSVHandler(store))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server error: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
		logger.Print("http server stopped")
	}
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	JWTSecret         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
}

type fileConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	DB       struct {
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	} `yaml:"db"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

func loadConfig() (config, error) {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		DBMaxOpenConns:    getenvIntDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    getenvIntDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getenvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		ReadTimeout:       getenvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      getenvDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getenvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if path := os.Getenv("RECON_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		var overlay fileConfig
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return cfg, err
		}
		if overlay.HTTPAddr != "" {
			cfg.HTTPAddr = overlay.HTTPAddr
		}
		if overlay.DB.MaxOpenConns > 0 {
			cfg.DBMaxOpenConns = overlay.DB.MaxOpenConns
		}
		if overlay.DB.MaxIdleConns > 0 {
			cfg.DBMaxIdleConns = overlay.DB.MaxIdleConns
		}
		if err := overlayDuration(&cfg.DBConnMaxLifetime, overlay.DB.ConnMaxLifetime); err != nil {
			return cfg, err
		}
		if err := overlayDuration(&cfg.ReadTimeout, overlay.ReadTimeout); err != nil {
			return cfg, err
		}
		if err := overlayDuration(&cfg.WriteTimeout, overlay.WriteTimeout); err != nil {
			return cfg, err
		}
		if err := overlayDuration(&cfg.ShutdownTimeout, overlay.ShutdownTimeout); err != nil {
			return cfg, err
		}
	}

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("AUTH_JWT_SECRET is required")
	}
	return cfg, nil
}

func overlayDuration(target *time.Duration, value string) error {
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*target = parsed
	return nil
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
		id := requestid.New()
		r = r.WithContext(requestid.WithContext(r.Context(), id))
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s rid=%s", r.Method, r.URL.Path, resp.status, time.Since(start), id)
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
