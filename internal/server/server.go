// Пакет server — HTTP-сервер filekeeper с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkruglov/filekeeper/internal/api/handlers"
	"github.com/dkruglov/filekeeper/internal/api/middleware"
	"github.com/dkruglov/filekeeper/internal/config"
)

// Параметры JWKS-клиента auth middleware.
const (
	jwksClientTimeout   = 10 * time.Second
	jwksRefreshInterval = time.Hour
	jwtLeeway           = 30 * time.Second
)

// Server — HTTP-сервер filekeeper.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
	auth       *middleware.JWTAuth
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// Если FK_JWKS_URL не задан, API endpoints доступны без аутентификации
// (standalone-развёртывание за внешним периметром).
func New(cfg *config.Config, logger *slog.Logger, api *handlers.APIHandler) *Server {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Публичные endpoints: probes, info, скачивание по токену
	api.RegisterPublic(router)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	var auth *middleware.JWTAuth
	if cfg.JWKSUrl != "" {
		var err error
		auth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			ClientTimeout:   jwksClientTimeout,
			RefreshInterval: jwksRefreshInterval,
			JWTLeeway:       jwtLeeway,
		}, logger)
		if err != nil {
			// JWT недоступен — запускаем без аутентификации (для разработки)
			logger.Warn("JWT JWKS недоступен, запуск без аутентификации",
				slog.String("jwks_url", cfg.JWKSUrl),
				slog.String("error", err.Error()),
			)
			auth = nil
		} else {
			logger.Info("JWT аутентификация настроена",
				slog.String("jwks_url", cfg.JWKSUrl),
			)
		}
	} else {
		logger.Warn("FK_JWKS_URL не задан: API endpoints доступны без аутентификации")
	}

	if auth != nil {
		router.Group(func(r chi.Router) {
			r.Use(auth.Middleware())
			api.RegisterAPI(r)
		})
	} else {
		api.RegisterAPI(router)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
		auth:       auth,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с таймаутом
// FK_SHUTDOWN_TIMEOUT.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSCert != ""),
		)

		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	if s.auth != nil {
		s.auth.Close()
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
