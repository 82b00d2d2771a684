// cmd/api/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"loyalnexus/internal/config"
	"loyalnexus/internal/observability/logging"
	"loyalnexus/internal/server"
)

const serviceName = "gateway"

func main() {
	if err := run(); err != nil {
		slog.Error("api gateway failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("8080")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(serviceName, cfg.Environment, logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})

	router, err := newRouter(cfg.Services, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx, cfg.Server, router, logger)
}

// newRouter mounts one reverse proxy per upstream service.
func newRouter(services config.ServicesConfig, logger *slog.Logger) (http.Handler, error) {
	router := server.NewRouter(serviceName)
	routes := map[string]string{
		"/api/v1/loyalty":  services.LoyaltyURL,
		"/api/v1/registry": services.RegistryURL,
	}
	for prefix, target := range routes {
		proxy, err := newProxy(target, logger)
		if err != nil {
			return nil, err
		}
		router.Handle(prefix+"/*", http.StripPrefix(prefix, proxy))
	}
	return router, nil
}

func newProxy(target string, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse upstream %q: %w", target, err)
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.WarnContext(r.Context(), "upstream unavailable",
			slog.String("upstream", u.Host), slog.Any("error", err))
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}
	return proxy, nil
}
