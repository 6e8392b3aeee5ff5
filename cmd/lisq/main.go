// Entry point for the lisq VBDLIS query service — chi HTTP API over the
// session/cache core, optional MCP stdio transport.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/lisq/credstore"
	"github.com/hazyhaar/lisq/dbopen"
	"github.com/hazyhaar/lisq/kit"
	"github.com/hazyhaar/lisq/vbdlis"
)

func main() {
	port := env("PORT", "8086")
	configPath := env("LISQ_CONFIG", "lisq.yaml")
	cachePath := env("CACHE_DB", "db/cache.db")
	mcpTransport := env("MCP_TRANSPORT", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := vbdlis.LoadConfigFile(configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	// Cache DB.
	cacheDB, err := dbopen.Open(cachePath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("cache db", "error", err)
		os.Exit(1)
	}
	defer cacheDB.Close()

	// VBDLIS service.
	svc, err := vbdlis.New(cfg, cacheDB, logger)
	if err != nil {
		slog.Error("vbdlis service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Optional saved identity, used to warm requests that omit credentials.
	var saved *credstore.Credentials
	if pass := os.Getenv("CRED_PASSPHRASE"); pass != "" {
		store := credstore.New(env("CRED_FILE", "db/creds.bin"), []byte(pass))
		if store.Exists() {
			creds, err := store.Load()
			if err != nil {
				slog.Error("credstore", "error", err)
				os.Exit(1)
			}
			saved = &creds
			slog.Info("credstore: identity loaded", "user", creds.Username)
		}
	}

	// Optional MCP over stdio.
	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "lisq",
			Version: "1.0.0",
		}, nil)
		vbdlis.RegisterMCP(mcpSrv, svc)

		slog.Info("MCP stdio starting")
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			slog.Error("MCP stdio", "error", err)
			os.Exit(1)
		}
		return
	}

	// Router.
	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{"status": "ok", "sessions": svc.Sessions()})
	})

	r.Post("/api/v1/vbdlis/search", func(w http.ResponseWriter, r *http.Request) {
		var req vbdlis.BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		if saved != nil && req.Username == "" {
			req.Username = saved.Username
			req.Password = saved.Password
			if req.Server == "" {
				req.Server = saved.Server
			}
		}

		resp, err := svc.Search(r.Context(), req)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, 200, resp)
	})

	r.Get("/api/v1/vbdlis/cached-at", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("soGiayTo")
		at, err := svc.CachedAt(r.Context(), key)
		if errors.Is(err, vbdlis.ErrNotCached) {
			writeJSON(w, 200, map[string]any{"soGiayTo": key, "cached": false})
			return
		}
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, 200, map[string]any{"soGiayTo": key, "cached": true, "cachedAt": at})
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown", "error", err)
		}
	}()

	slog.Info("lisq starting", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server", "error", err)
		os.Exit(1)
	}
	slog.Info("lisq stopped")
}

// statusFor maps the service's error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vbdlis.ErrInvalidInput):
		return 400
	case errors.Is(err, vbdlis.ErrAuthFailed), errors.Is(err, vbdlis.ErrSessionExpired):
		return 401
	case errors.Is(err, vbdlis.ErrConfiguration):
		return 422
	case errors.Is(err, vbdlis.ErrNavigationTimeout):
		return 504
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return 500
	}
}

// requestID tags every request with a correlation ID, echoed in the
// response headers.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(kit.WithRequestID(r.Context(), id)))
	})
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
