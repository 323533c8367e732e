package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/tabletdb"
	tabletprom "github.com/hupe1980/tabletdb/metrics/prometheus"
)

const (
	serverReadTimeout  = 30 * time.Second
	serverWriteTimeout = 60 * time.Second
	serverIdleTimeout  = 120 * time.Second
	maxValueBytes      = 16 << 20
)

func (a *app) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the database over HTTP with Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Serve.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", DefaultServeAddr, "listen address")

	return cmd
}

func (a *app) serve(ctx context.Context) (err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	db, err := openDB(ctx, a.cfg, tabletdb.WithMetricsObserver(tabletprom.NewObserver(reg)))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Serve.ShutdownTimeout)
		defer cancel()
		err = errors.Join(err, db.Close(closeCtx))
	}()

	logger := slog.Default()
	server := &http.Server{
		Addr:         a.cfg.Serve.Addr,
		Handler:      newServerMux(db, reg),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "addr", a.cfg.Serve.Addr, "tablet", db.ID())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Serve.ShutdownTimeout)
	defer cancel()
	logger.Info("Server shutting down")
	return server.Shutdown(shutdownCtx)
}

type rowJSON struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func newServerMux(db *tabletdb.DB, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /kv/{key}", func(w http.ResponseWriter, r *http.Request) {
		v, err := db.Get(r.Context(), []byte(r.PathValue("key")))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(v)
	})

	mux.HandleFunc("PUT /kv/{key}", func(w http.ResponseWriter, r *http.Request) {
		v, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := db.Insert(r.Context(), []byte(r.PathValue("key")), v); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("DELETE /kv/{key}", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Delete(r.Context(), []byte(r.PathValue("key"))); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /scan", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var lower, upper []byte
		if q.Has("lower") {
			lower = []byte(q.Get("lower"))
		}
		if q.Has("upper") {
			upper = []byte(q.Get("upper"))
		}
		limit := 0
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		rows, err := db.Scan(r.Context(), lower, upper, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]rowJSON, len(rows))
		for i, row := range rows {
			out[i] = rowJSON{Key: string(row.Key), Value: string(row.Value)}
		}
		writeJSON(r.Context(), w, out)
	})

	mux.HandleFunc("POST /flush", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Flush(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		st, err := db.Stats()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(r.Context(), w, st)
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux
}

func writeError(w http.ResponseWriter, err error) {
	var exists *tabletdb.ErrKeyExists
	switch {
	case errors.Is(err, tabletdb.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &exists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, tabletdb.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, tabletdb.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeJSON encodes the given value as JSON and writes it to the response writer.
func writeJSON(ctx context.Context, w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")

	encodeErr := json.NewEncoder(w).Encode(value)
	if encodeErr != nil {
		slog.Default().ErrorContext(ctx, "failed to encode JSON response", "error", encodeErr)
	}
}
