package tuner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/xtuner/xtuner/internal/store"
)

// Server ties the HDHomeRun surface, the playlist, and the stream gateway
// to one listener.
type Server struct {
	Addr     string
	MaxConns int

	Store   *store.Store
	HDHR    *HDHR
	M3U     *M3UServe
	Gateway *Gateway
	SSDP    *SSDP
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/discover.json", s.HDHR)
	mux.Handle("/lineup.json", s.HDHR)
	mux.Handle("/lineup_status.json", s.HDHR)
	mux.Handle("/device.xml", s.HDHR)
	mux.Handle("/playlist.m3u", s.M3U)
	mux.Handle("/stream/", s.Gateway)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthz)
	return logRequests(mux)
}

// healthz reports "loading" until the first provider sync has landed, "ok"
// after. Plex setup instructions tell users to wait for ok.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	streams, err := s.Store.CountStreams(ctx)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	lastSync, _ := s.Store.GetKV(ctx, "last_sync")
	lineup, err := s.Store.EffectiveLineup(ctx)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	status := "ok"
	if lastSync == "" && streams == 0 {
		status = "loading"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   status,
		"streams":  streams,
		"channels": len(lineup),
		"lastSync": lastSync,
	})
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	if s.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.MaxConns)
	}

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: /stream responses are open-ended.
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server: listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	if s.SSDP != nil {
		if err := s.SSDP.Start(ctx); err != nil {
			log.Printf("server: ssdp disabled: %v", err)
		}
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	if s.SSDP != nil {
		s.SSDP.Stop()
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Printf("server: shutting down")
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	if lw.status == 0 {
		lw.status = code
	}
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(p []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	n, err := lw.ResponseWriter.Write(p)
	lw.bytes += int64(n)
	return n, err
}

func (lw *loggingResponseWriter) Flush() {
	if fl, ok := lw.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		log.Printf("http: %s %s status=%d bytes=%d dur=%s remote=%s",
			r.Method, r.URL.Path, lw.status, lw.bytes, time.Since(start).Round(time.Millisecond), r.RemoteAddr)
	})
}
