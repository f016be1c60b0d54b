// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package api exposes the ingestion-control and catalog HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/collector"
	"github.com/barhop/barhop/catalog/deals"
	"github.com/barhop/barhop/catalog/jobqueue"
	"github.com/barhop/barhop/catalog/photos"
)

var (
	// Error is the default api errs class.
	Error = errs.Class("api")

	mon = monkit.Package()
)

// Config contains configurable values for the api server.
type Config struct {
	Address     string `help:"address to listen on" default:":8080"`
	FrontendURL string `help:"origin allowed to call the api from a browser" default:""`
	Environment string `help:"deployment environment" default:"development"`

	RateLimit RateLimiterConfig
}

// Enqueuer accepts collection requests.
type Enqueuer interface {
	EnqueueSearch(ctx context.Context, payload collector.SearchNearbyPayload) (*jobqueue.Job, error)
	EnqueueSearchBulk(ctx context.Context, payloads []collector.SearchNearbyPayload) ([]*jobqueue.Job, error)
	EnqueueCity(ctx context.Context, city string) ([]*jobqueue.Job, error)
}

// QueueStats reports collection queue depth.
type QueueStats interface {
	Stats(ctx context.Context) (jobqueue.Stats, error)
}

// URLSource resolves storage keys to servable URLs. The object store
// gateway implements it.
type URLSource interface {
	URL(ctx context.Context, key string, preferCDN bool) (string, error)
}

// Server implements the HTTP surface.
//
// architecture: Endpoint
type Server struct {
	log    *zap.Logger
	config Config

	listener net.Listener
	server   http.Server

	enqueuer   Enqueuer
	queueStats QueueStats
	catalog    businesses.DB
	photos     photos.DB
	deals      deals.DB
	urls       URLSource

	limiter      *rateLimiter
	shuttingDown atomic.Bool
}

// NewServer creates a new api server. urls may be nil, in which case
// photo responses carry only the upstream URL.
func NewServer(log *zap.Logger, config Config, listener net.Listener, enqueuer Enqueuer, queueStats QueueStats, catalog businesses.DB, photoStore photos.DB, dealStore deals.DB, urls URLSource) *Server {
	rateLimit := config.RateLimit
	if config.Environment != "production" {
		rateLimit.Burst *= 10
	}

	server := &Server{
		log:        log,
		config:     config,
		listener:   listener,
		enqueuer:   enqueuer,
		queueStats: queueStats,
		catalog:    catalog,
		photos:     photoStore,
		deals:      dealStore,
		urls:       urls,
		limiter:    newRateLimiter(rateLimit),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", server.health).Methods(http.MethodGet)

	ingest := router.PathPrefix("/data-collection/google").Subrouter()
	ingest.HandleFunc("/search", server.enqueueSearch).Methods(http.MethodPost)
	ingest.HandleFunc("/search/bulk", server.enqueueSearchBulk).Methods(http.MethodPost)
	ingest.HandleFunc("/search/city", server.enqueueSearchCity).Methods(http.MethodPost)
	ingest.HandleFunc("/queue/stats", server.showQueueStats).Methods(http.MethodGet)

	catalogRouter := router.PathPrefix("/businesses").Subrouter()
	catalogRouter.HandleFunc("", server.listBusinesses).Methods(http.MethodGet)
	catalogRouter.HandleFunc("/search/location", server.searchLocation).Methods(http.MethodGet)
	catalogRouter.HandleFunc("/search/category/{category}", server.searchCategory).Methods(http.MethodGet)
	catalogRouter.HandleFunc("/{id}", server.showBusiness).Methods(http.MethodGet)

	server.server.Handler = server.withAvailability(server.withCORS(server.withRateLimit(router)))
	return server
}

// Run starts the server and shuts it down when ctx is canceled.
func (server *Server) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		server.shuttingDown.Store(true)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return Error.Wrap(server.server.Shutdown(shutdownCtx))
	})
	group.Go(func() error {
		defer cancel()
		err := server.server.Serve(server.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return Error.Wrap(err)
	})
	group.Go(func() error {
		server.limiter.pruneLoop(ctx)
		return nil
	})
	return group.Wait()
}

// Close closes the server without draining in-flight requests.
func (server *Server) Close() error {
	return Error.Wrap(server.server.Close())
}

// Handler exposes the routing stack for tests.
func (server *Server) Handler() http.Handler { return server.server.Handler }

func (server *Server) withAvailability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if server.shuttingDown.Load() {
			writeError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (server *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && origin == server.config.FrontendURL {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (server *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retryAfter, ok := server.limiter.allow(clientIP(r))
		if !ok {
			server.limiter.writeHeaders(w, retryAfter)
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":      "rate limited",
				"retryAfter": int(retryAfter.Seconds() + 0.5),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if comma := strings.IndexByte(forwarded, ','); comma >= 0 {
			forwarded = forwarded[:comma]
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (server *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
