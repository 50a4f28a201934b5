package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	v1 "github.com/imrenagi/go-file-store/api/v1"
	"github.com/imrenagi/go-file-store/store"
	"github.com/imrenagi/go-file-store/store/mongostore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "go-file-store"

type Opts struct {
	Config Config
}

func New(opts Opts) Server {
	s := Server{
		opts: opts,
	}
	return s
}

type Server struct {
	opts Opts
}

// Run connects to MongoDB and serves HTTP until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	log.Info().Msg("starting server")
	cfg := s.opts.Config

	telemetryShutdownFn, err := setupTelemetry(ctx, cfg.OTLPEndpoint, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer func() {
		if err := telemetryShutdownFn(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	client, err := connectMongo(ctx, cfg.MongoDBURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to disconnect from mongodb")
		}
	}()

	st, err := s.newStore(ctx, client)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: s.newHTTPHandler(st),
		// ReadTimeout is the maximum duration for reading the entire request, including the body.
		// Uploads are read whole before they are stored, so this bounds a slow upload.
		ReadTimeout: 60 * time.Second,
		// WriteTimeout is the maximum duration before timing out writes of the response.
		// The download handler lifts it before streaming file content.
		WriteTimeout: 60 * time.Second,
		// ReadHeaderTimeout is necessary here to prevent slowloris attacks.
		// https://www.cloudflare.com/learning/ddos/ddos-attack-tools/slowloris/
		ReadHeaderTimeout: 5 * time.Second,
		// IdleTimeout is the maximum amount of time to wait for the next request when keep-alives are enabled.
		IdleTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting http server on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	gracefulShutdownPeriod := 30 * time.Second
	log.Warn().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown http server gracefully")
	}
	log.Warn().Msg("http server gracefully stopped")
	return nil
}

func connectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	log.Info().Msg("connected to mongodb")
	return client, nil
}

func (s *Server) newStore(ctx context.Context, client *mongo.Client) (store.Store, error) {
	cfg := s.opts.Config
	ms, err := mongostore.Open(ctx, client.Database(cfg.Database),
		mongostore.WithBucketName(cfg.Bucket),
		mongostore.WithCollectionName(cfg.Collection))
	if err != nil {
		return nil, err
	}
	if cfg.InfoCacheSize == 0 {
		return ms, nil
	}
	cached, err := store.NewCachedStore(ms, cfg.InfoCacheSize)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

func (s *Server) newHTTPHandler(st store.Store) http.Handler {
	mux := mux.NewRouter()
	mux.Use(
		otelhttp.NewMiddleware("filestore"),
		LogInterceptor)
	mux.Handle("/metrics", promhttp.Handler())

	ctrl := v1.NewController(st, v1.WithMaxUploadSize(s.opts.Config.MaxUploadSize))
	mux.Handle("/", otelhttp.WithRouteTag("/", http.HandlerFunc(v1.Web()))).Methods(http.MethodGet)
	mux.Handle("/", otelhttp.WithRouteTag("/", http.HandlerFunc(ctrl.Put()))).Methods(http.MethodPost)
	mux.Handle("/{id}", otelhttp.WithRouteTag("/{id}", http.HandlerFunc(ctrl.Get()))).Methods(http.MethodGet)
	mux.Handle("/{id}/info", otelhttp.WithRouteTag("/{id}/info", http.HandlerFunc(ctrl.Info()))).Methods(http.MethodGet)

	return otelhttp.NewHandler(mux, "/")
}
