// Package server wires the letter services to their backends and runs the
// HTTP API and the ops gRPC service until a shutdown signal arrives.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/lockx"
	"github.com/dmitrijs2005/letterflow/internal/logging"
	"github.com/dmitrijs2005/letterflow/internal/server/config"
	"github.com/dmitrijs2005/letterflow/internal/server/esign"
	"github.com/dmitrijs2005/letterflow/internal/server/events"
	"github.com/dmitrijs2005/letterflow/internal/server/httpapi"
	"github.com/dmitrijs2005/letterflow/internal/server/render"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/letterflow/internal/server/services"
	"github.com/dmitrijs2005/letterflow/internal/server/signing"
	"github.com/dmitrijs2005/letterflow/internal/server/storage"

	gs "github.com/dmitrijs2005/letterflow/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config         *config.Config
	logger         logging.Logger
	letterService  *services.LetterService
	signingService *services.SigningService
	closeDB        func() error
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, c.LogLevel)

	m, tx, closeDB, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if c.DatabaseDSN == "" {
		logger.Warn(ctx, "no database configured, using in-memory store")
	}

	client := &http.Client{Timeout: 30 * time.Second}

	providers, err := esign.FromConfig(c.Providers, client)
	if err != nil {
		_ = closeDB()
		return nil, fmt.Errorf("signing providers: %w", err)
	}

	signer, err := signing.NewSigner(c.SigningSecret, c.SigningBaseURL, c.SigningValidity)
	if err != nil {
		_ = closeDB()
		return nil, fmt.Errorf("signer init error: %w", err)
	}

	lc := services.LetterConfig{
		Presets:   c.ApprovalPresets,
		Providers: providers,
		Store:     newStore(c, client),
	}

	if c.EventSinkURL != "" {
		p, err := events.NewCloudEventsPublisher(c.EventSinkURL)
		if err != nil {
			_ = closeDB()
			return nil, fmt.Errorf("event sink init error: %w", err)
		}
		lc.Publisher = p
	} else {
		lc.Publisher = events.NewLogPublisher(logger)
	}

	if c.RenderURL != "" {
		lc.Renderer = render.NewClient(c.RenderURL, client)
	}

	locks := &lockx.Keyed{}
	ls := services.NewLetterService(tx, m, locks, logger, lc)
	ss := services.NewSigningService(tx, m, locks, logger, signer, providers, ls)
	ls.SetDispatcher(ss)

	logger.Info(ctx, "app configured", "providers", providers.Names(), "http", c.HTTPAddr, "grpc", c.GRPCAddr)

	return &App{config: c, logger: logger, letterService: ls, signingService: ss, closeDB: closeDB}, nil
}

func newStore(c *config.Config, client *http.Client) storage.Store {
	if c.StorageDir != "" {
		return storage.NewDirStore(c.StorageDir)
	}
	return storage.NewS3Store(storage.S3Settings{
		Region:     c.S3Region,
		AccessKey:  c.S3RootUser,
		SecretKey:  c.S3RootPassword,
		Endpoint:   c.S3BaseEndpoint,
		Bucket:     c.S3Bucket,
		PresignTTL: c.PresignTTL,
	}, client)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.letterService, app.signingService, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	api := httpapi.New(app.letterService, app.signingService, app.config.SecretKey, app.logger)
	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, "http shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "HTTP server listening", "addr", app.config.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.closeDB(); err != nil {
		app.logger.Error(context.Background(), "db close", "error", err)
	}
	app.logger.Info(context.Background(), "app stopped")
}
