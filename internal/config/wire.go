package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/joe/remotefs/pkg/credentials"
	"github.com/joe/remotefs/pkg/fileops"
	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/joe/remotefs/pkg/metrics"
	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/throttle"
)

const metricsShutdownTimeout = 5 * time.Second

// App is the object graph one command runs against.
type App struct {
	Logger       *logrus.Logger
	Orchestrator *fileops.Orchestrator
	SMB          *filesystem.SMBClient
	Throttle     *throttle.Manager
	Registry     *prometheus.Registry

	pools []*pool.Pool
}

// Build wires every component the flags in cfg describe. Logs go to logOut.
func Build(cfg *Config, logOut io.Writer) (*App, error) {
	logger := logrus.New()
	logger.SetOutput(logOut)
	logger.SetLevel(cfg.LogLevel.Level())
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	store, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}

	sftpDialer, err := newSFTPDialer(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	set := metrics.NewSet(registry)

	manager := throttle.New(throttle.WithLogger(logger), throttle.WithMetrics(set.Throttle))
	smbPool := pool.New(filesystem.NewSMBDialer(), pool.WithLogger(logger), pool.WithMetrics(set.Pool.For("smb")))
	sftpPool := pool.New(sftpDialer, pool.WithLogger(logger), pool.WithMetrics(set.Pool.For("sftp")))
	resolver := filesystem.NewResolver(store)

	opts := []filesystem.Option{
		filesystem.WithThrottle(manager),
		filesystem.WithLogger(logger),
		filesystem.WithTimeouts(cfg.Timeouts()),
	}

	smb := filesystem.NewSMBClient(resolver, smbPool, opts...)
	clients := filesystem.NewClients(
		smb,
		filesystem.NewSFTPClient(resolver, sftpPool, opts...),
		filesystem.NewFTPClient(resolver, opts...),
	)

	return &App{
		Logger:       logger,
		Orchestrator: fileops.New(clients, fileops.WithLogger(logger), fileops.WithMetrics(set.Operations)),
		SMB:          smb,
		Throttle:     manager,
		Registry:     registry,
		pools:        []*pool.Pool{smbPool, sftpPool},
	}, nil
}

// Close drops every pooled session.
func (a *App) Close() {
	for _, p := range a.pools {
		p.Clear()
	}
}

// ServeMetrics serves the registry on addr until ctx is done. The returned
// channel yields the server's exit error once and is then closed.
func (a *App) ServeMetrics(ctx context.Context, addr string) (<-chan error, error) {
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           metrics.Handler(a.Registry),
		ReadHeaderTimeout: metricsShutdownTimeout,
	}

	done := make(chan error, 1)

	go func() {
		defer close(done)

		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- err
		}
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	a.Logger.WithField("addr", listener.Addr().String()).Info("serving metrics")

	return done, nil
}

// loadCredentials reads the credentials file, if any, and installs --user
// as the fallback for endpoints no entry matches.
func loadCredentials(cfg *Config) (*credentials.MemoryStore, error) {
	store := credentials.NewMemoryStore()

	if cfg.Credentials != "" {
		var err error

		store, err = credentials.LoadFile(cfg.Credentials)
		if err != nil {
			return nil, err //nolint:wrapcheck // LoadFile names the file
		}
	}

	if cfg.User != "" {
		store.SetFallback(credentials.Credentials{Username: cfg.User, Password: cfg.Password})
	}

	return store, nil
}

func newSFTPDialer(cfg *Config) (*filesystem.SFTPDialer, error) {
	var opts []filesystem.SFTPDialerOption

	if cfg.KeyDir != "" {
		opts = append(opts, filesystem.WithKeyDir(cfg.KeyDir))
	}

	if cfg.KnownHosts != "" {
		callback, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", cfg.KnownHosts, err)
		}

		opts = append(opts, filesystem.WithHostKeyCallback(callback))
	}

	return filesystem.NewSFTPDialer(opts...), nil
}
