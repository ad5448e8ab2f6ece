package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/harrylevesque/rtdevice/internal"
	"github.com/harrylevesque/rtdevice/internal/api"
	"github.com/harrylevesque/rtdevice/internal/auth"
	"github.com/harrylevesque/rtdevice/internal/files"
	"github.com/harrylevesque/rtdevice/internal/models"
	"github.com/harrylevesque/rtdevice/internal/realtime"
	"github.com/harrylevesque/rtdevice/internal/utils"
)

func main() {
	configFlag := flag.String("config", "", "Config file (default $RTDEVICE_CONFIG, then <data dir>/rtdevice.json)")
	listenFlag := flag.String("listen", "", "Override control API listen address")
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = utils.EnvOrDefault("RTDEVICE_CONFIG", filepath.Join(utils.GetDataDir(), internal.DefaultConfigFile))
	}
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if *listenFlag != "" {
		cfg.ListenAddr = *listenFlag
	}
	if *debugFlag {
		cfg.Debug = true
	}

	logger, err := openLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.LogFile != "" {
		go logger.RotateDaily(ctx.Done())
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Errorf("%v", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openLogger(cfg internal.Config) (*utils.Logger, error) {
	var logger *utils.Logger
	if cfg.LogFile != "" {
		l, err := utils.NewLogger(cfg.LogFile)
		if err != nil {
			return nil, err
		}
		logger = l
	} else {
		logger = utils.NewWriterLogger(os.Stderr)
	}
	logger.SetDebug(cfg.Debug)
	return logger, nil
}

func run(ctx context.Context, cfg internal.Config, logger *utils.Logger) error {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = utils.GetDataDir()
	}
	hwid := utils.HardwareID()
	logger.Infof("hardware id %s, data dir %s", hwid, dataDir)

	key, err := files.StoreKey(dataDir)
	if err != nil {
		return fmt.Errorf("identity store key: %w", err)
	}
	store, err := files.NewIdentityStore(dataDir, key)
	if err != nil {
		return err
	}
	id, err := loadIdentity(cfg, store, logger)
	if err != nil {
		return err
	}
	defer id.Wipe()

	gw, err := resolveGateway(ctx, id, store, logger)
	if err != nil {
		return err
	}
	rcfg, err := realtime.ConfigFromGateway(gw, id).
		Path(cfg.Realtime.Path).
		KeepAlive(cfg.Realtime.KeepAlive, cfg.Realtime.KeepAliveIntervalS).
		ReconnectInterval(cfg.Realtime.ReconnectInterval()).
		Build()
	gw.Destroy()
	if err != nil {
		return fmt.Errorf("realtime config: %w", err)
	}

	client, err := realtime.New(rcfg, nil, logger)
	rcfg.APIKey.Wipe()
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.BindIdentity(id); err != nil {
		return err
	}
	client.OnMessage(realtime.NewDispatcher(eventLogger(logger), logger).Feed)
	failures := make(chan error, 1)
	client.OnFailure(func(err error) {
		select {
		case failures <- err:
		default:
		}
	})

	stopLoop := make(chan struct{})
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		for {
			select {
			case <-stopLoop:
				return
			default:
			}
			if err := client.RunEventLoop(cfg.Realtime.ServiceTimeout()); err != nil {
				logger.Errorf("event loop: %v", err)
				return
			}
		}
	}()

	if err := client.Connect(); err != nil {
		close(stopLoop)
		<-loopDone
		return err
	}
	supCtx, stopSupervisor := context.WithCancel(ctx)
	defer stopSupervisor()
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		supervise(supCtx, client, failures, cfg.Realtime.ReconnectInterval(), logger)
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(client, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("control API listening on %s", cfg.ListenAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("control API: %v", err)
		}
	}

	logger.Info("shutting down")
	stopSupervisor()
	<-supDone
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	if err := client.Disconnect(); err == nil {
		waitDisconnected(shutdownCtx, client)
	}
	close(stopLoop)
	<-loopDone
	client.Close()
	return nil
}

// loadIdentity prefers the stored identity, which carries any device secret
// obtained earlier, over provisioning data.
func loadIdentity(cfg internal.Config, store *files.IdentityStore, logger *utils.Logger) (*models.DeviceIdentity, error) {
	id, err := store.Load()
	switch {
	case err == nil:
		logger.Infof("loaded identity for %s/%s", id.ProductKey, id.DeviceName)
	case errors.Is(err, os.ErrNotExist):
		if cfg.IdentityFile != "" {
			if id, err = files.ReadIdentityFile(cfg.IdentityFile); err != nil {
				return nil, fmt.Errorf("identity file: %w", err)
			}
		} else {
			id = cfg.Identity.Clone()
		}
	default:
		return nil, fmt.Errorf("identity store: %w", err)
	}
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	return id, nil
}

func resolveGateway(ctx context.Context, id *models.DeviceIdentity, store *files.IdentityStore, logger *utils.Logger) (*auth.GatewayConfig, error) {
	platform, err := auth.NewClient(id.TLS, logger)
	if err != nil {
		return nil, err
	}
	registered := id.NeedsRegistration()
	gw, err := platform.GetLLMConfig(ctx, id)
	// Persist a freshly issued secret even if the config fetch failed: the
	// platform will not issue it twice.
	if registered && id.DeviceSecret.Present() {
		if serr := store.Save(id); serr != nil {
			logger.Errorf("saving identity: %v", serr)
		} else {
			logger.Infof("identity saved to %s", store.Path())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("gateway config: %w", err)
	}
	return gw, nil
}

// supervise reconnects after the client gives up, waiting interval first.
func supervise(ctx context.Context, client *realtime.Client, failures <-chan error, interval time.Duration, logger *utils.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-failures:
			if !errors.Is(err, utils.ErrConnectFailed) {
				continue
			}
			logger.Warnf("session down, retrying in %s", interval)
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
			if err := client.Connect(); err != nil {
				logger.Errorf("reconnect: %v", err)
			}
		}
	}
}

func waitDisconnected(ctx context.Context, client *realtime.Client) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for client.State() != realtime.StateDisconnected {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func eventLogger(logger *utils.Logger) realtime.Handlers {
	l := logger.With("session")
	return realtime.Handlers{
		Audio:            func(pcm []byte) { l.Debugf("audio delta: %d bytes", len(pcm)) },
		Transcript:       func(text string) { l.Infof("transcript: %s", text) },
		TranscriptDelta:  func(text string) { l.Debugf("transcript delta: %s", text) },
		TranslationDelta: func(text string) { l.Debugf("translation delta: %s", text) },
		ResponseDone:     func() { l.Info("response done") },
		Error:            func(code, msg string) { l.Warnf("gateway error %s: %s", code, msg) },
	}
}
