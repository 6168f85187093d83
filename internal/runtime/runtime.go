package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/whispertype/whisperd/internal/attribution"
	"github.com/whispertype/whisperd/internal/bus"
	"github.com/whispertype/whisperd/internal/capability"
	"github.com/whispertype/whisperd/internal/config"
	"github.com/whispertype/whisperd/internal/diarize"
	"github.com/whispertype/whisperd/internal/eventstore"
	"github.com/whispertype/whisperd/internal/models"
	"github.com/whispertype/whisperd/internal/natsserver"
	pluginsvc "github.com/whispertype/whisperd/internal/plugins/service"
	"github.com/whispertype/whisperd/internal/refine"
	"github.com/whispertype/whisperd/internal/stt"
)

// Runtime owns the daemon's service graph: embedded broker, bus client,
// session store, and the transcription pipeline services.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	busClient   *bus.Client
	natsServer  *natsserver.EmbeddedServer
	store       *eventstore.Store
	registry    *capability.Registry
	recognizer  stt.Recognizer
	sttService  *stt.Service
	diarizeSvc  *diarize.Service
	attribution *attribution.Service
	refineSvc   *refine.Service
	pluginsSvc  *pluginsvc.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up the full pipeline and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	ns, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded nats server: %w", err)
	}
	r.natsServer = ns

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("connect message bus: %w", err)
	}
	r.busClient = busClient

	store, err := eventstore.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	r.store = store

	nodeCfg := r.cfg.Node
	nodeCfg.Capabilities = capability.FromPipeline(&r.cfg)
	registry, err := capability.NewRegistry(ctx, nodeCfg, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("start capability registry: %w", err)
	}
	r.registry = registry

	if err := r.startPipeline(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.shutdownServices(shutdownCtx)

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) startPipeline(ctx context.Context) error {
	recognizer, err := r.buildRecognizer(ctx)
	if err != nil {
		return err
	}
	r.recognizer = recognizer

	r.sttService = stt.NewService(ctx, r.cfg.STT, r.busClient, recognizer)
	if err := r.sttService.Start(); err != nil {
		return fmt.Errorf("start stt service: %w", err)
	}

	if r.cfg.Diarize.Enabled {
		diarizer, err := r.buildDiarizer()
		if err != nil {
			return err
		}
		r.diarizeSvc = diarize.NewService(ctx, r.cfg.Diarize, r.busClient, diarizer)
		if err := r.diarizeSvc.Start(); err != nil {
			return fmt.Errorf("start diarize service: %w", err)
		}
	}

	r.attribution = attribution.NewService(ctx, r.cfg.Attribution, r.busClient, r.store, r.cfg.Diarize.Enabled, r.logger)
	if err := r.attribution.Start(); err != nil {
		return fmt.Errorf("start attribution service: %w", err)
	}

	if r.cfg.Refine.Enabled {
		refiner, err := r.buildRefiner()
		if err != nil {
			return err
		}
		r.refineSvc = refine.NewService(ctx, r.cfg.Refine, r.busClient, refiner, r.logger)
		if err := r.refineSvc.Start(); err != nil {
			return fmt.Errorf("start refine service: %w", err)
		}
	}

	plugins, err := pluginsvc.New(ctx, r.cfg.Plugins, r.busClient, r.store, r.logger)
	if err != nil {
		return fmt.Errorf("start plugins service: %w", err)
	}
	r.pluginsSvc = plugins

	return nil
}

func (r *Runtime) buildRecognizer(ctx context.Context) (stt.Recognizer, error) {
	switch r.cfg.STT.Mode {
	case "native":
		manager, err := models.NewManager(r.cfg.Models, r.logger)
		if err != nil {
			return nil, fmt.Errorf("init model manager: %w", err)
		}
		modelPath, err := manager.Resolve(ctx, r.cfg.Models.Model, r.cfg.Models.AutoDownload)
		if err != nil {
			return nil, fmt.Errorf("resolve model %q: %w", r.cfg.Models.Model, err)
		}
		return stt.NewNativeRecognizer(r.cfg.STT, modelPath)
	case "exec":
		return stt.NewExecRecognizer(r.cfg.STT)
	case "mock":
		return stt.NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", r.cfg.STT.Mode)
	}
}

func (r *Runtime) buildDiarizer() (diarize.Diarizer, error) {
	switch r.cfg.Diarize.Mode {
	case "exec":
		return diarize.NewExecDiarizer(r.cfg.Diarize)
	case "mock":
		return diarize.NewMockDiarizer(), nil
	default:
		return nil, fmt.Errorf("unsupported diarize mode %q", r.cfg.Diarize.Mode)
	}
}

func (r *Runtime) buildRefiner() (refine.Refiner, error) {
	switch r.cfg.Refine.Mode {
	case "ollama":
		return refine.NewOllamaRefiner(r.cfg.Refine.Endpoint, r.cfg.Refine.Model), nil
	case "exec":
		return refine.NewExecRefiner(r.cfg.Refine.Command)
	case "mock":
		return refine.NewMockRefiner(), nil
	default:
		return nil, fmt.Errorf("unsupported refine mode %q", r.cfg.Refine.Mode)
	}
}

// shutdownServices tears the pipeline down in reverse dependency order.
func (r *Runtime) shutdownServices(ctx context.Context) {
	if r.pluginsSvc != nil {
		r.pluginsSvc.Close()
	}
	if r.refineSvc != nil {
		r.refineSvc.Close()
	}
	if r.attribution != nil {
		r.attribution.Close()
	}
	if r.diarizeSvc != nil {
		r.diarizeSvc.Close()
	}
	if r.sttService != nil {
		r.sttService.Close()
	}
	if closer, ok := r.recognizer.(interface{ Close() }); ok {
		closer.Close()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("session store close error", slog.String("error", err.Error()))
		}
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.natsServer != nil {
		r.natsServer.Shutdown()
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.servicesHealthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) servicesHealthy() bool {
	if r.busClient == nil || !r.busClient.Healthy() {
		return false
	}
	if r.sttService != nil && !r.sttService.Healthy() {
		return false
	}
	if r.diarizeSvc != nil && !r.diarizeSvc.Healthy() {
		return false
	}
	if r.attribution != nil && !r.attribution.Healthy() {
		return false
	}
	if r.refineSvc != nil && !r.refineSvc.Healthy() {
		return false
	}
	if r.pluginsSvc != nil && !r.pluginsSvc.Healthy() {
		return false
	}
	return true
}
