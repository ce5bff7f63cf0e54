package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"consensus-simulator/consensus/fork"
	"consensus-simulator/consensus/pos"
	"consensus-simulator/consensus/pow"
)

// Engines - экземпляры симуляторов, которые обслуживает API. Сервер
// не заменяет их, маршруты reset вызывают Reset у того же экземпляра.
type Engines struct {
	PoW  *pow.PoW
	PoS  *pos.PoS
	Fork *fork.Resolver
}

// Options - настройки HTTP-сервера.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Gatherer обслуживает /metrics. nil отключает маршрут.
	Gatherer prometheus.Gatherer
}

// Server - HTTP API сервер
type Server struct {
	engines Engines
	opts    Options
	mux     *http.ServeMux
}

// NewServer создает новый API сервер
func NewServer(engines Engines, opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		engines: engines,
		opts:    opts,
		mux:     http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes настраивает все HTTP-маршруты
func (s *Server) setupRoutes() {
	// PoW
	s.mux.HandleFunc("POST /api/pow/mine", s.handlePoWMine)
	s.mux.HandleFunc("GET /api/pow/blockchain", s.handlePoWBlockchain)
	s.mux.HandleFunc("GET /api/pow/miners", s.handlePoWMiners)
	s.mux.HandleFunc("POST /api/pow/add-miner", s.handlePoWAddMiner)
	s.mux.HandleFunc("POST /api/pow/reset", s.handlePoWReset)

	// PoS
	s.mux.HandleFunc("POST /api/pos/validate", s.handlePoSValidate)
	s.mux.HandleFunc("POST /api/pos/validate-multiple", s.handlePoSValidateMultiple)
	s.mux.HandleFunc("GET /api/pos/validators", s.handlePoSValidators)
	s.mux.HandleFunc("POST /api/pos/add-validator", s.handlePoSAddValidator)
	s.mux.HandleFunc("POST /api/pos/reset", s.handlePoSReset)

	// Разрешение форков
	s.mux.HandleFunc("POST /api/fork/create", s.handleForkCreate)
	s.mux.HandleFunc("POST /api/fork/resolve", s.handleForkResolve)
	s.mux.HandleFunc("GET /api/fork/chains", s.handleForkChains)
	s.mux.HandleFunc("GET /api/fork/history", s.handleForkHistory)
	s.mux.HandleFunc("GET /api/fork/tree", s.handleForkTree)
	s.mux.HandleFunc("POST /api/fork/reset", s.handleForkReset)

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, nil, "ok")
	})
	if s.opts.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler возвращает маршруты с CORS и логированием запросов.
func (s *Server) Handler() http.Handler {
	return withCORS(withLogging(s.mux))
}

// Run обслуживает HTTP до отмены ctx, затем корректно завершается.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Запуск HTTP API сервера", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "HTTP server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	slog.Info("Остановка HTTP API сервера")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown failed")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "HTTP server failed")
	}
	return nil
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("HTTP запрос", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
