package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"pixsqueeze/internal/compressor"
	"pixsqueeze/internal/config"
	"pixsqueeze/internal/logger"
	"pixsqueeze/internal/media"
	"pixsqueeze/internal/memory"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

//go:embed static/index.html
var indexHTML []byte

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	session  *compressor.Session
	batch    *compressor.BatchOrchestrator
	limits   compressor.Limits
	defaults media.Request

	// Background batches outlive the request that started them
	ctx    context.Context
	cancel context.CancelFunc

	batchMutex sync.RWMutex
	batches    map[string]*batchJob
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, session *compressor.Session, batch *compressor.BatchOrchestrator, log *logrus.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	defaults, err := cfg.Request()
	if err != nil {
		log.WithError(err).Warn("Invalid compression defaults, using built-in values")
		defaults = media.DefaultRequest()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Local tool, any origin
			},
		},
		session:  session,
		batch:    batch,
		limits:   cfg.CompressorLimits(),
		defaults: defaults,
		ctx:      ctx,
		cancel:   cancel,
		batches:  make(map[string]*batchJob),
	}

	// Guard-driven frees also drop finished batch outputs
	session.RegisterReleaser(memory.ReleaserFunc(func() { s.releaseBatches(false) }))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.metricsMiddleware)

	// API routes
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/preview", s.handlePreview).Methods("POST")
	api.HandleFunc("/result", s.handleResult).Methods("GET")
	api.HandleFunc("/result/download", s.handleResultDownload).Methods("GET")
	api.HandleFunc("/result/crop", s.handleCrop).Methods("POST")
	api.HandleFunc("/batch", s.handleBatchStart).Methods("POST")
	api.HandleFunc("/batch/{id}", s.handleBatchStatus).Methods("GET")
	api.HandleFunc("/batch/{id}", s.handleBatchDelete).Methods("DELETE")
	api.HandleFunc("/batch/{id}/items/{index:[0-9]+}/download", s.handleBatchItemDownload).Methods("GET")
	api.HandleFunc("/reset", s.handleReset).Methods("POST")
	api.HandleFunc("/memory/free", s.handleFreeMemory).Methods("POST")

	s.router.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Main page
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://%s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// Writes are serialized; a connection allows one writer at a time
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeErrorData(w, message, statusCode, nil)
}

func (s *Server) writeErrorData(w http.ResponseWriter, message string, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
		Data:    data,
	})
}

// writeFailure maps a pipeline error to a status code and its user message.
func (s *Server) writeFailure(w http.ResponseWriter, err error, data interface{}) {
	s.writeErrorData(w, media.UserMessage(err), statusFor(err), data)
}

func statusFor(err error) int {
	switch {
	case media.IsValidation(err):
		return http.StatusBadRequest
	case media.IsOutOfMemory(err):
		return http.StatusServiceUnavailable
	case media.IsDecode(err), media.IsEncode(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
