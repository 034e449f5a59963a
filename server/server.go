// Package server exposes the dataset workflows over HTTP and streams job
// progress over a WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/xhad/synthdata/internal/types"
	"github.com/xhad/synthdata/pkg/config"
	"github.com/xhad/synthdata/pkg/workflow"
)

// Operations accepted by the HTTP API and as WebSocket message types.
const (
	OpIngest = "ingest"
	OpCreate = "create"
	OpCurate = "curate"
	OpSaveAs = "save-as"
)

// Message is the WebSocket envelope. Clients send an operation in Type, the
// input path in Content and a JobRequest in Data. The server answers with
// status, progress, result and error messages tagged with the job id.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	JobID   string      `json:"job_id,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type incoming struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// JobRequest carries the parameters of one workflow run.
type JobRequest struct {
	Input              string   `json:"input"`
	OutputDir          string   `json:"output_dir,omitempty"`
	Type               string   `json:"type,omitempty"`
	Num                int      `json:"num,omitempty"`
	IncludeSimpleSteps bool     `json:"include_simple_steps,omitempty"`
	Threshold          *float64 `json:"threshold,omitempty"`
	Format             string   `json:"format,omitempty"`
	Storage            string   `json:"storage,omitempty"`
}

type ServerConfig struct {
	Config    *config.Config
	Client    types.LLMClient
	Parser    types.Parser
	OpenStore func(ctx context.Context) (types.DatasetStore, error)
	Logger    zerolog.Logger
}

type Server struct {
	config   ServerConfig
	router   *mux.Router
	upgrader websocket.Upgrader
}

func NewWithConfig(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("server requires a configuration")
	}

	s := &Server{config: cfg, router: mux.NewRouter()}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.router.Use(s.withLogger)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/{op:ingest|create|curate|save-as}", s.handleJob).Methods(http.MethodPost)
	api.HandleFunc("/datasets/{name}", s.handleDataset).Methods(http.MethodGet)

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Config.Server.Host, strconv.Itoa(s.config.Config.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.config.Logger.Info().Str("addr", addr).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// checkOrigin accepts clients that send no Origin, pages served from the
// same host as the request, and pages on the configured listen address.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	listen := s.config.Config.Server
	return strings.EqualFold(u.Host, net.JoinHostPort(listen.Host, strconv.Itoa(listen.Port)))
}

func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := s.config.Logger.With().Str("method", r.Method).Str("path", r.URL.Path).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if s.config.Client != nil {
		status["provider"] = s.config.Client.Provider()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	op := mux.Vars(r)["op"]

	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Input == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "input is required"})
		return
	}

	summary, err := s.run(r.Context(), op, req, nil)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleDataset returns the records stored for a dataset. The optional
// limit query parameter caps how many are returned.
func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	if s.config.OpenStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dataset storage is not configured"})
		return
	}
	st, err := s.config.OpenStore(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("error opening dataset store")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	defer st.Close()

	records, err := st.Query(r.Context(), name, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(records) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "dataset not found: " + name})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// run executes one workflow operation.
func (s *Server) run(ctx context.Context, op string, req JobRequest, onProgress func(workflow.Event)) (workflow.Summary, error) {
	wf, err := workflow.NewWithConfig(workflow.WorkflowConfig{
		Config:     s.config.Config,
		Client:     s.config.Client,
		Parser:     s.config.Parser,
		OpenStore:  s.config.OpenStore,
		OnProgress: onProgress,
	})
	if err != nil {
		return workflow.Summary{}, err
	}

	switch op {
	case OpIngest:
		return wf.Ingest(ctx, req.Input, req.OutputDir)
	case OpCreate:
		return wf.Create(ctx, req.Input, req.OutputDir, workflow.CreateOptions{
			Type:               req.Type,
			Num:                req.Num,
			IncludeSimpleSteps: req.IncludeSimpleSteps,
		})
	case OpCurate:
		threshold := s.config.Config.Curate.Threshold
		if req.Threshold != nil {
			threshold = *req.Threshold
		}
		return wf.Curate(ctx, req.Input, req.OutputDir, threshold)
	case OpSaveAs:
		return wf.SaveAs(ctx, req.Input, req.OutputDir, req.Format, req.Storage)
	default:
		return workflow.Summary{}, fmt.Errorf("unknown operation %q", op)
	}
}

// conn serialises writes to a WebSocket connection shared by jobs.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(logger *zerolog.Logger, msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		logger.Warn().Err(err).Str("type", msg.Type).Msg("error sending message")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	// Jobs outlive the upgrade request but not the connection.
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	defer cancel()

	c := &conn{ws: ws}
	var jobs sync.WaitGroup
	defer jobs.Wait()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("error reading message")
			}
			cancel()
			return
		}

		var msg incoming
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(logger, Message{Type: "error", Content: "invalid message: " + err.Error()})
			continue
		}

		jobs.Add(1)
		go func() {
			defer jobs.Done()
			s.handleMessage(ctx, c, msg)
		}()
	}
}

func (s *Server) handleMessage(ctx context.Context, c *conn, msg incoming) {
	jobID := uuid.New().String()
	logger := zerolog.Ctx(ctx).With().Str("job_id", jobID).Str("op", msg.Type).Logger()
	ctx = logger.WithContext(ctx)

	var req JobRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.send(&logger, Message{Type: "error", JobID: jobID, Content: "invalid job data: " + err.Error()})
			return
		}
	}
	if req.Input == "" {
		req.Input = msg.Content
	}
	if req.Input == "" {
		c.send(&logger, Message{Type: "error", JobID: jobID, Content: "input is required"})
		return
	}

	c.send(&logger, Message{Type: "status", JobID: jobID, Content: fmt.Sprintf("Started %s for %s", msg.Type, req.Input)})

	summary, err := s.run(ctx, msg.Type, req, func(e workflow.Event) {
		c.send(&logger, Message{Type: "progress", JobID: jobID, Content: progressText(e), Data: e})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.send(&logger, Message{Type: "error", JobID: jobID, Content: err.Error()})
		return
	}

	c.send(&logger, Message{
		Type:    "result",
		JobID:   jobID,
		Content: fmt.Sprintf("%d of %d processed successfully", summary.Successful, summary.Total),
		Data:    summary,
	})
}

func progressText(e workflow.Event) string {
	if e.Stage == workflow.StageFetch {
		return "fetched " + e.Source
	}
	if e.Chunks {
		return fmt.Sprintf("%s: %d/%d chunks", e.Source, e.Done, e.Total)
	}
	if e.Source == "" {
		return fmt.Sprintf("%s: %d/%d files", e.Stage, e.Done, e.Total)
	}
	return fmt.Sprintf("%s: processing %s (%d/%d)", e.Stage, e.Source, e.Done+1, e.Total)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
