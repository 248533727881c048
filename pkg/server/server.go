package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/agents"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/memory"
)

// TapTopic is the shared topic every turn's events are mirrored to when the
// server runs on an event router. Process-wide consumers (loggers, metrics)
// subscribe there.
const TapTopic = "events"

// Server is the HTTP surface: a streaming and a blocking query endpoint,
// thread CRUD, and a health check.
type Server struct {
	supervisor *agents.Supervisor
	memory     memory.ThreadStore
	router     *events.EventRouter
	mux        *http.ServeMux
}

type Option func(*Server)

// WithEventRouter streams turns through the router's pubsub instead of a
// direct channel. Each turn publishes to its own topic plus TapTopic.
func WithEventRouter(router *events.EventRouter) Option {
	return func(s *Server) {
		s.router = router
	}
}

func New(supervisor *agents.Supervisor, store memory.ThreadStore, options ...Option) *Server {
	s := &Server{
		supervisor: supervisor,
		memory:     store,
		mux:        http.NewServeMux(),
	}
	for _, o := range options {
		o(s)
	}
	s.mux.HandleFunc("/query/stream", s.handleQueryStream)
	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/threads", s.handleThreads)
	s.mux.HandleFunc("/threads/", s.handleThreadByID)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type queryRequest struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id,omitempty"`
}

type queryResponse struct {
	Answer   string `json:"answer"`
	ThreadID string `json:"thread_id,omitempty"`
}

// handleQueryStream runs one turn and streams its events as SSE, flushing
// after every frame.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	if s.router != nil {
		s.streamViaRouter(w, r, req, flusher)
		return
	}

	writeSSEHeaders(w, flusher)

	sink := events.NewChannelSink(16)
	go func() {
		defer sink.Close()
		if _, err := s.supervisor.RunTurnWithSink(r.Context(), req.Query, req.ThreadID, sink); err != nil {
			log.Warn().Err(err).Msg("turn failed")
		}
	}()

	for e := range sink.Ch() {
		if err := events.WriteSSE(w, e); err != nil {
			log.Debug().Err(err).Msg("client went away mid-stream")
			return
		}
		flusher.Flush()
	}
}

// streamViaRouter runs the turn behind the watermill pubsub: the supervisor
// publishes through a PublisherManager onto a per-turn topic, and the handler
// replays the subscription as SSE frames. Messages are acked only after their
// frame is flushed, so the sequence-numbered publish order is exactly the
// order on the wire.
func (s *Server) streamViaRouter(w http.ResponseWriter, r *http.Request, req queryRequest, flusher http.Flusher) {
	topic := "turn-" + uuid.New().String()
	msgs, err := s.router.Subscriber.Subscribe(r.Context(), topic)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.Wrap(err, "subscribe turn topic"))
		return
	}

	writeSSEHeaders(w, flusher)

	manager := events.NewPublisherManager()
	manager.SubscribePublisher(topic, s.router.Publisher)
	manager.SubscribePublisher(TapTopic, s.router.Publisher)

	go func() {
		if _, err := s.supervisor.RunTurnWithSink(r.Context(), req.Query, req.ThreadID, manager); err != nil {
			log.Warn().Err(err).Msg("turn failed")
		}
	}()

	for msg := range msgs {
		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("undecodable event on turn topic")
			msg.Ack()
			continue
		}
		if err := events.WriteSSE(w, e); err != nil {
			log.Debug().Err(err).Msg("client went away mid-stream")
			msg.Ack()
			return
		}
		flusher.Flush()
		msg.Ack()
		if e.Type() == events.EventTypeDone {
			return
		}
	}
}

func writeSSEHeaders(w http.ResponseWriter, flusher http.Flusher) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
}

// handleQuery runs one turn to completion and returns the answer as JSON.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	state, err := s.supervisor.RunTurn(r.Context(), req.Query, req.ThreadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Answer: state.Answer, ThreadID: req.ThreadID})
}

type createThreadRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.memory.List())
	case http.MethodPost:
		var req createThreadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode request"))
			return
		}
		id, err := s.memory.NewThread(req.Title)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleThreadByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/threads/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		thread, err := s.memory.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, thread)
	case http.MethodDelete:
		if err := s.memory.Delete(id); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode request"))
		return req, false
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, errors.New("query must not be empty"))
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}
