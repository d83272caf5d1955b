// Package server exposes the transceiver's user controls over HTTP and
// keeps a short history of the events it has delivered.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/grandcat/zeroconf"
	"github.com/julienschmidt/httprouter"
	"github.com/norasector/omnihack/pkg/omnihack"
	"github.com/norasector/omnihack/pkg/omnihack/event"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const mdnsService = "_omnihack._tcp"

// Controller is the part of the transceiver the API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Wait() error
	Toggle(ctx context.Context) (omnihack.State, error)
	State() omnihack.State
	Topology() omnihack.Topology
	SetMonitorMode(on bool)
	SetSecret(secret uint32)
	SetSeqno(seqno uint8)
	StartStatusExchange()
}

// Entry is one delivered event as reported by GET /v1/events.
type Entry struct {
	Seq     uint64    `json:"seq"`
	Kind    string    `json:"kind"`
	Payload string    `json:"payload"`
	Time    time.Time `json:"time"`
}

type Server struct {
	ctrl      Controller
	jwtSecret []byte
	instance  string
	logger    zerolog.Logger

	mu      sync.RWMutex
	history []Entry
	maxHist int
	nextSeq uint64
	monitor bool

	// lifetime of paths started through the API
	baseCtx context.Context
}

type Option func(*Server)

// WithJWTSecret requires an HS256 bearer token signed with secret on every
// request.
func WithJWTSecret(secret string) Option {
	return func(s *Server) {
		s.jwtSecret = []byte(secret)
	}
}

// WithMDNS advertises the API under instance when Run is called.
func WithMDNS(instance string) Option {
	return func(s *Server) {
		s.instance = instance
	}
}

func WithHistory(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxHist = n
		}
	}
}

// WithMonitor records the monitor mode the transceiver was started with.
func WithMonitor(on bool) Option {
	return func(s *Server) {
		s.monitor = on
	}
}

func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:    ctrl,
		maxHist: 256,
		logger:  log.Logger.With().Str("component", "api").Logger(),
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) OnEvent(ev event.Event)  { s.record(ev) }
func (s *Server) OnData(payload string)   { s.record(event.Data(payload)) }
func (s *Server) OnStatus(payload string) { s.record(event.Status(payload)) }
func (s *Server) OnFault(payload string)  { s.record(event.Fault(payload)) }

func (s *Server) record(ev event.Event) {
	s.mu.Lock()
	s.nextSeq++
	s.history = append(s.history, Entry{Seq: s.nextSeq, Kind: ev.Kind.String(), Payload: ev.Payload, Time: ev.Time})
	if len(s.history) > s.maxHist {
		s.history = append(s.history[:0], s.history[len(s.history)-s.maxHist:]...)
	}
	s.mu.Unlock()
}

// Events returns the remembered events with a sequence number above since.
func (s *Server) Events(since uint64) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.history))
	for _, e := range s.history {
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.POST("/v1/start", s.handleStart)
	router.POST("/v1/stop", s.handleStop)
	router.POST("/v1/toggle", s.handleToggle)
	router.POST("/v1/status", s.handleStatus)
	router.PUT("/v1/monitor", s.handleMonitor)
	router.PUT("/v1/secret", s.handleSecret)
	router.PUT("/v1/seqno", s.handleSeqno)
	router.GET("/v1/state", s.handleState)
	router.GET("/v1/events", s.handleEvents)

	if len(s.jwtSecret) == 0 {
		return router
	}
	return s.authenticate(router)
}

// Run serves on listen until ctx is done.
func (s *Server) Run(ctx context.Context, listen string) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if s.instance != "" {
		port := ln.Addr().(*net.TCPAddr).Port
		mdns, err := zeroconf.Register(s.instance, mdnsService, "local.", port, []string{"path=/v1"}, nil)
		if err != nil {
			s.logger.Warn().Err(err).Msg("mdns registration failed")
		} else {
			defer mdns.Shutdown()
			s.logger.Info().Str("instance", s.instance).Int("port", port).Msg("advertising over mdns")
		}
	}

	srv := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("control api listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	keyfunc := func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw := strings.TrimPrefix(header, "Bearer ")
		if header == "" || raw == header {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		token, err := jwt.ParseWithClaims(raw, &jwt.MapClaims{}, keyfunc)
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type stateResponse struct {
	State    string `json:"state"`
	Topology string `json:"topology"`
	Monitor  bool   `json:"monitor"`
}

type valueRequest struct {
	Value string `json:"value"`
}

type monitorRequest struct {
	On bool `json:"on"`
}

func (s *Server) runCtx() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}

func (s *Server) writeState(w http.ResponseWriter) {
	s.mu.RLock()
	monitor := s.monitor
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, stateResponse{
		State:    s.ctrl.State().String(),
		Topology: s.ctrl.Topology().String(),
		Monitor:  monitor,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.ctrl.Start(s.runCtx()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.ctrl.Stop(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err := s.ctrl.Wait(); err != nil {
		s.logger.Warn().Err(err).Msg("signal path ended with error")
	}
	s.writeState(w)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if _, err := s.ctrl.Toggle(s.runCtx()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.ctrl.StartStatusExchange()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req monitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.ctrl.SetMonitorMode(req.On)
	s.mu.Lock()
	s.monitor = req.On
	s.mu.Unlock()
	s.writeState(w)
}

func (s *Server) handleSecret(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	secret, err := omnihack.ParseSecret(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.ctrl.SetSecret(secret)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSeqno(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	seqno, err := omnihack.ParseSeqno(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.ctrl.SetSeqno(seqno)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeState(w)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		since = n
	}
	writeJSON(w, http.StatusOK, s.Events(since))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
