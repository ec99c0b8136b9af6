// Package server exposes the controller over HTTP: an embedded web page,
// a websocket pushing live state, and a small JSON control API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/shaunagostinho/adacon/internal/adacom"
	"github.com/shaunagostinho/adacon/internal/control"
)

// requestTimeout bounds how long an API call waits for the device.
const requestTimeout = 30 * time.Second

// Server serves the web UI and API and broadcasts state to WebSocket clients.
type Server struct {
	cfg   *Config
	ctrl  *control.Controller
	webFS fs.FS
	log   zerolog.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	State  *control.Snapshot `json:"state,omitempty"`
	Config *control.Settings `json:"config,omitempty"`
	Stamp  int64             `json:"stamp"` // Unix ms
}

// Intent is a dashboard action sent by a WebSocket client.
type Intent struct {
	Action  string `json:"action"`
	Channel int    `json:"channel,omitempty"` // 1-based, for "select"
}

// New creates a new Server.
func New(cfg *Config, ctrl *control.Controller, webFS fs.FS, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		webFS:   webFS,
		log:     logger.With().Str("component", "server").Logger(),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/connect", s.handleConnect)
	mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/channels", s.handleChannels)
	mux.HandleFunc("/api/channels/", s.handleChannel)
	mux.HandleFunc("/api/config", s.handleConfig)
	return mux
}

// Run starts the HTTP server and the state broadcaster. It returns when ctx
// is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	go s.broadcastLoop(ctx)

	addr := s.cfg.Listen()
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info().Msgf("listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// broadcastLoop forwards every controller snapshot to the clients.
func (s *Server) broadcastLoop(ctx context.Context) {
	updates, cancel := s.ctrl.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			s.broadcast(Frame{State: &snap, Stamp: time.Now().UnixMilli()})
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	s.log.Info().Int("clients", n).Msg("websocket client connected")

	// Initial state + settings
	first := Frame{Stamp: time.Now().UnixMilli()}
	settings := s.cfg.ControlSettings()
	first.Config = &settings
	if snap, err := s.ctrl.Snapshot(r.Context()); err == nil {
		first.State = &snap
	}
	if data, err := json.Marshal(first); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine: dashboard intents
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			s.log.Info().Int("clients", n).Msg("websocket client disconnected")
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var in Intent
			if err := json.Unmarshal(msg, &in); err != nil {
				s.log.Debug().Err(err).Msg("ignoring malformed websocket message")
				continue
			}
			if !s.dispatchIntent(in) {
				s.log.Debug().Str("action", in.Action).Msg("ignoring unknown action")
			}
		}
	}()
}

// dispatchIntent maps a dashboard action onto the controller. It reports
// whether the action is known.
func (s *Server) dispatchIntent(in Intent) bool {
	switch in.Action {
	case "connect":
		s.ctrl.Connect()
	case "disconnect":
		s.ctrl.Disconnect()
	case "select":
		s.ctrl.Select(in.Channel - 1)
	case "shift_left":
		s.ctrl.Shift(-1)
	case "shift_right":
		s.ctrl.Shift(1)
	case "step_up":
		s.ctrl.StepSelected(true)
	case "step_down":
		s.ctrl.StepSelected(false)
	case "max":
		s.ctrl.SelectedToMax()
	case "min":
		s.ctrl.SelectedToMin()
	case "all_max":
		s.ctrl.AllToMax()
	case "all_min":
		s.ctrl.AllToMin()
	case "solo":
		s.ctrl.Solo()
	case "solo_step":
		s.ctrl.SoloStep()
	default:
		return false
	}
	return true
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap, err := s.ctrl.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := s.ctrl.ConnectWait(ctx); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeState(ctx, w)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.ctrl.DisconnectWait(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeState(r.Context(), w)
}

type channelsBody struct {
	Values []float64 `json:"values"`
}

type channelBody struct {
	Channel int      `json:"channel"` // 1-based
	Value   *float64 `json:"value"`
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snap, err := s.ctrl.Snapshot(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		if snap.State != adacom.StateConnected {
			s.writeError(w, adacom.ErrNotConnected)
			return
		}
		writeJSON(w, channelsBody{Values: snap.Attenuations})

	case http.MethodPost:
		var body channelsBody
		if err := decodeJSON(r.Body, &body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		if err := s.ctrl.SetAll(ctx, body.Values); err != nil {
			s.writeError(w, err)
			return
		}
		snap, err := s.ctrl.Snapshot(ctx)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, channelsBody{Values: snap.Attenuations})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/channels/"))
	if err != nil {
		http.Error(w, "bad channel number", http.StatusBadRequest)
		return
	}
	ch := n - 1

	switch r.Method {
	case http.MethodGet:
		snap, err := s.ctrl.Snapshot(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		if snap.State != adacom.StateConnected {
			s.writeError(w, adacom.ErrNotConnected)
			return
		}
		if ch < 0 || ch >= len(snap.Attenuations) {
			s.writeError(w, adacom.ErrInvalidChannel)
			return
		}
		v := snap.Attenuations[ch]
		writeJSON(w, channelBody{Channel: n, Value: &v})

	case http.MethodPost:
		var body channelBody
		if err := decodeJSON(r.Body, &body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.Value == nil {
			http.Error(w, "missing value", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		v, err := s.ctrl.SetChannel(ctx, ch, *body.Value)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, channelBody{Channel: n, Value: &v})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.Warn().Err(err).Msg("config save failed")
		}
		// Only the control section applies at runtime; device and logging
		// changes take effect on restart.
		settings := s.cfg.ControlSettings()
		if err := s.ctrl.SetSettings(settings); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.broadcast(Frame{Config: &settings, Stamp: time.Now().UnixMilli()})

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeState(ctx context.Context, w http.ResponseWriter) {
	snap, err := s.ctrl.Snapshot(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, snap)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, adacom.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, adacom.ErrNotConnected),
		errors.Is(err, adacom.ErrDeviceNotAvailable),
		errors.Is(err, adacom.ErrDeviceNotFound):
		return http.StatusServiceUnavailable
	case errors.Is(err, adacom.ErrInvalidChannel),
		errors.Is(err, adacom.ErrInvalidAttenuation),
		errors.Is(err, adacom.ErrChannelCount):
		return http.StatusBadRequest
	case errors.Is(err, adacom.ErrCommandTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	s.log.Debug().Err(err).Int("status", code).Msg("request failed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
