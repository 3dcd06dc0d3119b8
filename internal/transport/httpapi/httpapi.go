// Package httpapi implements C10's HTTP surface: one net/http.ServeMux
// routing every operation spec §4.10's shared-handler-contract table
// names, following the corpus's bare-ServeMux pattern (no router
// dependency appears in any retrieved go.mod).
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/config"
	"github.com/coopdev/coop/internal/coopsession"
	"github.com/coopdev/coop/internal/gitstat"
	"github.com/coopdev/coop/internal/harness"
	"github.com/coopdev/coop/internal/inputgate"
	"github.com/coopdev/coop/internal/profile"
	"github.com/coopdev/coop/internal/store"
	"github.com/coopdev/coop/internal/termkeys"
	"github.com/coopdev/coop/internal/transport/apierr"
)

// Server wraps one session Loop with HTTP handlers.
type Server struct {
	loop *coopsession.Loop
}

// New builds the ServeMux for loop's session.
func New(loop *coopsession.Loop) *http.ServeMux {
	s := &Server{loop: loop}
	mux := http.NewServeMux()

	// Exempt from auth: health and hook callbacks (they run from inside
	// the PTY, which has no bearer token).
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/hooks/start", s.handleHookStart)
	mux.HandleFunc("POST /api/v1/hooks/stop", s.handleHookStop)
	mux.HandleFunc("POST /api/v1/stop/resolve", s.handleStopResolve)

	auth := func(h http.HandlerFunc) http.HandlerFunc { return s.withAuth(h) }

	mux.HandleFunc("GET /ready", auth(s.handleReady))
	mux.HandleFunc("GET /screen", auth(s.handleScreen))
	mux.HandleFunc("GET /screen/text", auth(s.handleScreenText))
	mux.HandleFunc("GET /output", auth(s.handleOutput))
	mux.HandleFunc("GET /status", auth(s.handleStatus))
	mux.HandleFunc("GET /agent", auth(s.handleAgent))
	mux.HandleFunc("POST /input", auth(s.handleInput))
	mux.HandleFunc("POST /input/raw", auth(s.handleInputRaw))
	mux.HandleFunc("POST /input/keys", auth(s.handleInputKeys))
	mux.HandleFunc("POST /resize", auth(s.handleResize))
	mux.HandleFunc("POST /signal", auth(s.handleSignal))
	mux.HandleFunc("POST /agent/nudge", auth(s.handleNudge))
	mux.HandleFunc("POST /agent/respond", auth(s.handleRespond))
	mux.HandleFunc("POST /shutdown", auth(s.handleShutdown))
	mux.HandleFunc("POST /session/switch", auth(s.handleSwitch))
	mux.HandleFunc("POST /session/profiles", auth(s.handleRegisterProfile))
	mux.HandleFunc("GET /session/profiles", auth(s.handleListProfiles))
	mux.HandleFunc("GET /config/stop", auth(s.handleGetStopConfig))
	mux.HandleFunc("PUT /config/stop", auth(s.handlePutStopConfig))
	mux.HandleFunc("GET /config/start", auth(s.handleGetStartConfig))
	mux.HandleFunc("PUT /config/start", auth(s.handlePutStartConfig))

	return mux
}

// withAuth enforces Authorization: Bearer <token> with constant-time
// comparison, per spec §4.10. Disabled entirely when no token configured.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		want := s.loop.Store.AuthToken()
		if want == "" {
			next(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeErr(w, apierr.New(apierr.Unauthorized, "invalid or missing bearer token"))
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	e := apierr.As(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierr.HTTPStatus(e.Code))
	json.NewEncoder(w).Encode(map[string]string{"error": string(e.Code), "message": e.Message})
}

func (s *Server) requestOwner(r *http.Request) string {
	if tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "); tok != "" {
		return "http:" + tok
	}
	return "http:" + r.RemoteAddr
}

// --- health / ready ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.loop.Store.Screen.Snapshot(false)
	pid := s.loop.Store.ChildPID()
	resp := map[string]any{
		"status": "ok",
		"uptime": s.loop.Store.Uptime().Seconds(),
		"agent":  s.loop.DriverName(),
		"rows":   snap.Rows,
		"cols":   snap.Cols,
		"ws_clients": s.loop.Store.Output().SubscriberCount(),
	}
	if pid > 0 {
		resp["pid"] = pid
	}
	writeJSON(w, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.loop.Store.Ready() {
		writeErr(w, apierr.New(apierr.NotReady, "session not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- screen ---

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	withANSI := r.URL.Query().Get("format") == "ansi"
	snap := s.loop.Store.Screen.Snapshot(withANSI)
	writeJSON(w, snap)
}

func (s *Server) handleScreenText(w http.ResponseWriter, r *http.Request) {
	snap := s.loop.Store.Screen.Snapshot(false)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, line := range snap.Lines {
		w.Write([]byte(line))
		w.Write([]byte("\n"))
	}
}

// --- output ---

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	offset, _ := parseUint64(r.URL.Query().Get("from_offset"))
	data, next, err := s.loop.Store.Ring.ReadFrom(offset)
	if err != nil {
		writeErr(w, apierr.New(apierr.Truncated, err.Error()))
		return
	}
	writeJSON(w, map[string]any{
		"bytes_b64":     base64.StdEncoding.EncodeToString(data),
		"offset":        offset,
		"next_offset":   next,
		"total_written": s.loop.Store.Ring.TotalWritten(),
	})
}

// --- status / agent ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, _, _ := s.loop.Store.AgentState()
	resp := map[string]any{
		"state":          state.Kind.String(),
		"screen_seq":     s.loop.Store.ScreenSeq(),
		"bytes_read":     s.loop.Store.BytesRead(),
		"bytes_written":  s.loop.Store.BytesWritten(),
		"ws_clients":     s.loop.Store.Output().SubscriberCount(),
	}
	if pid := s.loop.Store.ChildPID(); pid > 0 {
		resp["pid"] = pid
	}
	if code, ok := s.loop.Store.ExitCode(); ok {
		resp["exit_code"] = code
	}
	if gs := gitstat.Collect(); gs != nil {
		resp["git_files_changed"] = gs.FilesChanged
		resp["git_lines_added"] = gs.LinesAdded
		resp["git_lines_removed"] = gs.LinesRemoved
	}
	writeJSON(w, resp)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	state, seq, tier := s.loop.Store.AgentState()
	resp := map[string]any{
		"agent":          s.loop.DriverName(),
		"state":          state.Kind.String(),
		"since_seq":      seq,
		"screen_seq":     s.loop.Store.ScreenSeq(),
		"detection_tier": tier,
		"state_duration": store.FormatStateDuration(s.loop.Store.StateDuration()),
	}
	if state.Prompt != nil {
		resp["prompt"] = state.Prompt
	}
	if state.Kind == agentstate.Error {
		resp["error_detail"] = state.ErrorDetail
		resp["error_category"] = state.ErrorCategory
	}
	if state.Parked != nil {
		resp["parked"] = state.Parked
	}
	writeJSON(w, resp)
}

// --- input ---

type inputRequest struct {
	Text  string `json:"text"`
	Enter bool   `json:"enter"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if !s.loop.Store.Ready() {
		writeErr(w, apierr.New(apierr.NotReady, "session not ready"))
		return
	}
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.New(apierr.BadRequest, err.Error()))
		return
	}
	if cur, _, _ := s.loop.Store.AgentState(); cur.Kind == agentstate.Exited {
		writeErr(w, apierr.New(apierr.Exited, "agent has exited"))
		return
	}
	before := s.loop.Store.BytesWritten()
	if err := s.loop.WriteText(s.requestOwner(r), req.Text, req.Enter); err != nil {
		writeErr(w, translateGateErr(err))
		return
	}
	writeJSON(w, map[string]any{"bytes_written": int(s.loop.Store.BytesWritten() - before)})
}

type inputRawRequest struct {
	BytesB64 string `json:"bytes_b64"`
}

func (s *Server) handleInputRaw(w http.ResponseWriter, r *http.Request) {
	var req inputRawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.New(apierr.BadRequest, err.Error()))
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.BytesB64)
	if err != nil {
		writeErr(w, apierr.New(apierr.BadRequest, "bytes_b64: "+err.Error()))
		return
	}
	if cur, _, _ := s.loop.Store.AgentState(); cur.Kind == agentstate.Exited {
		writeErr(w, apierr.New(apierr.Exited, "agent has exited"))
		return
	}
	before := s.loop.Store.BytesWritten()
	if err := s.loop.WriteRaw(s.requestOwner(r), data); err != nil {
		writeErr(w, translateGateErr(err))
		return
	}
	writeJSON(w, map[string]any{"bytes_written": int(s.loop.Store.BytesWritten() - before)})
}

type inputKeysRequest struct {
	Keys []string `json:"keys"`
}

func (s *Server) handleInputKeys(w http.ResponseWriter, r *http.Request) {
	var req inputKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Keys) == 0 {
		writeErr(w, apierr.New(apierr.BadRequest, "keys required"))
		return
	}
	payload, err := termkeys.EncodeKeys(req.Keys)
	if err != nil {
		writeErr(w, apierr.New(apierr.BadRequest, err.Error()))
		return
	}
	before := s.loop.Store.BytesWritten()
	if err := s.loop.WriteRaw(s.requestOwner(r), payload); err != nil {
		writeErr(w, translateGateErr(err))
		return
	}
	writeJSON(w, map[string]any{"bytes_written": int(s.loop.Store.BytesWritten() - before)})
}

// --- resize / signal ---

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Cols <= 0 || req.Rows <= 0 {
		writeErr(w, apierr.New(apierr.BadRequest, "cols and rows must be > 0"))
		return
	}
	if err := s.loop.Resize(req.Cols, req.Rows); err != nil {
		writeErr(w, apierr.New(apierr.Internal, err.Error()))
		return
	}
	writeJSON(w, map[string]any{"cols": req.Cols, "rows": req.Rows})
}

type signalRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.New(apierr.BadRequest, err.Error()))
		return
	}
	kind, ok := termkeys.ParseSignalName(req.Name)
	if !ok {
		writeErr(w, apierr.New(apierr.BadRequest, "unknown signal "+req.Name))
		return
	}
	if err := s.loop.Signal(kind); err != nil {
		writeErr(w, apierr.New(apierr.Internal, err.Error()))
		return
	}
	writeJSON(w, map[string]any{"delivered": true})
}

// --- nudge / respond ---

type nudgeRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleNudge(w http.ResponseWriter, r *http.Request) {
	if !s.loop.Store.Ready() {
		writeErr(w, apierr.New(apierr.NotReady, "session not ready"))
		return
	}
	var req nudgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.New(apierr.BadRequest, err.Error()))
		return
	}
	stateBefore, _, _ := s.loop.Store.AgentState()
	if err := s.loop.Nudge(context.Background(), req.Message); err != nil {
		writeErr(w, translateGateErr(err))
		return
	}
	writeJSON(w, map[string]any{"delivered": true, "state_before": stateBefore.Kind.String()})
}

type respondRequest struct {
	Option  *int     `json:"option,omitempty"`
	Text    string   `json:"text,omitempty"`
	Accept  bool     `json:"accept,omitempty"`
	Answers []string `json:"answers,omitempty"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	if !s.loop.Store.Ready() {
		writeErr(w, apierr.New(apierr.NotReady, "session not ready"))
		return
	}
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.New(apierr.BadRequest, err.Error()))
		return
	}
	kind, err := s.loop.Respond(s.requestOwner(r), harness.RespondRequest{
		Option: req.Option, Text: req.Text, Accept: req.Accept, Answers: req.Answers,
	})
	if err != nil {
		writeErr(w, translateGateErr(err))
		return
	}
	writeJSON(w, map[string]any{"delivered": true, "prompt_type": string(kind)})
}

// --- shutdown ---

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Force bool `json:"force"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	done := s.loop.RequestShutdown(body.Force)
	select {
	case code := <-done:
		writeJSON(w, map[string]any{"exit_code": code})
	case <-time.After(30 * time.Second):
		writeJSON(w, map[string]any{"exit_code": nil, "pending": true})
	}
}

// --- session switch / profiles ---

type switchRequest struct {
	Credentials map[string]string `json:"credentials,omitempty"`
	Profile     string            `json:"profile,omitempty"`
	Force       bool              `json:"force,omitempty"`
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.New(apierr.BadRequest, err.Error()))
		return
	}
	action, err := s.loop.Profiles().RequestSwitch(r.Context(), profile.SwitchRequest{
		Credentials: req.Credentials, Profile: req.Profile, Force: req.Force,
	}, s.loop.WaitForIdleOrExited)
	if err != nil {
		if err == profile.ErrSwitchInProgress {
			writeErr(w, apierr.New(apierr.SwitchInProgress, err.Error()))
			return
		}
		writeErr(w, apierr.New(apierr.BadRequest, err.Error()))
		return
	}
	s.loop.RequestSwitch(*action)
	writeJSON(w, map[string]any{"accepted": true})
}

type profileRequest struct {
	Name        string            `json:"name"`
	Credentials map[string]string `json:"credentials"`
}

func (s *Server) handleRegisterProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeErr(w, apierr.New(apierr.BadRequest, "name required"))
		return
	}
	p := config.Profile{Name: req.Name, Credentials: req.Credentials, Status: config.ProfileAvailable}
	if err := s.loop.Profiles().Register(p); err != nil {
		writeErr(w, apierr.New(apierr.Internal, err.Error()))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"profiles": s.loop.Profiles().List()})
}

// --- config stop/start ---

func (s *Server) handleGetStopConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.loop.Store.StopConfig())
}

func (s *Server) handlePutStopConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.StopConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeErr(w, apierr.New(apierr.BadRequest, err.Error()))
		return
	}
	if err := s.loop.SetStopConfig(cfg); err != nil {
		writeErr(w, apierr.New(apierr.Internal, err.Error()))
		return
	}
	writeJSON(w, cfg)
}

func (s *Server) handleGetStartConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.loop.Store.StartConfig())
}

func (s *Server) handlePutStartConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.StartConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeErr(w, apierr.New(apierr.BadRequest, err.Error()))
		return
	}
	if err := s.loop.SetStartConfig(cfg); err != nil {
		writeErr(w, apierr.New(apierr.Internal, err.Error()))
		return
	}
	writeJSON(w, cfg)
}

// --- hooks (auth-exempt) ---

func (s *Server) handleHookStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	script, err := s.loop.HandleStartHook(req.Source)
	if err != nil {
		writeErr(w, apierr.New(apierr.Internal, err.Error()))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(script))
}

func (s *Server) handleHookStop(w http.ResponseWriter, r *http.Request) {
	decision := s.loop.HandleStopHook()
	if decision == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, decision)
}

func (s *Server) handleStopResolve(w http.ResponseWriter, r *http.Request) {
	s.loop.ResolveStop()
	w.WriteHeader(http.StatusOK)
}

// --- shared helpers ---

func translateGateErr(err error) error {
	switch err {
	case inputgate.ErrWriterBusy:
		return apierr.New(apierr.WriterBusy, err.Error())
	case inputgate.ErrAgentBusy:
		return apierr.New(apierr.AgentBusy, err.Error())
	case inputgate.ErrNoPrompt:
		return apierr.New(apierr.NoPrompt, err.Error())
	default:
		return apierr.New(apierr.Internal, err.Error())
	}
}

