// Package wsapi implements C10's WebSocket surface: one full-duplex
// connection per client multiplexing pty/state/usage broadcasts and a
// request/response command channel. A "hooks" subscription name is
// accepted, but no hook events are sent on it. It follows the corpus's
// gorilla/websocket readPump/writePump split (grounded on
// Hyper-Int-OrcaBot's ws client, conceptually — not copied, since that
// repo carries a proprietary header).
package wsapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

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

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades HTTP connections into per-session WebSocket clients.
type Server struct {
	loop *coopsession.Loop
}

func New(loop *coopsession.Loop) *Server { return &Server{loop: loop} }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if tok := s.loop.Store.AuthToken(); tok != "" {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if got != tok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsapi: upgrade failed: %v", err)
		return
	}

	subs := parseSubscriptions(r.URL.Query().Get("subscribe"))
	c := newClient(s.loop, conn, subs)
	go c.writePump()
	go c.readPump()
}

func parseSubscriptions(csv string) map[string]bool {
	out := map[string]bool{"pty": true, "state": true, "usage": true, "hooks": true}
	if csv == "" {
		return out
	}
	out = map[string]bool{}
	for _, p := range strings.Split(csv, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out[p] = true
		}
	}
	return out
}

// client is one connected WS session. nextOffset tracks this client's
// ring dedup gate per spec §4.10's replay discipline.
type client struct {
	loop *coopsession.Loop
	conn *websocket.Conn
	subs map[string]bool

	out chan []byte

	mu         sync.Mutex
	nextOffset uint64

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(loop *coopsession.Loop, conn *websocket.Conn, subs map[string]bool) *client {
	return &client{
		loop: loop,
		conn: conn,
		subs: subs,
		out:  make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

func (c *client) closeSoon() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.out <- data:
	default:
		c.closeSoon()
	}
}

// readPump drains client-sent control frames and subscribes this client to
// the Store's broadcasters for as long as the connection lives.
func (c *client) readPump() {
	defer func() {
		c.closeSoon()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.pumpBroadcasts()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.send(errorFrame("", apierr.New(apierr.BadRequest, "invalid json frame")))
			continue
		}
		c.handle(req)
	}
}

// pumpBroadcasts fans the Store's per-topic broadcasters into this client's
// out channel, applying the subscribe filter and the offset dedup gate for
// pty output.
func (c *client) pumpBroadcasts() {
	var outputSub chan store.OutputEvent
	var transitionSub chan store.TransitionEvent
	var usageSub chan store.UsageEvent

	if c.subs["pty"] {
		outputSub = c.loop.Store.Output().Subscribe(64)
		defer c.loop.Store.Output().Unsubscribe(outputSub)
	}
	if c.subs["state"] {
		transitionSub = c.loop.Store.Transition().Subscribe(32)
		defer c.loop.Store.Transition().Unsubscribe(transitionSub)
	}
	if c.subs["usage"] {
		usageSub = c.loop.Store.Usage().Subscribe(8)
		defer c.loop.Store.Usage().Unsubscribe(usageSub)
	}

	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-outputSub:
			if !ok {
				return
			}
			c.deliverOutput(ev)
		case ev, ok := <-transitionSub:
			if !ok {
				return
			}
			c.send(map[string]any{"type": "state", "prev": ev.Prev.Kind.String(), "next": ev.Next.Kind.String(), "seq": ev.Seq, "tier": ev.Tier})
		case ev, ok := <-usageSub:
			if !ok {
				return
			}
			c.send(map[string]any{"type": "usage", "input_tokens": ev.InputTokens, "output_tokens": ev.OutputTokens, "cached_tokens": ev.CachedTokens, "total_cost_usd": ev.TotalCostUSD})
		}
	}
}

// deliverOutput applies the reconnect dedup gate from spec §4.10: drop
// frames entirely behind the client's cursor, trim frames that overlap it.
func (c *client) deliverOutput(ev store.OutputEvent) {
	c.mu.Lock()
	next := c.nextOffset
	c.mu.Unlock()

	end := ev.Offset + uint64(len(ev.Bytes))
	if end <= next {
		return
	}
	data := ev.Bytes
	offset := ev.Offset
	if offset < next && next < end {
		data = data[next-offset:]
		offset = next
	}
	c.mu.Lock()
	c.nextOffset = end
	c.mu.Unlock()
	c.send(map[string]any{
		"type":        "pty",
		"offset":      offset,
		"next_offset": end,
		"bytes_b64":   base64.StdEncoding.EncodeToString(data),
	})
}

// writePump drains c.out to the socket and sends periodic pings, matching
// the corpus's ticker-based keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// request is the generic envelope for every client->server operation in
// spec §4.10's WS table; fields not relevant to Op are simply left zero.
type request struct {
	ID      string            `json:"id,omitempty"`
	Op      string            `json:"op"`
	Text    string            `json:"text,omitempty"`
	Enter   bool              `json:"enter,omitempty"`
	BytesB64 string           `json:"bytes_b64,omitempty"`
	Keys    []string          `json:"keys,omitempty"`
	Cols    int               `json:"cols,omitempty"`
	Rows    int               `json:"rows,omitempty"`
	Name    string            `json:"name,omitempty"`
	Message string            `json:"message,omitempty"`
	Option  *int              `json:"option,omitempty"`
	Accept  bool              `json:"accept,omitempty"`
	Answers []string          `json:"answers,omitempty"`
	Token   string            `json:"token,omitempty"`
	Mode    string            `json:"mode,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	FromOffset uint64         `json:"from_offset,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
	Profile string            `json:"profile,omitempty"`
	ProfileName string        `json:"profile_name,omitempty"`
	Force   bool              `json:"force,omitempty"`
	Action  string            `json:"action,omitempty"` // lock {acquire|release}
	Config  json.RawMessage   `json:"config,omitempty"`
}

func errorFrame(id string, err *apierr.Error) map[string]any {
	return map[string]any{"type": "error", "id": id, "error": string(err.Code), "message": err.Message}
}

func (c *client) ok(id string, v map[string]any) {
	if v == nil {
		v = map[string]any{}
	}
	v["type"] = "response"
	v["id"] = id
	c.send(v)
}

func (c *client) ownerID() string {
	return "ws:" + c.conn.RemoteAddr().String()
}

func (c *client) handle(req request) {
	switch req.Op {
	case "ping":
		c.ok(req.ID, map[string]any{"pong": true})

	case "auth":
		if c.loop.Store.AuthToken() != "" && req.Token != c.loop.Store.AuthToken() {
			code, _ := apierr.WSCloseCode(apierr.Unauthorized)
			c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, "bad token"), time.Now().Add(writeWait))
			c.closeSoon()
			return
		}
		c.ok(req.ID, nil)

	case "resize":
		if req.Cols <= 0 || req.Rows <= 0 {
			c.send(errorFrame(req.ID, apierr.New(apierr.BadRequest, "cols and rows must be > 0")))
			return
		}
		if err := c.loop.Resize(req.Cols, req.Rows); err != nil {
			c.send(errorFrame(req.ID, apierr.New(apierr.Internal, err.Error())))
			return
		}
		c.ok(req.ID, map[string]any{"cols": req.Cols, "rows": req.Rows})

	case "input:send":
		before := c.loop.Store.BytesWritten()
		if err := c.loop.WriteText(c.ownerID(), req.Text, req.Enter); err != nil {
			c.send(errorFrame(req.ID, translateErr(err)))
			return
		}
		c.ok(req.ID, map[string]any{"bytes_written": int(c.loop.Store.BytesWritten() - before)})

	case "input:send:raw":
		data, err := base64.StdEncoding.DecodeString(req.BytesB64)
		if err != nil {
			c.send(errorFrame(req.ID, apierr.New(apierr.BadRequest, err.Error())))
			return
		}
		before := c.loop.Store.BytesWritten()
		if err := c.loop.WriteRaw(c.ownerID(), data); err != nil {
			c.send(errorFrame(req.ID, translateErr(err)))
			return
		}
		c.ok(req.ID, map[string]any{"bytes_written": int(c.loop.Store.BytesWritten() - before)})

	case "keys:send":
		payload, err := termkeys.EncodeKeys(req.Keys)
		if err != nil {
			c.send(errorFrame(req.ID, apierr.New(apierr.BadRequest, err.Error())))
			return
		}
		before := c.loop.Store.BytesWritten()
		if err := c.loop.WriteRaw(c.ownerID(), payload); err != nil {
			c.send(errorFrame(req.ID, translateErr(err)))
			return
		}
		c.ok(req.ID, map[string]any{"bytes_written": int(c.loop.Store.BytesWritten() - before)})

	case "signal:send":
		kind, ok := termkeys.ParseSignalName(req.Name)
		if !ok {
			c.send(errorFrame(req.ID, apierr.New(apierr.BadRequest, "unknown signal "+req.Name)))
			return
		}
		if err := c.loop.Signal(kind); err != nil {
			c.send(errorFrame(req.ID, apierr.New(apierr.Internal, err.Error())))
			return
		}
		c.ok(req.ID, map[string]any{"delivered": true})

	case "nudge":
		if err := c.loop.Nudge(context.Background(), req.Message); err != nil {
			c.send(errorFrame(req.ID, translateErr(err)))
			return
		}
		c.ok(req.ID, map[string]any{"delivered": true})

	case "respond":
		kind, err := c.loop.Respond(c.ownerID(), harness.RespondRequest{
			Option: req.Option, Text: req.Text, Accept: req.Accept, Answers: req.Answers,
		})
		if err != nil {
			c.send(errorFrame(req.ID, translateErr(err)))
			return
		}
		c.ok(req.ID, map[string]any{"delivered": true, "prompt_type": string(kind)})

	case "replay:get":
		data, next, err := c.loop.Store.Ring.ReadFrom(req.FromOffset)
		if err != nil {
			c.send(errorFrame(req.ID, apierr.New(apierr.Truncated, err.Error())))
			return
		}
		c.mu.Lock()
		c.nextOffset = next
		c.mu.Unlock()
		c.send(map[string]any{
			"type": "replay", "id": req.ID,
			"offset": req.FromOffset, "next_offset": next,
			"bytes_b64": base64.StdEncoding.EncodeToString(data),
		})

	case "screen:get":
		c.ok(req.ID, map[string]any{"screen": c.loop.Store.Screen.Snapshot(false)})

	case "status:get":
		state, _, _ := c.loop.Store.AgentState()
		resp := map[string]any{
			"state": state.Kind.String(), "screen_seq": c.loop.Store.ScreenSeq(),
			"bytes_read": c.loop.Store.BytesRead(), "bytes_written": c.loop.Store.BytesWritten(),
			"ws_clients": c.loop.Store.Output().SubscriberCount(),
		}
		if gs := gitstat.Collect(); gs != nil {
			resp["git_files_changed"] = gs.FilesChanged
			resp["git_lines_added"] = gs.LinesAdded
			resp["git_lines_removed"] = gs.LinesRemoved
		}
		c.ok(req.ID, resp)

	case "agent:get":
		state, seq, tier := c.loop.Store.AgentState()
		resp := map[string]any{
			"agent": c.loop.DriverName(), "state": state.Kind.String(), "since_seq": seq, "detection_tier": tier,
			"state_duration": store.FormatStateDuration(c.loop.Store.StateDuration()),
		}
		if state.Prompt != nil {
			resp["prompt"] = state.Prompt
		}
		c.ok(req.ID, resp)

	case "health:get":
		c.ok(req.ID, map[string]any{"status": "ok", "uptime": c.loop.Store.Uptime().Seconds()})

	case "usage:get":
		u := c.loop.Store.LastUsage()
		c.ok(req.ID, map[string]any{"input_tokens": u.InputTokens, "output_tokens": u.OutputTokens, "cached_tokens": u.CachedTokens, "total_cost_usd": u.TotalCostUSD})

	case "shutdown":
		done := c.loop.RequestShutdown(req.Force)
		go func() {
			code := <-done
			c.ok(req.ID, map[string]any{"exit_code": code})
		}()

	case "lock":
		var err error
		if req.Action == "release" {
			err = c.loop.UnlockWriter(c.ownerID())
		} else {
			err = c.loop.LockWriter(c.ownerID())
		}
		if err != nil {
			c.send(errorFrame(req.ID, translateErr(err)))
			return
		}
		c.ok(req.ID, map[string]any{"locked": req.Action != "release"})

	case "stop:config:get":
		c.ok(req.ID, map[string]any{"config": c.loop.Store.StopConfig()})

	case "stop:config:put":
		cfg := c.loop.Store.StopConfig()
		if req.Mode != "" {
			cfg.Mode = config.StopMode(req.Mode)
		}
		cfg.Reason = req.Reason
		if err := c.loop.SetStopConfig(cfg); err != nil {
			c.send(errorFrame(req.ID, apierr.New(apierr.Internal, err.Error())))
			return
		}
		c.ok(req.ID, map[string]any{"config": cfg})

	case "config:start:get":
		c.ok(req.ID, map[string]any{"config": c.loop.Store.StartConfig()})

	case "config:start:put":
		var cfg config.StartConfig
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			c.send(errorFrame(req.ID, apierr.New(apierr.BadRequest, "config: "+err.Error())))
			return
		}
		if err := c.loop.SetStartConfig(cfg); err != nil {
			c.send(errorFrame(req.ID, apierr.New(apierr.Internal, err.Error())))
			return
		}
		c.ok(req.ID, map[string]any{"config": cfg})

	case "profiles:list":
		c.ok(req.ID, map[string]any{"profiles": c.loop.Profiles().List()})

	case "profiles:register":
		p := config.Profile{Name: req.ProfileName, Credentials: req.Credentials, Status: config.ProfileAvailable}
		if err := c.loop.Profiles().Register(p); err != nil {
			c.send(errorFrame(req.ID, apierr.New(apierr.Internal, err.Error())))
			return
		}
		c.ok(req.ID, nil)

	case "profiles:mode:set":
		if err := c.loop.SetGroomMode(req.Mode); err != nil {
			c.send(errorFrame(req.ID, apierr.New(apierr.BadRequest, err.Error())))
			return
		}
		c.ok(req.ID, map[string]any{"mode": req.Mode})

	case "session:switch":
		action, err := c.loop.Profiles().RequestSwitch(context.Background(), profile.SwitchRequest{
			Credentials: req.Credentials, Profile: req.Profile, Force: req.Force,
		}, c.loop.WaitForIdleOrExited)
		if err != nil {
			if err == profile.ErrSwitchInProgress {
				c.send(errorFrame(req.ID, apierr.New(apierr.SwitchInProgress, err.Error())))
				return
			}
			c.send(errorFrame(req.ID, apierr.New(apierr.BadRequest, err.Error())))
			return
		}
		c.loop.RequestSwitch(*action)
		c.ok(req.ID, map[string]any{"accepted": true})

	case "session:restart":
		c.loop.RequestRestart()
		c.ok(req.ID, map[string]any{"accepted": true})

	default:
		c.send(errorFrame(req.ID, apierr.New(apierr.BadRequest, "unknown op "+req.Op)))
	}
}

func translateErr(err error) *apierr.Error {
	switch err {
	case inputgate.ErrWriterBusy:
		return apierr.New(apierr.WriterBusy, err.Error())
	case inputgate.ErrAgentBusy:
		return apierr.New(apierr.AgentBusy, err.Error())
	case inputgate.ErrNoPrompt:
		return apierr.New(apierr.NoPrompt, err.Error())
	default:
		return apierr.As(err)
	}
}
