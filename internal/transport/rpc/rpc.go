// Package rpc implements C10's gRPC surface: the same set of operations
// httpapi and wsapi expose, carried over real gRPC framing but without a
// protoc-generated stub. Request/response payloads are plain JSON-tagged
// Go structs (the same shapes httpapi already uses) marshaled by a
// custom "json" codec, and the service is described by a hand-built
// grpc.ServiceDesc — see proto/coop.proto for the schema this mirrors.
package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

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

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets the gRPC wire framing (length-prefixed messages) carry
// plain encoding/json payloads instead of protobuf, so coop's structs
// don't need generated marshal code.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

// Server wraps one session Loop with a grpc.Server exposing the same
// operations as httpapi, under the service name coop.v1.Session.
type Server struct {
	loop *coopsession.Loop
	srv  *grpc.Server
}

// New builds a *Server bound to loop. Call Serve to start accepting
// connections.
func New(loop *coopsession.Loop) *Server {
	s := &Server{loop: loop}
	s.srv = grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.UnaryInterceptor(s.unaryAuth),
		grpc.StreamInterceptor(s.streamAuth),
	)
	s.srv.RegisterService(&serviceDesc, s)
	return s
}

// Serve blocks accepting connections on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error { return s.srv.Serve(lis) }

// GracefulStop stops accepting new RPCs and waits for in-flight ones to
// finish, mirroring http.Server.Shutdown's role for the HTTP listener.
func (s *Server) GracefulStop() { s.srv.GracefulStop() }

// authExempt mirrors httpapi.New's auth-exempt route list: hook
// callbacks run from inside the PTY, which carries no bearer token.
var authExempt = map[string]bool{
	"/coop.v1.Session/Health":      true,
	"/coop.v1.Session/HookStart":   true,
	"/coop.v1.Session/HookStop":    true,
	"/coop.v1.Session/StopResolve": true,
}

func (s *Server) checkAuth(ctx context.Context, fullMethod string) error {
	if authExempt[fullMethod] {
		return nil
	}
	want := s.loop.Store.AuthToken()
	if want == "" {
		return nil
	}
	var got string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vs := md.Get("authorization"); len(vs) > 0 {
			got = vs[0]
		}
	}
	const prefix = "Bearer "
	if len(got) > len(prefix) && got[:len(prefix)] == prefix {
		got = got[len(prefix):]
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid or missing bearer token")
	}
	return nil
}

func (s *Server) unaryAuth(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if err := s.checkAuth(ctx, info.FullMethod); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *Server) streamAuth(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := s.checkAuth(ss.Context(), info.FullMethod); err != nil {
		return err
	}
	return handler(srv, ss)
}

// grpcErr turns an apierr-tagged error into a *status.Status carrying the
// original Code string as a detail-free message, per spec §4.10's
// cross-transport mapping table (apierr.GRPCCode).
func grpcErr(err error) error {
	e := apierr.As(err)
	return status.Error(apierr.GRPCCode(e.Code), e.Error())
}

// unaryHandler adapts a (ctx, *Server, *TReq) -> (any, error) method into
// the grpc.MethodDesc.Handler shape, so every RPC below is one line in
// the ServiceDesc instead of repeating the decode/interceptor dance.
func unaryHandler[TReq any](fn func(ctx context.Context, s *Server, req *TReq) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		s := srv.(*Server)
		req := new(TReq)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, s, req)
		}
		info := &grpc.UnaryServerInfo{Server: s}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(ctx, s, req.(*TReq))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// serverStreamHandler adapts a (ctx, *Server, *TReq, grpc.ServerStream)
// streaming body into the grpc.StreamDesc.Handler shape.
func serverStreamHandler[TReq any](fn func(ctx context.Context, s *Server, req *TReq, stream grpc.ServerStream) error) func(any, grpc.ServerStream) error {
	return func(srv any, stream grpc.ServerStream) error {
		s := srv.(*Server)
		req := new(TReq)
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		return fn(stream.Context(), s, req, stream)
	}
}

// serviceDesc hand-describes coop.v1.Session the way protoc would, minus
// the generated stub: HandlerType is the empty interface so any server
// value satisfies grpc's registration check.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "coop.v1.Session",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Health", Handler: unaryHandler(rpcHealth)},
		{MethodName: "Ready", Handler: unaryHandler(rpcReady)},
		{MethodName: "Screen", Handler: unaryHandler(rpcScreen)},
		{MethodName: "Output", Handler: unaryHandler(rpcOutput)},
		{MethodName: "Status", Handler: unaryHandler(rpcStatus)},
		{MethodName: "Agent", Handler: unaryHandler(rpcAgent)},
		{MethodName: "Input", Handler: unaryHandler(rpcInput)},
		{MethodName: "InputRaw", Handler: unaryHandler(rpcInputRaw)},
		{MethodName: "InputKeys", Handler: unaryHandler(rpcInputKeys)},
		{MethodName: "Resize", Handler: unaryHandler(rpcResize)},
		{MethodName: "Signal", Handler: unaryHandler(rpcSignal)},
		{MethodName: "Nudge", Handler: unaryHandler(rpcNudge)},
		{MethodName: "Respond", Handler: unaryHandler(rpcRespond)},
		{MethodName: "Shutdown", Handler: unaryHandler(rpcShutdown)},
		{MethodName: "Switch", Handler: unaryHandler(rpcSwitch)},
		{MethodName: "RegisterProfile", Handler: unaryHandler(rpcRegisterProfile)},
		{MethodName: "ListProfiles", Handler: unaryHandler(rpcListProfiles)},
		{MethodName: "GetStopConfig", Handler: unaryHandler(rpcGetStopConfig)},
		{MethodName: "PutStopConfig", Handler: unaryHandler(rpcPutStopConfig)},
		{MethodName: "GetStartConfig", Handler: unaryHandler(rpcGetStartConfig)},
		{MethodName: "PutStartConfig", Handler: unaryHandler(rpcPutStartConfig)},
		{MethodName: "HookStart", Handler: unaryHandler(rpcHookStart)},
		{MethodName: "HookStop", Handler: unaryHandler(rpcHookStop)},
		{MethodName: "StopResolve", Handler: unaryHandler(rpcStopResolve)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchOutput", Handler: serverStreamHandler(rpcWatchOutput), ServerStreams: true},
		{StreamName: "WatchState", Handler: serverStreamHandler(rpcWatchState), ServerStreams: true},
	},
	Metadata: "proto/coop.proto",
}

// --- request/response shapes (mirror httpapi's wire structs) ---

type emptyRequest struct{}

type screenRequest struct {
	ANSI bool `json:"ansi,omitempty"`
}

type outputRequest struct {
	FromOffset uint64 `json:"from_offset"`
}

type inputRequest struct {
	Text  string `json:"text"`
	Enter bool   `json:"enter"`
}

type inputRawRequest struct {
	BytesB64 string `json:"bytes_b64"`
}

type inputKeysRequest struct {
	Keys []string `json:"keys"`
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type signalRequest struct {
	Name string `json:"name"`
}

type nudgeRequest struct {
	Message string `json:"message"`
}

type respondRequest struct {
	Option  *int     `json:"option,omitempty"`
	Text    string   `json:"text,omitempty"`
	Accept  bool     `json:"accept,omitempty"`
	Answers []string `json:"answers,omitempty"`
}

type shutdownRequest struct {
	Force bool `json:"force"`
}

type switchRequest struct {
	Credentials map[string]string `json:"credentials,omitempty"`
	Profile     string            `json:"profile,omitempty"`
	Force       bool              `json:"force,omitempty"`
}

type profileRequest struct {
	Name        string            `json:"name"`
	Credentials map[string]string `json:"credentials"`
}

type hookStartRequest struct {
	Source string `json:"source"`
}

// --- unary handlers, one per httpapi operation ---

func rpcHealth(ctx context.Context, s *Server, _ *emptyRequest) (any, error) {
	snap := s.loop.Store.Screen.Snapshot(false)
	resp := map[string]any{
		"status":     "ok",
		"uptime":     s.loop.Store.Uptime().Seconds(),
		"agent":      s.loop.DriverName(),
		"rows":       snap.Rows,
		"cols":       snap.Cols,
		"ws_clients": s.loop.Store.Output().SubscriberCount(),
	}
	if pid := s.loop.Store.ChildPID(); pid > 0 {
		resp["pid"] = pid
	}
	return resp, nil
}

func rpcReady(ctx context.Context, s *Server, _ *emptyRequest) (any, error) {
	if !s.loop.Store.Ready() {
		return nil, grpcErr(apierr.New(apierr.NotReady, "session not ready"))
	}
	return map[string]any{"ready": true}, nil
}

func rpcScreen(ctx context.Context, s *Server, req *screenRequest) (any, error) {
	return s.loop.Store.Screen.Snapshot(req.ANSI), nil
}

func rpcOutput(ctx context.Context, s *Server, req *outputRequest) (any, error) {
	data, next, err := s.loop.Store.Ring.ReadFrom(req.FromOffset)
	if err != nil {
		return nil, grpcErr(apierr.New(apierr.Truncated, err.Error()))
	}
	return map[string]any{
		"bytes_b64":    data,
		"offset":       req.FromOffset,
		"next_offset":  next,
		"total_written": s.loop.Store.Ring.TotalWritten(),
	}, nil
}

func rpcStatus(ctx context.Context, s *Server, _ *emptyRequest) (any, error) {
	state, _, _ := s.loop.Store.AgentState()
	resp := map[string]any{
		"state":         state.Kind.String(),
		"screen_seq":    s.loop.Store.ScreenSeq(),
		"bytes_read":    s.loop.Store.BytesRead(),
		"bytes_written": s.loop.Store.BytesWritten(),
		"ws_clients":    s.loop.Store.Output().SubscriberCount(),
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
	return resp, nil
}

func rpcAgent(ctx context.Context, s *Server, _ *emptyRequest) (any, error) {
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
		resp["error_category"] = string(state.ErrorCategory)
	}
	if state.Kind == agentstate.Parked {
		resp["parked"] = true
	}
	return resp, nil
}

func rpcInput(ctx context.Context, s *Server, req *inputRequest) (any, error) {
	if !s.loop.Store.Ready() {
		return nil, grpcErr(apierr.New(apierr.NotReady, "session not ready"))
	}
	if state, _, _ := s.loop.Store.AgentState(); state.Kind == agentstate.Exited {
		return nil, grpcErr(apierr.New(apierr.Exited, "session has exited"))
	}
	before := s.loop.Store.BytesWritten()
	if err := s.loop.WriteText(rpcOwner(ctx), req.Text, req.Enter); err != nil {
		return nil, grpcErr(translateGateErr(err))
	}
	return map[string]any{"bytes_written": s.loop.Store.BytesWritten() - before}, nil
}

func rpcInputRaw(ctx context.Context, s *Server, req *inputRawRequest) (any, error) {
	if !s.loop.Store.Ready() {
		return nil, grpcErr(apierr.New(apierr.NotReady, "session not ready"))
	}
	if state, _, _ := s.loop.Store.AgentState(); state.Kind == agentstate.Exited {
		return nil, grpcErr(apierr.New(apierr.Exited, "session has exited"))
	}
	data, err := decodeB64(req.BytesB64)
	if err != nil {
		return nil, grpcErr(apierr.New(apierr.BadRequest, err.Error()))
	}
	before := s.loop.Store.BytesWritten()
	if err := s.loop.WriteRaw(rpcOwner(ctx), data); err != nil {
		return nil, grpcErr(translateGateErr(err))
	}
	return map[string]any{"bytes_written": s.loop.Store.BytesWritten() - before}, nil
}

func rpcInputKeys(ctx context.Context, s *Server, req *inputKeysRequest) (any, error) {
	payload, err := termkeys.EncodeKeys(req.Keys)
	if err != nil {
		return nil, grpcErr(apierr.New(apierr.BadRequest, err.Error()))
	}
	before := s.loop.Store.BytesWritten()
	if err := s.loop.WriteRaw(rpcOwner(ctx), payload); err != nil {
		return nil, grpcErr(translateGateErr(err))
	}
	return map[string]any{"bytes_written": s.loop.Store.BytesWritten() - before}, nil
}

func rpcResize(ctx context.Context, s *Server, req *resizeRequest) (any, error) {
	if req.Cols <= 0 || req.Rows <= 0 {
		return nil, grpcErr(apierr.New(apierr.BadRequest, "cols and rows must be > 0"))
	}
	if err := s.loop.Resize(req.Cols, req.Rows); err != nil {
		return nil, grpcErr(apierr.New(apierr.Internal, err.Error()))
	}
	return map[string]any{"cols": req.Cols, "rows": req.Rows}, nil
}

func rpcSignal(ctx context.Context, s *Server, req *signalRequest) (any, error) {
	kind, ok := termkeys.ParseSignalName(req.Name)
	if !ok {
		return nil, grpcErr(apierr.New(apierr.BadRequest, "unknown signal "+req.Name))
	}
	if err := s.loop.Signal(kind); err != nil {
		return nil, grpcErr(apierr.New(apierr.Internal, err.Error()))
	}
	return map[string]any{"delivered": true}, nil
}

func rpcNudge(ctx context.Context, s *Server, req *nudgeRequest) (any, error) {
	if !s.loop.Store.Ready() {
		return nil, grpcErr(apierr.New(apierr.NotReady, "session not ready"))
	}
	state, _, _ := s.loop.Store.AgentState()
	if err := s.loop.Nudge(context.Background(), req.Message); err != nil {
		return nil, grpcErr(translateGateErr(err))
	}
	return map[string]any{"delivered": true, "state_before": state.Kind.String()}, nil
}

func rpcRespond(ctx context.Context, s *Server, req *respondRequest) (any, error) {
	if !s.loop.Store.Ready() {
		return nil, grpcErr(apierr.New(apierr.NotReady, "session not ready"))
	}
	kind, err := s.loop.Respond(rpcOwner(ctx), harness.RespondRequest{
		Option: req.Option, Text: req.Text, Accept: req.Accept, Answers: req.Answers,
	})
	if err != nil {
		return nil, grpcErr(translateGateErr(err))
	}
	return map[string]any{"delivered": true, "prompt_type": string(kind)}, nil
}

func rpcShutdown(ctx context.Context, s *Server, req *shutdownRequest) (any, error) {
	done := s.loop.RequestShutdown(req.Force)
	select {
	case code := <-done:
		return map[string]any{"exit_code": code}, nil
	case <-time.After(30 * time.Second):
		return map[string]any{"exit_code": nil, "pending": true}, nil
	}
}

func rpcSwitch(ctx context.Context, s *Server, req *switchRequest) (any, error) {
	action, err := s.loop.Profiles().RequestSwitch(ctx, profile.SwitchRequest{
		Credentials: req.Credentials, Profile: req.Profile, Force: req.Force,
	}, s.loop.WaitForIdleOrExited)
	if err != nil {
		if err == profile.ErrSwitchInProgress {
			return nil, grpcErr(apierr.New(apierr.SwitchInProgress, err.Error()))
		}
		return nil, grpcErr(apierr.New(apierr.BadRequest, err.Error()))
	}
	s.loop.RequestSwitch(*action)
	return map[string]any{"accepted": true}, nil
}

func rpcRegisterProfile(ctx context.Context, s *Server, req *profileRequest) (any, error) {
	if req.Name == "" {
		return nil, grpcErr(apierr.New(apierr.BadRequest, "name required"))
	}
	p := config.Profile{Name: req.Name, Credentials: req.Credentials, Status: config.ProfileAvailable}
	if err := s.loop.Profiles().Register(p); err != nil {
		return nil, grpcErr(apierr.New(apierr.Internal, err.Error()))
	}
	return map[string]any{}, nil
}

func rpcListProfiles(ctx context.Context, s *Server, _ *emptyRequest) (any, error) {
	return map[string]any{"profiles": s.loop.Profiles().List()}, nil
}

func rpcGetStopConfig(ctx context.Context, s *Server, _ *emptyRequest) (any, error) {
	return s.loop.Store.StopConfig(), nil
}

func rpcPutStopConfig(ctx context.Context, s *Server, cfg *config.StopConfig) (any, error) {
	if err := s.loop.SetStopConfig(*cfg); err != nil {
		return nil, grpcErr(apierr.New(apierr.Internal, err.Error()))
	}
	return cfg, nil
}

func rpcGetStartConfig(ctx context.Context, s *Server, _ *emptyRequest) (any, error) {
	return s.loop.Store.StartConfig(), nil
}

func rpcPutStartConfig(ctx context.Context, s *Server, cfg *config.StartConfig) (any, error) {
	if err := s.loop.SetStartConfig(*cfg); err != nil {
		return nil, grpcErr(apierr.New(apierr.Internal, err.Error()))
	}
	return cfg, nil
}

func rpcHookStart(ctx context.Context, s *Server, req *hookStartRequest) (any, error) {
	script, err := s.loop.HandleStartHook(req.Source)
	if err != nil {
		return nil, grpcErr(apierr.New(apierr.Internal, err.Error()))
	}
	return map[string]any{"script": script}, nil
}

func rpcHookStop(ctx context.Context, s *Server, _ *emptyRequest) (any, error) {
	decision := s.loop.HandleStopHook()
	if decision == nil {
		return map[string]any{}, nil
	}
	return decision, nil
}

func rpcStopResolve(ctx context.Context, s *Server, _ *emptyRequest) (any, error) {
	s.loop.ResolveStop()
	return map[string]any{}, nil
}

// --- server-streaming handlers ---

// rpcWatchOutput streams pty bytes from req.FromOffset onward, replaying
// ring-buffered history first the same way wsapi's "pty" subscription
// does, then following the live Output broadcaster.
func rpcWatchOutput(ctx context.Context, s *Server, req *outputRequest, stream grpc.ServerStream) error {
	sub := s.loop.Store.Output().Subscribe(64)
	defer s.loop.Store.Output().Unsubscribe(sub)

	next := req.FromOffset
	if data, n, err := s.loop.Store.Ring.ReadFrom(req.FromOffset); err == nil && len(data) > 0 {
		if err := stream.SendMsg(map[string]any{"bytes_b64": data, "offset": req.FromOffset, "next_offset": n}); err != nil {
			return err
		}
		next = n
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			end := ev.Offset + uint64(len(ev.Bytes))
			if end <= next {
				continue
			}
			data := ev.Bytes
			offset := ev.Offset
			if offset < next {
				data = data[next-offset:]
				offset = next
			}
			next = end
			if err := stream.SendMsg(map[string]any{"bytes_b64": data, "offset": offset, "next_offset": end}); err != nil {
				return err
			}
		}
	}
}

// rpcWatchState streams agent state transitions, mirroring wsapi's
// "state" subscription.
func rpcWatchState(ctx context.Context, s *Server, _ *emptyRequest, stream grpc.ServerStream) error {
	sub := s.loop.Store.Transition().Subscribe(32)
	defer s.loop.Store.Transition().Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			msg := map[string]any{
				"prev": ev.Prev.Kind.String(), "next": ev.Next.Kind.String(),
				"seq": ev.Seq, "tier": ev.Tier,
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// --- shared helpers ---

func rpcOwner(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return "grpc:" + p.Addr.String()
	}
	return "grpc:unknown"
}

func translateGateErr(err error) error {
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

func decodeB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
