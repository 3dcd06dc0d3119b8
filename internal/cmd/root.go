// Package cmd implements coop's command-line surface: flag parsing, env
// tuning, transport startup, and the signal-driven shutdown sequence,
// mirroring the teacher's internal/cmd split of one cobra command per
// concern.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	_ "github.com/coopdev/coop/internal/harness/claude"
	_ "github.com/coopdev/coop/internal/harness/codex"
	_ "github.com/coopdev/coop/internal/harness/generic"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/artifact"
	"github.com/coopdev/coop/internal/config"
	"github.com/coopdev/coop/internal/coopsession"
	"github.com/coopdev/coop/internal/detect/process"
	screentier "github.com/coopdev/coop/internal/detect/screen"
	"github.com/coopdev/coop/internal/detect/sessionlog"
	"github.com/coopdev/coop/internal/inputgate"
	"github.com/coopdev/coop/internal/promptenrich"
	"github.com/coopdev/coop/internal/ptybackend"
	"github.com/coopdev/coop/internal/transport/httpapi"
	"github.com/coopdev/coop/internal/transport/rpc"
	"github.com/coopdev/coop/internal/transport/wsapi"
	"github.com/coopdev/coop/internal/version"
)

// NewRootCmd builds coop's single command: it has no subcommands, since
// the whole CLI surface is "spawn one agent and serve it" (spec §6).
func NewRootCmd() *cobra.Command {
	var (
		port            int
		socketPath      string
		portGRPC        int
		authToken       string
		agentType       string
		agentConfigPath string
		attachTarget    string
		cols            int
		rows            int
		ringSize        int
		groomMode       string
		resumeID        string
		hot             bool
	)

	cmd := &cobra.Command{
		Use:   "coop [flags] -- CMD [ARGS...]",
		Short: "Terminal session sidecar for AI coding agents",
		Long: `coop spawns an agent CLI on a pseudo-terminal, classifies its
conversational state from hooks, session logs, stdout, process liveness,
and screen content, and exposes the session over HTTP, WebSocket, and
gRPC so an orchestrator can drive and observe it programmatically.`,
		Version:       version.DisplayVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if attachTarget == "" && len(args) == 0 {
				return fmt.Errorf("command is required (or use --attach)")
			}
			if groomMode != "auto" && groomMode != "manual" && groomMode != "pristine" {
				return fmt.Errorf("--groom must be one of auto, manual, pristine")
			}
			if port != 0 && socketPath != "" {
				return fmt.Errorf("--port and --socket are mutually exclusive")
			}
			if port == 0 && socketPath == "" {
				return fmt.Errorf("--port 0 requires --socket")
			}
			return run(cmd, runOpts{
				port:            port,
				socketPath:      socketPath,
				portGRPC:        portGRPC,
				authToken:       authToken,
				agentType:       agentType,
				agentConfigPath: agentConfigPath,
				attachTarget:    attachTarget,
				cols:            cols,
				rows:            rows,
				ringSize:        ringSize,
				groomMode:       groomMode,
				resumeID:        resumeID,
				hot:             hot,
				command:         args,
			})
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&port, "port", 7100, "HTTP/WebSocket listen port (0 to disable TCP and require --socket)")
	flags.StringVar(&socketPath, "socket", "", "Unix socket path for HTTP/WebSocket, instead of --port")
	flags.IntVar(&portGRPC, "port-grpc", 7101, "gRPC listen port")
	flags.StringVar(&authToken, "auth-token", os.Getenv("COOP_AUTH_TOKEN"), "Bearer token required on every request; empty disables auth")
	flags.StringVar(&agentType, "agent", "generic", "Agent driver name (claude, codex, generic)")
	flags.StringVar(&agentConfigPath, "agent-config", "", "YAML file seeding stop/start hook config and credential profiles")
	flags.StringVar(&attachTarget, "attach", "", "Attach to an existing tmux:NAME or screen:NAME session instead of spawning one")
	flags.IntVar(&cols, "cols", 80, "Initial terminal width")
	flags.IntVar(&rows, "rows", 24, "Initial terminal height")
	flags.IntVar(&ringSize, "ring-size", 1<<20, "Ring buffer capacity in bytes")
	flags.StringVar(&groomMode, "groom", "auto", "Disruption-prompt handling: auto, manual, pristine")
	flags.StringVar(&resumeID, "resume", "", "Resume an existing agent conversation, if the driver supports it")
	flags.BoolVar(&hot, "hot", false, "Treat the attach target as an already-running, warmed-up session (skip the Starting phase)")

	return cmd
}

type runOpts struct {
	port            int
	socketPath      string
	portGRPC        int
	authToken       string
	agentType       string
	agentConfigPath string
	attachTarget    string
	cols, rows      int
	ringSize        int
	groomMode       string
	resumeID        string
	hot             bool
	command         []string
}

func run(cmd *cobra.Command, o runOpts) error {
	logger := newLogger()

	var backend ptybackend.Backend
	if o.attachTarget != "" {
		mux, name, err := ptybackend.ParseAttachTarget(o.attachTarget)
		if err != nil {
			return err
		}
		backend = ptybackend.NewAttach(mux, name)
	}

	httpListener, err := listenHTTP(o.port, o.socketPath)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	defer httpListener.Close()

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", o.portGRPC))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	defer grpcListener.Close()

	coopURL := "http://" + httpAdvertiseAddr(httpListener, o.port, o.socketPath)

	var command string
	var cmdArgs []string
	if len(o.command) > 0 {
		command = o.command[0]
		cmdArgs = o.command[1:]
	}

	applyTuningFromEnv()

	sessionID := uuid.New().String()
	sessCfg := coopsession.Config{
		SessionID:    sessionID,
		Command:      command,
		Args:         resumeArgs(o.agentType, o.resumeID, cmdArgs),
		Env:          map[string]string{"COOP_URL": coopURL},
		AgentType:    o.agentType,
		Rows:         o.rows,
		Cols:         o.cols,
		RingSize:     o.ringSize,
		AuthToken:    o.authToken,
		Attach:       backend,
		HookPipePath: artifact.HookPipePath(sessionID),
		GroomMode:    o.groomMode,
		Tuning:       tuningFromEnv(),
	}

	loop, err := coopsession.New(sessCfg)
	if err != nil {
		return fmt.Errorf("init session: %w", err)
	}

	if o.agentConfigPath != "" {
		if err := seedConfig(loop, o.agentConfigPath); err != nil {
			return fmt.Errorf("load --agent-config: %w", err)
		}
	}

	if err := loop.Spawn(); err != nil {
		return fmt.Errorf("spawn agent: %w", err)
	}
	if o.hot {
		// --hot: the target is an already-running, already-warmed-up
		// session (almost always paired with --attach), so there is no
		// Starting phase to observe; seed Idle instead of waiting for a
		// tier to notice activity that already happened.
		loop.Store.SetState(agentstate.State{Kind: agentstate.Idle}, 0)
	}

	logger.Info("session started",
		"session_id", loop.ID(),
		"agent", loop.DriverName(),
		"http", httpListener.Addr().String(),
		"grpc", grpcListener.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpSrv := &http.Server{Handler: muxTransports(loop)}
	go func() {
		if err := httpSrv.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
		}
	}()

	grpcSrv := rpc.New(loop)
	go func() {
		if err := grpcSrv.Serve(grpcListener); err != nil {
			logger.Error("grpc server exited", "err", err)
		}
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- loop.Run(ctx) }()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var shutdownResult <-chan int
	exitCode := 0

waitLoop:
	for {
		select {
		case runErr := <-runDone:
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				logger.Error("session loop exited", "err", runErr)
			}
			if code, ok := loop.Store.ExitCode(); ok {
				exitCode = code
			}
			break waitLoop

		case <-sigCh:
			if shutdownResult == nil {
				logger.Info("shutdown requested, draining")
				shutdownResult = loop.RequestShutdown(false)
			} else {
				logger.Warn("second signal received, forcing exit")
				os.Exit(130)
			}

		case code := <-shutdownResult:
			exitCode = code
			<-runDone
			break waitLoop
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

func muxTransports(loop *coopsession.Loop) http.Handler {
	mux := httpapi.New(loop)
	ws := wsapi.New(loop)
	mux.Handle("/ws", ws)
	return mux
}

func listenHTTP(port int, socketPath string) (net.Listener, error) {
	if socketPath != "" {
		os.Remove(socketPath)
		return net.Listen("unix", socketPath)
	}
	return net.Listen("tcp", fmt.Sprintf(":%d", port))
}

func httpAdvertiseAddr(l net.Listener, port int, socketPath string) string {
	if socketPath != "" {
		return "unix:" + socketPath
	}
	if tcp, ok := l.Addr().(*net.TCPAddr); ok {
		return "127.0.0.1:" + strconv.Itoa(tcp.Port)
	}
	return l.Addr().String()
}

func resumeArgs(agentType, resumeID string, extra []string) []string {
	if resumeID == "" {
		return extra
	}
	switch agentType {
	case "claude":
		return append([]string{"--resume", resumeID}, extra...)
	case "codex":
		return append([]string{"resume", resumeID}, extra...)
	default:
		return extra
	}
}

func seedConfig(loop *coopsession.Loop, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var seed config.Config
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return err
	}
	store := loop.ConfigStore()
	if seed.Start.Text != "" || seed.Start.Shell != "" || len(seed.Start.Event) > 0 {
		if err := store.SetStart(seed.Start); err != nil {
			return err
		}
		loop.Store.SetStartConfig(seed.Start)
	}
	if seed.Stop.Mode != "" {
		if err := store.SetStop(seed.Stop); err != nil {
			return err
		}
		loop.Store.SetStopConfig(seed.Stop)
	}
	for _, p := range seed.Profiles {
		if err := loop.Profiles().Register(p); err != nil {
			return err
		}
	}
	return nil
}

// newLogger picks a human-readable text format for an attached terminal
// and JSON for a piped/redirected one, the same split the teacher's CLI
// makes for its own terminal-color detection (term_colors.go), just
// applied to log formatting instead of OSC color probing.
func newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		fmt.Fprintln(os.Stderr, termenv.String("coop "+version.DisplayVersion()).Bold())
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func envDuration(name string, defaultMS int) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return time.Duration(defaultMS) * time.Millisecond
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return time.Duration(defaultMS) * time.Millisecond
	}
	return time.Duration(n) * time.Millisecond
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(name string, defaultSecs int) time.Duration {
	return time.Duration(envInt(name, defaultSecs)) * time.Second
}

func tuningFromEnv() coopsession.Tuning {
	return coopsession.Tuning{
		DrainTimeout:     envDuration("COOP_DRAIN_TIMEOUT_MS", 20000),
		ShutdownTimeout:  envDuration("COOP_SHUTDOWN_TIMEOUT_MS", 10000),
		IdleTimeout:      envDuration("COOP_IDLE_TIMEOUT_MS", 0),
		ScreenDebounce:   envDuration("COOP_SCREEN_DEBOUNCE_MS", 50),
		ReapPoll:         envDuration("COOP_REAP_POLL_MS", 50),
		RotateCooldown:   envSeconds("COOP_ROTATE_COOLDOWN_SECS", 300),
		RotateMaxPerHour: envInt("COOP_ROTATE_MAX_PER_HOUR", 20),
	}
}

// applyTuningFromEnv wires the tuning knobs that live as package-level
// setters on C4/C6/C7 rather than on coopsession.Tuning, since those packages
// are usable (and tested) independently of a Loop. C12's cooldown/anti-flap
// setter is not called here: coopsession.New calls it from the Tuning
// already passed in, so a second call here would just race the first.
func applyTuningFromEnv() {
	promptenrich.SetTuning(200*time.Millisecond, 10)
	inputgate.SetTuning(
		envDuration("COOP_INPUT_DELAY_MS", 200),
		envDuration("COOP_INPUT_DELAY_PER_BYTE_MS", 1),
		envDuration("COOP_INPUT_DELAY_MAX_MS", 5000),
		envDuration("COOP_INPUT_DELAY_MS", 200),
		30*time.Second,
		envDuration("COOP_NUDGE_TIMEOUT_MS", 4000),
	)
	coopsession.SetGroomDismissDelay(envDuration("COOP_GROOM_DISMISS_DELAY_MS", 500))
	process.SetPollInterval(envDuration("COOP_PROCESS_POLL_MS", 10000))
	screentier.SetPollInterval(envDuration("COOP_SCREEN_POLL_MS", 3000))
	sessionlog.SetPollInterval(envDuration("COOP_LOG_POLL_MS", 3000))
}
