package ptybackend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Native spawns the agent CLI directly on a PTY master/slave pair. It is
// grounded on the teacher's virtualterminal.VT.StartPTY/PipeOutput/Resize,
// generalized behind the Backend interface and made explicitly non-blocking
// per spec §4.3.
type Native struct {
	mu  sync.Mutex
	cmd *exec.Cmd
	ptm *os.File
}

// NewNative constructs an unstarted native backend.
func NewNative() *Native {
	return &Native{}
}

func (n *Native) Spawn(command string, args []string, env map[string]string, cols, rows int) error {
	n.cmd = exec.Command(command, args...)
	if len(env) > 0 {
		base := os.Environ()
		merged := make([]string, 0, len(base)+len(env))
		for _, e := range base {
			key := e
			if idx := strings.Index(e, "="); idx >= 0 {
				key = e[:idx]
			}
			if _, overridden := env[key]; !overridden {
				merged = append(merged, e)
			}
		}
		for k, v := range env {
			merged = append(merged, k+"="+v)
		}
		n.cmd.Env = merged
	}

	ptm, err := pty.StartWithSize(n.cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return fmt.Errorf("ptybackend: start command: %w", err)
	}
	if err := unix.SetNonblock(int(ptm.Fd()), true); err != nil {
		ptm.Close()
		return fmt.Errorf("ptybackend: set nonblocking: %w", err)
	}
	n.ptm = ptm
	return nil
}

func (n *Native) ReadNonblocking(buf []byte) (int, error) {
	n.mu.Lock()
	ptm := n.ptm
	n.mu.Unlock()
	if ptm == nil {
		return 0, io.EOF
	}
	nr, err := ptm.Read(buf)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			return 0, ErrWouldBlock
		}
		if errors.Is(err, syscall.EIO) {
			// Child side closed; treat like EOF per spec §4.3 failure modes.
			return 0, io.EOF
		}
		return nr, err
	}
	return nr, nil
}

func (n *Native) Write(p []byte) (int, error) {
	n.mu.Lock()
	ptm := n.ptm
	n.mu.Unlock()
	if ptm == nil {
		return 0, io.ErrClosedPipe
	}
	nw, err := ptm.Write(p)
	if err != nil && (errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)) {
		return nw, ErrWouldBlock
	}
	return nw, err
}

func (n *Native) Resize(cols, rows int) error {
	n.mu.Lock()
	ptm := n.ptm
	n.mu.Unlock()
	if ptm == nil {
		return io.ErrClosedPipe
	}
	return pty.Setsize(ptm, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

func (n *Native) Signal(kind Signal) error {
	n.mu.Lock()
	cmd := n.cmd
	n.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	sig, err := unixSignal(kind)
	if err != nil {
		return err
	}
	// Negative PID targets the process group, which pty.StartWithSize
	// establishes as a new session leader for the child.
	return syscall.Kill(-cmd.Process.Pid, sig)
}

func (n *Native) ChildPID() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cmd == nil || n.cmd.Process == nil {
		return 0
	}
	return n.cmd.Process.Pid
}

func (n *Native) Wait() (ExitStatus, error) {
	n.mu.Lock()
	cmd := n.cmd
	n.mu.Unlock()
	if cmd == nil {
		return ExitStatus{}, errors.New("ptybackend: not spawned")
	}
	err := cmd.Wait()
	return exitStatusFromError(cmd, err), nil
}

func (n *Native) Close() error {
	n.mu.Lock()
	ptm := n.ptm
	n.ptm = nil
	n.mu.Unlock()
	if ptm == nil {
		return nil
	}
	return ptm.Close()
}

func unixSignal(kind Signal) (syscall.Signal, error) {
	switch kind {
	case SignalInterrupt:
		return syscall.SIGINT, nil
	case SignalTerminate:
		return syscall.SIGTERM, nil
	case SignalHangup:
		return syscall.SIGHUP, nil
	case SignalKill:
		return syscall.SIGKILL, nil
	case SignalStop:
		return syscall.SIGTSTP, nil
	case SignalContinue:
		return syscall.SIGCONT, nil
	default:
		return 0, fmt.Errorf("ptybackend: unknown signal %d", kind)
	}
}

func exitStatusFromError(cmd *exec.Cmd, err error) ExitStatus {
	var status ExitStatus
	if cmd.ProcessState == nil {
		if err == nil {
			zero := 0
			status.Code = &zero
		}
		return status
	}
	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	if !ok {
		code := cmd.ProcessState.ExitCode()
		status.Code = &code
		return status
	}
	switch {
	case ws.Exited():
		code := ws.ExitStatus()
		status.Code = &code
	case ws.Signaled():
		sig := ws.Signal().String()
		status.Signal = &sig
	}
	return status
}
