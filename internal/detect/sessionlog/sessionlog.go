// Package sessionlog implements detector tier 2: a tailer over the agent's
// own session transcript file, discovered either via an env override, a
// glob under the agent's default config directory, or an explicit session
// id passed to the child at spawn.
package sessionlog

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/harness"
)

const tierID = 2

var defaultPollInterval = 3 * time.Second

// SetPollInterval overrides the discovery/read poll cadence; callers wire
// this to COOP_LOG_POLL_MS at startup.
func SetPollInterval(d time.Duration) {
	if d > 0 {
		defaultPollInterval = d
	}
}

// Discover resolves the session-log path to tail. An explicit path, when
// the caller already knows it, wins outright; otherwise it tries (a) the
// newest match under the driver's config-dir env override, then (b) the
// newest file matching the driver's default glob.
func Discover(driver *harness.Driver, explicitPath string) (string, error) {
	if explicitPath != "" {
		return explicitPath, nil
	}
	if driver.ConfigDirEnv != "" {
		if dir := os.Getenv(driver.ConfigDirEnv); dir != "" {
			glob := filepath.Join(dir, filepath.Base(driver.SessionLogGlob))
			if path, err := newestMatch(glob); err == nil {
				return path, nil
			}
		}
	}
	if driver.SessionLogGlob == "" {
		return "", fmt.Errorf("sessionlog: driver %q has no session log glob", driver.Name)
	}
	return newestMatch(expandHome(driver.SessionLogGlob))
}

func expandHome(pattern string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return pattern
	}
	if len(pattern) >= 2 && pattern[:2] == "~/" {
		return filepath.Join(home, pattern[2:])
	}
	return pattern
}

func newestMatch(glob string) (string, error) {
	matches, err := filepath.Glob(glob)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("sessionlog: no file matches %s", glob)
	}
	sort.Slice(matches, func(i, j int) bool {
		si, erri := os.Stat(matches[i])
		sj, errj := os.Stat(matches[j])
		if erri != nil || errj != nil {
			return matches[i] < matches[j]
		}
		return si.ModTime().Before(sj.ModTime())
	})
	return matches[len(matches)-1], nil
}

// Run tails path, parsing each line with driver.ParseLogLine and emitting
// accepted states as DetectionSignals. Waits for the file to appear (the
// agent may not have created its transcript yet at spawn time) and exits
// when ctx is cancelled.
func Run(ctx context.Context, path string, driver *harness.Driver, out chan<- agentstate.DetectionSignal) {
	if driver == nil || driver.ParseLogLine == nil {
		<-ctx.Done()
		return
	}

	var f *os.File
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()
	for {
		var err error
		f, err = os.Open(path)
		if err == nil {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var partial []byte
	for {
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				partial = append(partial, line...)
				break
			}
			if len(partial) > 0 {
				line = append(partial, line...)
				partial = nil
			}
			if state, ok := driver.ParseLogLine(trimNewline(line)); ok {
				select {
				case out <- agentstate.DetectionSignal{State: state, TierID: tierID, Source: agentstate.SourceLog}:
				case <-ctx.Done():
					return
				}
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func trimNewline(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
