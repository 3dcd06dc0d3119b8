package cmd

import (
	"net"
	"strconv"
	"testing"
	"time"
)

func TestResumeArgsPrefixesPerDriver(t *testing.T) {
	cases := []struct {
		agent    string
		resumeID string
		extra    []string
		want     []string
	}{
		{"claude", "", []string{"--verbose"}, []string{"--verbose"}},
		{"claude", "abc", []string{"--verbose"}, []string{"--resume", "abc", "--verbose"}},
		{"codex", "abc", nil, []string{"resume", "abc"}},
		{"generic", "abc", []string{"foo"}, []string{"foo"}},
	}
	for _, tc := range cases {
		got := resumeArgs(tc.agent, tc.resumeID, tc.extra)
		if len(got) != len(tc.want) {
			t.Fatalf("resumeArgs(%q, %q, %v) = %v, want %v", tc.agent, tc.resumeID, tc.extra, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("resumeArgs(%q, %q, %v) = %v, want %v", tc.agent, tc.resumeID, tc.extra, got, tc.want)
			}
		}
	}
}

func TestEnvDurationFallsBackOnMissingOrInvalid(t *testing.T) {
	if got := envDuration("COOP_TEST_MISSING_DURATION", 250); got != 250*time.Millisecond {
		t.Errorf("missing env: got %v, want 250ms", got)
	}
	t.Setenv("COOP_TEST_DURATION", "not-a-number")
	if got := envDuration("COOP_TEST_DURATION", 250); got != 250*time.Millisecond {
		t.Errorf("invalid env: got %v, want 250ms", got)
	}
	t.Setenv("COOP_TEST_DURATION", "75")
	if got := envDuration("COOP_TEST_DURATION", 250); got != 75*time.Millisecond {
		t.Errorf("valid env: got %v, want 75ms", got)
	}
}

func TestEnvSecondsMultipliesBySecond(t *testing.T) {
	t.Setenv("COOP_TEST_SECONDS", "5")
	if got := envSeconds("COOP_TEST_SECONDS", 1); got != 5*time.Second {
		t.Errorf("got %v, want 5s", got)
	}
}

func TestHTTPAdvertiseAddrPrefersSocket(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	if got := httpAdvertiseAddr(lis, 0, "/tmp/coop.sock"); got != "unix:/tmp/coop.sock" {
		t.Errorf("socket case: got %q", got)
	}

	got := httpAdvertiseAddr(lis, 0, "")
	tcpAddr := lis.Addr().(*net.TCPAddr)
	want := "127.0.0.1:" + strconv.Itoa(tcpAddr.Port)
	if got != want {
		t.Errorf("tcp case: got %q, want %q", got, want)
	}
}
