package coopsession

import (
	"bytes"
	"fmt"
	"net/http"
	"testing"
	"time"

	_ "github.com/coopdev/coop/internal/harness/generic"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	l, err := New(Config{
		SessionID: "usage-test-" + t.Name(),
		AgentType: "generic",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.metricsSrv.Stop() })
	return l
}

func TestMergeEnvPointsAtMetricsServer(t *testing.T) {
	l := newTestLoop(t)

	env := l.mergeEnv(map[string]string{"FOO": "bar"})
	want := fmt.Sprintf("http://127.0.0.1:%d", l.metricsSrv.Port)
	if got := env["OTEL_EXPORTER_OTLP_ENDPOINT"]; got != want {
		t.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT = %q, want %q", got, want)
	}
	if env["FOO"] != "bar" {
		t.Errorf("expected caller env to survive merge, got %v", env)
	}
}

func TestMergeEnvRespectsExplicitEndpoint(t *testing.T) {
	l := newTestLoop(t)

	env := l.mergeEnv(map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "http://example.invalid"})
	if got := env["OTEL_EXPORTER_OTLP_ENDPOINT"]; got != "http://example.invalid" {
		t.Errorf("expected caller-supplied endpoint to win, got %q", got)
	}
}

func TestPublishUsageBroadcastsOnChange(t *testing.T) {
	l := newTestLoop(t)

	sub := l.Store.Usage().Subscribe(2)
	defer l.Store.Usage().Unsubscribe(sub)

	body := []byte(`{"input_tokens":10,"output_tokens":20,"cost_usd":0.5}`)
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/v1/logs", l.metricsSrv.Port), "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && l.metricsCollector.Snapshot().InputTokens == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	l.publishUsage()

	select {
	case u := <-sub:
		if u.InputTokens != 10 || u.OutputTokens != 20 || u.TotalCostUSD != 0.5 {
			t.Fatalf("unexpected usage event: %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for usage broadcast")
	}

	// A second call with nothing new recorded must not re-broadcast.
	l.publishUsage()
	select {
	case u := <-sub:
		t.Fatalf("unexpected duplicate usage broadcast: %+v", u)
	default:
	}
}
