package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/coopdev/coop/internal/activitylog"
)

func TestServerAccumulatesUsage(t *testing.T) {
	c := NewCollector(activitylog.Nop())
	s, err := NewServer(c)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Stop()

	body := []byte(`[{"input_tokens":10,"output_tokens":20,"cost_usd":0.05,"tool_name":"Bash"}]`)
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/v1/logs", s.Port), "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().InputTokens == 10 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	snp := c.Snapshot()
	if snp.InputTokens != 10 || snp.OutputTokens != 20 || snp.TotalCostUSD != 0.05 {
		t.Fatalf("unexpected snapshot: %+v", snp)
	}
	if snp.ToolCounts["Bash"] != 1 {
		t.Fatalf("expected Bash tool count 1, got %+v", snp.ToolCounts)
	}
}

func TestCollectorIgnoresUnparseableBody(t *testing.T) {
	c := NewCollector(activitylog.Nop())
	c.record([]byte("not json"))
	if snp := c.Snapshot(); snp.InputTokens != 0 {
		t.Fatalf("expected no-op on bad body, got %+v", snp)
	}
}

func TestCollectorAcceptsSingleObjectBody(t *testing.T) {
	c := NewCollector(activitylog.Nop())
	c.record([]byte(`{"input_tokens":5,"output_tokens":7}`))
	snp := c.Snapshot()
	if snp.InputTokens != 5 || snp.OutputTokens != 7 {
		t.Fatalf("unexpected snapshot: %+v", snp)
	}
}
