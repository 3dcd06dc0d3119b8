// Package metrics runs coop's OTLP/HTTP collector endpoint — the agent CLI
// is pointed at it via OTEL_EXPORTER_OTLP_ENDPOINT so coop can observe
// token/cost usage without scraping the transcript. This is ambient
// accounting, not one of the five detector tiers: it only ever feeds a
// usage snapshot, never an agentstate.DetectionSignal.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/coopdev/coop/internal/activitylog"
)

// Snapshot is a point-in-time copy of accumulated token/cost metrics.
type Snapshot struct {
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
	CachedTokens int64            `json:"cached_tokens"`
	TotalCostUSD float64          `json:"total_cost_usd"`
	TurnCount    int64            `json:"turn_count"`
	ToolCounts   map[string]int64 `json:"tool_counts,omitempty"`
}

// usageRecord is the subset of Anthropic/OpenAI-style OTLP log record
// attributes coop knows how to fold into a Snapshot. Agent exporters vary
// in exact shape; unrecognized attributes are ignored rather than erroring.
type usageRecord struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CachedTokens int64   `json:"cached_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	ToolName     string  `json:"tool_name,omitempty"`
	EventName    string  `json:"event_name,omitempty"`
}

// Collector accumulates usage records received over HTTP into a running
// Snapshot and mirrors each sample into the session's activity log.
type Collector struct {
	mu  sync.RWMutex
	snp Snapshot
	log *activitylog.Logger
}

// NewCollector creates a Collector. log may be activitylog.Nop().
func NewCollector(log *activitylog.Logger) *Collector {
	return &Collector{snp: Snapshot{ToolCounts: map[string]int64{}}, log: log}
}

// Snapshot returns a copy of the accumulated metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	toolCounts := make(map[string]int64, len(c.snp.ToolCounts))
	for k, v := range c.snp.ToolCounts {
		toolCounts[k] = v
	}
	snp := c.snp
	snp.ToolCounts = toolCounts
	return snp
}

func (c *Collector) record(body []byte) {
	var records []usageRecord
	if err := json.Unmarshal(body, &records); err != nil {
		// Some exporters send a single object rather than a batch.
		var single usageRecord
		if err := json.Unmarshal(body, &single); err != nil {
			return
		}
		records = []usageRecord{single}
	}

	c.mu.Lock()
	for _, r := range records {
		c.snp.InputTokens += r.InputTokens
		c.snp.OutputTokens += r.OutputTokens
		c.snp.CachedTokens += r.CachedTokens
		c.snp.TotalCostUSD += r.CostUSD
		if r.EventName == "turn_completed" {
			c.snp.TurnCount++
		}
		if r.ToolName != "" {
			c.snp.ToolCounts[r.ToolName]++
		}
	}
	c.mu.Unlock()

	for _, r := range records {
		c.log.OtelMetrics(r.InputTokens, r.OutputTokens, r.CostUSD)
	}
}

// Server is the OTLP/HTTP logs receiver the agent's exporter talks to.
// Binds a random localhost port, mirroring the teacher's otelserver.
type Server struct {
	Port      int
	collector *Collector
	listener  net.Listener
	http      *http.Server
}

// NewServer starts a Server bound to 127.0.0.1:0.
func NewServer(collector *Collector) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("metrics: listen: %w", err)
	}

	s := &Server{Port: ln.Addr().(*net.TCPAddr).Port, collector: collector, listener: ln}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/logs", s.handleLogs)
	mux.HandleFunc("/v1/metrics", s.handleIgnored)
	mux.HandleFunc("/v1/traces", s.handleIgnored)
	s.http = &http.Server{Handler: mux}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		wg.Done()
		s.http.Serve(ln)
	}()
	wg.Wait()

	s.collector.log.OtelConnected(fmt.Sprintf("http://127.0.0.1:%d", s.Port))
	return s, nil
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	r.Body.Close()

	s.collector.record(body)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("{}"))
}

func (s *Server) handleIgnored(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		r.Body.Close()
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("{}"))
}

// Stop shuts down the server.
func (s *Server) Stop() {
	if s.http != nil {
		s.http.Shutdown(context.Background())
	}
	if s.listener != nil {
		s.listener.Close()
	}
}
