package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/vodarchiver/vodarchiver/archiver"
	"github.com/vodarchiver/vodarchiver/ledger"
)

//go:embed dashboard.html
var dashboardHTML []byte

// PipelineStatus is the slice of pipeline state the status endpoint reads.
// Satisfied by *archiver.Pipeline.
type PipelineStatus interface {
	Current() *archiver.Activity
	LastCycle() *archiver.CycleSummary
	Uptime() time.Duration
}

// Handlers holds the dependencies for all HTTP handlers.
type Handlers struct {
	Store        ledger.Store
	Pipeline     PipelineStatus
	Channel      string
	Version      string
	PollInterval time.Duration
}

// statusResponse is the JSON shape served by /status.
type statusResponse struct {
	Channel       string                 `json:"channel"`
	Version       string                 `json:"version,omitempty"`
	PollInterval  string                 `json:"poll_interval,omitempty"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Summary       ledger.Summary         `json:"summary"`
	Current       *archiver.Activity     `json:"current_activity,omitempty"`
	LastCycle     *archiver.CycleSummary `json:"last_cycle,omitempty"`
	Records       []ledger.Record        `json:"records"`
}

// HandleStatus serves the full ledger state plus pipeline activity as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp, err := h.buildStatus(r.Context())
	if err != nil {
		http.Error(w, "ledger unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handlers) buildStatus(ctx context.Context) (statusResponse, error) {
	snap, err := h.Store.Snapshot(ctx)
	if err != nil {
		return statusResponse{}, err
	}
	sum, err := h.Store.Summary(ctx)
	if err != nil {
		return statusResponse{}, err
	}
	records := make([]ledger.Record, 0, len(snap))
	for _, rec := range snap {
		records = append(records, rec)
	}
	// Newest first, the order the dashboard shows them in.
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].VODID > records[j].VODID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	resp := statusResponse{
		Channel: h.Channel,
		Version: h.Version,
		Summary: sum,
		Records: records,
	}
	if h.PollInterval > 0 {
		resp.PollInterval = h.PollInterval.String()
	}
	if h.Pipeline != nil {
		resp.UptimeSeconds = int64(h.Pipeline.Uptime().Seconds())
		resp.Current = h.Pipeline.Current()
		resp.LastCycle = h.Pipeline.LastCycle()
	}
	return resp, nil
}

// HandleHealthz responds to liveness probes by checking that the ledger is
// readable.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Store.Summary(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleDashboard serves the embedded single-page dashboard.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(dashboardHTML)
}
