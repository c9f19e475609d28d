package admin

import (
	"context"
	"net/http"
	"runtime"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/topomesh/surveyd/pkg/errors"
	"github.com/topomesh/surveyd/pkg/logtrace"
	"github.com/topomesh/surveyd/survey"
	"github.com/topomesh/surveyd/survey/archive"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var adminFields = logtrace.Fields{logtrace.FieldModule: "admin"}

// Handler serves the admin command surface for one node.
type Handler struct {
	manager   *survey.Manager
	archive   *archive.Store
	peerCount func() int
	startedAt time.Time
}

// NewHandler builds the admin handler. peerCount reports the node's live
// connection count for the info document; archive may be nil.
func NewHandler(manager *survey.Manager, peerCount func() int, store *archive.Store) *Handler {
	if peerCount == nil {
		peerCount = func() int { return 0 }
	}
	return &Handler{
		manager:   manager,
		archive:   store,
		peerCount: peerCount,
		startedAt: time.Now(),
	}
}

// Register installs the command routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/surveytopology", h.handleSurveyTopology)
	mux.HandleFunc("/getsurveyresult", h.handleGetSurveyResult)
	mux.HandleFunc("/stopsurvey", h.handleStopSurvey)
	mux.HandleFunc("/info", h.handleInfo)
	if h.archive != nil {
		mux.HandleFunc("/surveyarchive", h.handleSurveyArchive)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCommandError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var cmdErr InvalidCommandError
	switch {
	case errors.As(err, &cmdErr):
		status = http.StatusBadRequest
	case errors.Is(err, survey.ErrRoundThrottled):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		logtrace.Error(ctx, "Admin command failed", logtrace.WithFields(adminFields, logtrace.Fields{
			logtrace.FieldError: err.Error(),
			"stack":             errors.StackTrace(err),
		}))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) handleSurveyTopology(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, err := parseSurveyTopologyCommand(r.URL.Query())
	if err != nil {
		writeCommandError(ctx, w, err)
		return
	}

	logtrace.Info(ctx, "Admin command received", logtrace.WithFields(adminFields, logtrace.Fields{
		logtrace.FieldCommand:    "surveytopology",
		logtrace.FieldSurveyedID: cmd.Node.String(),
		logtrace.FieldDurationMS: cmd.Duration.Milliseconds(),
	}))

	if err := h.manager.StartSurvey(ctx, cmd.Node, cmd.Duration); err != nil {
		writeCommandError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"node":     cmd.Node.String(),
		"duration": int(cmd.Duration.Seconds()),
	})
}

// surveyResultDoc is the getsurveyresult response document. A null topology
// entry means the node was queried but has not answered.
type surveyResultDoc struct {
	Topology map[string]*survey.TopologyDoc `json:"topology"`
}

func (h *Handler) handleGetSurveyResult(w http.ResponseWriter, r *http.Request) {
	results := h.manager.SurveyResults()
	doc := surveyResultDoc{Topology: make(map[string]*survey.TopologyDoc, len(results))}
	for node, body := range results {
		if body == nil {
			doc.Topology[node.String()] = nil
			continue
		}
		doc.Topology[node.String()] = body.Doc()
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleStopSurvey(w http.ResponseWriter, r *http.Request) {
	h.manager.StopSurvey(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSurveyArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, err := parseArchiveQueryCommand(r.URL.Query())
	if err != nil {
		writeCommandError(ctx, w, err)
		return
	}
	results, err := h.archive.RecentResults(ctx, cmd.Limit)
	if err != nil {
		writeCommandError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// infoDoc is the node status document served at /info.
type infoDoc struct {
	NodeID        string  `json:"nodeId"`
	SurveyState   string  `json:"surveyState"`
	UptimeSeconds int64   `json:"uptimeSeconds"`
	PeersCount    int     `json:"peersCount"`
	GoVersion     string  `json:"goVersion"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemPercent    float64 `json:"memPercent"`
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state := "idle"
	if h.manager.State() == survey.SessionActive {
		state = "active"
	}
	doc := infoDoc{
		NodeID:        h.manager.NodeID().String(),
		SurveyState:   state,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		PeersCount:    h.peerCount(),
		GoVersion:     runtime.Version(),
	}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		doc.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		doc.MemPercent = vm.UsedPercent
	}
	writeJSON(w, http.StatusOK, doc)
}
