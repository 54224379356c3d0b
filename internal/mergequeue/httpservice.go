package mergequeue

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

// templFS contains the web pages.
//
//go:embed pages/templates/*
var templFS embed.FS

var templFuncs = template.FuncMap{
	"add": func(a, b int) int {
		return a + b
	},
	"shortSHA": shortSHA,
}

type HTTPService struct {
	mq        *MergeQueue
	templates *template.Template
	logger    *zap.Logger
}

func NewHTTPService(mq *MergeQueue) *HTTPService {
	return &HTTPService{
		mq: mq,
		templates: template.Must(
			template.New("").
				Funcs(templFuncs).
				ParseFS(templFS, "pages/templates/*"),
		),
		logger: mq.logger.Named("http_service"),
	}
}

// RegisterHandlers registers the status page at endpoint and the JSON API
// below endpoint + "api/v1/".
func (h *HTTPService) RegisterHandlers(mux *http.ServeMux, endpoint string) {
	mux.HandleFunc("GET "+endpoint+"{$}", h.HandlerListFunc)

	api := endpoint + "api/v1/repos/{owner}/{repo}/"
	mux.HandleFunc("GET "+api+"queue", h.HandlerQueueFunc)
	mux.HandleFunc("GET "+api+"pulls/{number}", h.HandlerPullRequestFunc)
}

type httpListData struct {
	Queues          []*QueueStatus
	ProcessedEvents uint64
	CreatedAt       time.Time
}

func (h *HTTPService) HandlerListFunc(respWr http.ResponseWriter, req *http.Request) {
	queues, err := h.mq.QueueStatuses(req.Context())
	if err != nil {
		h.logger.Warn("retrieving queue status failed", zap.Error(err))
		http.Error(respWr, err.Error(), http.StatusInternalServerError)
		return
	}

	data := httpListData{
		Queues:          queues,
		ProcessedEvents: h.mq.processedEventCnt.Load(),
		CreatedAt:       h.mq.now(),
	}

	err = h.templates.ExecuteTemplate(respWr, "list.html.tmpl", &data)
	if err != nil {
		h.logger.Info("applying template and sending back result failed", zap.Error(err))
		http.Error(respWr, err.Error(), http.StatusInternalServerError)
		return
	}
}

type jsonPullRequest struct {
	Number         int        `json:"number"`
	Title          string     `json:"title"`
	Author         string     `json:"author"`
	HeadSHA        string     `json:"head_sha"`
	BaseBranch     string     `json:"base_branch"`
	Status         string     `json:"status"`
	ApprovedBy     string     `json:"approved_by,omitempty"`
	ApprovedSHA    string     `json:"approved_sha,omitempty"`
	Delegated      bool       `json:"delegated"`
	Priority       int        `json:"priority"`
	MergeableState string     `json:"mergeable_state"`
	Rollup         string     `json:"rollup"`
	Isolated       bool       `json:"isolated"`
	BuildID        *int64     `json:"build_id,omitempty"`
	TryBuildID     *int64     `json:"try_build_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	QueuePosition  int        `json:"queue_position,omitempty"`
	Build          *jsonBuild `json:"build,omitempty"`
	TryBuild       *jsonBuild `json:"try_build,omitempty"`
}

type jsonBuild struct {
	ID         int64           `json:"id"`
	Kind       string          `json:"kind"`
	Branch     string          `json:"branch"`
	CommitSHA  string          `json:"commit_sha"`
	Parent     string          `json:"parent"`
	Status     string          `json:"status"`
	ExternalID string          `json:"external_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Workflows  []*jsonWorkflow `json:"workflows,omitempty"`
}

type jsonWorkflow struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	RunID  int64  `json:"run_id"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

type jsonQueue struct {
	Repository   string             `json:"repository"`
	BuildSlots   int                `json:"build_slots"`
	ActiveBuilds []*jsonBuild       `json:"active_builds"`
	InProgress   []*jsonPullRequest `json:"in_progress"`
	Queued       []*jsonPullRequest `json:"queued"`
	Approved     []*jsonPullRequest `json:"approved"`
	TryBuilding  []*jsonPullRequest `json:"try_building"`
}

func toJSONPullRequest(pr *model.PullRequest) *jsonPullRequest {
	result := jsonPullRequest{
		Number:         pr.Number,
		Title:          pr.Title,
		Author:         pr.Author,
		HeadSHA:        pr.HeadSHA,
		BaseBranch:     pr.BaseBranch,
		Status:         string(pr.Status),
		Delegated:      pr.Delegated,
		Priority:       pr.Priority,
		MergeableState: string(pr.MergeableState),
		Rollup:         string(pr.Rollup),
		Isolated:       pr.Isolated,
		BuildID:        pr.BuildID,
		TryBuildID:     pr.TryBuildID,
		CreatedAt:      pr.CreatedAt,
		UpdatedAt:      pr.UpdatedAt,
	}

	if pr.Approval != nil {
		result.ApprovedBy = pr.Approval.Approver
		result.ApprovedSHA = pr.Approval.SHA
	}

	return &result
}

func toJSONPullRequests(prs []*model.PullRequest) []*jsonPullRequest {
	result := make([]*jsonPullRequest, 0, len(prs))
	for _, pr := range prs {
		result = append(result, toJSONPullRequest(pr))
	}

	return result
}

func toJSONBuild(b *model.Build) *jsonBuild {
	if b == nil {
		return nil
	}

	return &jsonBuild{
		ID:         b.ID,
		Kind:       string(b.Kind),
		Branch:     b.Branch,
		CommitSHA:  b.CommitSHA,
		Parent:     b.Parent,
		Status:     string(b.Status),
		ExternalID: b.ExternalID,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func (h *HTTPService) repoID(respWr http.ResponseWriter, req *http.Request) (model.RepoID, bool) {
	repo, err := model.NewRepoID(req.PathValue("owner"), req.PathValue("repo"))
	if err != nil {
		http.Error(respWr, err.Error(), http.StatusBadRequest)
		return model.RepoID{}, false
	}

	return repo, true
}

func (h *HTTPService) HandlerQueueFunc(respWr http.ResponseWriter, req *http.Request) {
	repo, ok := h.repoID(respWr, req)
	if !ok {
		return
	}

	st, err := h.mq.QueueStatus(req.Context(), repo)
	if err != nil {
		h.writeError(respWr, err)
		return
	}

	resp := jsonQueue{
		Repository:  st.Repository.String(),
		BuildSlots:  st.BuildSlots,
		InProgress:  toJSONPullRequests(st.InProgress),
		Queued:      toJSONPullRequests(st.Queued),
		Approved:    toJSONPullRequests(st.Approved),
		TryBuilding: toJSONPullRequests(st.TryBuilding),
	}

	for i, pr := range resp.Queued {
		pr.QueuePosition = i + 1
	}

	resp.ActiveBuilds = make([]*jsonBuild, 0, len(st.ActiveBuilds))
	for _, b := range st.ActiveBuilds {
		resp.ActiveBuilds = append(resp.ActiveBuilds, toJSONBuild(b))
	}

	h.writeJSON(respWr, &resp)
}

func (h *HTTPService) HandlerPullRequestFunc(respWr http.ResponseWriter, req *http.Request) {
	repo, ok := h.repoID(respWr, req)
	if !ok {
		return
	}

	number, err := strconv.Atoi(req.PathValue("number"))
	if err != nil || number <= 0 {
		http.Error(respWr, "invalid pull request number", http.StatusBadRequest)
		return
	}

	st, err := h.mq.PullRequestStatus(req.Context(), model.PullRequestID{Repo: repo, Number: number})
	if err != nil {
		h.writeError(respWr, err)
		return
	}

	resp := toJSONPullRequest(st.PullRequest)
	resp.QueuePosition = st.QueuePosition
	resp.Build = toJSONBuild(st.Build)
	resp.TryBuild = toJSONBuild(st.TryBuild)

	if resp.Build != nil {
		for _, wf := range st.Workflows {
			resp.Build.Workflows = append(resp.Build.Workflows, &jsonWorkflow{
				Name:   wf.Name,
				URL:    wf.URL,
				RunID:  wf.RunID,
				Type:   string(wf.Type),
				Status: string(wf.Status),
			})
		}
	}

	h.writeJSON(respWr, resp)
}

func (h *HTTPService) writeError(respWr http.ResponseWriter, err error) {
	if errors.Is(err, borserr.ErrNotFound) {
		http.Error(respWr, err.Error(), http.StatusNotFound)
		return
	}

	h.logger.Warn("retrieving status failed", zap.Error(err))
	http.Error(respWr, "internal server error", http.StatusInternalServerError)
}

func (h *HTTPService) writeJSON(respWr http.ResponseWriter, v any) {
	respWr.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(respWr).Encode(v); err != nil {
		h.logger.Info("sending http response failed", zap.Error(err))
	}
}
