package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"venturemill/internal/config"
	"venturemill/internal/db"
	"venturemill/internal/domain"
	"venturemill/internal/events"
	"venturemill/internal/migrate"
	"venturemill/internal/orchestrator"
	"venturemill/internal/pipeline"
	"venturemill/internal/store"
)

type testServer struct {
	URL    string
	Orch   *orchestrator.Orchestrator
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	reg, err := pipeline.NewRegistry(cfg, pipeline.Builtin(time.Now), time.Now)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	orch := orchestrator.New(store.Store{DB: conn}, events.Writer{DB: conn}, reg)
	handler, err := New(Config{Orchestrator: orch, BasePath: "/v1"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Orch:   orch,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestSubmitAndPollJob(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"kind":   "trend-scan",
		"params": map[string]any{"limit": 3},
	})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var submitted SubmitJobResponse
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("unmarshal submit: %v", err)
	}
	if submitted.JobID == "" || submitted.Status != domain.JobPending {
		t.Fatalf("submit response = %+v", submitted)
	}

	select {
	case <-srv.Orch.Wait(submitted.JobID):
	case <-time.After(10 * time.Second):
		t.Fatalf("job did not finish")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs/"+submitted.JobID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var job JobResponse
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if job.Status != domain.JobCompleted {
		t.Fatalf("job = %+v", job)
	}
	if len(job.StageResults) != 1 || job.StageResults[0].Stage != "trend-scan" {
		t.Fatalf("stage results = %+v", job.StageResults)
	}
	if len(job.Result) == 0 {
		t.Fatalf("completed job has no result")
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/jobs/nope", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("error code = %q", envelope.Error.Code)
	}
}

func TestSubmitUnknownKindRejected(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/jobs", map[string]any{"kind": "nope"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "invalid_input" {
		t.Fatalf("error code = %q", envelope.Error.Code)
	}
}

func TestListJobsFilters(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	var ids []string
	for _, kind := range []string{"trend-scan", "mvp-build"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{"kind": kind})
		if res.StatusCode != http.StatusAccepted {
			t.Fatalf("submit %s: %d %s", kind, res.StatusCode, string(data))
		}
		var submitted SubmitJobResponse
		_ = json.Unmarshal(data, &submitted)
		ids = append(ids, submitted.JobID)
	}
	for _, id := range ids {
		select {
		case <-srv.Orch.Wait(id):
		case <-time.After(10 * time.Second):
			t.Fatalf("job %s did not finish", id)
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs?kind=trend-scan", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var list JobListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].PipelineKind != "trend-scan" {
		t.Fatalf("filtered list = %+v", list.Items)
	}
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{"kind": "trend-scan"})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var submitted SubmitJobResponse
	_ = json.Unmarshal(data, &submitted)
	select {
	case <-srv.Orch.Wait(submitted.JobID):
	case <-time.After(10 * time.Second):
		t.Fatalf("job did not finish")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+submitted.JobID+"/cancel", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("cancel status %d: %s", res.StatusCode, string(data))
	}
}

func TestListPipelines(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/pipelines", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var defs []PipelineResponse
	if err := json.Unmarshal(data, &defs); err != nil {
		t.Fatalf("unmarshal pipelines: %v", err)
	}
	kinds := map[string]bool{}
	for _, d := range defs {
		kinds[d.Kind] = true
	}
	for _, want := range []string{"trend-scan", "idea-generation", "mvp-build", "marketing", "sales", "full-pipeline"} {
		if !kinds[want] {
			t.Fatalf("missing pipeline kind %s in %+v", want, kinds)
		}
	}
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg, err := pipeline.NewRegistry(config.Default(), pipeline.Builtin(time.Now), time.Now)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	orch := orchestrator.New(store.Store{DB: conn}, events.Writer{DB: conn}, reg)
	handler, err := New(Config{Orchestrator: orch, BasePath: "/v1", Auth: AuthConfig{JWTSecret: "secret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
	})
	url := "http://" + ln.Addr().String()
	client := &http.Client{}

	res, _ := doJSON(t, client, http.MethodGet, url+"/v1/jobs", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status %d", res.StatusCode)
	}
	// health stays open
	res, _ = doJSON(t, client, http.MethodGet, url+"/v1/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}
