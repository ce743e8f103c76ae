package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panostitch/internal/pipeline"
	"panostitch/internal/storage"
)

type fakeRunner struct {
	mu         sync.Mutex
	submitted  []pipeline.Job
	err        error
	results    chan pipeline.Result
	subscribed chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results:    make(chan pipeline.Result, 4),
		subscribed: make(chan struct{}, 4),
	}
}

func (f *fakeRunner) Submit(job pipeline.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, job)
	return nil
}

func (f *fakeRunner) Subscribe() (<-chan pipeline.Result, func()) {
	f.subscribed <- struct{}{}
	return f.results, func() {}
}

func newTestServer(t *testing.T, secret string) (*Server, *fakeRunner, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	runner := newFakeRunner()
	return NewServer(":0", store, runner, secret, slog.Default()), runner, store
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestJobsListAndDetail(t *testing.T) {
	s, _, store := newTestServer(t, "")
	require.NoError(t, store.RecordJobQueued(storage.JobRecord{ID: "j1", JobType: "stitch", Status: "queued", InputPath: "in"}))
	require.NoError(t, store.RecordJobResult("j1", "completed", map[string]any{"width": 100}, ""))
	require.NoError(t, store.RecordAlignments("j1", []storage.PairAlignment{{PairIndex: 0, DX: -3, DY: 1, Matches: 9}}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []storage.JobRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "completed", list[0].Status)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/j1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail JobDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "j1", detail.ID)
	assert.EqualValues(t, 100, detail.Meta["width"])
	require.Len(t, detail.Alignments, 1)
	assert.Equal(t, -3, detail.Alignments[0].DX)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitJob(t *testing.T) {
	s, runner, _ := newTestServer(t, "")
	body := `{"input": "/data/set", "focalFile": "/data/focal.txt", "output": "out.png", "options": {"seed": 3}}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, runner.submitted, 1)
	job := runner.submitted[0]
	assert.Equal(t, resp["id"], job.ID)
	assert.Equal(t, pipeline.JobStitch, job.Type)
	assert.Equal(t, "/data/focal.txt", job.Options[pipeline.OptFocalFile])
	assert.EqualValues(t, 3, job.Options["seed"])
}

func TestSubmitValidation(t *testing.T) {
	s, runner, _ := newTestServer(t, "")
	cases := map[string]string{
		"bad json": `{`,
		"no input": `{"output": "x.png"}`,
		"bad type": `{"input": "d", "type": "timelapse"}`,
	}
	for name, body := range cases {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}

	runner.err = pipeline.ErrQueueFull
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"input": "d"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitRequiresToken(t *testing.T) {
	const secret = "test-secret"
	s, runner, _ := newTestServer(t, secret)
	body := `{"input": "d"}`

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := IssueToken("other-secret", "mallory", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := IssueToken(secret, "ops", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, runner.submitted, 1)

	// Reads stay open.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenRoundTripAndExpiry(t *testing.T) {
	token, err := IssueToken("k", "alice", time.Hour)
	require.NoError(t, err)
	claims, err := VerifyToken("k", token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)

	expired, err := IssueToken("k", "alice", -time.Minute)
	require.NoError(t, err)
	_, err = VerifyToken("k", expired)
	assert.Error(t, err)

	_, err = IssueToken("", "alice", time.Hour)
	assert.Error(t, err)
}

func TestStreamSendsEvents(t *testing.T) {
	s, runner, _ := newTestServer(t, "")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	<-runner.subscribed
	runner.results <- pipeline.Result{Job: pipeline.Job{ID: "e1", Type: pipeline.JobStitch}, Error: errors.New("no images")}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "), line)

	var ev Event
	require.NoError(t, json.Unmarshal(bytes.TrimSpace([]byte(strings.TrimPrefix(line, "data: "))), &ev))
	assert.Equal(t, "e1", ev.ID)
	assert.Equal(t, "failed", ev.Status)
	assert.Equal(t, "no images", ev.Error)
}

func TestWebSocketSendsEvents(t *testing.T) {
	s, runner, _ := newTestServer(t, "")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	<-runner.subscribed
	runner.results <- pipeline.Result{Job: pipeline.Job{ID: "w1", Type: pipeline.JobScan}, Meta: map[string]any{"focals": 3}}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "w1", ev.ID)
	assert.Equal(t, "completed", ev.Status)
	assert.EqualValues(t, 3, ev.Meta["focals"])
}
