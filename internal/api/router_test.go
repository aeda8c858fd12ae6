package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailkeeper/internal/api/middleware"
	"github.com/luo-one/mailkeeper/internal/config"
	"github.com/luo-one/mailkeeper/internal/database"
	"github.com/luo-one/mailkeeper/internal/database/models"
	"github.com/luo-one/mailkeeper/internal/logger"
	"github.com/luo-one/mailkeeper/internal/mailbox"
	"github.com/luo-one/mailkeeper/internal/services"
	"github.com/luo-one/mailkeeper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeTrigger struct {
	mu        sync.Mutex
	busy      bool
	err       error
	lastQuery *mailbox.Query
	ctxErr    error
	calls     int
}

func (f *fakeTrigger) Trigger(ctx context.Context, trigger models.JobTrigger, q *mailbox.Query) (*models.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastQuery = q
	f.ctxErr = ctx.Err()
	if f.busy {
		return nil, services.ErrRunInProgress
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.JobRun{
		ID:        42,
		Status:    models.JobStatusSuccess,
		StartedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Trigger:   trigger,
	}, nil
}

func (f *fakeTrigger) State() services.SchedulerState {
	return services.StateIdle
}

type apiEnv struct {
	router  *gin.Engine
	db      *gorm.DB
	auth    *middleware.AuthManager
	trigger *fakeTrigger
	writer  *services.AttachmentWriter
	blobs   *storage.DirStore
	apiKey  string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	db, err := database.InitializeWithLogLevel(filepath.Join(dir, "api.db"), "SILENT")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	blobs, err := storage.NewDirStore(filepath.Join(dir, "attachments"))
	require.NoError(t, err)

	auth, err := middleware.NewAuthManager(dir, "api-test-secret", time.Hour)
	require.NoError(t, err)

	log := logger.Discard()
	logs := services.NewLogServiceWithLevel(db, "DEBUG")
	writer := services.NewAttachmentWriter(db, blobs, logs, log)
	trigger := &fakeTrigger{}

	cfg := &config.Config{CORSOrigins: "*"}
	router := SetupRouter(cfg, Dependencies{
		Auth:      auth,
		Scheduler: trigger,
		Recorder:  services.NewRunRecorder(db),
		Emails:    services.NewEmailService(db, writer, logs, logger.Discard()),
		Filters:   services.NewFilterService(db),
		Logs:      logs,
		Logger:    log,
	})

	return &apiEnv{
		router:  router,
		db:      db,
		auth:    auth,
		trigger: trigger,
		writer:  writer,
		blobs:   blobs,
		apiKey:  auth.APIKeyManager.GetCurrentKey(),
	}
}

func (e *apiEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	return e.doWith(method, path, body, map[string]string{middleware.APIKeyHeader: e.apiKey})
}

func (e *apiEnv) doWith(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func (e *apiEnv) seedEmail(t *testing.T, messageID string, received *time.Time, attachments ...string) *models.Email {
	t.Helper()
	subject := "subject " + messageID
	email := &models.Email{MessageID: messageID, Sender: "sender@example.com", Subject: &subject, ReceivedAt: received}
	require.NoError(t, e.db.Create(email).Error)
	for _, name := range attachments {
		_, err := e.writer.Write(context.Background(), e.db, nil, email, name, "text/plain", []byte("content of "+name))
		require.NoError(t, err)
	}
	return email
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	env := newAPIEnv(t)

	w := env.doWith(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = env.doWith(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mailkeeper_http_requests_total")
}

func TestAPIRequiresCredentials(t *testing.T) {
	env := newAPIEnv(t)

	w := env.doWith(http.MethodGet, "/api/emails", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_FAILED", decode(t, w, nil).Error.Code)

	w = env.doWith(http.MethodGet, "/api/emails", nil, map[string]string{middleware.APIKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.doWith(http.MethodPost, "/api/auth/token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssuedTokenAuthenticates(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(http.MethodPost, "/api/auth/token", map[string]string{"operator": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	var tok struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	decode(t, w, &tok)
	require.NotEmpty(t, tok.Token)
	assert.Greater(t, tok.ExpiresAt, time.Now().Unix())

	w = env.doWith(http.MethodGet, "/api/filters", nil, map[string]string{
		middleware.AuthorizationHeader: middleware.BearerPrefix + tok.Token,
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// Bearer tokens cannot mint further tokens
	w = env.doWith(http.MethodPost, "/api/auth/token", nil, map[string]string{
		middleware.AuthorizationHeader: middleware.BearerPrefix + tok.Token,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTriggerJob(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(http.MethodPost, "/api/job/trigger", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		JobRunID  uint      `json:"job_run_id"`
		Status    string    `json:"status"`
		StartedAt time.Time `json:"started_at"`
	}
	decode(t, w, &resp)
	assert.Equal(t, uint(42), resp.JobRunID)
	assert.Equal(t, "success", resp.Status)
	assert.False(t, resp.StartedAt.IsZero())
	assert.Nil(t, env.trigger.lastQuery, "no body means the default search")

	w = env.do(http.MethodPost, "/api/job/trigger", mailbox.Query{Sender: "boss@corp", Keyword: "invoice"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.trigger.lastQuery)
	assert.Equal(t, "boss@corp", env.trigger.lastQuery.Sender)
	assert.Equal(t, "invoice", env.trigger.lastQuery.Keyword)

	w = env.doWith(http.MethodPost, "/api/job/trigger", nil, map[string]string{
		middleware.APIKeyHeader: env.apiKey,
		"Content-Type":          "application/json",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTriggerJobOutlivesClient(t *testing.T) {
	env := newAPIEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/job/trigger", nil).WithContext(ctx)
	req.Header.Set(middleware.APIKeyHeader, env.apiKey)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.trigger.calls)
	assert.NoError(t, env.trigger.ctxErr, "the run does not inherit the request's cancellation")
}

func TestTriggerJobBusy(t *testing.T) {
	env := newAPIEnv(t)
	env.trigger.busy = true

	w := env.do(http.MethodPost, "/api/job/trigger", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "RUN_IN_PROGRESS", decode(t, w, nil).Error.Code)
}

func TestTriggerJobMalformedBody(t *testing.T) {
	env := newAPIEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/job/trigger", bytes.NewBufferString("{not json"))
	req.Header.Set(middleware.APIKeyHeader, env.apiKey)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, env.trigger.calls)
}

func TestJobMetricsAndRuns(t *testing.T) {
	env := newAPIEnv(t)
	recorder := services.NewRunRecorder(env.db)
	ctx := context.Background()

	run, err := recorder.Begin(ctx, models.JobTriggerScheduled)
	require.NoError(t, err)
	require.NoError(t, recorder.Finish(ctx, run, 5, 3, models.JobStatusSuccess, ""))

	w := env.do(http.MethodGet, "/api/job/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var m struct {
		Metrics        services.JobMetrics `json:"metrics"`
		SchedulerState string              `json:"scheduler_state"`
	}
	decode(t, w, &m)
	assert.Equal(t, int64(1), m.Metrics.TotalRuns)
	assert.Equal(t, int64(5), m.Metrics.TotalMessagesFetched)
	assert.Equal(t, int64(3), m.Metrics.TotalMessagesSaved)
	require.NotNil(t, m.Metrics.LastStatus)
	assert.Equal(t, models.JobStatusSuccess, *m.Metrics.LastStatus)
	assert.Equal(t, "idle", m.SchedulerState)

	w = env.do(http.MethodGet, "/api/job/runs?page=1&page_size=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs services.RunListResult
	decode(t, w, &runs)
	assert.Equal(t, int64(1), runs.Total)
	require.Len(t, runs.Runs, 1)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/job/runs/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/job/runs/99", nil).Code)
}

func TestListEmails(t *testing.T) {
	env := newAPIEnv(t)
	for i := 0; i < 3; i++ {
		ts := time.Date(2024, 5, i+1, 0, 0, 0, 0, time.UTC)
		env.seedEmail(t, "<"+string(rune('a'+i))+"@x>", &ts)
	}
	env.seedEmail(t, "<with@x>", nil, "report.csv")

	w := env.do(http.MethodGet, "/api/emails?page=1&page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items       []models.Email `json:"items"`
		Total       int64          `json:"total"`
		HasNext     bool           `json:"has_next"`
		HasPrevious bool           `json:"has_previous"`
	}
	decode(t, w, &page)
	assert.Equal(t, int64(4), page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "<c@x>", page.Items[0].MessageID)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrevious)

	w = env.do(http.MethodGet, "/api/emails?has_attachments=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "<with@x>", page.Items[0].MessageID)
	assert.Len(t, page.Items[0].Attachments, 1)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/emails?page=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/emails?page_size=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/emails?has_attachments=maybe", nil).Code)
}

func TestGetAndDeleteEmail(t *testing.T) {
	env := newAPIEnv(t)
	email := env.seedEmail(t, "<del@x>", nil, "a.txt")

	w := env.do(http.MethodGet, "/api/emails/"+itoa(email.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Email
	decode(t, w, &got)
	assert.Equal(t, "<del@x>", got.MessageID)
	require.Len(t, got.Attachments, 1)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/emails/999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/emails/abc", nil).Code)

	// Soft delete hides the email from the default listing only
	require.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/api/emails/"+itoa(email.ID), nil).Code)
	var page struct {
		Total int64 `json:"total"`
	}
	decode(t, env.do(http.MethodGet, "/api/emails", nil), &page)
	assert.Zero(t, page.Total)
	decode(t, env.do(http.MethodGet, "/api/emails?include_deleted=true", nil), &page)
	assert.Equal(t, int64(1), page.Total)

	require.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/api/emails/"+itoa(email.ID)+"?hard_delete=true", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/emails/"+itoa(email.ID), nil).Code)
	assert.False(t, env.blobs.Exists(got.Attachments[0].FilenameStored))
}

func TestDownloadAttachment(t *testing.T) {
	env := newAPIEnv(t)
	email := env.seedEmail(t, "<dl@x>", nil, "notes.txt")

	var att models.Attachment
	require.NoError(t, env.db.Where("email_id = ?", email.ID).First(&att).Error)

	w := env.do(http.MethodGet, "/api/attachments/"+itoa(att.ID)+"/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "content of notes.txt", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "notes.txt")
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")

	require.NoError(t, os.Remove(env.blobs.Path(att.FilenameStored)))
	w = env.do(http.MethodGet, "/api/attachments/"+itoa(att.ID)+"/download", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/api/attachments/"+itoa(att.ID), nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/attachments/"+itoa(att.ID), nil).Code)
}

func TestFilterCRUD(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(http.MethodPost, "/api/filters", map[string]interface{}{"name": "invoices", "subject_contains": "fatura"})
	require.Equal(t, http.StatusCreated, w.Code)
	var f models.EmailFilter
	decode(t, w, &f)
	assert.True(t, f.Enabled)

	w = env.do(http.MethodPost, "/api/filters", map[string]interface{}{"name": "invoices"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPost, "/api/filters", map[string]interface{}{"subject_contains": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPut, "/api/filters/"+itoa(f.ID), map[string]interface{}{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &f)
	assert.False(t, f.Enabled)
	require.NotNil(t, f.SubjectContains)

	var list []models.EmailFilter
	decode(t, env.do(http.MethodGet, "/api/filters", nil), &list)
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/api/filters/"+itoa(f.ID), nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/filters/"+itoa(f.ID), nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPut, "/api/filters/"+itoa(f.ID), map[string]interface{}{"enabled": true}).Code)

	w = env.do(http.MethodGet, "/api/logs?module=filter", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs struct {
		Total int64 `json:"total"`
	}
	decode(t, w, &logs)
	assert.Equal(t, int64(3), logs.Total, "create, update and delete are logged")

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/logs?start_time=yesterday", nil).Code)
}
