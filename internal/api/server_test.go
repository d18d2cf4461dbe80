package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobflow/internal/config"
	"jobflow/internal/events"
	"jobflow/internal/lifecycle"
	"jobflow/internal/models"
	"jobflow/internal/realtime"
	"jobflow/internal/store"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{HubBufferSize: 16, CascadeMaxRetries: 5}
	core := NewCore(cfg, store.NewMemory(), events.NewBus(logger, "test"), logger)
	return New(cfg, core, nil, logger).Router()
}

func do(t *testing.T, h http.Handler, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != "" {
		req.Header.Set(headerActor, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreateAndGetLifecycle(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/lifecycles", "user-1", map[string]any{"job_ref": "JC-1", "product_type": "carton", "priority": "high"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lc := decodeBody[models.JobLifecycle](t, rec)
	assert.Equal(t, models.StatusCreated, lc.Status)
	assert.Equal(t, models.PriorityHigh, lc.Priority)

	rec = do(t, h, http.MethodGet, "/lifecycles/JC-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "JC-1", decodeBody[models.JobLifecycle](t, rec).JobRef)

	rec = do(t, h, http.MethodPost, "/lifecycles", "user-1", map[string]any{"job_ref": "JC-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/lifecycles/JC-1/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decodeBody[struct {
		Items []models.LifecycleHistoryEntry `json:"items"`
	}](t, rec)
	assert.NotEmpty(t, hist.Items)
}

func TestErrorKindsMapToStatusCodes(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/lifecycles", "", map[string]any{"job_ref": "JC-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/lifecycles/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, string(models.KindNotFound), body["kind"])

	rec = do(t, h, http.MethodPost, "/lifecycles", "user-1", map[string]any{"job_ref": "JC-1", "priority": "whenever"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/lifecycles", strings.NewReader("{not json"))
	req.Header.Set(headerActor, "user-1")
	bad := httptest.NewRecorder()
	h.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/lifecycles", "user-1", map[string]any{"job_ref": "JC-2"}).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/lifecycles/JC-2/cancel", "user-1", map[string]any{"reason": "customer"}).Code)
	rec = do(t, h, http.MethodPost, "/lifecycles/JC-2/production/assign", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/lifecycles/JC-2/painting/assign", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrepressCategoriesCascadeThroughAPI(t *testing.T) {
	h := newTestServer(t)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/lifecycles", "user-1", map[string]any{"job_ref": "JC-1"}).Code)

	rec := do(t, h, http.MethodPost, "/prepress/jobs", "user-1", map[string]any{"job_ref": "JC-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pj := decodeBody[models.PrepressJob](t, rec)

	rec = do(t, h, http.MethodPost, "/lifecycles/JC-1/prepress/assign", "user-1", map[string]any{"prepress_job_id": pj.ID, "designer_id": "designer-9"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusAssignedToPrepress, decodeBody[models.JobLifecycle](t, rec).Status)

	rec = do(t, h, http.MethodPost, "/prepress/jobs/"+pj.ID+"/categories", "designer-9", map[string]any{
		"updates": []map[string]string{
			{"category": "design", "status": "design_completed"},
			{"category": "DIE_PLATE", "status": "DIE_PLATE_COMPLETED"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[struct {
		Result struct {
			Complete bool `json:"complete"`
		} `json:"result"`
		Lifecycle *lifecycle.UpdateResult `json:"lifecycle"`
	}](t, rec)
	assert.True(t, resp.Result.Complete)
	require.NotNil(t, resp.Lifecycle)
	assert.True(t, resp.Lifecycle.Cascaded)
	assert.Equal(t, models.StatusAssignedToInventory, resp.Lifecycle.Lifecycle.Status)

	rec = do(t, h, http.MethodGet, "/lifecycles?department=inventory", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Items []models.JobLifecycle `json:"items"`
	}](t, rec)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "JC-1", list.Items[0].JobRef)

	rec = do(t, h, http.MethodGet, "/dashboard", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dash := decodeBody[lifecycle.Dashboard](t, rec)
	assert.Equal(t, 1, dash.Total)
	assert.Equal(t, 1, dash.ByStatus[models.StatusAssignedToInventory])
}

func TestDepartmentUpdatesCascade(t *testing.T) {
	h := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/lifecycles", "user-1", map[string]any{"job_ref": "JC-1"}).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/lifecycles/JC-1/qa/assign", "user-1", nil).Code)

	rec := do(t, h, http.MethodPost, "/lifecycles/JC-1/qa/updates", "qa-1", map[string]string{"status": "completed", "notes": "passed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[lifecycle.UpdateResult](t, rec)
	assert.True(t, res.Cascaded)
	assert.Equal(t, models.StatusAssignedToDispatch, res.Lifecycle.Status)

	rec = do(t, h, http.MethodPost, "/lifecycles/JC-1/qa/updates", "qa-1", map[string]string{"status": "shipped"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHoldAndResume(t *testing.T) {
	h := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/lifecycles", "user-1", map[string]any{"job_ref": "JC-1"}).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/lifecycles/JC-1/production/assign", "user-1", nil).Code)

	rec := do(t, h, http.MethodPost, "/lifecycles/JC-1/hold", "user-1", map[string]string{"reason": "waiting on board"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusOnHold, decodeBody[models.JobLifecycle](t, rec).Status)

	rec = do(t, h, http.MethodPost, "/lifecycles/JC-1/dispatch/assign", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/lifecycles/JC-1/resume", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusAssignedToProduction, decodeBody[lifecycle.UpdateResult](t, rec).Lifecycle.Status)
}

func TestAlertsCreateNotifications(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/alerts/quality_issue", "qa-1", map[string]any{"job_ref": "JC-7", "issue": "colour drift", "recipients": []string{"hod-1"}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/alerts/quality_issue", "qa-1", map[string]any{"issue": "colour drift"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/alerts/solar_flare", "qa-1", map[string]any{"job_ref": "JC-7"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/notifications?job_ref=JC-7&recipient=hod-1&unread=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Items []models.Notification `json:"items"`
	}](t, rec)
	require.Len(t, list.Items, 1)
	n := list.Items[0]
	assert.Equal(t, string(events.QualityIssue), n.Type)
	assert.Contains(t, n.Message, "colour drift")

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/notifications/"+n.ID+"/read", "hod-1", nil).Code)
	rec = do(t, h, http.MethodGet, "/notifications?job_ref=JC-7&unread=true", "", nil)
	list = decodeBody[struct {
		Items []models.Notification `json:"items"`
	}](t, rec)
	assert.Empty(t, list.Items)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/notifications/missing/read", "hod-1", nil).Code)
}

func TestWebsocketReceivesJobEvents(t *testing.T) {
	h := newTestServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	header := http.Header{}
	header.Set(headerActor, "hod-1")
	header.Set(headerRole, "hod")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?department=prepress"
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer ws.Close()

	next := func(match func(map[string]any) bool) map[string]any {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		for {
			var frame map[string]any
			require.NoError(t, ws.ReadJSON(&frame))
			if match(frame) {
				return frame
			}
		}
	}

	auth := next(func(f map[string]any) bool { return f["action"] == "authenticate" })
	assert.Equal(t, "ack", auth["type"])
	assert.Contains(t, auth["topics"], "dept:Prepress")

	require.NoError(t, ws.WriteJSON(wsCommand{Action: "join", Topic: "job:JC-9"}))
	join := next(func(f map[string]any) bool { return f["action"] == "join" })
	assert.Equal(t, "ack", join["type"])

	require.NoError(t, ws.WriteJSON(wsCommand{Action: "join", Topic: "gossip"}))
	bad := next(func(f map[string]any) bool { return f["action"] == "join" })
	assert.Equal(t, "error", bad["type"])

	rec := do(t, h, http.MethodPost, "/lifecycles", "user-1", map[string]any{"job_ref": "JC-9"})
	require.Equal(t, http.StatusCreated, rec.Code)

	msg := next(func(f map[string]any) bool { return f["topic"] == "job:JC-9" && f["type"] == string(events.JobCreated) })
	payload, ok := msg["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "JC-9", payload["jobRef"])
}

func TestHubReceivesEventBeforeItsNotification(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	core := NewCore(config.Config{HubBufferSize: 16, CascadeMaxRetries: 5}, store.NewMemory(), events.NewBus(logger, "test"), logger)

	conn := core.Hub.Connect(0)
	_, err := core.Hub.Authenticate(conn.ID(), "hod-1", "hod", "")
	require.NoError(t, err)
	topic := realtime.JobTopic("JC-7")
	require.NoError(t, core.Hub.Join(conn.ID(), topic))

	core.Notify.QualityIssue(context.Background(), "JC-7", "colour drift", "qa-1", "hod-1")

	var got []events.Type
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case m := <-conn.Messages():
			if m.Topic == topic {
				got = append(got, m.Type)
			}
		case <-timeout:
			t.Fatalf("job topic received %v", got)
		}
	}
	assert.Equal(t, []events.Type{events.QualityIssue, events.Notification}, got)
}
