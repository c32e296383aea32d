package queue

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, core *Core) *chi.Mux {
	t.Helper()

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		NewHandler(core).RegisterRoutes(r)
	})
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Enqueue(t *testing.T) {
	core := newTestCore(t, fixedResolver(2))
	router := newTestRouter(t, core)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/tenants/tenant-a/queue", EnqueueRequest{
		Text:     "disk full on /var",
		OriginID: "host-1",
		Fields:   map[string]string{"chat_id": "42"},
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data EnqueueResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.QueueID)
	assert.Equal(t, 2, resp.Data.Priority)
	assert.Equal(t, StatusPending, resp.Data.Status)

	// The accepted entry is readable back
	rec = doRequest(t, router, http.MethodGet, "/api/v1/tenants/tenant-a/queue/entries/"+resp.Data.QueueID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var entryResp struct {
		Data Entry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entryResp))
	assert.Equal(t, "disk full on /var", entryResp.Data.Payload.Text)
	assert.Equal(t, "42", entryResp.Data.Payload.Fields["chat_id"])
	assert.Equal(t, "host-1", entryResp.Data.OriginID)
}

func TestHandler_EnqueueValidation(t *testing.T) {
	core := newTestCore(t, fixedResolver(1))
	router := newTestRouter(t, core)

	tests := []struct {
		name string
		body EnqueueRequest
	}{
		{"missing text", EnqueueRequest{OriginID: "host-1"}},
		{"missing origin", EnqueueRequest{Text: "msg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/v1/tenants/tenant-a/queue", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandler_EnqueueInvalidJSON(t *testing.T) {
	core := newTestCore(t, fixedResolver(1))
	router := newTestRouter(t, core)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/tenant-a/queue", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_EnqueueMaxRetriesOverride(t *testing.T) {
	core := newTestCore(t, fixedResolver(1))
	router := newTestRouter(t, core)

	override := 0
	rec := doRequest(t, router, http.MethodPost, "/api/v1/tenants/tenant-a/queue", EnqueueRequest{
		Text:       "one shot",
		OriginID:   "host-1",
		MaxRetries: &override,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data EnqueueResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = doRequest(t, router, http.MethodGet, "/api/v1/tenants/tenant-a/queue/entries/"+resp.Data.QueueID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var entryResp struct {
		Data Entry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entryResp))
	assert.Equal(t, 0, entryResp.Data.MaxRetries)
}

func TestHandler_GetEntryNotFound(t *testing.T) {
	core := newTestCore(t, fixedResolver(1))
	router := newTestRouter(t, core)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/tenants/tenant-a/queue/entries/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queue entry not found", resp.Error.Message)
}

func TestHandler_Stats(t *testing.T) {
	core := newTestCore(t, fixedResolver(1))
	router := newTestRouter(t, core)

	for i := 0; i < 3; i++ {
		rec := doRequest(t, router, http.MethodPost, "/api/v1/tenants/tenant-a/queue", EnqueueRequest{
			Text:     "msg",
			OriginID: "host-1",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doRequest(t, router, http.MethodGet, "/api/v1/tenants/tenant-a/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Total)
	assert.Equal(t, 3, resp.Data.ByStatus[StatusPending])
}
