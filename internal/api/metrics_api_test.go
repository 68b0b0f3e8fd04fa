package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-unifiedpush/internal/api"
	"github.com/tinywideclouds/go-unifiedpush/internal/cache"
	"github.com/tinywideclouds/go-unifiedpush/internal/store/memory"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*memory.Store, *cache.MetricsCache, *httptest.Server) {
	t.Helper()
	mem := memory.New()
	mc := cache.NewMetricsCache()
	metricsAPI := api.NewMetricsAPI(mem, mc, newTestLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/metrics/messages/application/{id}", metricsAPI.MessagesForApplication)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return mem, mc, srv
}

func seedHistory(t *testing.T, mem *memory.Store, appID string, n int) {
	t.Helper()
	mem.AddApplication(upmodel.PushApplication{ID: appID})
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, mem.CreatePushMessageInformation(context.Background(), &upmodel.PushMessageInformation{
			ID:             fmt.Sprintf("p%02d", i),
			AppID:          appID,
			RawJSONMessage: fmt.Sprintf(`{"alert":"number %d"}`, i),
			SubmitDate:     base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func getMessages(t *testing.T, srv *httptest.Server, path string) (*http.Response, []*upmodel.PushMessageInformation) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	var infos []*upmodel.PushMessageInformation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	return resp, infos
}

func TestMessagesForApplication_Paging(t *testing.T) {
	mem, mc, srv := newTestServer(t)
	seedHistory(t, mem, "app-1", 30)
	mc.AddReceivers("app-1", 123)
	mc.IncrementAppOpened("app-1")

	t.Run("Defaults", func(t *testing.T) {
		resp, infos := getMessages(t, srv, "/rest/metrics/messages/application/app-1")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, infos, 25)
		assert.Equal(t, "p00", infos[0].ID)
		assert.Equal(t, "30", resp.Header.Get("total"))
		assert.Equal(t, "123", resp.Header.Get("receivers"))
		assert.Equal(t, "1", resp.Header.Get("appOpenedCounter"))
	})

	t.Run("Explicit Page And Size", func(t *testing.T) {
		resp, infos := getMessages(t, srv, "/rest/metrics/messages/application/app-1?page=1&per_page=10")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, infos, 10)
		assert.Equal(t, "p10", infos[0].ID)
	})

	t.Run("Descending Sort", func(t *testing.T) {
		resp, infos := getMessages(t, srv, "/rest/metrics/messages/application/app-1?sort=desc&per_page=1")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, infos, 1)
		assert.Equal(t, "p29", infos[0].ID)
	})

	t.Run("Search", func(t *testing.T) {
		resp, infos := getMessages(t, srv, "/rest/metrics/messages/application/app-1?search=number+7")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, infos, 1)
		assert.Equal(t, "1", resp.Header.Get("total"))
	})

	t.Run("Per Page Is Clamped", func(t *testing.T) {
		resp, infos := getMessages(t, srv, "/rest/metrics/messages/application/app-1?per_page=5000")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, infos, 30) // capped at 100, only 30 exist
	})

	t.Run("Negative Page Falls Back To First", func(t *testing.T) {
		resp, infos := getMessages(t, srv, "/rest/metrics/messages/application/app-1?page=-3&per_page=1")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, infos, 1)
		assert.Equal(t, "p00", infos[0].ID)
	})
}

func TestMessagesForApplication_UnknownApplication(t *testing.T) {
	_, _, srv := newTestServer(t)
	resp, _ := getMessages(t, srv, "/rest/metrics/messages/application/ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessagesForApplication_EmptyHistoryIsJSONArray(t *testing.T) {
	mem, _, srv := newTestServer(t)
	mem.AddApplication(upmodel.PushApplication{ID: "app-1"})

	resp, err := http.Get(srv.URL + "/rest/metrics/messages/application/app-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(body))
	assert.Equal(t, "0", resp.Header.Get("total"))
	assert.Equal(t, "0", resp.Header.Get("receivers"))
}
