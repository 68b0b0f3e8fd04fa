package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-unifiedpush/internal/cache"
	"github.com/tinywideclouds/go-unifiedpush/internal/store"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

const (
	maxPageSize     = 100
	defaultPageSize = 25
)

// MetricsAPI serves historical push-job aggregates to the admin UI.
type MetricsAPI struct {
	Store  store.MetricsStore
	Cache  *cache.MetricsCache
	Logger *slog.Logger
}

func NewMetricsAPI(metrics store.MetricsStore, mc *cache.MetricsCache, logger *slog.Logger) *MetricsAPI {
	return &MetricsAPI{
		Store:  metrics,
		Cache:  mc,
		Logger: logger,
	}
}

// MessagesForApplication handles
// GET /rest/metrics/messages/application/{id}?page=&per_page=&sort=&search=
func (api *MetricsAPI) MessagesForApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := r.PathValue("id")
	if appID == "" {
		response.WriteJSONError(w, http.StatusNotFound, "could not find requested information")
		return
	}

	exists, err := api.Store.ApplicationExists(ctx, appID)
	if err != nil {
		api.Logger.Error("failed to look up application", "app_id", appID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if !exists {
		response.WriteJSONError(w, http.StatusNotFound, "could not find requested information")
		return
	}

	query := r.URL.Query()
	page := parseIntOr(query.Get("page"), 0)
	if page < 0 {
		page = 0
	}
	perPage := parseIntOr(query.Get("per_page"), defaultPageSize)
	if perPage > maxPageSize {
		perPage = maxPageSize
	}
	if perPage < 1 {
		perPage = 1
	}
	// Unknown sort values fall back to ascending.
	ascending := query.Get("sort") != "desc"
	search := query.Get("search")

	infos, total, err := api.Store.FindPushMessageInformationsForApplication(ctx, appID, search, ascending, page, perPage)
	if err != nil {
		api.Logger.Error("failed to page push message informations", "app_id", appID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if infos == nil {
		// The response body is always a JSON array.
		infos = []*upmodel.PushMessageInformation{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("total", strconv.Itoa(total))
	w.Header().Set("receivers", strconv.FormatInt(api.Cache.Get(appID, cache.KindReceivers), 10))
	w.Header().Set("appOpenedCounter", strconv.FormatInt(api.Cache.Get(appID, cache.KindAppOpenedCounter), 10))
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		api.Logger.Warn("failed to encode metrics response", "app_id", appID, "err", err)
	}
}

func parseIntOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
