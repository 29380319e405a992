package audit

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/bastion/pkg/httputil"
)

// Handlers provides HTTP handlers for the audit log API
type Handlers struct {
	searcher Searcher
}

// NewHandlers creates new audit handlers
func NewHandlers(searcher Searcher) *Handlers {
	return &Handlers{searcher: searcher}
}

// RegisterRoutes registers audit log routes. protect wraps every route,
// typically with a permission check.
func (h *Handlers) RegisterRoutes(router *mux.Router, protect func(http.Handler) http.Handler) {
	if protect == nil {
		protect = func(next http.Handler) http.Handler { return next }
	}
	router.Handle("/audit/logs", protect(http.HandlerFunc(h.listEntries))).Methods("GET")
	router.Handle("/audit/logs/export", protect(http.HandlerFunc(h.exportEntries))).Methods("GET")
}

// listEntries handles GET /audit/logs
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// exportEntries handles GET /audit/logs/export
func (h *Handlers) exportEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}

	entries, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	data, err := Export(entries, format)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-logs.%s", format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func parseFilter(r *http.Request) (SearchFilter, error) {
	q := r.URL.Query()
	filter := SearchFilter{
		EntityType: EntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
		Limit:      DefaultSearchLimit,
	}

	if v := q.Get("actor_user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid actor_user_id")
		}
		filter.ActorUserID = &id
	}
	if v := q.Get("action"); v != "" {
		for _, a := range strings.Split(v, ",") {
			filter.Actions = append(filter.Actions, Action(strings.TrimSpace(a)))
		}
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid since: expected RFC3339")
		}
		filter.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid until: expected RFC3339")
		}
		filter.Until = &t
	}
	limit, err := httputil.QueryIntInRange(r, "limit", DefaultSearchLimit, 1, 1000)
	if err != nil {
		return filter, err
	}
	filter.Limit = limit

	offset, err := httputil.QueryIntInRange(r, "offset", 0, 0, math.MaxInt32)
	if err != nil {
		return filter, err
	}
	filter.Offset = offset

	return filter, nil
}
