package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/scout/pkg/cache"
	"github.com/odvcencio/scout/pkg/logging"
)

// handleCacheStatus reports the store's connection state and lifetime stats.
func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}

	stats := s.store.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"connection_state": stats.ConnectionState,
		"hits":             stats.Hits,
		"misses":           stats.Misses,
		"sets":             stats.Sets,
		"deletes":          stats.Deletes,
		"errors":           stats.Errors,
		"hit_rate":         stats.HitRate,
	})
}

// handleCacheClear flushes every namespace and reports per-namespace counts.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "cache disabled")
		return
	}

	counts, err := s.store.ClearAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info(logging.CategoryCache, "cache_cleared", "", map[string]any{
		"counts": counts,
	})
	writeJSON(w, http.StatusOK, map[string]any{"cleared": counts})
}

// handleCacheClearNamespace flushes a single namespace.
func (s *Server) handleCacheClearNamespace(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "cache disabled")
		return
	}

	namespace := chi.URLParam(r, "namespace")
	switch namespace {
	case cache.NamespaceReport, cache.NamespaceSection, cache.NamespaceMeta:
	default:
		writeError(w, http.StatusBadRequest, "unknown namespace: "+namespace)
		return
	}

	count, err := s.store.ClearNamespace(r.Context(), namespace)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info(logging.CategoryCache, "namespace_cleared", "", map[string]any{
		"namespace": namespace,
		"count":     count,
	})
	writeJSON(w, http.StatusOK, map[string]any{"namespace": namespace, "cleared": count})
}
