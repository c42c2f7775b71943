package handlers

import (
	"errors"
	"net/http"

	"github.com/gonglijing/iotconsole/internal/catalog"
	"github.com/gonglijing/iotconsole/internal/listing"
	"github.com/gonglijing/iotconsole/internal/logger"
)

// ==================== 实体 CRUD ====================

// ListEntity GET 列表，返回会话列表控制器的状态
func (h *Handler) ListEntity(e catalog.Entity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, rec := h.client(r)
		if rec == nil {
			WriteUnauthorized(w, msgSessionExpired)
			return
		}
		state, err := e.List(r.Context(), client, listRequest(r, rec.ID, e.ExtraFilters()...))
		if errors.Is(err, listing.ErrStale) {
			logger.Debug("list request superseded", "entity", e.Route(), "session", rec.ID)
			WriteErrorDef(w, http.StatusConflict, apiErrStaleRequest)
			return
		}
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		WriteSuccess(w, state)
	}
}

// GetEntity GET /{id}
func (h *Handler) GetEntity(e catalog.Entity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDOrWriteBadRequestDefault(w, r)
		if !ok {
			return
		}
		client, rec := h.client(r)
		if rec == nil {
			WriteUnauthorized(w, msgSessionExpired)
			return
		}
		item, err := e.Get(r.Context(), client, id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		WriteSuccess(w, item)
	}
}

// CreateEntity POST 创建
func (h *Handler) CreateEntity(e catalog.Entity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, rec := h.client(r)
		if rec == nil {
			WriteUnauthorized(w, msgSessionExpired)
			return
		}
		res, err := e.Create(r.Context(), client, r.Body)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		logger.Info("entity created", "entity", e.Route(), "user", rec.Profile.DisplayName())
		WriteCreated(w, res)
	}
}

// UpdateEntity PATCH /{id}
func (h *Handler) UpdateEntity(e catalog.Entity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDOrWriteBadRequestDefault(w, r)
		if !ok {
			return
		}
		client, rec := h.client(r)
		if rec == nil {
			WriteUnauthorized(w, msgSessionExpired)
			return
		}
		res, err := e.Update(r.Context(), client, id, r.Body)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		logger.Info("entity updated", "entity", e.Route(), "id", id, "user", rec.Profile.DisplayName())
		WriteSuccess(w, res)
	}
}

// DeleteEntity DELETE /{id}
func (h *Handler) DeleteEntity(e catalog.Entity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDOrWriteBadRequestDefault(w, r)
		if !ok {
			return
		}
		client, rec := h.client(r)
		if rec == nil {
			WriteUnauthorized(w, msgSessionExpired)
			return
		}
		res, err := e.Delete(r.Context(), client, id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		logger.Info("entity deleted", "entity", e.Route(), "id", id, "user", rec.Profile.DisplayName())
		WriteSuccess(w, res)
	}
}
