package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nzua-hub/grade-notifier/internal/application/command"
	"github.com/nzua-hub/grade-notifier/internal/application/query"
	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

// UserSyncer runs one user's sync.
type UserSyncer interface {
	Handle(ctx context.Context, cmd command.SyncUserCommand) (*grade.ChangeSet, error)
}

// ProfileReader reads a profile.
type ProfileReader interface {
	Handle(ctx context.Context, q query.GetProfileQuery) (*query.ProfileDTO, error)
}

// SyncResult is the body of a successful sync response.
type SyncResult struct {
	UserID     int64            `json:"user_id"`
	NoData     bool             `json:"no_data"`
	Changes    *grade.ChangeSet `json:"changes,omitempty"`
	Dispatched bool             `json:"dispatched"`
}

// UsersHandler serves per-user admin endpoints.
type UsersHandler struct {
	syncer     UserSyncer
	dispatcher command.Dispatcher
	profiles   ProfileReader
	logger     *logger.Logger
}

// NewUsersHandler creates a UsersHandler. dispatcher may be nil.
func NewUsersHandler(syncer UserSyncer, dispatcher command.Dispatcher, profiles ProfileReader, log *logger.Logger) *UsersHandler {
	if log == nil {
		log = logger.Default()
	}
	return &UsersHandler{
		syncer:     syncer,
		dispatcher: dispatcher,
		profiles:   profiles,
		logger:     log.With(logger.Component("http_users")),
	}
}

// Routes mounts the handler under /users.
func (h *UsersHandler) Routes(r chi.Router) {
	r.Get("/users/{id}", h.Profile)
	r.Post("/users/{id}/sync", h.Sync)
}

// Sync runs an on-demand sync and delivers a non-empty change-set.
func (h *UsersHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	changes, err := h.syncer.Handle(r.Context(), command.SyncUserCommand{UserID: id})
	if err != nil {
		WriteError(w, err)
		return
	}

	res := SyncResult{UserID: int64(id), NoData: changes == nil, Changes: changes}
	if !changes.IsEmpty() && h.dispatcher != nil {
		if err := h.dispatcher.Dispatch(r.Context(), id, *changes); err != nil {
			h.logger.Warn("on-demand dispatch failed", logger.UserID(int64(id)), logger.Err(err))
		} else {
			res.Dispatched = true
		}
	}
	WriteJSON(w, http.StatusOK, res)
}

// Profile returns the stored profile of a user.
func (h *UsersHandler) Profile(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	dto, err := h.profiles.Handle(r.Context(), query.GetProfileQuery{UserID: id})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, dto)
}

func userID(w http.ResponseWriter, r *http.Request) (account.UserID, bool) {
	n, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	id := account.UserID(n)
	if err != nil || !id.IsValid() {
		WriteError(w, shared.ErrInvalidUserID)
		return 0, false
	}
	return id, true
}
