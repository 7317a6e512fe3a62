package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"annotation-orchestrator/core/models"
	"annotation-orchestrator/core/notify"
	"annotation-orchestrator/core/repository"
)

// SubscriptionHandler changes a user's subscription role
type SubscriptionHandler struct {
	profiles     repository.ProfileRepository
	publisher    notify.Publisher
	restoreTopic string
	logger       *slog.Logger
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(profiles repository.ProfileRepository, publisher notify.Publisher, restoreTopic string, logger *slog.Logger) *SubscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{
		profiles:     profiles,
		publisher:    publisher,
		restoreTopic: restoreTopic,
		logger:       logger,
	}
}

// Subscribe handles POST /v1/subscription. The user becomes premium and a
// restore request for all of their archived jobs is published.
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader)
		return
	}

	if !h.setRole(w, r, userID, models.RolePremium) {
		return
	}

	if err := notify.PublishJSON(r.Context(), h.publisher, h.restoreTopic, models.RestoreRequest{UserID: userID}); err != nil {
		h.logger.Error("failed to publish restore request", slog.String("user_id", userID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to request restore")
		return
	}

	h.logger.Info("user upgraded", slog.String("user_id", userID))
	writeJSON(w, http.StatusOK, map[string]string{"role": string(models.RolePremium)})
}

// Unsubscribe handles DELETE /v1/subscription
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader)
		return
	}

	if !h.setRole(w, r, userID, models.RoleFree) {
		return
	}

	h.logger.Info("user downgraded", slog.String("user_id", userID))
	writeJSON(w, http.StatusOK, map[string]string{"role": string(models.RoleFree)})
}

func (h *SubscriptionHandler) setRole(w http.ResponseWriter, r *http.Request, userID string, role models.Role) bool {
	err := h.profiles.UpdateRole(r.Context(), userID, role)
	if errors.Is(err, repository.ErrProfileNotFound) {
		writeError(w, http.StatusNotFound, "unknown user")
		return false
	}
	if err != nil {
		h.logger.Error("failed to update role", slog.String("user_id", userID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to update subscription")
		return false
	}
	return true
}
