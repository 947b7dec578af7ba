package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"photoshare/internal/i18n"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	sessions, err := s.Sessions.ListForUser(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

type deleteSessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req deleteSessionRequest
	if err := decodeJSON(r, &req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	target, err := s.Sessions.Get(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch session")
		return
	}
	if target == nil || target.UserID != sess.UserID {
		writeError(w, http.StatusForbidden, "You can only delete your own sessions.")
		return
	}

	if err := s.Sessions.Delete(r.Context(), req.SessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Session %s deleted.", req.SessionID)})
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListTrustedDevices(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	devices, err := s.Devices.ListForUser(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch devices")
		return
	}

	out := make([]map[string]interface{}, 0, len(devices))
	for _, d := range devices {
		out = append(out, map[string]interface{}{
			"id":            d.ID,
			"deviceFamily":  d.DeviceFamily,
			"browserFamily": d.BrowserFamily,
			"osFamily":      d.OSFamily,
			"ipAddress":     d.IPAddress,
			"createdAt":     d.CreatedAt,
			"expiresAt":     d.ExpiresAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": out})
}

// handleDeleteTrustedDevice revokes one remembered device; its next login
// goes through 2FA again.
func (s *Server) handleDeleteTrustedDevice(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	deviceID := chi.URLParam(r, "id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device id is required")
		return
	}

	if err := s.Devices.Delete(r.Context(), sess.UserID, deviceID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete device")
		return
	}

	s.audit(r.Context(), "trusted_device_revoked", sess.UserID, s.clientMeta(r), map[string]interface{}{"deviceId": deviceID})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Device removed."})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CurrentPassword == "" {
		writeError(w, http.StatusBadRequest, "Current password is required.")
		return
	}
	if err := s.checkPassword(req.NewPassword, req.ConfirmPassword); err != nil {
		writeFlowError(w, err)
		return
	}

	user, err := s.Users.FindByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	if user.PasswordHash == nil {
		writeError(w, http.StatusBadRequest, "Password not set for this account.")
		return
	}

	needStepUp := user.TOTPEnabled || user.EmailTwoFactor
	if needStepUp && !s.requireStepUp(r.Context(), sess, "password_change") {
		if user.EmailTwoFactor {
			locale := i18n.LocaleFromRequest(r)
			_ = s.sendAccountEmailCode(r.Context(), user, locale)
		}
		writeError(w, http.StatusForbidden, "STEP_UP_REQUIRED")
		return
	}

	if !s.Hasher.Compare(*user.PasswordHash, req.CurrentPassword) {
		writeError(w, http.StatusUnauthorized, "Incorrect current password.")
		return
	}

	hashed, err := s.Hasher.Hash(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	if err := s.Users.UpdatePassword(r.Context(), user.ID, hashed); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to change password")
		return
	}

	_ = s.Sessions.DeleteByUser(r.Context(), user.ID)
	s.audit(r.Context(), "password_changed", user.ID, s.clientMeta(r), nil)

	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Password changed successfully. You will be signed out.",
		"redirect": "/logout",
	})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	user, err := s.Users.FindByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	needStepUp := user.TOTPEnabled || user.EmailTwoFactor
	if needStepUp && !s.requireStepUp(r.Context(), sess, "account_delete") {
		if user.EmailTwoFactor {
			locale := i18n.LocaleFromRequest(r)
			_ = s.sendAccountEmailCode(r.Context(), user, locale)
		}
		writeError(w, http.StatusForbidden, "STEP_UP_REQUIRED")
		return
	}

	if err := s.Users.DeleteUser(r.Context(), sess.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete account")
		return
	}

	_ = s.Devices.DeleteForUser(r.Context(), sess.UserID)
	_ = s.Sessions.DeleteByUser(r.Context(), sess.UserID)
	s.audit(r.Context(), "account_deleted", sess.UserID, s.clientMeta(r), nil)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Account for %s successfully deleted.", user.Email),
	})
}
