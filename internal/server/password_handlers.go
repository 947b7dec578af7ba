package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"photoshare/internal/flow"
	"photoshare/internal/i18n"
)

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// handleForgotPassword always answers 200 for a well-formed request so the
// endpoint cannot be used to probe which addresses have accounts.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validateEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "Invalid email format")
		return
	}

	ctx := r.Context()
	locale := i18n.LocaleFromRequest(r)
	cooldownKey := fmt.Sprintf("forgot_password_cooldown:%s", req.Email)
	ok, err := s.Limiter.BeginCooldown(ctx, cooldownKey, s.Config.EmailCodeResendDelay)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	if !ok {
		ttl := s.Limiter.CooldownTTL(ctx, cooldownKey)
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"cooldown": int64(ttl.Seconds()),
			"message":  "Please wait before making another request.",
		})
		return
	}

	user, err := s.Users.FindByEmail(ctx, req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}

	if user != nil {
		token, err := randomToken(32)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to generate token")
			return
		}

		expires := time.Now().Add(1 * time.Hour)
		if err := s.Users.SavePasswordReset(ctx, user.ID, token, expires); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to store token")
			return
		}

		resetLink := fmt.Sprintf("%s/reset-password?token=%s", s.Config.BaseURL, token)
		content := i18n.PasswordResetEmail(locale, resetLink, 1)
		_ = s.Mailer.Send(ctx, user.Email, content.Subject, content.Text, content.HTML)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the email address exists, a password reset email has been sent with instructions.",
	})
}

type resetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "Token is required")
		return
	}
	if err := s.checkPassword(req.Password, req.ConfirmPassword); err != nil {
		writeFlowError(w, err)
		return
	}

	ctx := r.Context()
	user, err := s.Users.FindByResetToken(ctx, req.Token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset password")
		return
	}
	if user == nil || user.PasswordResetExpires == nil || user.PasswordResetExpires.Before(time.Now()) {
		writeError(w, http.StatusBadRequest, "Invalid or expired token.")
		return
	}

	hashed, err := s.Hasher.Hash(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}
	if err := s.Users.UpdatePassword(ctx, user.ID, hashed); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update password")
		return
	}

	// Every live session was minted under the old password.
	_ = s.Sessions.DeleteByUser(ctx, user.ID)
	s.audit(ctx, "password_reset", user.ID, s.clientMeta(r), nil)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset successfully."})
}

// checkPassword applies the configured strength policy plus the
// confirmation match used by every password-accepting endpoint.
func (s *Server) checkPassword(password, confirm string) error {
	policy := flow.PasswordPolicy{
		MinLength:     s.Config.Password.MinLength,
		RequireUpper:  s.Config.Password.RequireUpper,
		RequireLower:  s.Config.Password.RequireLower,
		RequireDigit:  s.Config.Password.RequireDigit,
		RequireSymbol: s.Config.Password.RequireSymbol,
	}
	if err := flow.CheckPassword(policy, password); err != nil {
		return err
	}
	if password != confirm {
		return &flow.Error{Kind: flow.KindValidation, Field: "confirmPassword", Message: "passwords do not match"}
	}
	return nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
