package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"photoshare/internal/auth"
	"photoshare/internal/flow"
	"photoshare/internal/i18n"
)

// accountCooldownKey guards account-level (setup, step-up) email codes.
// In-flow login codes use per-flow keys instead.
func accountCooldownKey(email string) string {
	return fmt.Sprintf("2fa_email_cooldown:%s", strings.ToLower(email))
}

type twoFactorSetupRequest struct {
	Method string `json:"method"`
}

// handleTwoFactorSetupStart begins enrolment of a second factor. The two
// methods are independent: enabling TOTP does not touch email 2FA and vice
// versa. Nothing is enabled until the finalize step proves possession.
func (s *Server) handleTwoFactorSetupStart(w http.ResponseWriter, r *http.Request) {
	var req twoFactorSetupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Method != flow.MethodTOTP && req.Method != flow.MethodEmail {
		writeError(w, http.StatusBadRequest, "Invalid 2FA method")
		return
	}

	sess := sessionFromContext(r.Context())
	user, err := s.Users.FindByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "User not found")
		return
	}

	if req.Method == flow.MethodTOTP {
		setup, err := s.Codes.GenerateTOTP(user.Email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to generate secret")
			return
		}

		if err := s.Users.SetTOTPSecret(r.Context(), user.ID, &setup.Secret); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to store secret")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"secret":     setup.Secret,
			"otpauthUrl": setup.OtpauthURL,
			"qrCodeUrl":  setup.QRDataURL,
			"message":    "Scan the QR code with your authenticator app, then confirm with a code.",
		})
		return
	}

	locale := i18n.LocaleFromRequest(r)
	if err := s.sendAccountEmailCode(r.Context(), user, locale); err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("A code was sent to your email (%s).", user.Email),
	})
}

type twoFactorFinalizeRequest struct {
	Method string `json:"method"`
	Code   string `json:"code"`
}

func (s *Server) handleTwoFactorSetupFinalize(w http.ResponseWriter, r *http.Request) {
	var req twoFactorFinalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Code) != 6 {
		writeError(w, http.StatusBadRequest, "Invalid code")
		return
	}

	sess := sessionFromContext(r.Context())
	user, err := s.Users.FindByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "User not found")
		return
	}

	meta := s.clientMeta(r)

	switch req.Method {
	case flow.MethodTOTP:
		if user.TOTPSecret == nil {
			writeError(w, http.StatusBadRequest, "TOTP setup not started")
			return
		}
		if !s.Codes.VerifyTOTP(*user.TOTPSecret, req.Code) {
			writeError(w, http.StatusForbidden, "The code is invalid or expired.")
			return
		}
		if err := s.Users.EnableTOTP(r.Context(), user.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to enable 2FA")
			return
		}
	case flow.MethodEmail:
		if !verifyAccountEmailCode(user, req.Code) {
			writeError(w, http.StatusForbidden, "The code is invalid or expired.")
			return
		}
		if err := s.Users.EnableEmailTwoFactor(r.Context(), user.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to enable 2FA")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "Invalid 2FA method")
		return
	}

	s.audit(r.Context(), "twofactor_enabled", user.ID, meta, map[string]interface{}{"method": req.Method})
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Two-factor authentication enabled.",
	})
}

// handleTwoFactorDisable turns off both second factors. It needs a recent
// step-up or a valid code in the request; trusted devices are forgotten
// because nothing remains for them to bypass.
func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	var req struct {
		Code string `json:"code"`
	}
	_ = decodeJSON(r, &req) // best-effort; empty is fine with a prior step-up

	user, err := s.Users.FindByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "User not found")
		return
	}

	if !s.requireStepUp(r.Context(), sess, "disable_2fa") {
		if req.Code == "" {
			if user.EmailTwoFactor {
				locale := i18n.LocaleFromRequest(r)
				_ = s.sendAccountEmailCode(r.Context(), user, locale)
			}
			writeError(w, http.StatusForbidden, "STEP_UP_REQUIRED")
			return
		}
		if !s.verifyAccountCode(r.Context(), user, req.Code) {
			writeError(w, http.StatusForbidden, "INVALID_2FA_CODE")
			return
		}
		// Mark step-up for a short window so repeated disable attempts don't resend immediately.
		s.recordStepUp(r.Context(), sess.ID, "disable_2fa", 5*time.Minute)
	}

	if err := s.Users.DisableTwoFactor(r.Context(), sess.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to disable 2FA")
		return
	}
	if err := s.Devices.DeleteForUser(r.Context(), sess.UserID); err != nil {
		log.Printf("two-factor disable: forget devices for user %s: %v", sess.UserID, err)
	}

	s.audit(r.Context(), "twofactor_disabled", sess.UserID, s.clientMeta(r), nil)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Two-factor authentication disabled.",
	})
}

// handleTwoFactorSendEmailCode mails an account-level code the client can
// spend on step-up or disable. Session-bound, so no account enumeration.
func (s *Server) handleTwoFactorSendEmailCode(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	user, err := s.Users.FindByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "User not found")
		return
	}
	if !user.EmailTwoFactor {
		writeError(w, http.StatusBadRequest, "Email 2FA is not enabled for this account.")
		return
	}

	locale := i18n.LocaleFromRequest(r)
	if err := s.sendAccountEmailCode(r.Context(), user, locale); err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "A code was sent to your email."})
}

type twoFactorStepUpRequest struct {
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
}

func (s *Server) handleTwoFactorStepUp(w http.ResponseWriter, r *http.Request) {
	var req twoFactorStepUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Code == "" || req.Purpose == "" {
		writeError(w, http.StatusBadRequest, "Code and purpose are required.")
		return
	}
	if !allowedStepUpPurposes[req.Purpose] {
		writeError(w, http.StatusBadRequest, "Unsupported step-up purpose.")
		return
	}

	sess := sessionFromContext(r.Context())
	user, err := s.Users.FindByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "User not found")
		return
	}

	if !s.verifyAccountCode(r.Context(), user, req.Code) {
		writeError(w, http.StatusForbidden, "Invalid or expired 2FA code.")
		return
	}

	s.recordStepUp(r.Context(), sess.ID, req.Purpose, 10*time.Minute)

	writeJSON(w, http.StatusOK, map[string]string{
		"success": "true",
		"purpose": req.Purpose,
	})
}

// sendAccountEmailCode stores a hashed code on the user row and mails it,
// under the same resend cooldown the login flow uses.
func (s *Server) sendAccountEmailCode(ctx context.Context, user *auth.User, locale string) error {
	key := accountCooldownKey(user.Email)
	ok, err := s.Limiter.BeginCooldown(ctx, key, s.Config.EmailCodeResendDelay)
	if err != nil {
		return err
	}
	if !ok {
		return &flow.Error{
			Kind:       flow.KindRateLimited,
			Message:    "please wait before requesting another code",
			RetryAfter: s.Limiter.CooldownTTL(ctx, key),
		}
	}

	code, err := s.Codes.EmailCode()
	if err != nil {
		s.Limiter.ClearCooldown(ctx, key)
		return err
	}

	expires := time.Now().Add(s.Config.EmailCodeTTL)
	if err := s.Users.SaveEmailCode(ctx, user.ID, code, expires); err != nil {
		s.Limiter.ClearCooldown(ctx, key)
		return err
	}

	content := i18n.TwoFactorEmail(locale, code, int(s.Config.EmailCodeTTL.Minutes()))
	if err := s.Mailer.Send(ctx, user.Email, content.Subject, content.Text, content.HTML); err != nil {
		log.Printf("two-factor email send failed for user %s: %v", user.Email, err)
		s.Limiter.ClearCooldown(ctx, key)
		return &flow.Error{Kind: flow.KindEmailDeliveryFailed, Message: "failed to send code"}
	}
	return nil
}

// verifyAccountCode accepts either enabled factor for step-up purposes.
// Email codes are single-use; TOTP needs no invalidation.
func (s *Server) verifyAccountCode(ctx context.Context, user *auth.User, code string) bool {
	if user.TOTPEnabled && user.TOTPSecret != nil && s.Codes.VerifyTOTP(*user.TOTPSecret, code) {
		return true
	}
	if user.EmailTwoFactor && verifyAccountEmailCode(user, code) {
		_ = s.Users.ClearEmailCode(ctx, user.ID)
		return true
	}
	return false
}

func verifyAccountEmailCode(user *auth.User, code string) bool {
	if user.TwoFactorEmailCode == nil || user.TwoFactorCodeExpires == nil {
		return false
	}
	if user.TwoFactorCodeExpires.Before(time.Now()) {
		return false
	}
	return auth.HashString(code) == *user.TwoFactorEmailCode
}
