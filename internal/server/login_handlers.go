package server

import (
	"context"
	"errors"
	"log"
	"net/http"

	"photoshare/internal/auth"
	"photoshare/internal/flow"
	"photoshare/internal/i18n"
)

type loginRequest struct {
	Identifier     string `json:"identifier"`
	Password       string `json:"password"`
	RememberDevice bool   `json:"rememberDevice"`
}

// handleLogin runs the credentials step. Depending on the account's 2FA
// configuration and trusted-device token the response is either a full
// session or the next step of the flow.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	meta := s.clientMeta(r)

	if s.Limiter.IsIPBanned(ctx, meta.IP) {
		writeError(w, http.StatusForbidden, "IP_BANNED")
		return
	}

	st, err := s.loadFlow(r, flow.KindLogin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	if st == nil || st.Step != flow.StepCredentials {
		st, err = s.Login.Begin(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Login failed")
			return
		}
	}
	st.RememberDevice = req.RememberDevice

	locale := i18n.LocaleFromRequest(r)
	deviceToken := auth.DeviceTokenFromRequest(r)

	result, err := s.Login.SubmitCredentials(ctx, st, req.Identifier, req.Password, deviceToken, locale)
	if err != nil {
		var fe *flow.Error
		if errors.As(err, &fe) {
			switch fe.Kind {
			case flow.KindInvalidCredentials:
				_ = s.Limiter.RegisterIPFailure(ctx, meta.IP)
			case flow.KindAccountLocked:
				s.audit(ctx, "login_locked", "", meta, map[string]interface{}{"identifier": req.Identifier})
			}
		}
		writeFlowError(w, err)
		return
	}

	if result.Next == flow.StepAuthenticated {
		s.finishLogin(ctx, w, st, result.User, meta, locale, result.Trusted)
		return
	}

	auth.SetFlowCookie(w, st.ID, s.Flows.TTL)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"step":    string(result.Next),
		"methods": result.Methods,
	})
}

type loginMethodRequest struct {
	Method string `json:"method"`
}

func (s *Server) handleLoginMethod(w http.ResponseWriter, r *http.Request) {
	st := s.loginFlow(w, r)
	if st == nil {
		return
	}

	var req loginMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	locale := i18n.LocaleFromRequest(r)
	if err := s.Login.ChooseMethod(r.Context(), st, req.Method, locale); err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"step":   string(st.Step),
		"method": st.Method,
	})
}

type loginVerifyRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	st := s.loginFlow(w, r)
	if st == nil {
		return
	}

	var req loginVerifyRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	ctx := r.Context()
	meta := s.clientMeta(r)

	user, err := s.Login.Verify(ctx, st, req.Code)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	s.finishLogin(ctx, w, st, user, meta, i18n.LocaleFromRequest(r), false)
}

func (s *Server) handleLoginResendCode(w http.ResponseWriter, r *http.Request) {
	st := s.loginFlow(w, r)
	if st == nil {
		return
	}

	locale := i18n.LocaleFromRequest(r)
	if err := s.Login.ResendCode(r.Context(), st, locale); err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "A new code has been sent."})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("session_id")
	if err == nil && cookie.Value != "" {
		_ = s.Sessions.Delete(r.Context(), cookie.Value)
	}
	auth.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := s.Users.FindByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":                sess.UserID,
		"username":          user.Username,
		"email":             user.Email,
		"firstName":         user.FirstName,
		"lastName":          user.LastName,
		"role":              sess.Role,
		"image":             user.Image,
		"sessionId":         sess.ID,
		"emailTwoFactor":    user.EmailTwoFactor,
		"totpEnabled":       user.TOTPEnabled,
		"twoFactorVerified": sess.TwoFactorVerified,
		"trustedDevice":     sess.TrustedDevice,
		"lastLoginAt":       user.LastLoginAt,
	})
}

// finishLogin runs the authenticated tail shared by the trusted-device
// bypass, the no-2FA path and a successful verification: optionally trust
// the device, destroy the flow, create the session and alert the user.
func (s *Server) finishLogin(ctx context.Context, w http.ResponseWriter, st *flow.State, user *auth.User, meta auth.ClientMeta, locale string, trusted bool) {
	if st.RememberDevice && !trusted {
		raw, expires, err := s.TwoFactor.TrustDevice(ctx, user, meta)
		if err != nil {
			log.Printf("login: trust device failed for user %s: %v", user.ID, err)
		} else {
			auth.SetDeviceCookie(w, raw, expires)
		}
	}

	if err := s.Login.Finalize(ctx, st, user, meta); err != nil {
		writeFlowError(w, err)
		return
	}
	auth.ClearFlowCookie(w)

	sess, err := s.createSession(ctx, w, user, meta, trusted)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_CREATE_FAILED")
		return
	}

	s.audit(ctx, "login_success", user.ID, meta, map[string]interface{}{"trustedDevice": trusted})
	_ = s.sendSignInAlert(ctx, user, *sess, locale)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"step":      string(flow.StepAuthenticated),
		"sessionId": sess.ID,
		"user": map[string]interface{}{
			"id":             user.ID,
			"username":       user.Username,
			"email":          user.Email,
			"role":           user.Role,
			"emailTwoFactor": user.EmailTwoFactor,
			"totpEnabled":    user.TOTPEnabled,
		},
	})
}

func (s *Server) loginFlow(w http.ResponseWriter, r *http.Request) *flow.State {
	st, err := s.loadFlow(r, flow.KindLogin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load login")
		return nil
	}
	if st == nil {
		writeError(w, http.StatusGone, "Login expired or not started")
		return nil
	}
	return st
}
