package server

import (
	"net/http"
	"strings"

	"photoshare/internal/auth"
	"photoshare/internal/flow"
	"photoshare/internal/i18n"
)

// handleRegisterBegin opens a fresh registration flow. Any previous flow
// behind the cookie is abandoned; its state expires on its own.
func (s *Server) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	st, err := s.Registration.Begin(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to start registration")
		return
	}

	auth.SetFlowCookie(w, st.ID, s.Flows.TTL)
	writeJSON(w, http.StatusCreated, map[string]string{"step": string(st.Step)})
}

// handleRegisterState reports the current step so a returning client can
// resume where it left off. The password hash never leaves the server.
func (s *Server) handleRegisterState(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadFlow(r, flow.KindRegistration)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load registration")
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "No registration in progress")
		return
	}

	fields := map[string]string{}
	for name, value := range st.Fields {
		if name == "passwordHash" {
			continue
		}
		fields[name] = value
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"step":          string(st.Step),
		"emailVerified": st.EmailVerified,
		"fields":        fields,
	})
}

func (s *Server) registrationFlow(w http.ResponseWriter, r *http.Request) *flow.State {
	st, err := s.loadFlow(r, flow.KindRegistration)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load registration")
		return nil
	}
	if st == nil {
		writeError(w, http.StatusGone, "Registration expired or not started")
		return nil
	}
	return st
}

type registerEmailRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleRegisterEmail(w http.ResponseWriter, r *http.Request) {
	st := s.registrationFlow(w, r)
	if st == nil {
		return
	}

	var req registerEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	locale := i18n.LocaleFromRequest(r)
	if err := s.Registration.SubmitEmail(r.Context(), st, req.Email, locale); err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"step":    string(st.Step),
		"message": "A verification code has been sent to your email.",
	})
}

type registerVerifyRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRegisterVerifyEmail(w http.ResponseWriter, r *http.Request) {
	st := s.registrationFlow(w, r)
	if st == nil {
		return
	}

	var req registerVerifyRequest
	if err := decodeJSON(r, &req); err != nil || len(req.Code) != 6 {
		writeError(w, http.StatusBadRequest, "A 6-digit code is required")
		return
	}

	if err := s.Registration.VerifyEmailCode(r.Context(), st, req.Code); err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"step":    string(st.Step),
		"message": "Email verified.",
	})
}

func (s *Server) handleRegisterResendCode(w http.ResponseWriter, r *http.Request) {
	st := s.registrationFlow(w, r)
	if st == nil {
		return
	}

	locale := i18n.LocaleFromRequest(r)
	if err := s.Registration.ResendCode(r.Context(), st, locale); err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "A new code has been sent.",
	})
}

type registerProfileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	BirthDate string `json:"birthDate"`
}

func (s *Server) handleRegisterProfile(w http.ResponseWriter, r *http.Request) {
	st := s.registrationFlow(w, r)
	if st == nil {
		return
	}

	var req registerProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.Registration.SubmitPersonalInfo(r.Context(), st, req.FirstName, req.LastName, req.BirthDate); err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"step": string(st.Step)})
}

type registerUsernameRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleRegisterUsername(w http.ResponseWriter, r *http.Request) {
	st := s.registrationFlow(w, r)
	if st == nil {
		return
	}

	var req registerUsernameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.Registration.SubmitUsername(r.Context(), st, req.Username); err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"step": string(st.Step)})
}

// handleUsernameAvailable is the live availability check the username step
// polls. It reads nothing from and writes nothing to the flow.
func (s *Server) handleUsernameAvailable(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, "username query parameter is required")
		return
	}

	taken, err := s.Registration.UsernameTaken(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check username")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"available": !taken})
}

type registerPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (s *Server) handleRegisterPassword(w http.ResponseWriter, r *http.Request) {
	st := s.registrationFlow(w, r)
	if st == nil {
		return
	}

	var req registerPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.Registration.SubmitPassword(r.Context(), st, req.Password, req.ConfirmPassword); err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"step": string(st.Step)})
}

// handleRegisterComplete commits the account and signs the new user in.
func (s *Server) handleRegisterComplete(w http.ResponseWriter, r *http.Request) {
	st := s.registrationFlow(w, r)
	if st == nil {
		return
	}

	meta := s.clientMeta(r)
	user, err := s.Registration.Commit(r.Context(), st)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	auth.ClearFlowCookie(w)
	s.audit(r.Context(), "register_committed", user.ID, meta, nil)

	sess, err := s.createSession(r.Context(), w, user, meta, false)
	if err != nil {
		// The account exists; the client can sign in normally.
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"message": "Account created. Please sign in.",
			"user":    map[string]string{"id": user.ID, "username": user.Username},
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":   "Account created.",
		"sessionId": sess.ID,
		"user": map[string]string{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
		},
	})
}

type registerBackRequest struct {
	Step string `json:"step"`
}

func (s *Server) handleRegisterBack(w http.ResponseWriter, r *http.Request) {
	st := s.registrationFlow(w, r)
	if st == nil {
		return
	}

	var req registerBackRequest
	if err := decodeJSON(r, &req); err != nil || req.Step == "" {
		writeError(w, http.StatusBadRequest, "step is required")
		return
	}

	if err := s.Registration.Back(r.Context(), st, flow.Step(req.Step)); err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"step": string(st.Step)})
}

func (s *Server) handleRegisterCancel(w http.ResponseWriter, r *http.Request) {
	if id := auth.FlowIDFromRequest(r); id != "" {
		_ = s.Flows.Delete(r.Context(), id)
	}
	auth.ClearFlowCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
