package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/mail"
	"strings"

	"photoshare/internal/auth"
	"photoshare/internal/flow"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeFlowError maps a flow failure to a stable HTTP response. Machine
// codes let clients branch without string matching; rate limits and locks
// carry the remaining wait in seconds.
func writeFlowError(w http.ResponseWriter, err error) {
	var fe *flow.Error
	if !errors.As(err, &fe) {
		writeError(w, http.StatusInternalServerError, "Request failed")
		return
	}

	body := map[string]interface{}{
		"code":    machineCode(fe.Kind),
		"message": fe.Message,
	}
	if fe.Field != "" {
		body["field"] = fe.Field
	}
	if fe.RetryAfter > 0 {
		body["cooldown"] = int64(fe.RetryAfter.Seconds())
	}

	writeJSON(w, flowErrorStatus(fe.Kind), body)
}

func flowErrorStatus(kind flow.ErrorKind) int {
	switch kind {
	case flow.KindValidation, flow.KindUnderage:
		return http.StatusBadRequest
	case flow.KindInvalidCredentials:
		return http.StatusUnauthorized
	case flow.KindInvalidCode, flow.KindCodeExpired, flow.KindAttemptsExceeded, flow.KindAccountLocked:
		return http.StatusForbidden
	case flow.KindRateLimited:
		return http.StatusTooManyRequests
	case flow.KindDuplicateEmail, flow.KindDuplicateUsername, flow.KindStepOrder:
		return http.StatusConflict
	case flow.KindEmailDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func machineCode(kind flow.ErrorKind) string {
	switch kind {
	case flow.KindValidation:
		return "VALIDATION_ERROR"
	case flow.KindInvalidCredentials:
		return "INVALID_CREDENTIALS"
	case flow.KindRateLimited:
		return "RATE_LIMITED"
	case flow.KindCodeExpired:
		return "CODE_EXPIRED"
	case flow.KindInvalidCode:
		return "INVALID_CODE"
	case flow.KindAttemptsExceeded:
		return "ATTEMPTS_EXCEEDED"
	case flow.KindAccountLocked:
		return "ACCOUNT_LOCKED"
	case flow.KindUnderage:
		return "UNDERAGE"
	case flow.KindDuplicateEmail:
		return "DUPLICATE_EMAIL"
	case flow.KindDuplicateUsername:
		return "DUPLICATE_USERNAME"
	case flow.KindEmailDeliveryFailed:
		return "EMAIL_DELIVERY_FAILED"
	case flow.KindStepOrder:
		return "STEP_ORDER"
	default:
		return "INTERNAL_ERROR"
	}
}

func validateEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

// clientMeta collects the per-request client context the flows and audit
// log record.
func (s *Server) clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{
		IP:        clientIP(r, s.trustedProxies),
		UserAgent: r.UserAgent(),
		Location:  deriveLocation(r),
	}
}

func clientIP(r *http.Request, trusted []net.IPNet) string {
	remoteHost, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || remoteHost == "" {
		remoteHost = r.RemoteAddr
	}

	// Only trust forwarded headers when the immediate sender is a trusted proxy.
	if remoteHost != "" && isTrustedProxy(remoteHost, trusted) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}

	return remoteHost
}

// deriveLocation looks for proxy-provided geo headers to give the user context about sign-in origin.
func deriveLocation(r *http.Request) string {
	country := firstHeader(r, "CF-IPCountry", "X-Country", "X-Geo-Country")
	city := firstHeader(r, "X-City", "X-Geo-City")
	if country == "" && city == "" {
		return ""
	}
	if country != "" && city != "" {
		return city + ", " + country
	}
	if city != "" {
		return city
	}
	return country
}

func firstHeader(r *http.Request, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r.Header.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func parseProxyCIDRs(values []string) []net.IPNet {
	var nets []net.IPNet
	for _, v := range values {
		val := strings.TrimSpace(v)
		if val == "" {
			continue
		}
		if ip := net.ParseIP(val); ip != nil {
			mask := net.CIDRMask(128, 128)
			if ip.To4() != nil {
				mask = net.CIDRMask(32, 32)
			}
			nets = append(nets, net.IPNet{IP: ip, Mask: mask})
			continue
		}
		if _, cidr, err := net.ParseCIDR(val); err == nil {
			nets = append(nets, *cidr)
		}
	}
	return nets
}

func isTrustedProxy(ipStr string, proxies []net.IPNet) bool {
	if len(proxies) == 0 {
		return false
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
