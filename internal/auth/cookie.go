package auth

import (
	"net/http"
	"time"
)

const (
	sessionCookieName = "session_id"
	flowCookieName    = "flow_id"
	deviceCookieName  = "trusted_device"
)

func SetSessionCookie(w http.ResponseWriter, id string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
	})
}

// SetFlowCookie marks the browser with the opaque handle of an in-progress
// registration or login flow. The cookie lives only as long as the flow TTL.
func SetFlowCookie(w http.ResponseWriter, id string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     flowCookieName,
		Value:    id,
		Path:     "/api",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

func ClearFlowCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     flowCookieName,
		Value:    "",
		Path:     "/api",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
	})
}

func FlowIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(flowCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// SetDeviceCookie stores the raw trusted-device token client-side; only the
// hash is persisted server-side.
func SetDeviceCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookieName,
		Value:    token,
		Path:     "/api",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
}

func DeviceTokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(deviceCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
