package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/dgellow/authguard/internal/crypto"
	"github.com/dgellow/authguard/internal/envutil"
	"github.com/dgellow/authguard/internal/log"
)

// CookieName is the name of the session ID cookie
const CookieName = "authguard_session"

// setCookie writes the signed session ID cookie
func setCookie(w http.ResponseWriter, value string, maxAge time.Duration) {
	secure := !envutil.IsDev()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})

	log.LogTraceWithFields("session", "Session cookie set", map[string]any{
		"maxAge": maxAge.String(),
		"secure": secure,
	})
}

// clearCookie expires the session cookie in the browser
func clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	log.LogTraceWithFields("session", "Session cookie cleared", nil)
}

func signID(id string, key []byte) string {
	return id + "." + crypto.SignData(id, key)
}

// verifyID returns the session ID carried by a signed cookie value
func verifyID(value string, key []byte) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" || sig == "" {
		return "", false
	}
	if !crypto.ValidateSignedData(id, sig, key) {
		return "", false
	}
	return id, true
}
