package api

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
)

var (
	jsonMediaType   = contenttype.NewMediaType("application/json")
	binaryMediaType = contenttype.NewMediaType("application/octet-stream")
)

var (
	errCrossOrigin = errors.New("cross-origin request")
	errMediaType   = errors.New("unsupported content type")
	errTooLarge    = errors.New("request body too large")
)

func (h *Handler) cookieName() string {
	if h.cfg.SecureCookie {
		return "__Host-id"
	}
	return "id"
}

func (h *Handler) tokenFromCookie(r *http.Request) string {
	c, err := r.Cookie(h.cookieName())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// setSessionCookie issues tok. maxAge 0 leaves a browser-session cookie.
func (h *Handler) setSessionCookie(w http.ResponseWriter, tok string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName(),
		Value:    tok,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) expireSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

// checkOrigin rejects state-changing requests that do not come from the
// serving origin. Safe methods pass.
func checkOrigin(r *http.Request) error {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return nil
	}
	origin := r.Header.Get("Origin")
	if origin == "" || r.Host == "" {
		return errCrossOrigin
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host != r.Host {
		return errCrossOrigin
	}
	if site := r.Header.Get("Sec-Fetch-Site"); site != "" && site != "same-origin" {
		return errCrossOrigin
	}
	return nil
}

// readBody checks the content type against want and reads at most limit bytes.
func readBody(w http.ResponseWriter, r *http.Request, want contenttype.MediaType, limit int64) ([]byte, error) {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(want) {
		return nil, errMediaType
	}
	if r.ContentLength > limit {
		return nil, errTooLarge
	}
	defer func() { _ = r.Body.Close() }()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, errTooLarge
		}
		return nil, err
	}
	return data, nil
}

// positionalArgs splits a query of the form "a&b&c" and percent-decodes each
// part. An empty query yields one empty argument.
func positionalArgs(rawQuery string) ([]string, error) {
	parts := strings.Split(rawQuery, "&")
	for i, p := range parts {
		v, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		parts[i] = v
	}
	return parts, nil
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
