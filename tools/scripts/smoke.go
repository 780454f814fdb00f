// Package main is a CI smoke test against a running webui server.
//
// It checks:
//   - login sets a session cookie
//   - flavors answers for the session
//   - the status watch delivers a first snapshot (with -repo)
//   - refresh rotates the token and closes the old one
//   - logout closes the session
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	base    *url.URL
	origin  string
	http    *http.Client
	cookie  *http.Cookie
	timeout time.Duration
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		user    = flag.String("user", "", "Login user")
		pass    = flag.String("pass", os.Getenv("WEBUI_SMOKE_PASSWORD"), "Login password (default $WEBUI_SMOKE_PASSWORD)")
		repo    = flag.String("repo", "", "Flavor repository to watch; empty skips the watch step")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*user) == "" {
		fatalf("-user is required")
	}

	c := &smokeClient{
		base:    base,
		origin:  base.Scheme + "://" + base.Host,
		http:    &http.Client{Timeout: *timeout},
		timeout: *timeout,
	}
	root := context.Background()

	body := mustCall(c, http.MethodPost, "/api/login", fmt.Sprintf(`{"user":%q,"pass":%q}`, *user, *pass), http.StatusOK)
	if got := gjson.GetBytes(body, "user").String(); got != *user {
		fatalf("login user mismatch: got=%q want=%q", got, *user)
	}
	if c.cookie == nil {
		fatalf("login did not set a session cookie")
	}
	if *verbose {
		fmt.Printf("logged in: cookie=%s ttl=%.0fs\n", c.cookie.Name, gjson.GetBytes(body, "ttl").Float())
	}

	flavors := mustCall(c, http.MethodGet, "/api/flavors", "", http.StatusOK)
	if !gjson.ParseBytes(flavors).IsObject() {
		fatalf("flavors: expected an object, got %s", flavors)
	}

	if *repo != "" {
		status := mustWatchFirst(root, c, *repo)
		if *verbose {
			fmt.Printf("watch %s: %s\n", *repo, status)
		}
	}

	old := c.cookie
	mustCall(c, http.MethodPost, "/api/refresh", "", http.StatusOK)
	if c.cookie.Value == old.Value {
		fatalf("refresh did not rotate the token")
	}
	rotated := c.cookie
	c.cookie = old
	denied := mustCall(c, http.MethodGet, "/api/flavors", "", http.StatusForbidden)
	if code := gjson.GetBytes(denied, "error.code").String(); code != "session_closed" {
		fatalf("old token: got error code %q", code)
	}
	c.cookie = rotated

	mustCall(c, http.MethodPost, "/api/logout", "", http.StatusOK)
	mustCall(c, http.MethodGet, "/api/flavors", "", http.StatusForbidden)

	fmt.Printf("OK: user=%s flavors=%d\n", *user, len(gjson.ParseBytes(flavors).Map()))
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

// mustCall sends one API request and keeps any session cookie the server
// sets.
func mustCall(c *smokeClient, method, path, body string, wantStatus int) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if method == http.MethodPost && body == "" {
		body = "{}"
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), strings.NewReader(body))
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Origin", c.origin)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != nil {
		req.AddCookie(&http.Cookie{Name: c.cookie.Name, Value: c.cookie.Value})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, wantStatus, data)
	}
	for _, ck := range resp.Cookies() {
		if ck.Value != "" && ck.MaxAge >= 0 {
			c.cookie = ck
		}
	}
	return data
}

func mustWatchFirst(parent context.Context, c *smokeClient, repo string) []byte {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	u := *c.base.JoinPath("/api/watch", repo)
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)

	h := http.Header{}
	h.Set("Origin", c.origin)
	h.Set("Cookie", c.cookie.Name+"="+c.cookie.Value)

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("watch %s: %v", repo, err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	conn.SetReadLimit(maxReadBytes)

	mt, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("watch %s: read: %v", repo, err)
	}
	if mt != websocket.MessageText || !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		fatalf("watch %s: unexpected message %q", repo, data)
	}
	return data
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
