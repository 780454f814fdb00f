// Package api is the HTTP boundary of the service: an immutable route table,
// session cookie transport, origin checks and the JSON wire format.
package api

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"webui/cmd/identity"
	"webui/cmd/internal/audit"
	"webui/cmd/internal/gitrepo"
	"webui/cmd/internal/gitserver"
	"webui/cmd/internal/pkgindex"
	"webui/cmd/internal/session"
	"webui/cmd/internal/workspace"
)

// Host is the part of the git host the API reads directly.
type Host interface {
	Catalog(ctx context.Context) ([]gitserver.Flavor, error)
	Repositories(ctx context.Context) ([]string, error)
	JobStatus(ctx context.Context, repo string) (map[string]string, error)
	JobLog(ctx context.Context, repo string) (string, error)
	LoginAudit(ctx context.Context, repo string, limit int) ([]gitserver.LoginRecord, error)
}

// Workspace runs the per-session edit cycle.
type Workspace interface {
	Pull(ctx context.Context, sess workspace.Session, flags, repo string) error
	Info(ctx context.Context, sess workspace.Session) (workspace.Info, error)
	Read(ctx context.Context, sess workspace.Session, path string) ([]byte, error)
	Write(ctx context.Context, sess workspace.Session, path string, data []byte, perm fs.FileMode) (gitrepo.Files, error)
	Delete(ctx context.Context, sess workspace.Session, path string) (gitrepo.Files, error)
	Publish(ctx context.Context, sess workspace.Session, manifest []byte) error
}

// Deps are the services behind the routes. Packages, Audit and Failures may
// be nil; without Failures logins are not throttled.
type Deps struct {
	Sessions  *session.Store
	Auth      identity.Authenticator
	Host      Host
	Workspace Workspace
	Packages  pkgindex.Index
	Audit     audit.Recorder
	Failures  audit.FailureSource
}

// Handler serves the API routes.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions *session.Store
	auth     identity.Authenticator
	host     Host
	ws       Workspace
	pkgs     pkgindex.Index
	audit    audit.Recorder
	failures audit.FailureSource

	now func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, deps Deps) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Sessions == nil || deps.Host == nil || deps.Workspace == nil {
		return nil, errors.New("api: sessions, host and workspace are required")
	}
	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: deps.Sessions,
		auth:     deps.Auth,
		host:     deps.Host,
		ws:       deps.Workspace,
		pkgs:     deps.Packages,
		audit:    deps.Audit,
		failures: deps.Failures,
		now:      time.Now,
	}
	if h.auth == nil {
		h.auth = identity.DenyAll{}
	}
	if h.pkgs == nil {
		h.pkgs = pkgindex.Empty{}
	}
	if h.audit == nil {
		h.audit = audit.Nop{}
	}
	if h.cfg.UploadSizeMax <= 0 {
		h.cfg.UploadSizeMax = 4 << 20
	}
	if h.cfg.WatchInterval <= 0 {
		h.cfg.WatchInterval = 5 * time.Second
	}
	if h.cfg.WatchWriteTimeout <= 0 {
		h.cfg.WatchWriteTimeout = 10 * time.Second
	}
	return h, nil
}

// Register wires every route onto mux. Each path gets one handler that
// dispatches on method, so a known path with the wrong method is a 405.
func (h *Handler) Register(mux *http.ServeMux) {
	byPath := map[string][]Route{}
	var order []string
	for _, rt := range Routes() {
		if _, ok := byPath[rt.Path]; !ok {
			order = append(order, rt.Path)
		}
		byPath[rt.Path] = append(byPath[rt.Path], rt)
	}
	for _, p := range order {
		mux.Handle(p, h.dispatch(byPath[p]))
	}
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
}

// request is the parsed form of one call.
type request struct {
	*http.Request
	args []string
	body []byte
	sess *session.Session
}

func (h *Handler) dispatch(routes []Route) http.Handler {
	allow := make([]string, 0, len(routes))
	for _, rt := range routes {
		allow = append(allow, rt.Method)
	}
	allowHeader := strings.Join(allow, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, rt := range routes {
			if rt.Method == r.Method {
				h.serve(w, r, rt)
				return
			}
		}
		w.Header().Set("Allow", allowHeader)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, rt Route) {
	if err := checkOrigin(r); err != nil {
		writeError(w, http.StatusForbidden, "cross_origin", "cross-origin request refused")
		return
	}

	req := &request{Request: r}

	args, err := positionalArgs(r.URL.RawQuery)
	if err != nil || !rt.Args.accepts(args) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid query")
		return
	}
	req.args = args

	switch rt.Method {
	case http.MethodPost:
		req.body, err = readBody(w, r, jsonMediaType, h.cfg.UploadSizeMax)
		if err == nil && !gjson.ValidBytes(req.body) {
			err = errInvalidJSON
		}
	case http.MethodPut:
		req.body, err = readBody(w, r, binaryMediaType, h.cfg.UploadSizeMax)
	}
	if err != nil {
		writeBodyError(w, err)
		return
	}

	if rt.Session {
		sess, err := h.sessions.Open(h.now(), h.tokenFromCookie(r))
		if err != nil {
			h.writeFailure(w, r, rt.Name, err)
			return
		}
		defer func() { _ = sess.Close() }()
		req.sess = sess
	}

	rt.Handle(h, w, req)
}

var errInvalidJSON = errors.New("invalid JSON body")

func writeBodyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
	case errors.Is(err, errMediaType):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "unsupported content type")
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
	}
}

func (h *Handler) record(r *http.Request, action, user, repo string, meta map[string]any) {
	h.audit.Record(r.Context(), audit.Event{
		Action:    action,
		User:      user,
		Repo:      repo,
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		Meta:      meta,
		At:        h.now().UTC(),
	})
}
