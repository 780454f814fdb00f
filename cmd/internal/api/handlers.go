package api

import (
	"errors"
	"io/fs"
	"net/http"
	"regexp"
	"strconv"

	"github.com/tidwall/gjson"

	"webui/cmd/internal/audit"
	"webui/cmd/internal/workspace"
)

var permPattern = regexp.MustCompile(`^[0-7]{3}$`)

func (h *Handler) handleSearch(w http.ResponseWriter, req *request) {
	first, err1 := strconv.Atoi(req.args[0])
	count, err2 := strconv.Atoi(req.args[1])
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "first and count must be integers")
		return
	}
	writeJSON(w, http.StatusOK, h.pkgs.Search(req.args[2], first, count))
}

func (h *Handler) handlePkgInfo(w http.ResponseWriter, req *request) {
	writeJSON(w, http.StatusOK, h.pkgs.Info(req.args))
}

func (h *Handler) handleLogin(w http.ResponseWriter, req *request) {
	body := gjson.ParseBytes(req.body)
	user, pass := body.Get("user"), body.Get("pass")
	if !body.IsObject() || user.Type != gjson.String || pass.Type != gjson.String {
		writeError(w, http.StatusBadRequest, "bad_request", "user and pass are required")
		return
	}

	ctx := req.Context()
	blocked, retry, err := h.checkLoginThrottle(ctx, clientIP(req.Request, h.cfg.TrustProxy), user.Str, h.now())
	if err != nil {
		h.log.Error("api.login.throttle.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}
	if blocked {
		h.record(req.Request, audit.ActionLoginThrottle, user.Str, "", map[string]any{"retry_after_s": int64(retry.Seconds())})
		writeRateLimited(w, retry)
		return
	}

	if !h.auth.Authenticate(ctx, user.Str, pass.Str) {
		h.record(req.Request, audit.ActionLoginFailed, user.Str, "", nil)
		writeError(w, http.StatusForbidden, "auth_failed", "authentication failed")
		return
	}

	issued, err := h.sessions.Create(h.now(), user.Str)
	if err != nil {
		h.writeFailure(w, req.Request, "login", err)
		return
	}
	h.record(req.Request, audit.ActionLogin, issued.User, "", nil)

	h.setSessionCookie(w, issued.Token, 0)
	writeJSON(w, http.StatusOK, toSessionResponse(issued))
}

func (h *Handler) handleLogout(w http.ResponseWriter, req *request) {
	user := req.sess.User()
	if err := h.sessions.Logout(req.sess); err != nil {
		h.writeFailure(w, req.Request, "logout", err)
		return
	}
	h.record(req.Request, audit.ActionLogout, user, "", nil)

	h.expireSessionCookie(w)
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, req *request) {
	h.rotate(w, req, "refresh")
}

// rotate moves the session to a new token and answers with it.
func (h *Handler) rotate(w http.ResponseWriter, req *request, op string) {
	issued, err := h.sessions.Refresh(h.now(), req.sess)
	if err != nil {
		h.writeFailure(w, req.Request, op, err)
		return
	}
	h.record(req.Request, audit.ActionRefresh, issued.User, "", map[string]any{"op": op})

	h.setSessionCookie(w, issued.Token, h.sessions.Timeout())
	writeJSON(w, http.StatusOK, toSessionResponse(issued))
}

func (h *Handler) handleFlavors(w http.ResponseWriter, req *request) {
	ctx := req.Context()
	repos, err := h.host.Repositories(ctx)
	if err != nil {
		h.writeFailure(w, req.Request, "flavors", err)
		return
	}
	catalog, err := h.host.Catalog(ctx)
	if err != nil {
		h.writeFailure(w, req.Request, "flavors", err)
		return
	}
	byID := make(map[string]any, len(catalog))
	for _, f := range catalog {
		byID[f.ID] = f
	}

	out := map[string]any{}
	for _, repo := range repos {
		if !workspace.RepoPattern.MatchString(repo) {
			continue
		}
		out[repo] = byID[repo]
	}
	writeJSON(w, http.StatusOK, out)
}

// repoValue returns the {repo...} path value, or writes 404 for names that
// are not flavor repositories.
func repoValue(w http.ResponseWriter, req *request) (string, bool) {
	repo := req.PathValue("repo")
	if !workspace.RepoPattern.MatchString(repo) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
		return "", false
	}
	return repo, true
}

func (h *Handler) handleStatus(w http.ResponseWriter, req *request) {
	repo, ok := repoValue(w, req)
	if !ok {
		return
	}
	status, err := h.host.JobStatus(req.Context(), repo)
	if err != nil {
		h.writeFailure(w, req.Request, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleLog(w http.ResponseWriter, req *request) {
	repo, ok := repoValue(w, req)
	if !ok {
		return
	}
	text, err := h.host.JobLog(req.Context(), repo)
	if err != nil {
		h.writeFailure(w, req.Request, "log", err)
		return
	}
	writeJSON(w, http.StatusOK, text)
}

func (h *Handler) handleLast(w http.ResponseWriter, req *request) {
	repo, ok := repoValue(w, req)
	if !ok {
		return
	}
	count, err := strconv.Atoi(req.args[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "count must be an integer")
		return
	}
	records, err := h.host.LoginAudit(req.Context(), repo, count)
	if err != nil {
		h.writeFailure(w, req.Request, "last", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handlePull clones the repository into the session, then rotates the token:
// creating a repository changes what the session may do.
func (h *Handler) handlePull(w http.ResponseWriter, req *request) {
	flags, repo := req.args[0], req.args[1]
	if err := h.ws.Pull(req.Context(), req.sess, flags, repo); err != nil {
		h.writeFailure(w, req.Request, "pull", err)
		return
	}
	h.record(req.Request, audit.ActionPull, req.sess.User(), repo, map[string]any{"flags": flags})
	h.rotate(w, req, "pull")
}

func (h *Handler) handleRepo(w http.ResponseWriter, req *request) {
	info, err := h.ws.Info(req.Context(), req.sess)
	if err != nil {
		h.writeFailure(w, req.Request, "repo", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) handleGet(w http.ResponseWriter, req *request) {
	data, err := h.ws.Read(req.Context(), req.sess, req.PathValue("path"))
	if err != nil {
		h.writeFailure(w, req.Request, "get", err)
		return
	}
	writeRaw(w, data)
}

func (h *Handler) handlePut(w http.ResponseWriter, req *request) {
	if !permPattern.MatchString(req.args[0]) {
		writeError(w, http.StatusBadRequest, "bad_request", "perm must be three octal digits")
		return
	}
	perm, _ := strconv.ParseUint(req.args[0], 8, 32)

	files, err := h.ws.Write(req.Context(), req.sess, req.PathValue("path"), req.body, fs.FileMode(perm))
	if err != nil {
		h.writeFailure(w, req.Request, "put", err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *Handler) handleDelete(w http.ResponseWriter, req *request) {
	files, err := h.ws.Delete(req.Context(), req.sess, req.PathValue("path"))
	if err != nil {
		h.writeFailure(w, req.Request, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *Handler) handlePush(w http.ResponseWriter, req *request) {
	user := req.sess.User()
	err := h.ws.Publish(req.Context(), req.sess, req.body)
	if err != nil {
		if errors.Is(err, workspace.ErrPermissionDenied) {
			h.record(req.Request, audit.ActionPublishDenied, user, "", nil)
		}
		h.writeFailure(w, req.Request, "push", err)
		return
	}
	h.record(req.Request, audit.ActionPublish, user, "", nil)
	writeJSON(w, http.StatusOK, struct{}{})
}
