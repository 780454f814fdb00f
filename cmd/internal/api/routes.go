package api

import "net/http"

// argSpec is the number of positional query arguments a route takes.
type argSpec int

const (
	noArgs  argSpec = 0
	anyArgs argSpec = -1
)

func (a argSpec) accepts(args []string) bool {
	switch a {
	case anyArgs:
		return true
	case noArgs:
		return len(args) == 1 && args[0] == ""
	default:
		return len(args) == int(a)
	}
}

// Route is one entry of the API table.
type Route struct {
	Name   string
	Method string
	// Path is an http.ServeMux pattern without the method.
	Path string
	Args argSpec
	// Session routes run with an open session holding its shared lock.
	Session bool
	Handle  func(h *Handler, w http.ResponseWriter, req *request)
}

// Routes returns the API table. The slice is built fresh on every call.
func Routes() []Route {
	return []Route{
		{Name: "search", Method: http.MethodGet, Path: "/api/search", Args: 3, Handle: (*Handler).handleSearch},
		{Name: "pkginfo", Method: http.MethodGet, Path: "/api/pkginfo", Args: anyArgs, Handle: (*Handler).handlePkgInfo},

		{Name: "login", Method: http.MethodPost, Path: "/api/login", Handle: (*Handler).handleLogin},
		{Name: "logout", Method: http.MethodPost, Path: "/api/logout", Session: true, Handle: (*Handler).handleLogout},
		{Name: "refresh", Method: http.MethodPost, Path: "/api/refresh", Session: true, Handle: (*Handler).handleRefresh},

		{Name: "flavors", Method: http.MethodGet, Path: "/api/flavors", Session: true, Handle: (*Handler).handleFlavors},
		{Name: "status", Method: http.MethodGet, Path: "/api/status/{repo...}", Session: true, Handle: (*Handler).handleStatus},
		{Name: "log", Method: http.MethodGet, Path: "/api/log/{repo...}", Session: true, Handle: (*Handler).handleLog},
		{Name: "last", Method: http.MethodGet, Path: "/api/last/{repo...}", Args: 1, Session: true, Handle: (*Handler).handleLast},
		// The watch holds no session lock while streaming.
		{Name: "watch", Method: http.MethodGet, Path: "/api/watch/{repo...}", Handle: (*Handler).handleWatch},

		{Name: "pull", Method: http.MethodPost, Path: "/api/pull", Args: 2, Session: true, Handle: (*Handler).handlePull},
		{Name: "repo", Method: http.MethodGet, Path: "/api/repo", Session: true, Handle: (*Handler).handleRepo},
		{Name: "get", Method: http.MethodGet, Path: "/api/repo/{path...}", Session: true, Handle: (*Handler).handleGet},
		{Name: "put", Method: http.MethodPut, Path: "/api/repo/{path...}", Args: 1, Session: true, Handle: (*Handler).handlePut},
		{Name: "delete", Method: http.MethodDelete, Path: "/api/repo/{path...}", Session: true, Handle: (*Handler).handleDelete},
		{Name: "push", Method: http.MethodPost, Path: "/api/push", Session: true, Handle: (*Handler).handlePush},
	}
}
