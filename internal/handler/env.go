package handler

import (
	"net/http"
	"net/http/fcgi"
	"strconv"
	"strings"

	"fcgi-shim-go/internal/model"
)

// EnvFromRequest reconstructs the CGI environment for a gateway request:
// request metadata first, then HTTP_* variables for each header, then any
// extra FastCGI parameters the webserver sent. The resulting order is the
// order backend headers are derived in.
func EnvFromRequest(r *http.Request) model.Env {
	env := model.Env{
		{Name: "REQUEST_METHOD", Value: r.Method},
		{Name: "REQUEST_URI", Value: requestURI(r)},
		{Name: "SERVER_PROTOCOL", Value: r.Proto},
	}

	if r.ContentLength >= 0 && (r.ContentLength > 0 || r.Header.Get("Content-Length") != "") {
		env = append(env, model.Var{Name: "CONTENT_LENGTH", Value: strconv.FormatInt(r.ContentLength, 10)})
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		env = append(env, model.Var{Name: "CONTENT_TYPE", Value: ct})
	}
	if host := r.Host; host != "" {
		env = append(env, model.Var{Name: "HTTP_HOST", Value: host})
	}

	for name, values := range r.Header {
		switch name {
		case "Content-Length", "Content-Type", "Host":
			// already covered above
			continue
		}
		env = append(env, model.Var{
			Name:  "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")),
			Value: strings.Join(values, ", "),
		})
	}

	if ra := r.RemoteAddr; ra != "" {
		env = append(env, model.Var{Name: "REMOTE_ADDR", Value: ra})
	}
	for name, value := range fcgi.ProcessEnv(r) {
		env = env.Set(name, value)
	}
	return env
}

// requestURI returns the original request target, falling back to the
// reconstructed URL for synthetic requests that lack one.
func requestURI(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}
