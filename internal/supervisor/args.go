package supervisor

import (
	"fmt"
	"strings"
)

// SocketPlaceholder is the literal token in backend arguments that is
// replaced by the allocated socket path.
const SocketPlaceholder = "[fcgi-shim-socket]"

// SubstituteSocketPath rewrites the backend command vector, replacing every
// occurrence of SocketPlaceholder with socketPath inside each argument that
// contains it.
//
// Zero arguments containing the token: the socket path is appended as one
// trailing argument (the backend is assumed to take the socket path last).
// Exactly one argument containing the token: the substituted vector is
// returned as-is. More than one: an error, before any process is spawned;
// the caller cannot mean to hand the same socket to two places.
func SubstituteSocketPath(command []string, socketPath string) ([]string, error) {
	out := make([]string, len(command))
	matched := 0
	for i, arg := range command {
		if strings.Contains(arg, SocketPlaceholder) {
			matched++
			out[i] = strings.ReplaceAll(arg, SocketPlaceholder, socketPath)
		} else {
			out[i] = arg
		}
	}

	switch {
	case matched == 0:
		out = append(out, socketPath)
	case matched > 1:
		return nil, fmt.Errorf("placeholder %s appears in %d arguments; at most one is allowed", SocketPlaceholder, matched)
	}
	return out, nil
}
