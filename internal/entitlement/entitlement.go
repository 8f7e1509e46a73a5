// Package entitlement decides whether a caller may use the plan tier it asks
// for. Usage counters are out of scope: a caller either has unrestricted
// access or is served on the default plan.
package entitlement

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// Checker reports whether the request carries unrestricted access.
// Implementations must be safe for concurrent use.
type Checker interface {
	Unrestricted(ctx context.Context, r *http.Request) bool
}

// Static grants unrestricted access to a fixed set of bearer keys.
type Static struct {
	keys [][]byte
}

var _ Checker = (*Static)(nil)

// NewStatic returns a Static checker for keys. Blank keys are ignored.
func NewStatic(keys []string) *Static {
	s := &Static{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			s.keys = append(s.keys, []byte(k))
		}
	}
	return s
}

// Unrestricted reports whether the Authorization header holds one of the
// configured bearer keys.
func (s *Static) Unrestricted(_ context.Context, r *http.Request) bool {
	token, ok := bearer(r.Header.Get("Authorization"))
	if !ok {
		return false
	}
	found := false
	for _, k := range s.keys {
		if subtle.ConstantTimeCompare(k, []byte(token)) == 1 {
			found = true
		}
	}
	return found
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Resolve returns the plan a request is served on: the requested plan for
// unrestricted callers, otherwise defaultPlan.
func Resolve(ctx context.Context, c Checker, r *http.Request, requested, defaultPlan string) string {
	if requested == "" || c == nil || !c.Unrestricted(ctx, r) {
		return defaultPlan
	}
	return requested
}
