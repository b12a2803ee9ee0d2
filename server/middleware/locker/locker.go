/*Package locker lets an operator hold a stream's endpoint against writes.

While held, every request other than GET or HEAD is answered 423, except
routes ending in one of the Locker's Exempt suffixes.  /lock itself is always
exempt so the hold can be released.
*/
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/nasa-jpl/h7dma/server"
)

// Inject binds GET and POST /lock on other to l
func Inject(other server.HTTPer, l *Locker) {
	rt := other.RT()
	rt[server.Route{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[server.Route{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is a non-blocking write hold on one endpoint
type Locker struct {
	held atomic.Bool

	// Exempt holds path suffixes that stay writable while held
	Exempt []string
}

// New returns a released Locker exempting /lock
func New() *Locker {
	return &Locker{Exempt: []string{"/lock"}}
}

// Lock holds the endpoint
func (l *Locker) Lock() { l.held.Store(true) }

// Unlock releases it
func (l *Locker) Unlock() { l.held.Store(false) }

// Locked reports whether the endpoint is held
func (l *Locker) Locked() bool { return l.held.Load() }

func (l *Locker) exempt(path string) bool {
	path = strings.TrimRight(path, "/")
	for _, sfx := range l.Exempt {
		if strings.HasSuffix(path, sfx) {
			return true
		}
	}
	return false
}

// Check is middleware answering 423 to writes while the endpoint is held
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		write := r.Method != http.MethodGet && r.Method != http.MethodHead
		if write && l.Locked() && !l.exempt(r.URL.Path) {
			http.Error(w, "locked", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet holds or releases the endpoint from {"bool": v}
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	var b server.BoolT
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	l.held.Store(b.Bool)
	w.WriteHeader(http.StatusOK)
}

// HTTPGet reports whether the endpoint is held
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
