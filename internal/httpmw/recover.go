package httpmw

import (
	"net/http"
	"runtime/debug"

	"github.com/briefvault/briefvault-api/internal/log"
	"github.com/briefvault/briefvault-api/internal/xerrors"
)

// Recover converts handler panics into 500 responses. onPanic is invoked
// for each recovered panic (metrics hook), may be nil.
func Recover(base log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// Let the server close the connection on aborted handlers.
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				if onPanic != nil {
					onPanic()
				}

				var err error
				switch v := rec.(type) {
				case error:
					err = xerrors.Wrap(v, "panic")
				default:
					err = xerrors.Newf("panic: %v", v)
				}

				base.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				).Error(r.Context(), err, "httpserver panic recovered",
					"stack", string(debug.Stack()),
				)

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
