package api

import (
	"net/http"
)

// HandleQueueStats reports processing queue depth by state. The numbers are
// platform-wide, not tenant-scoped, so this stays under /admin.
func (api *API) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := api.jobs.Stats(ctx)
	if err != nil {
		api.serverError(ctx, w, r, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, stats)
}
