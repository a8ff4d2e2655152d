// fixit/routes/usage.go
package routes

import (
	"errors"
	"fixit/fixit/controllers"
	httputils "fixit/fixit/utils/http"
	"fixit/fixit/utils/types"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func UsageRoutes(ctrl *controllers.UsageController) chi.Router {
	r := chi.NewRouter()
	get := func(w http.ResponseWriter, r *http.Request) {
		resp, err := ctrl.GetUsage(r.Context(), chi.URLParam(r, "userId"))
		var ve *controllers.ValidationError
		switch {
		case errors.As(err, &ve):
			httputils.WriteJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: msgInvalidUserID})
		case err != nil:
			httputils.WriteJSON(w, http.StatusInternalServerError, types.ErrorResponse{Error: msgUsageUnavailable})
		default:
			httputils.WriteJSON(w, http.StatusOK, resp)
		}
	}
	r.Get("/", get)
	r.Get("/{userId}", get)
	return r
}
