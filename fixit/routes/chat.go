// fixit/routes/chat.go
package routes

import (
	"fixit/fixit/controllers"
	httputils "fixit/fixit/utils/http"
	"fixit/fixit/utils/types"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ChatRoutes serves POST / behind the burst limiter.
func ChatRoutes(ctrl *controllers.ChatController, limit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	if limit != nil {
		r.Use(limit)
	}
	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatRequest
		if err := httputils.DecodeJSON(r, &req); err != nil {
			httputils.WriteJSON(w, http.StatusBadRequest, types.ErrorResponse{
				Error:   msgInvalidRequest,
				Details: []types.FieldError{{Path: "body", Msg: "Request body must be valid JSON"}},
			})
			return
		}
		resp, err := ctrl.Chat(r.Context(), req)
		if err != nil {
			writeChatError(w, err)
			return
		}
		httputils.WriteJSON(w, http.StatusOK, resp)
	})
	return r
}
