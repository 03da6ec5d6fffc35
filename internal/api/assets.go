package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sushil32/Neura/internal/assets"
)

type AssetsHandler struct {
	catalog *assets.Catalog
}

func NewAssetsHandler(catalog *assets.Catalog) *AssetsHandler {
	return &AssetsHandler{catalog: catalog}
}

type assetEntry struct {
	ID string `json:"id"`
}

func (h *AssetsHandler) list(kind assets.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.catalog == nil {
			WriteError(w, http.StatusServiceUnavailable, "asset catalog not available")
			return
		}
		all := h.catalog.List(kind)
		out := make([]assetEntry, 0, len(all))
		for _, a := range all {
			out = append(out, assetEntry{ID: a.ID})
		}
		WriteJSON(w, http.StatusOK, map[string]any{string(kind): out, "count": len(out)})
	}
}

// Routes registers asset routes on the given router.
func (h *AssetsHandler) Routes(r chi.Router) {
	r.Get("/assets/faces", h.list(assets.KindFace))
	r.Get("/assets/voices", h.list(assets.KindVoice))
}
