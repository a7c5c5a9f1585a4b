package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/pagetiles/internal/domain"
	"github.com/spherical/pagetiles/internal/observability"
	"github.com/spherical/pagetiles/internal/zoom"
)

type handlers struct {
	viewer Viewer
	logger *observability.Logger
}

// OpenDocumentRequestDTO is the body of POST /v1/document.
type OpenDocumentRequestDTO struct {
	Source   string       `json:"source"`
	Viewport *domain.Size `json:"viewport,omitempty"`
}

// OpenDocumentResponseDTO describes the opened document.
type OpenDocumentResponseDTO struct {
	Dimensions domain.Dimensions `json:"dimensions"`
	Transform  domain.Transform  `json:"transform"`
}

// ViewRequestDTO is the body of PUT /v1/view. Absent fields are left as they are.
type ViewRequestDTO struct {
	Page     *int          `json:"page,omitempty"`
	Viewport *domain.Size  `json:"viewport,omitempty"`
	Scroll   *domain.Point `json:"scroll,omitempty"`
}

// ZoomRequestDTO is the body of POST /v1/zoom. Exactly one of Scale, Wheel,
// Pinch or Kind "fit-to-screen" drives the zoom.
type ZoomRequestDTO struct {
	Kind  string       `json:"kind,omitempty"`
	Point domain.Point `json:"point"`
	Scale float64      `json:"scale,omitempty"`
	Wheel float64      `json:"wheel,omitempty"`
	Pinch float64      `json:"pinch,omitempty"`
}

// TileDTO is one tile in a GET /v1/tiles listing.
type TileDTO struct {
	domain.Tile
	Ready bool   `json:"ready"`
	URL   string `json:"url"`
}

// TilesResponseDTO lists the tiles of the current view.
type TilesResponseDTO struct {
	Transform domain.Transform `json:"transform"`
	Visible   []TileDTO        `json:"visible"`
	Drawable  []TileDTO        `json:"drawable"`
}

// OpenDocument handles POST /v1/document.
func (h *handlers) OpenDocument(w http.ResponseWriter, r *http.Request) {
	var req OpenDocumentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Source == "" {
		h.writeError(w, http.StatusBadRequest, "source is required", "")
		return
	}
	if req.Viewport != nil {
		h.viewer.SetViewport(*req.Viewport)
	}

	dims, err := h.viewer.Open(r.Context(), domain.Source{Path: req.Source})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, OpenDocumentResponseDTO{Dimensions: dims, Transform: h.viewer.Transform()})
}

// UpdateView handles PUT /v1/view.
func (h *handlers) UpdateView(w http.ResponseWriter, r *http.Request) {
	var req ViewRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Page != nil {
		if err := h.viewer.SetPage(*req.Page); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}
	if req.Viewport != nil {
		h.viewer.SetViewport(*req.Viewport)
	}
	if req.Scroll != nil {
		h.viewer.Scroll(*req.Scroll)
	}
	h.writeJSON(w, http.StatusOK, h.viewer.Stats().Zoom)
}

// Zoom handles POST /v1/zoom.
func (h *handlers) Zoom(w http.ResponseWriter, r *http.Request) {
	var req ZoomRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	var err error
	switch {
	case req.Wheel != 0:
		_, err = h.viewer.Wheel(req.Wheel)
	case req.Pinch != 0:
		_, err = h.viewer.Pinch(req.Pinch, req.Point)
	default:
		var kind zoom.AnchorKind
		kind, err = zoom.ParseAnchorKind(req.Kind)
		if err != nil {
			break
		}
		if kind == zoom.AnchorFitToScreen && req.Scale == 0 {
			_, err = h.viewer.FitToScreen()
			break
		}
		if req.Scale <= 0 {
			err = domain.ValidationError("scale must be positive", nil)
			break
		}
		_, err = h.viewer.ZoomAt(kind, req.Point, req.Scale)
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.viewer.Stats().Zoom)
}

// ListTiles handles GET /v1/tiles. With wait=true it blocks until every
// visible tile is ready or the request times out.
func (h *handlers) ListTiles(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer.Document(); !ok {
		h.writeDomainError(w, domain.ValidationError("no document open", domain.ErrNoDocument))
		return
	}

	drawable := h.viewer.Refresh()
	if r.URL.Query().Get("wait") == "true" {
		var err error
		drawable, err = h.viewer.WaitReady(r.Context())
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
	}

	ready := make(map[domain.TileID]bool, len(drawable))
	resp := TilesResponseDTO{Transform: h.viewer.Transform(), Drawable: make([]TileDTO, 0, len(drawable))}
	for _, t := range drawable {
		ready[t.ID] = true
		resp.Drawable = append(resp.Drawable, TileDTO{Tile: t.Tile, Ready: true, URL: tileURL(t.Tile)})
	}
	visible := h.viewer.VisibleTiles()
	resp.Visible = make([]TileDTO, 0, len(visible))
	for _, t := range visible {
		resp.Visible = append(resp.Visible, TileDTO{Tile: t, Ready: ready[t.ID], URL: tileURL(t)})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func tileURL(t domain.Tile) string {
	return fmt.Sprintf("/v1/tiles/%d/%s/%d/%d.png", t.PageIndex, strconv.FormatFloat(t.LOD, 'g', -1, 64), t.Row, t.Col)
}

// TilePNG handles GET /v1/tiles/{page}/{lod}/{row}/{col}.png.
func (h *handlers) TilePNG(w http.ResponseWriter, r *http.Request) {
	page, perr := strconv.Atoi(chi.URLParam(r, "page"))
	lod, lerr := strconv.ParseFloat(chi.URLParam(r, "lod"), 64)
	row, rerr := strconv.Atoi(chi.URLParam(r, "row"))
	col, cerr := strconv.Atoi(chi.URLParam(r, "col"))
	if err := errors.Join(perr, lerr, rerr, cerr); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid tile address", err.Error())
		return
	}

	tile, err := h.viewer.TileAt(page, lod, row, col)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	bm, err := h.viewer.RenderTile(r.Context(), tile)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	defer bm.Release()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	if err := png.Encode(w, bm.Image); err != nil {
		h.logger.Warn().Err(err).Str("tile", string(tile.ID)).Msg("Failed to write tile")
	}
}

// Stats handles GET /v1/stats.
func (h *handlers) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.viewer.Stats())
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	h.writeJSON(w, status, resp)
}

func (h *handlers) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("Request failed")
	}
	h.writeError(w, status, http.StatusText(status), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrNoDocument):
		return http.StatusConflict
	case domain.IsType(err, domain.ErrorTypeValidation):
		return http.StatusBadRequest
	case domain.IsType(err, domain.ErrorTypeSuperseded), domain.IsType(err, domain.ErrorTypeCancelled):
		return http.StatusConflict
	case domain.IsType(err, domain.ErrorTypeLoad):
		return http.StatusUnprocessableEntity
	case domain.IsType(err, domain.ErrorTypeClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
