package preview

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/radview/radview/internal/domain/instance"
	"github.com/radview/radview/internal/platform/pacs"
	"github.com/radview/radview/pkg/pagination"
)

// Handler exposes the frame-serving entry point consumed by the report
// editor, plus a read-only listing of a series' instances.
type Handler struct {
	router *Router
	repo   instance.Repository
	legacy LegacyRenderer // may be nil when no legacy renderer is configured
}

func NewHandler(router *Router, repo instance.Repository, legacy LegacyRenderer) *Handler {
	return &Handler{router: router, repo: repo, legacy: legacy}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/series/:series_uid/frames/:index", h.GetFrame)
	api.GET("/series/:series_uid/instances", h.ListInstances)
}

// GetFrame serves one frame of a series by global frame index. Query
// parameters: use_external=true|false forces the routing decision for
// this request; quality=1-100 hints the preview encoder.
func (h *Handler) GetFrame(c echo.Context) error {
	seriesUID := c.Param("series_uid")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "frame index must be an integer")
	}

	req := Request{
		SeriesUID:        seriesUID,
		GlobalFrameIndex: index,
	}
	if raw := c.QueryParam("use_external"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "use_external must be a boolean")
		}
		req.UseExternal = &v
	}
	if raw := c.QueryParam("quality"); raw != "" {
		q, err := strconv.Atoi(raw)
		if err != nil || q < 1 || q > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "quality must be 1-100")
		}
		req.Quality = q
	}

	var legacy LegacyRenderFunc
	if h.legacy != nil {
		legacy = func(ctx context.Context) ([]byte, error) {
			return h.legacy.RenderFrame(ctx, seriesUID, index)
		}
	}

	img, err := h.router.GetFrame(c.Request().Context(), req, legacy)
	if err != nil {
		switch {
		case errors.Is(err, pacs.ErrInvalidArgument):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, pacs.ErrOutOfRange):
			return echo.NewHTTPError(http.StatusRequestedRangeNotSatisfiable, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadGateway, "frame could not be rendered")
		}
	}
	return c.Blob(http.StatusOK, "application/octet-stream", img)
}

// ListInstances returns the ordered instances of a series with their
// resolution state, paginated.
func (h *Handler) ListInstances(c echo.Context) error {
	instances, err := h.repo.ListBySeries(c.Request().Context(), c.Param("series_uid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	p := pagination.FromContext(c)
	total := len(instances)
	start := p.Offset
	if start > total {
		start = total
	}
	end := start + p.Limit
	if end > total {
		end = total
	}
	resp := pagination.NewResponse(instances[start:end], total, p.Limit, p.Offset)
	resp.Links = p.Links(c.Request().URL.Path, total)
	return c.JSON(http.StatusOK, resp)
}
