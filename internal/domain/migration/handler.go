package migration

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the administrative read/update surface for the
// migration configuration.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/migration/config", h.GetConfig)
	api.PUT("/migration/config", h.UpdateConfig)
}

func (h *Handler) GetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Get())
}

func (h *Handler) UpdateConfig(c echo.Context) error {
	var cfg Config
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.store.Update(c.Request().Context(), cfg)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}
