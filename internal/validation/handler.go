package validation

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the harness over the administrative API: trigger a run,
// retrieve the last report.
type Handler struct {
	harness *Harness
}

func NewHandler(harness *Harness) *Handler {
	return &Handler{harness: harness}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/migration/validate", h.RunValidation)
	api.GET("/migration/report", h.GetReport)
}

func (h *Handler) RunValidation(c echo.Context) error {
	report, err := h.harness.Run(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) GetReport(c echo.Context) error {
	report := h.harness.LastReport()
	if report == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no validation run recorded yet")
	}
	return c.JSON(http.StatusOK, report)
}
