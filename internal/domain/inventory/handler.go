package inventory

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	readGroup.GET("/medicines", h.ListMedicines)
	readGroup.GET("/medicines/:id", h.GetMedicine)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/medicines", h.CreateMedicine)
	adminGroup.POST("/medicines/:id/stock", h.UpdateStock)
	adminGroup.GET("/medicines/:id/movements", h.ListMovements)
	adminGroup.GET("/stock-alerts", h.ListAlerts)
	adminGroup.POST("/stock-alerts/:id/resolve", h.ResolveAlert)
}

type createMedicineRequest struct {
	Name                 string          `json:"name"`
	GenericName          string          `json:"generic_name"`
	Category             Category        `json:"category"`
	Manufacturer         *string         `json:"manufacturer"`
	BatchNumber          *string         `json:"batch_number"`
	ExpiryDate           *string         `json:"expiry_date"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	PrescriptionRequired bool            `json:"prescription_required"`
	CurrentStock         int             `json:"current_stock"`
	MinimumStock         int             `json:"minimum_stock"`
	MaximumStock         int             `json:"maximum_stock"`
	ShelfLocation        *string         `json:"shelf_location"`
}

type stockRequest struct {
	Quantity  int       `json:"quantity"`
	Operation Operation `json:"operation"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateMedicine(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var req createMedicineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m := &Medicine{
		Name:                 req.Name,
		GenericName:          req.GenericName,
		Category:             req.Category,
		Manufacturer:         req.Manufacturer,
		BatchNumber:          req.BatchNumber,
		UnitPrice:            req.UnitPrice,
		PrescriptionRequired: req.PrescriptionRequired,
	}
	if req.ExpiryDate != nil && *req.ExpiryDate != "" {
		t, err := time.Parse("2006-01-02", *req.ExpiryDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid expiry_date, expected YYYY-MM-DD")
		}
		m.ExpiryDate = &t
	}
	inv := &Inventory{
		CurrentStock:  req.CurrentStock,
		MinimumStock:  req.MinimumStock,
		MaximumStock:  req.MaximumStock,
		ShelfLocation: req.ShelfLocation,
	}
	ms, err := h.svc.CreateMedicine(c.Request().Context(), m, inv, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, ms)
}

func (h *Handler) GetMedicine(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ms, err := h.svc.GetMedicine(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, ms)
}

func (h *Handler) ListMedicines(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		Category: Category(c.QueryParam("category")),
		Search:   c.QueryParam("search"),
	}
	if v := c.QueryParam("low_stock"); v != "" {
		low, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid low_stock")
		}
		f.LowStock = low
	}
	items, total, err := h.svc.ListMedicines(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateStock(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req stockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.ApplyStockOperation(c.Request().Context(), id, req.Quantity, req.Operation, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListMovements(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMovements(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListAlerts(c echo.Context) error {
	pg := pagination.FromContext(c)
	var resolved *bool
	if v := c.QueryParam("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid resolved")
		}
		resolved = &b
	}
	items, total, err := h.svc.ListAlerts(c.Request().Context(), resolved, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ResolveAlert(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.ResolveAlert(c.Request().Context(), id, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}
