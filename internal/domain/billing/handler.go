package billing

import (
	"net/http"
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
	// Read endpoints - every role; patients only see their own bills
	readGroup := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleNurse, auth.RoleLabTechnician))
	readGroup.GET("/bills", h.ListBills)
	readGroup.GET("/bills/:id", h.GetBill)
	readGroup.GET("/bills/:id/payments", h.ListPayments)

	payGroup := api.Group("", auth.RequireRole(auth.RolePatient))
	payGroup.POST("/bills/:id/pay", h.Pay)

	// Write endpoints - admin
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/bills", h.CreateBill)
	adminGroup.POST("/bills/mark-overdue", h.MarkOverdue)
	adminGroup.POST("/expenses", h.RecordExpense)
	adminGroup.GET("/expenses", h.ListExpenses)
	adminGroup.GET("/reports/financial", h.FinancialSummary)
}

type itemRequest struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Type        ItemType        `json:"type"`
}

type createBillRequest struct {
	PatientID      string          `json:"patient_id"`
	AppointmentID  *uuid.UUID      `json:"appointment_id"`
	Items          []itemRequest   `json:"items"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DueDate        string          `json:"due_date"`
	Notes          *string         `json:"notes"`
}

type payRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Reference     *string         `json:"reference"`
}

type expenseRequest struct {
	Category    ExpenseCategory `json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	ExpenseDate string          `json:"expense_date"`
	Department  Department      `json:"department"`
	ReceiptURL  *string         `json:"receipt_url"`
}

type payResponse struct {
	Bill    *Bill    `json:"bill"`
	Payment *Payment `json:"payment"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// parseDueDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates. A
// plain date is due at the end of that day.
func parseDueDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(24*time.Hour - time.Second), nil
}

func (h *Handler) CreateBill(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var req createBillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	due, err := parseDueDate(req.DueDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid due_date")
	}
	in := CreateBillInput{
		PatientID:      req.PatientID,
		AppointmentID:  req.AppointmentID,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		DueDate:        due,
		Notes:          req.Notes,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, &BillItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Type:        it.Type,
		})
	}
	b, err := h.svc.CreateBill(c.Request().Context(), in, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBill(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBill(c.Request().Context(), id, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBills(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := ListFilter{
		PatientID: c.QueryParam("patient_id"),
		Status:    Status(c.QueryParam("status")),
	}
	if v := c.QueryParam("appointment_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment_id")
		}
		f.AppointmentID = &id
	}
	bills, total, err := h.svc.ListBills(c.Request().Context(), f, actor, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bills, total, pg.Limit, pg.Offset))
}

func (h *Handler) Pay(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req payRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, p, err := h.svc.ProcessPayment(c.Request().Context(), id, PaymentInput{
		Amount:    req.Amount,
		Method:    req.PaymentMethod,
		Reference: req.Reference,
	}, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, payResponse{Bill: b, Payment: p})
}

func (h *Handler) ListPayments(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	payments, err := h.svc.ListPayments(c.Request().Context(), id, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, payments)
}

func (h *Handler) MarkOverdue(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkOverdue(c.Request().Context(), time.Now(), actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"marked_overdue": n})
}

// parseDay accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) RecordExpense(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var req expenseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := parseDay(req.ExpenseDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid expense_date")
	}
	e := &Expense{
		Category:    req.Category,
		Description: req.Description,
		Amount:      req.Amount,
		Department:  req.Department,
		ReceiptURL:  req.ReceiptURL,
	}
	if date != nil {
		e.ExpenseDate = *date
	}
	if err := h.svc.RecordExpense(c.Request().Context(), e, actor); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) ListExpenses(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ExpenseFilter{
		Category:   ExpenseCategory(c.QueryParam("category")),
		Department: Department(c.QueryParam("department")),
	}
	var err error
	if f.From, err = parseDay(c.QueryParam("from")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
	}
	if f.To, err = parseDay(c.QueryParam("to")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
	}
	items, total, err := h.svc.ListExpenses(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// FinancialSummary defaults to the 30 days up to now.
func (h *Handler) FinancialSummary(c echo.Context) error {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if t, err := parseDay(c.QueryParam("to")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
	} else if t != nil {
		to = *t
	}
	if t, err := parseDay(c.QueryParam("from")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
	} else if t != nil {
		from = *t
	}
	summary, err := h.svc.FinancialSummary(c.Request().Context(), from, to)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, summary)
}
