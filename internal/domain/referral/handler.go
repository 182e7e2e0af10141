package referral

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/referrals/internal/platform/apperr"
	"github.com/clinic/referrals/internal/platform/auth"
	"github.com/clinic/referrals/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleAdmin))

	g.GET("/referrals", h.ListReferrals)
	g.POST("/referrals", h.CreateReferral)
	g.GET("/referrals/export", h.ExportReferrals)
	g.GET("/referrals/:id", h.GetReferral)
	g.PUT("/referrals/:id", h.UpdateReferral)
	g.DELETE("/referrals/:id", h.DeleteReferral)
	g.PATCH("/referrals/:id/status", h.UpdateStatus)
	g.PATCH("/referrals/:id/notes", h.UpdateNotes)

	g.POST("/referrals/:id/documents", h.UploadDocument)
	g.GET("/documents/:id", h.GetDocument)
	g.GET("/documents/:id/content", h.DownloadDocument)
	g.DELETE("/documents/:id", h.DeleteDocument)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func filterFromQuery(c echo.Context) Filter {
	return NewFilter(FilterParams{
		Status:   c.QueryParam("status"),
		Practice: c.QueryParam("practice"),
		From:     c.QueryParam("from"),
		To:       c.QueryParam("to"),
		Search:   c.QueryParam("search"),
	})
}

// -- Referral Handlers --

// ListReferrals accepts search, status, practice, from, to and page.
func (h *Handler) ListReferrals(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), filterFromQuery(c), pg)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if items == nil {
		items = []*Referral{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CreateReferral(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ref, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, ref)
}

func (h *Handler) GetReferral(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ref, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, ref)
}

func (h *Handler) UpdateReferral(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ref, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, ref)
}

func (h *Handler) DeleteReferral(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateStatus(c.Request().Context(), id, body.Status); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) UpdateNotes(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateNotes(c.Request().Context(), id, body.Notes); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ExportReferrals streams a CSV of the referrals matching status, from and to.
func (h *Handler) ExportReferrals(c echo.Context) error {
	items, err := h.svc.Export(c.Request().Context(), filterFromQuery(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, items); err != nil {
		return apperr.HTTPError(fmt.Errorf("write csv: %w", err))
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, ExportFilename(h.svc.now())))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// -- Document Handlers --

// UploadDocument accepts a multipart form with a "file" part.
func (h *Handler) UploadDocument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing file or referralId")
	}
	f, err := fh.Open()
	if err != nil {
		return apperr.HTTPError(fmt.Errorf("open upload: %w", err))
	}
	defer f.Close()

	doc, err := h.svc.UploadDocument(c.Request().Context(), id, fh.Filename, fh.Header.Get(echo.HeaderContentType), fh.Size, f)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, doc)
}

func (h *Handler) GetDocument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.GetDocument(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) DownloadDocument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	doc, rc, err := h.svc.OpenDocument(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", doc.FileName))
	c.Response().Header().Set(echo.HeaderContentLength, fmt.Sprint(doc.FileSize))
	return c.Stream(http.StatusOK, doc.ContentType, rc)
}

func (h *Handler) DeleteDocument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteDocument(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
