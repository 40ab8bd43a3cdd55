package packagesapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/elclub/paqclub/internal/models"
	"github.com/elclub/paqclub/internal/services/packages"
	"github.com/elclub/paqclub/internal/services/rates"
)

type PackagesAPI struct {
	packages *packages.Service
	rates    *rates.Service
}

func New(pkgSvc *packages.Service, rateSvc *rates.Service) *PackagesAPI {
	return &PackagesAPI{packages: pkgSvc, rates: rateSvc}
}

func (a *PackagesAPI) Routes(r chi.Router) {
	r.Route("/v1/packages", func(r chi.Router) {
		r.Post("/announce", a.handleAnnounce)
		r.Post("/receive", a.handleReceive)
		r.Post("/deliver", a.handleDeliver)
		r.Post("/cancel", a.handleCancel)
		r.Get("/guia/{guideNumber}", a.handleGetByGuide)
		r.Get("/{trackingNumber}", a.handleGetPackage)
		r.Get("/{trackingNumber}/events", a.handleListEvents)
		r.Post("/{trackingNumber}/notes", a.handleAddNote)
		r.Post("/{trackingNumber}/images", a.handleAddImage)
	})
	r.Get("/v1/consulta/{consultCode}", a.handleConsult)
	r.Route("/v1/rates", func(r chi.Router) {
		r.Post("/", a.handleCreateRate)
		r.Get("/", a.handleListRates)
		r.Delete("/{id}", a.handleDeactivateRate)
	})
}

type packageResponse struct {
	ID             uint64  `json:"id"`
	TrackingNumber string  `json:"trackingNumber"`
	GuideNumber    *string `json:"guideNumber,omitempty"`
	ConsultCode    *string `json:"consultCode,omitempty"`
	CustomerName   *string `json:"customerName,omitempty"`
	CustomerPhone  *string `json:"customerPhone,omitempty"`
	PackageType    string  `json:"packageType"`
	Status         string  `json:"status"`
	Condition      string  `json:"condition"`
	Posicion       *string `json:"posicion,omitempty"`

	BaseFee     string `json:"baseFee"`
	StorageFee  string `json:"storageFee"`
	TotalAmount string `json:"totalAmount"`

	AnnouncedAt time.Time  `json:"announcedAt"`
	ReceivedAt  *time.Time `json:"receivedAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toPackageResponse(p *models.Package) packageResponse {
	return packageResponse{
		ID:             p.ID,
		TrackingNumber: p.TrackingNumber,
		GuideNumber:    p.GuideNumber,
		ConsultCode:    p.ConsultCode,
		CustomerName:   p.CustomerName,
		CustomerPhone:  p.CustomerPhone,
		PackageType:    p.PackageType,
		Status:         p.Status,
		Condition:      p.Condition,
		Posicion:       p.Posicion,
		BaseFee:        p.BaseFee.StringFixed(2),
		StorageFee:     p.StorageFee.StringFixed(2),
		TotalAmount:    p.TotalAmount.StringFixed(2),
		AnnouncedAt:    p.AnnouncedAt,
		ReceivedAt:     p.ReceivedAt,
		DeliveredAt:    p.DeliveredAt,
		CancelledAt:    p.CancelledAt,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

type announceRequest struct {
	TrackingNumber string  `json:"trackingNumber"`
	GuideNumber    *string `json:"guideNumber,omitempty"`
	CustomerName   *string `json:"customerName,omitempty"`
	CustomerPhone  *string `json:"customerPhone,omitempty"`
	PackageType    string  `json:"packageType,omitempty"`
	Operator       string  `json:"operator,omitempty"`
	Observations   *string `json:"observations,omitempty"`
}

func (a *PackagesAPI) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req announceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	pkg, err := a.packages.Announce(r.Context(), packages.AnnounceInput{
		TrackingNumber: req.TrackingNumber,
		GuideNumber:    req.GuideNumber,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		PackageType:    req.PackageType,
		Operator:       req.Operator,
		Observations:   req.Observations,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPackageResponse(pkg))
}

type receiveRequest struct {
	TrackingNumber string  `json:"trackingNumber"`
	GuideNumber    *string `json:"guideNumber,omitempty"`
	Posicion       string  `json:"posicion"`
	Condition      string  `json:"condition,omitempty"`
	Operator       string  `json:"operator,omitempty"`
	Observations   *string `json:"observations,omitempty"`

	CreateIfMissing bool    `json:"createIfMissing,omitempty"`
	CustomerName    *string `json:"customerName,omitempty"`
	CustomerPhone   *string `json:"customerPhone,omitempty"`
	PackageType     string  `json:"packageType,omitempty"`
}

func (a *PackagesAPI) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	pkg, err := a.packages.Receive(r.Context(), packages.ReceiveInput{
		TrackingNumber:  req.TrackingNumber,
		GuideNumber:     req.GuideNumber,
		Posicion:        req.Posicion,
		Condition:       req.Condition,
		Operator:        req.Operator,
		Observations:    req.Observations,
		CreateIfMissing: req.CreateIfMissing,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		PackageType:     req.PackageType,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageResponse(pkg))
}

type deliverRequest struct {
	TrackingNumber string  `json:"trackingNumber"`
	PaymentMethod  string  `json:"paymentMethod,omitempty"`
	PaymentAmount  *string `json:"paymentAmount,omitempty"`
	Operator       string  `json:"operator,omitempty"`
	Observations   *string `json:"observations,omitempty"`
}

func (a *PackagesAPI) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var req deliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	var amount *decimal.Decimal
	if req.PaymentAmount != nil {
		d, err := decimal.NewFromString(*req.PaymentAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid paymentAmount")
			return
		}
		amount = &d
	}

	pkg, err := a.packages.Deliver(r.Context(), packages.DeliverInput{
		TrackingNumber: req.TrackingNumber,
		PaymentMethod:  req.PaymentMethod,
		PaymentAmount:  amount,
		Operator:       req.Operator,
		Observations:   req.Observations,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageResponse(pkg))
}

type cancelRequest struct {
	TrackingNumber string  `json:"trackingNumber"`
	Reason         string  `json:"reason"`
	Operator       string  `json:"operator,omitempty"`
	Observations   *string `json:"observations,omitempty"`
}

func (a *PackagesAPI) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	pkg, err := a.packages.Cancel(r.Context(), packages.CancelInput{
		TrackingNumber: req.TrackingNumber,
		Reason:         req.Reason,
		Operator:       req.Operator,
		Observations:   req.Observations,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageResponse(pkg))
}

func (a *PackagesAPI) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := a.packages.GetByTrackingNumber(r.Context(), chi.URLParam(r, "trackingNumber"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageResponse(pkg))
}

// handleGetByGuide looks a package up by the carrier guide number, which
// the counter often has when the customer never announced.
func (a *PackagesAPI) handleGetByGuide(w http.ResponseWriter, r *http.Request) {
	pkg, err := a.packages.GetByGuideNumber(r.Context(), chi.URLParam(r, "guideNumber"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageResponse(pkg))
}

// handleConsult is the public lookup. The consult code is the only
// credential, so the response is the same package view with customer
// contact details stripped.
func (a *PackagesAPI) handleConsult(w http.ResponseWriter, r *http.Request) {
	pkg, err := a.packages.GetByConsultCode(r.Context(), chi.URLParam(r, "consultCode"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := toPackageResponse(pkg)
	resp.CustomerPhone = nil
	writeJSON(w, http.StatusOK, resp)
}

type eventResponse struct {
	ID           uuid.UUID `json:"id"`
	EventType    string    `json:"eventType"`
	EventTime    time.Time `json:"eventTime"`
	StatusBefore *string   `json:"statusBefore,omitempty"`
	StatusAfter  string    `json:"statusAfter"`
	Posicion     *string   `json:"posicion,omitempty"`
	BaseFee      string    `json:"baseFee"`
	StorageFee   string    `json:"storageFee"`
	StorageDays  int32     `json:"storageDays"`
	TotalAmount  string    `json:"totalAmount"`

	PaymentMethod *string `json:"paymentMethod,omitempty"`
	PaymentAmount *string `json:"paymentAmount,omitempty"`

	Operator           string  `json:"operator"`
	CancellationReason *string `json:"cancellationReason,omitempty"`
	FileID             *string `json:"fileId,omitempty"`
	Observations       *string `json:"observations,omitempty"`
}

func (a *PackagesAPI) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	evs, err := a.packages.ListEvents(r.Context(), chi.URLParam(r, "trackingNumber"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]eventResponse, 0, len(evs))
	for _, e := range evs {
		resp := eventResponse{
			ID:                 e.ID,
			EventType:          e.EventType,
			EventTime:          e.EventTime,
			StatusBefore:       e.StatusBefore,
			StatusAfter:        e.StatusAfter,
			Posicion:           e.Posicion,
			BaseFee:            e.BaseFee.StringFixed(2),
			StorageFee:         e.StorageFee.StringFixed(2),
			StorageDays:        e.StorageDays,
			TotalAmount:        e.TotalAmount.StringFixed(2),
			PaymentMethod:      e.PaymentMethod,
			Operator:           e.Operator,
			CancellationReason: e.CancellationReason,
			FileID:             e.FileID,
			Observations:       e.Observations,
		}
		if e.PaymentAmount != nil {
			s := e.PaymentAmount.StringFixed(2)
			resp.PaymentAmount = &s
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

type noteRequest struct {
	Note     string `json:"note"`
	Operator string `json:"operator,omitempty"`
}

func (a *PackagesAPI) handleAddNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.packages.AddNote(r.Context(), chi.URLParam(r, "trackingNumber"), req.Note, req.Operator); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"added": true})
}

type imageRequest struct {
	FileID   string `json:"fileId"`
	Operator string `json:"operator,omitempty"`
}

func (a *PackagesAPI) handleAddImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.packages.AddImage(r.Context(), chi.URLParam(r, "trackingNumber"), req.FileID, req.Operator); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"added": true})
}

type rateRequest struct {
	RateType         string  `json:"rateType"`
	Name             string  `json:"name"`
	Description      *string `json:"description,omitempty"`
	BasePrice        string  `json:"basePrice"`
	DailyStorageRate string  `json:"dailyStorageRate,omitempty"`
	DeliveryRate     string  `json:"deliveryRate,omitempty"`
	Multiplier       string  `json:"multiplier,omitempty"`
	ValidFrom        *string `json:"validFrom,omitempty"`
}

type rateResponse struct {
	ID               uuid.UUID  `json:"id"`
	RateType         string     `json:"rateType"`
	Name             string     `json:"name"`
	Description      *string    `json:"description,omitempty"`
	BasePrice        string     `json:"basePrice"`
	DailyStorageRate string     `json:"dailyStorageRate"`
	DeliveryRate     string     `json:"deliveryRate"`
	Multiplier       string     `json:"multiplier"`
	IsActive         bool       `json:"isActive"`
	ValidFrom        time.Time  `json:"validFrom"`
	ValidTo          *time.Time `json:"validTo,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func toRateResponse(rt *models.Rate) rateResponse {
	return rateResponse{
		ID:               rt.ID,
		RateType:         rt.RateType,
		Name:             rt.Name,
		Description:      rt.Description,
		BasePrice:        rt.BasePrice.StringFixed(2),
		DailyStorageRate: rt.DailyStorageRate.StringFixed(2),
		DeliveryRate:     rt.DeliveryRate.StringFixed(2),
		Multiplier:       rt.Multiplier.String(),
		IsActive:         rt.IsActive,
		ValidFrom:        rt.ValidFrom,
		ValidTo:          rt.ValidTo,
		CreatedAt:        rt.CreatedAt,
	}
}

func (a *PackagesAPI) handleCreateRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	in := models.RateCreateInput{
		RateType:    req.RateType,
		Name:        req.Name,
		Description: req.Description,
	}

	var err error
	if in.BasePrice, err = decimal.NewFromString(req.BasePrice); err != nil {
		writeError(w, http.StatusBadRequest, "invalid basePrice")
		return
	}
	if in.DailyStorageRate, err = parseDecimalOrZero(req.DailyStorageRate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid dailyStorageRate")
		return
	}
	if in.DeliveryRate, err = parseDecimalOrZero(req.DeliveryRate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid deliveryRate")
		return
	}
	if in.Multiplier, err = parseDecimalOrZero(req.Multiplier); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multiplier")
		return
	}
	if req.ValidFrom != nil {
		t, err := time.Parse(time.RFC3339, *req.ValidFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid validFrom")
			return
		}
		in.ValidFrom = t
	}

	rt, err := a.rates.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRateResponse(rt))
}

func (a *PackagesAPI) handleListRates(w http.ResponseWriter, r *http.Request) {
	rts, err := a.rates.List(r.Context(), r.URL.Query().Get("rateType"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]rateResponse, 0, len(rts))
	for _, rt := range rts {
		out = append(out, toRateResponse(rt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rates": out})
}

func (a *PackagesAPI) handleDeactivateRate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rate id")
		return
	}
	if err := a.rates.Deactivate(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deactivated": true})
}

func parseDecimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto HTTP statuses. Anything
// unrecognized is a 500 with the detail kept out of the response body.
func writeServiceError(w http.ResponseWriter, err error) {
	var invalidTransition *models.InvalidTransitionError
	var rateNotConfigured *models.RateNotConfiguredError

	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &invalidTransition):
		writeError(w, http.StatusConflict, invalidTransition.Error())
	case errors.As(err, &rateNotConfigured):
		writeError(w, http.StatusUnprocessableEntity, rateNotConfigured.Error())
	default:
		slog.Error("request failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
