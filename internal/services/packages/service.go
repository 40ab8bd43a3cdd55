package packages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/elclub/paqclub/internal/models"
	"github.com/elclub/paqclub/internal/services/fees"
	"github.com/elclub/paqclub/internal/storage/pgpaquetes"
)

type Repository interface {
	CreatePackage(ctx context.Context, in models.PackageCreateInput, event *models.PackageEvent) (*models.Package, error)
	GetPackageByID(ctx context.Context, id uint64) (*models.Package, error)
	GetPackageByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Package, error)
	GetPackageByGuideNumber(ctx context.Context, guideNumber string) (*models.Package, error)
	GetPackageByConsultCode(ctx context.Context, consultCode string) (*models.Package, error)
	ExecTransition(ctx context.Context, upd pgpaquetes.TransitionUpdate) (*models.Package, error)
	AppendEvent(ctx context.Context, ev *models.PackageEvent) error
	ListPackageEvents(ctx context.Context, packageID uint64, limit int) ([]*models.PackageEvent, error)
}

type FeeCalculator interface {
	ForReception(ctx context.Context, packageType string, at time.Time) (fees.Breakdown, error)
	ForDelivery(ctx context.Context, packageType string, receivedAt, at time.Time) (fees.Breakdown, error)
}

// Notifier enqueues outbound messages for a committed lifecycle event.
// Its errors never unwind the transition that triggered it.
type Notifier interface {
	OnEvent(ctx context.Context, pkg *models.Package, ev *models.PackageEvent) error
}

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Service struct {
	repo       Repository
	fees       FeeCalculator
	notifier   Notifier
	cache      BytesCache
	currentTTL time.Duration
	log        *slog.Logger
}

func New(repo Repository, calc FeeCalculator, notifier Notifier, c BytesCache, currentTTL time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, fees: calc, notifier: notifier, cache: c, currentTTL: currentTTL, log: log}
}

type AnnounceInput struct {
	TrackingNumber string
	GuideNumber    *string
	CustomerName   *string
	CustomerPhone  *string
	PackageType    string
	Operator       string
	Observations   *string
}

// Announce registers a package the customer told us to expect. The row is
// created in ANUNCIADO together with its ANUNCIO event; fees stay zero
// until reception.
func (s *Service) Announce(ctx context.Context, in AnnounceInput) (*models.Package, error) {
	if in.TrackingNumber == "" {
		return nil, errors.New("trackingNumber is required")
	}
	if in.PackageType == "" {
		in.PackageType = models.PackageTypeNormal
	}
	if !validPackageType(in.PackageType) {
		return nil, errors.Errorf("unknown package type %q", in.PackageType)
	}
	if in.Operator == "" {
		in.Operator = defaultOperator
	}

	code, err := NewConsultCode()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	create := models.PackageCreateInput{
		TrackingNumber: in.TrackingNumber,
		GuideNumber:    in.GuideNumber,
		ConsultCode:    &code,
		CustomerName:   in.CustomerName,
		CustomerPhone:  in.CustomerPhone,
		PackageType:    in.PackageType,
		Status:         models.PackageStatusAnunciado,
		Condition:      models.PackageConditionBueno,
		Operator:       in.Operator,
		Observations:   in.Observations,
	}

	cond := models.PackageConditionBueno
	ev := &models.PackageEvent{
		EventType:      models.EventTypeAnuncio,
		EventTime:      now,
		TrackingNumber: in.TrackingNumber,
		GuideNumber:    in.GuideNumber,
		ConsultCode:    &code,
		StatusBefore:   nil,
		StatusAfter:    models.PackageStatusAnunciado,
		PackageType:    in.PackageType,
		Condition:      &cond,
		CustomerName:   in.CustomerName,
		CustomerPhone:  in.CustomerPhone,
		Operator:       in.Operator,
		Observations:   in.Observations,
	}

	pkg, err := s.repo.CreatePackage(ctx, create, ev)
	if err != nil {
		return nil, err
	}

	s.refreshCache(ctx, pkg)
	s.notify(ctx, pkg, ev)
	return pkg, nil
}

type ReceiveInput struct {
	TrackingNumber string
	GuideNumber    *string
	Posicion       string
	Condition      string
	Operator       string
	Observations   *string

	// Direct intake: the package shows up at the counter without a prior
	// announcement.
	CreateIfMissing bool
	CustomerName    *string
	CustomerPhone   *string
	PackageType     string
}

// Receive moves a package to RECIBIDO, assigns its shelf position and
// prices it with the rate in force right now.
func (s *Service) Receive(ctx context.Context, in ReceiveInput) (*models.Package, error) {
	if in.TrackingNumber == "" {
		return nil, errors.New("trackingNumber is required")
	}
	if !validPosicion(in.Posicion) {
		return nil, errors.Errorf("invalid posicion %q (expected 00-99)", in.Posicion)
	}
	if in.Condition == "" {
		in.Condition = models.PackageConditionBueno
	}
	if !validCondition(in.Condition) {
		return nil, errors.Errorf("unknown condition %q", in.Condition)
	}
	if in.Operator == "" {
		in.Operator = defaultOperator
	}

	pkg, err := s.repo.GetPackageByTrackingNumber(ctx, in.TrackingNumber)
	if errors.Is(err, models.ErrNotFound) && in.CreateIfMissing {
		pkg, err = s.Announce(ctx, AnnounceInput{
			TrackingNumber: in.TrackingNumber,
			GuideNumber:    in.GuideNumber,
			CustomerName:   in.CustomerName,
			CustomerPhone:  in.CustomerPhone,
			PackageType:    in.PackageType,
			Operator:       in.Operator,
		})
	}
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(pkg.Status, models.PackageStatusRecibido) {
		return nil, &models.InvalidTransitionError{From: pkg.Status, To: models.PackageStatusRecibido}
	}

	now := time.Now().UTC()
	bd, err := s.fees.ForReception(ctx, pkg.PackageType, now)
	if err != nil {
		return nil, err
	}

	ev := snapshotEvent(pkg, models.EventTypeRecepcion, models.PackageStatusRecibido, now, in.Operator)
	ev.Condition = &in.Condition
	ev.Posicion = &in.Posicion
	ev.GuideNumber = firstNonNil(in.GuideNumber, pkg.GuideNumber)
	ev.BaseFee = bd.BaseFee
	ev.StorageFee = bd.StorageFee
	ev.StorageDays = bd.StorageDays
	ev.TotalAmount = bd.TotalAmount
	ev.Observations = in.Observations

	updated, err := s.repo.ExecTransition(ctx, pgpaquetes.TransitionUpdate{
		PackageID:    pkg.ID,
		StatusBefore: pkg.Status,
		NewStatus:    models.PackageStatusRecibido,
		Condition:    &in.Condition,
		Posicion:     &in.Posicion,
		GuideNumber:  in.GuideNumber,
		BaseFee:      bd.BaseFee,
		StorageFee:   bd.StorageFee,
		TotalAmount:  bd.TotalAmount,
		Now:          now,
		Event:        ev,
	})
	if err != nil {
		return nil, err
	}

	s.refreshCache(ctx, updated)
	s.notify(ctx, updated, ev)
	return updated, nil
}

type DeliverInput struct {
	TrackingNumber string
	PaymentMethod  string
	PaymentAmount  *decimal.Decimal
	Operator       string
	Observations   *string
}

// Deliver hands the package over, charging the base fee plus storage for
// every full day it sat on the shelf. Payment is captured in the ENTREGA
// event; when no explicit amount comes in, the computed total is recorded.
func (s *Service) Deliver(ctx context.Context, in DeliverInput) (*models.Package, error) {
	if in.TrackingNumber == "" {
		return nil, errors.New("trackingNumber is required")
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = PaymentMethodEfectivo
	}
	if !validPaymentMethod(in.PaymentMethod) {
		return nil, errors.Errorf("unknown payment method %q", in.PaymentMethod)
	}
	if in.Operator == "" {
		in.Operator = defaultOperator
	}

	pkg, err := s.repo.GetPackageByTrackingNumber(ctx, in.TrackingNumber)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(pkg.Status, models.PackageStatusEntregado) {
		return nil, &models.InvalidTransitionError{From: pkg.Status, To: models.PackageStatusEntregado}
	}
	if pkg.ReceivedAt == nil {
		return nil, errors.New("package has no reception time")
	}

	now := time.Now().UTC()
	bd, err := s.fees.ForDelivery(ctx, pkg.PackageType, *pkg.ReceivedAt, now)
	if err != nil {
		return nil, err
	}

	amount := bd.TotalAmount
	if in.PaymentAmount != nil {
		amount = *in.PaymentAmount
	}

	ev := snapshotEvent(pkg, models.EventTypeEntrega, models.PackageStatusEntregado, now, in.Operator)
	ev.BaseFee = bd.BaseFee
	ev.StorageFee = bd.StorageFee
	ev.StorageDays = bd.StorageDays
	ev.TotalAmount = bd.TotalAmount
	ev.PaymentMethod = &in.PaymentMethod
	ev.PaymentAmount = &amount
	ev.Observations = in.Observations

	updated, err := s.repo.ExecTransition(ctx, pgpaquetes.TransitionUpdate{
		PackageID:    pkg.ID,
		StatusBefore: pkg.Status,
		NewStatus:    models.PackageStatusEntregado,
		BaseFee:      bd.BaseFee,
		StorageFee:   bd.StorageFee,
		TotalAmount:  bd.TotalAmount,
		Now:          now,
		Event:        ev,
	})
	if err != nil {
		return nil, err
	}

	s.refreshCache(ctx, updated)
	s.notify(ctx, updated, ev)
	return updated, nil
}

type CancelInput struct {
	TrackingNumber string
	Reason         string
	Operator       string
	Observations   *string
}

// Cancel closes out a package from any non-terminal status. Fees already
// accrued stay on the row for the record; nothing further is charged.
func (s *Service) Cancel(ctx context.Context, in CancelInput) (*models.Package, error) {
	if in.TrackingNumber == "" {
		return nil, errors.New("trackingNumber is required")
	}
	if in.Reason == "" {
		return nil, errors.New("reason is required")
	}
	if in.Operator == "" {
		in.Operator = defaultOperator
	}

	pkg, err := s.repo.GetPackageByTrackingNumber(ctx, in.TrackingNumber)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(pkg.Status, models.PackageStatusCancelado) {
		return nil, &models.InvalidTransitionError{From: pkg.Status, To: models.PackageStatusCancelado}
	}

	now := time.Now().UTC()
	ev := snapshotEvent(pkg, models.EventTypeCancelacion, models.PackageStatusCancelado, now, in.Operator)
	ev.CancellationReason = &in.Reason
	ev.Observations = in.Observations

	updated, err := s.repo.ExecTransition(ctx, pgpaquetes.TransitionUpdate{
		PackageID:    pkg.ID,
		StatusBefore: pkg.Status,
		NewStatus:    models.PackageStatusCancelado,
		BaseFee:      pkg.BaseFee,
		StorageFee:   pkg.StorageFee,
		TotalAmount:  pkg.TotalAmount,
		Now:          now,
		Event:        ev,
	})
	if err != nil {
		return nil, err
	}

	s.refreshCache(ctx, updated)
	s.notify(ctx, updated, ev)
	return updated, nil
}

// AddNote appends a free-form note to the package history. No status
// change, no notification.
func (s *Service) AddNote(ctx context.Context, trackingNumber, note, operator string) error {
	if trackingNumber == "" {
		return errors.New("trackingNumber is required")
	}
	if note == "" {
		return errors.New("note is required")
	}
	if operator == "" {
		operator = defaultOperator
	}

	pkg, err := s.repo.GetPackageByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return err
	}

	ev := snapshotEvent(pkg, models.EventTypeNotaAgregada, pkg.Status, time.Now().UTC(), operator)
	ev.PackageID = &pkg.ID
	ev.Observations = &note
	return s.repo.AppendEvent(ctx, ev)
}

// AddImage links an uploaded photo (by file id) to the package history.
func (s *Service) AddImage(ctx context.Context, trackingNumber, fileID, operator string) error {
	if trackingNumber == "" {
		return errors.New("trackingNumber is required")
	}
	if fileID == "" {
		return errors.New("fileId is required")
	}
	if operator == "" {
		operator = defaultOperator
	}

	pkg, err := s.repo.GetPackageByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return err
	}

	ev := snapshotEvent(pkg, models.EventTypeImagenAgregada, pkg.Status, time.Now().UTC(), operator)
	ev.PackageID = &pkg.ID
	ev.FileID = &fileID
	return s.repo.AppendEvent(ctx, ev)
}

// GetByTrackingNumber serves the current state, cache first. The cache is
// best effort: a miss or a broken entry just falls through to the
// database.
func (s *Service) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Package, error) {
	if trackingNumber == "" {
		return nil, errors.New("trackingNumber is required")
	}

	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(trackingNumber)); err == nil && ok {
			var p models.Package
			if json.Unmarshal(b, &p) == nil {
				return &p, nil
			}
		}
	}

	pkg, err := s.repo.GetPackageByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	s.refreshCache(ctx, pkg)
	return pkg, nil
}

// GetByConsultCode is the public lookup customers use. The code alone is
// the credential, so nothing beyond the package state comes back.
func (s *Service) GetByConsultCode(ctx context.Context, consultCode string) (*models.Package, error) {
	if consultCode == "" {
		return nil, errors.New("consultCode is required")
	}
	return s.repo.GetPackageByConsultCode(ctx, consultCode)
}

func (s *Service) GetByGuideNumber(ctx context.Context, guideNumber string) (*models.Package, error) {
	if guideNumber == "" {
		return nil, errors.New("guideNumber is required")
	}
	return s.repo.GetPackageByGuideNumber(ctx, guideNumber)
}

func (s *Service) ListEvents(ctx context.Context, trackingNumber string, limit int) ([]*models.PackageEvent, error) {
	if trackingNumber == "" {
		return nil, errors.New("trackingNumber is required")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	pkg, err := s.repo.GetPackageByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPackageEvents(ctx, pkg.ID, limit)
}

// snapshotEvent copies the package's current state into a fresh event.
// Fields the operation changes (fees, position, payment) are overwritten
// by the caller before the event is persisted.
func snapshotEvent(p *models.Package, eventType, statusAfter string, now time.Time, operator string) *models.PackageEvent {
	before := p.Status
	cond := p.Condition
	return &models.PackageEvent{
		EventType:      eventType,
		EventTime:      now,
		TrackingNumber: p.TrackingNumber,
		GuideNumber:    p.GuideNumber,
		ConsultCode:    p.ConsultCode,
		StatusBefore:   &before,
		StatusAfter:    statusAfter,
		PackageType:    p.PackageType,
		Condition:      &cond,
		Posicion:       p.Posicion,
		CustomerName:   p.CustomerName,
		CustomerPhone:  p.CustomerPhone,
		BaseFee:        p.BaseFee,
		StorageFee:     p.StorageFee,
		TotalAmount:    p.TotalAmount,
		Operator:       operator,
	}
}

func (s *Service) notify(ctx context.Context, pkg *models.Package, ev *models.PackageEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.OnEvent(ctx, pkg, ev); err != nil {
		s.log.Warn("notification dispatch failed",
			"tracking_number", pkg.TrackingNumber,
			"event_type", ev.EventType,
			"error", err)
	}
}

func (s *Service) refreshCache(ctx context.Context, pkg *models.Package) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	b, err := json.Marshal(pkg)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, currentKey(pkg.TrackingNumber), b, s.currentTTL)
}

func currentKey(trackingNumber string) string {
	return fmt.Sprintf("package:%s:current", trackingNumber)
}

func firstNonNil(vals ...*string) *string {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
