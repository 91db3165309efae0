package matches

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/RelayBox/internal/apperr"
	"github.com/BearBump/RelayBox/internal/broker/messages"
	"github.com/BearBump/RelayBox/internal/integrations/payment"
	"github.com/BearBump/RelayBox/internal/integrations/payment/fake"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/BearBump/RelayBox/internal/storage"
	"github.com/BearBump/RelayBox/internal/storage/memstore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type recordingInvalidator struct{ ids []uuid.UUID }

func (r *recordingInvalidator) InvalidatePackage(_ context.Context, id uuid.UUID) {
	r.ids = append(r.ids, id)
}

type MatchesSuite struct {
	suite.Suite

	ctx     context.Context
	store   *memstore.Store
	gateway *fake.Gateway
	inv     *recordingInvalidator
	svc     *Service

	sender, carrier, carrier2 models.Actor
	pkg                       *models.Package
}

func (s *MatchesSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memstore.New()
	s.gateway = fake.New()
	s.inv = &recordingInvalidator{}
	s.svc = New(s.store, s.gateway, s.inv, DefaultOptions())

	s.sender = s.user("sender", models.RoleCustomer)
	s.carrier = s.user("carrier", models.RoleCarrier)
	s.carrier2 = s.user("carrier2", models.RoleCarrier)

	now := time.Now().UTC()
	s.pkg = &models.Package{
		ID: uuid.New(), SenderID: s.sender.UserID, Description: "books",
		SenderAddress: "Paris", RecipientAddress: "Marseille",
		Status: models.PackageStatusPending, SegmentNumber: 1, TotalSegments: 1,
		Price: decimal.NewFromInt(40), Weight: decimal.NewFromInt(2),
		CreatedAt: now, UpdatedAt: now,
	}
	s.Require().NoError(s.store.CreatePackage(s.ctx, s.pkg))
}

func (s *MatchesSuite) user(name string, role models.Role) models.Actor {
	u := &models.User{ID: uuid.New(), Name: name, Email: name + "@example.com", Role: role}
	s.Require().NoError(s.store.UpsertUser(s.ctx, u))
	return models.Actor{UserID: u.ID, Role: role}
}

func (s *MatchesSuite) create(carrier models.Actor) *models.Match {
	m, err := s.svc.Create(s.ctx, carrier, CreateInput{PackageID: s.pkg.ID})
	s.Require().NoError(err)
	return m
}

func (s *MatchesSuite) accepted() *models.Match {
	m := s.create(s.carrier)
	m, err := s.svc.Accept(s.ctx, s.carrier, m.ID)
	s.Require().NoError(err)
	return m
}

func (s *MatchesSuite) pay(m *models.Match, token string) *PayResult {
	res, err := s.svc.Pay(s.ctx, s.sender, PayInput{MatchID: m.ID, CardToken: token})
	s.Require().NoError(err)
	return res
}

func (s *MatchesSuite) packageStatus() models.PackageStatus {
	p, err := s.store.GetPackage(s.ctx, s.pkg.ID)
	s.Require().NoError(err)
	return p.Status
}

func (s *MatchesSuite) assertCode(err error, code apperr.Code) {
	s.Require().Error(err)
	s.Require().Equal(code, apperr.CodeOf(err), err.Error())
}

func (s *MatchesSuite) TestCreate_SynthesizesRideAndDefaultsPrice() {
	m := s.create(s.carrier)

	s.Require().Equal(models.MatchStatusPending, m.Status)
	s.Require().True(m.Price.Equal(s.pkg.Price))
	s.Require().Equal(1, m.SegmentOrder)

	ride, err := s.store.GetRide(s.ctx, m.RideID)
	s.Require().NoError(err)
	s.Require().Equal(s.carrier.UserID, ride.UserID)
	s.Require().Equal("Paris", ride.Origin)
	s.Require().Equal("Marseille", ride.Destination)
	s.Require().Equal(models.RideStatusPending, ride.Status)

	s.Require().Equal([]string{messages.EventMatchCreated}, s.store.OutboxTypes())
	s.Require().Contains(s.inv.ids, s.pkg.ID)
}

func (s *MatchesSuite) TestCreate_Failures() {
	_, err := s.svc.Create(s.ctx, s.sender, CreateInput{PackageID: s.pkg.ID})
	s.assertCode(err, apperr.CodeForbidden)

	_, err = s.svc.Create(s.ctx, s.carrier, CreateInput{PackageID: uuid.New()})
	s.assertCode(err, apperr.CodeNotFound)

	missing := uuid.New()
	_, err = s.svc.Create(s.ctx, s.carrier, CreateInput{PackageID: s.pkg.ID, RideID: &missing})
	s.assertCode(err, apperr.CodeNotFound)

	foreign := &models.Ride{ID: uuid.New(), UserID: s.carrier2.UserID, Status: models.RideStatusPending}
	s.Require().NoError(s.store.CreateRide(s.ctx, foreign))
	_, err = s.svc.Create(s.ctx, s.carrier, CreateInput{PackageID: s.pkg.ID, RideID: &foreign.ID})
	s.assertCode(err, apperr.CodeForbidden)

	neg := decimal.NewFromInt(-1)
	_, err = s.svc.Create(s.ctx, s.carrier, CreateInput{PackageID: s.pkg.ID, Price: &neg})
	s.assertCode(err, apperr.CodeValidation)

	s.Require().Empty(s.store.OutboxTypes())
}

func (s *MatchesSuite) TestCreate_UsesOwnRideAndPrice() {
	ride := &models.Ride{ID: uuid.New(), UserID: s.carrier.UserID, Origin: "Paris", Destination: "Nice", Status: models.RideStatusPending}
	s.Require().NoError(s.store.CreateRide(s.ctx, ride))
	price := decimal.NewFromInt(25)

	m, err := s.svc.Create(s.ctx, s.carrier, CreateInput{PackageID: s.pkg.ID, RideID: &ride.ID, Price: &price})
	s.Require().NoError(err)
	s.Require().Equal(ride.ID, m.RideID)
	s.Require().True(m.Price.Equal(price))
}

func (s *MatchesSuite) TestAccept_ScenarioA() {
	m := s.create(s.carrier)

	got, err := s.svc.Accept(s.ctx, s.carrier, m.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.MatchStatusConfirmed, got.Status)
	s.Require().NotNil(got.AcceptedAt)
	s.Require().Equal(models.PackageStatusConfirmed, s.packageStatus())

	ride, _ := s.store.GetRide(s.ctx, m.RideID)
	s.Require().Equal(models.RideStatusActive, ride.Status)
	s.Require().Equal([]string{
		messages.EventMatchCreated, messages.EventMatchAccepted, messages.EventPaymentRequired,
	}, s.store.OutboxTypes())
}

func (s *MatchesSuite) TestAccept_Failures() {
	m := s.create(s.carrier)

	_, err := s.svc.Accept(s.ctx, s.carrier, uuid.New())
	s.assertCode(err, apperr.CodeNotFound)

	_, err = s.svc.Accept(s.ctx, s.carrier2, m.ID)
	s.assertCode(err, apperr.CodeForbidden)

	_, err = s.svc.Accept(s.ctx, s.carrier, m.ID)
	s.Require().NoError(err)
	_, err = s.svc.Accept(s.ctx, s.carrier, m.ID)
	s.assertCode(err, apperr.CodeInvalidState)
}

func (s *MatchesSuite) TestAccept_SecondActiveMatchRejected() {
	m1 := s.create(s.carrier)
	m2 := s.create(s.carrier2)

	_, err := s.svc.Accept(s.ctx, s.carrier, m1.ID)
	s.Require().NoError(err)

	_, err = s.svc.Accept(s.ctx, s.carrier2, m2.ID)
	s.assertCode(err, apperr.CodeInvalidState)

	list, err := s.store.ListMatchesByPackage(s.ctx, s.pkg.ID)
	s.Require().NoError(err)
	active := 0
	for _, m := range list {
		if m.Status.IsActive() {
			active++
		}
	}
	s.Require().Equal(1, active)
}

func (s *MatchesSuite) TestReject() {
	m := s.create(s.carrier)

	_, err := s.svc.Reject(s.ctx, s.carrier2, m.ID)
	s.assertCode(err, apperr.CodeForbidden)

	got, err := s.svc.Reject(s.ctx, s.sender, m.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.MatchStatusCancelled, got.Status)

	ride, _ := s.store.GetRide(s.ctx, m.RideID)
	s.Require().Equal(models.RideStatusCancelled, ride.Status)
	s.Require().Equal(models.PackageStatusPending, s.packageStatus())

	_, err = s.svc.Reject(s.ctx, s.carrier, m.ID)
	s.assertCode(err, apperr.CodeInvalidState)
}

func (s *MatchesSuite) TestList_ScopedByRole() {
	s.create(s.carrier)
	s.create(s.carrier2)

	mine, err := s.svc.List(s.ctx, s.carrier, "")
	s.Require().NoError(err)
	s.Require().Len(mine, 1)

	owned, err := s.svc.List(s.ctx, s.sender, "pending")
	s.Require().NoError(err)
	s.Require().Len(owned, 2)

	none, err := s.svc.List(s.ctx, s.sender, "CONFIRMED")
	s.Require().NoError(err)
	s.Require().Empty(none)

	all, err := s.svc.List(s.ctx, models.Actor{UserID: uuid.New(), Role: models.RoleAdmin}, "")
	s.Require().NoError(err)
	s.Require().Len(all, 2)

	_, err = s.svc.List(s.ctx, s.sender, "LOST")
	s.assertCode(err, apperr.CodeValidation)
}

func (s *MatchesSuite) TestUpdateStatus_ScenarioE_ForeignCarrier() {
	m := s.accepted()
	before := s.store.OutboxTypes()

	_, err := s.svc.UpdateStatus(s.ctx, s.carrier2, m.ID, "IN_TRANSIT")
	s.assertCode(err, apperr.CodeForbidden)

	got, _ := s.store.GetMatch(s.ctx, m.ID)
	s.Require().Equal(models.MatchStatusConfirmed, got.Status)
	s.Require().Equal(models.PackageStatusConfirmed, s.packageStatus())
	s.Require().Equal(before, s.store.OutboxTypes())
}

func (s *MatchesSuite) TestUpdateStatus_InvalidTarget() {
	m := s.accepted()
	_, err := s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "AWAITING_TRANSFER")
	s.assertCode(err, apperr.CodeValidation)
	_, err = s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "teleported")
	s.assertCode(err, apperr.CodeValidation)
}

func (s *MatchesSuite) TestUpdateStatus_TransitRequiresPayment() {
	m := s.accepted()

	_, err := s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "IN_TRANSIT")
	s.assertCode(err, apperr.CodeInvalidState)

	s.pay(m, "tok_visa")
	got, err := s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "IN_TRANSIT")
	s.Require().NoError(err)
	s.Require().Equal(models.MatchStatusInProgress, got.Status)
	s.Require().Equal(models.PackageStatusInTransit, s.packageStatus())
}

func (s *MatchesSuite) TestUpdateStatus_TransitGateDisabled() {
	opts := DefaultOptions()
	opts.RequirePaymentBeforeTransit = false
	s.svc = New(s.store, s.gateway, nil, opts)

	m := s.accepted()
	got, err := s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "IN_PROGRESS")
	s.Require().NoError(err)
	s.Require().Equal(models.MatchStatusInProgress, got.Status)
}

func (s *MatchesSuite) TestUpdateStatus_DeliveredTwiceCreatesOnePayment() {
	m := s.accepted()

	got, err := s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "DELIVERED")
	s.Require().NoError(err)
	s.Require().Equal(models.MatchStatusCompleted, got.Status)
	s.Require().Equal(models.PackageStatusDelivered, s.packageStatus())

	pay, err := s.store.GetPaymentByMatch(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.PaymentStatusCompleted, pay.Status)
	s.Require().Equal(models.PaymentMethodPlatform, pay.PaymentMethod)

	events := len(s.store.OutboxTypes())
	again, err := s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "DELIVERED")
	s.Require().NoError(err)
	s.Require().Equal(models.MatchStatusCompleted, again.Status)
	s.Require().Len(s.store.OutboxTypes(), events)

	same, err := s.store.GetPaymentByMatch(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Require().Equal(pay.ID, same.ID)

	_, err = s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "CANCELLED")
	s.assertCode(err, apperr.CodeInvalidState)
}

func (s *MatchesSuite) TestUpdateStatus_DeliveredKeepsCardPayment() {
	m := s.accepted()
	paid := s.pay(m, "tok_visa")

	_, err := s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "COMPLETED")
	s.Require().NoError(err)

	pay, err := s.store.GetPaymentByMatch(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Require().Equal(paid.Payment.ID, pay.ID)
	s.Require().Equal(models.PaymentMethodCard, pay.PaymentMethod)
}

func (s *MatchesSuite) TestUpdateStatus_CancelReleasesPackage() {
	m := s.accepted()

	got, err := s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "CANCELLED")
	s.Require().NoError(err)
	s.Require().Equal(models.MatchStatusCancelled, got.Status)
	s.Require().Equal(models.PackageStatusPending, s.packageStatus())
	s.Require().Contains(s.store.OutboxTypes(), messages.EventMatchCancelled)

	// the package can be matched again
	m2 := s.create(s.carrier2)
	_, err = s.svc.Accept(s.ctx, s.carrier2, m2.ID)
	s.Require().NoError(err)
}

func (s *MatchesSuite) TestUpdateStatus_RivalCannotOvertakeHolder() {
	held := s.accepted()
	rival := s.create(s.carrier2)

	for _, target := range []string{"DELIVERED", "IN_TRANSIT", "ACCEPTED_BY_CARRIER"} {
		_, err := s.svc.UpdateStatus(s.ctx, s.carrier2, rival.ID, target)
		s.assertCode(err, apperr.CodeInvalidState)
	}

	got, _ := s.store.GetMatch(s.ctx, rival.ID)
	s.Require().Equal(models.MatchStatusPending, got.Status)
	got, _ = s.store.GetMatch(s.ctx, held.ID)
	s.Require().Equal(models.MatchStatusConfirmed, got.Status)
	s.Require().Equal(models.PackageStatusConfirmed, s.packageStatus())

	_, err := s.store.GetPaymentByMatch(s.ctx, rival.ID)
	s.Require().ErrorIs(err, storage.ErrNotFound)

	// the rival can still walk away
	_, err = s.svc.UpdateStatus(s.ctx, s.carrier2, rival.ID, "CANCELLED")
	s.Require().NoError(err)
	s.Require().Equal(models.PackageStatusConfirmed, s.packageStatus())
}

func (s *MatchesSuite) TestUpdateStatus_PendingMustBeAcceptedFirst() {
	m := s.create(s.carrier)

	_, err := s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "DELIVERED")
	s.assertCode(err, apperr.CodeInvalidState)
	_, err = s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "IN_PROGRESS")
	s.assertCode(err, apperr.CodeInvalidState)
	s.Require().Equal(models.PackageStatusPending, s.packageStatus())

	got, err := s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "ACCEPTED_BY_CARRIER")
	s.Require().NoError(err)
	s.Require().Equal(models.MatchStatusAcceptedByCarrier, got.Status)
	s.Require().NotNil(got.AcceptedAt)
	s.Require().Equal(models.PackageStatusAcceptedByCarrier, s.packageStatus())
}

func (s *MatchesSuite) TestConfirmedDeliveryIsFinal() {
	m := s.accepted()
	s.pay(m, "tok_visa")
	offer := s.create(s.carrier2)

	d, err := s.svc.ConfirmDelivery(s.ctx, s.sender, m.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.MatchStatusConfirmed, d.Match.Status)
	s.Require().Equal(models.PackageStatusDelivered, d.Package.Status)

	got, _ := s.store.GetMatch(s.ctx, offer.ID)
	s.Require().Equal(models.MatchStatusCancelled, got.Status)
	ride, _ := s.store.GetRide(s.ctx, offer.RideID)
	s.Require().Equal(models.RideStatusCancelled, ride.Status)

	events := len(s.store.OutboxTypes())
	for _, target := range []string{"IN_TRANSIT", "CANCELLED", "DELIVERED"} {
		_, err = s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, target)
		s.assertCode(err, apperr.CodeInvalidState)
	}
	_, err = s.svc.Reject(s.ctx, s.sender, offer.ID)
	s.assertCode(err, apperr.CodeInvalidState)
	_, err = s.svc.Create(s.ctx, s.carrier2, CreateInput{PackageID: s.pkg.ID})
	s.assertCode(err, apperr.CodeInvalidState)

	s.Require().Equal(models.PackageStatusDelivered, s.packageStatus())
	s.Require().Len(s.store.OutboxTypes(), events)
}

func (s *MatchesSuite) TestSegmentOrderSkipsCancelledHold() {
	m := s.accepted()
	s.Require().Equal(1, m.SegmentOrder)
	_, err := s.svc.UpdateStatus(s.ctx, s.carrier, m.ID, "CANCELLED")
	s.Require().NoError(err)

	next := s.create(s.carrier2)
	s.Require().Equal(2, next.SegmentOrder)
	got, err := s.svc.Accept(s.ctx, s.carrier2, next.ID)
	s.Require().NoError(err)
	s.Require().Equal(2, got.SegmentOrder)

	p, err := s.store.GetPackage(s.ctx, s.pkg.ID)
	s.Require().NoError(err)
	s.Require().Equal(2, p.SegmentNumber)

	// an offer made while the package is held queues after the holder
	a := s.create(s.carrier)
	s.Require().Equal(3, a.SegmentOrder)
}

func (s *MatchesSuite) TestPay_ScenarioB() {
	m := s.accepted()

	res := s.pay(m, "tok_visa")
	s.Require().Equal(models.PaymentStatusCompleted, res.Payment.Status)
	s.Require().NotNil(res.Payment.TransactionID)
	s.Require().Equal(models.MatchStatusAcceptedBySender, res.Match.Status)
	s.Require().Equal(models.PackageStatusConfirmed, s.packageStatus())
	s.Require().Contains(s.store.OutboxTypes(), messages.EventPaymentCompleted)

	d, err := s.svc.ConfirmDelivery(s.ctx, s.sender, m.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.MatchStatusConfirmed, d.Match.Status)
	s.Require().Equal(models.PackageStatusDelivered, d.Package.Status)

	// second confirmation is a no-op
	events := len(s.store.OutboxTypes())
	d, err = s.svc.ConfirmDelivery(s.ctx, s.sender, m.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.PackageStatusDelivered, d.Package.Status)
	s.Require().Len(s.store.OutboxTypes(), events)
}

func (s *MatchesSuite) TestPay_WithoutAutoAccept() {
	m := s.accepted()
	no := false
	res, err := s.svc.Pay(s.ctx, s.sender, PayInput{MatchID: m.ID, CardToken: "tok_visa", AutoAccept: &no})
	s.Require().NoError(err)
	s.Require().Equal(models.PaymentStatusCompleted, res.Payment.Status)
	s.Require().Equal(models.MatchStatusConfirmed, res.Match.Status)
}

func (s *MatchesSuite) TestPay_CurrencyOverride() {
	m := s.accepted()

	_, err := s.svc.Pay(s.ctx, s.sender, PayInput{MatchID: m.ID, CardToken: "tok_visa", Currency: "euro"})
	s.assertCode(err, apperr.CodeValidation)

	res, err := s.svc.Pay(s.ctx, s.sender, PayInput{MatchID: m.ID, CardToken: "tok_visa", Currency: " EUR "})
	s.Require().NoError(err)
	s.Require().Equal("eur", res.Payment.Currency)
}

func (s *MatchesSuite) TestPay_CompletedOnlyOnce() {
	m := s.accepted()
	s.pay(m, "tok_visa")

	_, err := s.svc.Pay(s.ctx, s.sender, PayInput{MatchID: m.ID, CardToken: "tok_visa"})
	s.assertCode(err, apperr.CodeInvalidState)
	s.Require().Equal(1, s.gateway.Charges())
}

func (s *MatchesSuite) TestPay_DeclineThenRetry() {
	m := s.accepted()

	res := s.pay(m, fake.TokenFail)
	s.Require().Equal(models.PaymentStatusFailed, res.Payment.Status)
	s.Require().NotNil(res.Payment.FailureReason)
	s.Require().Equal(models.MatchStatusConfirmed, res.Match.Status)
	s.Require().Equal(models.PackageStatusConfirmed, s.packageStatus())
	s.Require().Contains(s.store.OutboxTypes(), messages.EventPaymentFailed)

	retry := s.pay(m, "tok_visa")
	s.Require().Equal(res.Payment.ID, retry.Payment.ID)
	s.Require().Equal(1, retry.Payment.Attempt)
	s.Require().Equal(models.PaymentStatusCompleted, retry.Payment.Status)
	s.Require().Nil(retry.Payment.FailureReason)
}

func (s *MatchesSuite) TestPay_AmbiguousStaysPending() {
	m := s.accepted()

	res := s.pay(m, fake.TokenTimeout)
	s.Require().Equal(models.PaymentStatusPending, res.Payment.Status)

	_, err := s.svc.Pay(s.ctx, s.sender, PayInput{MatchID: m.ID, CardToken: "tok_visa"})
	s.assertCode(err, apperr.CodeInvalidState)

	// a late gateway answer settles it exactly once
	done, err := s.svc.FinalizePayment(s.ctx, res.Payment.ID, payment.ChargeResult{Status: payment.StatusCompleted, TransactionID: "tx_1"}, true)
	s.Require().NoError(err)
	s.Require().Equal(models.PaymentStatusCompleted, done.Payment.Status)

	again, err := s.svc.FinalizePayment(s.ctx, res.Payment.ID, payment.ChargeResult{Status: payment.StatusFailed}, true)
	s.Require().NoError(err)
	s.Require().Equal(models.PaymentStatusCompleted, again.Payment.Status)
	s.Require().Equal("tx_1", *again.Payment.TransactionID)
}

func (s *MatchesSuite) TestPay_Failures() {
	m := s.accepted()

	_, err := s.svc.Pay(s.ctx, s.sender, PayInput{MatchID: m.ID})
	s.assertCode(err, apperr.CodeValidation)

	_, err = s.svc.Pay(s.ctx, s.carrier, PayInput{MatchID: m.ID, CardToken: "tok_visa"})
	s.assertCode(err, apperr.CodeForbidden)

	_, err = s.svc.Pay(s.ctx, s.sender, PayInput{MatchID: uuid.New(), CardToken: "tok_visa"})
	s.assertCode(err, apperr.CodeNotFound)

	zero := decimal.Zero
	free, err := s.svc.Create(s.ctx, s.carrier2, CreateInput{PackageID: s.pkg.ID, Price: &zero})
	s.Require().NoError(err)
	_, err = s.svc.Pay(s.ctx, s.sender, PayInput{MatchID: free.ID, CardToken: "tok_visa"})
	s.assertCode(err, apperr.CodeInvalidState)
}

func (s *MatchesSuite) TestConfirmDelivery_Failures() {
	m := s.accepted()

	_, err := s.svc.ConfirmDelivery(s.ctx, s.carrier, m.ID)
	s.assertCode(err, apperr.CodeForbidden)

	_, err = s.svc.ConfirmDelivery(s.ctx, s.sender, m.ID)
	s.assertCode(err, apperr.CodeInvalidState)

	_, err = s.svc.ConfirmDelivery(s.ctx, s.sender, uuid.New())
	s.assertCode(err, apperr.CodeNotFound)
}

func (s *MatchesSuite) TestOutboxFailureRollsBack() {
	m := s.create(s.carrier)
	s.store.FailOutbox(context.DeadlineExceeded)

	_, err := s.svc.Accept(s.ctx, s.carrier, m.ID)
	s.Require().Error(err)

	got, _ := s.store.GetMatch(s.ctx, m.ID)
	s.Require().Equal(models.MatchStatusPending, got.Status)
	s.Require().Equal(models.PackageStatusPending, s.packageStatus())
}

func TestMatchesSuite(t *testing.T) {
	suite.Run(t, new(MatchesSuite))
}
