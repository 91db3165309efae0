package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/RelayBox/internal/apperr"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/BearBump/RelayBox/internal/services/matches"
	"github.com/BearBump/RelayBox/internal/services/relays"
	"github.com/BearBump/RelayBox/internal/services/tracking"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type createMatchRequest struct {
	PackageID string           `json:"packageId" validate:"required,uuid"`
	RideID    *string          `json:"rideId" validate:"omitempty,uuid"`
	Price     *decimal.Decimal `json:"price"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type createRelayRequest struct {
	DropoffLocation  string     `json:"dropoffLocation" validate:"required"`
	NextCarrierID    string     `json:"nextCarrierId" validate:"required,uuid"`
	TransferCode     string     `json:"transferCode"`
	EstimatedArrival *time.Time `json:"estimatedArrival"`
	Notes            *string    `json:"notes"`
}

type acceptRelayRequest struct {
	TransferCode string `json:"transferCode"`
}

type checkpointRequest struct {
	Location string   `json:"location" validate:"required"`
	Notes    *string  `json:"notes"`
	Lat      *float64 `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lng      *float64 `json:"lng" validate:"omitempty,gte=-180,lte=180"`
}

type paymentRequest struct {
	MatchID     string `json:"matchId" validate:"required,uuid"`
	PaymentData struct {
		CardToken  string `json:"cardToken" validate:"required"`
		Currency   string `json:"currency" validate:"omitempty,len=3,alpha"`
		AutoAccept *bool  `json:"autoAccept"`
	} `json:"paymentData"`
}

type failedPaymentBody struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Payment *models.Payment `json:"payment"`
}

// actor is set by authenticate; every handler below runs behind it.
func (h *handler) actor(r *http.Request) models.Actor {
	a, _ := actorFrom(r.Context())
	return a
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(r.Context(), h.log, w, err)
}

func (h *handler) createMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	in := matches.CreateInput{PackageID: uuid.MustParse(req.PackageID), Price: req.Price}
	if req.RideID != nil {
		id := uuid.MustParse(*req.RideID)
		in.RideID = &id
	}
	m, err := h.matches.Create(r.Context(), h.actor(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"match": m})
}

func (h *handler) listMatches(w http.ResponseWriter, r *http.Request) {
	list, err := h.matches.List(r.Context(), h.actor(r), r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Match{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) acceptMatch(w http.ResponseWriter, r *http.Request) {
	h.matchAction(w, r, h.matches.Accept)
}

func (h *handler) rejectMatch(w http.ResponseWriter, r *http.Request) {
	h.matchAction(w, r, h.matches.Reject)
}

func (h *handler) matchAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Match, error)) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := fn(r.Context(), h.actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"match": m})
}

func (h *handler) updateMatchStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req statusRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.matches.UpdateStatus(r.Context(), h.actor(r), id, req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"match": m})
}

func (h *handler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.matches.ConfirmDelivery(r.Context(), h.actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handler) acceptRelay(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req acceptRelayRequest
	if err := decodeBody(r, &req, true); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.relays.AcceptRelay(r.Context(), h.actor(r), id, req.TransferCode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"match": m})
}

func (h *handler) createRelay(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req createRelayRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	relay, err := h.relays.CreateRelay(r.Context(), h.actor(r), relays.CreateInput{
		PackageID:        id,
		DropoffLocation:  req.DropoffLocation,
		NextCarrierID:    uuid.MustParse(req.NextCarrierID),
		TransferCode:     req.TransferCode,
		EstimatedArrival: req.EstimatedArrival,
		Notes:            req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"relay": relay})
}

func (h *handler) addCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req checkpointRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	ev, err := h.tracking.AddCheckpoint(r.Context(), h.actor(r), tracking.CheckpointInput{
		PackageID: id,
		Location:  req.Location,
		Notes:     req.Notes,
		Lat:       req.Lat,
		Lng:       req.Lng,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"checkpoint": ev})
}

func (h *handler) getTracking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.tracking.GetTracking(r.Context(), h.actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) relayHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.relays.RelayHistory(r.Context(), h.actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []relays.RelayRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}

// pay answers 201 for a completed charge, 202 while the outcome is being
// reconciled and 400 with the payment for a declined card.
func (h *handler) pay(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.matches.Pay(r.Context(), h.actor(r), matches.PayInput{
		MatchID:    uuid.MustParse(req.MatchID),
		CardToken:  req.PaymentData.CardToken,
		Currency:   req.PaymentData.Currency,
		AutoAccept: req.PaymentData.AutoAccept,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	switch res.Payment.Status {
	case models.PaymentStatusPending:
		writeJSON(w, http.StatusAccepted, res)
	case models.PaymentStatusFailed:
		msg := "payment declined"
		if res.Payment.FailureReason != nil && strings.TrimSpace(*res.Payment.FailureReason) != "" {
			msg = *res.Payment.FailureReason
		}
		writeJSON(w, http.StatusBadRequest, failedPaymentBody{
			Error:   msg,
			Code:    string(apperr.CodeGatewayFailure),
			Payment: res.Payment,
		})
	default:
		writeJSON(w, http.StatusCreated, res)
	}
}

func (h *handler) notifications(w http.ResponseWriter, r *http.Request) {
	actor := h.actor(r)
	if err := h.push.Serve(w, r, actor.UserID); err != nil {
		// upgrade уже ответил клиенту
		h.log.Warn(r.Context(), "websocket", err)
	}
}
