package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	"github.com/shopspring/decimal"

	"github.com/cuehall/venue-services/internal/tablesvc/models"
	"github.com/cuehall/venue-services/internal/tablesvc/service"
	"github.com/cuehall/venue-services/internal/tablesvc/store"
)

type Handler struct {
	tokenAuth *jwtauth.JWTAuth
	verifier  IdentityVerifier
	admission *service.AdmissionService
	venues    *store.VenueStore
	tables    *store.TableStore
}

func NewHandler(admission *service.AdmissionService, venues *store.VenueStore, tables *store.TableStore) *Handler {
	return &Handler{
		verifier:  JWTVerifier{},
		admission: admission,
		venues:    venues,
		tables:    tables,
	}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

func (rs *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)

	json.NewEncoder(w).Encode(rsp)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, models.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, models.ErrInvalidState):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInsufficientFunds):
		code = http.StatusPaymentRequired
	}
	h.CreateResponse(w, Response{Code: code, Error: err.Error()})
}

// admin extracts the caller identity and requires the admin claim.
func (h *Handler) admin(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	id, err := h.verifier.Verify(r.Context())
	if err != nil || !id.IsAdmin {
		h.writeError(w, models.ErrForbidden)
		return Identity{}, false
	}
	return id, true
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	rsp := Response{
		Message: "table service is running at port " + os.Getenv("SERVICE_PORT"),
		Code:    200,
		Data:    nil,
	}
	json.NewEncoder(w).Encode(rsp)
}

func (h *Handler) CreateVenueHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}

	var req struct {
		Name        string `json:"name"`
		PerGameCost string `json:"per_game_cost"`
		TableCount  int    `json:"table_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid request body"})
		return
	}
	cost, err := decimal.NewFromString(req.PerGameCost)
	if err != nil || cost.IsNegative() || req.TableCount < 1 {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid venue parameters"})
		return
	}

	venue, err := h.venues.Create(r.Context(), req.Name, cost, req.TableCount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.CreateResponse(w, Response{Code: http.StatusCreated, Data: venue})
}

func (h *Handler) DeleteVenueHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	venueID, err := pathID(r, "venueID")
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid venue id"})
		return
	}
	if err := h.venues.Delete(r.Context(), venueID); err != nil {
		h.writeError(w, err)
		return
	}
	h.CreateResponse(w, Response{Code: http.StatusOK, Message: "venue deleted"})
}

func (h *Handler) ListTablesHandler(w http.ResponseWriter, r *http.Request) {
	venueID, err := pathID(r, "venueID")
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid venue id"})
		return
	}
	tables, err := h.tables.ListByVenue(r.Context(), venueID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.CreateResponse(w, Response{Code: http.StatusOK, Data: tables})
}

func (h *Handler) RemovePlayerHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	tableID, err := pathID(r, "tableID")
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid table id"})
		return
	}
	var req struct {
		PlayerID int64 `json:"player_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid request body"})
		return
	}
	if err := h.admission.AdminRemovePlayer(r.Context(), tableID, req.PlayerID); err != nil {
		h.writeError(w, err)
		return
	}
	h.CreateResponse(w, Response{Code: http.StatusOK, Message: "player removed"})
}

func (h *Handler) ClearQueueHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	tableID, err := pathID(r, "tableID")
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid table id"})
		return
	}
	if err := h.admission.AdminClearQueue(r.Context(), tableID); err != nil {
		h.writeError(w, err)
		return
	}
	h.CreateResponse(w, Response{Code: http.StatusOK, Message: "queue cleared"})
}

func (h *Handler) ResolveDisputeHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	tableID, err := pathID(r, "tableID")
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid table id"})
		return
	}
	var req struct {
		WinnerID int64 `json:"winner_id"` // zero voids the outcome
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid request body"})
		return
	}
	if err := h.admission.AdminResolveDispute(r.Context(), tableID, req.WinnerID); err != nil {
		h.writeError(w, err)
		return
	}
	h.CreateResponse(w, Response{Code: http.StatusOK, Message: "dispute resolved"})
}

func (h *Handler) SetOutOfOrderHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	tableID, err := pathID(r, "tableID")
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid table id"})
		return
	}
	if err := h.admission.AdminSetOutOfOrder(r.Context(), tableID); err != nil {
		h.writeError(w, err)
		return
	}
	h.CreateResponse(w, Response{Code: http.StatusOK, Message: "table out of order"})
}

func (h *Handler) ClearOutOfOrderHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	tableID, err := pathID(r, "tableID")
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid table id"})
		return
	}
	if err := h.admission.AdminClearOutOfOrder(r.Context(), tableID); err != nil {
		h.writeError(w, err)
		return
	}
	h.CreateResponse(w, Response{Code: http.StatusOK, Message: "table back in service"})
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
