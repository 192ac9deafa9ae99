/*
handlers.go - HTTP API handlers for the rental engine

PURPOSE:
  Exposes the rental service via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates every decision to
  rental.Service.

ENDPOINTS:
  Contracts:
    POST   /api/contracts                          Create contract (PENDING)
    GET    /api/contracts/{id}                     Get contract
    POST   /api/contracts/{id}/activate            Tenant accepts the invitation
    PUT    /api/contracts/{id}/setup               Landlord sets terms, generates schedule
    POST   /api/contracts/{id}/extend              Landlord extends end date

  Payments:
    GET    /api/contracts/{id}/payments            List payments (with is_late)
    POST   /api/contracts/{id}/payments            Landlord adds a manual payment
    POST   /api/payments/{id}/proof                Tenant submits proof
    POST   /api/payments/{id}/verify               Landlord approves/rejects proof
    POST   /api/payments/{id}/mark-paid            Landlord records direct payment
    POST   /api/payments/{id}/not-received         Landlord flags missing payment
    POST   /api/payments/{id}/cancel               Landlord cancels
    DELETE /api/payments/{id}                      Landlord deletes (PENDING only)

  End of rental:
    GET    /api/contracts/{id}/end-requests        History
    POST   /api/contracts/{id}/end-requests        Request end
    POST   /api/contracts/{id}/end-requests/accept Other party accepts
    POST   /api/contracts/{id}/end-requests/cancel Requester withdraws

  Notifications & sweep (sweep routes need an operator id):
    GET    /api/notifications                      Caller's inbox
    GET    /api/sweep/runs                         Sweep history
    POST   /api/sweep/run                          Trigger a sweep now

IDENTITY:
  The caller's user id comes from the X-User-ID header, set by the
  authenticating proxy in front of this service. Requests without it get 401.

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error chain:
  - 400: Validation, invalid schedule range, invalid due day, invalid contract
  - 401: Missing caller identity
  - 403: Caller is not allowed to act on the record
  - 404: Record not found
  - 409: Invalid state, pending payments, concurrent modification, duplicate period
  - 500: Storage failure

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - rental/service.go: Business operations
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/rental-engine/generic"
	"github.com/warp/rental-engine/notify"
	"github.com/warp/rental-engine/rental"
)

// UserHeader carries the authenticated caller's id.
const UserHeader = "X-User-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *rental.Service

	// Inbox and Runs are optional; their endpoints return empty lists when nil.
	Inbox *notify.Inbox
	Runs  rental.SweepRunStore

	// Sweep runs on-demand sweeps. Defaults to Service.RunSweep.
	Sweep func(ctx context.Context) rental.SweepReport

	Log      logrus.FieldLogger
	validate *validator.Validate
}

// NewHandler creates a new handler around the rental service.
func NewHandler(svc *rental.Service, inbox *notify.Inbox, runs rental.SweepRunStore, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = svc.Log
	}
	return &Handler{
		Service:  svc,
		Inbox:    inbox,
		Runs:     runs,
		Sweep:    svc.RunSweep,
		Log:      log,
		validate: validator.New(),
	}
}

type callerKey struct{}

// RequireCaller rejects requests without a caller id and stores it in the context.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+UserHeader+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireOperator only lets the listed caller ids through. It must run
// after RequireCaller.
func RequireOperator(operators []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(operators))
	for _, id := range operators {
		allowed[id] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed[callerID(r)] {
				writeError(w, http.StatusForbidden, "Operator access required", generic.ErrNotAuthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerID(r *http.Request) string {
	if id, ok := r.Context().Value(callerKey{}).(string); ok {
		return id
	}
	return r.Header.Get(UserHeader)
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// CreateContract opens a PENDING contract. The caller must be one of the parties.
// POST /api/contracts
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := callerID(r)
	if caller != req.TenantID && caller != req.LandlordID {
		writeError(w, http.StatusForbidden, "Caller must be a party to the contract", generic.ErrNotAuthorized)
		return
	}

	c, err := h.Service.CreateContract(r.Context(), rental.NewContract{
		TenantID:      req.TenantID,
		LandlordID:    req.LandlordID,
		PropertyID:    req.PropertyID,
		PropertyTitle: req.PropertyTitle,
	})
	if err != nil {
		h.fail(w, r, "Failed to create contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractDTO(c))
}

// GetContract returns a contract visible to the caller.
// GET /api/contracts/{id}
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.GetContract(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(c))
}

// ActivateContract is the tenant accepting the invitation.
// POST /api/contracts/{id}/activate
func (h *Handler) ActivateContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.ActivateContract(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to activate contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(c))
}

// SetupContract sets the terms and generates the payment schedule.
// PUT /api/contracts/{id}/setup
func (h *Handler) SetupContract(w http.ResponseWriter, r *http.Request) {
	var req SetupContractRequest
	if !h.decode(w, r, &req) {
		return
	}
	terms, err := req.terms()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid contract terms", err)
		return
	}

	res, err := h.Service.SetupContract(r.Context(), callerID(r), chi.URLParam(r, "id"), terms)
	if err != nil {
		h.fail(w, r, "Failed to set up contract", err)
		return
	}
	writeJSON(w, http.StatusOK, h.setupResponse(res))
}

// ExtendContract moves the end date later and bills the added months.
// POST /api/contracts/{id}/extend
func (h *Handler) ExtendContract(w http.ResponseWriter, r *http.Request) {
	var req ExtendContractRequest
	if !h.decode(w, r, &req) {
		return
	}
	newEnd, err := generic.ParseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid contract_end_date", err)
		return
	}

	res, err := h.Service.ExtendContract(r.Context(), callerID(r), chi.URLParam(r, "id"), newEnd)
	if err != nil {
		h.fail(w, r, "Failed to extend contract", err)
		return
	}
	writeJSON(w, http.StatusOK, h.setupResponse(res))
}

func (h *Handler) setupResponse(res *rental.SetupResult) SetupResponse {
	return SetupResponse{
		Contract: toContractDTO(res.Contract),
		Payments: toPaymentDTOs(res.Payments, h.Service.Today()),
	}
}

func (req SetupContractRequest) terms() (rental.ContractTerms, error) {
	rent, err := generic.ParseMoney(req.MonthlyRent)
	if err != nil {
		return rental.ContractTerms{}, err
	}
	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		return rental.ContractTerms{}, err
	}
	end, err := generic.ParseDate(req.EndDate)
	if err != nil {
		return rental.ContractTerms{}, err
	}
	return rental.ContractTerms{
		MonthlyRent:            rent,
		StartDate:              start,
		EndDate:                end,
		PaymentDueDay:          req.PaymentDueDay,
		GracePeriodDays:        req.GracePeriodDays,
		AutoRenewal:            req.AutoRenewal,
		ContractDurationMonths: req.ContractDurationMonths,
	}, nil
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns a rental's payments ordered by due date.
// GET /api/contracts/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Service.ListPayments(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": toPaymentDTOs(ps, h.Service.Today())})
}

// CreatePayment adds a manual payment.
// POST /api/contracts/{id}/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := generic.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	due, err := generic.ParseDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date", err)
		return
	}

	p, err := h.Service.CreatePayment(r.Context(), callerID(r), chi.URLParam(r, "id"), rental.ManualPayment{
		Amount:      amount,
		DueDate:     due,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, "Failed to create payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p, h.Service.Today()))
}

// SubmitProof moves a payment to VERIFICATION.
// POST /api/payments/{id}/proof
func (h *Handler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	var req SubmitProofRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Service.SubmitProof(r.Context(), callerID(r), chi.URLParam(r, "id"), rental.ProofInput{
		Method:     req.Method,
		Reference:  req.Reference,
		ProofImage: req.ProofImage,
	})
	h.paymentResult(w, r, "Failed to submit proof", p, err)
}

// VerifyPayment approves (PAID) or rejects (back to PENDING) submitted proof.
// POST /api/payments/{id}/verify
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Service.Verify(r.Context(), callerID(r), chi.URLParam(r, "id"), *req.Approve)
	h.paymentResult(w, r, "Failed to verify payment", p, err)
}

// MarkPaid records a payment received outside the proof flow.
// POST /api/payments/{id}/mark-paid
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	var req MarkPaidRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	p, err := h.Service.MarkPaid(r.Context(), callerID(r), chi.URLParam(r, "id"), req.Method, req.Reference)
	h.paymentResult(w, r, "Failed to mark payment paid", p, err)
}

// MarkNotReceived asks the tenant to resubmit.
// POST /api/payments/{id}/not-received
func (h *Handler) MarkNotReceived(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.MarkNotReceived(r.Context(), callerID(r), chi.URLParam(r, "id"))
	h.paymentResult(w, r, "Failed to mark payment not received", p, err)
}

// CancelPayment cancels an unpaid payment.
// POST /api/payments/{id}/cancel
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.CancelPayment(r.Context(), callerID(r), chi.URLParam(r, "id"))
	h.paymentResult(w, r, "Failed to cancel payment", p, err)
}

// DeletePayment removes a PENDING payment.
// DELETE /api/payments/{id}
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeletePayment(r.Context(), callerID(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "Failed to delete payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) paymentResult(w http.ResponseWriter, r *http.Request, message string, p *rental.Payment, err error) {
	if err != nil {
		h.fail(w, r, message, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p, h.Service.Today()))
}

// =============================================================================
// END-OF-RENTAL HANDLERS
// =============================================================================

// ListEndRequests returns the rental's end requests, newest first.
// GET /api/contracts/{id}/end-requests
func (h *Handler) ListEndRequests(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Service.ListEndRequests(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to list end requests", err)
		return
	}
	dtos := make([]EndRequestDTO, 0, len(rs))
	for i := range rs {
		dtos = append(dtos, toEndRequestDTO(&rs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"end_requests": dtos})
}

// RequestEnd opens an end request.
// POST /api/contracts/{id}/end-requests
func (h *Handler) RequestEnd(w http.ResponseWriter, r *http.Request) {
	var req RequestEndRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	res, err := h.Service.RequestEnd(r.Context(), callerID(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(w, r, "Failed to request end of rental", err)
		return
	}
	writeJSON(w, http.StatusCreated, EndRequestResponse{
		Request:            toEndRequestDTO(res.Request),
		Contract:           toContractDTO(res.Contract),
		UnresolvedPayments: res.UnresolvedPayments,
		Warning:            res.Warning,
	})
}

// AcceptEnd is the other party agreeing to end the rental.
// POST /api/contracts/{id}/end-requests/accept
func (h *Handler) AcceptEnd(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.AcceptEnd(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to accept end of rental", err)
		return
	}
	writeJSON(w, http.StatusOK, toEndRequestDTO(req))
}

// CancelEnd withdraws the caller's own end request.
// POST /api/contracts/{id}/end-requests/cancel
func (h *Handler) CancelEnd(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.CancelEnd(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to cancel end of rental", err)
		return
	}
	writeJSON(w, http.StatusOK, toEndRequestDTO(req))
}

// =============================================================================
// NOTIFICATIONS & SWEEP
// =============================================================================

// ListNotifications returns the caller's inbox, newest first.
// GET /api/notifications?limit=50
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	records := []notify.Record{}
	if h.Inbox != nil {
		found, err := h.Inbox.List(r.Context(), callerID(r), queryLimit(r))
		if err != nil {
			h.fail(w, r, "Failed to list notifications", generic.NewStorageError("list notifications", err))
			return
		}
		if found != nil {
			records = found
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": records})
}

// ListSweepRuns returns recent sweep reports.
// GET /api/sweep/runs?limit=50
func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	dtos := []SweepRunDTO{}
	if h.Runs != nil {
		runs, err := h.Runs.ListSweepRuns(r.Context(), queryLimit(r))
		if err != nil {
			h.fail(w, r, "Failed to list sweep runs", generic.NewStorageError("list sweep runs", err))
			return
		}
		for _, run := range runs {
			dtos = append(dtos, toSweepRunDTO(run))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// TriggerSweep runs one sweep synchronously and returns its report.
// POST /api/sweep/run
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	report := h.Sweep(r.Context())
	writeJSON(w, http.StatusOK, report)
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the error response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return h.check(w, dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return h.check(w, dst)
}

func (h *Handler) check(w http.ResponseWriter, dst any) bool {
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// fail maps a service error to a status and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error(message)
	}
	writeError(w, status, message, err)
}

// statusFor maps the error chain to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrInvalidState),
		errors.Is(err, generic.ErrPendingPaymentsExist),
		errors.Is(err, generic.ErrConcurrentModification),
		errors.Is(err, generic.ErrDuplicatePeriod):
		return http.StatusConflict
	case errors.Is(err, generic.ErrInvalidScheduleRange),
		errors.Is(err, generic.ErrInvalidDueDay),
		errors.Is(err, generic.ErrInvalidContract):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
