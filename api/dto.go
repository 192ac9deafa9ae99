/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the rental domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Composite response wrappers

TYPES:
  Contracts:     ContractDTO, CreateContractRequest, SetupContractRequest,
                 ExtendContractRequest, SetupResponse
  Payments:      PaymentDTO, SubmitProofRequest, VerifyPaymentRequest,
                 MarkPaidRequest, CreatePaymentRequest
  End requests:  EndRequestDTO, RequestEndRequest, EndRequestResponse
  Sweep:         SweepRunDTO

VALIDATION:
  Request types carry go-playground/validator tags. Syntax is checked here;
  domain rules (due day vs. month length, date ordering, who may act) are
  checked by the rental service.

MONEY:
  Amounts travel as decimal strings ("1250.00") to avoid float rounding,
  alongside the integer minor-unit value for clients that prefer it.

SEE ALSO:
  - handlers.go: Uses these types
  - rental/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/warp/rental-engine/generic"
	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateContractRequest opens a PENDING contract between two users.
type CreateContractRequest struct {
	TenantID      string `json:"tenant_id" validate:"required,max=128"`
	LandlordID    string `json:"landlord_id" validate:"required,max=128,nefield=TenantID"`
	PropertyID    string `json:"property_id" validate:"max=128"`
	PropertyTitle string `json:"property_title" validate:"max=256"`
}

// SetupContractRequest sets or changes the contract terms.
type SetupContractRequest struct {
	MonthlyRent            string `json:"monthly_rent" validate:"required,numeric"`
	StartDate              string `json:"contract_start_date" validate:"required,datetime=2006-01-02"`
	EndDate                string `json:"contract_end_date" validate:"required,datetime=2006-01-02"`
	PaymentDueDay          int    `json:"payment_due_day" validate:"required"`
	GracePeriodDays        int    `json:"grace_period_days" validate:"min=0,max=90"`
	AutoRenewal            bool   `json:"auto_renewal"`
	ContractDurationMonths int    `json:"contract_duration_months" validate:"min=0,max=120"`
}

// ExtendContractRequest moves the end date later.
type ExtendContractRequest struct {
	EndDate string `json:"contract_end_date" validate:"required,datetime=2006-01-02"`
}

// SubmitProofRequest is the tenant's evidence of payment.
type SubmitProofRequest struct {
	Method     string `json:"payment_method" validate:"max=64"`
	Reference  string `json:"payment_reference" validate:"max=256"`
	ProofImage string `json:"proof_image" validate:"max=2048"`
}

// VerifyPaymentRequest approves or rejects submitted proof.
type VerifyPaymentRequest struct {
	Approve *bool `json:"approve" validate:"required"`
}

// MarkPaidRequest records a payment the landlord received directly.
type MarkPaidRequest struct {
	Method    string `json:"payment_method" validate:"max=64"`
	Reference string `json:"payment_reference" validate:"max=256"`
}

// CreatePaymentRequest adds a manual payment outside the generated schedule.
type CreatePaymentRequest struct {
	Amount      string `json:"amount" validate:"required,numeric"`
	DueDate     string `json:"due_date" validate:"required,datetime=2006-01-02"`
	Description string `json:"description" validate:"max=512"`
}

// RequestEndRequest opens an end-of-rental negotiation.
type RequestEndRequest struct {
	Reason string `json:"reason" validate:"max=1024"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ContractDTO represents a contract in API responses.
type ContractDTO struct {
	ID                     string `json:"id"`
	TenantID               string `json:"tenant_id"`
	LandlordID             string `json:"landlord_id"`
	PropertyID             string `json:"property_id,omitempty"`
	PropertyTitle          string `json:"property_title,omitempty"`
	MonthlyRent            string `json:"monthly_rent"`
	MonthlyRentMinor       int64  `json:"monthly_rent_minor"`
	StartDate              string `json:"contract_start_date,omitempty"`
	EndDate                string `json:"contract_end_date,omitempty"`
	PaymentDueDay          int    `json:"payment_due_day"`
	GracePeriodDays        int    `json:"grace_period_days"`
	ContractDurationMonths int    `json:"contract_duration_months"`
	Status                 string `json:"status"`
	AutoRenewal            bool   `json:"auto_renewal"`
	PaymentsGenerated      bool   `json:"payments_generated"`
	Version                int64  `json:"version"`
	CreatedAt              string `json:"created_at"`
	UpdatedAt              string `json:"updated_at"`
}

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID          string  `json:"id"`
	RentalID    string  `json:"rental_id"`
	Amount      string  `json:"amount"`
	AmountMinor int64   `json:"amount_minor"`
	DueDate     string  `json:"due_date"`
	Period      string  `json:"period"`
	Status      string  `json:"status"`
	IsLate      bool    `json:"is_late"`
	Description string  `json:"description,omitempty"`
	PaidDate    *string `json:"paid_date,omitempty"`
	Method      string  `json:"payment_method,omitempty"`
	Reference   string  `json:"payment_reference,omitempty"`
	ProofImage  string  `json:"proof_image,omitempty"`
	Version     int64   `json:"version"`
}

// EndRequestDTO represents an end-of-rental request.
type EndRequestDTO struct {
	ID            string  `json:"id"`
	RentalID      string  `json:"rental_id"`
	RequestedByID string  `json:"requested_by_id"`
	Reason        string  `json:"reason,omitempty"`
	Status        string  `json:"status"`
	AutoAcceptAt  string  `json:"auto_accept_at"`
	RespondedAt   *string `json:"responded_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// SetupResponse is returned by setup and extend.
type SetupResponse struct {
	Contract ContractDTO  `json:"contract"`
	Payments []PaymentDTO `json:"payments_created"`
}

// EndRequestResponse is returned by RequestEnd.
type EndRequestResponse struct {
	Request            EndRequestDTO `json:"request"`
	Contract           ContractDTO   `json:"contract"`
	UnresolvedPayments int           `json:"unresolved_payments"`
	Warning            string        `json:"warning,omitempty"`
}

// SweepRunDTO represents one recorded sweep.
type SweepRunDTO struct {
	ID            string              `json:"id"`
	StartedAt     string              `json:"started_at"`
	FinishedAt    string              `json:"finished_at"`
	MarkedOverdue int                 `json:"marked_overdue"`
	AutoAccepted  int                 `json:"auto_accepted"`
	Skipped       int                 `json:"skipped"`
	RemindersSent int                 `json:"reminders_sent"`
	Expired       int                 `json:"expired"`
	Renewed       int                 `json:"renewed"`
	Errors        []rental.SweepError `json:"errors,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toContractDTO(c *rental.Contract) ContractDTO {
	dto := ContractDTO{
		ID:                     c.ID,
		TenantID:               c.TenantID,
		LandlordID:             c.LandlordID,
		PropertyID:             c.PropertyID,
		PropertyTitle:          c.PropertyTitle,
		MonthlyRent:            c.MonthlyRent.String(),
		MonthlyRentMinor:       int64(c.MonthlyRent),
		StartDate:              c.ContractStartDate.String(),
		PaymentDueDay:          c.PaymentDueDay,
		GracePeriodDays:        c.GracePeriodDays,
		ContractDurationMonths: c.ContractDurationMonths,
		Status:                 string(c.Status),
		AutoRenewal:            c.AutoRenewal,
		PaymentsGenerated:      c.PaymentsGenerated,
		Version:                c.Version,
		CreatedAt:              c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:              c.UpdatedAt.Format(time.RFC3339),
	}
	if c.ContractEndDate != nil {
		dto.EndDate = c.ContractEndDate.String()
	}
	return dto
}

func toPaymentDTO(p *rental.Payment, today generic.Date) PaymentDTO {
	dto := PaymentDTO{
		ID:          p.ID,
		RentalID:    p.RentalID,
		Amount:      p.Amount.String(),
		AmountMinor: int64(p.Amount),
		DueDate:     p.DueDate.String(),
		Period:      p.Period.Key(),
		Status:      string(p.Status),
		IsLate:      p.IsLate(today),
		Description: p.Description,
		Method:      p.Method,
		Reference:   p.Reference,
		ProofImage:  p.ProofImage,
		Version:     p.Version,
	}
	if p.PaidDate != nil {
		dto.PaidDate = strPtr(p.PaidDate.Format(time.RFC3339))
	}
	return dto
}

func toPaymentDTOs(ps []rental.Payment, today generic.Date) []PaymentDTO {
	dtos := make([]PaymentDTO, 0, len(ps))
	for i := range ps {
		dtos = append(dtos, toPaymentDTO(&ps[i], today))
	}
	return dtos
}

func toEndRequestDTO(r *rental.EndRequest) EndRequestDTO {
	dto := EndRequestDTO{
		ID:            r.ID,
		RentalID:      r.RentalID,
		RequestedByID: r.RequestedByID,
		Reason:        r.Reason,
		Status:        string(r.Status),
		AutoAcceptAt:  r.AutoAcceptAt.Format(time.RFC3339),
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	}
	if r.RespondedAt != nil {
		dto.RespondedAt = strPtr(r.RespondedAt.Format(time.RFC3339))
	}
	return dto
}

func toSweepRunDTO(run rental.SweepRun) SweepRunDTO {
	return SweepRunDTO{
		ID:            run.ID,
		StartedAt:     run.StartedAt.Format(time.RFC3339),
		FinishedAt:    run.FinishedAt.Format(time.RFC3339),
		MarkedOverdue: run.Report.MarkedOverdue,
		AutoAccepted:  run.Report.AutoAccepted,
		Skipped:       run.Report.Skipped,
		RemindersSent: run.Report.RemindersSent,
		Expired:       run.Report.Expired,
		Renewed:       run.Report.Renewed,
		Errors:        run.Report.Errors,
	}
}

func strPtr(s string) *string {
	return &s
}
