package rental_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/generic"
	"github.com/warp/rental-engine/notify"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/rental/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	tenant   = "tenant-1"
	landlord = "landlord-1"
	stranger = "stranger-1"
)

// fixture is a service over the memory store with a controllable clock.
type fixture struct {
	t     *testing.T
	ctx   context.Context
	svc   *rental.Service
	store *store.Memory
	sent  *notify.Recorder

	mu  sync.Mutex
	now time.Time
	ids int
}

func newFixture(t *testing.T, today string) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: store.NewMemory(),
		sent:  &notify.Recorder{},
		now:   date(today).Time().Add(9 * time.Hour),
	}
	f.svc = rental.NewService(f.store, f.sent, nil)
	f.svc.Clock = f.clock
	f.svc.NewID = f.nextID
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) nextID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids++
	return fmt.Sprintf("id-%03d", f.ids)
}

// advance moves the clock forward.
func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// setToday moves the clock to 09:00 on the given day.
func (f *fixture) setToday(day string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = date(day).Time().Add(9 * time.Hour)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func date(s string) generic.Date {
	return generic.MustParseDate(s)
}

func terms(start, end string, dueDay int) rental.ContractTerms {
	return rental.ContractTerms{
		MonthlyRent:   120000,
		StartDate:     date(start),
		EndDate:       date(end),
		PaymentDueDay: dueDay,
	}
}

// pendingContract creates a PENDING contract between tenant and landlord.
func (f *fixture) pendingContract() *rental.Contract {
	f.t.Helper()
	c, err := f.svc.CreateContract(f.ctx, rental.NewContract{
		TenantID:      tenant,
		LandlordID:    landlord,
		PropertyID:    "prop-1",
		PropertyTitle: "Flat 3B",
	})
	require.NoError(f.t, err)
	return c
}

// activeContract creates, activates and sets up a contract with the given terms.
func (f *fixture) activeContract(tm rental.ContractTerms) *rental.Contract {
	f.t.Helper()
	c := f.pendingContract()
	_, err := f.svc.ActivateContract(f.ctx, tenant, c.ID)
	require.NoError(f.t, err)
	res, err := f.svc.SetupContract(f.ctx, landlord, c.ID, tm)
	require.NoError(f.t, err)
	return res.Contract
}

func (f *fixture) contract(id string) *rental.Contract {
	f.t.Helper()
	c, err := f.store.GetContract(f.ctx, id)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) payments(rentalID string) []rental.Payment {
	f.t.Helper()
	ps, err := f.store.ListPayments(f.ctx, rentalID)
	require.NoError(f.t, err)
	return ps
}

func (f *fixture) payment(id string) *rental.Payment {
	f.t.Helper()
	p, err := f.store.GetPayment(f.ctx, id)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) endRequest(id string) *rental.EndRequest {
	f.t.Helper()
	r, err := f.store.GetEndRequest(f.ctx, id)
	require.NoError(f.t, err)
	return r
}

// settleAll marks every unresolved payment on the rental as paid.
func (f *fixture) settleAll(rentalID string) {
	f.t.Helper()
	for _, p := range f.payments(rentalID) {
		if p.Status.IsUnresolved() && p.Status != rental.PaymentVerification {
			_, err := f.svc.MarkPaid(f.ctx, landlord, p.ID, "bank_transfer", "")
			require.NoError(f.t, err)
		}
	}
}

func dueDates(ps []rental.Payment) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.DueDate.String()
	}
	return out
}

func periodKeys(ps []generic.BillingPeriod) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Key()
	}
	return out
}

func kinds(ns []rental.Notification) []rental.NotificationKind {
	out := make([]rental.NotificationKind, len(ns))
	for i, n := range ns {
		out[i] = n.Kind
	}
	return out
}
