// Package store provides rental.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/rental-engine/generic"
	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.Mutex
	st *state
}

type state struct {
	contracts   map[string]rental.Contract
	payments    map[string]rental.Payment
	endRequests map[string]rental.EndRequest
	reminders   map[string]time.Time
	sweepRuns   []rental.SweepRun
}

func newState() *state {
	return &state{
		contracts:   make(map[string]rental.Contract),
		payments:    make(map[string]rental.Payment),
		endRequests: make(map[string]rental.EndRequest),
		reminders:   make(map[string]time.Time),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// WithTx executes fn within a transaction.
// Simulated with a snapshot + rollback on error; the lock is held throughout,
// so transactions are serialized.
func (m *Memory) WithTx(ctx context.Context, fn func(rental.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&view{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// locked runs fn against the live state under the lock.
func (m *Memory) locked(fn func(v *view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{st: m.st})
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.contracts {
		c.contracts[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.endRequests {
		c.endRequests[k] = v
	}
	for k, v := range s.reminders {
		c.reminders[k] = v
	}
	c.sweepRuns = append(c.sweepRuns, s.sweepRuns...)
	return c
}

// =============================================================================
// rental.Store - locking wrappers
// =============================================================================

func (m *Memory) CreateContract(ctx context.Context, c *rental.Contract) error {
	return m.locked(func(v *view) error { return v.CreateContract(ctx, c) })
}

func (m *Memory) GetContract(ctx context.Context, id string) (c *rental.Contract, err error) {
	err = m.locked(func(v *view) error { c, err = v.GetContract(ctx, id); return err })
	return c, err
}

func (m *Memory) UpdateContract(ctx context.Context, c *rental.Contract) error {
	return m.locked(func(v *view) error { return v.UpdateContract(ctx, c) })
}

func (m *Memory) ListContracts(ctx context.Context, f rental.ContractFilter) (cs []rental.Contract, err error) {
	err = m.locked(func(v *view) error { cs, err = v.ListContracts(ctx, f); return err })
	return cs, err
}

func (m *Memory) CreatePayment(ctx context.Context, p *rental.Payment) error {
	return m.locked(func(v *view) error { return v.CreatePayment(ctx, p) })
}

func (m *Memory) GetPayment(ctx context.Context, id string) (p *rental.Payment, err error) {
	err = m.locked(func(v *view) error { p, err = v.GetPayment(ctx, id); return err })
	return p, err
}

func (m *Memory) UpdatePayment(ctx context.Context, p *rental.Payment) error {
	return m.locked(func(v *view) error { return v.UpdatePayment(ctx, p) })
}

func (m *Memory) DeletePayment(ctx context.Context, id string, version int64) error {
	return m.locked(func(v *view) error { return v.DeletePayment(ctx, id, version) })
}

func (m *Memory) ListPayments(ctx context.Context, rentalID string) (ps []rental.Payment, err error) {
	err = m.locked(func(v *view) error { ps, err = v.ListPayments(ctx, rentalID); return err })
	return ps, err
}

func (m *Memory) ListPaymentsDueBetween(ctx context.Context, rentalID string, from, to generic.Date) (ps []rental.Payment, err error) {
	err = m.locked(func(v *view) error { ps, err = v.ListPaymentsDueBetween(ctx, rentalID, from, to); return err })
	return ps, err
}

func (m *Memory) ListPaymentsByStatus(ctx context.Context, status rental.PaymentStatus, dueBefore generic.Date) (ps []rental.Payment, err error) {
	err = m.locked(func(v *view) error { ps, err = v.ListPaymentsByStatus(ctx, status, dueBefore); return err })
	return ps, err
}

func (m *Memory) CountUnresolvedPayments(ctx context.Context, rentalID string) (n int, err error) {
	err = m.locked(func(v *view) error { n, err = v.CountUnresolvedPayments(ctx, rentalID); return err })
	return n, err
}

func (m *Memory) CreateEndRequest(ctx context.Context, r *rental.EndRequest) error {
	return m.locked(func(v *view) error { return v.CreateEndRequest(ctx, r) })
}

func (m *Memory) GetEndRequest(ctx context.Context, id string) (r *rental.EndRequest, err error) {
	err = m.locked(func(v *view) error { r, err = v.GetEndRequest(ctx, id); return err })
	return r, err
}

func (m *Memory) GetActiveEndRequest(ctx context.Context, rentalID string) (r *rental.EndRequest, err error) {
	err = m.locked(func(v *view) error { r, err = v.GetActiveEndRequest(ctx, rentalID); return err })
	return r, err
}

func (m *Memory) UpdateEndRequest(ctx context.Context, r *rental.EndRequest) error {
	return m.locked(func(v *view) error { return v.UpdateEndRequest(ctx, r) })
}

func (m *Memory) ListEndRequests(ctx context.Context, rentalID string) (rs []rental.EndRequest, err error) {
	err = m.locked(func(v *view) error { rs, err = v.ListEndRequests(ctx, rentalID); return err })
	return rs, err
}

func (m *Memory) ListDueEndRequests(ctx context.Context, now time.Time) (rs []rental.EndRequest, err error) {
	err = m.locked(func(v *view) error { rs, err = v.ListDueEndRequests(ctx, now); return err })
	return rs, err
}

func (m *Memory) RecordReminder(ctx context.Context, key string, at time.Time) (ok bool, err error) {
	err = m.locked(func(v *view) error { ok, err = v.RecordReminder(ctx, key, at); return err })
	return ok, err
}

// SaveSweepRun implements rental.SweepRunStore.
func (m *Memory) SaveSweepRun(_ context.Context, run rental.SweepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.sweepRuns = append(m.st.sweepRuns, run)
	return nil
}

// ListSweepRuns returns the most recent runs first.
func (m *Memory) ListSweepRuns(_ context.Context, limit int) ([]rental.SweepRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rental.SweepRun
	for i := len(m.st.sweepRuns) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.st.sweepRuns[i])
	}
	return out, nil
}

// =============================================================================
// VIEW - Unlocked operations on a state (used inside and outside WithTx)
// =============================================================================

type view struct {
	st *state
}

func (v *view) CreateContract(_ context.Context, c *rental.Contract) error {
	c.Version = 1
	v.st.contracts[c.ID] = copyContract(*c)
	return nil
}

func (v *view) GetContract(_ context.Context, id string) (*rental.Contract, error) {
	c, ok := v.st.contracts[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	out := copyContract(c)
	return &out, nil
}

func (v *view) UpdateContract(_ context.Context, c *rental.Contract) error {
	cur, ok := v.st.contracts[c.ID]
	if !ok {
		return generic.ErrNotFound
	}
	if cur.Version != c.Version {
		return generic.ErrConcurrentModification
	}
	c.Version++
	v.st.contracts[c.ID] = copyContract(*c)
	return nil
}

func (v *view) ListContracts(_ context.Context, f rental.ContractFilter) ([]rental.Contract, error) {
	var out []rental.Contract
	for _, c := range v.st.contracts {
		if !matches(c, f) {
			continue
		}
		out = append(out, copyContract(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func matches(c rental.Contract, f rental.ContractFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if c.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.EndFrom != nil || f.EndTo != nil {
		if c.ContractEndDate == nil {
			return false
		}
		if f.EndFrom != nil && c.ContractEndDate.Before(*f.EndFrom) {
			return false
		}
		if f.EndTo != nil && c.ContractEndDate.After(*f.EndTo) {
			return false
		}
	}
	return true
}

func (v *view) CreatePayment(_ context.Context, p *rental.Payment) error {
	for _, existing := range v.st.payments {
		if existing.RentalID == p.RentalID && existing.Period == p.Period {
			return generic.ErrDuplicatePeriod
		}
	}
	p.Version = 1
	v.st.payments[p.ID] = copyPayment(*p)
	return nil
}

func (v *view) GetPayment(_ context.Context, id string) (*rental.Payment, error) {
	p, ok := v.st.payments[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	out := copyPayment(p)
	return &out, nil
}

func (v *view) UpdatePayment(_ context.Context, p *rental.Payment) error {
	cur, ok := v.st.payments[p.ID]
	if !ok {
		return generic.ErrNotFound
	}
	if cur.Version != p.Version {
		return generic.ErrConcurrentModification
	}
	p.Version++
	v.st.payments[p.ID] = copyPayment(*p)
	return nil
}

func (v *view) DeletePayment(_ context.Context, id string, version int64) error {
	cur, ok := v.st.payments[id]
	if !ok {
		return generic.ErrNotFound
	}
	if cur.Version != version {
		return generic.ErrConcurrentModification
	}
	delete(v.st.payments, id)
	return nil
}

func (v *view) ListPayments(_ context.Context, rentalID string) ([]rental.Payment, error) {
	return v.payments(func(p rental.Payment) bool { return p.RentalID == rentalID }), nil
}

func (v *view) ListPaymentsDueBetween(_ context.Context, rentalID string, from, to generic.Date) ([]rental.Payment, error) {
	return v.payments(func(p rental.Payment) bool {
		return p.RentalID == rentalID && p.DueDate.AfterOrEqual(from) && p.DueDate.BeforeOrEqual(to)
	}), nil
}

func (v *view) ListPaymentsByStatus(_ context.Context, status rental.PaymentStatus, dueBefore generic.Date) ([]rental.Payment, error) {
	return v.payments(func(p rental.Payment) bool {
		return p.Status == status && p.DueDate.Before(dueBefore)
	}), nil
}

func (v *view) CountUnresolvedPayments(_ context.Context, rentalID string) (int, error) {
	n := 0
	for _, p := range v.st.payments {
		if p.RentalID == rentalID && p.Status.IsUnresolved() {
			n++
		}
	}
	return n, nil
}

// payments returns matching payments ordered by due date.
func (v *view) payments(keep func(rental.Payment) bool) []rental.Payment {
	var out []rental.Payment
	for _, p := range v.st.payments {
		if keep(p) {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v *view) CreateEndRequest(_ context.Context, r *rental.EndRequest) error {
	if r.Status == rental.EndPending {
		for _, existing := range v.st.endRequests {
			if existing.RentalID == r.RentalID && existing.Status == rental.EndPending {
				return generic.ErrConcurrentModification
			}
		}
	}
	r.Version = 1
	v.st.endRequests[r.ID] = copyEndRequest(*r)
	return nil
}

func (v *view) GetEndRequest(_ context.Context, id string) (*rental.EndRequest, error) {
	r, ok := v.st.endRequests[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	out := copyEndRequest(r)
	return &out, nil
}

func (v *view) GetActiveEndRequest(_ context.Context, rentalID string) (*rental.EndRequest, error) {
	for _, r := range v.st.endRequests {
		if r.RentalID == rentalID && r.Status == rental.EndPending {
			out := copyEndRequest(r)
			return &out, nil
		}
	}
	return nil, generic.ErrNotFound
}

func (v *view) UpdateEndRequest(_ context.Context, r *rental.EndRequest) error {
	cur, ok := v.st.endRequests[r.ID]
	if !ok {
		return generic.ErrNotFound
	}
	if cur.Version != r.Version {
		return generic.ErrConcurrentModification
	}
	r.Version++
	v.st.endRequests[r.ID] = copyEndRequest(*r)
	return nil
}

func (v *view) ListEndRequests(_ context.Context, rentalID string) ([]rental.EndRequest, error) {
	return v.endRequests(func(r rental.EndRequest) bool { return r.RentalID == rentalID }), nil
}

func (v *view) ListDueEndRequests(_ context.Context, now time.Time) ([]rental.EndRequest, error) {
	return v.endRequests(func(r rental.EndRequest) bool {
		return r.Status == rental.EndPending && !r.AutoAcceptAt.After(now)
	}), nil
}

// endRequests returns matching requests, newest first.
func (v *view) endRequests(keep func(rental.EndRequest) bool) []rental.EndRequest {
	var out []rental.EndRequest
	for _, r := range v.st.endRequests {
		if keep(r) {
			out = append(out, copyEndRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (v *view) RecordReminder(_ context.Context, key string, at time.Time) (bool, error) {
	if _, ok := v.st.reminders[key]; ok {
		return false, nil
	}
	v.st.reminders[key] = at
	return true, nil
}

// =============================================================================
// COPIES - Callers never share memory with the store
// =============================================================================

func copyContract(c rental.Contract) rental.Contract {
	if c.ContractEndDate != nil {
		d := *c.ContractEndDate
		c.ContractEndDate = &d
	}
	if c.BilledFrom != nil {
		d := *c.BilledFrom
		c.BilledFrom = &d
	}
	return c
}

func copyPayment(p rental.Payment) rental.Payment {
	if p.PaidDate != nil {
		t := *p.PaidDate
		p.PaidDate = &t
	}
	return p
}

func copyEndRequest(r rental.EndRequest) rental.EndRequest {
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		r.RespondedAt = &t
	}
	return r
}
