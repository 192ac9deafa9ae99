package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/generic"
	"github.com/warp/rental-engine/notify"
	"github.com/warp/rental-engine/rental"
)

var t0 = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func contract(id string, end string) *rental.Contract {
	c := &rental.Contract{
		ID:                id,
		TenantID:          "tenant-1",
		LandlordID:        "landlord-1",
		PropertyTitle:     "Flat 3B",
		MonthlyRent:       120000,
		ContractStartDate: generic.MustParseDate("2025-01-15"),
		PaymentDueDay:     5,
		Status:            rental.ContractActive,
		CreatedAt:         t0,
		UpdatedAt:         t0,
	}
	if end != "" {
		d := generic.MustParseDate(end)
		c.ContractEndDate = &d
	}
	return c
}

func payment(id, rentalID, due string) *rental.Payment {
	d := generic.MustParseDate(due)
	return &rental.Payment{
		ID:        id,
		RentalID:  rentalID,
		Amount:    120000,
		DueDate:   d,
		Period:    generic.PeriodOf(d),
		Status:    rental.PaymentPending,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func TestContractRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := contract("c1", "2025-07-10")
	c.AutoRenewal = true
	c.ContractDurationMonths = 12
	billed := generic.MustParseDate("2025-01-20")
	c.BilledFrom = &billed
	require.NoError(t, s.CreateContract(ctx, c))

	got, err := s.GetContract(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = s.GetContract(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestPendingContractWithoutDates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := &rental.Contract{ID: "c1", TenantID: "t", LandlordID: "l", Status: rental.ContractPending, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.CreateContract(ctx, c))

	got, err := s.GetContract(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.ContractStartDate.IsZero())
	assert.Nil(t, got.ContractEndDate)
}

func TestUpdateContractVersionGuard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateContract(ctx, contract("c1", "2025-07-10")))

	a, err := s.GetContract(ctx, "c1")
	require.NoError(t, err)
	b, err := s.GetContract(ctx, "c1")
	require.NoError(t, err)

	a.Status = rental.ContractEnding
	require.NoError(t, s.UpdateContract(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Status = rental.ContractEnded
	assert.ErrorIs(t, s.UpdateContract(ctx, b), generic.ErrConcurrentModification)

	ghost := contract("ghost", "")
	ghost.Version = 1
	assert.ErrorIs(t, s.UpdateContract(ctx, ghost), generic.ErrNotFound)
}

func TestEndDateMustFollowStart(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.CreateContract(ctx, contract("c1", "2025-01-15"))
	assert.Error(t, err)
}

func TestPaymentUniquePerPeriod(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateContract(ctx, contract("c1", "2025-07-10")))
	require.NoError(t, s.CreatePayment(ctx, payment("p1", "c1", "2025-02-05")))

	err := s.CreatePayment(ctx, payment("p2", "c1", "2025-02-28"))
	assert.ErrorIs(t, err, generic.ErrDuplicatePeriod)

	ps, err := s.ListPayments(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, ps, 1)
}

func TestPaymentRoundTripAndQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateContract(ctx, contract("c1", "2025-07-10")))
	for _, p := range []*rental.Payment{
		payment("p3", "c1", "2025-04-05"),
		payment("p1", "c1", "2025-02-05"),
		payment("p2", "c1", "2025-03-05"),
	} {
		require.NoError(t, s.CreatePayment(ctx, p))
	}

	p, err := s.GetPayment(ctx, "p2")
	require.NoError(t, err)
	paid := t0.Add(36 * time.Hour)
	p.Status = rental.PaymentVerification
	p.PaidDate = &paid
	p.Method = "bank_transfer"
	p.ProofImage = "uploads/p2.jpg"
	require.NoError(t, s.UpdatePayment(ctx, p))

	got, err := s.GetPayment(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Equal(t, "2025-03", got.Period.Key())

	ps, err := s.ListPayments(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, []string{ps[0].ID, ps[1].ID, ps[2].ID})

	ps, err = s.ListPaymentsDueBetween(ctx, "c1", generic.MustParseDate("2025-03-05"), generic.MustParseDate("2025-04-05"))
	require.NoError(t, err)
	assert.Len(t, ps, 2)

	ps, err = s.ListPaymentsByStatus(ctx, rental.PaymentPending, generic.MustParseDate("2025-04-05"))
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "p1", ps[0].ID)

	n, err := s.CountUnresolvedPayments(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stale := *got
	stale.Version = 1
	assert.ErrorIs(t, s.DeletePayment(ctx, "p2", stale.Version), generic.ErrConcurrentModification)
	require.NoError(t, s.DeletePayment(ctx, "p2", got.Version))
	_, err = s.GetPayment(ctx, "p2")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestOneActiveEndRequest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateContract(ctx, contract("c1", "2025-07-10")))

	first := &rental.EndRequest{
		ID: "e1", RentalID: "c1", RequestedByID: "tenant-1", Status: rental.EndPending,
		AutoAcceptAt: t0.Add(rental.AutoAcceptAfter), CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.CreateEndRequest(ctx, first))

	second := &rental.EndRequest{
		ID: "e2", RentalID: "c1", RequestedByID: "landlord-1", Status: rental.EndPending,
		AutoAcceptAt: t0.Add(48 * time.Hour).Add(rental.AutoAcceptAfter), CreatedAt: t0.Add(48 * time.Hour), UpdatedAt: t0,
	}
	assert.ErrorIs(t, s.CreateEndRequest(ctx, second), generic.ErrConcurrentModification)

	due, err := s.ListDueEndRequests(ctx, t0.Add(rental.AutoAcceptAfter-time.Nanosecond))
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = s.ListDueEndRequests(ctx, t0.Add(rental.AutoAcceptAfter))
	require.NoError(t, err)
	assert.Len(t, due, 1)

	active, err := s.GetActiveEndRequest(ctx, "c1")
	require.NoError(t, err)
	now := t0.Add(24 * time.Hour)
	active.Status = rental.EndCancelled
	active.RespondedAt = &now
	require.NoError(t, s.UpdateEndRequest(ctx, active))

	_, err = s.GetActiveEndRequest(ctx, "c1")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	require.NoError(t, s.CreateEndRequest(ctx, second))

	all, err := s.ListEndRequests(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "e2", all[0].ID)
	require.NotNil(t, all[1].RespondedAt)
	assert.Equal(t, now, *all[1].RespondedAt)
}

func TestWithTxRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateContract(ctx, contract("c1", "2025-07-10")))
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(st rental.Store) error {
		c, err := st.GetContract(ctx, "c1")
		if err != nil {
			return err
		}
		c.Status = rental.ContractEnded
		if err := st.UpdateContract(ctx, c); err != nil {
			return err
		}
		if err := st.CreatePayment(ctx, payment("p1", "c1", "2025-02-05")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	c, err := s.GetContract(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, rental.ContractActive, c.Status)
	n, err := s.CountUnresolvedPayments(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeletingContractCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateContract(ctx, contract("c1", "2025-07-10")))
	require.NoError(t, s.CreatePayment(ctx, payment("p1", "c1", "2025-02-05")))

	_, err := s.db.ExecContext(ctx, `DELETE FROM contracts WHERE id = ?`, "c1")
	require.NoError(t, err)

	_, err = s.GetPayment(ctx, "p1")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestListContractsFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateContract(ctx, contract("c1", "2025-07-10")))
	ending := contract("c2", "2025-07-10")
	ending.Status = rental.ContractEnding
	require.NoError(t, s.CreateContract(ctx, ending))
	require.NoError(t, s.CreateContract(ctx, contract("c3", "2025-08-10")))

	target := generic.MustParseDate("2025-07-10")
	cs, err := s.ListContracts(ctx, rental.ContractFilter{
		Statuses: []rental.ContractStatus{rental.ContractActive, rental.ContractEnding},
		EndFrom:  &target,
		EndTo:    &target,
	})
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "c1", cs[0].ID)
	assert.Equal(t, "c2", cs[1].ID)

	cs, err = s.ListContracts(ctx, rental.ContractFilter{Statuses: []rental.ContractStatus{rental.ContractActive}})
	require.NoError(t, err)
	assert.Len(t, cs, 2)
}

func TestRecordReminder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fresh, err := s.RecordReminder(ctx, "c1:2025-07-10:30", t0)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.RecordReminder(ctx, "c1:2025-07-10:30", t0)
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestSweepRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, day := range []int{1, 2, 3} {
		start := time.Date(2025, 3, day, 9, 0, 0, 0, time.UTC)
		require.NoError(t, s.SaveSweepRun(ctx, rental.SweepRun{
			ID:         string(rune('a' + i)),
			StartedAt:  start,
			FinishedAt: start.Add(time.Second),
			Report: rental.SweepReport{
				MarkedOverdue: i,
				Errors:        []rental.SweepError{{Step: rental.StepOverdue, RecordID: "p1", Err: "locked"}},
			},
		}))
	}

	runs, err := s.ListSweepRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, 2, runs[0].Report.MarkedOverdue)
	assert.Equal(t, "locked", runs[0].Report.Errors[0].Err)
	assert.Equal(t, time.Date(2025, 3, 3, 9, 0, 1, 0, time.UTC), runs[0].FinishedAt)
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveNotification(ctx, notify.Record{
			ID:        string(rune('a' + i)),
			UserID:    "tenant-1",
			Kind:      string(rental.KindPaymentOverdue),
			Title:     "Payment overdue",
			Metadata:  map[string]string{"payment_id": "p1"},
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.SaveNotification(ctx, notify.Record{ID: "z", UserID: "landlord-1", Kind: "x", CreatedAt: t0}))

	recs, err := s.ListNotifications(ctx, "tenant-1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, "p1", recs[0].Metadata["payment_id"])

	recs, err = s.ListNotifications(ctx, "landlord-1", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	// A corrupt metadata row is reported, not silently dropped
	_, err = s.db.ExecContext(ctx, `UPDATE notifications SET metadata_json = '{"payment_id":' WHERE id = 'z'`)
	require.NoError(t, err)
	_, err = s.ListNotifications(ctx, "landlord-1", 0)
	assert.ErrorContains(t, err, "metadata")
}

func TestServiceOverSQLite(t *testing.T) {
	// Full lifecycle through the service against the real schema
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	rec := &notify.Recorder{}
	svc := rental.NewService(s, rec, nil)
	svc.Clock = func() time.Time { return now }

	c, err := svc.CreateContract(ctx, rental.NewContract{TenantID: "tenant-1", LandlordID: "landlord-1", PropertyTitle: "Flat 3B"})
	require.NoError(t, err)
	_, err = svc.ActivateContract(ctx, "tenant-1", c.ID)
	require.NoError(t, err)
	res, err := svc.SetupContract(ctx, "landlord-1", c.ID, rental.ContractTerms{
		MonthlyRent:   120000,
		StartDate:     generic.MustParseDate("2025-01-15"),
		EndDate:       generic.MustParseDate("2025-07-10"),
		PaymentDueDay: 5,
	})
	require.NoError(t, err)
	require.Len(t, res.Payments, 5)

	// Regeneration is a no-op against the unique index
	created, err := svc.GenerateSchedule(ctx, c.ID, generic.MustParseDate("2025-01-15"), generic.MustParseDate("2025-07-10"))
	require.NoError(t, err)
	assert.Empty(t, created)

	_, err = svc.RequestEnd(ctx, "tenant-1", c.ID, "")
	require.NoError(t, err)
	_, err = svc.AcceptEnd(ctx, "landlord-1", c.ID)
	assert.ErrorIs(t, err, generic.ErrPendingPaymentsExist)

	for _, p := range res.Payments {
		_, err := svc.MarkPaid(ctx, "landlord-1", p.ID, "cash", "")
		require.NoError(t, err)
	}

	now = now.Add(8 * 24 * time.Hour)
	report := svc.RunSweep(ctx)
	assert.Equal(t, 1, report.AutoAccepted)
	assert.Empty(t, report.Errors)

	stored, err := s.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, rental.ContractEnded, stored.Status)
	assert.Equal(t, "2025-01-23", stored.ContractEndDate.String())

	runs, err := s.ListSweepRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
