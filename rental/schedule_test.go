package rental_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/generic"
	"github.com/warp/rental-engine/rental"
)

func TestSchedulePeriods(t *testing.T) {
	tests := []struct {
		name   string
		dueDay int
		from   string
		to     string
		want   []string
	}{
		{
			name:   "due date already passed in first month",
			dueDay: 5, from: "2025-01-15", to: "2025-07-10",
			want: []string{"2025-02", "2025-03", "2025-04", "2025-05", "2025-06"},
		},
		{
			name:   "due date still ahead in first month",
			dueDay: 20, from: "2025-01-15", to: "2025-03-01",
			want: []string{"2025-01", "2025-02"},
		},
		{
			name:   "from on the due date skips that month",
			dueDay: 15, from: "2025-01-15", to: "2025-04-20",
			want: []string{"2025-02", "2025-03"},
		},
		{
			name:   "due day 31 across short months",
			dueDay: 31, from: "2025-01-01", to: "2025-05-01",
			want: []string{"2025-01", "2025-02", "2025-03", "2025-04"},
		},
		{
			name:   "year rollover",
			dueDay: 1, from: "2025-11-20", to: "2026-03-15",
			want: []string{"2025-12", "2026-01", "2026-02"},
		},
		{
			name:   "range inside one month bills nothing",
			dueDay: 10, from: "2025-03-01", to: "2025-03-20",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rental.SchedulePeriods(tt.dueDay, date(tt.from), date(tt.to))
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, periodKeys(got))
		})
	}
}

func TestSchedulePeriods_DueDatesStayInsideRange(t *testing.T) {
	from, to := date("2024-01-31"), date("2025-02-15")
	for dueDay := 1; dueDay <= 31; dueDay++ {
		periods, err := rental.SchedulePeriods(dueDay, from, to)
		require.NoError(t, err)

		seen := map[string]bool{}
		for _, p := range periods {
			due := p.DueDate(dueDay)
			assert.True(t, due.After(from), "day %d: %s not after %s", dueDay, due, from)
			assert.True(t, due.Before(to), "day %d: %s not before %s", dueDay, due, to)
			assert.False(t, seen[p.Key()], "day %d: duplicate period %s", dueDay, p.Key())
			seen[p.Key()] = true
		}
	}
}

func TestSchedulePeriods_InvalidInput(t *testing.T) {
	_, err := rental.SchedulePeriods(5, date("2025-03-01"), date("2025-03-01"))
	assert.ErrorIs(t, err, generic.ErrInvalidScheduleRange)

	_, err = rental.SchedulePeriods(5, date("2025-03-01"), date("2025-02-01"))
	assert.ErrorIs(t, err, generic.ErrInvalidScheduleRange)

	_, err = rental.SchedulePeriods(0, date("2025-01-01"), date("2025-06-01"))
	assert.ErrorIs(t, err, generic.ErrInvalidDueDay)

	_, err = rental.SchedulePeriods(32, date("2025-01-01"), date("2025-06-01"))
	assert.ErrorIs(t, err, generic.ErrInvalidDueDay)
}

func TestSetupContract_GeneratesScheduleEndToEnd(t *testing.T) {
	// GIVEN: Today is the contract start, due day 5, end 2025-07-10
	f := newFixture(t, "2025-01-15")

	// WHEN: The landlord sets the contract up
	c := f.activeContract(terms("2025-01-15", "2025-07-10", 5))

	// THEN: Feb through Jun are billed, PENDING, for the monthly rent
	ps := f.payments(c.ID)
	assert.Equal(t, []string{"2025-02-05", "2025-03-05", "2025-04-05", "2025-05-05", "2025-06-05"}, dueDates(ps))
	for _, p := range ps {
		assert.Equal(t, rental.PaymentPending, p.Status)
		assert.Equal(t, generic.Money(120000), p.Amount)
		assert.Contains(t, p.Description, "Flat 3B")
	}
	assert.Equal(t, "Rent for Flat 3B - February 2025", ps[0].Description)
	assert.True(t, f.contract(c.ID).PaymentsGenerated)
}

func TestSetupContract_StartsFromTodayWhenStartIsPast(t *testing.T) {
	f := newFixture(t, "2025-04-10")

	c := f.activeContract(terms("2025-01-01", "2025-08-01", 1))

	assert.Equal(t, []string{"2025-05-01", "2025-06-01", "2025-07-01"}, dueDates(f.payments(c.ID)))
}

func TestSetupContract_ClampsDueDayInShortMonths(t *testing.T) {
	f := newFixture(t, "2024-01-01")

	c := f.activeContract(terms("2024-01-01", "2024-05-15", 31))

	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"}, dueDates(f.payments(c.ID)))
}

func TestGenerateSchedule_Idempotent(t *testing.T) {
	// GIVEN: A contract whose schedule has already been generated
	f := newFixture(t, "2025-01-15")
	c := f.activeContract(terms("2025-01-15", "2025-07-10", 5))
	before := f.payments(c.ID)

	// WHEN: The same range is generated again
	created, err := f.svc.GenerateSchedule(f.ctx, c.ID, date("2025-01-15"), date("2025-07-10"))

	// THEN: Nothing new is created
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Equal(t, dueDates(before), dueDates(f.payments(c.ID)))

	// AND: An overlapping wider range only fills the gaps
	created, err = f.svc.GenerateSchedule(f.ctx, c.ID, date("2025-01-01"), date("2025-08-10"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-05", "2025-07-05"}, dueDates(created))
	assert.Len(t, f.payments(c.ID), 7)
}

func TestGenerateSchedule_InvalidRange(t *testing.T) {
	f := newFixture(t, "2025-01-15")
	c := f.activeContract(terms("2025-01-15", "2025-07-10", 5))

	_, err := f.svc.GenerateSchedule(f.ctx, c.ID, date("2025-07-10"), date("2025-01-15"))
	assert.ErrorIs(t, err, generic.ErrInvalidScheduleRange)

	_, err = f.svc.GenerateSchedule(f.ctx, "missing", date("2025-01-15"), date("2025-07-10"))
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestExtendContract_BillsExcludedEndMonthAndNewMonths(t *testing.T) {
	// GIVEN: Feb..Jun billed, July excluded as the end month
	f := newFixture(t, "2025-01-15")
	c := f.activeContract(terms("2025-01-15", "2025-07-10", 5))

	// WHEN: The landlord extends to 2025-10-10
	res, err := f.svc.ExtendContract(f.ctx, landlord, c.ID, date("2025-10-10"))

	// THEN: Jul, Aug, Sep are added and the schedule has no gap or duplicate
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-07-05", "2025-08-05", "2025-09-05"}, dueDates(res.Payments))
	assert.Equal(t, []string{
		"2025-02-05", "2025-03-05", "2025-04-05", "2025-05-05",
		"2025-06-05", "2025-07-05", "2025-08-05", "2025-09-05",
	}, dueDates(f.payments(c.ID)))
	assert.Equal(t, "2025-10-10", f.contract(c.ID).ContractEndDate.String())
	assert.Contains(t, kinds(f.sent.ForUser(tenant)), rental.KindContractExtended)
}

func TestExtendContract_EndAfterDueDayInEndMonth(t *testing.T) {
	// GIVEN: End date after the due day, so the end month is billed by neither range
	f := newFixture(t, "2025-01-01")
	c := f.activeContract(terms("2025-01-01", "2025-04-20", 10))
	assert.Equal(t, []string{"2025-01-10", "2025-02-10", "2025-03-10"}, dueDates(f.payments(c.ID)))

	// WHEN: Extended by two months
	res, err := f.svc.ExtendContract(f.ctx, landlord, c.ID, date("2025-06-20"))

	// THEN: April (old end month) and May are billed
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-04-10", "2025-05-10"}, dueDates(res.Payments))
}

func TestExtendContract_NeverBillsBeforeFirstSchedule(t *testing.T) {
	tests := []struct {
		name    string
		today   string
		terms   rental.ContractTerms
		newEnd  string
		billed  string
		created []string
	}{
		{
			name:    "start after the end month's due date",
			today:   "2025-01-15",
			terms:   terms("2025-01-20", "2025-01-28", 5),
			newEnd:  "2025-04-10",
			billed:  "2025-01-20",
			created: []string{"2025-02-05", "2025-03-05"},
		},
		{
			name:    "end month already passed at setup",
			today:   "2025-04-10",
			terms:   terms("2025-01-01", "2025-04-20", 1),
			newEnd:  "2025-08-01",
			billed:  "2025-04-10",
			created: []string{"2025-05-01", "2025-06-01", "2025-07-01"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: A first schedule that created nothing
			f := newFixture(t, tt.today)
			c := f.activeContract(tt.terms)
			require.Empty(t, f.payments(c.ID))
			require.NotNil(t, f.contract(c.ID).BilledFrom)
			assert.Equal(t, tt.billed, f.contract(c.ID).BilledFrom.String())

			// WHEN: The contract is extended
			res, err := f.svc.ExtendContract(f.ctx, landlord, c.ID, date(tt.newEnd))

			// THEN: Nothing due before the first schedule's lower bound is billed
			require.NoError(t, err)
			assert.Equal(t, tt.created, dueDates(res.Payments))
			assert.Equal(t, tt.created, dueDates(f.payments(c.ID)))
		})
	}
}

func TestExtendContract_Guards(t *testing.T) {
	f := newFixture(t, "2025-01-15")
	c := f.activeContract(terms("2025-01-15", "2025-07-10", 5))

	_, err := f.svc.ExtendContract(f.ctx, tenant, c.ID, date("2025-10-10"))
	assert.ErrorIs(t, err, generic.ErrNotAuthorized)

	_, err = f.svc.ExtendContract(f.ctx, landlord, c.ID, date("2025-07-10"))
	assert.ErrorIs(t, err, generic.ErrInvalidContract)

	pending := f.pendingContract()
	_, err = f.svc.ExtendContract(f.ctx, landlord, pending.ID, date("2025-10-10"))
	assert.ErrorIs(t, err, generic.ErrInvalidState)
}
