package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parkgate/internal/fee"
	"parkgate/internal/journal"
	"parkgate/internal/models"
	"parkgate/internal/store"
)

type storedSession struct {
	session models.Session
	settled bool
}

type fakeSessions struct {
	byKey    map[string]*storedSession
	inserted []string
	stats    models.DailyAggregate
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byKey: make(map[string]*storedSession)}
}

func key(plateNumber string, entryTime time.Time) string {
	return plateNumber + "|" + entryTime.Format(journal.TimeLayout)
}

func (s *fakeSessions) FindByPlateAndEntryTime(ctx context.Context, plateNumber string, entryTime time.Time) (*models.Session, error) {
	stored, ok := s.byKey[key(plateNumber, entryTime)]
	if !ok {
		return nil, store.ErrNotFound
	}
	session := stored.session
	return &session, nil
}

func (s *fakeSessions) InsertFromJournal(ctx context.Context, plateNumber string, entryTime time.Time, paid bool, amount int64, paymentTime time.Time) error {
	status := models.StatusUnpaid
	if paid {
		status = models.StatusPaid
	}
	s.byKey[key(plateNumber, entryTime)] = &storedSession{session: models.Session{
		ID:            int64(len(s.byKey) + 1),
		PlateNumber:   plateNumber,
		EntryTime:     entryTime,
		PaymentStatus: status,
	}}
	s.inserted = append(s.inserted, key(plateNumber, entryTime))
	return nil
}

func (s *fakeSessions) SettlePayment(ctx context.Context, id int64, amount int64, paymentTime time.Time) error {
	for _, stored := range s.byKey {
		if stored.session.ID != id {
			continue
		}
		if stored.session.PaymentStatus == models.StatusPaid {
			return store.ErrInvalidState
		}
		stored.session.PaymentStatus = models.StatusPaid
		stored.session.PaymentAmount = &amount
		stored.settled = true
		return nil
	}
	return store.ErrNotFound
}

func (s *fakeSessions) DayStats(ctx context.Context, date string) (models.DailyAggregate, error) {
	agg := s.stats
	agg.Date = date
	return agg, nil
}

type fakeAggregates struct {
	upserts []models.DailyAggregate
}

func (a *fakeAggregates) Upsert(ctx context.Context, agg models.DailyAggregate) error {
	a.upserts = append(a.upserts, agg)
	return nil
}

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "plates_log.csv"))
	require.NoError(t, err)
	return j
}

func newReconciler(j *journal.Journal, sessions *fakeSessions, aggregates *fakeAggregates) *Reconciler {
	return New(j, sessions, aggregates, fee.NewCalculator(500), zap.NewNop())
}

func TestMergeJournalInsertsMissingRows(t *testing.T) {
	j := openJournal(t)
	entry := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	payment := time.Date(2026, 3, 14, 10, 30, 0, 0, time.Local)
	require.NoError(t, j.Append(journal.Record{Plate: "RAB123C", EntryTime: entry}))
	require.NoError(t, j.Append(journal.Record{Plate: "RAD456E", Paid: true, EntryTime: entry, PaymentTime: payment}))

	sessions := newFakeSessions()
	stats, err := newReconciler(j, sessions, &fakeAggregates{}).MergeJournal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inserted)
	assert.Zero(t, stats.Updated)

	unpaid, err := sessions.FindByPlateAndEntryTime(context.Background(), "RAB123C", entry)
	require.NoError(t, err)
	assert.False(t, unpaid.Paid())
	paid, err := sessions.FindByPlateAndEntryTime(context.Background(), "RAD456E", entry)
	require.NoError(t, err)
	assert.True(t, paid.Paid())
}

func TestMergeJournalSettlesStaleUnpaidRows(t *testing.T) {
	j := openJournal(t)
	entry := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	payment := time.Date(2026, 3, 14, 10, 30, 0, 0, time.Local)
	require.NoError(t, j.Append(journal.Record{Plate: "RAB123C", Paid: true, EntryTime: entry, PaymentTime: payment}))

	sessions := newFakeSessions()
	require.NoError(t, sessions.InsertFromJournal(context.Background(), "RAB123C", entry, false, 0, time.Time{}))

	stats, err := newReconciler(j, sessions, &fakeAggregates{}).MergeJournal(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Inserted)
	assert.Equal(t, 1, stats.Updated)

	session, err := sessions.FindByPlateAndEntryTime(context.Background(), "RAB123C", entry)
	require.NoError(t, err)
	assert.True(t, session.Paid())
	// 1.5 hours rounds up to 2 billable hours.
	require.NotNil(t, session.PaymentAmount)
	assert.Equal(t, int64(1000), *session.PaymentAmount)
}

func TestMergeJournalIsIdempotent(t *testing.T) {
	j := openJournal(t)
	entry := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	require.NoError(t, j.Append(journal.Record{Plate: "RAB123C", EntryTime: entry}))

	sessions := newFakeSessions()
	r := newReconciler(j, sessions, &fakeAggregates{})

	first, err := r.MergeJournal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := r.MergeJournal(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.Updated)
	assert.Len(t, sessions.inserted, 1)
}

func TestRecomputeDayUpserts(t *testing.T) {
	j := openJournal(t)
	sessions := newFakeSessions()
	sessions.stats = models.DailyAggregate{TotalEntries: 12, TotalExits: 10, TotalRevenue: 6000, UnauthorizedExits: 1}
	aggregates := &fakeAggregates{}

	agg, err := newReconciler(j, sessions, aggregates).RecomputeDay(context.Background(), "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14", agg.Date)
	assert.Equal(t, int64(6000), agg.TotalRevenue)
	require.Len(t, aggregates.upserts, 1)
	assert.Equal(t, agg, aggregates.upserts[0])
}
