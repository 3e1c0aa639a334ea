package lane

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parkgate/internal/cache"
	"parkgate/internal/config"
	"parkgate/internal/journal"
	"parkgate/internal/models"
	"parkgate/internal/plate"
	"parkgate/internal/store"
)

type fakeSessions struct {
	open      map[string]*models.Session
	opened    []string
	openErr   error
	closed    []int64
	closeAuth []bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{open: make(map[string]*models.Session)}
}

func (s *fakeSessions) Open(ctx context.Context, plateNumber string, entryTime time.Time) (*models.Session, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	if _, ok := s.open[plateNumber]; ok {
		return nil, store.ErrDuplicateOpenSession
	}
	session := &models.Session{ID: int64(len(s.opened) + 1), PlateNumber: plateNumber, EntryTime: entryTime}
	s.open[plateNumber] = session
	s.opened = append(s.opened, plateNumber)
	return session, nil
}

func (s *fakeSessions) FindOpen(ctx context.Context, plateNumber string) (*models.Session, error) {
	session, ok := s.open[plateNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	return session, nil
}

func (s *fakeSessions) Close(ctx context.Context, id int64, exitTime time.Time, authorized bool) error {
	for plateNumber, session := range s.open {
		if session.ID == id {
			delete(s.open, plateNumber)
			s.closed = append(s.closed, id)
			s.closeAuth = append(s.closeAuth, authorized)
			return nil
		}
	}
	return store.ErrNotFound
}

type fakeLog struct {
	records   []journal.Record
	appendErr error
}

func (j *fakeLog) Append(rec journal.Record) error {
	if j.appendErr != nil {
		return j.appendErr
	}
	j.records = append(j.records, rec)
	return nil
}

func (j *fakeLog) LatestByPlate(plateNumber string) (journal.Record, error) {
	for i := len(j.records) - 1; i >= 0; i-- {
		if j.records[i].Plate == plateNumber {
			return j.records[i], nil
		}
	}
	return journal.Record{}, journal.ErrNoRecord
}

type fakeGate struct {
	pulses int
	alarms int
}

func (g *fakeGate) PulseGate(ctx context.Context) error {
	g.pulses++
	return nil
}

func (g *fakeGate) Alarm() error {
	g.alarms++
	return nil
}

func newEntryLane(sessions *fakeSessions, jrnl *fakeLog, gate *fakeGate) *Lane {
	return New(config.DirectionEntry, plate.NewVoter(2), cache.NewMemoryEntryGuard(5*time.Minute), sessions, jrnl, gate, zap.NewNop())
}

func newExitLane(sessions *fakeSessions, jrnl *fakeLog, gate *fakeGate) *Lane {
	return New(config.DirectionExit, plate.NewVoter(3), cache.NewMemoryEntryGuard(5*time.Minute), sessions, jrnl, gate, zap.NewNop())
}

func submitUntilDecision(t *testing.T, l *Lane, raw string, frames int) *Decision {
	t.Helper()
	var decision *Decision
	for i := 0; i < frames; i++ {
		var err error
		decision, err = l.Submit(context.Background(), raw)
		require.NoError(t, err)
	}
	return decision
}

func TestEntryBuffersUntilConsensus(t *testing.T) {
	sessions := newFakeSessions()
	l := newEntryLane(sessions, &fakeLog{}, &fakeGate{})

	decision, err := l.Submit(context.Background(), "RAB123C")
	require.NoError(t, err)
	assert.Nil(t, decision)
	assert.Empty(t, sessions.opened)
}

func TestEntryOpensSessionAndGate(t *testing.T) {
	sessions := newFakeSessions()
	jrnl := &fakeLog{}
	gate := &fakeGate{}
	l := newEntryLane(sessions, jrnl, gate)

	decision := submitUntilDecision(t, l, "RAB123C", 2)
	require.NotNil(t, decision)
	assert.Equal(t, ActionEntryOpened, decision.Action)
	assert.Equal(t, "RAB123C", decision.Plate)

	assert.Equal(t, []string{"RAB123C"}, sessions.opened)
	require.Len(t, jrnl.records, 1)
	assert.False(t, jrnl.records[0].Paid)
	assert.Equal(t, 1, gate.pulses)
}

func TestEntryCooldownSuppressesReentry(t *testing.T) {
	sessions := newFakeSessions()
	jrnl := &fakeLog{}
	gate := &fakeGate{}
	l := newEntryLane(sessions, jrnl, gate)

	first := submitUntilDecision(t, l, "RAB123C", 2)
	require.Equal(t, ActionEntryOpened, first.Action)

	// Same plate still in camera view: consensus fires again inside the window.
	second := submitUntilDecision(t, l, "RAB123C", 2)
	require.NotNil(t, second)
	assert.Equal(t, ActionEntryCooldown, second.Action)
	assert.Len(t, jrnl.records, 1)
	assert.Equal(t, 1, gate.pulses)
}

func TestEntryRefusedWhenAlreadyInside(t *testing.T) {
	sessions := newFakeSessions()
	sessions.open["RAB123C"] = &models.Session{ID: 7, PlateNumber: "RAB123C"}
	jrnl := &fakeLog{}
	gate := &fakeGate{}
	l := newEntryLane(sessions, jrnl, gate)

	decision := submitUntilDecision(t, l, "RAB123C", 2)
	require.NotNil(t, decision)
	assert.Equal(t, ActionEntryAlreadyInside, decision.Action)
	assert.Empty(t, jrnl.records)
	assert.Zero(t, gate.pulses)

	// The refusal released the cooldown, so a later legitimate attempt after
	// the vehicle leaves is not blocked by this one.
	delete(sessions.open, "RAB123C")
	retry := submitUntilDecision(t, l, "RAB123C", 2)
	require.NotNil(t, retry)
	assert.Equal(t, ActionEntryOpened, retry.Action)
}

func TestExitPaidVehicleReleased(t *testing.T) {
	entry := time.Now().Add(-2 * time.Hour)
	sessions := newFakeSessions()
	sessions.open["RAB123C"] = &models.Session{ID: 3, PlateNumber: "RAB123C", EntryTime: entry}
	jrnl := &fakeLog{records: []journal.Record{
		{Plate: "RAB123C", Paid: true, EntryTime: entry, PaymentTime: time.Now()},
	}}
	gate := &fakeGate{}
	l := newExitLane(sessions, jrnl, gate)

	decision := submitUntilDecision(t, l, "RAB123C", 3)
	require.NotNil(t, decision)
	assert.Equal(t, ActionExitAuthorized, decision.Action)
	assert.Equal(t, []int64{3}, sessions.closed)
	assert.Equal(t, []bool{true}, sessions.closeAuth)
	assert.Equal(t, 1, gate.pulses)
	assert.Zero(t, gate.alarms)
}

func TestExitUnpaidVehicleAlarmed(t *testing.T) {
	entry := time.Now().Add(-time.Hour)
	sessions := newFakeSessions()
	sessions.open["RAB123C"] = &models.Session{ID: 4, PlateNumber: "RAB123C", EntryTime: entry}
	jrnl := &fakeLog{records: []journal.Record{{Plate: "RAB123C", EntryTime: entry}}}
	gate := &fakeGate{}
	l := newExitLane(sessions, jrnl, gate)

	decision := submitUntilDecision(t, l, "RAB123C", 3)
	require.NotNil(t, decision)
	assert.Equal(t, ActionExitUnauthorized, decision.Action)
	assert.Zero(t, gate.pulses)
	assert.Equal(t, 1, gate.alarms)
	// The crossing is still recorded, flagged unauthorized.
	assert.Equal(t, []int64{4}, sessions.closed)
	assert.Equal(t, []bool{false}, sessions.closeAuth)
}

func TestExitUnknownVehicleAlarmed(t *testing.T) {
	sessions := newFakeSessions()
	gate := &fakeGate{}
	l := newExitLane(sessions, &fakeLog{}, gate)

	decision := submitUntilDecision(t, l, "RAB123C", 3)
	require.NotNil(t, decision)
	assert.Equal(t, ActionExitUnknownVehicle, decision.Action)
	assert.Zero(t, gate.pulses)
	assert.Equal(t, 1, gate.alarms)
	assert.Empty(t, sessions.closed)
}

func TestEntryKeysJournalAndStoreIdentically(t *testing.T) {
	sessions := newFakeSessions()
	jrnl, err := journal.Open(filepath.Join(t.TempDir(), "plates_log.csv"))
	require.NoError(t, err)
	gate := &fakeGate{}
	l := New(config.DirectionEntry, plate.NewVoter(2), cache.NewMemoryEntryGuard(5*time.Minute), sessions, jrnl, gate, zap.NewNop())
	l.now = func() time.Time {
		return time.Date(2026, 3, 14, 10, 0, 0, 123456789, time.Local)
	}

	decision := submitUntilDecision(t, l, "RAB123C", 2)
	require.NotNil(t, decision)
	require.Equal(t, ActionEntryOpened, decision.Action)

	// Settlement and the reconciler look sessions up by plate plus the entry
	// time read back from the CSV, which holds whole seconds. The stored row
	// must carry exactly that key or the lookups match nothing.
	records, err := jrnl.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	stored := sessions.open["RAB123C"]
	require.NotNil(t, stored)
	assert.True(t, records[0].EntryTime.Equal(stored.EntryTime),
		"journal key %v must equal store key %v", records[0].EntryTime, stored.EntryTime)
	assert.Zero(t, stored.EntryTime.Nanosecond())
}

func TestEntryKeepsJournalRowWhenStoreDown(t *testing.T) {
	sessions := newFakeSessions()
	sessions.openErr = context.DeadlineExceeded
	jrnl := &fakeLog{}
	gate := &fakeGate{}
	l := newEntryLane(sessions, jrnl, gate)

	decision := submitUntilDecision(t, l, "RAB123C", 2)
	require.NotNil(t, decision)
	// The vehicle is still admitted; the journal row carries the session
	// until the reconciler replays it.
	assert.Equal(t, ActionEntryOpened, decision.Action)
	assert.Len(t, jrnl.records, 1)
	assert.Equal(t, 1, gate.pulses)
}
