package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "plates_log.csv"))
	require.NoError(t, err)
	return j
}

func entryAt(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation(TimeLayout, value, time.Local)
	require.NoError(t, err)
	return ts
}

func TestOpenCreatesFileWithHeader(t *testing.T) {
	j := tempJournal(t)

	data, err := os.ReadFile(j.Path())
	require.NoError(t, err)
	assert.Equal(t, "Plate Number,Payment Status,Timestamp,Payment Timestamp\n", string(data))

	records, err := j.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAppendAndQuery(t *testing.T) {
	j := tempJournal(t)
	first := entryAt(t, "2024-01-01 10:00:00")
	second := entryAt(t, "2024-01-02 08:30:00")

	require.NoError(t, j.Append(Record{Plate: "RAB123C", EntryTime: first}))
	require.NoError(t, j.Append(Record{Plate: "RAX999Z", EntryTime: first}))
	require.NoError(t, j.Append(Record{Plate: "RAB123C", EntryTime: second}))

	unpaid, err := j.UnpaidByPlate("RAB123C")
	require.NoError(t, err)
	require.Len(t, unpaid, 2)
	assert.Equal(t, first, unpaid[0].EntryTime)
	assert.Equal(t, second, unpaid[1].EntryTime)

	latest, err := j.LatestByPlate("RAB123C")
	require.NoError(t, err)
	assert.Equal(t, second, latest.EntryTime)
	assert.False(t, latest.Paid)

	_, err = j.LatestByPlate("RAZ000A")
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestMarkPaidFlipsOnlyMatchedRows(t *testing.T) {
	j := tempJournal(t)
	first := entryAt(t, "2024-01-01 10:00:00")
	second := entryAt(t, "2024-01-02 08:30:00")
	payTime := entryAt(t, "2024-01-02 09:00:00")

	require.NoError(t, j.Append(Record{Plate: "RAB123C", EntryTime: first}))
	require.NoError(t, j.Append(Record{Plate: "RAX999Z", EntryTime: first}))
	require.NoError(t, j.Append(Record{Plate: "RAB123C", EntryTime: second}))

	require.NoError(t, j.MarkPaid("RAB123C", []time.Time{first, second}, payTime))

	unpaid, err := j.UnpaidByPlate("RAB123C")
	require.NoError(t, err)
	assert.Empty(t, unpaid)

	latest, err := j.LatestByPlate("RAB123C")
	require.NoError(t, err)
	assert.True(t, latest.Paid)
	assert.Equal(t, payTime, latest.PaymentTime)

	other, err := j.UnpaidByPlate("RAX999Z")
	require.NoError(t, err)
	require.Len(t, other, 1, "unrelated plate must stay unpaid")
}

func TestMarkPaidNoMatchReturnsErrNoRecord(t *testing.T) {
	j := tempJournal(t)
	require.NoError(t, j.Append(Record{Plate: "RAB123C", EntryTime: entryAt(t, "2024-01-01 10:00:00")}))

	err := j.MarkPaid("RAB123C", []time.Time{entryAt(t, "2030-01-01 00:00:00")}, time.Now())
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestSnapshotRestoreIsByteIdentical(t *testing.T) {
	j := tempJournal(t)
	first := entryAt(t, "2024-01-01 10:00:00")
	require.NoError(t, j.Append(Record{Plate: "RAB123C", EntryTime: first}))
	require.NoError(t, j.Append(Record{Plate: "RAX999Z", EntryTime: first}))

	snapshot, err := j.Snapshot()
	require.NoError(t, err)

	require.NoError(t, j.MarkPaid("RAB123C", []time.Time{first}, entryAt(t, "2024-01-01 11:00:00")))
	mutated, err := os.ReadFile(j.Path())
	require.NoError(t, err)
	require.NotEqual(t, snapshot, mutated)

	require.NoError(t, j.Restore(snapshot))
	restored, err := os.ReadFile(j.Path())
	require.NoError(t, err)
	assert.Equal(t, snapshot, restored)
}

func TestMarkPaidMatchesHandPaddedRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plates_log.csv")
	// A hand-edited row with padding around every field still enumerates as
	// unpaid, so MarkPaid must match it the same way.
	content := "Plate Number,Payment Status,Timestamp,Payment Timestamp\n" +
		"RAB123C , 0 , 2024-01-01 10:00:00 ,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	j, err := Open(path)
	require.NoError(t, err)

	unpaid, err := j.UnpaidByPlate("RAB123C")
	require.NoError(t, err)
	require.Len(t, unpaid, 1)

	require.NoError(t, j.MarkPaid("RAB123C", []time.Time{unpaid[0].EntryTime}, entryAt(t, "2024-01-01 11:00:00")))

	unpaid, err = j.UnpaidByPlate("RAB123C")
	require.NoError(t, err)
	assert.Empty(t, unpaid)
}

func TestRestorePreservesRowsAppendedAfterSnapshot(t *testing.T) {
	j := tempJournal(t)
	first := entryAt(t, "2024-01-01 10:00:00")
	require.NoError(t, j.Append(Record{Plate: "RAB123C", EntryTime: first}))

	snapshot, err := j.Snapshot()
	require.NoError(t, err)

	// A settlement mutates the file, then the entry lane admits another
	// vehicle before the settlement aborts and rolls back.
	require.NoError(t, j.MarkPaid("RAB123C", []time.Time{first}, entryAt(t, "2024-01-01 11:00:00")))
	later := entryAt(t, "2024-01-01 11:30:00")
	require.NoError(t, j.Append(Record{Plate: "RAX999Z", EntryTime: later}))

	require.NoError(t, j.Restore(snapshot))

	unpaid, err := j.UnpaidByPlate("RAB123C")
	require.NoError(t, err)
	require.Len(t, unpaid, 1, "rollback must undo the payment flip")

	latest, err := j.LatestByPlate("RAX999Z")
	require.NoError(t, err)
	assert.True(t, latest.EntryTime.Equal(later), "rollback must not erase the row appended after the snapshot")
}

func TestToleratesRaggedAndBlankRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plates_log.csv")
	content := "Plate Number,Payment Status,Timestamp,Payment Timestamp\n" +
		"RAB123C,0,2024-01-01 10:00:00\n" + // short row, no payment column
		",0,2024-01-01 10:05:00,\n" + // blank plate
		"RAX999Z,0,not-a-timestamp,\n" + // unparseable entry time
		"RAC456D,1,2024-01-01 09:00:00,2024-01-01 09:30:00\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	j, err := Open(path)
	require.NoError(t, err)

	records, err := j.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "RAB123C", records[0].Plate)
	assert.False(t, records[0].Paid)
	assert.Equal(t, "RAC456D", records[1].Plate)
	assert.True(t, records[1].Paid)

	// Short rows are still updatable once padded.
	require.NoError(t, j.MarkPaid("RAB123C", []time.Time{records[0].EntryTime}, records[1].PaymentTime))
	unpaid, err := j.UnpaidByPlate("RAB123C")
	require.NoError(t, err)
	assert.Empty(t, unpaid)
}
