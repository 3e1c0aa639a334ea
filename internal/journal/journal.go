// Package journal maintains the append-only CSV transaction log that mirrors
// every entry event and payment transition. The file is the durable,
// human-auditable authority the reconciler replays into the relational store.
//
// The lane agent and the payment terminal are separate processes sharing one
// file, so every operation holds an exclusive advisory lock on a sibling
// .lock file for its duration. Mutations follow a read-entire/rewrite-entire
// discipline with an atomic temp-file-and-rename replace; a byte snapshot
// taken before a mutation can be restored if the surrounding transaction
// aborts, and Restore re-appends any rows another process added after the
// snapshot was taken.
package journal

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// TimeLayout is the timestamp format used inside the journal file.
const TimeLayout = "2006-01-02 15:04:05"

var header = []string{"Plate Number", "Payment Status", "Timestamp", "Payment Timestamp"}

// ErrNoRecord reports that no row exists for the requested plate.
var ErrNoRecord = errors.New("journal: no record")

// Record is one flat journal row.
type Record struct {
	Plate       string
	Paid        bool
	EntryTime   time.Time
	PaymentTime time.Time // zero while unpaid
}

// Journal accesses the shared log file. The internal mutex serializes
// goroutines within one process; the flock taken per operation serializes the
// lane agent against the payment terminal, which mutate the same file from
// different processes.
type Journal struct {
	mu   sync.Mutex
	path string
}

// Open returns a journal backed by path, creating the file with its header row
// when absent.
func Open(path string) (*Journal, error) {
	j := &Journal{path: path}
	j.mu.Lock()
	defer j.mu.Unlock()

	lock, err := j.acquireFileLock()
	if err != nil {
		return nil, err
	}
	defer releaseFileLock(lock)

	if _, err := os.Stat(path); err == nil {
		return j, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("journal: stat: %w", err)
	}

	if err := j.writeRows(nil); err != nil {
		return nil, err
	}
	return j, nil
}

// acquireFileLock takes the exclusive cross-process lock, blocking until the
// peer process finishes its current operation.
func (j *Journal) acquireFileLock() (*os.File, error) {
	f, err := os.OpenFile(j.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("journal: lock: %w", err)
	}
	return f, nil
}

func releaseFileLock(f *os.File) {
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	_ = f.Close()
}

// Path returns the backing file path.
func (j *Journal) Path() string {
	return j.path
}

// Append adds one entry-event row to the end of the file.
func (j *Journal) Append(rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	lock, err := j.acquireFileLock()
	if err != nil {
		return err
	}
	defer releaseFileLock(lock)

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open for append: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(encodeRecord(rec)); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("journal: append flush: %w", err)
	}
	return f.Sync()
}

// Records returns every parseable row in file order. Rows with a blank plate or
// an unparseable entry timestamp are skipped; they stay in the file untouched.
func (j *Journal) Records() ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	lock, err := j.acquireFileLock()
	if err != nil {
		return nil, err
	}
	defer releaseFileLock(lock)

	rows, err := j.readRows()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, ok := decodeRecord(row)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// UnpaidByPlate returns all unpaid rows for the plate, oldest first. A vehicle
// may accumulate several unpaid crossings; settlement collects them all.
func (j *Journal) UnpaidByPlate(plate string) ([]Record, error) {
	all, err := j.Records()
	if err != nil {
		return nil, err
	}
	var unpaid []Record
	for _, rec := range all {
		if rec.Plate == plate && !rec.Paid {
			unpaid = append(unpaid, rec)
		}
	}
	return unpaid, nil
}

// LatestByPlate returns the most recent row for the plate, or ErrNoRecord.
func (j *Journal) LatestByPlate(plate string) (Record, error) {
	all, err := j.Records()
	if err != nil {
		return Record{}, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Plate == plate {
			return all[i], nil
		}
	}
	return Record{}, ErrNoRecord
}

// MarkPaid flips the matching plate+entry-time rows to paid with the shared
// payment timestamp, rewriting the whole file atomically.
func (j *Journal) MarkPaid(plate string, entryTimes []time.Time, paymentTime time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	lock, err := j.acquireFileLock()
	if err != nil {
		return err
	}
	defer releaseFileLock(lock)

	rows, err := j.readRows()
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(entryTimes))
	for _, et := range entryTimes {
		wanted[et.Format(TimeLayout)] = true
	}

	updated := 0
	for i, row := range rows {
		// Trimmed like decodeRecord, so hand-padded rows that enumerate as
		// unpaid are also matchable here.
		if strings.TrimSpace(row[0]) != plate || strings.TrimSpace(row[1]) != "0" {
			continue
		}
		if !wanted[strings.TrimSpace(row[2])] {
			continue
		}
		rows[i][1] = "1"
		rows[i][3] = paymentTime.Format(TimeLayout)
		updated++
	}
	if updated == 0 {
		return ErrNoRecord
	}
	return j.writeRows(rows)
}

// Snapshot captures the whole file byte-for-byte, taken before any settlement
// mutation so a failed commit can restore it verbatim.
func (j *Journal) Snapshot() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	lock, err := j.acquireFileLock()
	if err != nil {
		return nil, err
	}
	defer releaseFileLock(lock)

	data, err := os.ReadFile(j.path)
	if err != nil {
		return nil, fmt.Errorf("journal: snapshot: %w", err)
	}
	return data, nil
}

// Restore rolls the file back to a previously captured snapshot. Rows the
// current file holds beyond the snapshot's row count are appends made by the
// peer process after the snapshot was taken; they are carried over so a
// rollback never erases another lane's entry events.
func (j *Journal) Restore(snapshot []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	lock, err := j.acquireFileLock()
	if err != nil {
		return err
	}
	defer releaseFileLock(lock)

	current, err := j.readRows()
	if err != nil {
		return err
	}
	snapRows, err := parseRows(bytes.NewReader(snapshot))
	if err != nil {
		return err
	}
	if len(current) <= len(snapRows) {
		return j.replace(snapshot)
	}

	var sb strings.Builder
	sb.Write(snapshot)
	if len(snapshot) > 0 && snapshot[len(snapshot)-1] != '\n' {
		sb.WriteByte('\n')
	}
	w := csv.NewWriter(&sb)
	if err := w.WriteAll(current[len(snapRows):]); err != nil {
		return fmt.Errorf("journal: encode appended rows: %w", err)
	}
	return j.replace([]byte(sb.String()))
}

// readRows loads all data rows, padding or trimming each to the header width
// and dropping blank-plate lines, mirroring the tolerant parse the settlement
// path has always used on this file.
func (j *Journal) readRows() ([][]string, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	defer f.Close()
	return parseRows(f)
}

func parseRows(src io.Reader) ([][]string, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	raw, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("journal: read: %w", err)
	}
	if len(raw) <= 1 {
		return nil, nil
	}

	width := len(header)
	rows := make([][]string, 0, len(raw)-1)
	for _, row := range raw[1:] {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		for len(row) < width {
			row = append(row, "")
		}
		rows = append(rows, row[:width])
	}
	return rows, nil
}

func (j *Journal) writeRows(rows [][]string) error {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("journal: encode header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("journal: encode rows: %w", err)
	}
	return j.replace([]byte(sb.String()))
}

// replace writes content to a temp file in the same directory and renames it
// over the journal, so readers never observe a partially written file.
func (j *Journal) replace(content []byte) error {
	dir := filepath.Dir(j.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(j.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("journal: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("journal: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("journal: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("journal: close temp: %w", err)
	}
	if err := os.Rename(tmpName, j.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("journal: replace: %w", err)
	}
	return nil
}

func encodeRecord(rec Record) []string {
	status := "0"
	payTS := ""
	if rec.Paid {
		status = "1"
		payTS = rec.PaymentTime.Format(TimeLayout)
	}
	return []string{rec.Plate, status, rec.EntryTime.Format(TimeLayout), payTS}
}

func decodeRecord(row []string) (Record, bool) {
	entry, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(row[2]), time.Local)
	if err != nil {
		return Record{}, false
	}
	rec := Record{
		Plate:     strings.TrimSpace(row[0]),
		Paid:      strings.TrimSpace(row[1]) == "1",
		EntryTime: entry,
	}
	if rec.Paid {
		if ts, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(row[3]), time.Local); err == nil {
			rec.PaymentTime = ts
		}
	}
	return rec, true
}
