package qnetsim

import (
	"bytes"
	"database/sql"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleRun(runID string, arrivals int64) *RunStats {
	rs := &RunStats{RunID: runID, Seed: 42, Elapsed: 10}
	for idx := int64(0); idx < arrivals; idx++ {
		rs.recordArrival()
		rs.recordDeparture(&Packet{SizeBits: 1000, ArrTime: float64(idx)}, float64(idx)+0.5)
	}
	return rs
}

func TestCSVRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := CreateCSVRecorder(&buf)
	require.NoError(t, rec.Record(RunRecord{ExpName: "exp", Model: LossModel, Param: "capacity", Value: "3", Stats: sampleRun("a", 4)}))
	require.Empty(t, buf.String())
	require.NoError(t, rec.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	fields := strings.Split(lines[1], ",")
	require.Len(t, fields, strings.Count(csvRunHeader, ",")+1)
	require.Equal(t, []string{"exp", "loss", "capacity", "3", "a", "42", "4"}, fields[:7])
	require.Equal(t, "0.00000", fields[12])
}

func TestSQLiteRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.sqlite3")
	rec, err := CreateSQLiteRecorder(path)
	require.NoError(t, err)
	require.Equal(t, path, rec.Name())

	require.NoError(t, rec.Record(RunRecord{ExpName: "exp", Model: LossModel, Param: "capacity", Value: "1", Stats: sampleRun("a", 3)}))
	require.NoError(t, rec.Record(RunRecord{ExpName: "exp", Model: LossModel, Param: "capacity", Value: "2", Stats: sampleRun("b", 0)}))
	require.NoError(t, rec.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count))
	require.Equal(t, 2, count)

	var transmitted int64
	var meanDelay sql.NullFloat64
	require.NoError(t, db.QueryRow("SELECT transmitted, meandelay FROM runs WHERE runid = 'a'").Scan(&transmitted, &meanDelay))
	require.Equal(t, int64(3), transmitted)
	require.True(t, meanDelay.Valid)
	require.InDelta(t, 0.5, meanDelay.Float64, 1e-12)

	var p95 sql.NullFloat64
	require.NoError(t, db.QueryRow("SELECT p95delay FROM runs WHERE runid = 'a'").Scan(&p95))
	require.True(t, p95.Valid)
	require.InDelta(t, 0.5, p95.Float64, 1e-12)

	// a closed recorder refuses further work
	require.NoError(t, rec.Record(RunRecord{Stats: sampleRun("c", 1)}))
	require.Error(t, rec.Flush())

	var lossRate sql.NullFloat64
	require.NoError(t, db.QueryRow("SELECT lossrate FROM runs WHERE runid = 'b'").Scan(&lossRate))
	require.False(t, lossRate.Valid)
}

func TestDelayPercentiles(t *testing.T) {
	median, p95, p99 := delayPercentiles(&RunStats{})
	require.True(t, math.IsNaN(median))
	require.True(t, math.IsNaN(p95))
	require.True(t, math.IsNaN(p99))

	rs := &RunStats{}
	for idx := 0; idx < 100; idx++ {
		rs.recordDeparture(&Packet{}, float64(idx+1))
	}
	median, p95, p99 = delayPercentiles(rs)
	require.InDelta(t, 50.5, median, 1e-9)
	require.InDelta(t, 95.0, p95, 1e-9)
	require.InDelta(t, 99.0, p99, 1e-9)
}
