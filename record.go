package qnetsim

// record.go holds the recorders that store the statistics of every run of an
// experiment: a CSV writer and a SQLite database, both buffering their
// records and writing them out in batches.

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
)

// RunRecord identifies a run within its experiment and carries its statistics
type RunRecord struct {
	ExpName string
	Model   string
	Param   string
	Value   string
	Stats   *RunStats
}

// Recorder stores run records
type Recorder interface {
	Record(rec RunRecord) error
	Flush() error
	Close() error
}

// delayPercentiles returns the median, 95th and 99th percentile delays, NaN when nothing was sent
func delayPercentiles(rs *RunStats) (median, p95, p99 float64) {
	median, err := rs.MedianDelay()
	if err != nil {
		median = math.NaN()
	}
	p95, err = rs.DelayPercentile(95)
	if err != nil {
		p95 = math.NaN()
	}
	p99, err = rs.DelayPercentile(99)
	if err != nil {
		p99 = math.NaN()
	}
	return median, p95, p99
}

const csvRunHeader = "expname,model,param,value,runid,seed,arrivals,rejected,transmitted,buffered," +
	"bitssent,elapsed,lossrate,throughput,meandelay,mediandelay,p95delay,p99delay,highwater,utilization\n"

// CSVRecorder writes one line per run to an io.Writer
type CSVRecorder struct {
	w          io.Writer
	recs       []RunRecord
	bufferSize int
	wroteHdr   bool
}

// CreateCSVRecorder is a constructor.  The header line is written with the first flush.
func CreateCSVRecorder(w io.Writer) *CSVRecorder {
	return &CSVRecorder{w: w, bufferSize: 1000}
}

func (r *CSVRecorder) Record(rec RunRecord) error {
	r.recs = append(r.recs, rec)
	if len(r.recs) >= r.bufferSize {
		return r.Flush()
	}
	return nil
}

func (r *CSVRecorder) Flush() error {
	if !r.wroteHdr {
		if _, err := io.WriteString(r.w, csvRunHeader); err != nil {
			return err
		}
		r.wroteHdr = true
	}
	for _, rec := range r.recs {
		rs := rec.Stats
		median, p95, p99 := delayPercentiles(rs)
		_, err := fmt.Fprintf(r.w, "%s,%s,%s,%s,%s,%d,%d,%d,%d,%d,%d,%g,%.5f,%.2f,%g,%g,%g,%g,%d,%.5f\n",
			rec.ExpName, rec.Model, rec.Param, rec.Value, rs.RunID, rs.Seed,
			rs.Arrivals, rs.Rejected, rs.Transmitted, rs.Buffered, rs.BitsSent, rs.Elapsed,
			rs.LossRate(), rs.ThroughputBps(), rs.MeanDelay(), median, p95, p99, rs.HighWater, rs.Utilization)
		if err != nil {
			return err
		}
	}
	r.recs = nil
	return nil
}

func (r *CSVRecorder) Close() error {
	return r.Flush()
}

// SQLiteRecorder writes runs to the table runs of a SQLite database
type SQLiteRecorder struct {
	*sql.DB
	statement *sql.Stmt
	dbName    string
	toWrite   []RunRecord
	batchSize int
}

// CreateSQLiteRecorder opens (creating if needed) the database file at path.
// An empty path gives a new file named after a fresh xid.
func CreateSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	if path == "" {
		path = "qnetsim_" + xid.New().String() + ".sqlite3"
	}
	r := &SQLiteRecorder{dbName: path, batchSize: 10000}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	r.DB = db

	if err := r.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	r.statement, err = r.Prepare(`INSERT INTO runs VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Name returns the path of the database file
func (r *SQLiteRecorder) Name() string {
	return r.dbName
}

func (r *SQLiteRecorder) createTable() error {
	_, err := r.Exec(`CREATE TABLE IF NOT EXISTS runs (
		runid       TEXT PRIMARY KEY,
		expname     TEXT,
		model       TEXT,
		param       TEXT,
		value       TEXT,
		seed        INTEGER,
		arrivals    INTEGER,
		rejected    INTEGER,
		transmitted INTEGER,
		buffered    INTEGER,
		bitssent    INTEGER,
		elapsed     REAL,
		lossrate    REAL,
		throughput  REAL,
		meandelay   REAL,
		mediandelay REAL,
		p95delay    REAL,
		p99delay    REAL,
		highwater   INTEGER,
		utilization REAL
	)`)
	return err
}

func (r *SQLiteRecorder) Record(rec RunRecord) error {
	r.toWrite = append(r.toWrite, rec)
	if len(r.toWrite) >= r.batchSize {
		return r.Flush()
	}
	return nil
}

// nullable stores NaN as SQL NULL
func nullable(x float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: x, Valid: !math.IsNaN(x)}
}

// Flush writes the buffered runs in one transaction
func (r *SQLiteRecorder) Flush() error {
	if len(r.toWrite) == 0 {
		return nil
	}
	tx, err := r.Begin()
	if err != nil {
		return err
	}
	stmt := tx.Stmt(r.statement)
	for _, rec := range r.toWrite {
		rs := rec.Stats
		median, p95, p99 := delayPercentiles(rs)
		_, err = stmt.Exec(rs.RunID, rec.ExpName, rec.Model, rec.Param, rec.Value, int64(rs.Seed),
			rs.Arrivals, rs.Rejected, rs.Transmitted, rs.Buffered, rs.BitsSent, rs.Elapsed,
			nullable(rs.LossRate()), nullable(rs.ThroughputBps()), nullable(rs.MeanDelay()),
			nullable(median), nullable(p95), nullable(p99), rs.HighWater, rs.Utilization)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("recording run %s: %w", rs.RunID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	r.toWrite = nil
	return nil
}

// Close flushes the buffered runs and closes the database
func (r *SQLiteRecorder) Close() error {
	return errors.Join(r.Flush(), r.statement.Close(), r.DB.Close())
}

// WriteSweepCSV writes one line per sweep point: the swept value and the means
// of the run statistics across seeds, with the 95% half widths of the rates
func WriteSweepCSV(w io.Writer, param string, points []SweepPoint) error {
	_, err := fmt.Fprintf(w, "%s,runs,lossrate,lossrate_hw,throughput,throughput_hw,rejected,transmitted,meandelay\n", param)
	if err != nil {
		return err
	}
	for _, pt := range points {
		_, err = fmt.Fprintf(w, "%s,%d,%.5f,%.5f,%.2f,%.2f,%.3f,%.3f,%g\n",
			pt.Value, len(pt.Runs), pt.LossRate.Mean, pt.LossRate.HalfWidth,
			pt.Throughput.Mean, pt.Throughput.HalfWidth, pt.Rejected.Mean, pt.Transmitted.Mean, pt.MeanDelay.Mean)
		if err != nil {
			return err
		}
	}
	return nil
}
