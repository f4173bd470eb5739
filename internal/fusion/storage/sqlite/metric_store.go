// Package sqlite persists inference runs and their per-frame metrics.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/decarlof/XFusion/internal/fusion"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is a persisted inference run row with its summary statistics.
type Run struct {
	RunID         string
	TestSet       string
	LoFrameSep    int
	HiFrameSep    int
	B0            int
	Rank          int
	WorldSize     int
	Seed          int64
	Frames        int
	PerfectFrames int
	PSNRMean      float64
	PSNRStdDev    float64
	AADMean       float64
	AADStdDev     float64
	SSIMMean      float64
	SSIMStdDev    float64
	CreatedAt     int64
}

// MetricStore provides sqlite persistence for runs and frame metrics.
type MetricStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*MetricStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metrics db: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &MetricStore{db: db}, nil
}

// Close closes the underlying database.
func (s *MetricStore) Close() error { return s.db.Close() }

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// InsertRun persists a run row. If RunID is empty, a UUID is generated.
func (s *MetricStore) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO inference_runs (
				run_id, test_set, lo_frame_sep, hi_frame_sep, b0,
				rank, world_size, seed, frames, perfect_frames,
				psnr_mean, psnr_stddev, aad_mean, aad_stddev,
				ssim_mean, ssim_stddev, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.TestSet, run.LoFrameSep, run.HiFrameSep, run.B0,
			run.Rank, run.WorldSize, run.Seed, run.Frames, run.PerfectFrames,
			finiteOrNull(run.PSNRMean), finiteOrNull(run.PSNRStdDev),
			finiteOrNull(run.AADMean), finiteOrNull(run.AADStdDev),
			finiteOrNull(run.SSIMMean), finiteOrNull(run.SSIMStdDev),
			run.CreatedAt,
		)
		return err
	})
}

// InsertFrameMetric persists one processed index for a run. An infinite
// PSNR (zero-error frame) is stored as NULL.
func (s *MetricStore) InsertFrameMetric(runID string, rec fusion.MetricRecord) error {
	att, err := json.Marshal(rec.Attention)
	if err != nil {
		return fmt.Errorf("marshal attention: %w", err)
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO frame_metrics (
				run_id, frame_idx, source_path, psnr, aad, ssim, attention_json, mask
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, rec.Index, rec.SourcePath,
			finiteOrNull(rec.PSNR), rec.AAD, rec.SSIM, string(att), rec.Boundary,
		)
		return err
	})
}

// FrameMetrics returns all frame rows of a run in index order. A NULL psnr
// reads back as +Inf.
func (s *MetricStore) FrameMetrics(runID string) ([]fusion.MetricRecord, error) {
	rows, err := s.db.Query(`
		SELECT frame_idx, source_path, psnr, aad, ssim, attention_json, mask
		FROM frame_metrics WHERE run_id = ? ORDER BY frame_idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("query frame metrics: %w", err)
	}
	defer rows.Close()

	var out []fusion.MetricRecord
	for rows.Next() {
		var rec fusion.MetricRecord
		var psnr sql.NullFloat64
		var att string
		if err := rows.Scan(&rec.Index, &rec.SourcePath, &psnr, &rec.AAD, &rec.SSIM, &att, &rec.Boundary); err != nil {
			return nil, fmt.Errorf("scan frame metric: %w", err)
		}
		if psnr.Valid {
			rec.PSNR = psnr.Float64
		} else {
			rec.PSNR = math.Inf(1)
		}
		if err := json.Unmarshal([]byte(att), &rec.Attention); err != nil {
			return nil, fmt.Errorf("unmarshal attention: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRun fetches a run row by id.
func (s *MetricStore) GetRun(runID string) (*Run, error) {
	var run Run
	var psnrMean, psnrStd, aadMean, aadStd, ssimMean, ssimStd sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT run_id, test_set, lo_frame_sep, hi_frame_sep, b0,
			rank, world_size, seed, frames, perfect_frames,
			psnr_mean, psnr_stddev, aad_mean, aad_stddev,
			ssim_mean, ssim_stddev, created_at
		FROM inference_runs WHERE run_id = ?`, runID).Scan(
		&run.RunID, &run.TestSet, &run.LoFrameSep, &run.HiFrameSep, &run.B0,
		&run.Rank, &run.WorldSize, &run.Seed, &run.Frames, &run.PerfectFrames,
		&psnrMean, &psnrStd, &aadMean, &aadStd, &ssimMean, &ssimStd,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	run.PSNRMean = psnrMean.Float64
	run.PSNRStdDev = psnrStd.Float64
	run.AADMean = aadMean.Float64
	run.AADStdDev = aadStd.Float64
	run.SSIMMean = ssimMean.Float64
	run.SSIMStdDev = ssimStd.Float64
	return &run, nil
}

// finiteOrNull maps non-finite floats to NULL so sqlite REAL columns stay
// well-defined.
func finiteOrNull(v float64) interface{} {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}

// isSQLiteBusy reports whether err is a transient SQLITE_BUSY failure.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy retries fn a few times with backoff when the database is
// locked by a concurrent writer.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 5
	delay := 10 * time.Millisecond
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}
