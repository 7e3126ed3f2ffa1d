package store

import (
	"database/sql"
	"time"
)

// FetchRun records one upstream request for auditing.
type FetchRun struct {
	ID                int64
	CycleID           sql.NullString
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Source            string // "pvgis", "open-meteo", weather entity id
	Endpoint          string // "seriescalc", "forecast/hourly", ...
	ArrayName         sql.NullString
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	RecordsParsed     sql.NullInt64
	ParseErrors       sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// StartFetchRun creates a new fetch run record and returns it.
func (s *Store) StartFetchRun(cycleID, source, endpoint string, arrayName *string) (*FetchRun, error) {
	run := &FetchRun{
		StartedAt: time.Now().UTC(),
		Source:    source,
		Endpoint:  endpoint,
	}
	if cycleID != "" {
		run.CycleID = sql.NullString{String: cycleID, Valid: true}
	}
	if arrayName != nil {
		run.ArrayName = sql.NullString{String: *arrayName, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO fetch_runs (cycle_id, started_at, source, endpoint, array_name, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, run.CycleID, run.StartedAt, run.Source, run.Endpoint, run.ArrayName)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteFetchRun updates the fetch run with results.
func (s *Store) CompleteFetchRun(run *FetchRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE fetch_runs SET
			finished_at = ?,
			http_status = ?,
			response_size_bytes = ?,
			records_parsed = ?,
			parse_errors = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.ResponseSizeBytes, run.RecordsParsed,
		run.ParseErrors, run.Success, run.ErrorMessage, run.ID)
	return err
}

// FetchHealthSummary is a per-day rollup of fetch runs.
type FetchHealthSummary struct {
	Date             string `json:"date"`
	Source           string `json:"source"`
	Endpoint         string `json:"endpoint"`
	TotalRuns        int    `json:"total_runs"`
	SuccessRuns      int    `json:"success_runs"`
	FailedRuns       int    `json:"failed_runs"`
	TotalRecords     int64  `json:"total_records"`
	TotalParseErrors int64  `json:"total_parse_errors"`
}

// GetFetchHealth returns fetch health summaries for the last N days.
func (s *Store) GetFetchHealth(days int) ([]FetchHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			source,
			endpoint,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			COALESCE(SUM(records_parsed), 0) as total_records,
			COALESCE(SUM(parse_errors), 0) as total_parse_errors
		FROM fetch_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, source, endpoint
		ORDER BY date DESC, source, endpoint
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchHealthSummary
	for rows.Next() {
		var h FetchHealthSummary
		if err := rows.Scan(&h.Date, &h.Source, &h.Endpoint, &h.TotalRuns,
			&h.SuccessRuns, &h.FailedRuns, &h.TotalRecords, &h.TotalParseErrors); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// GetRecentFetchRuns returns the latest fetch runs, newest first. With
// failedOnly only unsuccessful runs are returned.
func (s *Store) GetRecentFetchRuns(limit int, failedOnly bool) ([]FetchRun, error) {
	rows, err := s.db.Query(`
		SELECT id, cycle_id, started_at, finished_at, source, endpoint, array_name,
			   http_status, response_size_bytes, records_parsed, parse_errors,
			   success, error_message
		FROM fetch_runs
		WHERE (? = FALSE OR success = FALSE)
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, failedOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchRun
	for rows.Next() {
		var r FetchRun
		if err := rows.Scan(&r.ID, &r.CycleID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Endpoint,
			&r.ArrayName, &r.HTTPStatus, &r.ResponseSizeBytes, &r.RecordsParsed, &r.ParseErrors,
			&r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CleanupOldFetchRuns deletes fetch runs older than retentionDays that no
// stored payload refers to.
func (s *Store) CleanupOldFetchRuns(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM fetch_runs
		WHERE started_at < DATE('now', '-' || ? || ' days')
		  AND id NOT IN (SELECT fetch_run_id FROM raw_payloads WHERE fetch_run_id IS NOT NULL)
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
