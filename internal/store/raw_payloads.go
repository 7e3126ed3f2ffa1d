package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// RawPayload represents a stored API response payload.
type RawPayload struct {
	ID                int64
	FetchRunID        sql.NullInt64
	FetchedAt         time.Time
	Source            string
	Endpoint          string
	ArrayName         sql.NullString
	PayloadCompressed []byte
	PayloadHash       string
	SchemaVersion     int
}

// Payload decompresses the stored body.
func (p *RawPayload) Payload() ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(p.PayloadCompressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

// StoreRawPayload stores a compressed API response payload.
// Returns the payload ID, or 0 if the same body is already stored for this
// source, endpoint and array, in which case that row's fetched_at is bumped.
func (s *Store) StoreRawPayload(runID *int64, source, endpoint string, arrayName *string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}
	compressed := buf.Bytes()

	hash := sha256.Sum256(payload)
	hashHex := hex.EncodeToString(hash[:])

	var fetchRunID sql.NullInt64
	if runID != nil {
		fetchRunID = sql.NullInt64{Int64: *runID, Valid: true}
	}
	var arrayNull sql.NullString
	if arrayName != nil {
		arrayNull = sql.NullString{String: *arrayName, Valid: true}
	}

	now := time.Now().UTC()
	result, err := s.db.Exec(`
		INSERT INTO raw_payloads
		(fetch_run_id, fetched_at, source, endpoint, array_name,
		 payload_compressed, payload_hash, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT DO NOTHING
	`, fetchRunID, now, source, endpoint, arrayNull, compressed, hashHex)
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		if _, err := s.db.Exec(`
			UPDATE raw_payloads SET fetched_at = ?
			WHERE source = ? AND endpoint = ? AND COALESCE(array_name, '') = ? AND payload_hash = ?
		`, now, source, endpoint, arrayNull.String, hashHex); err != nil {
			return 0, fmt.Errorf("touch raw payload: %w", err)
		}
		return 0, nil
	}

	return result.LastInsertId()
}

// GetRawPayload retrieves and decompresses a stored payload by ID.
func (s *Store) GetRawPayload(id int64) ([]byte, error) {
	var p RawPayload
	err := s.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).
		Scan(&p.PayloadCompressed)
	if err != nil {
		return nil, err
	}
	return p.Payload()
}

// LatestRawPayload returns the most recently fetched payload for a source,
// endpoint and array, or nil when none is stored.
func (s *Store) LatestRawPayload(source, endpoint, arrayName string) (*RawPayload, error) {
	row := s.db.QueryRow(`
		SELECT id, fetch_run_id, fetched_at, source, endpoint, array_name,
		       payload_compressed, payload_hash, schema_version
		FROM raw_payloads
		WHERE source = ? AND endpoint = ? AND array_name = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, source, endpoint, arrayName)

	var p RawPayload
	err := row.Scan(&p.ID, &p.FetchRunID, &p.FetchedAt, &p.Source, &p.Endpoint,
		&p.ArrayName, &p.PayloadCompressed, &p.PayloadHash, &p.SchemaVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RawPayloadStats contains storage statistics for raw payloads.
type RawPayloadStats struct {
	TotalCount      int
	TotalSizeBytes  int64
	OldestFetchedAt time.Time
	NewestFetchedAt time.Time
	CountBySource   map[string]int
	SizeBySource    map[string]int64
}

// GetRawPayloadStats returns storage statistics for raw payloads.
func (s *Store) GetRawPayloadStats() (*RawPayloadStats, error) {
	stats := &RawPayloadStats{
		CountBySource: make(map[string]int),
		SizeBySource:  make(map[string]int64),
	}

	var count int
	var size int64
	if err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0)
		FROM raw_payloads
	`).Scan(&count, &size); err != nil {
		return nil, err
	}
	stats.TotalCount = count
	stats.TotalSizeBytes = size
	if count > 0 {
		if err := s.db.QueryRow(`SELECT fetched_at FROM raw_payloads ORDER BY fetched_at ASC LIMIT 1`).Scan(&stats.OldestFetchedAt); err != nil {
			return nil, err
		}
		if err := s.db.QueryRow(`SELECT fetched_at FROM raw_payloads ORDER BY fetched_at DESC LIMIT 1`).Scan(&stats.NewestFetchedAt); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.Query(`
		SELECT source, COUNT(*), SUM(LENGTH(payload_compressed))
		FROM raw_payloads
		GROUP BY source
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var count int
		var size int64
		if err := rows.Scan(&source, &count, &size); err != nil {
			return nil, err
		}
		stats.CountBySource[source] = count
		stats.SizeBySource[source] = size
	}

	return stats, rows.Err()
}

// CleanupOldRawPayloads deletes raw payloads older than the specified number
// of days, keeping the newest payload of every source, endpoint and array.
// Returns the number of deleted records.
func (s *Store) CleanupOldRawPayloads(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM raw_payloads
		WHERE fetched_at < DATE('now', '-' || ? || ' days')
		  AND id NOT IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY source, endpoint, COALESCE(array_name, '')
					ORDER BY fetched_at DESC, id DESC
				) AS rn
				FROM raw_payloads
			) WHERE rn = 1
		  )
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
