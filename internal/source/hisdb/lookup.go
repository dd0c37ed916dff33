// Package hisdb resolves clinic-internal patient numbers directly from the
// HIS SQL Server when the clinic exposes it. It is an optional fast path:
// number-based patient location in the clinical UI is far more reliable than
// name search, so resolving the number up front saves a fragile navigation.
package hisdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver

	"github.com/medflow-ops/claimbridge/internal/shared/config"
	"github.com/medflow-ops/claimbridge/internal/shared/types"
)

// Lookup queries the HIS database for patient numbers.
type Lookup struct {
	db  *sql.DB
	cfg config.HISDBConfig
}

// Open connects to the HIS SQL Server and verifies the connection.
func Open(ctx context.Context, cfg config.HISDBConfig) (*Lookup, error) {
	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password)
	if cfg.SSLMode != "disable" {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open HIS database: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping HIS database: %w", err)
	}
	return &Lookup{db: db, cfg: cfg}, nil
}

// PatientNumber resolves the clinic-internal patient number for a national
// identity number. Returns "" with no error when the patient is unknown to
// the HIS; the caller falls back to name search.
func (l *Lookup) PatientNumber(ctx context.Context, patientID types.PatientID) (string, error) {
	query := fmt.Sprintf(
		`SELECT TOP 1 PatientNo FROM %s WHERE IdCardNo = @p1 ORDER BY UpdatedAt DESC`,
		l.cfg.PatientTable)

	var number string
	err := l.db.QueryRowContext(ctx, query, patientID.String()).Scan(&number)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("HIS patient lookup failed: %w", err)
	}
	return number, nil
}

// Close closes the database connection.
func (l *Lookup) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
