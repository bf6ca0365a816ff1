// Package importer loads historical deposits from CSV exports of the old
// paper ledger. Rows bypass the lifecycle operations, so every row is
// checked against the deposit invariants before it is written.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bottlekeep/bottlekeep/internal/audit"
	"github.com/bottlekeep/bottlekeep/internal/deposits"
	"github.com/bottlekeep/bottlekeep/internal/shared"
)

// AuditPort appends the single batch entry after the import.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Importer parses and persists CSV rows.
type Importer struct {
	logger  *slog.Logger
	repo    deposits.Repository
	auditor AuditPort
}

// New wires the importer.
func New(logger *slog.Logger, repo deposits.Repository, auditor AuditPort) *Importer {
	return &Importer{logger: logger, repo: repo, auditor: auditor}
}

// RowError describes one rejected row. Line numbers are 1-based and include
// the header.
type RowError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// Report summarises one import run.
type Report struct {
	StoreID  int64      `json:"store_id"`
	Imported int        `json:"imported"`
	Failed   int        `json:"failed"`
	Errors   []RowError `json:"errors,omitempty"`
	Warning  *string    `json:"warning,omitempty"`
}

var expectedHeader = []string{
	"deposit_code", "customer_name", "customer_phone", "product_name", "category",
	"quantity", "remaining_qty", "status", "is_vip", "expiry_date", "received_by",
}

// Run imports all rows for one store. Bad rows are reported and skipped;
// good rows commit individually so a rejected row never rolls back the rest.
func (imp *Importer) Run(ctx context.Context, storeID int64, r io.Reader) (Report, error) {
	if storeID == 0 {
		return Report{}, shared.Validationf("store_id is required")
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return Report{}, shared.Validationf("cannot read CSV header: %v", err)
	}
	if err := checkHeader(header); err != nil {
		return Report{}, err
	}

	report := Report{StoreID: storeID}
	line := 1
	for {
		line++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, RowError{Line: line, Error: err.Error()})
			continue
		}

		deposit, err := parseRow(storeID, record)
		if err == nil {
			err = imp.insert(ctx, deposit)
		}
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, RowError{Line: line, Error: err.Error()})
			continue
		}
		report.Imported++
	}

	if err := imp.auditor.Record(ctx, audit.Entry{
		StoreID:   storeID,
		Action:    audit.ActionBulkImport,
		TableName: "deposits",
		RecordID:  storeID,
		NewValue: map[string]any{
			"imported": report.Imported,
			"failed":   report.Failed,
		},
	}); err != nil {
		imp.logger.Error("audit append failed for bulk import",
			slog.Int64("store_id", storeID),
			slog.Any("error", err))
		warning := (&shared.AuditWarning{Err: err}).Error()
		report.Warning = &warning
	}

	imp.logger.Info("bulk import finished",
		slog.Int64("store_id", storeID),
		slog.Int("imported", report.Imported),
		slog.Int("failed", report.Failed))
	return report, nil
}

func (imp *Importer) insert(ctx context.Context, deposit *deposits.Deposit) error {
	return imp.repo.WithTx(ctx, func(ctx context.Context, tx deposits.TxRepository) error {
		return tx.Insert(ctx, deposit)
	})
}

func checkHeader(header []string) error {
	if len(header) != len(expectedHeader) {
		return shared.Validationf("expected %d columns, got %d", len(expectedHeader), len(header))
	}
	for i, name := range expectedHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != name {
			return shared.Validationf("column %d must be %q, got %q", i+1, name, header[i])
		}
	}
	return nil
}

func parseRow(storeID int64, record []string) (*deposits.Deposit, error) {
	if len(record) != len(expectedHeader) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(expectedHeader), len(record))
	}
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}

	quantity, err := strconv.ParseFloat(record[5], 64)
	if err != nil {
		return nil, fmt.Errorf("bad quantity %q", record[5])
	}
	remaining, err := strconv.ParseFloat(record[6], 64)
	if err != nil {
		return nil, fmt.Errorf("bad remaining_qty %q", record[6])
	}
	status, err := deposits.ParseStatus(record[7])
	if err != nil {
		return nil, err
	}
	isVIP, err := strconv.ParseBool(record[8])
	if err != nil {
		return nil, fmt.Errorf("bad is_vip %q", record[8])
	}

	var expiry *time.Time
	if record[9] != "" {
		parsed, err := time.Parse("2006-01-02", record[9])
		if err != nil {
			return nil, fmt.Errorf("bad expiry_date %q", record[9])
		}
		expiry = &parsed
	}

	d := &deposits.Deposit{
		StoreID:      storeID,
		DepositCode:  record[0],
		CustomerName: record[1],
		ProductName:  record[3],
		Quantity:     quantity,
		RemainingQty: remaining,
		Status:       status,
		IsVIP:        isVIP,
		ExpiryDate:   expiry,
		ReceivedBy:   record[10],
	}
	if record[2] != "" {
		phone := record[2]
		d.CustomerPhone = &phone
	}
	if record[4] != "" {
		category := record[4]
		d.Category = &category
	}
	if d.DepositCode == "" || d.CustomerName == "" || d.ProductName == "" || d.ReceivedBy == "" {
		return nil, fmt.Errorf("deposit_code, customer_name, product_name and received_by are required")
	}
	d.Recompute()
	if err := d.CheckInvariants(); err != nil {
		return nil, err
	}
	return d, nil
}
