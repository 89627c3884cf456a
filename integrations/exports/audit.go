package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"vbmsd/native/ledger"
)

// AuditExporter materialises per-address audit trails for the compliance
// workflow: CSV for spreadsheets, parquet for the analytics warehouse. Every
// export carries a SHA-256 checksum so a consumer can prove integrity.
type AuditExporter struct {
	ledger *ledger.Ledger
	dir    string
	now    func() time.Time
}

// NewAuditExporter builds an exporter writing parquet files into dir.
func NewAuditExporter(l *ledger.Ledger, dir string) *AuditExporter {
	return &AuditExporter{ledger: l, dir: dir, now: time.Now}
}

// SetNowFunc overrides the clock used for export filenames.
func (e *AuditExporter) SetNowFunc(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Result describes a completed export.
type Result struct {
	Path     string
	Rows     int
	Checksum string
}

var csvHeader = []string{
	"address", "type", "amount", "balance_before", "balance_after",
	"source", "source_id", "tx_hash", "nonce", "reason", "timestamp",
}

// WriteCSV serialises the full audit trail for an address and returns the row
// count plus the checksum of the payload written to w.
func (e *AuditExporter) WriteCSV(w io.Writer, addr [20]byte) (*Result, error) {
	if e == nil || e.ledger == nil {
		return nil, fmt.Errorf("exports: exporter not configured")
	}
	entries, err := e.ledger.AuditTrail(addr, "", 0)
	if err != nil {
		return nil, err
	}
	buffer := &bytes.Buffer{}
	cw := csv.NewWriter(buffer)
	if err := cw.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		record := []string{
			ledger.FormatAddress(entry.Address),
			string(entry.Type),
			entry.Amount.String(),
			entry.BalanceBefore.String(),
			entry.BalanceAfter.String(),
			entry.Source,
			entry.SourceID,
			entry.TxHash,
			entry.Nonce,
			entry.Reason,
			strconv.FormatInt(entry.Timestamp, 10),
		}
		if err := cw.Write(record); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	data := buffer.Bytes()
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	checksum := sha256.Sum256(data)
	return &Result{Rows: len(entries), Checksum: hex.EncodeToString(checksum[:])}, nil
}

type parquetAuditRow struct {
	Address       string `parquet:"name=address, type=UTF8"`
	Type          string `parquet:"name=type, type=UTF8"`
	Amount        string `parquet:"name=amount, type=UTF8"`
	BalanceBefore string `parquet:"name=balance_before, type=UTF8"`
	BalanceAfter  string `parquet:"name=balance_after, type=UTF8"`
	Source        string `parquet:"name=source, type=UTF8"`
	SourceID      string `parquet:"name=source_id, type=UTF8"`
	TxHash        string `parquet:"name=tx_hash, type=UTF8"`
	Nonce         string `parquet:"name=nonce, type=UTF8"`
	Reason        string `parquet:"name=reason, type=UTF8"`
	Timestamp     int64  `parquet:"name=timestamp, type=INT64"`
}

// WriteParquet materialises the audit trail as a snappy-compressed parquet
// file in the export directory and returns its path.
func (e *AuditExporter) WriteParquet(addr [20]byte) (*Result, error) {
	if e == nil || e.ledger == nil {
		return nil, fmt.Errorf("exports: exporter not configured")
	}
	if e.dir == "" {
		return nil, fmt.Errorf("exports: output directory not configured")
	}
	entries, err := e.ledger.AuditTrail(addr, "", 0)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("exports: create output dir: %w", err)
	}
	filename := fmt.Sprintf("audit-%s-%d.parquet", ledger.FormatAddress(addr), e.now().UTC().Unix())
	path := filepath.Join(e.dir, filename)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetAuditRow), 1)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, entry := range entries {
		row := &parquetAuditRow{
			Address:       ledger.FormatAddress(entry.Address),
			Type:          string(entry.Type),
			Amount:        entry.Amount.String(),
			BalanceBefore: entry.BalanceBefore.String(),
			BalanceAfter:  entry.BalanceAfter.String(),
			Source:        entry.Source,
			SourceID:      entry.SourceID,
			TxHash:        entry.TxHash,
			Nonce:         entry.Nonce,
			Reason:        entry.Reason,
			Timestamp:     entry.Timestamp,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return nil, fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return nil, fmt.Errorf("exports: parquet finish: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, err
	}
	checksum, err := fileChecksum(path)
	if err != nil {
		return nil, err
	}
	return &Result{Path: path, Rows: len(entries), Checksum: checksum}, nil
}

func fileChecksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
