package routes

import (
	"bytes"
	"net/http"
	"strings"
)

type denyReportEntry struct {
	Address      string `json:"address"`
	Username     string `json:"username,omitempty"`
	FID          uint64 `json:"fid,omitempty"`
	AmountStolen uint64 `json:"amountStolen"`
	Claims       uint32 `json:"claims"`
}

// handleDenyList publishes the exploiter report: who is barred and how much
// they extracted before the list caught up with them.
func (s *Server) handleDenyList(w http.ResponseWriter, r *http.Request) {
	deny := s.engine.Gate().DenyList()
	entries := deny.Entries()
	report := make([]denyReportEntry, 0, len(entries))
	var totalStolen uint64
	for _, entry := range entries {
		report = append(report, denyReportEntry{
			Address:      entry.Address,
			Username:     entry.Username,
			FID:          entry.FID,
			AmountStolen: entry.AmountStolen,
			Claims:       entry.Claims,
		})
		totalStolen += entry.AmountStolen
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":     report,
		"count":       len(report),
		"totalStolen": totalStolen,
	})
}

// handleAuditExport streams the audit trail as CSV (default) or writes a
// parquet file into the export directory and returns its location.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "exports not configured", Code: "not_configured"})
		return
	}
	addr, err := parseAddress(r.URL.Query().Get("address"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	switch format {
	case "", "csv":
		var buf bytes.Buffer
		result, err := s.exporter.WriteCSV(&buf, addr)
		if err != nil {
			s.logger.Error("audit csv export", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "export failed", Code: "internal"})
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("X-Checksum-Sha256", result.Checksum)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	case "parquet":
		result, err := s.exporter.WriteParquet(addr)
		if err != nil {
			s.logger.Error("audit parquet export", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "export failed", Code: "internal"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"path":     result.Path,
			"rows":     result.Rows,
			"checksum": result.Checksum,
		})
	default:
		writeBadRequest(w, "format must be csv or parquet")
	}
}
