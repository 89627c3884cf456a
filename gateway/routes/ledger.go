package routes

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"vbmsd/native/ledger"
)

type mutateBalanceRequest struct {
	Address  string `json:"address"`
	Amount   string `json:"amount"`
	Source   string `json:"source"`
	SourceID string `json:"sourceId,omitempty"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// handleCredit grants coins earned in-game. Reserved for the authenticated
// game backend.
func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	s.mutateBalance(w, r, true)
}

// handleDebit consumes coins for in-game purchases.
func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	s.mutateBalance(w, r, false)
}

func (s *Server) mutateBalance(w http.ResponseWriter, r *http.Request, credit bool) {
	var req mutateBalanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil || amount == nil {
		writeBadRequest(w, "amount must be a positive decimal string")
		return
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		writeBadRequest(w, "source required")
		return
	}
	var acc *ledger.Account
	if credit {
		acc, err = s.engine.Ledger().Credit(addr, amount, source, req.SourceID)
	} else {
		acc, err = s.engine.Ledger().Debit(addr, amount, source, req.SourceID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Address: ledger.FormatAddress(addr),
		Balance: formatAmount(acc.Balance),
	})
}

type accountResponse struct {
	Address               string `json:"address"`
	Balance               string `json:"balance"`
	PendingAmount         string `json:"pendingAmount"`
	PendingSince          int64  `json:"pendingSince,omitempty"`
	ClaimedTokens         string `json:"claimedTokens"`
	LifetimeEarned        string `json:"lifetimeEarned"`
	LifetimeSpent         string `json:"lifetimeSpent"`
	LastClaim             int64  `json:"lastClaim,omitempty"`
	LastConversionAttempt int64  `json:"lastConversionAttempt,omitempty"`
	FID                   uint64 `json:"fid,omitempty"`
}

// handleAccount returns the player economy snapshot.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	acc, _, err := s.engine.Ledger().GetAccount(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := accountResponse{
		Address:               ledger.FormatAddress(addr),
		Balance:               formatAmount(acc.Balance),
		PendingAmount:         "0",
		ClaimedTokens:         formatAmount(acc.ClaimedTokens),
		LifetimeEarned:        formatAmount(acc.LifetimeEarned),
		LifetimeSpent:         formatAmount(acc.LifetimeSpent),
		LastClaim:             acc.LastClaim,
		LastConversionAttempt: acc.LastConversionAttempt,
		FID:                   acc.FID,
	}
	if acc.Conversion.Pending() {
		resp.PendingAmount = formatAmount(acc.Conversion.Amount)
		resp.PendingSince = acc.Conversion.Since
	}
	writeJSON(w, http.StatusOK, resp)
}

type auditItem struct {
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	BalanceBefore string `json:"balanceBefore"`
	BalanceAfter  string `json:"balanceAfter"`
	Source        string `json:"source,omitempty"`
	SourceID      string `json:"sourceId,omitempty"`
	TxHash        string `json:"txHash,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// handleAudit returns the address's audit trail, newest first.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	typeFilter := ledger.AuditType(strings.TrimSpace(r.URL.Query().Get("type")))
	if typeFilter != "" && !typeFilter.Valid() {
		writeBadRequest(w, "unknown audit type")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
	}
	entries, err := s.engine.Ledger().AuditTrail(addr, typeFilter, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]auditItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, auditItem{
			Type:          string(entry.Type),
			Amount:        formatAmount(entry.Amount),
			BalanceBefore: formatAmount(entry.BalanceBefore),
			BalanceAfter:  formatAmount(entry.BalanceAfter),
			Source:        entry.Source,
			SourceID:      entry.SourceID,
			TxHash:        entry.TxHash,
			Nonce:         entry.Nonce,
			Reason:        entry.Reason,
			Timestamp:     entry.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": ledger.FormatAddress(addr),
		"entries": items,
	})
}

type auditSummaryResponse struct {
	Address      string `json:"address"`
	Entries      int    `json:"entries"`
	TotalEarned  string `json:"totalEarned"`
	TotalSpent   string `json:"totalSpent"`
	TotalClaimed string `json:"totalClaimed"`
	Recoveries   int    `json:"recoveries"`
	FirstSeen    int64  `json:"firstSeen,omitempty"`
	LastSeen     int64  `json:"lastSeen,omitempty"`
}

func (s *Server) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	summary, err := s.engine.Ledger().SummarizeAudit(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auditSummaryResponse{
		Address:      summary.Address,
		Entries:      summary.Entries,
		TotalEarned:  formatAmount(summary.TotalEarned),
		TotalSpent:   formatAmount(summary.TotalSpent),
		TotalClaimed: formatAmount(summary.TotalClaimed),
		Recoveries:   summary.Recoveries,
		FirstSeen:    summary.FirstSeen,
		LastSeen:     summary.LastSeen,
	})
}
