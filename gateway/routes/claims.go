package routes

import (
	"net/http"
	"strconv"
	"strings"

	"vbmsd/native/claim"
	"vbmsd/native/ledger"
	"vbmsd/observability"
)

type convertRequest struct {
	Address string `json:"address"`
	FID     uint64 `json:"fid,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

type convertResponse struct {
	Address   string `json:"address"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature,omitempty"`
}

// handleConvert runs the full pipeline: gate, debit, nonce, signature.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
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
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	signed, err := s.engine.Convert(r.Context(), addr, req.FID, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	observability.Claims().RecordInitiated()
	writeJSON(w, http.StatusOK, convertResponse{
		Address:   ledger.FormatAddress(addr),
		Amount:    formatAmount(signed.Amount),
		Nonce:     signed.Nonce.Hex(),
		Signature: signed.Signature,
	})
}

// handleInitiate opens the pending conversion without contacting the signer,
// for clients that obtain signatures through their own channel.
func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
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
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	pending, err := s.engine.Initiate(addr, req.FID, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	observability.Claims().RecordInitiated()
	writeJSON(w, http.StatusOK, convertResponse{
		Address: ledger.FormatAddress(addr),
		Amount:  formatAmount(pending.Amount),
		Nonce:   pending.Nonce.Hex(),
	})
}

type finalizeRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount,omitempty"`
	TxHash  string `json:"txHash"`
}

type finalizeResponse struct {
	Address     string `json:"address"`
	Amount      string `json:"amount"`
	TxHash      string `json:"txHash"`
	Nonce       string `json:"nonce"`
	FinalizedAt int64  `json:"finalizedAt"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.TxHash) == "" {
		writeBadRequest(w, "txHash required")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	record, err := s.engine.Finalize(addr, amount, req.TxHash)
	if err != nil {
		writeError(w, err)
		return
	}
	observability.Claims().RecordFinalized()
	if s.history != nil {
		if err := s.history.Record(r.Context(), record); err != nil {
			s.logger.Error("mirror finalized claim", "error", err, "txHash", record.TxHash)
		}
	}
	writeJSON(w, http.StatusOK, finalizeResponse{
		Address:     ledger.FormatAddress(addr),
		Amount:      formatAmount(record.Amount),
		TxHash:      record.TxHash,
		Nonce:       record.Nonce.Hex(),
		FinalizedAt: record.FinalizedAt,
	})
}

type recoverRequest struct {
	Address string `json:"address"`
}

type recoverResponse struct {
	Address             string `json:"address"`
	Restored            string `json:"restored"`
	Balance             string `json:"balance"`
	RecoveriesRemaining uint32 `json:"recoveriesRemaining"`
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	result, err := s.engine.Recover(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	observability.Claims().RecordRecovered("manual")
	writeJSON(w, http.StatusOK, recoverResponse{
		Address:             ledger.FormatAddress(addr),
		Restored:            formatAmount(result.Restored),
		Balance:             formatAmount(result.Balance),
		RecoveriesRemaining: result.Remaining,
	})
}

type pendingResponse struct {
	Address             string `json:"address"`
	Pending             bool   `json:"pending"`
	Amount              string `json:"amount"`
	Since               int64  `json:"since,omitempty"`
	CanRecover          bool   `json:"canRecover"`
	RecoverInSeconds    int64  `json:"recoverInSeconds,omitempty"`
	RecoveriesRemaining uint32 `json:"recoveriesRemaining"`
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.URL.Query().Get("address"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	info, err := s.engine.PendingInfo(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{
		Address:             ledger.FormatAddress(addr),
		Pending:             info.Pending,
		Amount:              formatAmount(info.Amount),
		Since:               info.Since,
		CanRecover:          info.CanRecover,
		RecoverInSeconds:    int64(info.RecoverIn.Seconds()),
		RecoveriesRemaining: info.RecoveriesRemaining,
	})
}

type historyItem struct {
	TxHash      string `json:"txHash"`
	Amount      string `json:"amount"`
	Nonce       string `json:"nonce"`
	FinalizedAt int64  `json:"finalizedAt"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.URL.Query().Get("address"))
	if err != nil {
		writeBadRequest(w, err.Error())
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
	var records []*claim.Record
	if s.history != nil {
		records, err = s.history.ListByAddress(r.Context(), addr, limit)
	} else {
		records, err = s.engine.History().ListByAddress(addr, limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]historyItem, 0, len(records))
	for _, record := range records {
		items = append(items, historyItem{
			TxHash:      record.TxHash,
			Amount:      formatAmount(record.Amount),
			Nonce:       record.Nonce.Hex(),
			FinalizedAt: record.FinalizedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": ledger.FormatAddress(addr),
		"claims":  items,
	})
}
