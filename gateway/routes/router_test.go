package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vbmsd/gateway/auth"
	"vbmsd/native/claim"
	"vbmsd/native/ledger"
	"vbmsd/storage"
)

type stubSigner struct {
	signature string
	err       error
}

func (s *stubSigner) Sign(ctx context.Context, addr [20]byte, amount string, nonce claim.NonceID) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.signature, nil
}

type stubOracle struct {
	consumed bool
	err      error
}

func (s *stubOracle) NonceConsumed(ctx context.Context, nonce claim.NonceID) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.consumed, nil
}

type routerFixture struct {
	handler http.Handler
	engine  *claim.Engine
	ledger  *ledger.Ledger
	signer  *stubSigner
	oracle  *stubOracle
	now     time.Time
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	state := storage.NewState(storage.NewMemDB())
	l := ledger.NewLedger(state)
	now := time.Unix(1_700_000_000, 0)
	l.SetNowFunc(func() time.Time { return now })
	gate, err := claim.NewGate(claim.DefaultParams(), nil)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	engine := claim.NewEngine(l, claim.NewHistory(state), gate)
	engine.SetNowFunc(func() time.Time { return now })
	signer := &stubSigner{signature: "0xsig"}
	oracle := &stubOracle{}
	engine.SetSigner(signer)
	engine.SetOracle(oracle)
	handler, err := New(Config{Engine: engine})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return &routerFixture{handler: handler, engine: engine, ledger: l, signer: signer, oracle: oracle, now: now}
}

const (
	fixtureAddress = "0x0000000000000000000000000000000000000042"
	fixtureFID     = uint64(7)
)

func (f *routerFixture) fund(t *testing.T, amount int64) {
	t.Helper()
	addr, err := ledger.DecodeAddress(fixtureAddress)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := f.ledger.Credit(addr, big.NewInt(amount), "match_win", ""); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (f *routerFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}

func TestConvertEndpoint(t *testing.T) {
	f := newRouterFixture(t)
	f.fund(t, 600)
	rec := f.do(t, http.MethodPost, "/v1/claims", convertRequest{Address: fixtureAddress, FID: fixtureFID})
	if rec.Code != http.StatusOK {
		t.Fatalf("convert: %d %s", rec.Code, rec.Body.String())
	}
	var resp convertResponse
	decodeResponse(t, rec, &resp)
	if resp.Amount != "600" || resp.Signature != "0xsig" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.Nonce) != 66 {
		t.Fatalf("unexpected nonce %q", resp.Nonce)
	}
}

func TestConvertEndpointValidation(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/claims", convertRequest{Address: "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad address, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/v1/claims", convertRequest{Address: fixtureAddress, FID: fixtureFID})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty balance, got %d %s", rec.Code, rec.Body.String())
	}
	var body errorBody
	decodeResponse(t, rec, &body)
	if body.Code != "below_minimum" {
		t.Fatalf("unexpected error code %q", body.Code)
	}
}

func TestConvertEndpointRequiresFID(t *testing.T) {
	f := newRouterFixture(t)
	f.fund(t, 600)
	rec := f.do(t, http.MethodPost, "/v1/claims", convertRequest{Address: fixtureAddress})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without fid, got %d %s", rec.Code, rec.Body.String())
	}
	var body errorBody
	decodeResponse(t, rec, &body)
	if body.Code != "identity_required" {
		t.Fatalf("unexpected error code %q", body.Code)
	}
}

func TestConvertSigningFailureMapsTo502(t *testing.T) {
	f := newRouterFixture(t)
	f.fund(t, 600)
	f.signer.err = errors.New("hsm down")
	rec := f.do(t, http.MethodPost, "/v1/claims", convertRequest{Address: fixtureAddress, FID: fixtureFID})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d %s", rec.Code, rec.Body.String())
	}
	var body errorBody
	decodeResponse(t, rec, &body)
	if body.Code != "signing_failed" {
		t.Fatalf("unexpected error code %q", body.Code)
	}
}

func TestFinalizeAndHistoryEndpoints(t *testing.T) {
	f := newRouterFixture(t)
	f.fund(t, 600)
	rec := f.do(t, http.MethodPost, "/v1/claims/initiate", convertRequest{Address: fixtureAddress, FID: fixtureFID, Amount: "300"})
	if rec.Code != http.StatusOK {
		t.Fatalf("initiate: %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, "/v1/claims/finalize", finalizeRequest{Address: fixtureAddress, TxHash: "0xabc"})
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize: %d %s", rec.Code, rec.Body.String())
	}
	var fin finalizeResponse
	decodeResponse(t, rec, &fin)
	if fin.Amount != "300" || fin.TxHash != "0xabc" {
		t.Fatalf("unexpected finalize response %+v", fin)
	}

	// Replay is rejected as a duplicate.
	rec = f.do(t, http.MethodPost, "/v1/claims/finalize", finalizeRequest{Address: fixtureAddress, TxHash: "0xabc"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 replay, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/claims/history?address="+fixtureAddress, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d", rec.Code)
	}
	var history struct {
		Claims []historyItem `json:"claims"`
	}
	decodeResponse(t, rec, &history)
	if len(history.Claims) != 1 || history.Claims[0].TxHash != "0xabc" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestPendingAndRecoverEndpoints(t *testing.T) {
	f := newRouterFixture(t)
	f.fund(t, 600)
	if rec := f.do(t, http.MethodPost, "/v1/claims/initiate", convertRequest{Address: fixtureAddress, FID: fixtureFID, Amount: "300"}); rec.Code != http.StatusOK {
		t.Fatalf("initiate: %d", rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/v1/claims/pending?address="+fixtureAddress, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pending: %d", rec.Code)
	}
	var pending pendingResponse
	decodeResponse(t, rec, &pending)
	if !pending.Pending || pending.Amount != "300" || pending.CanRecover {
		t.Fatalf("unexpected pending info %+v", pending)
	}

	// Recovery before the window elapses is throttled.
	rec = f.do(t, http.MethodPost, "/v1/claims/recover", recoverRequest{Address: fixtureAddress})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestLedgerEndpoints(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/ledger/credit", mutateBalanceRequest{
		Address: fixtureAddress, Amount: "1000", Source: "match_win", SourceID: "m-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("credit: %d %s", rec.Code, rec.Body.String())
	}
	var balance balanceResponse
	decodeResponse(t, rec, &balance)
	if balance.Balance != "1000" {
		t.Fatalf("unexpected balance %+v", balance)
	}

	rec = f.do(t, http.MethodPost, "/v1/ledger/debit", mutateBalanceRequest{
		Address: fixtureAddress, Amount: "5000", Source: "shop",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected overdraft rejection, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/accounts/"+fixtureAddress, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("account: %d", rec.Code)
	}
	var snapshot accountResponse
	decodeResponse(t, rec, &snapshot)
	if snapshot.Balance != "1000" || snapshot.LifetimeEarned != "1000" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	rec = f.do(t, http.MethodGet, "/v1/accounts/"+fixtureAddress+"/audit?type=earn", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: %d", rec.Code)
	}
	var audit struct {
		Entries []auditItem `json:"entries"`
	}
	decodeResponse(t, rec, &audit)
	if len(audit.Entries) != 1 || audit.Entries[0].Type != "earn" {
		t.Fatalf("unexpected audit %+v", audit)
	}
}

func TestClaimRoutesRequireBearerToken(t *testing.T) {
	const secret = "router-test-secret"
	state := storage.NewState(storage.NewMemDB())
	l := ledger.NewLedger(state)
	gate, err := claim.NewGate(claim.DefaultParams(), nil)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	engine := claim.NewEngine(l, claim.NewHistory(state), gate)
	engine.SetSigner(&stubSigner{signature: "0xsig"})
	engine.SetOracle(&stubOracle{})
	authenticator, err := auth.NewAuthenticator(secret, "", "")
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	handler, err := New(Config{Engine: engine, Authenticator: authenticator})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	addr, err := ledger.DecodeAddress(fixtureAddress)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := l.Credit(addr, big.NewInt(600), "match_win", ""); err != nil {
		t.Fatalf("fund: %v", err)
	}

	payload, err := json.Marshal(convertRequest{Address: fixtureAddress, FID: fixtureFID})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, path := range []string{"/v1/claims", "/v1/claims/initiate", "/v1/claims/finalize", "/v1/claims/recover"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: got %d, want 401", path, rec.Code)
		}
	}

	// Reads stay open.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/claims/pending?address="+fixtureAddress, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("pending without token: got %d, want 200", rec.Code)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/claims", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorised convert: got %d %s", rec.Code, rec.Body.String())
	}
}

func TestDenyListEndpoint(t *testing.T) {
	state := storage.NewState(storage.NewMemDB())
	l := ledger.NewLedger(state)
	deny, err := claim.NewDenyList([]claim.DenyEntry{{
		Address:      fixtureAddress,
		Username:     "exploiter",
		AmountStolen: 123456,
		Claims:       9,
	}})
	if err != nil {
		t.Fatalf("deny list: %v", err)
	}
	gate, err := claim.NewGate(claim.DefaultParams(), deny)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	engine := claim.NewEngine(l, claim.NewHistory(state), gate)
	handler, err := New(Config{Engine: engine})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/denylist", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("denylist: %d", rec.Code)
	}
	var report struct {
		Count       int    `json:"count"`
		TotalStolen uint64 `json:"totalStolen"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Count != 1 || report.TotalStolen != 123456 {
		t.Fatalf("unexpected report %+v", report)
	}
}
