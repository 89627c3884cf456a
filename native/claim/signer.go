package claim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vbmsd/native/ledger"
)

// Signer produces the authorization signature the claim contract verifies. The
// request is idempotent per (address, amount, nonce) triple, so retries after a
// timeout are safe.
type Signer interface {
	Sign(ctx context.Context, addr [20]byte, amount string, nonce NonceID) (string, error)
}

// HTTPSigner talks to the external signing service.
type HTTPSigner struct {
	endpoint string
	token    string
	client   *http.Client
	timeout  time.Duration
}

// NewHTTPSigner builds a signer client for the supplied endpoint. The optional
// token is sent as a bearer credential.
func NewHTTPSigner(endpoint, token string, timeout time.Duration) (*HTTPSigner, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("claim: signer endpoint required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSigner{
		endpoint: endpoint,
		token:    strings.TrimSpace(token),
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
	}, nil
}

type signRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Nonce   string `json:"nonce"`
}

type signResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// Sign requests a claim signature. Any transport failure, non-2xx status, or
// empty signature is an error; the caller decides whether to restore the
// debited balance.
func (s *HTTPSigner) Sign(ctx context.Context, addr [20]byte, amount string, nonce NonceID) (string, error) {
	if s == nil {
		return "", fmt.Errorf("claim: signer not configured")
	}
	payload, err := json.Marshal(signRequest{
		Address: ledger.FormatAddress(addr),
		Amount:  strings.TrimSpace(amount),
		Nonce:   nonce.Hex(),
	})
	if err != nil {
		return "", fmt.Errorf("claim: signer request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("claim: signer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("claim: signer call: %w", err)
	}
	defer resp.Body.Close()
	var decoded signResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("claim: signer response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := strings.TrimSpace(decoded.Error)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("claim: signer status %d: %s", resp.StatusCode, msg)
	}
	signature := strings.TrimSpace(decoded.Signature)
	if signature == "" {
		return "", fmt.Errorf("claim: signer returned empty signature")
	}
	return signature, nil
}
