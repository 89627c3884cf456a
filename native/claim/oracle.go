package claim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// nonceUsedSelector is the 4-byte function selector of the claim contract's
// nonce lookup (nonceUsed(bytes32)).
var nonceUsedSelector = []byte{0xfe, 0xb6, 0x17, 0x24}

// NonceOracle answers whether a conversion nonce was consumed on-chain. The
// answer decides whether a failed conversion may be refunded, so callers treat
// any error as "consumed" and never over-credit.
type NonceOracle interface {
	NonceConsumed(ctx context.Context, nonce NonceID) (bool, error)
}

// RPCOracle queries the chain over JSON-RPC eth_call.
type RPCOracle struct {
	endpoint string
	contract string
	client   *http.Client
	timeout  time.Duration
}

// NewRPCOracle builds an oracle against the supplied RPC endpoint and claim
// contract address.
func NewRPCOracle(endpoint, contract string, timeout time.Duration) (*RPCOracle, error) {
	endpoint = strings.TrimSpace(endpoint)
	contract = strings.TrimSpace(contract)
	if endpoint == "" {
		return nil, fmt.Errorf("claim: oracle endpoint required")
	}
	if contract == "" {
		return nil, fmt.Errorf("claim: oracle contract address required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCOracle{
		endpoint: endpoint,
		contract: contract,
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcCallParams struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NonceConsumed performs the eth_call lookup. A non-zero return word means the
// nonce executed on-chain.
func (o *RPCOracle) NonceConsumed(ctx context.Context, nonce NonceID) (bool, error) {
	if o == nil {
		return false, fmt.Errorf("claim: oracle not configured")
	}
	calldata := make([]byte, 0, len(nonceUsedSelector)+32)
	calldata = append(calldata, nonceUsedSelector...)
	calldata = append(calldata, nonce[:]...)

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_call",
		Params: []interface{}{
			rpcCallParams{To: o.contract, Data: hexutil.Encode(calldata)},
			"latest",
		},
	})
	if err != nil {
		return false, fmt.Errorf("claim: oracle request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("claim: oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("claim: oracle call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("claim: oracle status %d", resp.StatusCode)
	}
	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, fmt.Errorf("claim: oracle response: %w", err)
	}
	if decoded.Error != nil {
		return false, fmt.Errorf("claim: oracle rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	result := strings.TrimPrefix(strings.TrimSpace(decoded.Result), "0x")
	if result == "" {
		return false, fmt.Errorf("claim: oracle empty result")
	}
	return strings.Trim(result, "0") != "", nil
}

// consumedConservative applies the uniform safety policy: when the oracle
// cannot be reached or errors, the nonce is treated as consumed so a balance
// is never restored for a claim that may have executed.
func consumedConservative(ctx context.Context, oracle NonceOracle, nonce NonceID) (bool, error) {
	if oracle == nil {
		return true, fmt.Errorf("claim: oracle not configured")
	}
	consumed, err := oracle.NonceConsumed(ctx, nonce)
	if err != nil {
		return true, err
	}
	return consumed, nil
}
