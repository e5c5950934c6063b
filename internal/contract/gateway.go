package contract

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/statera-protocol/statera-protocol-midnight/internal/crypto"
	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// NetworkConfig names the Midnight services the gateway should use when
// building and proving transactions for this client.
type NetworkConfig struct {
	ProofServerURI string `json:"proof_server_uri"`
	IndexerURI     string `json:"indexer_uri"`
	IndexerWSURI   string `json:"indexer_ws_uri"`
	NodeURI        string `json:"node_uri"`
}

// GatewayConfig configures a GatewayClient.
type GatewayConfig struct {
	BaseURL   string
	Network   NetworkConfig
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables
	Burst     int
}

// GatewayClient talks to the contract gateway, the service that turns
// circuit calls into proven transactions and serves indexed ledger state.
type GatewayClient struct {
	baseURL    string
	address    string
	network    NetworkConfig
	httpClient *http.Client
	signer     *crypto.Signer
	auth       *crypto.HMACAuth
	limiter    *rate.Limiter
	nonce      atomic.Uint64
}

// NewGatewayClient creates a client for the contract at address. signer and
// auth may be nil for read-only use against an open gateway.
func NewGatewayClient(cfg GatewayConfig, address string, signer *crypto.Signer, auth *crypto.HMACAuth) *GatewayClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	c := &GatewayClient{
		baseURL: cfg.BaseURL,
		address: address,
		network: cfg.Network,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		signer:  signer,
		auth:    auth,
		limiter: limiter,
	}
	c.nonce.Store(uint64(time.Now().UnixNano()))
	return c
}

// GatewayConnector returns a Connector that joins through the gateway.
func GatewayConnector(cfg GatewayConfig, signer *crypto.Signer, auth *crypto.HMACAuth) Connector {
	return func(ctx context.Context, address string) (Backend, error) {
		c := NewGatewayClient(cfg, address, signer, auth)
		if err := c.Join(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Join confirms the contract is deployed and registers the network config.
func (c *GatewayClient) Join(ctx context.Context) error {
	body := map[string]any{"network": c.network}
	if c.signer != nil {
		body["caller"] = c.signer.Address().Hex()
	}
	var resp struct {
		ContractAddress string `json:"contract_address"`
	}
	if err := c.do(ctx, http.MethodPost, c.contractPath("/join"), "", body, &resp); err != nil {
		return fmt.Errorf("contract/gateway: join: %w", err)
	}
	if resp.ContractAddress != "" && resp.ContractAddress != c.address {
		return fmt.Errorf("contract/gateway: joined %s, expected %s", resp.ContractAddress, c.address)
	}
	return nil
}

// Close implements Backend.
func (c *GatewayClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *GatewayClient) DepositToCollateralPool(ctx context.Context, id PositionID, amount uint64) (CallResult, error) {
	return c.call(ctx, CircuitDepositToCollateralPool, map[string]any{"id": id.Hex(), "amount": amount})
}

func (c *GatewayClient) MintSUSD(ctx context.Context, id PositionID, amount uint64) (CallResult, error) {
	return c.call(ctx, CircuitMintSUSD, map[string]any{"id": id.Hex(), "amount": amount})
}

func (c *GatewayClient) Repay(ctx context.Context, id PositionID, amount uint64) (CallResult, error) {
	return c.call(ctx, CircuitRepay, map[string]any{"id": id.Hex(), "amount": amount})
}

func (c *GatewayClient) WithdrawCollateral(ctx context.Context, id PositionID, amount uint64) (CallResult, error) {
	return c.call(ctx, CircuitWithdrawCollateral, map[string]any{"id": id.Hex(), "amount": amount})
}

func (c *GatewayClient) DepositToStakePool(ctx context.Context, amount uint64) (CallResult, error) {
	return c.call(ctx, CircuitDepositToStakePool, map[string]any{"amount": amount})
}

func (c *GatewayClient) WithdrawStake(ctx context.Context, amount uint64) (CallResult, error) {
	return c.call(ctx, CircuitWithdrawStake, map[string]any{"amount": amount})
}

func (c *GatewayClient) WithdrawStakeReward(ctx context.Context, amount uint64) (CallResult, error) {
	return c.call(ctx, CircuitWithdrawStakeReward, map[string]any{"amount": amount})
}

func (c *GatewayClient) CheckStakeReward(ctx context.Context) (CallResult, error) {
	return c.call(ctx, CircuitCheckStakeReward, map[string]any{})
}

func (c *GatewayClient) ResetProtocolConfig(ctx context.Context, p domain.ProtocolParameters) (CallResult, error) {
	return c.call(ctx, CircuitResetProtocolConfig, map[string]any{
		"liquidation_threshold":    p.LiquidationThreshold,
		"loan_to_value":            p.LoanToValue,
		"minimum_collateral_ratio": p.MinimumCollateralRatio,
	})
}

func (c *GatewayClient) AddAdmin(ctx context.Context, pubKey []byte) (CallResult, error) {
	return c.call(ctx, CircuitAddAdmin, map[string]any{"pk": hex.EncodeToString(pubKey)})
}

func (c *GatewayClient) AddTrustedOracle(ctx context.Context, pubKey []byte) (CallResult, error) {
	return c.call(ctx, CircuitAddTrustedOracle, map[string]any{"pk": hex.EncodeToString(pubKey)})
}

func (c *GatewayClient) RemoveTrustedOracle(ctx context.Context, pubKey []byte) (CallResult, error) {
	return c.call(ctx, CircuitRemoveTrustedOracle, map[string]any{"pk": hex.EncodeToString(pubKey)})
}

// LiquidateDebtPosition submits the liquidation circuit with the arguments
// exactly as given.
func (c *GatewayClient) LiquidateDebtPosition(ctx context.Context, collateral uint64, id PositionID, debt uint64) (CallResult, error) {
	return c.call(ctx, CircuitLiquidateDebtPosition, map[string]any{
		"collateral_amount": collateral,
		"id":                id.Hex(),
		"debt":              debt,
	})
}

// ledgerPosition is the indexer's view of a debt position.
type ledgerPosition struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	CoinType     string `json:"coin_type"`
	MetadataHash string `json:"metadata_hash"`
	Collateral   uint64 `json:"collateral"`
	Debt         uint64 `json:"debt"`
	BorrowLimit  uint64 `json:"borrow_limit"`
	Status       int    `json:"position"`
}

// ReadPosition implements LedgerReader.
func (c *GatewayClient) ReadPosition(ctx context.Context, id PositionID) (domain.Position, error) {
	var lp ledgerPosition
	if err := c.do(ctx, http.MethodGet, c.contractPath("/positions/"+id.Hex()), "", nil, &lp); err != nil {
		return domain.Position{}, fmt.Errorf("contract/gateway: read position %s: %w", id, err)
	}
	status := domain.PositionStatus(lp.Status)
	if status < domain.PositionInactive || status > domain.PositionClosed {
		return domain.Position{}, fmt.Errorf("contract/gateway: read position %s: unknown status %d", id, lp.Status)
	}
	return domain.Position{
		ID:           id.UUID(),
		Owner:        lp.Owner,
		CoinType:     lp.CoinType,
		MetadataHash: lp.MetadataHash,
		Collateral:   lp.Collateral,
		Debt:         lp.Debt,
		BorrowLimit:  lp.BorrowLimit,
		Status:       status,
		UpdatedAt:    time.Now(),
	}, nil
}

// ReadProtocolParameters implements LedgerReader.
func (c *GatewayClient) ReadProtocolParameters(ctx context.Context) (domain.ProtocolParameters, error) {
	var st struct {
		LiquidationThreshold uint64 `json:"liquidation_threshold"`
		LVT                  uint64 `json:"lvt"`
		MCR                  uint64 `json:"mcr"`
	}
	if err := c.do(ctx, http.MethodGet, c.contractPath("/state"), "", nil, &st); err != nil {
		return domain.ProtocolParameters{}, fmt.Errorf("contract/gateway: read state: %w", err)
	}
	return domain.ProtocolParameters{
		LiquidationThreshold:   st.LiquidationThreshold,
		LoanToValue:            st.LVT,
		MinimumCollateralRatio: st.MCR,
	}, nil
}

func (c *GatewayClient) call(ctx context.Context, circuit string, args map[string]any) (CallResult, error) {
	var res CallResult
	if err := c.do(ctx, http.MethodPost, c.contractPath("/circuits/"+circuit), circuit, args, &res); err != nil {
		return CallResult{}, fmt.Errorf("contract/gateway: %s: %w", circuit, err)
	}
	if res.Status == "" {
		return CallResult{}, fmt.Errorf("contract/gateway: %s: response missing status", circuit)
	}
	return res, nil
}

func (c *GatewayClient) contractPath(suffix string) string {
	return "/v1/contracts/" + c.address + suffix
}

// do sends one request. When circuit is set the body is signed as an intent.
func (c *GatewayClient) do(ctx context.Context, method, path, circuit string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, string(raw)) {
			req.Header.Set(k, v)
		}
	}
	if circuit != "" && c.signer != nil {
		nonce := c.nonce.Add(1)
		sig, err := c.signer.SignIntent(circuit, raw, nonce)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
		}
		req.Header.Set("X-Statera-Caller", c.signer.Address().Hex())
		req.Header.Set("X-Statera-Nonce", strconv.FormatUint(nonce, 10))
		req.Header.Set("X-Statera-Intent", sig)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

var _ Backend = (*GatewayClient)(nil)
