package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/parcelpeer/payments/internal/circuitbreaker"
)

// ErrGatewayUnavailable is returned while the circuit to the gateway is open.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// InitializeRequest is sent to the gateway's transaction-initialize API
type InitializeRequest struct {
	Email     string            `json:"email"`
	Amount    int64             `json:"amount"` // minor units
	Reference string            `json:"reference"`
	Currency  string            `json:"currency"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Callback  string            `json:"callback_url,omitempty"`
}

// InitializeResult is the gateway's checkout handle
type InitializeResult struct {
	AccessCode       string
	AuthorizationURL string
	Reference        string
}

// PaystackClient talks to the Paystack transaction API
type PaystackClient struct {
	client      *resty.Client
	callbackURL string
	breaker     *circuitbreaker.Breaker
}

// NewPaystackClient creates a gateway client authorized with the secret key
func NewPaystackClient(baseURL, secretKey, callbackURL string) *PaystackClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(secretKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &PaystackClient{
		client:      client,
		callbackURL: callbackURL,
		breaker:     circuitbreaker.New(5, 30*time.Second),
	}
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// InitializeTransaction registers a pending charge and returns the hosted
// checkout handle
func (p *PaystackClient) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if !p.breaker.Allow("initialize") {
		return nil, ErrGatewayUnavailable
	}

	if req.Callback == "" {
		req.Callback = p.callbackURL
	}

	var out initializeResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/transaction/initialize")
	if err != nil {
		p.breaker.RecordFailure("initialize")
		return nil, fmt.Errorf("paystack initialize: %w", err)
	}
	if resp.IsError() {
		if resp.StatusCode() >= 500 {
			p.breaker.RecordFailure("initialize")
		}
		return nil, fmt.Errorf("paystack initialize: status %d: %s", resp.StatusCode(), resp.String())
	}
	p.breaker.RecordSuccess("initialize")
	if !out.Status {
		return nil, fmt.Errorf("paystack initialize rejected: %s", out.Message)
	}

	return &InitializeResult{
		AccessCode:       out.Data.AccessCode,
		AuthorizationURL: out.Data.AuthorizationURL,
		Reference:        out.Data.Reference,
	}, nil
}

type verifyResponse struct {
	Status bool `json:"status"`
	Data   struct {
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}

// VerifyTransaction asks the gateway for a charge's settled status. Used by
// reconciliation sweeps when a webhook is suspected lost.
func (p *PaystackClient) VerifyTransaction(ctx context.Context, reference string) (string, error) {
	if !p.breaker.Allow("verify") {
		return "", ErrGatewayUnavailable
	}

	var out verifyResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/transaction/verify/" + reference)
	if err != nil {
		p.breaker.RecordFailure("verify")
		return "", fmt.Errorf("paystack verify: %w", err)
	}
	if resp.IsError() {
		if resp.StatusCode() >= 500 {
			p.breaker.RecordFailure("verify")
		}
		return "", fmt.Errorf("paystack verify: status %d", resp.StatusCode())
	}
	p.breaker.RecordSuccess("verify")
	return out.Data.Status, nil
}
