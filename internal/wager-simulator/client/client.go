package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/dto"
)

// APIError é a resposta de erro do wager-service
type APIError struct {
	Status  int
	Message string
	Code    *uint64 // código do ProgramError, quando houver
}

func (e *APIError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("wager-service %d: %s (code %d)", e.Status, e.Message, *e.Code)
	}
	return fmt.Sprintf("wager-service %d: %s", e.Status, e.Message)
}

// Client fala com a API REST do wager-service
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Submit(ctx context.Context, st ledger.SignedTransaction) (*dto.TxResponse, error) {
	var out dto.TxResponse
	if err := c.do(ctx, http.MethodPost, "/v1/transactions", dto.FromSigned(st), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Airdrop(ctx context.Context, key ledger.Pubkey, lamports uint64) (*dto.AccountResponse, error) {
	var out dto.AccountResponse
	if err := c.do(ctx, http.MethodPost, "/v1/airdrop", dto.AirdropRequest{Pubkey: key.String(), Lamports: lamports}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Account(ctx context.Context, key ledger.Pubkey) (*dto.AccountResponse, error) {
	var out dto.AccountResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+key.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Wager(ctx context.Context, record ledger.Pubkey) (*dto.WagerResponse, error) {
	var out dto.WagerResponse
	if err := c.do(ctx, http.MethodGet, "/v1/wagers/"+record.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Funds(ctx context.Context) ([]dto.FundsResponse, error) {
	var out []dto.FundsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/funds", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e dto.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error, Code: e.Code}
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
