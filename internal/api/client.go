package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls a squadsflow API server.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Error is a non-2xx response from the server.
type Error struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api error %d (request %s): %s", e.StatusCode, e.RequestID, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e ErrorResponse
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &Error{StatusCode: resp.StatusCode, Message: e.Error, RequestID: resp.Header.Get(RequestIDHeader)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func (c *Client) CreateMultisig(ctx context.Context, req CreateMultisigRequest) (*CreateMultisigResponse, error) {
	var out CreateMultisigResponse
	if err := c.do(ctx, http.MethodPost, "/multisigs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Multisig(ctx context.Context, address string) (*MultisigResponse, error) {
	var out MultisigResponse
	if err := c.do(ctx, http.MethodGet, "/multisigs/"+address, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddSpendingLimit(ctx context.Context, address string, req SpendingLimitRequest) (*SpendingLimitResponse, error) {
	var out SpendingLimitResponse
	if err := c.do(ctx, http.MethodPost, "/multisigs/"+address+"/spending-limits", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Propose(ctx context.Context, address string, req ProposeRequest) (*ProposeResponse, error) {
	var out ProposeResponse
	if err := c.do(ctx, http.MethodPost, "/multisigs/"+address+"/proposals", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Proposals(ctx context.Context, address string) ([]*ProposalResponse, error) {
	var out []*ProposalResponse
	if err := c.do(ctx, http.MethodGet, "/multisigs/"+address+"/proposals", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Proposal(ctx context.Context, address string, index uint64) (*ProposalResponse, error) {
	var out ProposalResponse
	if err := c.do(ctx, http.MethodGet, proposalPath(address, index, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Approve(ctx context.Context, address string, index uint64, member string) (string, error) {
	return c.action(ctx, address, index, "approve", member)
}

func (c *Client) Reject(ctx context.Context, address string, index uint64, member string) (string, error) {
	return c.action(ctx, address, index, "reject", member)
}

func (c *Client) Execute(ctx context.Context, address string, index uint64, member string) (string, error) {
	return c.action(ctx, address, index, "execute", member)
}

func (c *Client) action(ctx context.Context, address string, index uint64, action, member string) (string, error) {
	var out SignatureResponse
	if err := c.do(ctx, http.MethodPost, proposalPath(address, index, action), VoteRequest{Member: member}, &out); err != nil {
		return "", err
	}
	return out.Signature, nil
}

func proposalPath(address string, index uint64, action string) string {
	p := fmt.Sprintf("/multisigs/%s/proposals/%d", address, index)
	if action != "" {
		p += "/" + action
	}
	return p
}
