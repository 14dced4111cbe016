package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RESTClient talks to a hosted identity provider over JSON/HTTP.
//
//	POST /v1/accounts                      -> 201 {"id": "..."}
//	GET  /v1/accounts/availability?email=  -> 200 {"available": true}
type RESTClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewRESTClient(baseURL, apiKey string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *RESTClient) WithHTTPClient(hc *http.Client) *RESTClient {
	c.httpClient = hc
	return c
}

type createAccountResponse struct {
	ID string `json:"id"`
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

type providerError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *RESTClient) CreateAccount(ctx context.Context, acct Account) (string, error) {
	body, err := json.Marshal(acct)
	if err != nil {
		return "", invalid("account cannot be encoded", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/accounts", bytes.NewReader(body))
	if err != nil {
		return "", invalid("request cannot be built", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out createAccountResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", unconfirmed("provider acknowledged the account without an id", nil)
	}
	return out.ID, nil
}

func (c *RESTClient) CheckAvailability(ctx context.Context, email string) (bool, error) {
	endpoint := c.baseURL + "/v1/accounts/availability?email=" + url.QueryEscape(email)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, invalid("request cannot be built", err)
	}

	var out availabilityResponse
	if err := c.do(req, &out); err != nil {
		if KindOf(err) == KindUnconfirmed {
			// Lookups have no side effects, so a garbled answer can be retried.
			return false, transient("provider returned malformed availability", err)
		}
		return false, err
	}
	return out.Available, nil
}

func (c *RESTClient) do(req *http.Request, dest interface{}) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return transient("reading provider response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(payload, dest); err != nil {
			return unconfirmed(fmt.Sprintf("provider answered %d with a malformed body", resp.StatusCode), err)
		}
		return nil
	}

	var perr providerError
	_ = json.Unmarshal(payload, &perr)
	msg := perr.Message
	if msg == "" {
		msg = perr.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	statusErr := fmt.Errorf("provider status %d", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusConflict:
		return duplicate(msg, statusErr)
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return invalid(msg, statusErr)
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return transient(msg, statusErr)
	default:
		// 401/403/404 mean misconfiguration; retrying will not help.
		return invalid(msg, statusErr)
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return transient("provider unreachable", err)
	}
	if errors.Is(err, context.Canceled) {
		return transient("request cancelled", err)
	}
	return transient("provider call failed", err)
}
