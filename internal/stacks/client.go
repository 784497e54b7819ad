package stacks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBodySize   = 1 << 20
)

var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrSubmissionRejected = errors.New("submission rejected")
	// ErrUnexpectedResponse marks replies that are neither a transaction id nor
	// a structured rejection, such as a 404 from a wrong node URL. It is
	// always reported together with ErrNetworkUnavailable.
	ErrUnexpectedResponse = errors.New("unexpected node response")

	txIDPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
)

// RejectionError carries a structured rejection returned by the node. Reason and
// ReasonData are kept verbatim.
type RejectionError struct {
	Status     int
	Message    string
	Reason     string
	ReasonData json.RawMessage
	TxID       string
}

func (e *RejectionError) Error() string {
	var b strings.Builder
	b.WriteString(ErrSubmissionRejected.Error())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	} else if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.ReasonData) > 0 && string(e.ReasonData) != "null" {
		b.WriteString(" ")
		b.Write(e.ReasonData)
	}
	return b.String()
}

func (e *RejectionError) Unwrap() error {
	return ErrSubmissionRejected
}

type AccountState struct {
	Nonce   uint64 `json:"nonce"`
	Balance string `json:"balance"`
}

// NodeClient talks to the core API of a Stacks node.
type NodeClient struct {
	baseURL   string
	http      *http.Client
	userAgent string
}

type ClientOption func(*NodeClient)

func WithTimeout(d time.Duration) ClientOption {
	return func(n *NodeClient) {
		if d > 0 {
			n.http = &http.Client{Timeout: d}
		}
	}
}

func WithUserAgent(ua string) ClientOption {
	return func(n *NodeClient) {
		n.userAgent = strings.TrimSpace(ua)
	}
}

func NewNodeClient(baseURL string, opts ...ClientOption) *NodeClient {
	c := &NodeClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccountState reads the account's current nonce.
func (c *NodeClient) AccountState(ctx context.Context, address string) (state AccountState, retErr error) {
	endpoint := c.baseURL + "/v2/accounts/" + url.PathEscape(strings.TrimSpace(address)) + "?proof=0"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return AccountState{}, err
	}
	req.Header.Set("Accept", "application/json")
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return AccountState{}, fmt.Errorf("%w: account query: %v", ErrNetworkUnavailable, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return AccountState{}, fmt.Errorf("%w: account query: %v", ErrNetworkUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return AccountState{}, fmt.Errorf("%w: account query status %d: %s", ErrNetworkUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &state); err != nil {
		return AccountState{}, fmt.Errorf("%w: decode account state: %v", ErrNetworkUnavailable, err)
	}
	return state, nil
}

type rejectionBody struct {
	Error      string          `json:"error"`
	Reason     string          `json:"reason"`
	ReasonData json.RawMessage `json:"reason_data"`
	TxID       string          `json:"txid"`
}

// Broadcast submits a serialised transaction and returns the node's transaction id.
// Transport failures and unrecognised replies wrap ErrNetworkUnavailable,
// structured rejections are *RejectionError.
func (c *NodeClient) Broadcast(ctx context.Context, raw []byte) (txID string, retErr error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transactions", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: broadcast: %v", ErrNetworkUnavailable, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return "", fmt.Errorf("%w: broadcast: %v", ErrNetworkUnavailable, err)
	}
	return classifyBroadcast(resp.StatusCode, body)
}

func classifyBroadcast(status int, body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: broadcast status %d: %s", ErrNetworkUnavailable, status, string(trimmed))
	}

	var rejection rejectionBody
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &rejection) == nil &&
		(rejection.Error != "" || rejection.Reason != "") {
		return "", &RejectionError{
			Status:     status,
			Message:    rejection.Error,
			Reason:     rejection.Reason,
			ReasonData: rejection.ReasonData,
			TxID:       rejection.TxID,
		}
	}
	if status >= http.StatusBadRequest {
		return "", unexpectedResponse(status, trimmed)
	}

	txID := string(trimmed)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &txID); err != nil {
			return "", unexpectedResponse(status, trimmed)
		}
	}
	txID = strings.TrimSpace(txID)
	if !txIDPattern.MatchString(txID) {
		return "", unexpectedResponse(status, trimmed)
	}
	return txID, nil
}

func unexpectedResponse(status int, body []byte) error {
	const maxQuoted = 200
	if len(body) > maxQuoted {
		body = body[:maxQuoted]
	}
	return fmt.Errorf("%w: %w: broadcast status %d: %q", ErrNetworkUnavailable, ErrUnexpectedResponse, status, body)
}

func (c *NodeClient) decorate(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}
