// Package server is the HTTP client for the statechain entity's REST API.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-statechain/internal/log"
	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"golang.org/x/net/proxy"
)

const defaultTimeout = 30 * time.Second

// maxBodySize caps how much of a response body is read.
const maxBodySize = 4 << 20

// APIError is a non-2xx response from the entity.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("statechain entity error %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("statechain entity error %d: %s", e.Status, e.Message)
}

// Is maps server error codes onto the protocol error kinds.
func (e *APIError) Is(target error) bool {
	switch target {
	case protocol.ErrBatchLocked:
		return e.Code == protocol.CodeBatchLocked
	case protocol.ErrBatchExpired:
		return e.Code == protocol.CodeBatchExpired
	case protocol.ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Client talks to one statechain entity.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL. When torProxy is non-empty every
// request is dialed through that SOCKS5 endpoint.
func New(baseURL, torProxy string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid statechain entity url %q: %w", baseURL, err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if torProxy != "" {
		dial, err := ProxyDialer(torProxy)
		if err != nil {
			return nil, err
		}
		transport.Proxy = nil
		transport.DialContext = dial
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ProxyDialer returns a dial function that connects through the SOCKS
// proxy at rawURL (socks5:// or socks5h://).
func ProxyDialer(rawURL string) (DialFunc, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url %q: %w", rawURL, err)
	}
	d, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("proxy dialer: %w", err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}, nil
}

// InfoConfig returns the entity's locktime parameters.
func (c *Client) InfoConfig(ctx context.Context) (*protocol.ServerConfig, error) {
	var out protocol.ServerConfig
	if err := c.do(ctx, http.MethodGet, "info/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StatechainInfo returns the co-signing history of a statecoin.
func (c *Client) StatechainInfo(ctx context.Context, statechainID string) (*protocol.StatechainInfoResponse, error) {
	var out protocol.StatechainInfoResponse
	if err := c.do(ctx, http.MethodGet, "info/statechain/"+url.PathEscape(statechainID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMsgAddr returns the encrypted transfer messages addressed to authPubkey.
func (c *Client) GetMsgAddr(ctx context.Context, authPubkey string) ([]string, error) {
	var out protocol.GetMsgAddrResponse
	if err := c.do(ctx, http.MethodGet, "transfer/get_msg_addr/"+url.PathEscape(authPubkey), nil, &out); err != nil {
		return nil, err
	}
	return out.ListEncTransferMsg, nil
}

// TransferSender requests x1 for an outgoing transfer.
func (c *Client) TransferSender(ctx context.Context, req *protocol.TransferSenderRequest) (string, error) {
	var out protocol.TransferSenderResponse
	if err := c.do(ctx, http.MethodPost, "transfer/sender", req, &out); err != nil {
		return "", err
	}
	return out.X1, nil
}

// TransferUpdateMsg posts the encrypted transfer message.
func (c *Client) TransferUpdateMsg(ctx context.Context, req *protocol.TransferUpdateMsgRequest) (bool, error) {
	var out protocol.TransferUpdateMsgResponse
	if err := c.do(ctx, http.MethodPost, "transfer/update_msg", req, &out); err != nil {
		return false, err
	}
	return out.Updated, nil
}

// TransferReceiver submits a claim and returns the entity's new public key.
func (c *Client) TransferReceiver(ctx context.Context, req *protocol.TransferReceiverRequest) (string, error) {
	var out protocol.TransferReceiverResponse
	if err := c.do(ctx, http.MethodPost, "transfer/receiver", req, &out); err != nil {
		return "", err
	}
	return out.ServerPubkey, nil
}

// TransferUnlock releases the batch lock on a statecoin.
func (c *Client) TransferUnlock(ctx context.Context, req *protocol.TransferUnlockRequest) error {
	return c.do(ctx, http.MethodPost, "transfer/unlock", req, nil)
}

// SignFirst opens a co-signing session and returns the server nonce.
func (c *Client) SignFirst(ctx context.Context, req *protocol.SignFirstRequest) (string, error) {
	var out protocol.SignFirstResponse
	if err := c.do(ctx, http.MethodPost, "sign/first", req, &out); err != nil {
		return "", err
	}
	return out.ServerPubNonce, nil
}

// SignSecond returns the server's partial signature for a challenge.
func (c *Client) SignSecond(ctx context.Context, req *protocol.SignSecondRequest) (string, error) {
	var out protocol.SignSecondResponse
	if err := c.do(ctx, http.MethodPost, "sign/second", req, &out); err != nil {
		return "", err
	}
	return out.PartialSig, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", protocol.ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	log.Server.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func decodeError(status int, data []byte) error {
	apiErr := &APIError{Status: status}
	var body protocol.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && (body.Code != "" || body.Message != "") {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

