// Package electrum provides a JSON-RPC client for Electrum servers, used to
// fetch transactions, unspent outputs, chain height and fee estimates.
package electrum

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-statechain/internal/log"
	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
	"golang.org/x/net/proxy"
)

const (
	clientName      = "klingnet-statechain"
	protocolVersion = "1.4"
	defaultTimeout  = 30 * time.Second
)

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("electrum client closed")

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

// response is a JSON-RPC 2.0 response or server notification.
type response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	ID     *uint64         `json:"id"`
	Method string          `json:"method,omitempty"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("electrum error %d: %s", e.Code, e.Message)
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Client is a newline-delimited JSON-RPC client over TCP or TLS. Calls are
// serialized on a single connection, which is re-established after an
// I/O error.
type Client struct {
	addr    string
	useTLS  bool
	timeout time.Duration
	dial    dialFunc

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID uint64
	closed bool
}

// New creates a client for server, given as tcp://host:port or
// ssl://host:port. A non-empty torProxy routes the connection through SOCKS5.
func New(server, torProxy string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid electrum server %q: %w", server, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid electrum server %q: missing host", server)
	}

	c := &Client{addr: u.Host, timeout: timeout}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	switch u.Scheme {
	case "tcp":
	case "ssl", "tls":
		c.useTLS = true
	default:
		return nil, fmt.Errorf("invalid electrum server %q: scheme must be tcp or ssl", server)
	}

	var d net.Dialer
	c.dial = d.DialContext
	if torProxy != "" {
		pu, err := url.Parse(torProxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", torProxy, err)
		}
		pd, err := proxy.FromURL(pu, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("proxy dialer: %w", err)
		}
		if cd, ok := pd.(proxy.ContextDialer); ok {
			c.dial = cd.DialContext
		} else {
			c.dial = func(_ context.Context, network, addr string) (net.Conn, error) {
				return pd.Dial(network, addr)
			}
		}
	}
	return c, nil
}

// GetTransaction returns the raw hex of a transaction.
func (c *Client) GetTransaction(ctx context.Context, txid string) (string, error) {
	var hex string
	if err := c.Call(ctx, "blockchain.transaction.get", []interface{}{txid}, &hex); err != nil {
		return "", err
	}
	return hex, nil
}

// ListUnspent returns the unspent outputs paying to an Electrum script hash.
func (c *Client) ListUnspent(ctx context.Context, scriptHash string) ([]protocol.Unspent, error) {
	var out []protocol.Unspent
	if err := c.Call(ctx, "blockchain.scripthash.listunspent", []interface{}{scriptHash}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BlockHeight returns the height of the server's chain tip.
func (c *Client) BlockHeight(ctx context.Context) (uint32, error) {
	var header struct {
		Height uint32 `json:"height"`
		Hex    string `json:"hex"`
	}
	if err := c.Call(ctx, "blockchain.headers.subscribe", []interface{}{}, &header); err != nil {
		return 0, err
	}
	return header.Height, nil
}

// EstimateFee returns the fee rate in BTC/kB for confirmation within blocks.
// Servers answer -1 when they have no estimate.
func (c *Client) EstimateFee(ctx context.Context, blocks int) (float64, error) {
	var rate float64
	if err := c.Call(ctx, "blockchain.estimatefee", []interface{}{blocks}, &rate); err != nil {
		return 0, err
	}
	return rate, nil
}

// Close shuts the connection down. Later calls return ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.resetLocked()
}

// Call invokes method and unmarshals the result into result (if non-nil).
func (c *Client) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}

	raw, err := c.roundTripLocked(ctx, method, params)
	if err != nil {
		return err
	}
	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dial(dialCtx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial electrum %s: %w", c.addr, err)
	}
	if c.useTLS {
		host, _, _ := net.SplitHostPort(c.addr)
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			conn.Close()
			return fmt.Errorf("tls handshake %s: %w", c.addr, err)
		}
		conn = tlsConn
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	var version []string
	raw, err := c.roundTripLocked(ctx, "server.version", []interface{}{clientName, protocolVersion})
	if err != nil {
		return fmt.Errorf("electrum handshake: %w", err)
	}
	if err := json.Unmarshal(raw, &version); err == nil && len(version) > 0 {
		log.Electrum.Debug().Str("server", c.addr).Strs("version", version).Msg("Connected")
	}
	return nil
}

func (c *Client) roundTripLocked(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	c.nextID++
	id := c.nextID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.resetLocked()
		return nil, err
	}
	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	body, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := c.conn.Write(append(body, '\n')); err != nil {
		c.resetLocked()
		return nil, c.ioError(ctx, "write", err)
	}

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			c.resetLocked()
			return nil, c.ioError(ctx, "read", err)
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.resetLocked()
			return nil, fmt.Errorf("decode response: %w", err)
		}
		// Subscription notifications carry a method and no id.
		if resp.ID == nil || *resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (c *Client) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("electrum %s %s: %w", op, c.addr, err)
}

func (c *Client) resetLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}
