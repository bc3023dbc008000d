// Package proxy dials outbound connections through HTTP CONNECT or
// SOCKS5 proxies.
package proxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// ErrUnsupportedScheme is returned for proxy URLs that are neither
// http nor socks5
var ErrUnsupportedScheme = errors.New("unsupported proxy scheme")

// Config describes a proxy endpoint
type Config struct {
	Scheme   string
	Host     string
	Port     string
	Username string
	Password string
}

// Parse parses a proxy URL of the form scheme://[user:pass@]host:port.
// An empty string yields a nil Config, meaning direct connections.
func Parse(raw string) (*Config, error) {
	if raw == "" {
		return nil, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "socks5" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("proxy URL %q has no host", raw)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "8080"
		case "socks5":
			port = "1080"
		}
	}

	cfg := &Config{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}

	return cfg, nil
}

// Address returns the host:port of the proxy endpoint
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// DialContext connects to addr through the proxy. A nil Config dials
// directly.
func (c *Config) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}

	if c == nil {
		return dialer.DialContext(ctx, network, addr)
	}

	switch c.Scheme {
	case "socks5":
		return c.dialSOCKS5(ctx, dialer, network, addr)
	case "http":
		return c.dialHTTPConnect(ctx, dialer, network, addr)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, c.Scheme)
	}
}

func (c *Config) dialSOCKS5(ctx context.Context, forward *net.Dialer, network, addr string) (net.Conn, error) {
	var auth *xproxy.Auth
	if c.Username != "" {
		auth = &xproxy.Auth{User: c.Username, Password: c.Password}
	}

	d, err := xproxy.SOCKS5("tcp", c.Address(), auth, forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}

	cd, ok := d.(xproxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks5 dialer does not support context")
	}

	conn, err := cd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("socks5 dial %s: %w", addr, err)
	}
	return conn, nil
}

func (c *Config) dialHTTPConnect(ctx context.Context, forward *net.Dialer, network, addr string) (net.Conn, error) {
	conn, err := forward.DialContext(ctx, network, c.Address())
	if err != nil {
		return nil, fmt.Errorf("dial proxy %s: %w", c.Address(), err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if c.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
		req.Header.Set("Proxy-Authorization", "Basic "+cred)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write CONNECT request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT to %s failed: %s", addr, resp.Status)
	}

	// Clear the tunnel deadline; the caller manages I/O deadlines
	conn.SetDeadline(time.Time{})

	return conn, nil
}
