// Package saxo implements broker.Gateway against the Saxo Bank OpenAPI.
package saxo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rustyeddy/fxexec/broker"
)

const (
	SimURL  = "https://gateway.saxobank.com/sim/openapi"
	LiveURL = "https://gateway.saxobank.com/openapi"

	SimAuthURL  = "https://sim.logonvalidation.net"
	LiveAuthURL = "https://live.logonvalidation.net"

	// DefaultTimeout bounds every request so one slow call cannot stall a
	// cycle.
	DefaultTimeout = 10 * time.Second
)

// BaseURL maps an environment name to the OpenAPI root. Live trading is
// refused here as a second line of defence behind the engine's environment
// gate.
func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "sim", "practice", "demo":
		return SimURL, nil
	case "live":
		return "", errors.New("live trading is not allowed")
	default:
		return "", fmt.Errorf("unknown saxo env %q (want sim|live)", env)
	}
}

// ResolveBaseURL returns override when it is set and BaseURL(env) otherwise.
// An override must point at the simulation gateway or a loopback test
// server; anything else is treated as live and refused.
func ResolveBaseURL(env, override string) (string, error) {
	base, err := BaseURL(env)
	if err != nil {
		return "", err
	}
	override = strings.TrimSpace(override)
	if override == "" {
		return base, nil
	}
	if !IsSimURL(override) {
		return "", fmt.Errorf("base url %q is not the simulation gateway: live trading is not allowed", override)
	}
	return override, nil
}

// IsSimURL reports whether raw is under the simulation gateway root or on a
// loopback host.
func IsSimURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	sim, _ := url.Parse(SimURL)
	if !strings.EqualFold(u.Hostname(), sim.Hostname()) {
		return false
	}
	p := strings.TrimRight(u.Path, "/")
	return p == sim.Path || strings.HasPrefix(p, sim.Path+"/")
}

// AuthURL maps an environment name to the OAuth host.
func AuthURL(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "live") {
		return LiveAuthURL
	}
	return SimAuthURL
}

type client struct {
	baseURL string
	http    *http.Client
}

// do sends a JSON request and decodes a JSON response into out. Transport
// errors and non-2xx responses wrap broker.ErrUnavailable; the response body
// is kept in the message.
func (c *client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", broker.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &StatusError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(b)),
		}
	}

	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", broker.ErrUnavailable, path, err)
	}
	return nil
}

// StatusError is a non-2xx OpenAPI response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("saxo %s %s http %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	return broker.ErrUnavailable
}
