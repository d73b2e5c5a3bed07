package readiness

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds one probe attempt.
const DefaultProbeTimeout = 2 * time.Second

// ProbeError reports why a target never became ready.
type ProbeError struct {
	Target   string
	Attempts int
	Elapsed  time.Duration
	LastErr  error
}

// Error implements error interface
func (e *ProbeError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("%s not ready after %d probes in %s: %v", e.Target, e.Attempts, e.Elapsed.Round(time.Millisecond), e.LastErr)
	}
	return fmt.Sprintf("%s not ready after %d probes in %s", e.Target, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

// Unwrap implements error unwrapping
func (e *ProbeError) Unwrap() error {
	return e.LastErr
}

// Prober checks one readiness target.
type Prober interface {
	Target() string
	Check(ctx context.Context) error
}

// HTTPProber probes a health URL with GET requests.
type HTTPProber struct {
	url      string
	expected map[int]bool
	client   *http.Client
}

// NewHTTPProber creates a prober for the given URL. With no expected
// statuses, only 200 counts as ready.
func NewHTTPProber(url string, timeout time.Duration, expected ...int) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	statuses := map[int]bool{http.StatusOK: true}
	if len(expected) > 0 {
		statuses = make(map[int]bool, len(expected))
		for _, code := range expected {
			statuses[code] = true
		}
	}

	return &HTTPProber{
		url:      url,
		expected: statuses,
		client:   &http.Client{Timeout: timeout},
	}
}

// WithTLS installs a client TLS config, for probing https targets that
// use a local CA or self-signed certificates.
func (p *HTTPProber) WithTLS(cfg *tls.Config) *HTTPProber {
	p.client.Transport = &http.Transport{TLSClientConfig: cfg}
	return p
}

func (p *HTTPProber) Target() string {
	return p.url
}

// Check performs a single probe.
func (p *HTTPProber) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if !p.expected[resp.StatusCode] {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

// TCPProber probes a listen address by dialing it. Fallback for
// targets without a health route.
type TCPProber struct {
	addr    string
	timeout time.Duration
}

// NewTCPProber creates a prober for host:port.
func NewTCPProber(addr string, timeout time.Duration) *TCPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &TCPProber{addr: addr, timeout: timeout}
}

func (p *TCPProber) Target() string {
	return "tcp://" + p.addr
}

// Check dials the address once.
func (p *TCPProber) Check(ctx context.Context) error {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	conn.Close()
	return nil
}
