package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/models"
	"github.com/stocktrend/prediagent/pkg/retry"
)

// cardTimeout bounds the discovery request so a slow agent does not stall
// callers that could still fall back to /invoke
const cardTimeout = 3 * time.Second

// ErrEmptyTicker is returned before any request is made when the ticker
// is blank
var ErrEmptyTicker = errors.New("ticker must not be empty")

// StatusError reports a non-success HTTP response from the agent
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.Status, e.Body)
}

// Client talks to the forecast agent. It discovers the agent card, probes
// the advertised JSON-RPC method names and falls back to the plain /invoke
// endpoint when JSON-RPC is not usable.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger

	// Retry is the backoff profile applied around a full forecast call
	Retry retry.Config
}

// NewClient creates a client for the agent at baseURL
func NewClient(baseURL string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		Retry:  retry.AgentCallConfig(),
	}
}

// FetchCard retrieves the agent's discovery card
func (c *Client) FetchCard(ctx context.Context) (*AgentCard, error) {
	ctx, cancel := context.WithTimeout(ctx, cardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+CardPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build card request: %w", err)
	}
	injectTraceContext(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Op: "fetch agent card", Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}
	return &card, nil
}

// Forecast requests a prediction for ticker, retrying transient failures
// with the client's backoff profile. The result maps ISO dates to prices.
// A days value of zero asks for the agent's default horizon.
func (c *Client) Forecast(ctx context.Context, ticker string, days int) (map[string]float64, error) {
	ticker = models.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, ErrEmptyTicker
	}

	var result map[string]float64
	err := retry.Do(ctx, c.Retry, func() error {
		res, err := c.forecastOnce(ctx, ticker, days)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// forecastOnce runs one discovery plus call cycle: card, JSON-RPC probe
// over the candidate methods, then the /invoke fallback
func (c *Client) forecastOnce(ctx context.Context, ticker string, days int) (map[string]float64, error) {
	card, err := c.FetchCard(ctx)
	if err != nil {
		c.logger.Debug("Agent card unavailable, using /invoke directly", map[string]interface{}{
			"error": err.Error(),
		})
		card = nil
	}

	// A JSON-RPC answer other than method-not-found is a real verdict
	// from the agent, worth reporting over a later fallback failure.
	var lastRPC *RPCError

	if card != nil && strings.EqualFold(card.PreferredTransport, TransportJSONRPC) {
		for _, method := range card.CandidateMethods() {
			result, err := c.CallMethod(ctx, method, ticker, days)
			if err == nil {
				return result, nil
			}
			var rpcErr *RPCError
			if errors.As(err, &rpcErr) && rpcErr.Code != CodeMethodNotFound {
				lastRPC = rpcErr
			}
			c.logger.Debug("JSON-RPC method failed, trying next candidate", map[string]interface{}{
				"method": method,
				"error":  err.Error(),
			})
		}
	}

	result, err := c.Invoke(ctx, ticker, days)
	if err == nil {
		return result, nil
	}
	if lastRPC != nil {
		return nil, retry.Permanent(lastRPC)
	}
	var se *StatusError
	if errors.As(err, &se) && !retry.RetryableStatus(se.Status) {
		return nil, retry.Permanent(err)
	}
	return nil, err
}

// CallMethod posts a single JSON-RPC prediction request using the given
// method name
func (c *Client) CallMethod(ctx context.Context, method, ticker string, days int) (map[string]float64, error) {
	params, err := json.Marshal(PredictParams{
		ToolInputs: map[string]PredictInput{
			SkillShortTermPredict: {Ticker: ticker, Days: days},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	body, err := json.Marshal(Request{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
		ID:      uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build jsonrpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	injectTraceContext(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc call failed: %w", err)
	}
	defer resp.Body.Close()

	// Error responses still carry a JSON-RPC body, decode before judging
	// the status code
	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, &StatusError{Op: "jsonrpc call", Status: resp.StatusCode, Body: err.Error()}
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	var result map[string]float64
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode forecast result: %w", err)
	}
	return result, nil
}

// Invoke posts to the plain-HTTP fallback endpoint
func (c *Client) Invoke(ctx context.Context, ticker string, days int) (map[string]float64, error) {
	body, err := json.Marshal(InvokeRequest{
		Action: SkillShortTermPredict,
		Kwargs: InvokeKwargs{Ticker: ticker, Days: days},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invoke request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+InvokePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	injectTraceContext(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Op: "invoke", Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var ir InvokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, fmt.Errorf("failed to decode invoke response: %w", err)
	}
	if !ir.OK {
		return nil, fmt.Errorf("invoke rejected: %s", ir.Error)
	}
	return ir.Result, nil
}

// injectTraceContext propagates any active trace into the outbound
// request headers. Without a configured propagator this is a no-op.
func injectTraceContext(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}
