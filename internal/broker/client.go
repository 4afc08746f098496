package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flowty/flowty/internal/domain"
	"github.com/flowty/flowty/internal/transport"
	"github.com/flowty/flowty/libs/go/core/resilience"
)

// Client is the scheduler-side broker client. Calls are wrapped with a
// circuit breaker + jittered retry (libs/go/core/resilience) since a
// momentarily unreachable broker is a transport-level concern distinct from
// the domain-level retries/retry_interval of §4.3 — see
// ExecutionBrokerUnreachable in §7.
type Client struct {
	baseURI string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	retries int
	backoff time.Duration
}

// NewClient builds a Client pointed at the broker's baseURI (e.g.
// "http://[::1]:50051"), with the given per-RPC deadline.
func NewClient(baseURI string, rpcDeadline time.Duration) *Client {
	return &Client{
		baseURI: baseURI,
		http:    &http.Client{Timeout: rpcDeadline},
		breaker: resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 5, 0.5, 10*time.Second, 3),
		retries: 3,
		backoff: 250 * time.Millisecond,
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("broker circuit open")
	}

	_, err := resilience.Retry(ctx, c.retries, c.backoff, func() (struct{}, error) {
		payload, err := json.Marshal(body)
		if err != nil {
			return struct{}{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURI+path, bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, fmt.Errorf("broker %s: status %d", path, resp.StatusCode)
		}
		return struct{}{}, json.NewDecoder(resp.Body).Decode(out)
	})

	c.breaker.RecordResult(err == nil)
	return err
}

// RegisterExecutor calls ExecutionBroker.RegisterExecutor.
func (c *Client) RegisterExecutor(ctx context.Context, uri string, def domain.ExecutorDefinition) (string, error) {
	var reply transport.RegistrationReply
	req := transport.RegistrationRequest{URI: uri, ExecutorDefinition: def}
	if err := c.post(ctx, "/v1/broker/register", req, &reply); err != nil {
		return "", domain.NewExecutionBrokerUnreachableError("", "", err)
	}
	return reply.UniqueID, nil
}

// HeartBeat calls ExecutionBroker.HeartBeat.
func (c *Client) HeartBeat(ctx context.Context, uniqueID string) (string, error) {
	var reply transport.Heartbeat
	req := transport.Heartbeat{UniqueID: uniqueID}
	if err := c.post(ctx, "/v1/broker/heartbeat", req, &reply); err != nil {
		return "", domain.NewExecutionBrokerUnreachableError("", "", err)
	}
	return reply.UniqueID, nil
}

// FindExecutor calls ExecutionBroker.FindExecutor. workflow/task identify
// the caller for error context only.
func (c *Client) FindExecutor(ctx context.Context, workflow, task string, def domain.ExecutorDefinition, blockList []string) (string, error) {
	var reply transport.SearchReply
	req := transport.SearchRequest{ExecutorDefinition: def, BlockList: blockList}
	if err := c.post(ctx, "/v1/broker/find", req, &reply); err != nil {
		return "", domain.NewExecutionBrokerUnreachableError(workflow, task, err)
	}
	return reply.URI, nil
}
