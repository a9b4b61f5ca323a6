package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ServiceClient issues HTTP calls against a discovered, load-balanced
// service, retrying transient failures a bounded number of times with
// a fixed delay between attempts (§4.5 — unlike resilience/retry.go's
// exponential backoff, the spec calls for a flat delay, so that part
// of the teacher's shape is deliberately not reused).
type ServiceClient struct {
	discovery *DiscoveryClient
	strategy  Strategy
	config    ServiceClientConfig
	logger    Logger
	client    *http.Client
}

// NewServiceClient constructs a ServiceClient bound to one service
// name, strategy, and retry policy. config is defaulted and validated.
func NewServiceClient(d *DiscoveryClient, config ServiceClientConfig, logger Logger) (*ServiceClient, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NoOpLogger{}
	}

	return &ServiceClient{
		discovery: d,
		strategy:  NewStrategy(config.LoadBalancingStrategy),
		config:    config,
		logger:    logger,
		client:    &http.Client{Timeout: config.Timeout},
	}, nil
}

// Do executes req against a discovered instance of the configured
// service, retrying on transient failure per §4.5: connection errors,
// timeouts, and the retryable HTTP status codes in errors.go. A
// non-transient error (including "no instances available") is
// returned immediately without retrying.
//
// req.URL's Path and RawQuery are preserved; Scheme/Host are replaced
// with the selected instance's BaseURL on every attempt, since a retry
// may land on a different instance.
func (c *ServiceClient) Do(ctx context.Context, req *http.Request, callerKey string) (*http.Response, error) {
	var lastErr error

	attempts := c.config.Retries + 1
	lc, hasLeastConn := c.strategy.(*leastConnectionsStrategy)

	for attempt := 0; attempt < attempts; attempt++ {
		inst, ok, err := c.discovery.DiscoverOne(ctx, c.config.ServiceName, c.config.Filter, c.strategy, callerKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: service %q", ErrNoInstances, c.config.ServiceName)
		}

		if hasLeastConn {
			lc.Acquire(inst.ID)
		}

		resp, err := c.doOnce(ctx, req, inst)

		if hasLeastConn {
			lc.Release(inst.ID)
		}

		if err == nil && !isRetryableResponse(resp) {
			return resp, nil
		}

		if err == nil {
			lastErr = &TransientError{StatusCode: resp.StatusCode, Err: errNonRetryableBody(resp)}
			resp.Body.Close()
		} else {
			lastErr = err
		}

		if !IsRetryable(lastErr) {
			return nil, lastErr
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}
	}

	return nil, &BackendError{Op: "Do", Backend: "service-client", Err: fmt.Errorf("%w: %w", ErrMaxAttemptsExceeded, lastErr), ID: c.config.ServiceName}
}

func (c *ServiceClient) doOnce(ctx context.Context, req *http.Request, inst *Instance) (*http.Response, error) {
	cloned := req.Clone(ctx)
	cloned.URL.Scheme = string(inst.Protocol)
	cloned.URL.Host = inst.Host + ":" + strconv.Itoa(inst.Port)

	resp, err := c.client.Do(cloned)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	return resp, nil
}

func isRetryableResponse(resp *http.Response) bool {
	return resp != nil && IsRetryableStatus(resp.StatusCode)
}

func errNonRetryableBody(resp *http.Response) error {
	return errors.New(http.StatusText(resp.StatusCode))
}

