package royaleapi

import (
	"context"
	"fmt"
	"time"

	"royaledata/lib/pipeline"
	"royaledata/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("royaleapi")

const DefaultBaseUrl = "https://api.clashroyale.com/v1"

// delay between paginated requests to stay under the developer
// portal's throttling tier
const politeDelay = time.Millisecond * 200

type Client struct {
	http *resty.Client
}

type ClientOptions struct {
	// defaults to DefaultBaseUrl
	BaseUrl string
	// bearer token from the developer portal
	Token string
	// per-request timeout, defaults to 10s
	Timeout time.Duration
}

func NewClient(opts ClientOptions) *Client {
	baseUrl := opts.BaseUrl
	if baseUrl == "" {
		baseUrl = DefaultBaseUrl
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 10
	}

	client := resty.New()
	client.SetBaseURL(baseUrl)
	client.SetTimeout(timeout)
	client.SetHeader("Authorization", fmt.Sprintf("Bearer %s", opts.Token))

	telemetry.InstrumentResty(client, "royaleapi/http")

	return &Client{http: client}
}

// get performs one API request and classifies the outcome: timeouts,
// 429 and 5xx are transient; other non-2xx statuses are permanent.
func (c *Client) get(ctx context.Context, path string, query map[string]string) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	res, err := req.Get(path)
	if err != nil {
		return nil, pipeline.Transient(err)
	}

	status := res.StatusCode()
	switch {
	case res.IsSuccess():
		return res, nil
	case status == 429 || status >= 500:
		return nil, pipeline.Transient(fmt.Errorf("HTTP %d from %s", status, path))
	default:
		return nil, pipeline.Permanent(fmt.Errorf("HTTP %d from %s: %s", status, path, truncate(res.String(), 200)))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// sleepCtx waits for the polite inter-page delay unless the context
// ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
