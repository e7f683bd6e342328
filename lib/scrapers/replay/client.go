package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"royaledata/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/replay")

const DefaultBaseUrl = "https://royaleapi.com"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// Session is one authenticated scraping context against the replay
// site. It accumulates cookies and server-side navigation state, so it
// is recycled after a budget of fetches rather than kept for a whole
// run.
type Session struct {
	baseUrl *url.URL
	http    *resty.Client
}

type SessionOptions struct {
	// defaults to DefaultBaseUrl
	BaseUrl string
	// path to a storage-state json (the cookie dump saved from a
	// logged-in browser); empty runs anonymously
	StorageStatePath string
	// per-request timeout, defaults to 10s
	Timeout time.Duration
}

func NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	base := opts.BaseUrl
	if base == "" {
		base = DefaultBaseUrl
	}
	baseUrl, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 10
	}

	client := resty.New()
	client.SetBaseURL(base)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(timeout)

	if opts.StorageStatePath != "" {
		err = loadStorageState(jar, baseUrl, opts.StorageStatePath)
		if err != nil {
			return nil, fmt.Errorf("loading storage state: %w", err)
		}
	}

	telemetry.InstrumentResty(client, "scrapers/replay/http")

	return &Session{
		baseUrl: baseUrl,
		http:    client,
	}, nil
}

func (s *Session) Close() {}

// storage-state format as saved by `context.storage_state(path=...)`
// in a browser automation session
type storageState struct {
	Cookies []storageCookie `json:"cookies"`
}

type storageCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
	Secure bool   `json:"secure"`
}

func loadStorageState(jar http.CookieJar, baseUrl *url.URL, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var state storageState
	err = json.Unmarshal(raw, &state)
	if err != nil {
		return err
	}

	byDomain := map[string][]*http.Cookie{}
	for _, c := range state.Cookies {
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "" {
			domain = baseUrl.Hostname()
		}
		byDomain[domain] = append(byDomain[domain], &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Path:   c.Path,
			Domain: c.Domain,
			Secure: c.Secure,
		})
	}

	for domain, cookies := range byDomain {
		jar.SetCookies(&url.URL{Scheme: "https", Host: domain}, cookies)
	}
	return nil
}
