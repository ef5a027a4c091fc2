package updater

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/watson-creative/tracking-injector/internal/cache"
	"github.com/watson-creative/tracking-injector/internal/telemetry"
)

// maxResponseSize bounds the repository metadata body.
const maxResponseSize = 2 << 20

// RepositoryData is the decoded repository object returned by the API.
type RepositoryData map[string]any

// String returns a string field, or "" when absent or not a string.
func (d RepositoryData) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Time parses an RFC 3339 timestamp field.
func (d RepositoryData) Time(key string) (time.Time, bool) {
	s := d.String(key)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FetchPolicy controls caching and rate limiting of repository fetches.
type FetchPolicy struct {
	// DataTTL is how long repository data stays in the shared cache.
	DataTTL time.Duration
	// RateLimit enables the minimum spacing between outbound API calls.
	RateLimit       bool
	RateLimitWindow time.Duration
	// Timeout applies to each API request.
	Timeout time.Duration
}

// DefaultFetchPolicy is one hour of caching and at most one call per five minutes.
func DefaultFetchPolicy() FetchPolicy {
	return FetchPolicy{
		DataTTL:         time.Hour,
		RateLimit:       true,
		RateLimitWindow: 5 * time.Minute,
		Timeout:         15 * time.Second,
	}
}

// Fetcher retrieves repository metadata for one plugin.
type Fetcher struct {
	config  *UpdateConfig
	cache   cache.Store
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	policy  FetchPolicy
	log     *logrus.Entry
	now     func() time.Time

	mu   sync.Mutex
	data RepositoryData
	// fetchedAt is when data last came from the API. Data read from the
	// shared cache keeps the previous stamp so the cache's own TTL governs it.
	fetchedAt time.Time
}

// NewFetcher creates a fetcher. A nil client gets one built from the
// policy timeout and the config's TLS setting.
func NewFetcher(cfg *UpdateConfig, store cache.Store, client *http.Client, policy FetchPolicy, log *logrus.Entry) *Fetcher {
	if client == nil {
		client = NewHTTPClient(policy.Timeout, cfg.SSLVerify)
	}
	f := &Fetcher{
		config: cfg,
		cache:  store,
		client: client,
		policy: policy,
		log:    log,
		now:    time.Now,
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "github-api",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("Circuit breaker %s changed from %v to %v", name, from, to)
		},
	})
	return f
}

// NewHTTPClient builds a client with a timeout and optional TLS verification.
func NewHTTPClient(timeout time.Duration, sslverify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !sslverify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via sslverify=false
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// withClock replaces the fetcher's clock. Used by tests.
func (f *Fetcher) withClock(now func() time.Time) {
	f.now = now
}

// Cached returns the in-process data without any I/O.
func (f *Fetcher) Cached() RepositoryData {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}

// fresh returns the in-process data while it is younger than the data TTL.
func (f *Fetcher) fresh() RepositoryData {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil || f.fetchedAt.IsZero() {
		return nil
	}
	if f.policy.DataTTL > 0 && f.now().Sub(f.fetchedAt) >= f.policy.DataTTL {
		return nil
	}
	return f.data
}

// FetchRepositoryData returns the repository metadata. Without force it
// honours the rate limit, the in-process copy (for one data TTL after the API
// call) and the shared cache, in that order. A rate-limited call returns the in-process copy, which may be nil;
// callers treat nil as "no data yet".
func (f *Fetcher) FetchRepositoryData(ctx context.Context, force bool) (RepositoryData, error) {
	ctx, span := telemetry.StartSpan(ctx, "updater.FetchRepositoryData")
	defer span.End()
	span.SetAttributes(attribute.String("plugin.slug", f.config.Slug), attribute.Bool("force", force))

	dataKey := cache.Key(f.config.Slug, cache.PurposeGitHubData)
	callKey := cache.Key(f.config.Slug, cache.PurposeAPICall)

	if !force && f.policy.RateLimit {
		if last, ok := f.lastCall(ctx, callKey); ok {
			since := f.now().Sub(last)
			if since < f.policy.RateLimitWindow {
				f.log.Debugf("Skipping GitHub API call, rate limited (called %s ago)", since.Round(time.Second))
				return f.Cached(), nil
			}
		}
	}

	if force {
		f.log.Info("Manual check, clearing cached GitHub data")
		if err := f.cache.Delete(ctx, dataKey); err != nil {
			f.log.Warnf("Failed to clear cached GitHub data: %v", err)
		}
		f.mu.Lock()
		f.data = nil
		f.mu.Unlock()
	} else {
		if data := f.fresh(); data != nil {
			f.log.Debug("Using in-process GitHub data")
			return data, nil
		}
		var cached RepositoryData
		ok, err := cache.GetJSON(ctx, f.cache, dataKey, &cached)
		if err != nil {
			f.log.Warnf("Ignoring unreadable GitHub data cache entry: %v", err)
		}
		if ok && cached != nil {
			f.log.Debug("Using cached GitHub data")
			f.mu.Lock()
			f.data = cached
			f.mu.Unlock()
			return cached, nil
		}
	}

	f.log.Infof("Fetching fresh data from GitHub API: %s", f.config.APIURL)
	data, err := f.remoteGet(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		f.log.Errorf("Failed to fetch GitHub data: %v", err)
		return nil, err
	}

	if !force {
		if err := cache.SetJSON(ctx, f.cache, dataKey, data, f.policy.DataTTL); err != nil {
			f.log.Warnf("Failed to cache GitHub data: %v", err)
		}
	}
	if f.policy.RateLimit {
		stamp := []byte(strconv.FormatInt(f.now().Unix(), 10))
		if err := f.cache.Set(ctx, callKey, stamp, f.policy.RateLimitWindow); err != nil {
			f.log.Warnf("Failed to record API call time: %v", err)
		}
	}

	f.mu.Lock()
	f.data = data
	f.fetchedAt = f.now()
	f.mu.Unlock()
	f.log.Info("Successfully retrieved GitHub data")
	return data, nil
}

func (f *Fetcher) lastCall(ctx context.Context, key string) (time.Time, bool) {
	raw, ok, err := f.cache.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}

// requestURL appends the access token to the API URL when configured.
func (f *Fetcher) requestURL() (string, error) {
	if f.config.AccessToken == "" {
		return f.config.APIURL, nil
	}
	u, err := url.Parse(f.config.APIURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("access_token", f.config.AccessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *Fetcher) remoteGet(ctx context.Context) (RepositoryData, error) {
	target, err := f.requestURL()
	if err != nil {
		return nil, &NetworkError{URL: f.config.APIURL, Err: err}
	}

	res, err := f.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("User-Agent", "tracking-injector-updater")

		resp, err := f.client.Do(req)
		if err != nil {
			// *url.Error repeats the full URL, token included.
			var uerr *url.Error
			if errors.As(err, &uerr) {
				err = uerr.Err
			}
			return nil, &NetworkError{URL: f.config.APIURL, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
			return nil, &NetworkError{URL: f.config.APIURL, StatusCode: resp.StatusCode}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, &NetworkError{URL: f.config.APIURL, Err: err}
		}
		return body, nil
	})
	if err != nil {
		var nerr *NetworkError
		if errors.As(err, &nerr) {
			return nil, nerr
		}
		return nil, &NetworkError{URL: f.config.APIURL, Err: err}
	}

	var data RepositoryData
	if err := json.Unmarshal(res.([]byte), &data); err != nil {
		return nil, &InvalidResponseError{URL: f.config.APIURL, Err: err}
	}
	if data == nil {
		return nil, &InvalidResponseError{URL: f.config.APIURL, Err: fmt.Errorf("expected a JSON object")}
	}
	return data, nil
}
