package nzua

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
	"github.com/nzua-hub/grade-notifier/pkg/circuitbreaker"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
	"github.com/nzua-hub/grade-notifier/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// DefaultBaseURL is the public mobile API root.
const DefaultBaseURL = "http://api-mobile.nz.ua/v1"

// ClientConfig contains configuration for the nz.ua client.
type ClientConfig struct {
	// BaseURL is the API root, without a trailing slash.
	BaseURL string

	// Timeout bounds every single request.
	Timeout time.Duration

	// UserAgent is sent on every request.
	UserAgent string

	// RateLimit is the sustained request rate toward the API (requests/sec).
	RateLimit float64

	// RateBurst is the token bucket size.
	RateBurst int

	// BreakerThreshold is the number of consecutive transport or 5xx
	// failures that opens the circuit.
	BreakerThreshold int

	// BreakerTimeout is how long the circuit stays open.
	BreakerTimeout time.Duration

	// HTTPClient overrides the transport, for tests.
	HTTPClient *http.Client

	Logger *logger.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:          DefaultBaseURL,
		Timeout:          15 * time.Second,
		UserAgent:        "grade-notifier/1.0",
		RateLimit:        5,
		RateBurst:        5,
		BreakerThreshold: 5,
		BreakerTimeout:   60 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ENDPOINT KINDS
// ══════════════════════════════════════════════════════════════════════════════

// Kind selects one of the date-range endpoints under /schedule.
type Kind string

const (
	KindDiary              Kind = "diary"
	KindTimetable          Kind = "timetable"
	KindStudentPerformance Kind = "student-performance"
	KindMissedLessons      Kind = "missed-lessons"
	KindSubjectGrades      Kind = "subject-grades"
)

// Kinds lists every range endpoint.
var Kinds = []Kind{KindDiary, KindTimetable, KindStudentPerformance, KindMissedLessons, KindSubjectGrades}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown endpoint kind %q", shared.ErrInvalidArgument, s)
}

// Endpoint returns the path relative to the base URL.
func (k Kind) Endpoint() string {
	return "schedule/" + string(k)
}

const (
	endpointLogin         = "user/login"
	endpointNotifications = "notifications/last-notifications"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Principal is what a data request needs from a logged-in account.
type Principal struct {
	AccessToken string
	StudentID   int64
}

// PrincipalOf extracts the request identity from an account.
func PrincipalOf(acc *account.Account) (Principal, error) {
	if !acc.HasSession() || acc.Profile == nil {
		return Principal{}, shared.ErrNoSession
	}
	return Principal{AccessToken: acc.Session.AccessToken, StudentID: acc.Profile.StudentID}, nil
}

// Client is the nz.ua mobile API client.
//
// Requests are never retried here: a failed call surfaces as a typed error
// and the next scheduled pass tries again.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logger.Logger
}

// NewClient creates a new nz.ua client.
func NewClient(config ClientConfig) *Client {
	def := DefaultClientConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	if config.RateBurst <= 0 {
		config.RateBurst = def.RateBurst
	}
	if config.Logger == nil {
		config.Logger = logger.Default()
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	log := config.Logger.With(logger.Component("nzua"))

	return &Client{
		config:     config,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, config.RateBurst),
		breaker: circuitbreaker.New("nzua",
			circuitbreaker.WithFailureThreshold(config.BreakerThreshold),
			circuitbreaker.WithTimeout(config.BreakerTimeout),
			circuitbreaker.WithIsFailure(countsAgainstRemote),
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()))
			}),
		),
		logger: log,
	}
}

// BreakerState reports the circuit state, for health checks.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// Login exchanges credentials for a bearer token.
// Non-2xx answers and bodies without the required fields are *grade.AuthError.
// A request that never got an answer is *grade.RemoteFetchError.
func (c *Client) Login(ctx context.Context, creds account.Credentials) (account.LoginResult, error) {
	body, err := c.do(ctx, http.MethodPost, endpointLogin, "", loginRequest{
		Username: creds.Login,
		Password: creds.Password,
	})
	if err != nil {
		var fetchErr *grade.RemoteFetchError
		if errors.As(err, &fetchErr) && fetchErr.Status != 0 {
			return account.LoginResult{}, &grade.AuthError{Status: fetchErr.Status}
		}
		return account.LoginResult{}, err
	}

	var dto loginResponseDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return account.LoginResult{}, &grade.AuthError{Reason: "malformed response", Err: err}
	}

	var missing []string
	if dto.FIO == nil {
		missing = append(missing, "FIO")
	}
	if dto.ExpiresToken == nil {
		missing = append(missing, "expires_token")
	}
	if dto.StudentID == nil {
		missing = append(missing, "student_id")
	}
	if dto.AccessToken == nil || *dto.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if len(missing) > 0 {
		return account.LoginResult{}, &grade.AuthError{Reason: "missing " + strings.Join(missing, ", ")}
	}

	return account.LoginResult{
		FullName:    *dto.FIO,
		ExpiresAt:   int64(*dto.ExpiresToken),
		StudentID:   int64(*dto.StudentID),
		AccessToken: *dto.AccessToken,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DATE RANGES
// ══════════════════════════════════════════════════════════════════════════════

// NormalizeRange turns one date into [d, d] and passes two dates through.
// Any other count is *grade.InvalidRangeError. Dates must be YYYY-MM-DD.
func NormalizeRange(dates ...string) (start, end string, err error) {
	switch len(dates) {
	case 1:
		start, end = dates[0], dates[0]
	case 2:
		start, end = dates[0], dates[1]
	default:
		return "", "", &grade.InvalidRangeError{Count: len(dates)}
	}
	for _, d := range []string{start, end} {
		if _, err := timeutil.ParseDate(d); err != nil {
			return "", "", fmt.Errorf("%w: date %q is not YYYY-MM-DD", shared.ErrInvalidArgument, d)
		}
	}
	return start, end, nil
}

// FetchRange posts {start_date, end_date, student_id} to one of the schedule
// endpoints and returns the raw JSON body. Use FetchSubjectRange for
// subject-grades, which also needs a subject id.
func (c *Client) FetchRange(ctx context.Context, p Principal, kind Kind, dates ...string) (json.RawMessage, error) {
	start, end, err := NormalizeRange(dates...)
	if err != nil {
		return nil, err
	}
	if kind == KindSubjectGrades {
		return nil, fmt.Errorf("%w: %s needs a subject id", shared.ErrInvalidArgument, kind)
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodPost, kind.Endpoint(), p.AccessToken, rangeRequest{
		StartDate: start,
		EndDate:   end,
		StudentID: p.StudentID,
	})
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &grade.DecodeError{Endpoint: kind.Endpoint(), Err: errors.New("invalid JSON")}
	}
	return body, nil
}

// FetchSubjectRange fetches lesson-level marks of one subject.
func (c *Client) FetchSubjectRange(ctx context.Context, p Principal, subjectID string, dates ...string) (*SubjectGradesDTO, error) {
	start, end, err := NormalizeRange(dates...)
	if err != nil {
		return nil, err
	}

	endpoint := KindSubjectGrades.Endpoint()
	body, err := c.do(ctx, http.MethodPost, endpoint, p.AccessToken, subjectGradesRequest{
		StudentID: p.StudentID,
		SubjectID: subjectID,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		return nil, err
	}

	var dto SubjectGradesDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, &grade.DecodeError{Endpoint: endpoint, Err: err}
	}
	return &dto, nil
}

// Performance fetches the student-performance summary.
func (c *Client) Performance(ctx context.Context, p Principal, dates ...string) (*PerformanceDTO, error) {
	body, err := c.FetchRange(ctx, p, KindStudentPerformance, dates...)
	if err != nil {
		return nil, err
	}
	var dto PerformanceDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, &grade.DecodeError{Endpoint: KindStudentPerformance.Endpoint(), Err: err}
	}
	return &dto, nil
}

// LastNotifications fetches the most recent feed events.
func (c *Client) LastNotifications(ctx context.Context, p Principal, limit int) (json.RawMessage, error) {
	endpoint := endpointNotifications + "?limit=" + url.QueryEscape(strconv.Itoa(limit))
	body, err := c.do(ctx, http.MethodGet, endpoint, p.AccessToken, nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &grade.DecodeError{Endpoint: endpointNotifications, Err: errors.New("invalid JSON")}
	}
	return body, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

func (c *Client) do(ctx context.Context, method, endpoint, token string, payload any) ([]byte, error) {
	name := endpoint
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}

	var body []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return &grade.RemoteFetchError{Endpoint: name, Err: err}
		}
		var err error
		body, err = c.doSingleRequest(ctx, method, name, endpoint, token, payload)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return nil, &grade.RemoteFetchError{Endpoint: name, Err: err}
	}
	return body, err
}

func (c *Client) doSingleRequest(ctx context.Context, method, name, endpoint, token string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", name, err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+"/"+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", name, err)
	}

	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Charset", "utf-8, *;q=0.8")
	req.Header.Set("Accept-Language", "en-us")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &grade.RemoteFetchError{Endpoint: name, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &grade.RemoteFetchError{Endpoint: name, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("nzua request",
		logger.String("method", method),
		logger.String("endpoint", name),
		logger.Int("status", resp.StatusCode),
		logger.Latency(time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &grade.RemoteFetchError{Endpoint: name, Status: resp.StatusCode}
	}
	return respBody, nil
}

// countsAgainstRemote keeps client-side problems (bad credentials, 4xx)
// from opening the circuit.
func countsAgainstRemote(err error) bool {
	var fetchErr *grade.RemoteFetchError
	if !errors.As(err, &fetchErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return fetchErr.Status == 0 || fetchErr.Status >= 500 || fetchErr.Status == http.StatusTooManyRequests
}
