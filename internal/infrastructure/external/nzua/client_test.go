package nzua

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/internal/domain/shared"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

// fakeAPI is a scripted nz.ua server. Handlers are keyed by path.
type fakeAPI struct {
	t        *testing.T
	mu       sync.Mutex
	requests []recordedRequest
	handlers map[string]http.HandlerFunc
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	api := &fakeAPI{t: t, handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		BaseURL:          srv.URL + "/v1",
		Timeout:          2 * time.Second,
		BreakerThreshold: 100,
		Logger:           logger.Nop(),
	})
	return api, client
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		Body:   body,
	})
	h, ok := f.handlers[r.URL.Path]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeAPI) on(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[path] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func (f *fakeAPI) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

var principal = Principal{AccessToken: "tok-123", StudentID: 4242}

func TestLogin_Success(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("/v1/user/login", 200, `{"FIO":"Коваленко Олена","expires_token":1893456000,"student_id":"4242","access_token":"tok-123"}`)

	res, err := client.Login(context.Background(), account.Credentials{Login: "olena", Password: "secret"})

	require.NoError(t, err)
	assert.Equal(t, "Коваленко Олена", res.FullName)
	assert.EqualValues(t, 1893456000, res.ExpiresAt)
	assert.EqualValues(t, 4242, res.StudentID)
	assert.Equal(t, "tok-123", res.AccessToken)

	reqs := api.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "olena", reqs[0].Body["username"])
	assert.Equal(t, "secret", reqs[0].Body["password"])
	assert.Empty(t, reqs[0].Auth)
}

func TestLogin_Non2xxIsAuthError(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("/v1/user/login", 401, `{"message":"bad credentials"}`)

	_, err := client.Login(context.Background(), account.Credentials{Login: "x", Password: "y"})

	var authErr *grade.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 401, authErr.Status)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestLogin_MissingFieldsIsAuthError(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("/v1/user/login", 200, `{"FIO":"A","expires_token":1}`)

	_, err := client.Login(context.Background(), account.Credentials{Login: "x", Password: "y"})

	var authErr *grade.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "student_id")
	assert.Contains(t, authErr.Reason, "access_token")
}

func TestLogin_MalformedBodyIsAuthError(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("/v1/user/login", 200, `<html>`)

	_, err := client.Login(context.Background(), account.Credentials{Login: "x", Password: "y"})

	var authErr *grade.AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestFetchRange_SingleDateEqualsPair(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("/v1/schedule/diary", 200, `{"dates":[]}`)

	_, err := client.FetchRange(context.Background(), principal, KindDiary, "2024-10-16")
	require.NoError(t, err)
	_, err = client.FetchRange(context.Background(), principal, KindDiary, "2024-10-16", "2024-10-16")
	require.NoError(t, err)

	reqs := api.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].Body, reqs[1].Body)
	assert.Equal(t, "2024-10-16", reqs[0].Body["start_date"])
	assert.Equal(t, "2024-10-16", reqs[0].Body["end_date"])
	assert.EqualValues(t, 4242, reqs[0].Body["student_id"])
	assert.Equal(t, "Bearer tok-123", reqs[0].Auth)
}

func TestFetchRange_InvalidDateCounts(t *testing.T) {
	api, client := newFakeAPI(t)

	for _, dates := range [][]string{{}, {"2024-10-01", "2024-10-02", "2024-10-03"}} {
		_, err := client.FetchRange(context.Background(), principal, KindTimetable, dates...)
		var rangeErr *grade.InvalidRangeError
		require.ErrorAs(t, err, &rangeErr)
		assert.Equal(t, len(dates), rangeErr.Count)
	}
	assert.Empty(t, api.recorded(), "no request for contract violations")
}

func TestFetchRange_RejectsBadDateFormat(t *testing.T) {
	_, client := newFakeAPI(t)

	_, err := client.FetchRange(context.Background(), principal, KindDiary, "16.10.2024")
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestFetchRange_Non2xxIsRemoteFetchError(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("/v1/schedule/missed-lessons", 503, `oops`)

	_, err := client.FetchRange(context.Background(), principal, KindMissedLessons, "2024-10-01", "2024-10-31")

	var fetchErr *grade.RemoteFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "schedule/missed-lessons", fetchErr.Endpoint)
	assert.Equal(t, 503, fetchErr.Status)
}

func TestFetchRange_MalformedJSONIsDecodeError(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("/v1/schedule/timetable", 200, `{"dates":[`)

	_, err := client.FetchRange(context.Background(), principal, KindTimetable, "2024-10-14", "2024-10-20")

	var decodeErr *grade.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestFetchRange_SubjectGradesNeedsSubject(t *testing.T) {
	_, client := newFakeAPI(t)

	_, err := client.FetchRange(context.Background(), principal, KindSubjectGrades, "2024-10-14")
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestLastNotifications_SendsLimit(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("/v1/notifications/last-notifications", 200, `[]`)

	_, err := client.LastNotifications(context.Background(), principal, 25)
	require.NoError(t, err)

	reqs := api.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.Equal(t, "limit=25", reqs[0].Query)
}

func TestCircuitOpensOnServerErrors(t *testing.T) {
	api := &fakeAPI{t: t, handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(api.serve))
	defer srv.Close()
	api.on("/v1/schedule/diary", 500, `{}`)

	client := NewClient(ClientConfig{
		BaseURL:          srv.URL + "/v1",
		BreakerThreshold: 2,
		BreakerTimeout:   time.Hour,
		Logger:           logger.Nop(),
	})

	for i := 0; i < 2; i++ {
		_, err := client.FetchRange(context.Background(), principal, KindDiary, "2024-10-16")
		require.Error(t, err)
	}

	_, err := client.FetchRange(context.Background(), principal, KindDiary, "2024-10-16")
	var fetchErr *grade.RemoteFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, fetchErr.Status)
	assert.Len(t, api.recorded(), 2, "open circuit short-circuits the request")
}

func TestClientErrorsDoNotOpenCircuit(t *testing.T) {
	api := &fakeAPI{t: t, handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(api.serve))
	defer srv.Close()
	api.on("/v1/user/login", 401, `{}`)

	client := NewClient(ClientConfig{BaseURL: srv.URL + "/v1", BreakerThreshold: 1, Logger: logger.Nop()})

	for i := 0; i < 3; i++ {
		_, err := client.Login(context.Background(), account.Credentials{Login: "a", Password: "b"})
		require.Error(t, err)
	}
	assert.Len(t, api.recorded(), 3)
}

func TestTransportFailureIsRemoteFetchError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client := NewClient(ClientConfig{BaseURL: base, Timeout: time.Second, Logger: logger.Nop()})

	_, err := client.Login(context.Background(), account.Credentials{Login: "a", Password: "b"})

	var fetchErr *grade.RemoteFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, fetchErr.Status)
	assert.True(t, grade.IsTransient(err))
}

func TestPrincipalOf(t *testing.T) {
	acc, err := account.New(1, time.Now())
	require.NoError(t, err)

	_, err = PrincipalOf(acc)
	assert.ErrorIs(t, err, shared.ErrNoSession)

	acc = acc.WithLogin(account.LoginResult{FullName: "A", StudentID: 9, AccessToken: "t", ExpiresAt: 1}, time.Now())
	p, err := PrincipalOf(acc)
	require.NoError(t, err)
	assert.Equal(t, Principal{AccessToken: "t", StudentID: 9}, p)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("student-performance")
	require.NoError(t, err)
	assert.Equal(t, "schedule/student-performance", k.Endpoint())

	_, err = ParseKind("homework")
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestFlexInt(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{in: `9007199254740993`, want: 9007199254740993},
		{in: `"9007199254740993"`, want: 9007199254740993},
		{in: `7.0`, want: 7},
		{in: `"12"`, want: 12},
		{in: `""`, want: 0},
		{in: `null`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got flexInt
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.EqualValues(t, tt.want, got)
		})
	}

	var bad flexInt
	assert.Error(t, json.Unmarshal([]byte(`"n/a"`), &bad))
}
