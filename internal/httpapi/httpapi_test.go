package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagnunAVF/shortlinks/internal/analytics"
	"github.com/MagnunAVF/shortlinks/internal/auth"
	"github.com/MagnunAVF/shortlinks/internal/cache"
	"github.com/MagnunAVF/shortlinks/internal/httpapi"
	"github.com/MagnunAVF/shortlinks/internal/idgen"
	"github.com/MagnunAVF/shortlinks/internal/shortener"
	"github.com/MagnunAVF/shortlinks/internal/store"
)

type capturedJobs struct {
	mu   sync.Mutex
	jobs []analytics.Job
}

func (c *capturedJobs) Enqueue(job analytics.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
	return nil
}

func (c *capturedJobs) drain() []analytics.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.jobs
	c.jobs = nil
	return out
}

type testEnv struct {
	app   *fiber.App
	store *store.Memory
	jobs  *capturedJobs
}

func newEnv(t *testing.T, opts httpapi.Options) *testEnv {
	t.Helper()
	ids, err := idgen.New(3)
	require.NoError(t, err)

	s := store.NewMemory("http://short.ly")
	jobs := &capturedJobs{}
	issuer := auth.NewIssuer("test-secret", time.Hour)

	app := httpapi.New(opts, httpapi.Deps{
		Links:      shortener.NewLinks(s, ids),
		Redirector: shortener.NewRedirector(cache.Noop{}, s, jobs, time.Hour),
		Accounts:   auth.NewAccounts(s, ids, issuer, []string{"root"}),
		Issuer:     issuer,
	})
	return &testEnv{app: app, store: s, jobs: jobs}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderUserAgent, "test-agent")
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "password": "pw-" + username}
	resp, body := e.do(t, "POST", "/auth/signup", "", creds)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "User created successfully!", body["message"])

	resp, body = e.do(t, "POST", "/auth/login", "", creds)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

// record pushes captured visit jobs through a Recorder as if they came off
// the broker.
func (e *testEnv) record(t *testing.T) {
	t.Helper()
	jobs := e.jobs.drain()
	ch := make(chan amqp091.Delivery, len(jobs))
	for i, j := range jobs {
		body, err := json.Marshal(j)
		require.NoError(t, err)
		ch <- amqp091.Delivery{Acknowledger: noopAck{}, DeliveryTag: uint64(i + 1), Body: body}
	}
	close(ch)
	err := analytics.NewRecorder(e.store, 2, 0).Run(context.Background(), ch)
	require.ErrorIs(t, err, analytics.ErrDeliveriesClosed)
}

type noopAck struct{}

func (noopAck) Ack(uint64, bool) error        { return nil }
func (noopAck) Nack(uint64, bool, bool) error { return nil }
func (noopAck) Reject(uint64, bool) error     { return nil }

func TestEndToEnd_CreateResolveAnalytics(t *testing.T) {
	env := newEnv(t, httpapi.Options{})
	token := env.login(t, "alice")

	resp, body := env.do(t, "POST", "/urls", token, map[string]any{
		"originalUrl": "https://example.com",
		"slug":        "abc123",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body)
	data := body["data"].(map[string]any)
	assert.Equal(t, "urls", data["type"])
	attrs := data["attributes"].(map[string]any)
	assert.Equal(t, "https://example.com", attrs["originalUrl"])
	assert.Equal(t, "http://short.ly/abc123", attrs["shortUrl"])
	assert.Equal(t, "abc123", attrs["slug"])

	resp, _ = env.do(t, "GET", "/urls/abc123", "", nil)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com", resp.Header.Get(fiber.HeaderLocation))

	link, err := env.store.FindBySlug(context.Background(), "abc123")
	require.NoError(t, err)
	assert.EqualValues(t, 1, link.VisitCount)

	jobs := env.jobs.jobs
	require.Len(t, jobs, 1)
	visitTime := jobs[0].Timestamp
	env.record(t)

	resp, body = env.do(t, "GET", "/analytics/abc123", token, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "https://example.com", body["originalUrl"])
	assert.EqualValues(t, 1, body["visitCount"])
	visitors := body["visitors"].([]any)
	require.Len(t, visitors, 1)
	v := visitors[0].(map[string]any)
	assert.Equal(t, "test-agent", v["userAgent"])
	ts, err := time.Parse(time.RFC3339Nano, v["timestamp"].(string))
	require.NoError(t, err)
	assert.True(t, visitTime.Equal(ts))
}

func TestRedirect_JobsKeepTheirOwnRequestValues(t *testing.T) {
	env := newEnv(t, httpapi.Options{ProxyHeader: "X-Forwarded-For", RateLimitMax: 100})
	token := env.login(t, "alice")

	slugs := []string{"aaaaaaaa", "bbbbbbbb", "cccccccc", "dddddddd"}
	for _, slug := range slugs {
		resp, _ := env.do(t, "POST", "/urls", token, map[string]any{"originalUrl": "https://" + slug + ".com", "slug": slug})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	for i, slug := range slugs {
		req := httptest.NewRequest("GET", "/urls/"+slug, nil)
		req.Header.Set(fiber.HeaderUserAgent, "agent-"+slug)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i+1))
		resp, err := env.app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusFound, resp.StatusCode)
	}

	jobs := env.jobs.drain()
	require.Len(t, jobs, len(slugs))
	for i, slug := range slugs {
		assert.Equal(t, slug, jobs[i].Slug)
		assert.Equal(t, "agent-"+slug, jobs[i].UserAgent)
		assert.Equal(t, fmt.Sprintf("10.0.0.%d", i+1), jobs[i].IP)
	}
}

func TestCreate_Errors(t *testing.T) {
	env := newEnv(t, httpapi.Options{})
	token := env.login(t, "alice")

	resp, _ := env.do(t, "POST", "/urls", "", map[string]any{"originalUrl": "https://example.com"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(t, "POST", "/urls", token, map[string]any{"originalUrl": "https://a.com", "slug": "dup"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body)

	resp, body = env.do(t, "POST", "/urls", token, map[string]any{"originalUrl": "https://b.com", "slug": "dup"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Slug already in use. Please choose another one.", body["error"])

	resp, body = env.do(t, "POST", "/urls", token, map[string]any{"slug": "x"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "originalUrl is required", body["error"])

	resp, _ = env.do(t, "POST", "/urls", token, map[string]any{"originalUrl": "not a url"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, "GET", "/urls", token, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)
}

func TestList_OnlyCallersLinks(t *testing.T) {
	env := newEnv(t, httpapi.Options{})
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	for _, slug := range []string{"a1", "a2"} {
		resp, _ := env.do(t, "POST", "/urls", alice, map[string]any{"originalUrl": "https://a.com", "slug": slug})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	req := httptest.NewRequest("GET", "/urls", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bob)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Empty(t, list)

	req = httptest.NewRequest("GET", "/urls", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+alice)
	resp, err = env.app.Test(req, -1)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 2)
}

func TestRedirect_NotFoundAndLanding(t *testing.T) {
	env := newEnv(t, httpapi.Options{LandingURL: "http://localhost:5000/urls"})
	token := env.login(t, "alice")

	resp, body := env.do(t, "GET", "/urls/missing", "", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "URL not found or expired", body["error"])

	past := time.Now().Add(-time.Minute).UTC()
	link := map[string]any{"originalUrl": "https://a.com", "slug": "old", "expirationDate": past}
	resp, _ = env.do(t, "POST", "/urls", token, link)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, "POST", "/urls", token, map[string]any{"originalUrl": "https://a.com", "slug": "live"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp, _ = env.do(t, "GET", "/urls/live", "", nil)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "http://localhost:5000/urls", resp.Header.Get(fiber.HeaderLocation))
}

func TestRenameSlug(t *testing.T) {
	env := newEnv(t, httpapi.Options{})
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	resp, body := env.do(t, "POST", "/urls", alice, map[string]any{"originalUrl": "https://a.com", "slug": "one"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	id := body["data"].(map[string]any)["id"].(string)
	resp, _ = env.do(t, "POST", "/urls", alice, map[string]any{"originalUrl": "https://b.com", "slug": "two"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, body = env.do(t, "PATCH", "/urls/"+id+"/slug", alice, map[string]any{"newSlug": "two"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Slug already in use.", body["error"])

	resp, body = env.do(t, "PATCH", "/urls/"+id+"/slug", bob, map[string]any{"newSlug": "mine"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Forbidden", body["error"])

	resp, body = env.do(t, "PATCH", "/urls/zzzzzz/slug", alice, map[string]any{"newSlug": "three"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "URL not found.", body["error"])

	resp, body = env.do(t, "PATCH", "/urls/"+id+"/slug", alice, map[string]any{"newSlug": "uno"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "uno", body["slug"])
	assert.Equal(t, "http://short.ly/uno", body["shortUrl"])
	assert.Equal(t, "https://a.com", body["originalUrl"])

	resp, _ = env.do(t, "GET", "/urls/uno", "", nil)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	resp, _ = env.do(t, "GET", "/urls/one", "", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestAnalytics_Errors(t *testing.T) {
	env := newEnv(t, httpapi.Options{})
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")
	root := env.login(t, "root")

	resp, _ := env.do(t, "POST", "/urls", alice, map[string]any{"originalUrl": "https://a.com", "slug": "mine"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, body := env.do(t, "GET", "/analytics/nope", alice, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "URL not found", body["error"])

	resp, _ = env.do(t, "GET", "/analytics/mine", bob, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, body = env.do(t, "GET", "/analytics/mine", root, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, body["visitors"])

	resp, body = env.do(t, "GET", "/analytics/mine", "garbage", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid token", body["error"])
}

func TestAuth_Errors(t *testing.T) {
	env := newEnv(t, httpapi.Options{})
	env.login(t, "alice")

	resp, body := env.do(t, "POST", "/auth/signup", "", map[string]string{"username": "alice", "password": "x"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Already registered!", body["error"])

	resp, body = env.do(t, "POST", "/auth/login", "", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid credentials", body["error"])

	resp, _ = env.do(t, "POST", "/auth/login", "", map[string]string{"username": "alice"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	env := newEnv(t, httpapi.Options{RateLimitMax: 3, RateLimitWindow: time.Minute})

	for i := 0; i < 3; i++ {
		resp, _ := env.do(t, "GET", "/urls/missing", "", nil)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	}
	resp, body := env.do(t, "GET", "/urls/missing", "", nil)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Too many requests, please try again later.", body["error"])
}

func TestHealth(t *testing.T) {
	env := newEnv(t, httpapi.Options{})
	resp, body := env.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: httpapi.ErrorHandler})
	app.Get("/boom", func(*fiber.Ctx) error { return errors.New("db password is hunter2") })

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, string(raw))
}
