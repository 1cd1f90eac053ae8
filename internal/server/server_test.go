package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowsketch/internal/expressions"
	"github.com/rendis/flowsketch/internal/llm"
	"github.com/rendis/flowsketch/internal/metrics"
	"github.com/rendis/flowsketch/internal/newsletter"
	"github.com/rendis/flowsketch/internal/render"
	"github.com/rendis/flowsketch/internal/share"
	"github.com/rendis/flowsketch/internal/stats"
	"github.com/rendis/flowsketch/internal/store"
	"github.com/rendis/flowsketch/internal/streaming"
	"github.com/rendis/flowsketch/internal/validation"
	"github.com/rendis/flowsketch/pkg/schema"
)

const fused = "graph TD\n" + `A["Start"]:::startNodeB["Next"]:::processNode` + "\nA --> B"

type fakeGenerator struct {
	reply string
	err   error
}

func (f *fakeGenerator) Generate(context.Context, string) (string, error) {
	return f.reply, f.err
}

type fakeModels struct {
	models []llm.ModelInfo
	err    error
}

func (f *fakeModels) ListModels(context.Context) ([]llm.ModelInfo, error) {
	return f.models, f.err
}

type failingRenderer struct{ err error }

func (f failingRenderer) Render(context.Context, string, schema.RenderFormat) ([]byte, error) {
	return nil, f.err
}

type fixture struct {
	handler http.Handler
	hub     *streaming.MemoryHub
	store   store.Store
	reg     *prometheus.Registry
	stats   *stats.Service
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	exprs, err := expressions.NewRegistry()
	require.NoError(t, err)
	v, err := validation.NewRequestValidator()
	require.NoError(t, err)

	statsSvc := stats.NewService(st, stats.WithHub(hub), stats.WithMetrics(m))
	deps := Deps{
		Renderer:   render.NewGraphvizRenderer(16, render.WithMetrics(m)),
		Shares:     share.NewService(st, exprs, "http://flowsketch.test", share.WithHub(hub), share.WithMetrics(m)),
		Stats:      statsSvc,
		Newsletter: newsletter.NewService(st, hub, m, nil),
		Validator:  v,
		Hub:        hub,
		Metrics:    m,
		Gatherer:   reg,
		Version:    "test",
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &fixture{handler: New(deps).Handler(), hub: hub, store: st, reg: reg, stats: statsSvc}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestGenerate(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Generator = &fakeGenerator{reply: "```mermaid\ngraph TD\nA[\"Start\"] --> B[\"End\"];\n```"}
	})

	rec := f.do(t, http.MethodPost, "/api/generate", `{"prompt":"a tiny flow","userId":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	chart, _ := body["flowchart"].(string)
	assert.True(t, strings.HasPrefix(chart, "graph TD\n"))
	assert.NotContains(t, chart, "```")
	assert.NotContains(t, chart, ";")

	snap, err := f.stats.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.FlowchartsCreated)
	assert.Equal(t, 1, snap.ActiveUsers)
}

func TestGenerate_Errors(t *testing.T) {
	t.Run("missing prompt", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) { d.Generator = &fakeGenerator{reply: "graph TD"} })
		rec := f.do(t, http.MethodPost, "/api/generate", `{"prompt":"   "}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Prompt is required", decode(t, rec)["error"])
	})

	t.Run("schema violation", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodPost, "/api/generate", `{"prompt":42}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, schema.ErrCodeValidation, decode(t, rec)["code"])
	})

	t.Run("no key", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodPost, "/api/generate", `{"prompt":"x"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "API key not configured", decode(t, rec)["error"])
	})

	t.Run("upstream failure counts an error", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) {
			d.Generator = &fakeGenerator{err: schema.NewError(schema.ErrCodeUpstream, "API request failed: 500")}
		})
		rec := f.do(t, http.MethodPost, "/api/generate", `{"prompt":"x"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		snap, err := f.stats.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.ErrorCount)
		assert.Equal(t, int64(1), snap.APICalls)
	})

	t.Run("quota maps to 429", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) {
			d.Generator = &fakeGenerator{err: schema.NewError(schema.ErrCodeQuotaExceeded, "quota")}
		})
		rec := f.do(t, http.MethodPost, "/api/generate", `{"prompt":"x"}`)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestNormalize(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/normalize", `{"source":"A --> B;\nnot a diagram line"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Contains(t, body["flowchart"], "A --> B")
	assert.Equal(t, []any{"not a diagram line"}, body["dropped"])
}

func TestRender(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/render", `{"source":"graph TD\nA --> B","format":"mermaid"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get(HeaderRepaired))
	assert.Contains(t, rec.Body.String(), "A --> B")

	payload, err := json.Marshal(map[string]string{"source": fused, "format": "ascii"})
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/api/render", string(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get(HeaderRepaired))
	assert.Contains(t, rec.Body.String(), "Next")
}

func TestRender_Errors(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Renderer = failingRenderer{err: schema.NewError(schema.ErrCodeRender, "line 2: unexpected token").
			WithDetails(map[string]any{"line": 2})}
	})

	rec := f.do(t, http.MethodPost, "/api/render", `{"source":"graph TD\nA --> B"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, schema.ErrCodeRender, body["code"])
	assert.EqualValues(t, 2, body["details"].(map[string]any)["line"])

	rec = f.do(t, http.MethodPost, "/api/render", `{"source":"graph TD","format":"gif"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/render", `{"source":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLint(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/lint", `{"source":"A --> B;"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, false, body["valid"])
	issues, _ := body["issues"].([]any)
	require.NotEmpty(t, issues)

	var codes []string
	for _, i := range issues {
		codes = append(codes, i.(map[string]any)["code"].(string))
	}
	assert.Contains(t, codes, schema.LintSemicolon)
	assert.Contains(t, codes, schema.LintMissingGraph)
}

func TestShareFlow(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/share", `{"flowchartCode":"graph TD\nA --> B","isPublic":true,"title":"Demo"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode(t, rec)
	id, _ := created["shareId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "http://flowsketch.test/share/"+id, created["shareUrl"])

	rec = f.do(t, http.MethodGet, "/api/share?id="+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	fc := decode(t, rec)["flowchart"].(map[string]any)
	assert.Equal(t, "Demo", fc["title"])
	assert.EqualValues(t, 1, fc["views"])

	rec = f.do(t, http.MethodGet, "/api/share?id=missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/share", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Share ID is required", decode(t, rec)["error"])

	rec = f.do(t, http.MethodPost, "/api/share", `{"flowchartCode":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Flowchart code is required", decode(t, rec)["error"])
}

func TestGallery(t *testing.T) {
	f := newFixture(t, nil)
	for _, body := range []string{
		`{"flowchartCode":"graph TD\nA --> B","isPublic":true,"title":"small"}`,
		`{"flowchartCode":"graph TD\nA --> B\nB --> C\nC --> D","isPublic":true,"title":"large"}`,
		`{"flowchartCode":"graph TD\nA --> B","isPublic":false,"title":"private"}`,
	} {
		require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/share", body).Code)
	}

	body := decode(t, f.do(t, http.MethodGet, "/api/gallery", ""))
	assert.EqualValues(t, 2, body["count"])

	body = decode(t, f.do(t, http.MethodGet, "/api/gallery?engine=cel&filter=edges+%3E+1", ""))
	require.EqualValues(t, 1, body["count"])
	assert.Equal(t, "large", body["flowcharts"].([]any)[0].(map[string]any)["title"])

	body = decode(t, f.do(t, http.MethodGet, "/api/gallery?limit=1&offset=5", ""))
	assert.EqualValues(t, 0, body["count"])
	assert.Equal(t, []any{}, body["flowcharts"])

	rec := f.do(t, http.MethodGet, "/api/gallery?engine=lua&filter=true", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQR(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/qr", `{"url":"http://x.test/share/1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		"https://api.qrserver.com/v1/create-qr-code/?size=200x200&data=http%3A%2F%2Fx.test%2Fshare%2F1",
		decode(t, rec)["qrCodeUrl"])

	rec = f.do(t, http.MethodPost, "/api/qr", `{"url":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "URL is required", decode(t, rec)["error"])
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)

	body := decode(t, f.do(t, http.MethodGet, "/api/stats", ""))
	assert.EqualValues(t, 100, body["stats"].(map[string]any)["successRate"])

	rec := f.do(t, http.MethodPost, "/api/stats", `{"action":"user_active","userId":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode(t, rec)["stats"].(map[string]any)
	assert.EqualValues(t, 1, st["activeUsers"])
	assert.EqualValues(t, 1, st["totalSessions"])
	assert.EqualValues(t, 1, st["peakUsers"])

	rec = f.do(t, http.MethodPost, "/api/stats", `{"action":"dance"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewsletter(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/newsletter", `{"email":"alice@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["subscriberCount"])

	rec = f.do(t, http.MethodPost, "/api/newsletter", `{"email":"alice@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["alreadySubscribed"])

	rec = f.do(t, http.MethodPost, "/api/newsletter", `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid email format", decode(t, rec)["error"])

	sum := decode(t, f.do(t, http.MethodGet, "/api/newsletter", ""))["stats"].(map[string]any)
	assert.EqualValues(t, 1, sum["totalSubscribers"])
	recent := sum["recentSubscribers"].([]any)
	require.Len(t, recent, 1)
	assert.Equal(t, "al***@example.com", recent[0].(map[string]any)["email"])
}

func TestStatus(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, nil)
		st := decode(t, f.do(t, http.MethodGet, "/api/status", ""))["status"].(map[string]any)
		assert.Equal(t, UpstreamNotConfigured, st["api"])
		assert.Equal(t, "Operational", st["platform"])
		assert.Equal(t, "test", st["version"])
	})

	t.Run("operational", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) { d.Models = &fakeModels{} })
		st := decode(t, f.do(t, http.MethodGet, "/api/status", ""))["status"].(map[string]any)
		assert.Equal(t, UpstreamOperational, st["api"])
	})

	t.Run("degraded", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) { d.Models = &fakeModels{err: errors.New("403")} })
		st := decode(t, f.do(t, http.MethodGet, "/api/status", ""))["status"].(map[string]any)
		assert.Equal(t, UpstreamDegraded, st["api"])
	})
}

func TestValidateKeyAndListModels(t *testing.T) {
	key := "AIza" + strings.Repeat("x", 35)
	f := newFixture(t, func(d *Deps) {
		d.APIKey = key
		d.Models = &fakeModels{models: []llm.ModelInfo{{Name: "models/gemini-1.5-flash"}}}
	})

	body := decode(t, f.do(t, http.MethodGet, "/api/validate-key", ""))
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "AIzaxxxxxx", body["firstTenChars"])

	body = decode(t, f.do(t, http.MethodGet, "/api/list-models", ""))
	models := body["models"].([]any)
	require.Len(t, models, 1)
	assert.Equal(t, "models/gemini-1.5-flash", models[0].(map[string]any)["name"])

	f = newFixture(t, nil)
	body = decode(t, f.do(t, http.MethodGet, "/api/validate-key", ""))
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, http.StatusInternalServerError, f.do(t, http.MethodGet, "/api/list-models", "").Code)
}

func TestPages(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/share",
		`{"flowchartCode":"graph TD\nA --> B","isPublic":true,"title":"Visible"}`).Code)

	rec := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Visible")

	rec = f.do(t, http.MethodGet, "/share/abc123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-share-id="abc123"`)

	rec = f.do(t, http.MethodGet, "/static/app.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/nowhere", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/api/stats", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`flowsketch_http_requests_total{code="200",method="GET",route="GET /api/stats"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodDelete, "/api/stats", "").Code)
}

func TestRequestIDHeaderPropagates(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSSEStats(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/stats", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	nextEvent := func() string {
		for lines.Scan() {
			if name, ok := strings.CutPrefix(lines.Text(), "event: "); ok {
				return name
			}
		}
		return ""
	}

	assert.Equal(t, "stats.snapshot", nextEvent())

	_, err = f.stats.Record(context.Background(), stats.ActionAPICall, "u1")
	require.NoError(t, err)
	assert.Equal(t, schema.EventStatsUpdated, nextEvent())
}
