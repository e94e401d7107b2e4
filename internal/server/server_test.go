package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ai-viability-watch/internal/classify"
	"ai-viability-watch/internal/credit"
	"ai-viability-watch/internal/dataset"
	"ai-viability-watch/internal/storage"
)

type staticLive []storage.Observation

func (s staticLive) Latest() []storage.Observation { return s }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ds, err := dataset.Default()
	if err != nil {
		t.Fatalf("加载数据集失败: %v", err)
	}
	estimator, err := credit.NewEstimator(0.35, 5)
	if err != nil {
		t.Fatalf("构造 estimator 失败: %v", err)
	}
	live := staticLive{{
		Bucket: time.Date(2025, 11, 30, 10, 0, 0, 0, time.UTC),
		Source: "coreweave_cds",
		Value:  decimal.NewNullDecimal(decimal.NewFromInt(675)),
		Unit:   "bps",
		Status: storage.StatusComplete,
	}}
	srv := New(Options{Addr: ":0"}, ds, classify.DefaultTable(), estimator, live, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("请求 %s 失败: %v", path, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("解析响应失败 %s: %v", path, err)
		}
	}
	return resp, body
}

func TestDefaultProbabilityEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := get(t, ts, "/api/default-probability?spread=675")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("状态码应为 200, 实际 %d", resp.StatusCode)
	}
	if body["cumulative_pct"] != "42.2" {
		t.Fatalf("675bps 应得 42.2, 实际 %v", body["cumulative_pct"])
	}

	resp, body = get(t, ts, "/api/default-probability?spread=350&recovery=0.4&horizon=5")
	if resp.StatusCode != http.StatusOK || body["cumulative_pct"] != "26" {
		t.Fatalf("350bps/0.4/5y 应得 26, 实际 %d %v", resp.StatusCode, body["cumulative_pct"])
	}

	_, body = get(t, ts, "/api/default-probability")
	if body["cumulative_pct"] != nil {
		t.Fatalf("缺少利差时结果应为空, 实际 %v", body["cumulative_pct"])
	}
}

func TestDefaultProbabilityOutOfRange(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{
		"/api/default-probability?spread=100&recovery=1",
		"/api/default-probability?spread=100&horizon=0",
		"/api/default-probability?spread=abc",
	} {
		resp, body := get(t, ts, path)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s 状态码应为 400, 实际 %d", path, resp.StatusCode)
		}
		if body["error"] == nil {
			t.Fatalf("%s 应返回错误信息", path)
		}
	}
}

func TestClassifyEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := get(t, ts, "/api/classify?metric=inference_margin&value=1.1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("状态码应为 200, 实际 %d", resp.StatusCode)
	}
	if body["label"] != "breakeven near" || body["severity"] != "warning" {
		t.Fatalf("分类结果不正确: %v", body)
	}

	resp, _ = get(t, ts, "/api/classify?metric=utilization&value=NaN")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("NaN 应返回 422, 实际 %d", resp.StatusCode)
	}

	resp, _ = get(t, ts, "/api/classify?metric=unknown&value=1")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("未知指标应返回 400, 实际 %d", resp.StatusCode)
	}

	resp, _ = get(t, ts, "/api/classify?metric=utilization")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("缺少参数应返回 400, 实际 %d", resp.StatusCode)
	}
}

func TestIndexViews(t *testing.T) {
	ts := newTestServer(t)

	for _, view := range []string{"", "?view=raw", "?view=derived"} {
		resp, err := http.Get(ts.URL + "/" + view)
		if err != nil {
			t.Fatalf("请求首页失败: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
			t.Fatalf("首页%s 应返回 HTML, 实际 %d %s", view, resp.StatusCode, resp.Header.Get("Content-Type"))
		}
	}

	resp, _ := get(t, ts, "/?view=fancy")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("未知视图应返回 400, 实际 %d", resp.StatusCode)
	}
}

func TestReportAndObservations(t *testing.T) {
	ts := newTestServer(t)

	resp, body := get(t, ts, "/api/report")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("状态码应为 200, 实际 %d", resp.StatusCode)
	}
	if signals, ok := body["signals"].([]any); !ok || len(signals) != 5 {
		t.Fatalf("报告应包含 5 个信号: %v", body["signals"])
	}

	resp, err := http.Get(ts.URL + "/api/observations")
	if err != nil {
		t.Fatalf("请求观测失败: %v", err)
	}
	defer resp.Body.Close()
	var observations []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&observations); err != nil {
		t.Fatalf("解析观测失败: %v", err)
	}
	if len(observations) != 1 || observations[0]["source"] != "coreweave_cds" || observations[0]["value"] != "675" {
		t.Fatalf("观测内容不正确: %v", observations)
	}

	resp, body = get(t, ts, "/healthz")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("健康检查失败: %d %v", resp.StatusCode, body)
	}
}
