package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ai-viability-watch/internal/classify"
	"ai-viability-watch/internal/config"
	"ai-viability-watch/internal/credit"
	"ai-viability-watch/internal/report"
)

func newTestApp(t *testing.T, body string) (*App, *bytes.Buffer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	cfg.Database.DSN = ""

	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func TestReportFormats(t *testing.T) {
	a, out := newTestApp(t, "app:\n  name: test\n")

	for _, format := range []string{FormatText, FormatMarkdown, FormatHTML} {
		out.Reset()
		if err := a.Report(context.Background(), ReportOptions{Format: format, View: report.ViewDerived}); err != nil {
			t.Fatalf("%s 报告生成失败: %v", format, err)
		}
		if !strings.Contains(out.String(), "distressed") {
			t.Fatalf("%s 报告应包含 distressed:\n%s", format, out.String())
		}
	}

	out.Reset()
	if err := a.Report(context.Background(), ReportOptions{Format: FormatJSON}); err != nil {
		t.Fatalf("JSON 报告生成失败: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("JSON 报告无法解析: %v", err)
	}

	if err := a.Report(context.Background(), ReportOptions{Format: "pdf"}); err == nil {
		t.Fatal("未知格式应报错")
	}
}

func TestDefaultProbability(t *testing.T) {
	a, out := newTestApp(t, "app:\n  name: test\n")

	spread := decimal.NewNullDecimal(decimal.NewFromInt(675))
	if err := a.DefaultProbability(DefaultProbabilityOptions{Spread: spread}); err != nil {
		t.Fatalf("计算失败: %v", err)
	}
	if !strings.Contains(out.String(), "default probability: 42.2%") {
		t.Fatalf("输出应包含 42.2%%:\n%s", out.String())
	}

	out.Reset()
	if err := a.DefaultProbability(DefaultProbabilityOptions{}); err != nil {
		t.Fatalf("缺失利差不应报错: %v", err)
	}
	if !strings.Contains(out.String(), "no signal") {
		t.Fatalf("缺失利差应提示无信号:\n%s", out.String())
	}

	bad := 1.2
	err := a.DefaultProbability(DefaultProbabilityOptions{Spread: spread, RecoveryRate: &bad})
	if !errors.Is(err, credit.ErrOutOfRange) {
		t.Fatalf("回收率越界应返回 ErrOutOfRange, 实际 %v", err)
	}
}

func TestClassify(t *testing.T) {
	a, out := newTestApp(t, "app:\n  name: test\n")

	if err := a.Classify(classify.MetricUtilization, 64); err != nil {
		t.Fatalf("分类失败: %v", err)
	}
	if !strings.Contains(out.String(), "at risk (critical)") {
		t.Fatalf("64%% 利用率应为 at risk:\n%s", out.String())
	}
	if err := a.Classify("nope", 1); !errors.Is(err, classify.ErrInvalidRule) {
		t.Fatalf("未知指标应返回 ErrInvalidRule, 实际 %v", err)
	}
}

func TestExport(t *testing.T) {
	a, _ := newTestApp(t, "app:\n  name: test\n")
	dir := t.TempDir()

	opts := ExportOptions{CSVPath: filepath.Join(dir, "data", "out.csv"), PNGDir: filepath.Join(dir, "charts")}
	if err := a.Export(context.Background(), opts); err != nil {
		t.Fatalf("导出失败: %v", err)
	}
	if _, err := os.Stat(opts.CSVPath); err != nil {
		t.Fatalf("CSV 未生成: %v", err)
	}
	if _, err := os.Stat(filepath.Join(opts.PNGDir, report.ChartDefaultProbability)); err != nil {
		t.Fatalf("违约概率图未生成: %v", err)
	}
}

func TestShowWithoutDatabase(t *testing.T) {
	a, _ := newTestApp(t, "app:\n  name: test\n")
	if err := a.Show(context.Background(), ShowOptions{Limit: 5}); err == nil {
		t.Fatal("未配置数据库时应报错")
	}
}

func TestSimulateAlert(t *testing.T) {
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		text = payload["text"]
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	body := `alerting:
  enabled: true
  telegram:
    enabled: true
    bot_token: token
    chat_id: chat
    api_base: ` + srv.URL + "\n"
	a, out := newTestApp(t, body)

	if err := a.SimulateAlert(context.Background(), "", decimal.NewFromInt(675), true); err != nil {
		t.Fatalf("模拟告警失败: %v", err)
	}
	if !strings.Contains(out.String(), "alerted=true") {
		t.Fatalf("应触发告警:\n%s", out.String())
	}
	if !strings.Contains(text, "distressed") || !strings.Contains(text, "42.20 %") {
		t.Fatalf("告警文本不正确: %q", text)
	}
}

func TestSimulateAlertWebhook(t *testing.T) {
	var severity string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		severity, _ = payload["severity"].(string)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	body := `alerting:
  enabled: true
  channels: [webhook]
  webhook:
    enabled: true
    url: ` + srv.URL + "\n"
	a, out := newTestApp(t, body)

	if err := a.SimulateAlert(context.Background(), "", decimal.NewFromInt(675), true); err != nil {
		t.Fatalf("模拟告警失败: %v", err)
	}
	if !strings.Contains(out.String(), "alerted=true") || severity != "critical" {
		t.Fatalf("webhook 应收到 critical 告警: severity=%q\n%s", severity, out.String())
	}
}

func TestSimulateAlertDisabled(t *testing.T) {
	a, _ := newTestApp(t, "app:\n  name: test\n")
	if err := a.SimulateAlert(context.Background(), classify.MetricUtilization, decimal.NewFromInt(10), false); err == nil {
		t.Fatal("告警未启用时应报错")
	}
}
