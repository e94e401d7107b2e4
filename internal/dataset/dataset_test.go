package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultDataset(t *testing.T) {
	ds, err := Default()
	if err != nil {
		t.Fatalf("内置数据集应可解析: %v", err)
	}

	want := []string{"2023-12", "2024-06", "2024-12", "2025-06", "2025-11"}
	if diff := cmp.Diff(want, ds.Periods()); diff != "" {
		t.Fatalf("periods 不一致 (-want +got):\n%s", diff)
	}

	first := ds.Quarters[0]
	if first.TokenVolumeYoY != nil {
		t.Fatal("2023-12 token 增速应缺失")
	}

	latest, ok := ds.Latest()
	if !ok {
		t.Fatal("Latest 应返回最新季度")
	}
	if latest.UtilizationPct != 72 {
		t.Fatalf("最新利用率应为 72, 实际 %v", latest.UtilizationPct)
	}
	if got := latest.ProfitGapB(); got > -3.49 || got < -3.51 {
		t.Fatalf("利润缺口应约为 -3.5, 实际 %v", got)
	}
	if len(ds.Pricing) != 5 {
		t.Fatalf("应有 5 个模型定价, 实际 %d", len(ds.Pricing))
	}
}

func TestSpreadObservationsKeepAbsence(t *testing.T) {
	ds, err := Default()
	if err != nil {
		t.Fatalf("内置数据集应可解析: %v", err)
	}

	var coreweave SpreadSeries
	for _, s := range ds.Spreads {
		if s.Entity == "CoreWeave" {
			coreweave = s
		}
	}
	obs := coreweave.Observations()
	if len(obs) != 5 {
		t.Fatalf("应有 5 个观测, 实际 %d", len(obs))
	}
	if obs[0].SpreadBps.Valid {
		t.Fatal("上市前 spread 应保持缺失而非 0")
	}
	if obs[4].SpreadBps.Decimal.String() != "675" {
		t.Fatalf("最新 spread 应为 675, 实际 %s", obs[4].SpreadBps.Decimal)
	}
}

func TestMarginRatioZeroCost(t *testing.T) {
	if got := (Quarter{InferenceRevenueB: 1}).MarginRatio(); got != 0 {
		t.Fatalf("零成本时比率应为 0, 实际 %v", got)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":     "as_of: x\n",
		"duplicate": "quarters:\n  - period: a\n  - period: a\n",
		"util":      "quarters:\n  - period: a\n    utilization_pct: 140\n",
		"misaligned": strings.Join([]string{
			"quarters:",
			"  - period: a",
			"spreads:",
			"  - entity: x",
			"    points:",
			"      - { period: b, spread_bps: 10 }",
		}, "\n"),
		"negative": strings.Join([]string{
			"quarters:",
			"  - period: a",
			"spreads:",
			"  - entity: x",
			"    points:",
			"      - { period: a, spread_bps: -1 }",
		}, "\n"),
	}
	for _, v := range []string{".inf", "-.inf", ".nan"} {
		cases["spread "+v] = "quarters:\n  - period: a\nspreads:\n  - entity: x\n    points:\n      - { period: a, spread_bps: " + v + " }\n"
		cases["capex "+v] = "quarters:\n  - period: a\n    ai_capex_b: " + v + "\n"
		cases["yoy "+v] = "quarters:\n  - period: a\n    token_volume_yoy: " + v + "\n"
		cases["pricing "+v] = "quarters:\n  - period: a\npricing:\n  - { model: m, blended_per_m: " + v + " }\n"
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("%s: 应校验失败", name)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.yaml")
	raw := "as_of: \"2026-03\"\nquarters:\n  - period: \"2026-03\"\n    inference_revenue_b: 20\n    inference_cost_b: 16\n    utilization_pct: 64\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("写入临时文件失败: %v", err)
	}

	ds, err := Load(path)
	if err != nil {
		t.Fatalf("Load 不应报错: %v", err)
	}
	if ds.AsOf != "2026-03" || ds.Quarters[0].MarginRatio() != 1.25 {
		t.Fatalf("解析结果不正确: %+v", ds)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("文件不存在应报错")
	}
}
