package credit

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func bps(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func TestDefaultProbabilityKnownCases(t *testing.T) {
	cases := []struct {
		spread   int64
		recovery float64
		horizon  int
		want     string
	}{
		{675, 0.35, 5, "42.2"},
		{110, 0.35, 5, "8.2"},
		{675, 0.35, 1, "10.4"},
		{350, 0.4, 5, "26.0"},
		{500, 0.5, 10, "65.1"},
		{100, 0, 1, "1.0"},
	}

	for _, tc := range cases {
		got, err := DefaultProbability(bps(tc.spread), tc.recovery, tc.horizon)
		if err != nil {
			t.Fatalf("spread=%d 不应报错: %v", tc.spread, err)
		}
		if !got.Valid {
			t.Fatalf("spread=%d 结果不应缺失", tc.spread)
		}
		if got.Decimal.StringFixed(1) != tc.want {
			t.Fatalf("spread=%d recovery=%v horizon=%d: 期望 %s, 实际 %s", tc.spread, tc.recovery, tc.horizon, tc.want, got.Decimal.StringFixed(1))
		}
	}
}

func TestDefaultProbabilityAbsentSpread(t *testing.T) {
	for _, r := range []float64{0, 0.35, 0.5} {
		for _, h := range []int{1, 5, 10} {
			got, err := DefaultProbability(decimal.NullDecimal{}, r, h)
			if err != nil {
				t.Fatalf("缺失 spread 不是错误: %v", err)
			}
			if got.Valid {
				t.Fatalf("缺失 spread 应返回缺失, 实际 %s", got.Decimal)
			}
		}
	}
}

func TestDefaultProbabilityZeroSpread(t *testing.T) {
	for _, r := range []float64{0, 0.35, 0.5} {
		for _, h := range []int{1, 5, 10} {
			got, err := DefaultProbability(bps(0), r, h)
			if err != nil {
				t.Fatalf("零 spread 不应报错: %v", err)
			}
			if !got.Valid || !got.Decimal.IsZero() {
				t.Fatalf("零 spread 应返回 0.0, 实际 %+v", got)
			}
		}
	}
}

func TestDefaultProbabilityNegativeSpreadIsAbsent(t *testing.T) {
	got, err := DefaultProbability(bps(-25), 0.35, 5)
	if err != nil {
		t.Fatalf("负 spread 不应报错: %v", err)
	}
	if got.Valid {
		t.Fatal("负 spread 不携带信用信号，应返回缺失")
	}
}

func TestDefaultProbabilityMonotonic(t *testing.T) {
	for _, r := range []float64{0, 0.35, 0.5} {
		for _, h := range []int{1, 5, 10} {
			prev := decimal.NewFromInt(-1)
			for s := int64(0); s <= 12000; s += 5 {
				got, err := DefaultProbability(bps(s), r, h)
				if err != nil {
					t.Fatalf("不应报错: %v", err)
				}
				if got.Decimal.LessThan(prev) {
					t.Fatalf("r=%v h=%d: spread %d 结果 %s 小于前值 %s", r, h, s, got.Decimal, prev)
				}
				if got.Decimal.GreaterThan(decimal.NewFromInt(100)) {
					t.Fatalf("结果超过 100: %s", got.Decimal)
				}
				prev = got.Decimal
			}
		}
	}
}

func TestDefaultProbabilityClampsHugeSpread(t *testing.T) {
	// 10000bps / 0.65 > 1: without the clamp (1-hazard)^4 would be positive
	// and ^5 negative.
	for _, h := range []int{4, 5} {
		got, err := DefaultProbability(bps(10000), 0.35, h)
		if err != nil {
			t.Fatalf("极大 spread 不应报错: %v", err)
		}
		if got.Decimal.StringFixed(1) != "100.0" {
			t.Fatalf("h=%d 极大 spread 应截断为 100.0, 实际 %s", h, got.Decimal.StringFixed(1))
		}
	}

	if hz := HazardRate(decimal.NewFromInt(6500), 0.35); hz != 1 {
		t.Fatalf("hazard 应截断为 1, 实际 %v", hz)
	}
}

func TestDefaultProbabilityOutOfRange(t *testing.T) {
	cases := []struct {
		recovery float64
		horizon  int
	}{
		{1.0, 5},
		{1.2, 5},
		{-0.1, 5},
		{0.35, 0},
		{0.35, -3},
	}
	for _, tc := range cases {
		_, err := DefaultProbability(bps(100), tc.recovery, tc.horizon)
		if !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("recovery=%v horizon=%d 应返回 ErrOutOfRange, 实际 %v", tc.recovery, tc.horizon, err)
		}
	}

	// parameters are checked even when the spread is absent
	if _, err := DefaultProbability(decimal.NullDecimal{}, 1.0, 5); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("缺失 spread 时也应校验参数, 实际 %v", err)
	}
}

func TestDefaultProbabilityIdempotent(t *testing.T) {
	a, _ := DefaultProbability(bps(675), 0.35, 5)
	b, _ := DefaultProbability(bps(675), 0.35, 5)
	if !a.Decimal.Equal(b.Decimal) || a.Valid != b.Valid {
		t.Fatalf("相同输入应得到相同输出: %s vs %s", a.Decimal, b.Decimal)
	}
}

func TestEstimatorSeries(t *testing.T) {
	est, err := NewEstimator(DefaultRecoveryRate, DefaultHorizonYears)
	if err != nil {
		t.Fatalf("默认参数应合法: %v", err)
	}

	results, err := est.Series([]SpreadObservation{
		{Period: "2025-06", SpreadBps: decimal.NullDecimal{}},
		{Period: "2025-09", SpreadBps: bps(480)},
		{Period: "2025-11", SpreadBps: bps(675)},
	})
	if err != nil {
		t.Fatalf("Series 不应报错: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("期望 3 个结果, 实际 %d", len(results))
	}
	if results[0].CumulativePct.Valid {
		t.Fatal("缺失观测应保持缺失")
	}
	if results[1].CumulativePct.Decimal.StringFixed(1) != "31.9" {
		t.Fatalf("期望 31.9, 实际 %s", results[1].CumulativePct.Decimal)
	}

	latest, ok := Latest(results)
	if !ok || latest.Period != "2025-11" {
		t.Fatalf("Latest 应返回 2025-11, 实际 %+v", latest)
	}
}

func TestNewEstimatorRejectsBadParams(t *testing.T) {
	if _, err := NewEstimator(1, 5); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("recovery=1 应报错, 实际 %v", err)
	}
}

func TestLatestAllAbsent(t *testing.T) {
	if _, ok := Latest([]DefaultProbabilityResult{{Period: "2024-06"}}); ok {
		t.Fatal("全部缺失时 Latest 应返回 false")
	}
}
