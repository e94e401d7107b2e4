package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"ai-viability-watch/internal/classify"
)

// SimulateAlert 以给定指标取值模拟一次分类与告警流程。
// spread=true 时 value 视为 CDS 利差 (bps)，先换算为违约概率。
func (a *App) SimulateAlert(ctx context.Context, metric string, value decimal.Decimal, spread bool) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	if spread {
		metric = classify.MetricDefaultProbability
	}

	svc, err := a.newService(nil, notifier)
	if err != nil {
		return err
	}

	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	eval, ok, err := svc.Evaluate(ctx, bucket, "simulated", metric, value, spread)
	if err != nil {
		return err
	}
	if !ok {
		a.printf("no signal for %s\n", value.String())
		return nil
	}
	a.printf("%s: %s (%s), alerted=%t\n", eval.Result.Metric, eval.Result.Label, eval.Result.Severity, eval.Alerted)
	return nil
}
