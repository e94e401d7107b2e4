package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"ai-viability-watch/internal/storage"
)

// Show prints recent observations or alert records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show observations")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Alerts {
		alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return a.printAlerts(alerts)
	}

	var observations []storage.Observation
	if opts.Since > 0 {
		to := time.Now().UTC()
		observations, err = store.ListObservationsBetween(ctx, to.Add(-opts.Since), to)
	} else {
		observations, err = store.ListRecentObservations(ctx, opts.Limit)
	}
	if err != nil {
		return err
	}

	total, err := store.CountObservations(ctx)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		a.printf("no observations found\n")
		return nil
	}

	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSource\tValue\tUnit\tBlock\tStatus\tError")
	for _, obs := range observations {
		value := "-"
		if obs.Value.Valid {
			value = obs.Value.Decimal.String()
		}
		block := "-"
		if obs.BlockNumber != nil {
			block = strconv.FormatInt(*obs.BlockNumber, 10)
		}
		errMsg := ""
		if obs.Error != nil {
			errMsg = sanitizeInline(*obs.Error)
		}
		fmt.Fprintln(writer, strings.Join([]string{
			obs.Bucket.UTC().Format(time.RFC3339),
			obs.Source,
			value,
			obs.Unit,
			block,
			obs.Status,
			errMsg,
		}, "\t"))
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	a.printf("%d of %d stored observations\n", len(observations), total)
	return nil
}

func (a *App) printAlerts(alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		a.printf("no alerts found\n")
		return nil
	}
	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tMetric\tSource\tValue\tLabel\tSeverity\tChannels")
	for _, alert := range alerts {
		fmt.Fprintln(writer, strings.Join([]string{
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Metric,
			alert.Source,
			alert.Value.String(),
			alert.Label,
			alert.Severity,
			strings.Join(alert.Channels, ","),
		}, "\t"))
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
