package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgcron "github.com/callmonitor/courier/internal/pkg/cron"
)

const (
	jobFlushDLQ         = "flush_audit_dlq"
	jobPruneDeliveries  = "prune_webhook_deliveries"
	pruneDeliveriesTime = 5 * time.Minute
)

// registerCronJobs registers the buffer flush and history retention jobs.
func (a *App) registerCronJobs() {
	a.sched.Register(pkgcron.Job{
		Name:        jobFlushDLQ,
		Description: "Replay buffered audit entries and delivery records into the database",
		Interval:    a.cfg.Audit.FlushInterval,
		Fn:          a.flushBuffers,
	})

	if a.cfg.Webhook.RetentionDays > 0 {
		a.sched.Register(pkgcron.Job{
			Name:        jobPruneDeliveries,
			Description: fmt.Sprintf("Delete webhook delivery records older than %d days", a.cfg.Webhook.RetentionDays),
			Interval:    a.cfg.Webhook.PruneInterval,
			Timeout:     pruneDeliveriesTime,
			Fn:          a.pruneDeliveries,
		})
	}
}

func (a *App) flushBuffers(ctx context.Context) (string, error) {
	batch := a.cfg.Audit.FlushBatchSize

	auditRes, auditErr := a.audit.Flush(ctx, batch)
	historyRes, historyErr := a.dispatcher.FlushHistory(ctx, batch)

	msg := fmt.Sprintf("audit flushed=%d failed=%d dropped=%d; deliveries flushed=%d failed=%d dropped=%d",
		auditRes.Flushed, auditRes.Failed, auditRes.Dropped,
		historyRes.Flushed, historyRes.Failed, historyRes.Dropped)
	return msg, errors.Join(auditErr, historyErr)
}

func (a *App) pruneDeliveries(ctx context.Context) (string, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Webhook.RetentionDays)
	n, err := a.webhooks.PruneDeliveries(ctx, cutoff)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("deleted=%d", n), nil
}
