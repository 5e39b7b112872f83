package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"BPSGateway/internal/invoices"
	"BPSGateway/internal/models"
	"BPSGateway/internal/reconcile"
)

type CurrencyAudit struct {
	Currency    models.Currency
	Unpaid      int
	Outstanding decimal.Decimal
	// PartiallyPaid counts unpaid invoices that already received something.
	PartiallyPaid int
	OldestUnpaid  time.Duration
}

type AuditReport struct {
	At         time.Time
	Currencies []CurrencyAudit
	Engine     reconcile.Stats
}

// Auditor periodically logs what is still owed. Missed credits show up here
// as invoices that stay unpaid.
type Auditor struct {
	Invoices   *invoices.Store
	Engine     *reconcile.Engine
	Currencies []models.Currency
	Logger     *slog.Logger
	Now        func() time.Time
}

func (a *Auditor) Audit(_ context.Context) AuditReport {
	now := time.Now().UTC()
	if a.Now != nil {
		now = a.Now()
	}
	report := AuditReport{At: now}
	if a.Engine != nil {
		report.Engine = a.Engine.Stats()
	}

	for _, c := range a.Currencies {
		ca := CurrencyAudit{Currency: c, Outstanding: decimal.Zero}
		a.Invoices.ForEachUnpaid(c, func(inv *models.Invoice) bool {
			ca.Unpaid++
			ca.Outstanding = ca.Outstanding.Add(inv.Amount.Sub(inv.Received))
			if inv.Received.IsPositive() {
				ca.PartiallyPaid++
			}
			if age := now.Sub(inv.CreatedAt); age > ca.OldestUnpaid {
				ca.OldestUnpaid = age
			}
			return true
		})
		report.Currencies = append(report.Currencies, ca)
		a.Logger.Info("Unpaid invoice audit",
			"currency", c,
			"unpaid", ca.Unpaid,
			"partially_paid", ca.PartiallyPaid,
			"outstanding", ca.Outstanding,
			"oldest_unpaid", ca.OldestUnpaid.Round(time.Second))
	}
	a.Logger.Info("Reconciliation counters",
		"processed", report.Engine.Processed,
		"credited", report.Engine.Credited,
		"paid", report.Engine.Paid,
		"ambiguous", report.Engine.Ambiguous,
		"failed", report.Engine.Failed)
	return report
}

// StartAudit schedules Audit with a cron spec such as "@every 5m". Stop the
// returned scheduler on shutdown.
func StartAudit(schedule string, a *Auditor) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { a.Audit(context.Background()) }); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
