package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/pkg/config"
	"github.com/noah-isme/sma-tuition-api/pkg/database"
)

type check struct {
	Name     string
	Critical bool
	Query    string
}

type finding struct {
	Subject  string          `db:"subject"`
	Expected decimal.Decimal `db:"expected"`
	Actual   decimal.Decimal `db:"actual"`
}

type result struct {
	Check    check
	Findings []finding
	Error    error
	Duration time.Duration
}

var checks = []check{
	{
		Name:     "plan total_paid matches installment credits",
		Critical: true,
		Query: `SELECT p.id AS subject, COALESCE(SUM(i.amount_paid), 0) AS expected, p.total_paid AS actual
	FROM payment_plans p LEFT JOIN installments i ON i.plan_id = p.id
	GROUP BY p.id, p.total_paid
	HAVING COALESCE(SUM(i.amount_paid), 0) <> p.total_paid`,
	},
	{
		Name:     "installment amount_paid matches live allocations",
		Critical: true,
		Query: `SELECT i.id AS subject, COALESCE(SUM(a.amount) FILTER (WHERE pay.status <> 'REJECTED'), 0) AS expected, i.amount_paid AS actual
	FROM installments i
	LEFT JOIN payment_allocations a ON a.installment_id = i.id
	LEFT JOIN payments pay ON pay.id = a.payment_id
	GROUP BY i.id, i.amount_paid
	HAVING COALESCE(SUM(a.amount) FILTER (WHERE pay.status <> 'REJECTED'), 0) <> i.amount_paid`,
	},
	{
		Name:     "installment schedule sums to plan total_owed",
		Critical: true,
		Query: `SELECT p.id AS subject, p.total_owed AS expected, COALESCE(SUM(i.amount_due), 0) AS actual
	FROM payment_plans p LEFT JOIN installments i ON i.plan_id = p.id
	GROUP BY p.id, p.total_owed
	HAVING COALESCE(SUM(i.amount_due), 0) <> p.total_owed`,
	},
	{
		Name: "settled installments carry PAID status",
		Query: `SELECT i.id AS subject, i.amount_due AS expected, i.amount_paid AS actual
	FROM installments i
	WHERE (i.amount_paid = i.amount_due) <> (i.status = 'PAID')`,
	},
	{
		Name: "settled plans carry COMPLETED status",
		Query: `SELECT p.id AS subject, p.total_owed AS expected, p.total_paid AS actual
	FROM payment_plans p
	WHERE p.status NOT IN ('CANCELLED') AND (p.total_paid = p.total_owed) <> (p.status = 'COMPLETED')`,
	},
}

func main() {
	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall audit timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer db.Close() //nolint:errcheck

	var (
		results  []result
		breaking int
		warnings int
	)
	for _, c := range checks {
		res := runCheck(ctx, db, c)
		if res.Error != nil || len(res.Findings) > 0 {
			if c.Critical {
				breaking++
			} else {
				warnings++
			}
		}
		results = append(results, res)
	}

	printReport(results)

	fmt.Printf("Breaking findings: %d, Warnings: %d\n", breaking, warnings)
	if breaking > 0 {
		os.Exit(1)
	}
}

func runCheck(ctx context.Context, db *sqlx.DB, c check) result {
	res := result{Check: c}
	start := time.Now()
	if err := db.SelectContext(ctx, &res.Findings, c.Query); err != nil {
		res.Error = fmt.Errorf("run %q: %w", c.Name, err)
	}
	res.Duration = time.Since(start)
	return res
}

func printReport(results []result) {
	fmt.Println("Ledger Reconciliation Report")
	fmt.Println("============================")
	for _, res := range results {
		status := "OK"
		if res.Error != nil {
			status = "ERROR"
		} else if len(res.Findings) > 0 {
			status = "DIFF"
		}
		fmt.Printf("[%s] %s (%s)\n", status, res.Check.Name, res.Duration)
		if res.Error != nil {
			fmt.Printf("  Error: %v\n", res.Error)
			continue
		}
		for _, f := range res.Findings {
			fmt.Printf("  %s expected=%s actual=%s critical=%t\n", f.Subject, f.Expected.StringFixed(2), f.Actual.StringFixed(2), res.Check.Critical)
		}
	}
}
