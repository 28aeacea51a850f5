package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lonestarfoods/discount-engine/internal/domain/discount"
)

const (
	lockCodeForUsageSQL = `SELECT max_usage_total, max_usage_per_email
		FROM discount_codes WHERE id = $1 FOR UPDATE`

	countUsagesSQL = `SELECT count(*) FROM discount_usages WHERE discount_id = $1`

	countUsagesByEmailSQL = `SELECT count(*) FROM discount_usages
		WHERE discount_id = $1 AND email = $2`

	insertUsageSQL = `INSERT INTO discount_usages (id, discount_id, email,
		order_id, order_number, subtotal, discount_applied, rules_applied,
		ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING used_at`

	incrementUsageCountSQL = `UPDATE discount_codes
		SET current_usage_count = current_usage_count + 1 WHERE id = $1`

	usageStatsSQL = `SELECT count(*), count(DISTINCT email),
		COALESCE(SUM(discount_applied), 0)
		FROM discount_usages WHERE discount_id = $1`

	recentUsagesSQL = `SELECT email, COALESCE(order_number, ''),
		discount_applied, rules_applied, used_at
		FROM discount_usages WHERE discount_id = $1
		ORDER BY used_at DESC LIMIT 10`
)

var (
	_ discount.UsageLedger = (*UsageRepository)(nil)
	_ discount.Recorder    = (*UsageRepository)(nil)
	_ discount.StatsStore  = (*UsageRepository)(nil)
)

// UsageRepository implements the redemption ledger backed by PostgreSQL.
type UsageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository returns a UsageRepository that uses the given pool.
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// Record appends a ledger row and increments the denormalized usage counter
// in one transaction. It locks the code row first and re-counts the ledger
// under the lock, so two concurrent redemptions of the last remaining use
// serialize and exactly one of them succeeds.
func (r *UsageRepository) Record(ctx context.Context, u *discount.Usage) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			maxTotal    *int
			maxPerEmail int
		)
		err := tx.QueryRow(ctx, lockCodeForUsageSQL, u.DiscountID).Scan(&maxTotal, &maxPerEmail)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return discount.ErrCodeNotFound
			}
			return fmt.Errorf("locking discount code %s: %w", u.DiscountID, err)
		}

		// The ledger, not the counter, is the source of truth for the caps.
		if maxTotal != nil {
			var total int
			if err := tx.QueryRow(ctx, countUsagesSQL, u.DiscountID).Scan(&total); err != nil {
				return fmt.Errorf("counting usages for %s: %w", u.DiscountID, err)
			}
			if total >= *maxTotal {
				return discount.ErrUsageLimitReached
			}
		}

		var emailUses int
		if err := tx.QueryRow(ctx, countUsagesByEmailSQL, u.DiscountID, u.Email).Scan(&emailUses); err != nil {
			return fmt.Errorf("counting email usages for %s: %w", u.DiscountID, err)
		}
		if emailUses >= maxPerEmail {
			return discount.ErrEmailLimitReached
		}

		rules, err := encodeAppliedRules(u.RulesApplied)
		if err != nil {
			return errors.Wrap(err, "encoding applied rules")
		}
		err = tx.QueryRow(ctx, insertUsageSQL,
			u.ID, u.DiscountID, u.Email,
			nullIfEmpty(u.OrderID), nullIfEmpty(u.OrderNumber),
			u.Subtotal, u.DiscountApplied, rules, u.IPAddress,
		).Scan(&u.UsedAt)
		if err != nil {
			return fmt.Errorf("inserting usage for %s: %w", u.DiscountID, err)
		}

		if _, err := tx.Exec(ctx, incrementUsageCountSQL, u.DiscountID); err != nil {
			return fmt.Errorf("incrementing usage count for %s: %w", u.DiscountID, err)
		}
		return nil
	})
}

// CountByEmail returns the number of ledger rows for (discountID, email).
func (r *UsageRepository) CountByEmail(ctx context.Context, discountID, email string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, countUsagesByEmailSQL, discountID, email).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting email usages for %s: %w", discountID, err)
	}
	return count, nil
}

// Stats aggregates the ledger for one code: total uses, unique emails, total
// discount given and the ten most recent redemptions.
func (r *UsageRepository) Stats(ctx context.Context, discountID string) (*discount.UsageStats, error) {
	var (
		stats discount.UsageStats
		total decimal.Decimal
	)
	err := r.pool.QueryRow(ctx, usageStatsSQL, discountID).
		Scan(&stats.TotalUses, &stats.UniqueEmails, &total)
	if err != nil {
		return nil, fmt.Errorf("aggregating usage stats for %s: %w", discountID, err)
	}
	stats.TotalDiscountGiven = total.IntPart()

	rows, err := r.pool.Query(ctx, recentUsagesSQL, discountID)
	if err != nil {
		return nil, fmt.Errorf("loading recent usages for %s: %w", discountID, err)
	}
	stats.Recent, err = pgx.CollectRows(rows, scanRecentUsage)
	if err != nil {
		return nil, fmt.Errorf("loading recent usages for %s: %w", discountID, err)
	}

	return &stats, nil
}

func scanRecentUsage(row pgx.CollectableRow) (discount.RecentUsage, error) {
	var (
		u     discount.RecentUsage
		rules []byte
	)
	if err := row.Scan(&u.Email, &u.OrderNumber, &u.DiscountApplied, &rules, &u.UsedAt); err != nil {
		return u, err
	}
	var err error
	u.RulesApplied, err = decodeAppliedRules(rules)
	return u, err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// encodeAppliedRules serializes the applied-rule breakdown for the
// rules_applied JSONB column.
func encodeAppliedRules(rules []discount.AppliedRule) ([]byte, error) {
	var w jx.Writer
	w.ArrStart()
	for i, r := range rules {
		if i > 0 {
			w.Comma()
		}
		w.ObjStart()
		w.FieldStart("ruleId")
		w.Str(r.RuleID)
		w.Comma()
		w.FieldStart("type")
		w.Str(string(r.Type))
		w.Comma()
		w.FieldStart("value")
		w.Int64(r.Value)
		w.Comma()
		w.FieldStart("appliedDiscount")
		w.Int64(r.AppliedDiscount)
		w.ObjEnd()
	}
	w.ArrEnd()
	return w.Buf, nil
}

// decodeAppliedRules parses a rules_applied JSONB value.
func decodeAppliedRules(data []byte) ([]discount.AppliedRule, error) {
	if len(data) == 0 {
		return nil, nil
	}
	d := jx.DecodeBytes(data)
	var out []discount.AppliedRule
	err := d.Arr(func(d *jx.Decoder) error {
		var r discount.AppliedRule
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "ruleId":
				s, err := d.Str()
				r.RuleID = s
				return err
			case "type":
				s, err := d.Str()
				r.Type = discount.RuleType(s)
				return err
			case "value":
				v, err := d.Int64()
				r.Value = v
				return err
			case "appliedDiscount":
				v, err := d.Int64()
				r.AppliedDiscount = v
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decoding applied rules")
	}
	return out, nil
}
