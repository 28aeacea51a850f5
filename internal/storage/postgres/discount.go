package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lonestarfoods/discount-engine/internal/domain/discount"
)

const codeColumns = `id, code, name, description, source, is_active,
	starts_at, expires_at, min_order_amount, max_discount_amount,
	max_usage_total, max_usage_per_email, current_usage_count,
	first_order_only, stackable, priority, created_by, created_at`

const (
	getCodeByCodeSQL = `SELECT ` + codeColumns + `
		FROM discount_codes WHERE code = UPPER($1)`

	getCodeByIDSQL = `SELECT ` + codeColumns + `
		FROM discount_codes WHERE id = $1`

	getRulesSQL = `SELECT id, type, value, max_discount, buy_product_sku,
		buy_quantity, get_product_sku, get_quantity, get_discount_pct,
		min_order_amount, priority
		FROM discount_rules WHERE discount_id = $1 ORDER BY priority DESC, id`

	getRestrictionsSQL = `SELECT id, type, value, include
		FROM discount_restrictions WHERE discount_id = $1 ORDER BY id`

	insertCodeSQL = `INSERT INTO discount_codes (id, code, name, description,
		source, is_active, starts_at, expires_at, min_order_amount,
		max_discount_amount, max_usage_total, max_usage_per_email,
		first_order_only, stackable, priority, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	updateCodeSQL = `UPDATE discount_codes SET code = $2, name = $3,
		description = $4, is_active = $5, starts_at = $6, expires_at = $7,
		min_order_amount = $8, max_discount_amount = $9, max_usage_total = $10,
		max_usage_per_email = $11, first_order_only = $12, stackable = $13,
		priority = $14
		WHERE id = $1`

	deleteCodeSQL = `DELETE FROM discount_codes WHERE id = $1`

	insertRuleSQL = `INSERT INTO discount_rules (id, discount_id, type, value,
		max_discount, buy_product_sku, buy_quantity, get_product_sku,
		get_quantity, get_discount_pct, min_order_amount, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	insertRestrictionSQL = `INSERT INTO discount_restrictions (id, discount_id,
		type, value, include)
		VALUES ($1, $2, $3, $4, $5)`

	deleteRulesSQL        = `DELETE FROM discount_rules WHERE discount_id = $1`
	deleteRestrictionsSQL = `DELETE FROM discount_restrictions WHERE discount_id = $1`
)

var (
	_ discount.Repository = (*CodeRepository)(nil)
	_ discount.CodeStore  = (*CodeRepository)(nil)
)

// CodeRepository implements discount code lookup and admin persistence
// backed by PostgreSQL.
type CodeRepository struct {
	pool *pgxpool.Pool
}

// NewCodeRepository returns a CodeRepository that uses the given pool.
func NewCodeRepository(pool *pgxpool.Pool) *CodeRepository {
	return &CodeRepository{pool: pool}
}

// FindByCode looks up a discount code by its code string (case-insensitive)
// with rules ordered by priority descending and restrictions loaded.
// Returns discount.ErrCodeNotFound when no record matches.
func (r *CodeRepository) FindByCode(ctx context.Context, code string) (*discount.Code, error) {
	rows, err := r.pool.Query(ctx, getCodeByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrCodeNotFound
		}
		return nil, fmt.Errorf("finding discount code %q: %w", code, err)
	}

	if err := r.loadChildren(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByID returns the full nested code record.
// Returns discount.ErrCodeNotFound when no record matches.
func (r *CodeRepository) GetByID(ctx context.Context, id string) (*discount.Code, error) {
	rows, err := r.pool.Query(ctx, getCodeByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting discount code %s: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrCodeNotFound
		}
		return nil, fmt.Errorf("getting discount code %s: %w", id, err)
	}

	if err := r.loadChildren(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Insert persists a code and its children in one transaction.
func (r *CodeRepository) Insert(ctx context.Context, c *discount.Code) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertCodeSQL,
			c.ID, c.Code, c.Name, c.Description, string(c.Source), c.IsActive,
			c.StartsAt, c.ExpiresAt, c.MinOrderAmount, c.MaxDiscountAmount,
			c.MaxUsageTotal, c.MaxUsagePerEmail, c.FirstOrderOnly,
			c.Stackable, c.Priority, c.CreatedBy,
		)
		if err != nil {
			return fmt.Errorf("inserting discount code %q: %w", c.Code, err)
		}
		if err := insertChildren(ctx, tx, c); err != nil {
			return err
		}
		return nil
	})
}

// Update persists the code row and, when requested, swaps out the rule or
// restriction collections. The whole operation runs in one transaction so no
// concurrent reader observes a code with zero rules mid-update.
func (r *CodeRepository) Update(ctx context.Context, c *discount.Code, replaceRules, replaceRestrictions bool) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateCodeSQL,
			c.ID, c.Code, c.Name, c.Description, c.IsActive,
			c.StartsAt, c.ExpiresAt, c.MinOrderAmount, c.MaxDiscountAmount,
			c.MaxUsageTotal, c.MaxUsagePerEmail, c.FirstOrderOnly,
			c.Stackable, c.Priority,
		)
		if err != nil {
			return fmt.Errorf("updating discount code %s: %w", c.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return discount.ErrCodeNotFound
		}

		if replaceRules {
			if _, err := tx.Exec(ctx, deleteRulesSQL, c.ID); err != nil {
				return fmt.Errorf("deleting rules for %s: %w", c.ID, err)
			}
			for _, rule := range c.Rules {
				if err := insertRule(ctx, tx, c.ID, rule); err != nil {
					return err
				}
			}
		}
		if replaceRestrictions {
			if _, err := tx.Exec(ctx, deleteRestrictionsSQL, c.ID); err != nil {
				return fmt.Errorf("deleting restrictions for %s: %w", c.ID, err)
			}
			for _, res := range c.Restrictions {
				if err := insertRestriction(ctx, tx, c.ID, res); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Delete removes a code; rules, restrictions and ledger rows cascade.
func (r *CodeRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCodeSQL, id)
	if err != nil {
		return fmt.Errorf("deleting discount code %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrCodeNotFound
	}
	return nil
}

// List returns a page of codes (with children loaded) and the total count
// for the filter.
func (r *CodeRepository) List(ctx context.Context, f discount.ListFilter) ([]discount.Code, int, error) {
	where, args := buildListFilter(f)

	var total int
	countSQL := `SELECT count(*) FROM discount_codes` + where
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting discount codes: %w", err)
	}

	pageSQL := fmt.Sprintf(`SELECT %s FROM discount_codes%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		codeColumns, where, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, pageSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing discount codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, scanCode)
	if err != nil {
		return nil, 0, fmt.Errorf("listing discount codes: %w", err)
	}

	for i := range codes {
		if err := r.loadChildren(ctx, &codes[i]); err != nil {
			return nil, 0, err
		}
	}
	return codes, total, nil
}

func buildListFilter(f discount.ListFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Source != "" {
		args = append(args, string(f.Source))
		clauses = append(clauses, fmt.Sprintf("source = $%d", len(args)))
	}
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		clauses = append(clauses, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if !f.IncludeExpired {
		clauses = append(clauses, "(expires_at IS NULL OR expires_at > now())")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *CodeRepository) loadChildren(ctx context.Context, c *discount.Code) error {
	rows, err := r.pool.Query(ctx, getRulesSQL, c.ID)
	if err != nil {
		return fmt.Errorf("loading rules for %s: %w", c.ID, err)
	}
	c.Rules, err = pgx.CollectRows(rows, scanRule)
	if err != nil {
		return fmt.Errorf("loading rules for %s: %w", c.ID, err)
	}

	rows, err = r.pool.Query(ctx, getRestrictionsSQL, c.ID)
	if err != nil {
		return fmt.Errorf("loading restrictions for %s: %w", c.ID, err)
	}
	c.Restrictions, err = pgx.CollectRows(rows, scanRestriction)
	if err != nil {
		return fmt.Errorf("loading restrictions for %s: %w", c.ID, err)
	}
	return nil
}

func insertChildren(ctx context.Context, tx pgx.Tx, c *discount.Code) error {
	for _, rule := range c.Rules {
		if err := insertRule(ctx, tx, c.ID, rule); err != nil {
			return err
		}
	}
	for _, res := range c.Restrictions {
		if err := insertRestriction(ctx, tx, c.ID, res); err != nil {
			return err
		}
	}
	return nil
}

func insertRule(ctx context.Context, tx pgx.Tx, discountID string, rule discount.Rule) error {
	_, err := tx.Exec(ctx, insertRuleSQL,
		rule.ID, discountID, string(rule.Type), rule.Value, rule.MaxDiscount,
		rule.BuyProductSKU, rule.BuyQuantity, rule.GetProductSKU,
		rule.GetQuantity, rule.GetDiscountPct, rule.MinOrderAmount,
		rule.Priority,
	)
	if err != nil {
		return fmt.Errorf("inserting rule %s: %w", rule.ID, err)
	}
	return nil
}

func insertRestriction(ctx context.Context, tx pgx.Tx, discountID string, res discount.Restriction) error {
	_, err := tx.Exec(ctx, insertRestrictionSQL,
		res.ID, discountID, string(res.Type), res.Value, res.Include,
	)
	if err != nil {
		return fmt.Errorf("inserting restriction %s: %w", res.ID, err)
	}
	return nil
}

func scanCode(row pgx.CollectableRow) (discount.Code, error) {
	var (
		c      discount.Code
		source string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Name, &c.Description, &source, &c.IsActive,
		&c.StartsAt, &c.ExpiresAt, &c.MinOrderAmount, &c.MaxDiscountAmount,
		&c.MaxUsageTotal, &c.MaxUsagePerEmail, &c.CurrentUsageCount,
		&c.FirstOrderOnly, &c.Stackable, &c.Priority, &c.CreatedBy, &c.CreatedAt,
	)
	c.Source = discount.Source(source)
	return c, err
}

func scanRule(row pgx.CollectableRow) (discount.Rule, error) {
	var (
		rule     discount.Rule
		ruleType string
	)
	err := row.Scan(
		&rule.ID, &ruleType, &rule.Value, &rule.MaxDiscount,
		&rule.BuyProductSKU, &rule.BuyQuantity, &rule.GetProductSKU,
		&rule.GetQuantity, &rule.GetDiscountPct, &rule.MinOrderAmount,
		&rule.Priority,
	)
	rule.Type = discount.RuleType(ruleType)
	return rule, err
}

func scanRestriction(row pgx.CollectableRow) (discount.Restriction, error) {
	var (
		res     discount.Restriction
		resType string
	)
	err := row.Scan(&res.ID, &resType, &res.Value, &res.Include)
	res.Type = discount.RestrictionType(resType)
	return res, err
}
