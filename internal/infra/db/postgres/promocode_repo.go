package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vpn-subscription-store/internal/domain"
	"vpn-subscription-store/internal/domain/model"
	"vpn-subscription-store/internal/domain/ports/repository"
)

var _ repository.PromocodeRepository = (*promocodeRepo)(nil)

type promocodeRepo struct{ pool *pgxpool.Pool }

func NewPromocodeRepo(pool *pgxpool.Pool) *promocodeRepo {
	return &promocodeRepo{pool: pool}
}

const promocodeColumns = `id, code, discount_type, value, min_amount, max_uses, current_uses, active, expires_at, created_at`

func (r *promocodeRepo) Save(ctx context.Context, tx repository.Tx, pc *model.Promocode) error {
	const q = `
INSERT INTO promocodes (id, code, discount_type, value, min_amount, max_uses, current_uses, active, expires_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (code) DO UPDATE SET
    discount_type=EXCLUDED.discount_type,
    value=EXCLUDED.value,
    min_amount=EXCLUDED.min_amount,
    max_uses=EXCLUDED.max_uses,
    active=EXCLUDED.active,
    expires_at=EXCLUDED.expires_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		pc.ID, model.NormalizeCode(pc.Code), pc.Type, pc.Value, pc.MinAmount, pc.MaxUses, pc.CurrentUses, pc.Active, pc.ExpiresAt, pc.CreatedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *promocodeRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Promocode, error) {
	const q = `SELECT ` + promocodeColumns + ` FROM promocodes WHERE code=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, model.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	return scanPromocode(row)
}

// IncrementUses bumps the counter only while uses remain, so a concurrent
// redemption race cannot push a code past max_uses.
func (r *promocodeRepo) IncrementUses(ctx context.Context, tx repository.Tx, code string) error {
	const q = `
UPDATE promocodes SET current_uses = current_uses + 1
WHERE code=$1 AND (max_uses = 0 OR current_uses < max_uses);`
	cmd, err := execSQL(ctx, r.pool, tx, q, model.NormalizeCode(code))
	if err != nil {
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrInvalidPromocode
	}
	return nil
}

func (r *promocodeRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Promocode, error) {
	const q = `SELECT ` + promocodeColumns + ` FROM promocodes WHERE active ORDER BY created_at DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Promocode
	for rows.Next() {
		pc, err := scanPromocode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, nil
}

func scanPromocode(row pgx.Row) (*model.Promocode, error) {
	pc := &model.Promocode{}
	err := row.Scan(&pc.ID, &pc.Code, &pc.Type, &pc.Value, &pc.MinAmount, &pc.MaxUses, &pc.CurrentUses, &pc.Active, &pc.ExpiresAt, &pc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return pc, nil
}
