package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/synthvault/collateral-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC for exact decimal precision;
// baskets are stored as JSONB since their length varies per position.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	basket, err := json.Marshal(p.Basket)
	if err != nil {
		return fmt.Errorf("marshal basket: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO positions (id, owner, basket, total_value_usd, minted_amount,
		                        applied_ratio_bps, confidence, request_id, state, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9, $10)`,
		p.ID, p.Owner, basket,
		p.TotalValueUSD.String(), p.MintedAmount.String(),
		p.AppliedRatioBps, p.Confidence, p.RequestID, int32(p.State), p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner, basket, total_value_usd::TEXT, minted_amount::TEXT,
		        applied_ratio_bps, confidence, request_id, state, created_at
		 FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPositionNotFound
		}
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	basket, err := json.Marshal(p.Basket)
	if err != nil {
		return fmt.Errorf("marshal basket: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET basket = $2, total_value_usd = $3::NUMERIC, minted_amount = $4::NUMERIC,
		     applied_ratio_bps = $5, confidence = $6, request_id = $7, state = $8
		 WHERE id = $1`,
		p.ID, basket,
		p.TotalValueUSD.String(), p.MintedAmount.String(),
		p.AppliedRatioBps, p.Confidence, p.RequestID, int32(p.State),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrPositionNotFound
	}
	return nil
}

func (s *PostgresStore) ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner, basket, total_value_usd::TEXT, minted_amount::TEXT,
		        applied_ratio_bps, confidence, request_id, state, created_at
		 FROM positions WHERE owner = $1 ORDER BY created_at`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) CreateRequest(ctx context.Context, r *model.Request) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO requests (id, position_id, fingerprint, processed, retry_count,
		                       created_at, manual_eligible_at, emergency_eligible_at, vault_bypass_eligible_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.PositionID, r.Fingerprint, r.Processed, r.RetryCount,
		r.CreatedAt, r.ManualEligibleAt, r.EmergencyEligibleAt, r.VaultBypassEligibleAt,
	)
	return err
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.Request, error) {
	var r model.Request
	err := s.pool.QueryRow(ctx,
		`SELECT id, position_id, fingerprint, processed, retry_count,
		        created_at, manual_eligible_at, emergency_eligible_at, vault_bypass_eligible_at
		 FROM requests WHERE id = $1`, id).
		Scan(&r.ID, &r.PositionID, &r.Fingerprint, &r.Processed, &r.RetryCount,
			&r.CreatedAt, &r.ManualEligibleAt, &r.EmergencyEligibleAt, &r.VaultBypassEligibleAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRequestNotFound
		}
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	return &r, nil
}

func (s *PostgresStore) UpdateRequest(ctx context.Context, r *model.Request) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE requests SET processed = $2, retry_count = $3 WHERE id = $1`,
		r.ID, r.Processed, r.RetryCount,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrRequestNotFound
	}
	return nil
}

func (s *PostgresStore) AddAutomationUser(ctx context.Context, user string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO automation_users (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, user)
	return err
}

func (s *PostgresStore) RemoveAutomationUser(ctx context.Context, user string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM automation_users WHERE user_id = $1`, user)
	return err
}

func (s *PostgresStore) ListAutomationUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM automation_users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) GetSweepCursor(ctx context.Context) (int, error) {
	var cursor int
	err := s.pool.QueryRow(ctx,
		`SELECT cursor FROM sweep_cursor WHERE id = 1`).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return cursor, err
}

func (s *PostgresStore) SetSweepCursor(ctx context.Context, cursor int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sweep_cursor (id, cursor) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET cursor = EXCLUDED.cursor`, cursor)
	return err
}

// scanPosition reads one positions row. Works for both QueryRow and Query
// result rows.
func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var basket []byte
	var totalS, mintedS string
	var state int32

	if err := row.Scan(&p.ID, &p.Owner, &basket, &totalS, &mintedS,
		&p.AppliedRatioBps, &p.Confidence, &p.RequestID, &state, &p.CreatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(basket, &p.Basket); err != nil {
		return nil, fmt.Errorf("unmarshal basket: %w", err)
	}
	p.TotalValueUSD, _ = decimal.NewFromString(totalS)
	p.MintedAmount, _ = decimal.NewFromString(mintedS)
	p.State = model.PositionState(state)

	return &p, nil
}
