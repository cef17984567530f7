package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/polytrade/errs"
	"github.com/coachpo/polytrade/internal/schema"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC and read back as float8; the engine
// operates on probability prices where float64 precision is sufficient.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store over the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres connects, applies migrations, and returns a ready store.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if err := ApplyMigrations(ctx, dsn, nil); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(pool), nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, pos schema.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (token_id, market_id, size, avg_entry_price, current_price, unrealized_pnl, realized_pnl, side, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (token_id) DO UPDATE SET
		   market_id = EXCLUDED.market_id,
		   size = EXCLUDED.size,
		   avg_entry_price = EXCLUDED.avg_entry_price,
		   current_price = EXCLUDED.current_price,
		   unrealized_pnl = EXCLUDED.unrealized_pnl,
		   realized_pnl = EXCLUDED.realized_pnl,
		   side = EXCLUDED.side,
		   updated_at = EXCLUDED.updated_at`,
		pos.TokenID, pos.MarketID, pos.Size, pos.AvgEntryPrice, pos.CurrentPrice,
		pos.UnrealizedPnL, pos.RealizedPnL, string(pos.Side), pos.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save position %s: %w", pos.TokenID, err)
	}
	return nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, tokenID string) (schema.Position, error) {
	var pos schema.Position
	var side string
	err := s.pool.QueryRow(ctx,
		`SELECT token_id, market_id, size::float8, avg_entry_price::float8, current_price::float8,
		        unrealized_pnl::float8, realized_pnl::float8, side, updated_at
		 FROM positions WHERE token_id = $1`, tokenID).
		Scan(&pos.TokenID, &pos.MarketID, &pos.Size, &pos.AvgEntryPrice, &pos.CurrentPrice,
			&pos.UnrealizedPnL, &pos.RealizedPnL, &side, &pos.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.Position{}, errs.New("store/postgres", errs.CodeNotFound,
			errs.WithMessage("position not found"), errs.WithDetail("token", tokenID))
	}
	if err != nil {
		return schema.Position{}, fmt.Errorf("get position %s: %w", tokenID, err)
	}
	pos.Side = schema.Side(side)
	return pos, nil
}

func (s *PostgresStore) GetAllActivePositions(ctx context.Context) ([]schema.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token_id, market_id, size::float8, avg_entry_price::float8, current_price::float8,
		        unrealized_pnl::float8, realized_pnl::float8, side, updated_at
		 FROM positions WHERE size <> 0 ORDER BY token_id`)
	if err != nil {
		return nil, fmt.Errorf("list active positions: %w", err)
	}
	defer rows.Close()

	var out []schema.Position
	for rows.Next() {
		var pos schema.Position
		var side string
		if err := rows.Scan(&pos.TokenID, &pos.MarketID, &pos.Size, &pos.AvgEntryPrice, &pos.CurrentPrice,
			&pos.UnrealizedPnL, &pos.RealizedPnL, &side, &pos.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		pos.Side = schema.Side(side)
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveOrder(ctx context.Context, order schema.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (order_id, token_id, side, price, size, order_type, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (order_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   updated_at = EXCLUDED.updated_at`,
		order.OrderID, order.TokenID, string(order.Side), order.Price, order.Size,
		string(order.Type), string(order.Status), order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save order %s: %w", order.OrderID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID string, status schema.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE order_id = $1`,
		orderID, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("store/postgres", errs.CodeNotFound,
			errs.WithMessage("order not found"), errs.WithDetail("order", orderID))
	}
	return nil
}

func (s *PostgresStore) GetOpenOrders(ctx context.Context) ([]schema.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT order_id, token_id, side, price::float8, size::float8, order_type, status, created_at, updated_at
		 FROM orders WHERE status IN ('pending', 'open') ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()

	var out []schema.Order
	for rows.Next() {
		var order schema.Order
		var side, typ, status string
		if err := rows.Scan(&order.OrderID, &order.TokenID, &side, &order.Price, &order.Size,
			&typ, &status, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		order.Side = schema.Side(side)
		order.Type = schema.OrderType(typ)
		order.Status = schema.OrderStatus(status)
		out = append(out, order)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveTrade(ctx context.Context, trade schema.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, order_id, token_id, side, price, size, strategy, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   order_id = EXCLUDED.order_id,
		   token_id = EXCLUDED.token_id,
		   side = EXCLUDED.side,
		   price = EXCLUDED.price,
		   size = EXCLUDED.size,
		   strategy = EXCLUDED.strategy,
		   executed_at = EXCLUDED.executed_at`,
		trade.ID, trade.OrderID, trade.TokenID, string(trade.Side), trade.Price, trade.Size,
		trade.Strategy, trade.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save trade %s: %w", trade.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetTrades(ctx context.Context, tokenID string, limit int) ([]schema.Trade, error) {
	query := `SELECT id, order_id, token_id, side, price::float8, size::float8, strategy, executed_at
	          FROM trades`
	args := []any{}
	if tokenID != "" {
		query += ` WHERE token_id = $1`
		args = append(args, tokenID)
	}
	query += ` ORDER BY executed_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []schema.Trade
	for rows.Next() {
		var trade schema.Trade
		var side string
		if err := rows.Scan(&trade.ID, &trade.OrderID, &trade.TokenID, &side,
			&trade.Price, &trade.Size, &trade.Strategy, &trade.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trade.Side = schema.Side(side)
		out = append(out, trade)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetDailyPnL(ctx context.Context, date time.Time) (float64, error) {
	start, end := dayBounds(date)
	var pnl float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN side = 'SELL' THEN price * size ELSE -(price * size) END), 0)::float8
		 FROM trades WHERE executed_at >= $1 AND executed_at < $2`, start, end).
		Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("daily pnl: %w", err)
	}
	return pnl, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
