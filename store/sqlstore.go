package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/advisor/model"
)

// sqlStore implements Store on top of database/sql. SQLite and Postgres
// share the queries; only the placeholder style differs.
type sqlStore struct {
	db *sql.DB
	pg bool
}

// q converts ?-placeholders to $n when talking to Postgres.
func (s *sqlStore) q(query string) string {
	if !s.pg {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Close() error { return s.db.Close() }

// ---- orders ----

const orderColumns = `id, symbol, side, quantity, kind, limit_price, stop_price, fill_price,
	status, depends_on, depends_trigger, transaction_id, recommendation_id,
	account_id, expert_id, broker_id, comment, created_at, updated_at`

func (s *sqlStore) CreateOrder(ctx context.Context, ord *model.Order) error {
	if err := ord.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if ord.CreatedAt.IsZero() {
		ord.CreatedAt = now
	}
	ord.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ord.ID, ord.Symbol, ord.Side, ord.Quantity, ord.Kind,
		ord.LimitPrice, ord.StopPrice, ord.FillPrice,
		ord.Status, ord.DependsOn, ord.DependsTrigger,
		ord.TransactionID, ord.RecommendationID,
		ord.AccountID, ord.ExpertID, ord.BrokerID, ord.Comment,
		ord.CreatedAt, ord.UpdatedAt,
	)
	return err
}

func (s *sqlStore) Order(ctx context.Context, id string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+orderColumns+` FROM orders WHERE id = ?`), id)
	return scanOrder(row)
}

func (s *sqlStore) UpdateOrder(ctx context.Context, ord *model.Order) error {
	ord.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE orders SET symbol = ?, side = ?, quantity = ?, kind = ?,
			limit_price = ?, stop_price = ?, fill_price = ?, status = ?,
			depends_on = ?, depends_trigger = ?, transaction_id = ?,
			recommendation_id = ?, account_id = ?, expert_id = ?,
			broker_id = ?, comment = ?, updated_at = ?
		WHERE id = ?`),
		ord.Symbol, ord.Side, ord.Quantity, ord.Kind,
		ord.LimitPrice, ord.StopPrice, ord.FillPrice, ord.Status,
		ord.DependsOn, ord.DependsTrigger, ord.TransactionID,
		ord.RecommendationID, ord.AccountID, ord.ExpertID,
		ord.BrokerID, ord.Comment, ord.UpdatedAt,
		ord.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqlStore) DeleteOrder(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM orders WHERE id = ?`), id)
	return err
}

func (s *sqlStore) OrdersByTransaction(ctx context.Context, txID string) ([]model.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE transaction_id = ? ORDER BY id`, txID)
}

func (s *sqlStore) DependentOrders(ctx context.Context, id string) ([]model.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE depends_on = ? ORDER BY id`, id)
}

func (s *sqlStore) PendingUnsizedOrders(ctx context.Context, expertID string) ([]model.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE expert_id = ? AND status = ? AND quantity = 0
		ORDER BY id`, expertID, model.OrderPending)
}

func (s *sqlStore) WaitingTriggerOrders(ctx context.Context) ([]model.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE status = ? ORDER BY id`,
		model.OrderWaitingTrigger)
}

func (s *sqlStore) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ord)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*model.Order, error) {
	var (
		ord         model.Order
		limit, stop sql.NullFloat64
	)
	err := row.Scan(
		&ord.ID, &ord.Symbol, &ord.Side, &ord.Quantity, &ord.Kind,
		&limit, &stop, &ord.FillPrice,
		&ord.Status, &ord.DependsOn, &ord.DependsTrigger,
		&ord.TransactionID, &ord.RecommendationID,
		&ord.AccountID, &ord.ExpertID, &ord.BrokerID, &ord.Comment,
		&ord.CreatedAt, &ord.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if limit.Valid {
		ord.LimitPrice = &limit.Float64
	}
	if stop.Valid {
		ord.StopPrice = &stop.Float64
	}
	return &ord, nil
}

// ---- transactions ----

const txColumns = `id, symbol, quantity, open_price, take_profit, stop_loss, status,
	opened_at, closed_at, expert_id, account_id, created_at, updated_at`

func (s *sqlStore) CreateTransaction(ctx context.Context, tx *model.Transaction) error {
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		tx.ID, tx.Symbol, tx.Quantity, tx.OpenPrice,
		tx.TakeProfit, tx.StopLoss, tx.Status,
		tx.OpenedAt, tx.ClosedAt, tx.ExpertID, tx.AccountID,
		tx.CreatedAt, tx.UpdatedAt,
	)
	return err
}

func (s *sqlStore) Transaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+txColumns+` FROM transactions WHERE id = ?`), id)
	return scanTransaction(row)
}

func (s *sqlStore) UpdateTransaction(ctx context.Context, tx *model.Transaction) error {
	tx.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE transactions SET symbol = ?, quantity = ?, open_price = ?,
			take_profit = ?, stop_loss = ?, status = ?,
			opened_at = ?, closed_at = ?, expert_id = ?, account_id = ?,
			updated_at = ?
		WHERE id = ?`),
		tx.Symbol, tx.Quantity, tx.OpenPrice,
		tx.TakeProfit, tx.StopLoss, tx.Status,
		tx.OpenedAt, tx.ClosedAt, tx.ExpertID, tx.AccountID,
		tx.UpdatedAt,
		tx.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqlStore) DeleteTransaction(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM transactions WHERE id = ?`), id)
	return err
}

func (s *sqlStore) OpenTransaction(ctx context.Context, expertID, symbol string) (*model.Transaction, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+txColumns+` FROM transactions
		WHERE expert_id = ? AND symbol = ? AND status IN (?, ?)
		ORDER BY id DESC LIMIT 1`),
		expertID, symbol, model.TxWaiting, model.TxOpened)
	return scanTransaction(row)
}

func (s *sqlStore) OpenTransactionsByExpert(ctx context.Context, expertID string) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+txColumns+` FROM transactions
		WHERE expert_id = ? AND status IN (?, ?)
		ORDER BY id`),
		expertID, model.TxWaiting, model.TxOpened)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func scanTransaction(row scanner) (*model.Transaction, error) {
	var (
		tx     model.Transaction
		tp, sl sql.NullFloat64
	)
	err := row.Scan(
		&tx.ID, &tx.Symbol, &tx.Quantity, &tx.OpenPrice,
		&tp, &sl, &tx.Status,
		&tx.OpenedAt, &tx.ClosedAt, &tx.ExpertID, &tx.AccountID,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if tp.Valid {
		tx.TakeProfit = &tp.Float64
	}
	if sl.Valid {
		tx.StopLoss = &sl.Float64
	}
	return &tx, nil
}

// ---- recommendations ----

const recColumns = `id, symbol, signal, confidence, expected_profit_pct, risk, horizon,
	price_at_date, expert_id, processed, created_at`

func (s *sqlStore) CreateRecommendation(ctx context.Context, rec *model.Recommendation) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO recommendations (`+recColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.Symbol, rec.Signal, rec.Confidence, rec.ExpectedProfitPct,
		rec.Risk, rec.Horizon, rec.PriceAtDate, rec.ExpertID, rec.Processed,
		rec.CreatedAt,
	)
	return err
}

func (s *sqlStore) Recommendation(ctx context.Context, id string) (*model.Recommendation, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+recColumns+` FROM recommendations WHERE id = ?`), id)
	return scanRecommendation(row)
}

func (s *sqlStore) LatestRecommendations(ctx context.Context, expertID, symbol string, n int) ([]model.Recommendation, error) {
	return s.queryRecommendations(ctx, `
		SELECT `+recColumns+` FROM recommendations
		WHERE expert_id = ? AND symbol = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		expertID, symbol, n)
}

func (s *sqlStore) UnprocessedRecommendations(ctx context.Context) ([]model.Recommendation, error) {
	return s.queryRecommendations(ctx, `
		SELECT `+recColumns+` FROM recommendations
		WHERE processed = ? ORDER BY created_at, id`, false)
}

func (s *sqlStore) MarkRecommendationProcessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE recommendations SET processed = ? WHERE id = ?`), true, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqlStore) queryRecommendations(ctx context.Context, query string, args ...any) ([]model.Recommendation, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRecommendation(row scanner) (*model.Recommendation, error) {
	var rec model.Recommendation
	err := row.Scan(
		&rec.ID, &rec.Symbol, &rec.Signal, &rec.Confidence, &rec.ExpectedProfitPct,
		&rec.Risk, &rec.Horizon, &rec.PriceAtDate, &rec.ExpertID, &rec.Processed,
		&rec.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ---- rulesets ----

func (s *sqlStore) SaveRuleset(ctx context.Context, rs *model.Ruleset) error {
	blob, err := json.Marshal(rs.Rules)
	if err != nil {
		return fmt.Errorf("marshal ruleset %q: %w", rs.ID, err)
	}

	if s.pg {
		_, err = s.db.ExecContext(ctx, s.q(`
			INSERT INTO rulesets (id, name, rules) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, rules = EXCLUDED.rules`),
			rs.ID, rs.Name, string(blob))
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO rulesets (id, name, rules) VALUES (?, ?, ?)`,
			rs.ID, rs.Name, string(blob))
	}
	return err
}

func (s *sqlStore) Ruleset(ctx context.Context, id string) (*model.Ruleset, error) {
	var (
		rs   model.Ruleset
		blob string
	)
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, name, rules FROM rulesets WHERE id = ?`), id)
	if err := row.Scan(&rs.ID, &rs.Name, &blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(blob), &rs.Rules); err != nil {
		return nil, fmt.Errorf("unmarshal ruleset %q: %w", id, err)
	}
	return &rs, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
