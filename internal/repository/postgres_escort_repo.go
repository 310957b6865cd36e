package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/nightguard/internal/model"
)

// PostgresEscortSessionRepo はPostgreSQLを使用した付き添いセッションリポジトリ。
type PostgresEscortSessionRepo struct {
	db *sql.DB
}

// NewPostgresEscortSessionRepo はPostgresEscortSessionRepoを生成する。
func NewPostgresEscortSessionRepo(db *sql.DB) *PostgresEscortSessionRepo {
	return &PostgresEscortSessionRepo{db: db}
}

const escortSessionColumns = `id, user_id, start_time, end_time, status, location, destination`

// scanEscortSession は1行をmodel.EscortSessionに読み取る。
func scanEscortSession(row *sql.Row) (*model.EscortSession, error) {
	s := &model.EscortSession{}
	var endTime sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.StartTime, &endTime, &s.Status, &s.Location, &s.Destination)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		s.EndTime = &t
	}
	return s, nil
}

// Create は新規セッションレコードを作成する。
func (r *PostgresEscortSessionRepo) Create(ctx context.Context, session *model.EscortSession) error {
	var endTime sql.NullTime
	if session.EndTime != nil {
		endTime = sql.NullTime{Time: *session.EndTime, Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO escort_sessions (id, user_id, start_time, end_time, status, location, destination)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		session.ID, session.UserID, session.StartTime, endTime,
		session.Status, session.Location, session.Destination,
	)
	if err != nil {
		return fmt.Errorf("failed to create escort session: %w", err)
	}
	return nil
}

// FindByIDAndUser は指定IDかつ指定ユーザー所有のセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresEscortSessionRepo) FindByIDAndUser(ctx context.Context, id, userID string) (*model.EscortSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+escortSessionColumns+`
		 FROM escort_sessions
		 WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	s, err := scanEscortSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find escort session: %w", err)
	}
	return s, nil
}

// FindOpenByUser はユーザーの未完了セッションのうちstart_timeが最新のものを返す。
func (r *PostgresEscortSessionRepo) FindOpenByUser(ctx context.Context, userID string) (*model.EscortSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+escortSessionColumns+`
		 FROM escort_sessions
		 WHERE user_id = $1 AND end_time IS NULL
		 ORDER BY start_time DESC
		 LIMIT 1`,
		userID,
	)
	s, err := scanEscortSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find open escort session: %w", err)
	}
	return s, nil
}

// FindActiveOrPendingByUser はstatusがRequestedまたはPendingの最新セッションを返す。
func (r *PostgresEscortSessionRepo) FindActiveOrPendingByUser(ctx context.Context, userID string) (*model.EscortSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+escortSessionColumns+`
		 FROM escort_sessions
		 WHERE user_id = $1 AND status IN ($2, $3)
		 ORDER BY start_time DESC
		 LIMIT 1`,
		userID, model.StatusRequested, model.StatusPending,
	)
	s, err := scanEscortSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find active or pending escort session: %w", err)
	}
	return s, nil
}

// FindLatestLocatedByUser は位置情報を持つ最新のセッションを返す。
// 完了済みの古いセッションも対象に含む。
func (r *PostgresEscortSessionRepo) FindLatestLocatedByUser(ctx context.Context, userID string) (*model.EscortSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+escortSessionColumns+`
		 FROM escort_sessions
		 WHERE user_id = $1 AND location <> ''
		 ORDER BY start_time DESC
		 LIMIT 1`,
		userID,
	)
	s, err := scanEscortSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find located escort session: %w", err)
	}
	return s, nil
}

// CloseOpenByUser はユーザーの未完了セッションをすべてCompletedに遷移させる。
// WHERE end_time IS NULL の条件付きUPDATEにより、並行リクエスト間でも
// 各レコードは1回しかクローズされない。
func (r *PostgresEscortSessionRepo) CloseOpenByUser(ctx context.Context, userID string, endTime time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE escort_sessions
		 SET status = $1, end_time = $2
		 WHERE user_id = $3 AND end_time IS NULL`,
		model.StatusCompleted, endTime, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to close open escort sessions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// UpdateOpenLocation はユーザーの未完了セッションの位置を更新する。
// 未完了セッションが存在しない場合は0件を返す。
func (r *PostgresEscortSessionRepo) UpdateOpenLocation(ctx context.Context, userID, location string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE escort_sessions
		 SET location = $1
		 WHERE user_id = $2 AND end_time IS NULL`,
		location, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update location: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// Complete は指定IDかつ指定ユーザー所有のセッションをCompletedに遷移させる。
// 所有権が一致しない場合は0件を返す。
func (r *PostgresEscortSessionRepo) Complete(ctx context.Context, id, userID string, endTime time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE escort_sessions
		 SET status = $1, end_time = $2
		 WHERE id = $3 AND user_id = $4`,
		model.StatusCompleted, endTime, id, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to complete escort session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// compile-time interface check
var _ EscortSessionRepository = (*PostgresEscortSessionRepo)(nil)
