// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/nightguard/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はログインセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// EscortSessionRepository は付き添いセッションの永続化インターフェース。
// レコードは削除されない（ユーザーごとの追記専用履歴）。
type EscortSessionRepository interface {
	// Create は新規セッションレコードを作成する。
	Create(ctx context.Context, session *model.EscortSession) error

	// FindByIDAndUser は指定IDかつ指定ユーザー所有のセッションを取得する。
	// 見つからない場合はnilを返す。
	FindByIDAndUser(ctx context.Context, id, userID string) (*model.EscortSession, error)

	// FindOpenByUser はユーザーの未完了セッション（end_timeがNULL）のうち
	// start_timeが最新のものを返す。見つからない場合はnilを返す。
	FindOpenByUser(ctx context.Context, userID string) (*model.EscortSession, error)

	// FindActiveOrPendingByUser はstatusがRequestedまたはPendingの最新セッションを返す。
	// 見つからない場合はnilを返す。
	FindActiveOrPendingByUser(ctx context.Context, userID string) (*model.EscortSession, error)

	// FindLatestLocatedByUser は位置情報を持つ最新のセッションを返す。
	// 完了済みの古いセッションも対象に含む（パニック時の最終既知位置の解決に使用）。
	// 見つからない場合はnilを返す。
	FindLatestLocatedByUser(ctx context.Context, userID string) (*model.EscortSession, error)

	// CloseOpenByUser はユーザーの未完了セッションをすべてCompletedに遷移させ、
	// end_timeを設定する。条件付きUPDATE1文で実行されるため、同一ユーザーの
	// 並行リクエストと競合しても二重クローズは起きない。更新件数を返す。
	CloseOpenByUser(ctx context.Context, userID string, endTime time.Time) (int64, error)

	// UpdateOpenLocation はユーザーの未完了セッションの位置を更新する。
	// 未完了セッションが存在しない場合は0件を返す（エラーにはしない）。
	UpdateOpenLocation(ctx context.Context, userID, location string) (int64, error)

	// Complete は指定IDかつ指定ユーザー所有のセッションをCompletedに遷移させ、
	// end_timeを設定する。所有権が一致しない場合は0件を返し、何も変更しない。
	Complete(ctx context.Context, id, userID string, endTime time.Time) (int64, error)
}
