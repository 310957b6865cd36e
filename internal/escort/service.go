// Package escort は付き添いセッションのライフサイクルを提供する。
// 依頼、位置更新、パニック通報、終了の各遷移と、遷移ごとの不変条件を扱う。
package escort

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/nightguard/internal/alert"
	"github.com/hitoshi/nightguard/internal/geocode"
	"github.com/hitoshi/nightguard/internal/model"
	"github.com/hitoshi/nightguard/internal/repository"
)

// LocationResolver は外部ジオコーディング/ルーティング問い合わせのインターフェース。
// 実装はソフトフェイルし、エラーの代わりにセンチネル値を返す。
type LocationResolver interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) string
	ResolveDestination(ctx context.Context, destination, currentLocation string) geocode.Route
}

// AlertNotifier はパニックアラート送信のインターフェース。
// 送信失敗はエラーとして返される（ソフトフェイルしない唯一の外部呼び出し）。
type AlertNotifier interface {
	SendPanicAlert(ctx context.Context, a alert.PanicAlert) error
}

// UserFinder はアラート本文のユーザー名解決に必要な最小インターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Recorder はライフサイクルイベントを記録するメトリクスインターフェース。
type Recorder interface {
	RecordSessionCreated(status string)
	RecordSessionEnded()
	RecordAlertSent()
	RecordAlertFailed()
}

// nopRecorder はメトリクス未設定時のレコーダー。
type nopRecorder struct{}

func (nopRecorder) RecordSessionCreated(string) {}
func (nopRecorder) RecordSessionEnded()         {}
func (nopRecorder) RecordAlertSent()            {}
func (nopRecorder) RecordAlertFailed()          {}

// Service は付き添いセッションのライフサイクル操作を提供する。
type Service struct {
	repo     repository.EscortSessionRepository
	users    UserFinder
	resolver LocationResolver
	notifier AlertNotifier
	metrics  Recorder
	logger   *slog.Logger
}

// NewService はServiceを生成する。metricsがnilの場合は記録しない。
func NewService(
	repo repository.EscortSessionRepository,
	users UserFinder,
	resolver LocationResolver,
	notifier AlertNotifier,
	metrics Recorder,
	logger *slog.Logger,
) *Service {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Service{
		repo:     repo,
		users:    users,
		resolver: resolver,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// RequestEscort は新しい付き添いセッションを作成する。
// ユーザーの未完了セッションを先にクローズしてから作成するため、
// 操作後は未完了セッションが常にちょうど1件になる。
func (s *Service) RequestEscort(ctx context.Context, userID string, lat, lon float64, destination string) (*model.EscortSession, error) {
	now := time.Now()

	closed, err := s.repo.CloseOpenByUser(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to close prior session: %w", err)
	}

	session := &model.EscortSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		StartTime:   now,
		Status:      model.StatusRequested,
		Location:    model.FormatLocation(lat, lon),
		Destination: destination,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create escort session: %w", err)
	}

	s.metrics.RecordSessionCreated(string(model.StatusRequested))
	s.logger.Info("escort requested",
		slog.String("user_id", userID),
		slog.String("session_id", session.ID),
		slog.String("destination", destination),
		slog.Int64("closed_sessions", closed),
	)
	return session, nil
}

// UpdateLocation は呼び出しユーザーの未完了セッションの位置を更新する。
// 未完了セッションが存在しない場合は良性のno-opとしてfalseを返す。
// クライアントは位置を継続的にポーリング送信するため、セッション間の
// 一時的な空白は想定内でありエラーにしない。
func (s *Service) UpdateLocation(ctx context.Context, userID string, lat, lon float64) (bool, error) {
	rows, err := s.repo.UpdateOpenLocation(ctx, userID, model.FormatLocation(lat, lon))
	if err != nil {
		return false, fmt.Errorf("failed to update location: %w", err)
	}
	return rows > 0, nil
}

// PanicResult はパニック通報の処理結果を表す。
type PanicResult struct {
	Session *model.EscortSession
	Address string // アラートに記載された住所（センチネル値の場合もある）
}

// Panic は緊急通報を処理する。
// 既存セッションには一切触れず、常に新しいPanicレコードを追加する。
// 最終既知位置は位置情報を持つ最新レコード（別の古いセッションでもよい）から
// 解決し、逆ジオコーディングの失敗はセンチネル住所に縮退する。
// アラートメールの送信失敗だけはエラーとして表面化する。
func (s *Service) Panic(ctx context.Context, userID string) (*PanicResult, error) {
	now := time.Now()

	session := &model.EscortSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartTime: now,
		Status:    model.StatusPanic,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create panic session: %w", err)
	}
	s.metrics.RecordSessionCreated(string(model.StatusPanic))

	// 最終既知位置の解決。位置が全く無い場合はセンチネルのままアラートを送る。
	address := "Not available"
	mapLink := ""
	located, err := s.repo.FindLatestLocatedByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find last known location: %w", err)
	}
	if located != nil {
		lat, lon, parseErr := model.ParseLocation(located.Location)
		if parseErr != nil {
			address = "Location unavailable"
		} else {
			address = s.resolver.ReverseGeocode(ctx, lat, lon)
			mapLink = alert.MapLink(lat, lon)
		}
	}

	// アラート本文にはIDではなくユーザー名を載せる。解決できない場合はIDで代用する。
	username := userID
	if user, userErr := s.users.FindByID(ctx, userID); userErr == nil && user != nil {
		username = user.Username
	}

	a := alert.PanicAlert{
		Username:    username,
		TriggeredAt: now,
		Address:     address,
		MapLink:     mapLink,
	}
	if err := s.notifier.SendPanicAlert(ctx, a); err != nil {
		s.metrics.RecordAlertFailed()
		s.logger.Error("panic alert delivery failed",
			slog.String("user_id", userID),
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", model.ErrAlertDelivery, err)
	}

	s.metrics.RecordAlertSent()
	s.logger.Info("panic alert sent",
		slog.String("user_id", userID),
		slog.String("session_id", session.ID),
		slog.String("address", address),
	)
	return &PanicResult{Session: session, Address: address}, nil
}

// EndRoute は指定セッションを終了する。
// セッションが存在しない、または呼び出しユーザーの所有でない場合は
// model.ErrSessionNotFoundを返し、何も変更しない。
func (s *Service) EndRoute(ctx context.Context, userID, sessionID string) error {
	rows, err := s.repo.Complete(ctx, sessionID, userID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to end escort session: %w", err)
	}
	if rows == 0 {
		return model.ErrSessionNotFound
	}

	s.metrics.RecordSessionEnded()
	s.logger.Info("escort session ended",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
	)
	return nil
}

// ViewData は付き添い画面の表示データを表す。
// ETAと経路は永続化せず、描画ごとに再計算する。
type ViewData struct {
	Session     *model.EscortSession
	Destination string
	Route       geocode.Route
}

// EscortView は付き添い画面の表示データを組み立てる。
// 未完了セッションが無い場合もエラーにはならず、デフォルト値を返す。
func (s *Service) EscortView(ctx context.Context, userID string) (*ViewData, error) {
	session, err := s.repo.FindOpenByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find open session: %w", err)
	}

	view := &ViewData{
		Session:     session,
		Destination: "Unknown",
		Route: geocode.Route{
			ETA:        geocode.DefaultETA,
			Directions: geocode.DefaultDirections,
		},
	}
	if session != nil && session.Destination != "" {
		view.Destination = session.Destination
		view.Route = s.resolver.ResolveDestination(ctx, session.Destination, session.Location)
	}
	return view, nil
}

// Home はホーム画面用に直近のRequested/Pendingセッションを返す。
// 該当が無い場合はnilを返す。
func (s *Service) Home(ctx context.Context, userID string) (*model.EscortSession, error) {
	session, err := s.repo.FindActiveOrPendingByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find active session: %w", err)
	}
	return session, nil
}
