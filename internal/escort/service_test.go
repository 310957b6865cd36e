package escort

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/nightguard/internal/alert"
	"github.com/hitoshi/nightguard/internal/geocode"
	"github.com/hitoshi/nightguard/internal/model"
)

// --- モック ---

// memEscortRepo はEscortSessionRepositoryのインメモリ実装。
// 条件付きUPDATEのセマンティクス（未完了のみ対象、所有権チェック）を再現する。
type memEscortRepo struct {
	sessions []*model.EscortSession
}

func (m *memEscortRepo) Create(ctx context.Context, s *model.EscortSession) error {
	copied := *s
	m.sessions = append(m.sessions, &copied)
	return nil
}

func (m *memEscortRepo) find(match func(*model.EscortSession) bool) *model.EscortSession {
	var latest *model.EscortSession
	for _, s := range m.sessions {
		if match(s) && (latest == nil || s.StartTime.After(latest.StartTime)) {
			latest = s
		}
	}
	if latest == nil {
		return nil
	}
	copied := *latest
	return &copied
}

func (m *memEscortRepo) FindByIDAndUser(ctx context.Context, id, userID string) (*model.EscortSession, error) {
	return m.find(func(s *model.EscortSession) bool { return s.ID == id && s.UserID == userID }), nil
}

func (m *memEscortRepo) FindOpenByUser(ctx context.Context, userID string) (*model.EscortSession, error) {
	return m.find(func(s *model.EscortSession) bool { return s.UserID == userID && s.EndTime == nil }), nil
}

func (m *memEscortRepo) FindActiveOrPendingByUser(ctx context.Context, userID string) (*model.EscortSession, error) {
	return m.find(func(s *model.EscortSession) bool {
		return s.UserID == userID && (s.Status == model.StatusRequested || s.Status == model.StatusPending)
	}), nil
}

func (m *memEscortRepo) FindLatestLocatedByUser(ctx context.Context, userID string) (*model.EscortSession, error) {
	return m.find(func(s *model.EscortSession) bool { return s.UserID == userID && s.Location != "" }), nil
}

func (m *memEscortRepo) CloseOpenByUser(ctx context.Context, userID string, endTime time.Time) (int64, error) {
	var n int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.EndTime == nil {
			t := endTime
			s.EndTime = &t
			s.Status = model.StatusCompleted
			n++
		}
	}
	return n, nil
}

func (m *memEscortRepo) UpdateOpenLocation(ctx context.Context, userID, location string) (int64, error) {
	var n int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.EndTime == nil {
			s.Location = location
			n++
		}
	}
	return n, nil
}

func (m *memEscortRepo) Complete(ctx context.Context, id, userID string, endTime time.Time) (int64, error) {
	var n int64
	for _, s := range m.sessions {
		if s.ID == id && s.UserID == userID {
			t := endTime
			s.EndTime = &t
			s.Status = model.StatusCompleted
			n++
		}
	}
	return n, nil
}

func (m *memEscortRepo) openCount(userID string) int {
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.EndTime == nil {
			n++
		}
	}
	return n
}

type mockUserFinder struct {
	user *model.User
}

func (m *mockUserFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.user, nil
}

type mockResolver struct {
	reverseFn func(ctx context.Context, lat, lon float64) string
	resolveFn func(ctx context.Context, destination, currentLocation string) geocode.Route
}

func (m *mockResolver) ReverseGeocode(ctx context.Context, lat, lon float64) string {
	if m.reverseFn != nil {
		return m.reverseFn(ctx, lat, lon)
	}
	return "Mock Address"
}

func (m *mockResolver) ResolveDestination(ctx context.Context, destination, currentLocation string) geocode.Route {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, destination, currentLocation)
	}
	return geocode.Route{ETA: geocode.DefaultETA, Directions: geocode.DefaultDirections}
}

type mockNotifier struct {
	sent    []alert.PanicAlert
	sendErr error
}

func (m *mockNotifier) SendPanicAlert(ctx context.Context, a alert.PanicAlert) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, a)
	return nil
}

func newTestService(repo *memEscortRepo, resolver *mockResolver, notifier *mockNotifier) *Service {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	users := &mockUserFinder{user: &model.User{ID: "user-1", Username: "walker1"}}
	return NewService(repo, users, resolver, notifier, nil, logger)
}

// --- テスト ---

// TestRequestEscort_FirstSession はセッションを持たないユーザーの依頼を検証する（シナリオA）。
func TestRequestEscort_FirstSession(t *testing.T) {
	repo := &memEscortRepo{}
	svc := newTestService(repo, &mockResolver{}, &mockNotifier{})

	session, err := svc.RequestEscort(context.Background(), "user-1", 30.0, -97.0, "Library")
	if err != nil {
		t.Fatalf("RequestEscort returned error: %v", err)
	}

	if session.Status != model.StatusRequested {
		t.Errorf("status = %q, want Requested", session.Status)
	}
	if session.Location != "30, -97" {
		t.Errorf("location = %q, want %q", session.Location, "30, -97")
	}
	if session.Destination != "Library" {
		t.Errorf("destination = %q, want Library", session.Destination)
	}
	if got := repo.openCount("user-1"); got != 1 {
		t.Errorf("open sessions = %d, want exactly 1", got)
	}

	lat, lon, err := model.ParseLocation(session.Location)
	if err != nil || lat != 30.0 || lon != -97.0 {
		t.Errorf("stored location should parse back to (30, -97), got (%v, %v), err=%v", lat, lon, err)
	}
}

// TestRequestEscort_ClosesPriorOpenSession は再依頼時に前セッションが完了へ遷移することを検証する（シナリオB）。
func TestRequestEscort_ClosesPriorOpenSession(t *testing.T) {
	repo := &memEscortRepo{}
	svc := newTestService(repo, &mockResolver{}, &mockNotifier{})

	s1, err := svc.RequestEscort(context.Background(), "user-1", 30.0, -97.0, "Library")
	if err != nil {
		t.Fatalf("first RequestEscort returned error: %v", err)
	}

	s2, err := svc.RequestEscort(context.Background(), "user-1", 30.1, -97.1, "Union")
	if err != nil {
		t.Fatalf("second RequestEscort returned error: %v", err)
	}

	if got := repo.openCount("user-1"); got != 1 {
		t.Fatalf("open sessions = %d, want exactly 1", got)
	}

	var stored1 *model.EscortSession
	for _, s := range repo.sessions {
		if s.ID == s1.ID {
			stored1 = s
		}
	}
	if stored1 == nil {
		t.Fatal("first session disappeared")
	}
	if stored1.Status != model.StatusCompleted {
		t.Errorf("s1.status = %q, want Completed", stored1.Status)
	}
	if stored1.EndTime == nil {
		t.Error("s1.end_time should be set when closed")
	}
	if s2.Status != model.StatusRequested {
		t.Errorf("s2.status = %q, want Requested", s2.Status)
	}
}

// TestRequestEscort_DoesNotTouchOtherUsers は別ユーザーのセッションが影響を受けないことを検証する。
func TestRequestEscort_DoesNotTouchOtherUsers(t *testing.T) {
	repo := &memEscortRepo{}
	svc := newTestService(repo, &mockResolver{}, &mockNotifier{})

	if _, err := svc.RequestEscort(context.Background(), "user-2", 31.0, -96.0, "Gym"); err != nil {
		t.Fatalf("RequestEscort returned error: %v", err)
	}
	if _, err := svc.RequestEscort(context.Background(), "user-1", 30.0, -97.0, "Library"); err != nil {
		t.Fatalf("RequestEscort returned error: %v", err)
	}

	if got := repo.openCount("user-2"); got != 1 {
		t.Errorf("user-2 open sessions = %d, want 1", got)
	}
}

// TestUpdateLocation_OpenSession は未完了セッションの位置のみが更新されることを検証する。
func TestUpdateLocation_OpenSession(t *testing.T) {
	repo := &memEscortRepo{}
	svc := newTestService(repo, &mockResolver{}, &mockNotifier{})

	session, err := svc.RequestEscort(context.Background(), "user-1", 30.0, -97.0, "Library")
	if err != nil {
		t.Fatalf("RequestEscort returned error: %v", err)
	}

	updated, err := svc.UpdateLocation(context.Background(), "user-1", 30.5, -97.7)
	if err != nil {
		t.Fatalf("UpdateLocation returned error: %v", err)
	}
	if !updated {
		t.Fatal("UpdateLocation should report an update")
	}

	open, _ := repo.FindOpenByUser(context.Background(), "user-1")
	if open.ID != session.ID {
		t.Fatalf("open session changed unexpectedly")
	}
	if open.Location != "30.5, -97.7" {
		t.Errorf("location = %q, want %q", open.Location, "30.5, -97.7")
	}
}

// TestUpdateLocation_NoOpenSession は未完了セッションが無い場合に良性のno-opになることを検証する。
func TestUpdateLocation_NoOpenSession(t *testing.T) {
	repo := &memEscortRepo{}
	svc := newTestService(repo, &mockResolver{}, &mockNotifier{})

	updated, err := svc.UpdateLocation(context.Background(), "user-1", 30.5, -97.7)
	if err != nil {
		t.Fatalf("UpdateLocation should not error without an open session: %v", err)
	}
	if updated {
		t.Error("UpdateLocation should report no update")
	}
	if len(repo.sessions) != 0 {
		t.Error("no session should be created by a location update")
	}
}

// TestPanic_AddsRecordWithoutMutation はパニックが既存レコードを一切変更しないことを検証する。
func TestPanic_AddsRecordWithoutMutation(t *testing.T) {
	repo := &memEscortRepo{}
	notifier := &mockNotifier{}
	svc := newTestService(repo, &mockResolver{
		reverseFn: func(ctx context.Context, lat, lon float64) string {
			return "Willis Library, Denton, TX"
		},
	}, notifier)

	existing, err := svc.RequestEscort(context.Background(), "user-1", 30.5, -97.7, "Library")
	if err != nil {
		t.Fatalf("RequestEscort returned error: %v", err)
	}

	result, err := svc.Panic(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Panic returned error: %v", err)
	}

	if result.Session.Status != model.StatusPanic {
		t.Errorf("status = %q, want Panic", result.Session.Status)
	}
	if len(repo.sessions) != 2 {
		t.Fatalf("sessions = %d, want 2 (panic adds, never mutates)", len(repo.sessions))
	}

	// 既存セッションは未完了のまま
	open, _ := repo.FindOpenByUser(context.Background(), "user-1")
	if open == nil || open.ID != existing.ID {
		t.Error("prior open session must not be closed by panic")
	}
	if open.Status != model.StatusRequested {
		t.Errorf("prior session status = %q, want Requested", open.Status)
	}

	// アラートは最終既知位置の住所とマップリンクを持つ
	if len(notifier.sent) != 1 {
		t.Fatalf("alerts sent = %d, want 1", len(notifier.sent))
	}
	a := notifier.sent[0]
	if a.Username != "walker1" {
		t.Errorf("alert username = %q, want walker1", a.Username)
	}
	if a.Address != "Willis Library, Denton, TX" {
		t.Errorf("alert address = %q", a.Address)
	}
	if a.MapLink == "" {
		t.Error("alert should carry a map link when coordinates are known")
	}
}

// TestPanic_NoPriorLocation は位置情報ゼロのユーザーでもアラートが送信されることを検証する（シナリオC）。
func TestPanic_NoPriorLocation(t *testing.T) {
	repo := &memEscortRepo{}
	notifier := &mockNotifier{}
	svc := newTestService(repo, &mockResolver{}, notifier)

	result, err := svc.Panic(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Panic returned error: %v", err)
	}

	if result.Address != "Not available" {
		t.Errorf("address = %q, want %q", result.Address, "Not available")
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("alert must still be attempted without a location")
	}
	if notifier.sent[0].MapLink != "" {
		t.Error("map link should be empty without coordinates")
	}
}

// TestPanic_ReverseGeocodeSoftFail は逆ジオコーディング失敗がパニックフローを止めないことを検証する（シナリオD）。
func TestPanic_ReverseGeocodeSoftFail(t *testing.T) {
	repo := &memEscortRepo{}
	notifier := &mockNotifier{}
	svc := newTestService(repo, &mockResolver{
		reverseFn: func(ctx context.Context, lat, lon float64) string {
			return geocode.AddressUnavailable // タイムアウト等の縮退値
		},
	}, notifier)

	if _, err := svc.RequestEscort(context.Background(), "user-1", 30.5, -97.7, "Library"); err != nil {
		t.Fatalf("RequestEscort returned error: %v", err)
	}

	result, err := svc.Panic(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Panic must complete despite geocode failure: %v", err)
	}
	if result.Address != geocode.AddressUnavailable {
		t.Errorf("address = %q, want sentinel", result.Address)
	}
	if len(notifier.sent) != 1 {
		t.Fatal("alert must be sent with the sentinel address")
	}
}

// TestPanic_DeliveryFailureSurfaced はメール送信失敗がエラーとして表面化することを検証する。
func TestPanic_DeliveryFailureSurfaced(t *testing.T) {
	repo := &memEscortRepo{}
	notifier := &mockNotifier{sendErr: errors.New("smtp: connection refused")}
	svc := newTestService(repo, &mockResolver{}, notifier)

	_, err := svc.Panic(context.Background(), "user-1")
	if !errors.Is(err, model.ErrAlertDelivery) {
		t.Errorf("err = %v, want ErrAlertDelivery", err)
	}

	// パニックレコード自体は作成済み（履歴は残る）
	if len(repo.sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(repo.sessions))
	}
}

// TestPanic_UsesOlderSessionLocation は別の古いセッションの位置が使われることを検証する。
func TestPanic_UsesOlderSessionLocation(t *testing.T) {
	repo := &memEscortRepo{}
	notifier := &mockNotifier{}
	var gotLat, gotLon float64
	svc := newTestService(repo, &mockResolver{
		reverseFn: func(ctx context.Context, lat, lon float64) string {
			gotLat, gotLon = lat, lon
			return "Old Spot"
		},
	}, notifier)

	// 位置付きセッションを作って終了させる
	s, err := svc.RequestEscort(context.Background(), "user-1", 30.5, -97.7, "Library")
	if err != nil {
		t.Fatalf("RequestEscort returned error: %v", err)
	}
	if err := svc.EndRoute(context.Background(), "user-1", s.ID); err != nil {
		t.Fatalf("EndRoute returned error: %v", err)
	}

	if _, err := svc.Panic(context.Background(), "user-1"); err != nil {
		t.Fatalf("Panic returned error: %v", err)
	}

	if gotLat != 30.5 || gotLon != -97.7 {
		t.Errorf("reverse geocode called with (%v, %v), want (30.5, -97.7)", gotLat, gotLon)
	}
}

// TestEndRoute_NotOwned は他人のセッション終了がNotFoundになり、何も変更しないことを検証する（シナリオE）。
func TestEndRoute_NotOwned(t *testing.T) {
	repo := &memEscortRepo{}
	svc := newTestService(repo, &mockResolver{}, &mockNotifier{})

	s, err := svc.RequestEscort(context.Background(), "user-1", 30.0, -97.0, "Library")
	if err != nil {
		t.Fatalf("RequestEscort returned error: %v", err)
	}

	err = svc.EndRoute(context.Background(), "user-2", s.ID)
	if !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}

	open, _ := repo.FindOpenByUser(context.Background(), "user-1")
	if open == nil || open.Status != model.StatusRequested || open.EndTime != nil {
		t.Error("session must not be mutated by a foreign end-route call")
	}
}

// TestEndRoute_Owned は所有セッションの終了を検証する。
func TestEndRoute_Owned(t *testing.T) {
	repo := &memEscortRepo{}
	svc := newTestService(repo, &mockResolver{}, &mockNotifier{})

	s, err := svc.RequestEscort(context.Background(), "user-1", 30.0, -97.0, "Library")
	if err != nil {
		t.Fatalf("RequestEscort returned error: %v", err)
	}

	if err := svc.EndRoute(context.Background(), "user-1", s.ID); err != nil {
		t.Fatalf("EndRoute returned error: %v", err)
	}

	stored, _ := repo.FindByIDAndUser(context.Background(), s.ID, "user-1")
	if stored.Status != model.StatusCompleted {
		t.Errorf("status = %q, want Completed", stored.Status)
	}
	if stored.EndTime == nil {
		t.Error("end_time should be set")
	}
	if got := repo.openCount("user-1"); got != 0 {
		t.Errorf("open sessions = %d, want 0", got)
	}
}

// TestEscortView_RecomputesRoute は画面描画のたびに経路が再計算されることを検証する。
func TestEscortView_RecomputesRoute(t *testing.T) {
	repo := &memEscortRepo{}
	resolveCalls := 0
	svc := newTestService(repo, &mockResolver{
		resolveFn: func(ctx context.Context, destination, currentLocation string) geocode.Route {
			resolveCalls++
			return geocode.Route{
				DestinationCoords: &geocode.Coords{Lat: 33.2, Lon: -97.1},
				ETA:               "12 min",
				Directions:        geocode.RouteReadyDirections,
			}
		},
	}, &mockNotifier{})

	if _, err := svc.RequestEscort(context.Background(), "user-1", 30.5, -97.7, "Willis Library"); err != nil {
		t.Fatalf("RequestEscort returned error: %v", err)
	}

	for i := 0; i < 2; i++ {
		view, err := svc.EscortView(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("EscortView returned error: %v", err)
		}
		if view.Destination != "Willis Library" {
			t.Errorf("destination = %q", view.Destination)
		}
		if view.Route.ETA != "12 min" {
			t.Errorf("ETA = %q, want 12 min", view.Route.ETA)
		}
	}
	if resolveCalls != 2 {
		t.Errorf("resolver calls = %d, want 2 (recomputed per render, never cached)", resolveCalls)
	}
}

// TestEscortView_NoOpenSession は未完了セッションが無い場合のデフォルト表示を検証する。
func TestEscortView_NoOpenSession(t *testing.T) {
	repo := &memEscortRepo{}
	svc := newTestService(repo, &mockResolver{}, &mockNotifier{})

	view, err := svc.EscortView(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("EscortView returned error: %v", err)
	}
	if view.Session != nil {
		t.Error("session should be nil")
	}
	if view.Destination != "Unknown" {
		t.Errorf("destination = %q, want Unknown", view.Destination)
	}
	if view.Route.ETA != geocode.DefaultETA {
		t.Errorf("ETA = %q, want default", view.Route.ETA)
	}
}

// TestHome_ActiveOrPending はホーム画面がRequested/Pendingのみを返すことを検証する。
func TestHome_ActiveOrPending(t *testing.T) {
	repo := &memEscortRepo{}
	svc := newTestService(repo, &mockResolver{}, &mockNotifier{})

	s, err := svc.RequestEscort(context.Background(), "user-1", 30.0, -97.0, "Library")
	if err != nil {
		t.Fatalf("RequestEscort returned error: %v", err)
	}

	got, err := svc.Home(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Home returned error: %v", err)
	}
	if got == nil || got.ID != s.ID {
		t.Fatal("Home should return the requested session")
	}

	if err := svc.EndRoute(context.Background(), "user-1", s.ID); err != nil {
		t.Fatalf("EndRoute returned error: %v", err)
	}

	got, err = svc.Home(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Home returned error: %v", err)
	}
	if got != nil {
		t.Error("Home should return nil after the session is completed")
	}
}
