// Package model はドメインモデルを定義する。
package model

import "time"

// EscortStatus は付き添いセッションの状態を表す。
type EscortStatus string

const (
	// StatusRequested は付き添いが依頼された直後の状態。
	StatusRequested EscortStatus = "Requested"
	// StatusPending はエスコート担当者の割り当て待ちの状態。
	StatusPending EscortStatus = "Pending"
	// StatusActive は付き添いが進行中の状態。
	StatusActive EscortStatus = "Active"
	// StatusCompleted は正常終了した終端状態。end_timeが設定される唯一の状態。
	StatusCompleted EscortStatus = "Completed"
	// StatusPanic は緊急通報で作成されたレコードの終端状態。
	// パニックは既存セッションの遷移ではなく常に新規レコードとして記録される。
	StatusPanic EscortStatus = "Panic"
)

// EscortSession は1回の付き添い依頼を表す。
// 作成から完了（またはパニック）までの履歴レコードであり、削除されない。
type EscortSession struct {
	ID          string
	UserID      string
	StartTime   time.Time
	EndTime     *time.Time // 未完了の間はnil。Completedのときのみ設定される。
	Status      EscortStatus
	Location    string // 最終既知位置の "lat, lon" 文字列。未取得なら空。
	Destination string // 依頼時に設定される自由記述の目的地名。以後不変。
}

// IsOpen はセッションが未完了（end_timeが未設定）かどうかを返す。
func (s *EscortSession) IsOpen() bool {
	return s.EndTime == nil
}
