// Package model はドメインモデルを定義する。
package model

import "errors"

// ドメインエラー。ハンドラー層でHTTPステータスにマッピングされる。
var (
	// ErrSessionNotFound は指定IDのセッションが呼び出しユーザーに属さない、
	// または存在しない場合のエラー（404）。
	ErrSessionNotFound = errors.New("escort session not found")

	// ErrNoOpenSession は位置更新対象の未完了セッションが存在しないことを表す。
	// 更新は良性の no-op として扱われ、呼び出し元にはエラーとして返さない。
	ErrNoOpenSession = errors.New("no open escort session")

	// ErrInvalidCredentials はログイン認証の失敗を表す（401）。
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUsernameTaken は登録時のユーザー名重複を表す（409）。
	ErrUsernameTaken = errors.New("username already taken")

	// ErrAlertDelivery はパニックアラートメールの送信失敗を表す（500）。
	// 黙って失われたアラートが最悪の結果であるため、この失敗だけは必ず表面化する。
	ErrAlertDelivery = errors.New("panic alert delivery failed")
)
