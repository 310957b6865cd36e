// Package alert はパニックアラートメールの組み立てと送信を提供する。
package alert

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// alertTimeZone はアラート本文のタイムスタンプ表示に使う固定の市民時刻帯。
const alertTimeZone = "America/Chicago"

// PanicAlert はパニックアラート1件の内容を表す。
type PanicAlert struct {
	Username    string
	TriggeredAt time.Time
	Address     string // 逆ジオコーディング結果、またはセンチネル値
	MapLink     string // 座標不明の場合は空
}

// MapLink は生の座標からGoogle Mapsの検索リンクを組み立てる。
func MapLink(lat, lon float64) string {
	return fmt.Sprintf("https://www.google.com/maps/search/?api=1&query=%s,%s",
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lon, 'f', -1, 64),
	)
}

// BuildMessage はアラートの件名と本文を組み立てる。
// 本文のタイムスタンプはAmerica/Chicagoで描画し、末尾に現在時刻由来の
// メッセージIDを付与する。送信処理から独立してテストできる純粋関数。
func BuildMessage(a PanicAlert, loc *time.Location) (subject, body string) {
	subject = fmt.Sprintf("Panic Alert - %s", a.Username)

	var b strings.Builder
	b.WriteString("PANIC ALERT TRIGGERED\n\n")
	fmt.Fprintf(&b, "User: %s\n", a.Username)
	fmt.Fprintf(&b, "Time: %s\n", a.TriggeredAt.In(loc).Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Location: %s\n", a.Address)
	if a.MapLink != "" {
		fmt.Fprintf(&b, "Google Map Link: %s\n\n", a.MapLink)
	} else {
		b.WriteString("\n")
	}
	b.WriteString("This alert was automatically sent by NightGuard.\n")
	fmt.Fprintf(&b, "Message ID: %d\n", a.TriggeredAt.UnixNano())

	return subject, b.String()
}
