package model

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatLocation は緯度経度を "lat, lon" 形式の位置文字列に変換する。
// ParseLocationで元のfloat値に復元できる表現を使用する。
func FormatLocation(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + ", " + strconv.FormatFloat(lon, 'f', -1, 64)
}

// ParseLocation は "lat, lon" 形式の位置文字列を緯度経度に復元する。
func ParseLocation(s string) (lat, lon float64, err error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid location format: %q", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	return lat, lon, nil
}
