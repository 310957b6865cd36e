// Package geocode は外部ジオコーディング/ルーティングサービスへの問い合わせを提供する。
// Nominatimによる逆ジオコーディングと順ジオコーディング、OSRMによる経路所要時間の
// 取得を行う。すべての失敗はソフトフェイルし、センチネル値に縮退する。
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/hitoshi/nightguard/internal/model"
)

// 失敗時に返すセンチネル値。画面表示にそのまま使われる。
const (
	// AddressUnavailable は逆ジオコーディング失敗時の住所表示。
	AddressUnavailable = "Address not available"
	// DefaultETA はETA未算出時の表示。
	DefaultETA = "--:--"
	// DefaultDirections は経路未算出時の表示。
	DefaultDirections = "Calculating route..."
	// RouteReadyDirections は経路算出成功時の表示。
	RouteReadyDirections = "Follow the route on the map"
)

// Coords は緯度経度の組を表す。
type Coords struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Route は目的地解決の結果を表す。
// いずれかの問い合わせが失敗した場合、失敗した項目はデフォルト値のまま返る。
type Route struct {
	DestinationCoords *Coords
	ETA               string
	Directions        string
}

// Recorder はルックアップの結果を記録するメトリクスインターフェース。
type Recorder interface {
	RecordLookupFailure(kind string)
	RecordLookupLatency(duration time.Duration)
}

// nopRecorder はメトリクス未設定時のレコーダー。
type nopRecorder struct{}

func (nopRecorder) RecordLookupFailure(string)       {}
func (nopRecorder) RecordLookupLatency(time.Duration) {}

// Config はClientの設定。
type Config struct {
	UserAgent        string // 公共エンドポイントの利用規約で必須の識別ヘッダー
	NominatimBaseURL string
	OSRMBaseURL      string
}

// Client はNominatim/OSRMへの問い合わせクライアント。
// リトライもキャッシュも行わない。画面描画ごとに毎回問い合わせる。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    Recorder
	config     Config
}

// NewClient はClientの新しいインスタンスを生成する。
// metricsがnilの場合は記録しない。
func NewClient(httpClient *http.Client, logger *slog.Logger, metrics Recorder, config Config) *Client {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
		config:     config,
	}
}

// NewOutboundClient は外部ルックアップ用のHTTPクライアントを生成する。
// safeurlによりプライベートIP、ループバック、リンクローカル、メタデータIPへの
// リクエストがブロックされ、DNS再バインディング攻撃にも対応する。
// timeoutを超えたルックアップは他の失敗と同様にソフトフェイルとして扱われる。
func NewOutboundClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// nominatimPlace はNominatimレスポンスの必要フィールドのみを持つ。
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// osrmResponse はOSRMの経路レスポンスの必要フィールドのみを持つ。
type osrmResponse struct {
	Routes []struct {
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

// ReverseGeocode は座標を人間可読の住所に変換する。
// ネットワークエラー、タイムアウト、非200応答、不正なレスポンス、フィールド欠落の
// いずれの場合もAddressUnavailableを返す。パニックフローをブロックしてはならないため、
// エラーは決して伝播しない。
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) string {
	start := time.Now()
	defer func() { c.metrics.RecordLookupLatency(time.Since(start)) }()

	endpoint := fmt.Sprintf("%s/reverse?format=json&lat=%s&lon=%s",
		c.config.NominatimBaseURL,
		url.QueryEscape(formatCoord(lat)),
		url.QueryEscape(formatCoord(lon)),
	)

	var place nominatimPlace
	if err := c.getJSON(ctx, endpoint, &place); err != nil {
		c.metrics.RecordLookupFailure("reverse_geocode")
		c.logger.Warn("reverse geocode failed",
			slog.Float64("lat", lat),
			slog.Float64("lon", lon),
			slog.String("error", err.Error()),
		)
		return AddressUnavailable
	}
	if place.DisplayName == "" {
		c.metrics.RecordLookupFailure("reverse_geocode")
		return AddressUnavailable
	}
	return place.DisplayName
}

// ResolveDestination は目的地名を座標に解決し、現在位置が分かる場合は
// 車での所要時間を分単位で算出する。
// どの段階で失敗してもそこまでに得られた値とデフォルト値を組み合わせて返す。
func (c *Client) ResolveDestination(ctx context.Context, destination, currentLocation string) Route {
	route := Route{
		ETA:        DefaultETA,
		Directions: DefaultDirections,
	}
	if destination == "" {
		return route
	}

	start := time.Now()
	defer func() { c.metrics.RecordLookupLatency(time.Since(start)) }()

	// 1. 順ジオコーディング: 最初のマッチを採用
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json&limit=1",
		c.config.NominatimBaseURL, url.QueryEscape(destination))

	var places []nominatimPlace
	if err := c.getJSON(ctx, endpoint, &places); err != nil {
		c.metrics.RecordLookupFailure("forward_geocode")
		c.logger.Warn("destination geocode failed",
			slog.String("destination", destination),
			slog.String("error", err.Error()),
		)
		return route
	}
	if len(places) == 0 {
		c.metrics.RecordLookupFailure("forward_geocode")
		return route
	}

	destLat, latErr := strconv.ParseFloat(places[0].Lat, 64)
	destLon, lonErr := strconv.ParseFloat(places[0].Lon, 64)
	if latErr != nil || lonErr != nil {
		c.metrics.RecordLookupFailure("forward_geocode")
		return route
	}
	coords := Coords{Lat: destLat, Lon: destLon}
	route.DestinationCoords = &coords

	// 2. 経路所要時間: 現在位置が不明ならここで終了
	userLat, userLon, err := model.ParseLocation(currentLocation)
	if err != nil {
		return route
	}

	routeURL := fmt.Sprintf("%s/route/v1/driving/%s,%s;%s,%s?overview=false",
		c.config.OSRMBaseURL,
		formatCoord(userLon), formatCoord(userLat),
		formatCoord(coords.Lon), formatCoord(coords.Lat),
	)

	var osrm osrmResponse
	if err := c.getJSON(ctx, routeURL, &osrm); err != nil {
		c.metrics.RecordLookupFailure("route")
		c.logger.Warn("route lookup failed",
			slog.String("destination", destination),
			slog.String("error", err.Error()),
		)
		return route
	}
	if len(osrm.Routes) == 0 {
		c.metrics.RecordLookupFailure("route")
		return route
	}

	minutes := int(osrm.Routes[0].Duration / 60)
	route.ETA = fmt.Sprintf("%d min", minutes)
	route.Directions = RouteReadyDirections
	return route
}

// getJSON はGETリクエストを実行しレスポンスJSONをデコードする。
func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// formatCoord は座標をURLに埋め込む文字列表現に変換する。
// 指数表記はNominatim/OSRMに受理されないため固定小数点で出力する。
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
