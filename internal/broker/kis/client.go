package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "pullback/internal/errors"
	"pullback/internal/market"
	"pullback/internal/ratelimit"
	"pullback/pkg/model"
)

// BaseURL 실전투자 도메인
const BaseURL = "https://openapi.koreainvestment.com:9443"

// 토큰 만료
const msgCodeTokenExpired = "EGW00123"

// Options 클라이언트 설정
type Options struct {
	BaseURL   string        `yaml:"base_url"`
	CacheDir  string        `yaml:"cache_dir"`
	Market    string        `yaml:"market"`     // J, NX, UN
	PerMinute int           `yaml:"per_minute"` // 초당 20건 = 분당 1200
	Timeout   time.Duration `yaml:"timeout"`
}

// DefaultOptions 실전 도메인, KRX, 초당 15건 (여유분 확보)
func DefaultOptions() Options {
	return Options{
		BaseURL:   BaseURL,
		Market:    MarketKRX,
		PerMinute: 900,
		Timeout:   30 * time.Second,
	}
}

// Client KIS 국내주식 시세 클라이언트
type Client struct {
	tokenMgr   *TokenManager
	creds      Credentials
	opts       Options
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	hours      *market.Hours
	log        zerolog.Logger
}

// NewClient KIS 클라이언트 생성
func NewClient(creds Credentials, opts Options, log zerolog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	if opts.Market == "" {
		opts.Market = MarketKRX
	}
	if opts.PerMinute <= 0 {
		opts.PerMinute = DefaultOptions().PerMinute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	log = log.With().Str("component", "kis").Logger()

	return &Client{
		tokenMgr:   NewTokenManager(creds, opts.BaseURL, opts.CacheDir, log),
		creds:      creds,
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    ratelimit.NewLimiter("kis", opts.PerMinute),
		hours:      market.KRX(),
		log:        log,
	}
}

// Name 브로커 이름
func (c *Client) Name() string {
	return "kis"
}

// IsReady 토큰 발급 가능 여부
func (c *Client) IsReady(ctx context.Context) bool {
	_, err := c.tokenMgr.GetToken(ctx)
	return err == nil
}

// get 공통 GET 요청 (레이트리밋, 토큰, rt_cd 검사)
func (c *Client) get(ctx context.Context, path, trID string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	token, err := c.tokenMgr.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	// KIS 필수 헤더
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.creds.AppKey)
	req.Header.Set("appsecret", c.creds.AppSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w: %v", apperrors.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.log.Debug().Str("tr_id", trID).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("kis request")

	// 레이트리밋/토큰만료는 HTTP 500과 함께 오는 경우가 있어 상태코드보다 먼저 확인
	var h header
	_ = json.Unmarshal(body, &h)
	switch h.MsgCd {
	case msgCodeRateLimited:
		c.limiter.SignalRateLimited()
		return apperrors.NewAPIError(h.MsgCd, h.Msg1, apperrors.ErrRateLimited)
	case msgCodeTokenExpired:
		c.tokenMgr.Invalidate()
		return apperrors.NewAPIError(h.MsgCd, h.Msg1, apperrors.ErrAuthFailed)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s: %w", resp.StatusCode, string(body), apperrors.ErrProviderUnavailable)
	}
	if h.RtCd != "0" {
		return apperrors.NewAPIError(h.MsgCd, h.Msg1, nil)
	}
	c.limiter.ResetBackoff()

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// GetMinuteChart 주식일별분봉조회. hour(HHMMSS) 이전 최대 120건을 오름차순으로 반환
func (c *Client) GetMinuteChart(ctx context.Context, symbol string, date time.Time, hour string) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", c.opts.Market)
	params.Set("FID_INPUT_ISCD", symbol)
	params.Set("FID_INPUT_HOUR_1", hour)
	params.Set("FID_INPUT_DATE_1", date.In(c.hours.Location()).Format("20060102"))
	params.Set("FID_PW_DATA_INCU_YN", "Y")
	params.Set("FID_FAKE_TICK_INCU_YN", "")

	var resp minuteChartResponse
	if err := c.get(ctx, pathMinuteChart, TrIDDailyMinuteChart, params, &resp); err != nil {
		return nil, fmt.Errorf("minute chart %s %s: %w", symbol, hour, err)
	}

	candles := make([]model.Candle, 0, len(resp.Output2))
	for _, b := range resp.Output2 {
		ts, err := time.ParseInLocation("20060102150405", b.Date+padHour(b.Hour), c.hours.Location())
		if err != nil {
			continue
		}
		candles = append(candles, model.Candle{
			Time:   ts,
			Open:   parseFloat(b.Open),
			High:   parseFloat(b.High),
			Low:    parseFloat(b.Low),
			Close:  parseFloat(b.Close),
			Volume: parseInt(b.Volume),
		})
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, nil
}

// GetDayMinuteCandles 개장부터 until(0이면 장마감)까지 1분봉 전체.
// 120건 제한 때문에 구간 시작봉이 포함되도록 119분 간격으로 나눠 조회 후 병합
func (c *Client) GetDayMinuteCandles(ctx context.Context, symbol string, date, until time.Time) ([]model.Candle, error) {
	open := c.hours.OpenTime(date)
	end := c.hours.CloseTime(date)
	if !until.IsZero() && until.Before(end) {
		end = until
	}

	seen := make(map[int64]model.Candle)
	for segStart := open; segStart.Before(end); {
		segEnd := segStart.Add((MaxBarsPerCall - 1) * time.Minute)
		if segEnd.After(end) {
			segEnd = end
		}

		bars, err := c.GetMinuteChart(ctx, symbol, date, segEnd.Format("150405"))
		if err != nil {
			return nil, err
		}
		for _, b := range bars {
			if b.Time.Before(segStart) || b.Time.After(segEnd) {
				continue
			}
			seen[b.Time.Unix()] = b
		}
		segStart = segEnd
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("%s %s: %w", symbol, date.Format("2006-01-02"), apperrors.ErrNoData)
	}

	candles := make([]model.Candle, 0, len(seen))
	for _, b := range seen {
		candles = append(candles, b)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, nil
}

// GetQuote 현재가 조회
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", c.opts.Market)
	params.Set("FID_INPUT_ISCD", symbol)

	var resp priceResponse
	if err := c.get(ctx, pathPrice, TrIDPrice, params, &resp); err != nil {
		return nil, fmt.Errorf("quote %s: %w", symbol, err)
	}

	return &Quote{
		Symbol:    symbol,
		Price:     parseFloat(resp.Output.Price),
		Open:      parseFloat(resp.Output.Open),
		High:      parseFloat(resp.Output.High),
		Low:       parseFloat(resp.Output.Low),
		Volume:    parseInt(resp.Output.AccVolume),
		ChangePct: parseFloat(resp.Output.Rate),
	}, nil
}

// Limiter 레이트리미터 (모니터링용)
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// parseFloat 문자열을 float64로 변환 (실패 시 0)
func parseFloat(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// padHour "93000" -> "093000"
func padHour(h string) string {
	h = strings.TrimSpace(h)
	if len(h) < 6 {
		h = strings.Repeat("0", 6-len(h)) + h
	}
	return h
}

func parseInt(s string) int64 {
	return int64(parseFloat(s))
}
