package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "pullback/internal/errors"
	"pullback/internal/market"
)

// fakeKIS serves tokens and minute bars for 09:00 to 15:30 where the
// close of minute m is 1000+m
func fakeKIS(t *testing.T, tokenCalls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc(pathToken, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok", TokenType: "Bearer", ExpiresIn: 86400})
	})

	mux.HandleFunc(pathMinuteChart, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("authorization") != "Bearer tok" || r.Header.Get("tr_id") != TrIDDailyMinuteChart {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		if q.Get("FID_INPUT_ISCD") == "999999" {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"rt_cd":"1","msg_cd":"EGW00201","msg1":"초당 거래건수를 초과하였습니다."}`)
			return
		}

		end, _ := time.Parse("150405", q.Get("FID_INPUT_HOUR_1"))
		endMin := end.Hour()*60 + end.Minute()

		resp := minuteChartResponse{header: header{RtCd: "0", MsgCd: "MCA00000", Msg1: "정상처리 되었습니다."}}
		// 최신순, 최대 120건
		for m := endMin; m > endMin-MaxBarsPerCall && m >= 9*60; m-- {
			price := fmt.Sprintf("%d", 1000+m-9*60)
			resp.Output2 = append(resp.Output2, minuteBar{
				Date:   q.Get("FID_INPUT_DATE_1"),
				Hour:   fmt.Sprintf("%02d%02d00", m/60, m%60),
				Close:  price,
				Open:   price,
				High:   price,
				Low:    price,
				Volume: "1,000",
			})
		}
		json.NewEncoder(w).Encode(resp)
	})

	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	opts := DefaultOptions()
	opts.BaseURL = srv.URL
	opts.CacheDir = t.TempDir()
	opts.PerMinute = 60000
	return NewClient(Credentials{AppKey: "key", AppSecret: "secret"}, opts, zerolog.Nop())
}

func TestGetMinuteChart(t *testing.T) {
	var calls int32
	srv := fakeKIS(t, &calls)
	defer srv.Close()
	c := newTestClient(t, srv)

	date := time.Date(2025, 3, 4, 0, 0, 0, 0, market.KRX().Location())
	bars, err := c.GetMinuteChart(context.Background(), "005930", date, "093000")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(bars) != 31 {
		t.Fatalf("Expected 31 bars 09:00~09:30, got %d", len(bars))
	}
	if bars[0].Time.Format("15:04") != "09:00" || bars[30].Close != 1030 {
		t.Errorf("Expected ascending bars ending at 1030, got first %s last %.0f", bars[0].Time.Format("15:04"), bars[30].Close)
	}
	if bars[0].Volume != 1000 {
		t.Errorf("Expected comma-stripped volume 1000, got %d", bars[0].Volume)
	}
}

func TestGetDayMinuteCandles(t *testing.T) {
	var calls int32
	srv := fakeKIS(t, &calls)
	defer srv.Close()
	c := newTestClient(t, srv)

	date := time.Date(2025, 3, 4, 0, 0, 0, 0, market.KRX().Location())
	bars, err := c.GetDayMinuteCandles(context.Background(), "005930", date, time.Time{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 09:00 ~ 15:30 inclusive
	if len(bars) != 391 {
		t.Fatalf("Expected 391 minute bars, got %d", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			t.Fatalf("Expected strictly ascending unique bars at %d", i)
		}
	}
	if calls != 1 {
		t.Errorf("Expected one token request across segments, got %d", calls)
	}

	until := date.Add(10 * time.Hour)
	bars, err = c.GetDayMinuteCandles(context.Background(), "005930", date, until)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if last := bars[len(bars)-1]; last.Time.Format("15:04") != "10:00" {
		t.Errorf("Expected bars up to 10:00, got %s", last.Time.Format("15:04"))
	}
}

func TestRateLimitedResponse(t *testing.T) {
	var calls int32
	srv := fakeKIS(t, &calls)
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.GetMinuteChart(context.Background(), "999999", time.Now(), "093000")
	if !apperrors.Is(err, apperrors.ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited, got %v", err)
	}
	var apiErr *apperrors.APIError
	if !apperrors.As(err, &apiErr) || apiErr.Code != "EGW00201" {
		t.Errorf("Expected APIError EGW00201, got %v", err)
	}
	if c.Limiter().Throttled() != 1 {
		t.Errorf("Expected limiter to record the throttle, got %d", c.Limiter().Throttled())
	}
}

func TestTokenCache(t *testing.T) {
	var calls int32
	srv := fakeKIS(t, &calls)
	defer srv.Close()
	dir := t.TempDir()

	tm := NewTokenManager(Credentials{AppKey: "key", AppSecret: "secret"}, srv.URL, dir, zerolog.Nop())
	if _, err := tm.GetToken(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 새 매니저는 파일 캐시 사용
	tm2 := NewTokenManager(Credentials{AppKey: "key", AppSecret: "secret"}, srv.URL, dir, zerolog.Nop())
	token, err := tm2.GetToken(context.Background())
	if err != nil || token != "tok" {
		t.Fatalf("Expected cached token, got %q, %v", token, err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 token request, got %d", calls)
	}

	// 다른 AppKey는 캐시 파일이 다름
	tm3 := NewTokenManager(Credentials{AppKey: "other"}, srv.URL, dir, zerolog.Nop())
	if tm3.CacheFile() == tm.CacheFile() {
		t.Error("Expected per-appkey cache files")
	}

	tm2.Invalidate()
	if _, err := tm2.GetToken(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected refresh after invalidate, got %d token requests", calls)
	}
}
