package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "pullback/internal/errors"
	"pullback/internal/pattern"
	"pullback/internal/store/sqlite"
	"pullback/internal/strategy"
	"pullback/internal/symbols"
	"pullback/pkg/model"
)

const (
	maxScanSymbols = 100
	defaultLimit   = 50
	maxLimit       = 500
)

// AnalyzeRequest is the body of POST /api/analyze. Either Candles or raw
// Rows must be set; Rows may carry thousands separators.
type AnalyzeRequest struct {
	Symbol  string         `json:"symbol"`
	Candles []model.Candle `json:"candles,omitempty"`
	Rows    []model.RawBar `json:"rows,omitempty"`
}

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.gate.Hours().Status(time.Now())
	successResponse(c, gin.H{
		"status":       "ok",
		"uptime":       time.Since(s.started).Round(time.Second).String(),
		"market":       s.gate.Hours().Code,
		"market_state": st.State,
		"market_open":  st.IsOpen,
		"scanner":      s.scanner != nil,
		"pattern_log":  s.patterns != nil,
	})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Symbol = strings.TrimSpace(req.Symbol)
	if req.Symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	candles := req.Candles
	if len(candles) == 0 && len(req.Rows) > 0 {
		candles = pattern.ParseRawBars(req.Rows)
	}

	// 빈 세션도 AVOID 판정으로 응답
	d := s.gate.Evaluate(req.Symbol, candles, time.Now())
	successResponse(c, d)
}

func (s *Server) handleScan(c *gin.Context) {
	if s.scanner == nil {
		errorResponse(c, http.StatusServiceUnavailable, "scanner not configured")
		return
	}

	codes, err := s.scanSymbols(c.Query("symbols"), c.Query("universe"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	date, err := s.parseDate(c.Query("date"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid date, use YYYY-MM-DD")
		return
	}

	result, err := s.scanner.ScanSymbols(c.Request.Context(), codes, date)
	if err != nil {
		s.log.Error().Err(err).Int("symbols", len(codes)).Msg("scan failed")
		errorResponse(c, statusFor(err), err.Error())
		return
	}

	if c.Query("buys") == "true" {
		successResponse(c, gin.H{
			"date":          result.Date,
			"total_scanned": result.TotalScanned,
			"buy_count":     result.BuyCount,
			"results":       result.Buys(),
		})
		return
	}
	successResponse(c, result)
}

func (s *Server) scanSymbols(list, universe string) ([]string, error) {
	var codes []string
	switch {
	case list != "":
		for _, code := range strings.Split(list, ",") {
			if code = strings.TrimSpace(code); code != "" {
				codes = append(codes, code)
			}
		}
	case universe != "":
		codes = symbols.GetUniverse(symbols.Universe(universe))
		if len(codes) == 0 {
			return nil, errors.New("unknown universe: " + universe)
		}
	default:
		return nil, errors.New("symbols or universe is required")
	}

	if len(codes) == 0 {
		return nil, errors.New("no symbols given")
	}
	if len(codes) > maxScanSymbols {
		return nil, errors.New("too many symbols (max " + strconv.Itoa(maxScanSymbols) + ")")
	}
	return codes, nil
}

func (s *Server) parseDate(v string) (time.Time, error) {
	loc := s.gate.Hours().Location()
	if v == "" {
		now := time.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc), nil
	}
	return time.ParseInLocation("2006-01-02", v, loc)
}

func (s *Server) handlePatterns(c *gin.Context) {
	if s.patterns == nil {
		errorResponse(c, http.StatusServiceUnavailable, "pattern log not configured")
		return
	}

	filter := sqlite.Filter{
		Symbol: c.Query("symbol"),
		State:  strings.ToUpper(c.Query("state")),
		Limit:  defaultLimit,
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		filter.Limit = n
	}
	if v := c.Query("date"); v != "" {
		day, err := s.parseDate(v)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid date, use YYYY-MM-DD")
			return
		}
		filter.From = day
		filter.To = day.AddDate(0, 0, 1)
	}
	if v := c.Query("labeled"); v != "" {
		labeled, err := strconv.ParseBool(v)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid labeled flag")
			return
		}
		filter.Labeled = &labeled
	}

	records, err := s.patterns.List(c.Request.Context(), filter)
	if err != nil {
		s.log.Error().Err(err).Msg("pattern query failed")
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	successResponse(c, gin.H{
		"count":    len(records),
		"patterns": records,
	})
}

func (s *Server) handleStrategies(c *gin.Context) {
	successResponse(c, strategy.AllInfo(nil, s.gate.Config()))
}

func (s *Server) handleUniverses(c *gin.Context) {
	out := make(map[string]int)
	for _, u := range symbols.Universes() {
		out[string(u)] = len(symbols.GetUniverse(u))
	}
	successResponse(c, out)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNoData), errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrProviderUnavailable), errors.Is(err, apperrors.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
