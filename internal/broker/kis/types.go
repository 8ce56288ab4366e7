package kis

// Credentials KIS API 인증 정보
type Credentials struct {
	AppKey    string `yaml:"app_key"`
	AppSecret string `yaml:"app_secret"`
	AccountNo string `yaml:"account_no"` // XXXXXXXX-XX 형식 (시세 조회에는 불필요)
}

// 국내주식 시세 거래 ID
const (
	TrIDDailyMinuteChart = "FHKST03010230" // 주식일별분봉조회 (최대 120건)
	TrIDPrice            = "FHKST01010100" // 주식현재가 시세
)

// 시장 분류 코드
const (
	MarketKRX      = "J"  // KRX
	MarketNXT      = "NX" // 넥스트레이드
	MarketCombined = "UN" // 통합
)

// MaxBarsPerCall 일별분봉조회 1회 최대 건수
const MaxBarsPerCall = 120

const (
	pathToken       = "/oauth2/tokenP"
	pathMinuteChart = "/uapi/domestic-stock/v1/quotations/inquire-time-dailychartprice"
	pathPrice       = "/uapi/domestic-stock/v1/quotations/inquire-price"
)

// 초당 거래건수 초과
const msgCodeRateLimited = "EGW00201"

// tokenRequest 토큰 발급 요청
type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

// tokenResponse 토큰 발급 응답
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // 초 (86400 = 24시간)
}

// header 공통 응답 헤더
type header struct {
	RtCd  string `json:"rt_cd"` // 성공: "0"
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

// minuteBar 분봉 한 건 (output2)
type minuteBar struct {
	Date   string `json:"stck_bsop_date"` // 영업일자 YYYYMMDD
	Hour   string `json:"stck_cntg_hour"` // 체결시간 HHMMSS
	Close  string `json:"stck_prpr"`
	Open   string `json:"stck_oprc"`
	High   string `json:"stck_hgpr"`
	Low    string `json:"stck_lwpr"`
	Volume string `json:"cntg_vol"`
	Amount string `json:"acml_tr_pbmn"`
}

// minuteChartResponse 일별분봉조회 응답
type minuteChartResponse struct {
	header
	Output1 struct {
		PrevDiff  string `json:"prdy_vrss"`      // 전일대비
		PrevRate  string `json:"prdy_ctrt"`      // 전일대비율
		PrevClose string `json:"stck_prdy_clpr"` // 전일종가
		AccVolume string `json:"acml_vol"`       // 누적거래량
		StockName string `json:"hts_kor_isnm"`   // 종목명
		LastPrice string `json:"stck_prpr"`      // 현재가
	} `json:"output1"`
	Output2 []minuteBar `json:"output2"`
}

// priceResponse 현재가 응답
type priceResponse struct {
	header
	Output struct {
		Price     string `json:"stck_prpr"`
		Open      string `json:"stck_oprc"`
		High      string `json:"stck_hgpr"`
		Low       string `json:"stck_lwpr"`
		AccVolume string `json:"acml_vol"`
		Rate      string `json:"prdy_ctrt"`
	} `json:"output"`
}

// Quote 현재가 요약
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    int64   `json:"volume"`
	ChangePct float64 `json:"change_pct"`
}
