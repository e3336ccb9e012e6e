package kis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quote-relay/src/helpers"
	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
	"quote-relay/src/metrics"
	"quote-relay/src/models"
	"quote-relay/src/utils"
)

const (
	ProviderName = "kis"

	trPrice       = "FHKST01010100"
	trDailyChart  = "FHKST03010100"
	trMinuteChart = "FHKST03010200"
	trTrades      = "FHKST01010300"
	trFluctuation = "FHPST01700000"
	trVolumeRank  = "FHPST01710000"
	trInvestor    = "FHKST01010900"
	trIndex       = "FHPUP02100000"

	msgRateLimited  = "EGW00201"
	msgTokenExpired = "EGW00123"
	msgTokenInvalid = "EGW00121"

	maxMinutePages     = 10
	defaultMinutePages = 6
	listLimit          = 30
)

var lookbackDays = map[string]int{"D": 180, "W": 365, "M": 730, "Y": 3650}

// Options tunes minute chart pagination. A zero MinutePages takes the default.
type Options struct {
	MinutePages      int
	PageRetries      int
	PageRetryBackoff time.Duration
	PagePause        time.Duration
}

// KISSource talks to the Korea Investment & Securities open API.
type KISSource struct {
	BaseURL   string
	AppKey    string
	AppSecret string

	Network  interfaces.INetworkManager
	Throttle interfaces.IThrottle
	Tokens   *TokenManager
	Logger   *logger.Logger
	Metrics  *metrics.Metrics

	opts     Options
	location *time.Location
	now      func() time.Time
}

// -----------------------------------------------------------------------------

func NewKISSource(cfg models.MKISConfig, netMgr interfaces.INetworkManager, throttle interfaces.IThrottle, log *logger.Logger, m *metrics.Metrics) *KISSource {
	if log == nil {
		log = logger.Nop()
	}
	s := &KISSource{
		BaseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		AppKey:    cfg.AppKey,
		AppSecret: cfg.AppSecret,
		Network:   netMgr,
		Throttle:  throttle,
		Logger:    log,
		Metrics:   m,
		opts: Options{
			MinutePages:      cfg.MinutePages,
			PageRetries:      cfg.PageRetries,
			PageRetryBackoff: cfg.PageRetryBackoff.Duration,
			PagePause:        cfg.PagePause.Duration,
		},
		location: utils.LoadLocation(utils.DefaultTimezone),
		now:      time.Now,
	}
	if s.opts.MinutePages <= 0 {
		s.opts.MinutePages = defaultMinutePages
	}
	s.Tokens = NewTokenManager(s.exchangeToken, cfg.TokenRefreshMargin.Duration, cfg.TokenFailureThreshold, log.Named("token"), m)
	return s
}

// -----------------------------------------------------------------------------

func (s *KISSource) Name() string {
	return ProviderName
}

// -----------------------------------------------------------------------------
// Wire types
// -----------------------------------------------------------------------------

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type envelope struct {
	RtCd    string          `json:"rt_cd"`
	MsgCd   string          `json:"msg_cd"`
	Msg1    string          `json:"msg1"`
	Output  json.RawMessage `json:"output"`
	Output1 json.RawMessage `json:"output1"`
	Output2 json.RawMessage `json:"output2"`
}

type priceOutput struct {
	Name       string `json:"hts_kor_isnm"`
	Price      string `json:"stck_prpr"`
	Change     string `json:"prdy_vrss"`
	ChangeSign string `json:"prdy_vrss_sign"`
	ChangePct  string `json:"prdy_ctrt"`
	Open       string `json:"stck_oprc"`
	High       string `json:"stck_hgpr"`
	Low        string `json:"stck_lwpr"`
	PrevClose  string `json:"stck_sdpr"`
	Volume     string `json:"acml_vol"`
}

type dailyBar struct {
	Date   string `json:"stck_bsop_date"`
	Open   string `json:"stck_oprc"`
	High   string `json:"stck_hgpr"`
	Low    string `json:"stck_lwpr"`
	Close  string `json:"stck_clpr"`
	Volume string `json:"acml_vol"`
}

type minuteBar struct {
	Date   string `json:"stck_bsop_date"`
	Hour   string `json:"stck_cntg_hour"`
	Open   string `json:"stck_oprc"`
	High   string `json:"stck_hgpr"`
	Low    string `json:"stck_lwpr"`
	Close  string `json:"stck_prpr"`
	Volume string `json:"cntg_vol"`
}

type tradeRow struct {
	Hour      string `json:"stck_cntg_hour"`
	Price     string `json:"stck_prpr"`
	Change    string `json:"prdy_vrss"`
	Volume    string `json:"cntg_vol"`
	AccVolume string `json:"acml_vol"`
}

type rankRow struct {
	Rank         string `json:"data_rank"`
	Code         string `json:"stck_shrn_iscd"`
	MkscCode     string `json:"mksc_shrn_iscd"`
	Name         string `json:"hts_kor_isnm"`
	Price        string `json:"stck_prpr"`
	Change       string `json:"prdy_vrss"`
	ChangePct    string `json:"prdy_ctrt"`
	Volume       string `json:"acml_vol"`
	TradingValue string `json:"acml_tr_pbmn"`
}

type investorRow struct {
	Date       string `json:"stck_bsop_date"`
	Close      string `json:"stck_clpr"`
	PrsnBuy    string `json:"prsn_shnu_vol"`
	PrsnSell   string `json:"prsn_seln_vol"`
	PrsnNet    string `json:"prsn_ntby_qty"`
	PrsnAmount string `json:"prsn_ntby_tr_pbmn"`
	FrgnBuy    string `json:"frgn_shnu_vol"`
	FrgnSell   string `json:"frgn_seln_vol"`
	FrgnNet    string `json:"frgn_ntby_qty"`
	FrgnAmount string `json:"frgn_ntby_tr_pbmn"`
	OrgnBuy    string `json:"orgn_shnu_vol"`
	OrgnSell   string `json:"orgn_seln_vol"`
	OrgnNet    string `json:"orgn_ntby_qty"`
	OrgnAmount string `json:"orgn_ntby_tr_pbmn"`
}

type indexOutput struct {
	Price        string `json:"bstp_nmix_prpr"`
	Change       string `json:"bstp_nmix_prdy_vrss"`
	ChangePct    string `json:"bstp_nmix_prdy_ctrt"`
	Open         string `json:"bstp_nmix_oprc"`
	High         string `json:"bstp_nmix_hgpr"`
	Low          string `json:"bstp_nmix_lwpr"`
	Volume       string `json:"acml_vol"`
	TradingValue string `json:"acml_tr_pbmn"`
}

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

func (s *KISSource) exchangeToken(ctx context.Context) (models.MAccessToken, error) {
	body, err := s.Network.PostJSON(ctx, s.BaseURL+"/oauth2/tokenP", map[string]string{
		"grant_type": "client_credentials",
		"appkey":     s.AppKey,
		"appsecret":  s.AppSecret,
	}, nil)
	if err != nil {
		return models.MAccessToken{}, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.MAccessToken{}, helpers.NewUpstreamError(ProviderName, 0, "decode token", err)
	}

	lifetime := 23 * time.Hour
	if resp.ExpiresIn > 0 {
		lifetime = time.Duration(resp.ExpiresIn) * time.Second
	}
	return models.MAccessToken{Value: resp.AccessToken, ExpiresAt: s.now().Add(lifetime)}, nil
}

// -----------------------------------------------------------------------------

// call performs one throttled quotation request and unwraps the KIS envelope.
func (s *KISSource) call(ctx context.Context, op, path, trID string, params map[string]string) (*envelope, error) {
	token, err := s.Tokens.Token(ctx)
	if err != nil {
		s.Metrics.UpstreamRequest(ProviderName, op, err)
		return nil, err
	}
	if err := s.Throttle.Wait(ctx); err != nil {
		return nil, err
	}

	headers := map[string]string{
		"authorization": "Bearer " + token,
		"appkey":        s.AppKey,
		"appsecret":     s.AppSecret,
		"tr_id":         trID,
		"custtype":      "P",
		"Content-Type":  "application/json; charset=utf-8",
	}

	body, err := s.Network.Get(ctx, s.BaseURL+path, params, headers)
	env, decodeErr := decodeEnvelope(body)
	if err != nil {
		// KIS reports rate limits and stale tokens inside a 500 body.
		if decodeErr == nil {
			if classified := s.classify(env); classified != nil {
				err = classified
			}
		}
		var authErr *helpers.AuthError
		if errors.As(err, &authErr) {
			s.Tokens.Invalidate()
		}
		s.Metrics.UpstreamRequest(ProviderName, op, err)
		return nil, err
	}
	if decodeErr != nil {
		err = helpers.NewUpstreamError(ProviderName, 0, op+": decode response", decodeErr)
		s.Metrics.UpstreamRequest(ProviderName, op, err)
		return nil, err
	}
	if env.RtCd != "0" {
		err = s.classify(env)
		var authErr *helpers.AuthError
		if errors.As(err, &authErr) {
			s.Tokens.Invalidate()
		}
		s.Metrics.UpstreamRequest(ProviderName, op, err)
		return nil, err
	}

	s.Metrics.UpstreamRequest(ProviderName, op, nil)
	return env, nil
}

func decodeEnvelope(body []byte) (*envelope, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *KISSource) classify(env *envelope) error {
	msg := strings.TrimSpace(env.Msg1)
	if msg == "" {
		msg = "error " + env.MsgCd
	}
	switch env.MsgCd {
	case msgRateLimited:
		return helpers.NewRateLimitError(ProviderName, msg)
	case msgTokenExpired, msgTokenInvalid:
		return helpers.NewAuthError("", ProviderName+": "+msg, nil)
	case "":
		if env.RtCd == "" || env.RtCd == "0" {
			return nil
		}
	}
	return helpers.NewUpstreamError(ProviderName, 0, msg, nil)
}

// -----------------------------------------------------------------------------
// Operations
// -----------------------------------------------------------------------------

// Health confirms a token can be obtained.
func (s *KISSource) Health(ctx context.Context) error {
	_, err := s.Tokens.Token(ctx)
	return err
}

// -----------------------------------------------------------------------------

func (s *KISSource) FetchPrice(ctx context.Context, code string) (models.MPriceSnapshot, error) {
	env, err := s.call(ctx, "price", "/uapi/domestic-stock/v1/quotations/inquire-price", trPrice, map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         code,
	})
	if err != nil {
		return models.MPriceSnapshot{}, err
	}

	var o priceOutput
	if err := json.Unmarshal(env.Output, &o); err != nil {
		return models.MPriceSnapshot{}, helpers.NewUpstreamError(ProviderName, 0, "price: decode output", err)
	}

	name := o.Name
	if name == "" {
		name = code
	}
	return models.MPriceSnapshot{
		Symbol:     code,
		Name:       name,
		Price:      num(o.Price),
		Change:     num(o.Change),
		ChangePct:  num(o.ChangePct),
		ChangeSign: o.ChangeSign,
		Volume:     integer(o.Volume),
		High:       num(o.High),
		Low:        num(o.Low),
		Open:       num(o.Open),
		PrevClose:  num(o.PrevClose),
		Source:     ProviderName,
		CapturedAt: s.now(),
	}, nil
}

// -----------------------------------------------------------------------------

// ResolveChartQuery fills in the period and date range defaults.
func ResolveChartQuery(q models.MChartQuery, now time.Time, loc *time.Location) models.MChartQuery {
	q.Period = strings.ToUpper(q.Period)
	days, ok := lookbackDays[q.Period]
	if !ok {
		q.Period = "D"
		days = lookbackDays["D"]
	}
	local := now.In(loc)
	if q.End == "" {
		q.End = local.Format(utils.KISDateLayout)
	}
	if q.Start == "" {
		q.Start = local.AddDate(0, 0, -days).Format(utils.KISDateLayout)
	}
	return q
}

func (s *KISSource) FetchDailyChart(ctx context.Context, code string, query models.MChartQuery) ([]models.MCandle, error) {
	q := ResolveChartQuery(query, s.now(), s.location)

	env, err := s.call(ctx, "daily_chart", "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice", trDailyChart, map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         code,
		"FID_INPUT_DATE_1":       q.Start,
		"FID_INPUT_DATE_2":       q.End,
		"FID_PERIOD_DIV_CODE":    q.Period,
		"FID_ORG_ADJ_PRC":        "0",
	})
	if err != nil {
		return nil, err
	}

	var rows []dailyBar
	if len(env.Output2) > 0 {
		if err := json.Unmarshal(env.Output2, &rows); err != nil {
			return nil, helpers.NewUpstreamError(ProviderName, 0, "daily chart: decode output", err)
		}
	}

	// newest first on the wire
	candles := make([]models.MCandle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if r.Date == "" {
			continue
		}
		day, err := time.ParseInLocation(utils.KISDateLayout, r.Date, s.location)
		if err != nil {
			continue
		}
		c := models.MCandle{
			Time:   day.UTC(),
			Open:   num(r.Open),
			High:   num(r.High),
			Low:    num(r.Low),
			Close:  num(r.Close),
			Volume: integer(r.Volume),
		}
		if !c.Close.IsPositive() {
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// -----------------------------------------------------------------------------

// DefaultMinuteStart is the pagination cursor when the caller gives none: the
// current KST time during 09:00-16:00 on weekdays, else 16:00.
func DefaultMinuteStart(now time.Time, loc *time.Location) string {
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	weekday := local.Weekday()
	if weekday != time.Saturday && weekday != time.Sunday && minute >= utils.SessionOpenMinute && minute <= 16*60 {
		return local.Format(utils.KISTimeLayout)
	}
	return "160000"
}

// nextMinuteCursor returns the HHMMSS cursor one minute before oldest, or false
// when the session start has been reached.
func nextMinuteCursor(oldest string) (string, bool) {
	if len(oldest) < 4 || oldest <= "090100" {
		return "", false
	}
	h, errH := strconv.Atoi(oldest[0:2])
	m, errM := strconv.Atoi(oldest[2:4])
	if errH != nil || errM != nil {
		return "", false
	}
	prev := h*60 + m - 1
	if prev < utils.SessionOpenMinute {
		return "", false
	}
	return fmt.Sprintf("%02d%02d00", prev/60, prev%60), true
}

func (s *KISSource) minutePage(ctx context.Context, code, cursor string) ([]minuteBar, error) {
	env, err := s.call(ctx, "minute_chart", "/uapi/domestic-stock/v1/quotations/inquire-time-itemchartprice", trMinuteChart, map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         code,
		"FID_INPUT_HOUR_1":       cursor,
		"FID_ETC_CLS_CODE":       "",
		"FID_PW_DATA_INCU_YN":    "N",
	})
	if err != nil {
		return nil, err
	}
	var rows []minuteBar
	if len(env.Output2) > 0 {
		if err := json.Unmarshal(env.Output2, &rows); err != nil {
			return nil, helpers.NewUpstreamError(ProviderName, 0, "minute chart: decode output", err)
		}
	}
	return rows, nil
}

func (s *KISSource) FetchMinuteChart(ctx context.Context, code string, startTime string, maxPages int) ([]models.MCandle, error) {
	if startTime == "" {
		startTime = DefaultMinuteStart(s.now(), s.location)
	}
	pages := maxPages
	if pages <= 0 {
		pages = s.opts.MinutePages
	}
	if pages > maxMinutePages {
		pages = maxMinutePages
	}

	var records []minuteBar
	cursor := startTime
	for page := 0; page < pages; page++ {
		if page > 0 {
			if err := helpers.Sleep(ctx, s.opts.PagePause); err != nil {
				break
			}
		}

		var rows []minuteBar
		err := helpers.RetryFixed(ctx, s.opts.PageRetries, s.opts.PageRetryBackoff, func(ctx context.Context) error {
			var err error
			rows, err = s.minutePage(ctx, code, cursor)
			return err
		})
		if err != nil {
			if page == 0 {
				return nil, err
			}
			s.Logger.Warning("minute chart page %d for %s failed: %v, using %d records", page, code, err, len(records))
			break
		}

		kept := rows[:0]
		for _, r := range rows {
			if r.Hour != "" && integer(r.Volume) > 0 {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			break
		}
		records = append(records, kept...)

		next, ok := nextMinuteCursor(kept[len(kept)-1].Hour)
		if !ok {
			break
		}
		cursor = next
	}

	return s.minuteCandles(records), nil
}

func (s *KISSource) minuteCandles(records []minuteBar) []models.MCandle {
	seen := make(map[string]bool, len(records))
	unique := make([]minuteBar, 0, len(records))
	for _, r := range records {
		if seen[r.Hour] {
			continue
		}
		seen[r.Hour] = true
		unique = append(unique, r)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].Hour < unique[j].Hour })

	today := s.now().In(s.location).Format(utils.KISDateLayout)
	candles := make([]models.MCandle, 0, len(unique))
	for _, r := range unique {
		date := r.Date
		if date == "" {
			date = today
		}
		ts, err := time.ParseInLocation(utils.KISDateLayout+utils.KISTimeLayout, date+r.Hour, s.location)
		if err != nil {
			continue
		}
		c := models.MCandle{
			Time:   ts.UTC(),
			Open:   num(r.Open),
			High:   num(r.High),
			Low:    num(r.Low),
			Close:  num(r.Close),
			Volume: integer(r.Volume),
		}
		if !c.Close.IsPositive() {
			continue
		}
		candles = append(candles, c)
	}
	return candles
}

// -----------------------------------------------------------------------------

func (s *KISSource) FetchTrades(ctx context.Context, code string) ([]models.MTrade, error) {
	env, err := s.call(ctx, "trades", "/uapi/domestic-stock/v1/quotations/inquire-ccnl", trTrades, map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         code,
	})
	if err != nil {
		return nil, err
	}

	var rows []tradeRow
	if len(env.Output) > 0 {
		if err := json.Unmarshal(env.Output, &rows); err != nil {
			return nil, helpers.NewUpstreamError(ProviderName, 0, "trades: decode output", err)
		}
	}
	if len(rows) > listLimit {
		rows = rows[:listLimit]
	}

	trades := make([]models.MTrade, 0, len(rows))
	for _, r := range rows {
		t := ""
		if len(r.Hour) >= 6 {
			t = r.Hour[0:2] + ":" + r.Hour[2:4] + ":" + r.Hour[4:6]
		}
		trades = append(trades, models.MTrade{
			Time:      t,
			Price:     num(r.Price),
			Change:    num(r.Change),
			Volume:    integer(r.Volume),
			AccVolume: integer(r.AccVolume),
		})
	}
	return trades, nil
}

// -----------------------------------------------------------------------------

// FetchFluctuationRanking sortType: 0 all, 1 up, 2 flat, 3 down, 4 upper limit, 5 lower limit.
func (s *KISSource) FetchFluctuationRanking(ctx context.Context, sortType string) ([]models.MRankEntry, error) {
	if sortType == "" {
		sortType = "0"
	}
	env, err := s.call(ctx, "fluctuation_ranking", "/uapi/domestic-stock/v1/ranking/fluctuation", trFluctuation, map[string]string{
		"fid_cond_mrkt_div_code": "J",
		"fid_cond_scr_div_code":  "20170",
		"fid_input_iscd":         "0000",
		"fid_rank_sort_cls_code": sortType,
		"fid_input_cnt_1":        "0",
		"fid_prc_cls_code":       "0",
		"fid_input_price_1":      "",
		"fid_input_price_2":      "",
		"fid_vol_cnt":            "",
		"fid_trgt_cls_code":      "0",
		"fid_trgt_exls_cls_code": "0",
		"fid_div_cls_code":       "0",
		"fid_rsfl_rate1":         "",
		"fid_rsfl_rate2":         "",
	})
	if err != nil {
		return nil, err
	}
	return decodeRanking(env.Output)
}

// -----------------------------------------------------------------------------

func (s *KISSource) FetchVolumeRanking(ctx context.Context) ([]models.MRankEntry, error) {
	env, err := s.call(ctx, "volume_ranking", "/uapi/domestic-stock/v1/quotations/volume-rank", trVolumeRank, map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_COND_SCR_DIV_CODE":  "20171",
		"FID_INPUT_ISCD":         "0000",
		"FID_DIV_CLS_CODE":       "0",
		"FID_BLNG_CLS_CODE":      "0",
		"FID_TRGT_CLS_CODE":      "111111111",
		"FID_TRGT_EXLS_CLS_CODE": "000000",
		"FID_INPUT_PRICE_1":      "",
		"FID_INPUT_PRICE_2":      "",
		"FID_VOL_CNT":            "",
		"FID_INPUT_DATE_1":       "",
	})
	if err != nil {
		return nil, err
	}
	return decodeRanking(env.Output)
}

func decodeRanking(raw json.RawMessage) ([]models.MRankEntry, error) {
	var rows []rankRow
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, helpers.NewUpstreamError(ProviderName, 0, "ranking: decode output", err)
		}
	}
	if len(rows) > listLimit {
		rows = rows[:listLimit]
	}

	entries := make([]models.MRankEntry, 0, len(rows))
	for _, r := range rows {
		code := r.Code
		if code == "" {
			code = r.MkscCode
		}
		entries = append(entries, models.MRankEntry{
			Rank:         int(integer(r.Rank)),
			Symbol:       code,
			Name:         r.Name,
			Price:        num(r.Price),
			Change:       num(r.Change),
			ChangePct:    num(r.ChangePct),
			Volume:       integer(r.Volume),
			TradingValue: integer(r.TradingValue),
		})
	}
	return entries, nil
}

// -----------------------------------------------------------------------------

func (s *KISSource) FetchInvestor(ctx context.Context, code string) (models.MInvestorSummary, error) {
	env, err := s.call(ctx, "investor", "/uapi/domestic-stock/v1/quotations/inquire-investor", trInvestor, map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         code,
	})
	if err != nil {
		return models.MInvestorSummary{}, err
	}

	var all []investorRow
	if len(env.Output) > 0 {
		if err := json.Unmarshal(env.Output, &all); err != nil {
			return models.MInvestorSummary{}, helpers.NewUpstreamError(ProviderName, 0, "investor: decode output", err)
		}
	}

	// rows for days that have not settled carry no net quantities
	rows := all[:0]
	for _, r := range all {
		if r.PrsnNet != "" || r.FrgnNet != "" || r.OrgnNet != "" {
			rows = append(rows, r)
		}
	}

	var latest investorRow
	if len(rows) > 0 {
		latest = rows[0]
	}

	summary := models.MInvestorSummary{
		Date: latest.Date,
		Investors: []models.MInvestorFlow{
			{Name: "Individual", BuyVolume: integer(latest.PrsnBuy), SellVolume: integer(latest.PrsnSell), NetVolume: integer(latest.PrsnNet), NetAmount: integer(latest.PrsnAmount)},
			{Name: "Foreign", BuyVolume: integer(latest.FrgnBuy), SellVolume: integer(latest.FrgnSell), NetVolume: integer(latest.FrgnNet), NetAmount: integer(latest.FrgnAmount)},
			{Name: "Institution", BuyVolume: integer(latest.OrgnBuy), SellVolume: integer(latest.OrgnSell), NetVolume: integer(latest.OrgnNet), NetAmount: integer(latest.OrgnAmount)},
		},
	}
	for i, r := range rows {
		if i == 10 {
			break
		}
		summary.History = append(summary.History, models.MInvestorDay{
			Date:        r.Date,
			Close:       num(r.Close),
			Individual:  integer(r.PrsnNet),
			Foreign:     integer(r.FrgnNet),
			Institution: integer(r.OrgnNet),
		})
	}
	return summary, nil
}

// -----------------------------------------------------------------------------

// FetchIndex indexCode: 0001 KOSPI, 1001 KOSDAQ.
func (s *KISSource) FetchIndex(ctx context.Context, indexCode string) (models.MIndexQuote, error) {
	if indexCode == "" {
		indexCode = "0001"
	}
	env, err := s.call(ctx, "index", "/uapi/domestic-stock/v1/quotations/inquire-index-price", trIndex, map[string]string{
		"FID_COND_MRKT_DIV_CODE": "U",
		"FID_INPUT_ISCD":         indexCode,
	})
	if err != nil {
		return models.MIndexQuote{}, err
	}

	var o indexOutput
	if len(env.Output) > 0 {
		if err := json.Unmarshal(env.Output, &o); err != nil {
			return models.MIndexQuote{}, helpers.NewUpstreamError(ProviderName, 0, "index: decode output", err)
		}
	}

	name := indexCode
	switch indexCode {
	case "0001":
		name = "KOSPI"
	case "1001":
		name = "KOSDAQ"
	}
	return models.MIndexQuote{
		Code:         indexCode,
		Name:         name,
		Price:        num(o.Price),
		Change:       num(o.Change),
		ChangePct:    num(o.ChangePct),
		Open:         num(o.Open),
		High:         num(o.High),
		Low:          num(o.Low),
		Volume:       integer(o.Volume),
		TradingValue: integer(o.TradingValue),
	}, nil
}

// -----------------------------------------------------------------------------
// Numeric helpers: KIS sends every number as a string, sometimes empty.
// -----------------------------------------------------------------------------

func num(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func integer(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return num(s).IntPart()
	}
	return v
}
