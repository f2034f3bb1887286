package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"SynthPool/internal/collateral"
	"SynthPool/internal/engine"
	"SynthPool/internal/ledger"
	fpmath "SynthPool/internal/math"
	"SynthPool/internal/observability"
	"SynthPool/internal/oracle"
)

const (
	alice    = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	migrator = "0xffffffffffffffffffffffffffffffffffffffff"
)

type testServer struct {
	router http.Handler
	feed   *oracle.FeedCache
	nowUs  int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	now := time.Unix(1_700_000_000, 0).UTC()
	feed := oracle.NewFeedCache(time.Hour, func() time.Time { return now })
	feed.UpdateDebtRatio(400_000_000, now.UnixMicro()) // 0.4

	roundID := int64(0)
	setRate := func(key ledger.CurrencyKey, rate int64) {
		roundID++
		feed.UpdateRate(key, oracle.Round{Rate: rate, RoundID: roundID, Timestamp: now.UnixMicro()})
	}
	setRate("rEUR", 2*fpmath.RateUnit)
	setRate("rBTC", 50_000*fpmath.RateUnit)
	setRate("rETH", 3_000*fpmath.RateUnit)

	coll := collateral.NewStaticProvider()
	coll.SetBalance(alice, collateral.CategoryStaked, 2_000_000_000) // 2000 USD

	eng, err := engine.New(engine.Deps{
		Rates:      feed,
		DebtRatio:  feed,
		Collateral: coll,
		Migrators:  []ledger.Address{migrator},
		Settings:   engine.DefaultSettings(),
		Now:        func() time.Time { return now },
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	health := observability.NewHealthChecker()
	health.SetReady(true)

	return &testServer{
		router: New(eng, nil, health).WithCollateral(coll).Router(),
		feed:   feed,
		nowUs:  now.UnixMicro(),
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	fields := map[string]json.RawMessage{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Body.String(), "{") {
		if err := json.Unmarshal(rec.Body.Bytes(), &fields); err != nil {
			t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, fields
}

func str(t *testing.T, fields map[string]json.RawMessage, key string) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(fields[key], &s); err != nil {
		t.Fatalf("field %s: %v (raw %s)", key, err, fields[key])
	}
	return s
}

// ============================================================
// Issuance endpoints
// ============================================================

func TestIssueEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec, fields := ts.do(t, "POST", "/v1/issue",
		`{"account":"`+alice+`","amount":"100"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := str(t, fields, "shares_minted"); got != "250" {
		t.Fatalf("shares_minted = %s, want 250", got)
	}
	if got := str(t, fields, "debt_ratio"); got != "0.4" {
		t.Fatalf("debt_ratio = %s, want 0.4", got)
	}

	rec, fields = ts.do(t, "GET", "/v1/accounts/"+alice+"/balance/rUSD", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := str(t, fields, "balance"); got != "100" {
		t.Fatalf("balance = %s, want 100", got)
	}
}

func TestIssueEndpointRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"bad address", `{"account":"bob","amount":"100"}`},
		{"negative amount", `{"account":"` + alice + `","amount":"-5"}`},
		{"too precise", `{"account":"` + alice + `","amount":"1.1234567"}`},
		{"non-numeric", `{"account":"` + alice + `","amount":"abc"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := ts.do(t, "POST", "/v1/issue", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestBurnEndpointStakeTimeConflict(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, "POST", "/v1/issue", `{"account":"`+alice+`","amount":"100"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("issue status = %d", rec.Code)
	}

	// Burn immediately: minimum stake time has not elapsed.
	rec, _ = ts.do(t, "POST", "/v1/burn", `{"account":"`+alice+`","amount":"50"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("burn status = %d, want 409", rec.Code)
	}
}

// ============================================================
// Exchange endpoints
// ============================================================

func TestExchangeEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, "POST", "/v1/issue", `{"account":"`+alice+`","amount":"200"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("issue status = %d", rec.Code)
	}

	// Single observed round per asset, so only base fees apply:
	// rUSD 0 + rEUR 0.001. 100 rUSD at 2.0 is 50 rEUR gross, 0.05 fee.
	rec, fields := ts.do(t, "POST", "/v1/exchange",
		`{"account":"`+alice+`","src_asset":"rUSD","amount":"100","dest_asset":"rEUR"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := str(t, fields, "dest_amount_received"); got != "49.95" {
		t.Fatalf("dest_amount_received = %s, want 49.95", got)
	}
	if got := str(t, fields, "fee_rate"); got != "0.001" {
		t.Fatalf("fee_rate = %s, want 0.001", got)
	}

	// The trade is pending reconciliation.
	rec, _ = ts.do(t, "GET", "/v1/accounts/"+alice+"/queue/rEUR", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("queue status = %d", rec.Code)
	}
	var entries []queueEntryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal queue: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("queue entries = %d, want 1", len(entries))
	}
	if entries[0].SrcAmount != "100" || entries[0].DestAmountAtTrade != "49.95" {
		t.Fatalf("entry = %+v", entries[0])
	}
}

func TestAtomicExchangeRejectsVolatileAsset(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, "POST", "/v1/issue", `{"account":"`+alice+`","amount":"200"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("issue status = %d", rec.Code)
	}

	rec, fields := ts.do(t, "POST", "/v1/exchange/atomic",
		`{"account":"`+alice+`","src_asset":"rUSD","amount":"100","dest_asset":"rBTC"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if !strings.Contains(str(t, fields, "error"), "volatile") {
		t.Fatalf("error = %s", str(t, fields, "error"))
	}
}

func TestSettleEndpointNoEntries(t *testing.T) {
	ts := newTestServer(t)

	rec, fields := ts.do(t, "POST", "/v1/settle",
		`{"account":"`+alice+`","asset":"rEUR"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var drained int
	if err := json.Unmarshal(fields["entries_drained"], &drained); err != nil || drained != 0 {
		t.Fatalf("entries_drained = %s", fields["entries_drained"])
	}
}

// ============================================================
// Query endpoints
// ============================================================

func TestDebtAndCollateralisationEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, "POST", "/v1/issue", `{"account":"`+alice+`","amount":"200"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("issue status = %d", rec.Code)
	}

	// Collateral 2000, issuance ratio 0.2: target 400, debt 200.
	rec, fields := ts.do(t, "GET", "/v1/accounts/"+alice+"/debt", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := str(t, fields, "debt_balance"); got != "200" {
		t.Fatalf("debt_balance = %s, want 200", got)
	}
	if got := str(t, fields, "max_issuable"); got != "200" {
		t.Fatalf("max_issuable = %s, want 200", got)
	}

	rec, fields = ts.do(t, "GET", "/v1/accounts/"+alice+"/collateralisation", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := str(t, fields, "ratio"); got != "0.1" {
		t.Fatalf("ratio = %s, want 0.1", got)
	}
}

func TestFeeRateEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec, fields := ts.do(t, "GET", "/v1/fees/rUSD/rEUR", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := str(t, fields, "fee_rate"); got != "0.001" {
		t.Fatalf("fee_rate = %s, want 0.001", got)
	}

	rec, _ = ts.do(t, "GET", "/v1/fees/rUSD/rXAU", "")
	if rec.Code != http.StatusOK {
		// Unknown assets have a zero-fee config; only staleness errors here.
		t.Fatalf("status = %d", rec.Code)
	}
}

// ============================================================
// Admin endpoints
// ============================================================

func TestUpdateFeeConfigEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, "PUT", "/v1/admin/fees/rEUR", `{
		"base_fee_rate": "0.002",
		"dynamic_fee_rounds": 4,
		"dynamic_fee_threshold": "0.004",
		"dynamic_fee_max_rate": "0.05",
		"dynamic_fee_weight_decay": "0.9"
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec, fields := ts.do(t, "GET", "/v1/fees/rUSD/rEUR", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := str(t, fields, "fee_rate"); got != "0.002" {
		t.Fatalf("fee_rate = %s, want 0.002", got)
	}
}

func TestUpdateSettingsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, "PUT", "/v1/admin/settings", `{
		"minimum_stake_time_sec": 60,
		"issuance_ratio": "0.25",
		"waiting_period_sec": 120,
		"max_queue_entries": 6,
		"rate_stale_period_sec": 1800,
		"atomic_max_volume_per_block": "100000",
		"block_interval_ms": 1000,
		"price_deviation_factor": "3"
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Zero waiting period is rejected by settings validation.
	rec, _ = ts.do(t, "PUT", "/v1/admin/settings", `{
		"minimum_stake_time_sec": 60,
		"issuance_ratio": "0.25",
		"waiting_period_sec": 0,
		"max_queue_entries": 6,
		"rate_stale_period_sec": 1800,
		"atomic_max_volume_per_block": "100000",
		"block_interval_ms": 1000,
		"price_deviation_factor": "3"
	}`)
	if rec.Code != http.StatusBadRequest && rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want rejection", rec.Code)
	}
}

func TestMigrateDebtEndpointAuth(t *testing.T) {
	ts := newTestServer(t)

	// No header.
	rec, _ := ts.do(t, "POST", "/v1/admin/migrate-debt",
		`{"account":"`+alice+`","delta_shares":"10"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	// Unauthorized migrator.
	req := httptest.NewRequest("POST", "/v1/admin/migrate-debt",
		strings.NewReader(`{"account":"`+alice+`","delta_shares":"10"}`))
	req.Header.Set("X-Migrator-Address", alice)
	rec2 := httptest.NewRecorder()
	ts.router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec2.Code)
	}

	// Authorized migrator.
	req = httptest.NewRequest("POST", "/v1/admin/migrate-debt",
		strings.NewReader(`{"account":"`+alice+`","delta_shares":"10"}`))
	req.Header.Set("X-Migrator-Address", migrator)
	rec3 := httptest.NewRecorder()
	ts.router.ServeHTTP(rec3, req)
	if rec3.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec3.Code, rec3.Body.String())
	}
}

// ============================================================
// Health
// ============================================================

func TestSetCollateralEndpoint(t *testing.T) {
	ts := newTestServer(t)

	const bob = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	rec, _ := ts.do(t, "PUT", "/v1/admin/collateral/"+bob, `{"value":"500"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// With 500 collateral and a 0.2 issuance ratio, bob can issue 100.
	rec, fields := ts.do(t, "GET", "/v1/accounts/"+bob+"/debt", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := str(t, fields, "max_issuable"); got != "100" {
		t.Fatalf("max_issuable = %s, want 100", got)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	rec, _ = ts.do(t, "GET", "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}
}
