package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spread-sync/internal/merge"
	"spread-sync/internal/record"
)

func sampleNote() Notification {
	return Notification{
		RunID:        uuid.New(),
		Instrument:   "debm1-frbm1",
		From:         time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		To:           time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		Status:       "partial",
		Issues:       []string{"synthetic source unavailable: timeout"},
		DropPct:      decimal.NewFromFloat(25),
		ThresholdPct: decimal.NewFromFloat(20),
		Dropped:      map[string]int{"outlier_zscore": 2, "bid_ask_violation": 5},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "debm1-frbm1") || !strings.Contains(text, "25.00% (threshold 20.00%)") {
		t.Fatalf("text 内容不完整: %q", text)
	}
	if strings.Index(text, "bid_ask_violation") > strings.Index(text, "outlier_zscore") {
		t.Fatalf("原因应排序: %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("非 2xx 应报错")
	}
}

func TestAssess(t *testing.T) {
	ds := merge.MergedDataset{
		Records: make([]record.Record, 30),
		Provenance: merge.Provenance{
			Sources: map[record.Source]merge.SourceReport{
				record.SourceReal:      {Status: merge.StatusOK, Trades: 10, Quotes: 20},
				record.SourceSynthetic: {Status: merge.StatusUnavailable, Err: "timeout"},
			},
			Dropped: map[record.Reason]int{record.ReasonBidAskViolation: 10},
		},
	}

	a := Assess(ds, 20)
	if !a.Alert() || len(a.Issues) != 2 {
		t.Fatalf("应有两条问题, 实际 %v", a.Issues)
	}
	if !a.DropPct.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("drop pct 应为 25, 实际 %s", a.DropPct)
	}

	a = Assess(ds, 30)
	if len(a.Issues) != 1 {
		t.Fatalf("阈值 30 时只应有 source 问题, 实际 %v", a.Issues)
	}
}

func TestAssessIgnoresDisabledSource(t *testing.T) {
	ds := merge.MergedDataset{
		Records: make([]record.Record, 5),
		Provenance: merge.Provenance{
			Sources: map[record.Source]merge.SourceReport{
				record.SourceReal:      {Status: merge.StatusOK, Trades: 5},
				record.SourceSynthetic: {Status: merge.StatusDisabled},
			},
		},
	}
	if a := Assess(ds, 20); a.Alert() {
		t.Fatalf("不应告警: %v", a.Issues)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
