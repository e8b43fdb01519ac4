package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"

	"github.com/WangXiZhu/daily-stock-analysis/internal/config"
	apperrors "github.com/WangXiZhu/daily-stock-analysis/internal/errors"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

// mockChannel implements Channel for testing.
type mockChannel struct {
	name    string
	enabled bool
	err     error

	mu   sync.Mutex
	sent []string
}

func (m *mockChannel) Name() string    { return m.name }
func (m *mockChannel) IsEnabled() bool { return m.enabled }

func (m *mockChannel) Send(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return m.err
}

func fptr(f float64) *float64 { return &f }

var fixedNow = time.Date(2026, 2, 6, 18, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, ids []string, channels ...Channel) *Service {
	t.Helper()
	s := NewService(ids, channels, t.TempDir(), time.Second, zerolog.Nop())
	s.now = func() time.Time { return fixedNow }
	return s
}

func sampleVerdicts() []*models.Verdict {
	return []*models.Verdict{
		{Symbol: "MSFT", Name: "Microsoft", SentimentScore: 40, Advice: "Sell", Price: fptr(401.5), ChangePct: fptr(-0.5), Summary: "Momentum fading."},
		{Symbol: "AAPL", Name: "Apple", SentimentScore: 72, Advice: "Buy", Price: fptr(190), ChangePct: fptr(1.234), Summary: "Uptrend intact.", Risks: []string{"valuation"}},
		{Symbol: "NVDA", Name: "NVIDIA", SentimentScore: 55, Advice: "Hold"},
	}
}

func TestAvailableChannels(t *testing.T) {
	tg := &mockChannel{name: ChannelTelegram}
	wh := &mockChannel{name: ChannelWebhook, enabled: true}
	s := newTestService(t, []string{ChannelTelegram, "pager", ChannelWebhook}, tg, wh)

	got := s.AvailableChannels()
	if strings.Join(got, ",") != "pager,webhook" {
		t.Errorf("expected [pager webhook], got %v", got)
	}
	if !s.IsAvailable() {
		t.Error("expected service with an enabled channel to be available")
	}

	none := newTestService(t, []string{ChannelTelegram}, tg)
	if none.IsAvailable() {
		t.Error("expected service without enabled channels to be unavailable")
	}
}

func TestSendIsolatesChannelFailures(t *testing.T) {
	broken := &mockChannel{name: ChannelDiscord, enabled: true, err: errors.New("rate limited")}
	ok := &mockChannel{name: ChannelWebhook, enabled: true}
	s := newTestService(t, []string{ChannelDiscord, "pager", ChannelWebhook}, broken, ok)

	envs := s.Send(context.Background(), "report")
	if len(envs) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(envs))
	}
	if !Delivered(envs) {
		t.Error("expected delivery through the webhook")
	}
	if envs[0].Success || !errors.Is(envs[0].Err, apperrors.ErrDispatch) {
		t.Errorf("expected dispatch failure for discord, got %+v", envs[0])
	}
	if !errors.Is(envs[1].Err, ErrUnknownChannel) {
		t.Errorf("expected unknown channel error, got %v", envs[1].Err)
	}
	if !envs[2].Success || len(ok.sent) != 1 || ok.sent[0] != "report" {
		t.Errorf("expected webhook to receive the report, got %+v", envs[2])
	}
}

func TestDeliveredAllFailed(t *testing.T) {
	if Delivered([]Envelope{{Channel: "a"}, {Channel: "b"}}) {
		t.Error("expected no delivery")
	}
	if Delivered(nil) {
		t.Error("expected no delivery for empty fan-out")
	}
}

func TestGenerateDashboardReport(t *testing.T) {
	s := newTestService(t, nil)
	report := s.GenerateDashboardReport(sampleVerdicts())

	for _, want := range []string{
		"# Stock Dashboard 2026-02-06",
		"Analyzed 3 | 🟢 Buy 1 | 🟡 Hold 1 | 🔴 Sell 1",
		"| 🟢 Apple (AAPL) | 72 | Buy | 190.00 | +1.23% |",
		"| 🔴 Microsoft (MSFT) | 40 | Sell | 401.50 | -0.50% |",
		"| 🟡 NVIDIA (NVDA) | 55 | Hold | N/A | N/A |",
		"- valuation",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("dashboard missing %q:\n%s", want, report)
		}
	}

	apple := strings.Index(report, "Apple (AAPL)")
	nvidia := strings.Index(report, "NVIDIA (NVDA)")
	msft := strings.Index(report, "Microsoft (MSFT)")
	if !(apple < nvidia && nvidia < msft) {
		t.Error("expected stocks ordered by score")
	}
}

func TestGenerateDashboardReportEmpty(t *testing.T) {
	report := newTestService(t, nil).GenerateDashboardReport(nil)
	if !strings.Contains(report, "No stocks were analyzed.") {
		t.Errorf("unexpected empty dashboard:\n%s", report)
	}
}

func TestGenerateSingleStockReport(t *testing.T) {
	s := newTestService(t, nil)
	report := s.GenerateSingleStockReport(sampleVerdicts()[1])
	if !strings.HasPrefix(report, "## 🟢 Apple (AAPL)") {
		t.Errorf("unexpected heading:\n%s", report)
	}
	if !strings.Contains(report, "**Buy** | Score 72 | Price 190.00 (+1.23%)") {
		t.Errorf("unexpected summary line:\n%s", report)
	}
	if s.GenerateSingleStockReport(nil) != "" {
		t.Error("expected empty report for nil verdict")
	}
}

func TestGenerateChannelSpecificReport(t *testing.T) {
	s := newTestService(t, nil)
	long := sampleVerdicts()
	long[1].Summary = strings.Repeat("strong demand ", 40)

	compact := s.GenerateChannelSpecificReport(ChannelWeChat, long)
	full := s.GenerateChannelSpecificReport(ChannelTelegram, long)
	if len(compact) >= len(full) {
		t.Errorf("expected compact report shorter than full (%d vs %d)", len(compact), len(full))
	}
	if !strings.Contains(compact, "**Apple (AAPL)** Buy, score 72") {
		t.Errorf("unexpected compact report:\n%s", compact)
	}
	if full != s.GenerateDashboardReport(long) {
		t.Error("expected non-wechat channels to get the full dashboard")
	}
}

func TestSaveReportToFile(t *testing.T) {
	s := newTestService(t, nil)
	path, err := s.SaveReportToFile("# report")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(path) != "report_20260206.md" {
		t.Errorf("unexpected file name %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "# report" {
		t.Errorf("unexpected file content %q (%v)", data, err)
	}

	if _, err := s.SaveReportToFile("# second"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "# second" {
		t.Errorf("expected same-day report to be replaced, got %q", data)
	}
}

func TestSendToContext(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestService(t, nil)
	if s.SendToContext(context.Background(), nil, "x") {
		t.Error("expected no reply without requester")
	}
	if s.SendToContext(context.Background(), &models.Requester{QueryID: "q1"}, "x") {
		t.Error("expected no reply without reply URL")
	}

	r := &models.Requester{QueryID: "q1", ChatID: "c9", ReplyURL: srv.URL}
	if !s.SendToContext(context.Background(), r, "dashboard") {
		t.Fatal("expected reply to succeed")
	}
	if got["query_id"] != "q1" || got["chat_id"] != "c9" || got["content"] != "dashboard" {
		t.Errorf("unexpected payload %v", got)
	}
}

func TestSendToContextServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newTestService(t, nil)
	if s.SendToContext(context.Background(), &models.Requester{ReplyURL: srv.URL}, "x") {
		t.Error("expected failed reply")
	}
}

func TestTruncateBytesKeepsRunes(t *testing.T) {
	s := strings.Repeat("涨", 100) // 3 bytes each
	got := truncateBytes(s, 50)
	if len(got) > 50 {
		t.Errorf("expected at most 50 bytes, got %d", len(got))
	}
	if !utf8.ValidString(got) {
		t.Error("expected valid UTF-8")
	}
	if !strings.HasSuffix(got, truncatedSuffix) {
		t.Error("expected truncation marker")
	}
	if truncateBytes("short", 50) != "short" {
		t.Error("expected short strings untouched")
	}
}

func TestTruncateBytesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("output fits and stays valid UTF-8", prop.ForAll(
		func(s string, max int) bool {
			got := truncateBytes(s, max)
			return len(got) <= max && utf8.ValidString(got)
		},
		gen.UnicodeString(unicode.Han),
		gen.IntRange(1, 64),
	))
	properties.TestingRun(t)
}

func TestWeChatChannel(t *testing.T) {
	var content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MsgType  string `json:"msgtype"`
			Markdown struct {
				Content string `json:"content"`
			} `json:"markdown"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		content = body.Markdown.Content
		if body.MsgType != "markdown" {
			w.Write([]byte(`{"errcode":40008,"errmsg":"invalid message type"}`))
			return
		}
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	ch := &WeChatChannel{url: srv.URL, maxBytes: 200, client: srv.Client()}
	if err := ch.Send(context.Background(), strings.Repeat("a", 500)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(content) > 200 {
		t.Errorf("expected content capped at 200 bytes, got %d", len(content))
	}
}

func TestWeChatChannelErrCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errcode":93000,"errmsg":"invalid webhook url"}`))
	}))
	defer srv.Close()

	ch := &WeChatChannel{url: srv.URL, maxBytes: 4000, client: srv.Client()}
	if err := ch.Send(context.Background(), "hi"); err == nil || !strings.Contains(err.Error(), "93000") {
		t.Errorf("expected errcode failure, got %v", err)
	}
}

func TestTelegramChannel(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ch := &TelegramChannel{botToken: "tok", chatID: "42", baseURL: srv.URL, client: srv.Client()}
	if !ch.IsEnabled() {
		t.Fatal("expected channel enabled")
	}
	if err := ch.Send(context.Background(), "P/E < 20 & rising"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/bottok/sendMessage" {
		t.Errorf("unexpected path %s", path)
	}
	if body["chat_id"] != "42" || body["text"] != "P/E &lt; 20 &amp; rising" {
		t.Errorf("unexpected payload %v", body)
	}
}

func TestDiscordChannelTruncates(t *testing.T) {
	var content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		content = body["content"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := &DiscordChannel{url: srv.URL, client: srv.Client()}
	if err := ch.Send(context.Background(), strings.Repeat("x", 5000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if utf8.RuneCountInString(content) != discordMaxRunes {
		t.Errorf("expected %d runes, got %d", discordMaxRunes, utf8.RuneCountInString(content))
	}
}

func TestEmailChannelRendersHTML(t *testing.T) {
	var gotTo []string
	var gotMsg string
	ch := &EmailChannel{
		smtpHost: "smtp.example.com",
		smtpPort: 587,
		from:     "bot@example.com",
		to:       "a@example.com, b@example.com",
		md:       goldmark.New(),
		sendMail: func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			if addr != "smtp.example.com:587" {
				t.Errorf("unexpected addr %s", addr)
			}
			gotTo = to
			gotMsg = string(msg)
			return nil
		},
	}

	if err := ch.Send(context.Background(), "# Stock Dashboard 2026-02-06\n\n**Buy** AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gotTo) != 2 {
		t.Errorf("expected 2 recipients, got %v", gotTo)
	}
	for _, want := range []string{
		"Subject: Stock Dashboard 2026-02-06",
		"Content-Type: text/html",
		"<h1>Stock Dashboard 2026-02-06</h1>",
		"<strong>Buy</strong>",
	} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestNewDisabledWithoutCredentials(t *testing.T) {
	t.Setenv("TEST_NOTIFY_BOT_TOKEN", "")
	cfg := config.Notification{
		Channels: []string{ChannelTelegram, ChannelWebhook, ChannelEmail, ChannelWeChat, ChannelDiscord},
		Telegram: config.TelegramConfig{BotTokenEnv: "TEST_NOTIFY_BOT_TOKEN", ChatID: "42"},
		Email:    config.EmailConfig{SMTPPort: 587, From: "bot@example.com"},
		WeChat:   config.WeChatConfig{MaxBytes: 4000},
	}
	s := New(cfg, t.TempDir(), zerolog.Nop())
	if s.IsAvailable() {
		t.Error("expected no channel enabled without credentials")
	}
	if len(s.AvailableChannels()) != 0 {
		t.Errorf("expected no available channels, got %v", s.AvailableChannels())
	}
}
