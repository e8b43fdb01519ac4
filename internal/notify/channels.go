package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/WangXiZhu/daily-stock-analysis/internal/config"
)

// Channel ids accepted in notification.channels.
const (
	ChannelTelegram = "telegram"
	ChannelWebhook  = "webhook"
	ChannelEmail    = "email"
	ChannelWeChat   = "wechat"
	ChannelDiscord  = "discord"
)

const (
	telegramMaxRunes = 4096
	discordMaxRunes  = 2000
	truncatedSuffix  = "\n\n...(truncated)"
)

// Channel is one delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
	IsEnabled() bool
}

// postJSON sends payload and fails on any non-2xx status.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "StockAnalyzer/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// truncateBytes cuts s to at most max bytes on a rune boundary, marking the
// cut with a suffix.
func truncateBytes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max - len(truncatedSuffix)
	if cut <= 0 {
		cut = max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut]
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedSuffix
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	suffix := []rune(truncatedSuffix)
	return string(r[:max-len(suffix)]) + truncatedSuffix
}

// TelegramChannel posts to a chat through the Bot API.
type TelegramChannel struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegramChannel reads the bot token from the configured env var.
func NewTelegramChannel(cfg config.TelegramConfig, client *http.Client) *TelegramChannel {
	return &TelegramChannel{
		botToken: os.Getenv(cfg.BotTokenEnv),
		chatID:   cfg.ChatID,
		baseURL:  "https://api.telegram.org",
		client:   client,
	}
}

func (t *TelegramChannel) Name() string { return ChannelTelegram }

func (t *TelegramChannel) IsEnabled() bool {
	return t.botToken != "" && t.chatID != ""
}

func (t *TelegramChannel) Send(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	payload := map[string]any{
		"chat_id":    t.chatID,
		"text":       escapeHTML(truncateRunes(text, telegramMaxRunes)),
		"parse_mode": "HTML",
	}
	if _, err := postJSON(ctx, t.client, url, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// WebhookChannel posts a generic JSON document to a custom endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewWebhookChannel(cfg config.WebhookConfig, client *http.Client) *WebhookChannel {
	return &WebhookChannel{url: cfg.URL, client: client, now: time.Now}
}

func (w *WebhookChannel) Name() string    { return ChannelWebhook }
func (w *WebhookChannel) IsEnabled() bool { return w.url != "" }

func (w *WebhookChannel) Send(ctx context.Context, text string) error {
	payload := map[string]any{
		"title":     reportTitle(text),
		"content":   text,
		"timestamp": w.now().Format(time.RFC3339),
	}
	if _, err := postJSON(ctx, w.client, w.url, payload); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// WeChatChannel posts markdown to a WeCom group bot. Messages are capped at
// maxBytes.
type WeChatChannel struct {
	url      string
	maxBytes int
	client   *http.Client
}

func NewWeChatChannel(cfg config.WeChatConfig, client *http.Client) *WeChatChannel {
	return &WeChatChannel{url: cfg.WebhookURL, maxBytes: cfg.MaxBytes, client: client}
}

func (w *WeChatChannel) Name() string    { return ChannelWeChat }
func (w *WeChatChannel) IsEnabled() bool { return w.url != "" }

// MaxBytes is the largest message the bot accepts.
func (w *WeChatChannel) MaxBytes() int { return w.maxBytes }

func (w *WeChatChannel) Send(ctx context.Context, text string) error {
	payload := map[string]any{
		"msgtype":  "markdown",
		"markdown": map[string]string{"content": truncateBytes(text, w.maxBytes)},
	}
	data, err := postJSON(ctx, w.client, w.url, payload)
	if err != nil {
		return fmt.Errorf("wechat: %w", err)
	}

	var reply struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(data, &reply); err == nil && reply.ErrCode != 0 {
		return fmt.Errorf("wechat: errcode %d: %s", reply.ErrCode, reply.ErrMsg)
	}
	return nil
}

// DiscordChannel posts to a Discord incoming webhook.
type DiscordChannel struct {
	url    string
	client *http.Client
}

func NewDiscordChannel(cfg config.WebhookConfig, client *http.Client) *DiscordChannel {
	return &DiscordChannel{url: cfg.URL, client: client}
}

func (d *DiscordChannel) Name() string    { return ChannelDiscord }
func (d *DiscordChannel) IsEnabled() bool { return d.url != "" }

func (d *DiscordChannel) Send(ctx context.Context, text string) error {
	payload := map[string]string{"content": truncateRunes(text, discordMaxRunes)}
	if _, err := postJSON(ctx, d.client, d.url, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// EmailChannel sends the report as an HTML mail over SMTP.
type EmailChannel struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	to       string
	md       goldmark.Markdown
	// sendMail is smtp.SendMail unless replaced in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	return &EmailChannel{
		smtpHost: cfg.SMTPHost,
		smtpPort: cfg.SMTPPort,
		username: cfg.Username,
		password: os.Getenv(cfg.PasswordEnv),
		from:     cfg.From,
		to:       cfg.To,
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM)),
		sendMail: smtp.SendMail,
	}
}

func (e *EmailChannel) Name() string { return ChannelEmail }

func (e *EmailChannel) IsEnabled() bool {
	return e.smtpHost != "" && e.from != "" && e.to != ""
}

func (e *EmailChannel) Send(_ context.Context, text string) error {
	msg, err := e.buildMessage(text)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", e.smtpHost, e.smtpPort)
	var auth smtp.Auth
	if e.username != "" && e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.smtpHost)
	}

	if e.smtpPort == 465 {
		return e.sendWithTLS(addr, auth, msg)
	}
	if err := e.sendMail(addr, auth, e.from, e.recipients(), msg); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}

func (e *EmailChannel) recipients() []string {
	var out []string
	for _, r := range strings.Split(e.to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func (e *EmailChannel) buildMessage(text string) ([]byte, error) {
	var html bytes.Buffer
	if err := e.md.Convert([]byte(text), &html); err != nil {
		return nil, fmt.Errorf("email: rendering markdown: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", e.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.recipients(), ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", reportTitle(text))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString("<html><body>\n")
	msg.Write(html.Bytes())
	msg.WriteString("</body></html>\r\n")
	return msg.Bytes(), nil
}

// sendWithTLS sends email using implicit TLS (port 465).
func (e *EmailChannel) sendWithTLS(addr string, auth smtp.Auth, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: e.smtpHost})
	if err != nil {
		return fmt.Errorf("email: TLS dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return fmt.Errorf("email: creating SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("email: SMTP auth failed: %w", err)
		}
	}
	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("email: SMTP MAIL failed: %w", err)
	}
	for _, r := range e.recipients() {
		if err := client.Rcpt(r); err != nil {
			return fmt.Errorf("email: SMTP RCPT failed: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("email: SMTP DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("email: writing body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email: closing body: %w", err)
	}
	return client.Quit()
}

// reportTitle is the first non-empty line of a markdown report without its
// heading markers.
func reportTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line != "" {
			return line
		}
	}
	return "Stock analysis report"
}
