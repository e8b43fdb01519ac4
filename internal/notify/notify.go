// Package notify renders analysis reports and fans them out to notification
// channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/WangXiZhu/daily-stock-analysis/internal/config"
	apperrors "github.com/WangXiZhu/daily-stock-analysis/internal/errors"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

// ErrUnknownChannel is returned for channel ids no Channel implements.
var ErrUnknownChannel = errors.New("unknown notification channel")

// Envelope records one delivery attempt.
type Envelope struct {
	Channel string
	Content string
	Success bool
	Err     error
}

// Delivered reports whether any envelope succeeded.
func Delivered(envs []Envelope) bool {
	for _, e := range envs {
		if e.Success {
			return true
		}
	}
	return false
}

// Service owns the configured channels and the report directory.
type Service struct {
	ids         []string
	channels    map[string]Channel
	reportDir   string
	replyClient *http.Client
	logger      zerolog.Logger
	now         func() time.Time
}

// New builds every channel from config. Only ids listed in cfg.Channels are
// dispatched to.
func New(cfg config.Notification, reportDir string, logger zerolog.Logger) *Service {
	client := &http.Client{Timeout: 15 * time.Second}
	channels := []Channel{
		NewTelegramChannel(cfg.Telegram, client),
		NewWebhookChannel(cfg.Webhook, client),
		NewEmailChannel(cfg.Email),
		NewWeChatChannel(cfg.WeChat, client),
		NewDiscordChannel(cfg.Discord, client),
	}
	return NewService(cfg.Channels, channels, reportDir, cfg.ReplyTimeout, logger)
}

// NewService creates a service over explicit channels. ids is the configured
// dispatch order.
func NewService(ids []string, channels []Channel, reportDir string, replyTimeout time.Duration, logger zerolog.Logger) *Service {
	byName := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}
	if replyTimeout <= 0 {
		replyTimeout = 10 * time.Second
	}
	return &Service{
		ids:         ids,
		channels:    byName,
		reportDir:   reportDir,
		replyClient: &http.Client{Timeout: replyTimeout},
		logger:      logger.With().Str("component", "notify").Logger(),
		now:         time.Now,
	}
}

// AvailableChannels returns the configured ids in order, dropping known
// channels that lack credentials. Unknown ids are kept so dispatch can
// report them.
func (s *Service) AvailableChannels() []string {
	var out []string
	for _, id := range s.ids {
		ch, ok := s.channels[id]
		if ok && !ch.IsEnabled() {
			continue
		}
		out = append(out, id)
	}
	return out
}

// IsAvailable reports whether at least one configured channel can send.
func (s *Service) IsAvailable() bool {
	for _, id := range s.ids {
		if ch, ok := s.channels[id]; ok && ch.IsEnabled() {
			return true
		}
	}
	return false
}

// GenerateSingleStockReport renders the compact report for one verdict.
func (s *Service) GenerateSingleStockReport(v *models.Verdict) string {
	if v == nil {
		return ""
	}
	return renderSingle(v)
}

// GenerateDashboardReport renders the full dashboard, ordered by score.
func (s *Service) GenerateDashboardReport(verdicts []*models.Verdict) string {
	return renderDashboard(verdicts, s.now())
}

// GenerateChannelSpecificReport renders the variant a channel should receive:
// the compact dashboard for wechat, the full one otherwise.
func (s *Service) GenerateChannelSpecificReport(channel string, verdicts []*models.Verdict) string {
	if channel == ChannelWeChat {
		return renderCompact(verdicts, s.now())
	}
	return renderDashboard(verdicts, s.now())
}

// SendToChannel delivers content to one channel.
func (s *Service) SendToChannel(ctx context.Context, id, content string) Envelope {
	env := Envelope{Channel: id, Content: content}
	ch, ok := s.channels[id]
	switch {
	case !ok:
		env.Err = apperrors.NewDispatchError(id, ErrUnknownChannel)
	case !ch.IsEnabled():
		env.Err = apperrors.NewDispatchError(id, errors.New("channel not configured"))
	default:
		if err := ch.Send(ctx, content); err != nil {
			env.Err = apperrors.NewDispatchError(id, err)
		} else {
			env.Success = true
		}
	}

	logger := s.logger.With().Str("channel", id).Logger()
	if env.Err != nil {
		logger.Warn().Err(env.Err).Msg("Notification failed")
	} else {
		logger.Debug().Int("bytes", len(content)).Msg("Notification sent")
	}
	return env
}

// Send delivers content to every available channel. Failures are isolated
// per channel.
func (s *Service) Send(ctx context.Context, content string) []Envelope {
	ids := s.AvailableChannels()
	envs := make([]Envelope, 0, len(ids))
	for _, id := range ids {
		envs = append(envs, s.SendToChannel(ctx, id, content))
	}
	return envs
}

// SendToContext replies directly to the requester of an interactive run.
// It returns false when there is no one to reply to.
func (s *Service) SendToContext(ctx context.Context, r *models.Requester, content string) bool {
	if r == nil || r.ReplyURL == "" {
		return false
	}
	payload := map[string]string{
		"query_id":   r.QueryID,
		"platform":   r.Platform,
		"chat_id":    r.ChatID,
		"message_id": r.MessageID,
		"content":    content,
	}
	if _, err := postJSON(ctx, s.replyClient, r.ReplyURL, payload); err != nil {
		s.logger.Warn().Err(err).Str("query_id", r.QueryID).Msg("Context reply failed")
		return false
	}
	return true
}

// ReportPath is where SaveReportToFile writes the report for date.
func (s *Service) ReportPath(date time.Time) string {
	return filepath.Join(s.reportDir, fmt.Sprintf("report_%s.md", date.Format("20060102")))
}

// SaveReportToFile writes content to today's report file, replacing any
// earlier report from the same day.
func (s *Service) SaveReportToFile(content string) (string, error) {
	if err := os.MkdirAll(s.reportDir, 0o755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}
	path := s.ReportPath(s.now())
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	s.logger.Info().Str("path", path).Msg("Report saved")
	return path, nil
}
