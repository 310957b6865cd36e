package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// MailerConfig はSMTP送信の設定。
type MailerConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string // 固定の通報先リスト
}

// Mailer はSMTP経由でパニックアラートを送信する。
// 送信失敗は呼び出し元にエラーとして返す。アラートが黙って失われることを
// 成功として広告してはならないため、このパスだけはソフトフェイルしない。
type Mailer struct {
	config MailerConfig
	logger *slog.Logger
	loc    *time.Location
}

// NewMailer はMailerを生成する。
// タイムゾーンデータベースにAmerica/Chicagoが存在しない環境ではエラーを返す。
func NewMailer(config MailerConfig, logger *slog.Logger) (*Mailer, error) {
	loc, err := time.LoadLocation(alertTimeZone)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert time zone: %w", err)
	}
	return &Mailer{
		config: config,
		logger: logger,
		loc:    loc,
	}, nil
}

// SendPanicAlert はアラートメールを組み立てて固定宛先リストに送信する。
func (m *Mailer) SendPanicAlert(ctx context.Context, a PanicAlert) error {
	subject, body := BuildMessage(a, m.loc)

	msg := mail.NewMsg()
	if err := msg.From(m.config.From); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(m.config.Recipients...); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(m.config.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.config.Username),
			mail.WithPassword(m.config.Password),
		)
	}

	client, err := mail.NewClient(m.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		m.logger.Error("panic alert delivery failed",
			slog.String("user", a.Username),
			slog.Int("recipients", len(m.config.Recipients)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to send panic alert: %w", err)
	}

	m.logger.Info("panic alert sent",
		slog.String("user", a.Username),
		slog.Int("recipients", len(m.config.Recipients)),
	)
	return nil
}
