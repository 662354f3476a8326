// Package mailer 验证邮件 / OTP 邮件发送
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"ez-parking/internal/core/config"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender 未配置 smtp 时使用，只打日志（本地开发从日志里拿 OTP）
type LogSender struct{ L *zap.Logger }

func (s LogSender) Send(_ context.Context, to, subject, body string) error {
	s.L.Info("mail (not sent)", zap.String("to", to), zap.String("subject", subject), zap.String("body", body))
	return nil
}

type SMTPSender struct {
	Addr string
	From string
	Auth smtp.Auth
}

func (s SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := strings.Join([]string{
		"From: " + s.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")
	if err := smtp.SendMail(s.Addr, s.Auth, s.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func New(c config.Mail, l *zap.Logger) Sender {
	if c.Host == "" {
		return LogSender{L: l}
	}
	var a smtp.Auth
	if c.Username != "" {
		a = smtp.PlainAuth("", c.Username, c.Password, c.Host)
	}
	return SMTPSender{Addr: fmt.Sprintf("%s:%d", c.Host, c.Port), From: c.From, Auth: a}
}
