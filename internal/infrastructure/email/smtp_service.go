package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"owlfenc-backend/pkg/logger"
)

// EmailService sends one message and returns the Message-ID it was sent with.
type EmailService interface {
	SendEmail(ctx context.Context, req EmailRequest) (messageID string, err error)
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type smtpEmailService struct {
	addr string
	from string
	auth smtp.Auth
	host string
}

func NewSMTPEmailService(cfg SMTPConfig) EmailService {
	s := &smtpEmailService{
		addr: cfg.Host + ":" + cfg.Port,
		from: cfg.From,
		host: cfg.Host,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s
}

func (s *smtpEmailService) SendEmail(ctx context.Context, req EmailRequest) (string, error) {
	if len(req.To) == 0 {
		return "", errors.New("email has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)
	msg := buildMessage(s.from, messageID, req)

	recipients := append(append([]string{}, req.To...), req.Cc...)
	if err := smtp.SendMail(s.addr, s.auth, s.from, recipients, msg); err != nil {
		logger.Info("Failed to send email", map[string]interface{}{
			"error":     err.Error(),
			"to":        strings.Join(req.To, ","),
			"smtp_addr": s.addr,
		})
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return messageID, nil
}

func buildMessage(from, messageID string, req EmailRequest) []byte {
	contentType := "text/plain; charset=UTF-8"
	if req.IsHTML {
		contentType = "text/html; charset=UTF-8"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(req.To, ", "))
	if len(req.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(req.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", req.Subject)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s\r\n\r\n", contentType)
	b.WriteString(req.Body)
	return []byte(b.String())
}

// ================================================
// MOCK EMAIL SERVICE (for development)
// ================================================

type MockEmailService struct{}

func NewMockEmailService() *MockEmailService {
	return &MockEmailService{}
}

func (s *MockEmailService) SendEmail(ctx context.Context, req EmailRequest) (string, error) {
	log.Info().
		Strs("to", req.To).
		Str("subject", req.Subject).
		Msg("[MOCK] Email sent successfully")

	return fmt.Sprintf("mock-email-%s", uuid.NewString()), nil
}
