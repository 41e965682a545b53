package smtp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"strconv"
	"time"

	"github.com/corray333/labshop/internal/service/services/mailersvc"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config configures the SMTP sender.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender sends emails through an SMTP relay.
type Sender struct {
	cfg Config
}

func NewSender(cfg Config) *Sender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	return &Sender{cfg: cfg}
}

// LogSender only logs the emails it would send.
type LogSender struct{}

func (LogSender) Send(_ context.Context, email mailersvc.Email) error {
	slog.Info("Email not sent, SMTP is not configured", "to", email.To, "subject", email.Subject)

	return nil
}

type sender interface {
	Send(ctx context.Context, email mailersvc.Email) error
}

// MustNewSender builds an SMTP sender from the mailer config section, or a LogSender when
// mailer.smtp_host is unset.
func MustNewSender() sender {
	host := viper.GetString("mailer.smtp_host")
	if host == "" {
		slog.Warn("SMTP host not configured, emails will only be logged")

		return LogSender{}
	}
	from := viper.GetString("mailer.from")
	if from == "" {
		panic("mailer.from is not set in config")
	}

	return NewSender(Config{
		Host:     host,
		Port:     viper.GetInt("mailer.smtp_port"),
		Username: viper.GetString("mailer.smtp_username"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     from,
	})
}

// Send delivers a multipart/alternative message. net/smtp takes no context, so ctx only
// bounds the wait.
func (s *Sender) Send(ctx context.Context, email mailersvc.Email) error {
	body, err := s.buildMessage(email)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.cfg.From, []string{email.To}, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email to %s: %w", email.To, err)
		}

		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to send email to %s: %w", email.To, ctx.Err())
	}
}

func (s *Sender) buildMessage(email mailersvc.Email) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := []struct{ key, value string }{
		{"From", s.cfg.From},
		{"To", email.To},
		{"Subject", mime.QEncoding.Encode("utf-8", email.Subject)},
		{"Date", time.Now().Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), s.cfg.Host)},
		{"MIME-Version", "1.0"},
		{"Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary())},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.key, h.value)
	}
	buf.WriteString("\r\n")

	parts := []struct{ contentType, body string }{
		{"text/plain; charset=utf-8", email.Text},
		{"text/html; charset=utf-8", email.HTML},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build email part: %w", err)
		}
		if _, err := w.Write([]byte(p.body)); err != nil {
			return nil, fmt.Errorf("failed to write email part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close email body: %w", err)
	}

	return buf.Bytes(), nil
}
