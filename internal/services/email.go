package services

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/teamflowhq/teamflow/internal/config"
	"github.com/teamflowhq/teamflow/pkg/logger"
)

// EmailService sends transactional mail over SMTP. Disabled by default;
// a disabled service silently drops messages.
type EmailService struct {
	cfg *config.EmailConfig
}

func NewEmailService(cfg *config.EmailConfig) *EmailService {
	return &EmailService{cfg: cfg}
}

// SendKickoutNotice tells a user they were removed from a team.
func (s *EmailService) SendKickoutNotice(to, userName, teamName string) error {
	subject := fmt.Sprintf("You have been removed from %s", teamName)
	name := userName
	if name == "" {
		name = "there"
	}
	body := fmt.Sprintf(
		"Hi %s,\n\nYou are no longer a member of the team %s. Your projects have been handed over to the team lead.\n\nIf you think this was a mistake, contact your team lead.\n",
		name, teamName,
	)
	return s.send([]string{to}, subject, body)
}

func (s *EmailService) send(recipients []string, subject, body string) error {
	if s.cfg == nil || !s.cfg.Enabled || s.cfg.Host == "" {
		logger.Debug().Strs("to", recipients).Str("subject", subject).Msg("email disabled, dropping message")
		return nil
	}

	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + strings.Join(recipients, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)

	if s.cfg.UseTLS {
		return s.sendTLS(addr, auth, recipients, []byte(msg))
	}
	return smtp.SendMail(addr, auth, s.cfg.From, recipients, []byte(msg))
}

// sendTLS dials with an implicit TLS connection (e.g. port 465).
func (s *EmailService) sendTLS(addr string, auth smtp.Auth, recipients []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.cfg.Host})
	if err != nil {
		return err
	}
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return err
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return err
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
