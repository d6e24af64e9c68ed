package alerts

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPSender sends alerts via email
type SMTPSender struct {
	host     string
	port     int
	user     string
	password string
	from     string
	to       []string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(host string, port int, user, password, from string, to []string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		to:       to,
		sendMail: smtp.SendMail,
	}
}

// Send sends the alert via email
func (s *SMTPSender) Send(ctx context.Context, payload *AlertPayload) error {
	if len(s.to) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	subject := fmt.Sprintf("[%s] Tilt risk %.2f for %s", strings.ToUpper(string(payload.Level)), payload.OverallScore, payload.Subject)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(s.to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(s.buildEmailBody(payload))

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.password, s.host)
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	if err := s.sendMail(addr, auth, s.from, s.to, []byte(msg.String())); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}

func (s *SMTPSender) buildEmailBody(payload *AlertPayload) string {
	var b strings.Builder
	rule := "─────────────────────────────────────\n"

	fmt.Fprintf(&b, "TILTGUARD ALERT - %s\n", strings.ToUpper(string(payload.Level)))
	b.WriteString("═══════════════════════════════════════\n\n")

	b.WriteString("SESSION\n")
	b.WriteString(rule)
	fmt.Fprintf(&b, "Subject:        %s\n", payload.Subject)
	fmt.Fprintf(&b, "Session:        %s\n", payload.SessionID)
	fmt.Fprintf(&b, "Score:          %.2f (%s)\n", payload.OverallScore, payload.Level)
	if payload.PreviousLevel != "" {
		fmt.Fprintf(&b, "Previous level: %s\n", payload.PreviousLevel)
	}
	fmt.Fprintf(&b, "Bets:           %d over %.1f minutes\n", payload.Stats.TotalBets, payload.Stats.SessionDurationMinutes)
	fmt.Fprintf(&b, "Wagered:        %.2f\n", payload.Stats.TotalWagered)
	fmt.Fprintf(&b, "Net PnL:        %.2f\n\n", payload.Stats.NetPnL)

	if len(payload.Factors) > 0 {
		b.WriteString("RISK FACTORS\n")
		b.WriteString(rule)
		for _, f := range payload.Factors {
			fmt.Fprintf(&b, "%-14s  %.2f  %s\n", f.Name, f.Severity, f.Message)
		}
		b.WriteString("\n")
	}

	if len(payload.Recommendations) > 0 {
		b.WriteString("RECOMMENDATIONS\n")
		b.WriteString(rule)
		for _, r := range payload.Recommendations {
			fmt.Fprintf(&b, "[%s] %s\n", r.Priority, r.Message)
		}
		b.WriteString("\n")
	}

	b.WriteString("═══════════════════════════════════════\n")
	fmt.Fprintf(&b, "Environment: %s\n", payload.Environment)
	fmt.Fprintf(&b, "Generated: %s\n", payload.Timestamp.UTC().Format(time.RFC3339))

	return b.String()
}
