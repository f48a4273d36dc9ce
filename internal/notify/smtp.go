package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPConfig configures an SMTPNotifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// SMTPNotifier emails the studio about each new review.
type SMTPNotifier struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send SendFunc
}

// NewSMTPNotifier returns a notifier that relays through cfg.Host. PLAIN auth
// is used when a username is configured.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	n := &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
	if cfg.Username != "" {
		n.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return n
}

// Name implements Notifier.
func (n *SMTPNotifier) Name() string { return "smtp" }

// Notify implements Notifier. smtp.SendMail has no context support, so the
// send runs on its own goroutine and Notify returns when ctx is done.
func (n *SMTPNotifier) Notify(ctx context.Context, ev Event) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	msg := n.message(ev)

	done := make(chan error, 1)
	go func() {
		done <- n.send(addr, n.auth, n.cfg.From, n.cfg.To, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

func (n *SMTPNotifier) message(ev Event) []byte {
	status := "pending approval"
	if ev.Approved {
		status = "published"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: New %d-star review from %s\r\n", ev.Rating, headerSafe(ev.Name))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Author: %s\r\n", ev.Name)
	fmt.Fprintf(&b, "Rating: %d/5\r\n", ev.Rating)
	fmt.Fprintf(&b, "Status: %s\r\n", status)
	fmt.Fprintf(&b, "Review ID: %s\r\n", ev.ReviewID)
	if ev.Comment != "" {
		b.WriteString("\r\n")
		b.WriteString(strings.ReplaceAll(ev.Comment, "\n", "\r\n"))
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

// headerSafe strips CR/LF so user input cannot inject headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
