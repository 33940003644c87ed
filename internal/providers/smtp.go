package providers

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

var validate = validator.New()

// SMTP sends HTML mail through a relay.
//
// config: host, port, from, from_name, reply_to, tls_mode (starttls, tls,
// none), insecure_skip_verify. credentials: username, password.
type SMTP struct {
	timeout time.Duration
	log     *zap.Logger
}

func NewSMTP(l *zap.Logger) *SMTP {
	if l == nil {
		l = zap.NewNop()
	}
	return &SMTP{timeout: 10 * time.Second, log: l.With(zap.String("component", "providers.smtp"))}
}

func (*SMTP) ID() string { return "smtp" }

func (*SMTP) Channels() []notification.Channel {
	return []notification.Channel{notification.ChannelEmail}
}

func (m *SMTP) Send(ctx context.Context, cfg *notification.ProviderConfig, msg Message) Result {
	if err := validate.Var(msg.To, "required,email"); err != nil {
		return Fail(KindValidation, "invalid recipient email %q", msg.To)
	}
	host := cfg.Config["host"]
	from := firstNonEmpty(msg.From, cfg.Config["from"], cfg.Credentials["username"])
	if host == "" || from == "" {
		return Fail(KindConfig, "smtp: host and from are required")
	}
	port := cfg.Config["port"]
	mode := strings.ToLower(cfg.Config["tls_mode"])
	if port == "" {
		port = "587"
		if mode == "tls" {
			port = "465"
		}
	}
	if mode == "" {
		mode = "starttls"
		if port == "465" {
			mode = "tls"
		}
	}
	addr := net.JoinHostPort(host, port)
	id := uuid.NewString() + "@" + host

	raw := buildMIME(mimeHeader{
		From:      formatAddress(cfg.Config["from_name"], from),
		To:        formatAddress(msg.Name, msg.To),
		ReplyTo:   firstNonEmpty(msg.ReplyTo, cfg.Config["reply_to"]),
		Subject:   msg.Subject,
		MessageID: id,
	}, msg.HTML)

	start := time.Now()
	log := m.log.With(
		zap.String("smtp_addr", addr),
		zap.String("tls_mode", mode),
		zap.String("to", msg.To),
	)
	tlsCfg := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: cfg.Config["insecure_skip_verify"] == "true",
		MinVersion:         tls.VersionTLS12,
	}

	if err := m.deliver(ctx, addr, host, mode, tlsCfg, cfg.Credentials, from, msg.To, raw); err != nil {
		log.Warn("smtp send failed", zap.Error(err))
		return Fail(KindProvider, "smtp: %v", err)
	}
	log.Debug("email sent", zap.Duration("elapsed", time.Since(start)))
	return Sent("<" + id + ">")
}

func (m *SMTP) deliver(ctx context.Context, addr, host, mode string, tlsCfg *tls.Config,
	creds map[string]string, from, to string, raw []byte) error {
	dialer := net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	deadline := time.Now().Add(m.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if mode == "tls" {
		tc := tls.Client(conn, tlsCfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return fmt.Errorf("tls handshake: %w", err)
		}
		conn = tc
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer func() { _ = c.Close() }()

	if mode == "starttls" {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if user := creds["username"]; user != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", user, creds["password"], host)); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return c.Quit()
}

type mimeHeader struct {
	From      string
	To        string
	ReplyTo   string
	Subject   string
	MessageID string
}

func buildMIME(h mimeHeader, html string) []byte {
	var b strings.Builder
	b.WriteString("From: " + h.From + "\r\n")
	b.WriteString("To: " + h.To + "\r\n")
	if h.ReplyTo != "" {
		b.WriteString("Reply-To: " + h.ReplyTo + "\r\n")
	}
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", h.Subject) + "\r\n")
	b.WriteString("Message-ID: <" + h.MessageID + ">\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(html, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return mime.QEncoding.Encode("utf-8", name) + " <" + addr + ">"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
