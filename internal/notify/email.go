package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SMTPConfig is the mail relay configuration. Security is one of
// "TLS" (STARTTLS), "SSL" (implicit TLS), or "" for plaintext.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
	Security string
}

func (c SMTPConfig) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// EmailNotifier renders events as HTML mail and hands them to the relay.
type EmailNotifier struct {
	cfg  SMTPConfig
	body *template.Template
}

var bodyTemplate = template.Must(template.New("body").Parse(`
<div style="font-family:Arial;font-size:14px">
  <h2>{{.Subject}}</h2>
  <table cellpadding="4">
    {{- range .Rows}}
    <tr><td><b>{{.Name}}</b></td><td>{{.Value}}</td></tr>
    {{- end}}
  </table>
  <p>Regards,<br>Autointelli</p>
</div>
`))

// NewEmailNotifier builds a mail sink; cfg.Host must be set.
func NewEmailNotifier(cfg SMTPConfig) (*EmailNotifier, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host not configured")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Sender == "" {
		cfg.Sender = cfg.Username
	}
	return &EmailNotifier{cfg: cfg, body: bodyTemplate}, nil
}

type bodyRow struct {
	Name  string
	Value any
}

// Send renders and delivers one event. Events without recipients are dropped
// with a log line; that is a configuration gap, not a delivery failure.
func (n *EmailNotifier) Send(ctx context.Context, ev Event) error {
	ev = ev.WithRuleContext(time.Now())
	if len(ev.Recipients) == 0 {
		log.Warn().Str("template", ev.Template).Msg("No recipients for notification, skipping email")
		return nil
	}

	subject := Subject(ev)

	rows := make([]bodyRow, 0, len(ev.Context))
	for _, k := range sortedKeys(ev.Context) {
		rows = append(rows, bodyRow{Name: strings.ReplaceAll(k, "_", " "), Value: ev.Context[k]})
	}

	var buf bytes.Buffer
	if err := n.body.Execute(&buf, map[string]any{"Subject": subject, "Rows": rows}); err != nil {
		return fmt.Errorf("render email body: %w", err)
	}

	msg := buildMessage(n.cfg.Sender, ev.Recipients, subject, buf.String())

	if err := n.deliver(ctx, ev.Recipients, msg); err != nil {
		return fmt.Errorf("send email %q: %w", subject, err)
	}
	log.Info().Str("subject", subject).Strs("to", ev.Recipients).Msg("Email sent")
	return nil
}

func buildMessage(from string, to []string, subject, html string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	return []byte(b.String())
}

func (n *EmailNotifier) deliver(ctx context.Context, to []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: 15 * time.Second}

	var (
		conn net.Conn
		err  error
	)
	security := strings.ToUpper(n.cfg.Security)
	if security == "SSL" {
		conn, err = tls.DialWithDialer(dialer, "tcp", n.cfg.addr(), &tls.Config{ServerName: n.cfg.Host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", n.cfg.addr())
	}
	if err != nil {
		return err
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if security == "TLS" {
		if err := client.StartTLS(&tls.Config{ServerName: n.cfg.Host}); err != nil {
			return err
		}
	}

	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(n.cfg.Sender); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
