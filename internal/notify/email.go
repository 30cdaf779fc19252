package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"
)

const emailFooter = "This is an automated reminder from Notekeeper."

// EmailConfig configures the SMTP adapter.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
	Timeout  time.Duration
}

// EmailSender delivers reminders over SMTP. It has no provider-side
// scheduling; the dispatch check sends shortly before the due time.
type EmailSender struct {
	cfg    EmailConfig
	format Formatter
	now    func() time.Time
}

func NewEmailSender(cfg EmailConfig, format Formatter) *EmailSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailSender{cfg: cfg, format: format, now: time.Now}
}

func (e *EmailSender) Channel() string { return ChannelEmail }

var emailHTML = template.Must(template.New("email").Parse(`<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #eee; border-radius: 5px;">
  <h2 style="color: #333;">Reminder: {{.Title}}</h2>
  <p style="font-size: 16px; line-height: 1.5;">{{.Body}}</p>
  <p style="font-size: 14px; color: #666;">Due: {{.Due}}</p>
  <hr style="border: none; border-top: 1px solid #eee; margin: 20px 0;" />
  <p style="font-size: 12px; color: #999;">{{.Footer}}</p>
</div>
`))

// Configured reports whether an SMTP host and sender are set.
func (e *EmailSender) Configured() bool { return e.cfg.Host != "" && e.cfg.From != "" }

func (e *EmailSender) Send(ctx context.Context, to string, msg Message) (Receipt, error) {
	if !e.Configured() {
		return Receipt{}, fmt.Errorf("%w: smtp host or sender not configured", ErrChannelUnavailable)
	}

	from, err := mail.ParseAddress(e.cfg.From)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: invalid sender address: %v", ErrChannelUnavailable, err)
	}
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return Receipt{}, rejected("invalid recipient %q: %v", to, err)
	}

	raw, err := e.Compose(from, rcpt, msg)
	if err != nil {
		return Receipt{}, err
	}

	ctx, cancel := withTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	if err := e.deliver(ctx, from.Address, rcpt.Address, raw); err != nil {
		return Receipt{}, classifySMTP(err)
	}
	return Receipt{Channel: ChannelEmail, Status: "sent"}, nil
}

// Compose renders the full MIME message with text and HTML parts.
func (e *EmailSender) Compose(from, to *mail.Address, msg Message) ([]byte, error) {
	due := e.format.Due(msg.DueAt)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", "Reminder: "+msg.Title))
	header("Date", e.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	text := fmt.Sprintf("Reminder: %s\n\n%s\n\nDue: %s\n\n%s\n", msg.Title, msg.Body, due, emailFooter)
	if err := writePart(mw, "text/plain; charset=utf-8", []byte(text)); err != nil {
		return nil, err
	}

	var html bytes.Buffer
	err := emailHTML.Execute(&html, struct{ Title, Body, Due, Footer string }{msg.Title, msg.Body, due, emailFooter})
	if err != nil {
		return nil, fmt.Errorf("failed to render email html: %w", err)
	}
	if err := writePart(mw, "text/html; charset=utf-8", html.Bytes()); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType string, body []byte) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create mime part: %w", err)
	}
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write(body); err != nil {
		return fmt.Errorf("failed to write mime part: %w", err)
	}
	return qp.Close()
}

func (e *EmailSender) deliver(ctx context.Context, from, to string, raw []byte) error {
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if e.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: e.cfg.Host}); err != nil {
				return err
			}
		}
	}
	if e.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)); err != nil {
			return err
		}
	}

	if err := c.Mail(from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// classifySMTP maps permanent (5xx) replies to rejections and everything
// else to transient failures.
func classifySMTP(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return rejected("smtp %d: %s", tpErr.Code, tpErr.Msg)
	}
	return transient(fmt.Errorf("smtp delivery: %w", err))
}
