package notify

import (
	"bufio"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTP is a minimal SMTP server that accepts one message per
// connection and records the envelope and data.
type fakeSMTP struct {
	ln       net.Listener
	mu       sync.Mutex
	from     string
	rcpt     string
	data     string
	rcptCode int
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeSMTP{ln: ln, rcptCode: 250}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f
}

func (f *fakeSMTP) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeSMTP) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(s string) { _, _ = io.WriteString(conn, s+"\r\n") }

	reply("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		upper := strings.ToUpper(cmd)

		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250 fake")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			f.mu.Lock()
			f.from = cmd[len("MAIL FROM:"):]
			f.mu.Unlock()
			reply("250 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			f.mu.Lock()
			f.rcpt = cmd[len("RCPT TO:"):]
			code := f.rcptCode
			f.mu.Unlock()
			if code != 250 {
				reply(strconv.Itoa(code) + " mailbox unavailable")
				continue
			}
			reply("250 OK")
		case upper == "DATA":
			reply("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			f.mu.Lock()
			f.data = b.String()
			f.mu.Unlock()
			reply("250 queued")
		case upper == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func newEmailSender(port int) *EmailSender {
	return NewEmailSender(EmailConfig{
		Host:    "127.0.0.1",
		Port:    port,
		From:    `"Notekeeper" <notifications@notekeeper.local>`,
		Timeout: 2 * time.Second,
	}, DefaultFormatter())
}

func TestEmailSender_Send(t *testing.T) {
	srv := startFakeSMTP(t)
	e := newEmailSender(srv.port())

	receipt, err := e.Send(context.Background(), "pat@example.com", testMessage())
	require.NoError(t, err)
	assert.Equal(t, ChannelEmail, receipt.Channel)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "<notifications@notekeeper.local>", srv.from)
	assert.Equal(t, "<pat@example.com>", srv.rcpt)
	assert.Contains(t, srv.data, "Subject: Reminder: Dentist")
	assert.Contains(t, srv.data, "multipart/alternative")
}

func TestEmailSender_PermanentRejection(t *testing.T) {
	srv := startFakeSMTP(t)
	srv.rcptCode = 550
	e := newEmailSender(srv.port())

	_, err := e.Send(context.Background(), "nobody@example.com", testMessage())
	assert.ErrorIs(t, err, ErrDeliveryRejected)
}

func TestEmailSender_TemporaryRejection(t *testing.T) {
	srv := startFakeSMTP(t)
	srv.rcptCode = 451
	e := newEmailSender(srv.port())

	_, err := e.Send(context.Background(), "busy@example.com", testMessage())
	assert.ErrorIs(t, err, ErrTransientFailure)
}

func TestEmailSender_UnreachableIsTransient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = newEmailSender(port).Send(context.Background(), "pat@example.com", testMessage())
	assert.ErrorIs(t, err, ErrTransientFailure)
}

func TestEmailSender_Unavailable(t *testing.T) {
	e := NewEmailSender(EmailConfig{}, DefaultFormatter())

	_, err := e.Send(context.Background(), "pat@example.com", testMessage())
	assert.ErrorIs(t, err, ErrChannelUnavailable)
}

func TestEmailSender_InvalidRecipientRejected(t *testing.T) {
	e := newEmailSender(25)

	_, err := e.Send(context.Background(), "not an address", testMessage())
	assert.ErrorIs(t, err, ErrDeliveryRejected)
}

func TestEmailSender_ComposeHasTextAndHTML(t *testing.T) {
	e := newEmailSender(25)
	e.now = func() time.Time { return testDue }
	msg := testMessage()
	msg.Body = "Bring <card> & ID"

	raw, err := e.Compose(&mail.Address{Name: "N", Address: "n@x.io"}, &mail.Address{Address: "pat@example.com"}, msg)
	require.NoError(t, err)

	parsed, err := mail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, "Reminder: Dentist", decodeHeader(t, parsed.Header.Get("Subject")))

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(parsed.Body, params["boundary"])
	var bodies []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(p)
		require.NoError(t, err)
		bodies = append(bodies, string(b))
	}

	require.Len(t, bodies, 2)
	assert.Contains(t, bodies[0], "Bring <card> & ID")
	assert.Contains(t, bodies[0], "Due: Mon, Mar 10 2025 at 6:30 PM UTC")
	assert.Contains(t, bodies[0], emailFooter)
	assert.Contains(t, bodies[1], "Bring &lt;card&gt; &amp; ID")
}

func decodeHeader(t *testing.T, v string) string {
	t.Helper()
	out, err := new(mime.WordDecoder).DecodeHeader(v)
	require.NoError(t, err)
	return out
}
