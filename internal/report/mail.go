package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
)

// ErrMailerDisabled is returned when no sender credentials are configured.
var ErrMailerDisabled = errors.New("email sender deactivated")

const (
	mailSubject = "Envio automático de relatório PDF - Smart Financial Solutions"
	signature   = "Smart Financial Solutions"
)

// Mailer delivers a rendered report.
type Mailer interface {
	Send(ctx context.Context, to, filename string, pdf []byte) error
}

// SMTPConfig holds the sender account.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string
}

// SMTPMailer sends mail through an authenticated SMTP relay with STARTTLS.
type SMTPMailer struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates a mailer. Without From or Password every Send
// returns ErrMailerDisabled.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, sendMail: smtp.SendMail}
}

// Enabled reports whether sender credentials are present.
func (m *SMTPMailer) Enabled() bool {
	return m.cfg.From != "" && m.cfg.Password != ""
}

// Send mails the PDF as an attachment.
func (m *SMTPMailer) Send(ctx context.Context, to, filename string, pdf []byte) error {
	if !m.Enabled() {
		return ErrMailerDisabled
	}
	msg, err := buildMessage(m.cfg.From, to, filename, pdf)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	auth := smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Host)

	errCh := make(chan error, 1)
	go func() { errCh <- m.sendMail(addr, auth, m.cfg.From, []string{to}, msg) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("send report to %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMessage(from, to, filename string, pdf []byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", mailSubject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	html, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=utf-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	fmt.Fprintf(html, `<html><body>
<h1>Relatório Concluído!</h1>
<p>Olá!</p>
<p>Seu relatório <strong>%s</strong> foi gerado com sucesso e está anexado abaixo.</p>
<p>Obrigado por usar nossos serviços automatizados.</p>
<p><em>Atenciosamente,</em><br><span style="font-weight: bold; color: blue;">%s</span></p>
</body></html>`, filename, signature)

	att, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/pdf"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": filename})},
	})
	if err != nil {
		return nil, fmt.Errorf("create attachment part: %w", err)
	}
	enc := base64.StdEncoding.EncodeToString(pdf)
	for len(enc) > 76 {
		_, _ = att.Write([]byte(enc[:76] + "\r\n"))
		enc = enc[76:]
	}
	_, _ = att.Write([]byte(enc + "\r\n"))

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// pdfName normalizes the report file name.
func pdfName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '"' || r < ' ' {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		name = "relatorio"
	}
	if !strings.HasSuffix(name, ".pdf") {
		name += ".pdf"
	}
	return name
}
