// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"thesisflow/api/internal/store"
)

var ErrNotConfigured = fmt.Errorf("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// AppURL is linked from notices when set.
	AppURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	boundary := "boundary-thesisflow"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type DraftNoticeData struct {
	RecipientName string
	SenderName    string
	Title         string
	FileName      string
	AppURL        string
}

// SendDraftNotice tells an adviser that a student submitted a new draft.
func (s *Service) SendDraftNotice(to string, data DraftNoticeData) error {
	if data.AppURL == "" {
		data.AppURL = s.config.AppURL
	}
	html, err := renderTemplate(draftNoticeTemplate, data)
	if err != nil {
		return fmt.Errorf("render draft notice: %w", err)
	}
	text := fmt.Sprintf("%s submitted a new draft %q (%s).", data.SenderName, data.Title, data.FileName)
	return s.SendHTMLEmail([]string{to}, "New draft submitted: "+data.Title, text, html)
}

// SendVerificationCode mails the six-digit sign-up confirmation code.
func (s *Service) SendVerificationCode(_ context.Context, to, code string) error {
	html, err := renderTemplate(verificationTemplate, map[string]string{"Code": code, "AppURL": s.config.AppURL})
	if err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}
	text := fmt.Sprintf("Your Thesisflow confirmation code is %s. It expires in one hour.", code)
	return s.SendHTMLEmail([]string{to}, "Confirm your Thesisflow account", text, html)
}

// UserLookup resolves the people named in a notice.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

// DraftNotifier adapts Service to the submission workflow.
type DraftNotifier struct {
	mail  *Service
	users UserLookup
}

func NewDraftNotifier(mail *Service, users UserLookup) *DraftNotifier {
	return &DraftNotifier{mail: mail, users: users}
}

func (n *DraftNotifier) NotifyDraftSubmitted(ctx context.Context, recipientID, senderID string, draft store.Draft, version store.Version) error {
	if !n.mail.IsConfigured() {
		return nil
	}
	recipient, err := n.users.GetUserByID(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("get recipient: %w", err)
	}
	sender, err := n.users.GetUserByID(ctx, senderID)
	if err != nil {
		return fmt.Errorf("get sender: %w", err)
	}
	return n.mail.SendDraftNotice(recipient.Email, DraftNoticeData{
		RecipientName: displayName(recipient),
		SenderName:    displayName(sender),
		Title:         draft.Title,
		FileName:      version.FileName,
	})
}

func displayName(u store.User) string {
	if name := u.FullName(); name != "" {
		return name
	}
	return u.Email
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const draftNoticeTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New draft submitted: {{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2f6f4f; padding-bottom: 10px; margin-bottom: 20px; }
        .file { background: #f4f6f5; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .button { display: inline-block; padding: 12px 24px; background: #2f6f4f; color: white; text-decoration: none; border-radius: 4px; }
    </style>
</head>
<body>
    <div class="header"><h1>Thesisflow</h1></div>
    <p>Hi {{.RecipientName}},</p>
    <p>{{.SenderName}} submitted a new draft for your feedback.</p>
    <div class="file">
        <strong>{{.Title}}</strong><br>
        {{.FileName}}
    </div>
    {{if .AppURL}}<p><a href="{{.AppURL}}" class="button">Open Thesisflow</a></p>{{end}}
</body>
</html>`

const verificationTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Confirm your Thesisflow account</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Confirm your email</h2>
    <p>Enter this code to finish creating your account:</p>
    <p style="font-size: 28px; letter-spacing: 6px; font-weight: bold;">{{.Code}}</p>
    <p>The code expires in one hour.</p>
    {{if .AppURL}}<p><a href="{{.AppURL}}">{{.AppURL}}</a></p>{{end}}
</body>
</html>`
