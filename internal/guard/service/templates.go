package service

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/aussiebroadwan/warden/pkg/mailx"
)

// Templates holds the text/template sources for outgoing mail. Empty fields
// fall back to the built-in defaults. Every template is executed with
// MailData.
type Templates struct {
	RegistrationSubject string `yaml:"registration_subject" env:"MAIL_REGISTRATION_SUBJECT"`
	RegistrationBody    string `yaml:"registration_body" env:"MAIL_REGISTRATION_BODY"`
	ResetSubject        string `yaml:"reset_subject" env:"MAIL_RESET_SUBJECT"`
	ResetBody           string `yaml:"reset_body" env:"MAIL_RESET_BODY"`

	// ConfirmURL and ResetURL are templates for the link placed in the
	// body, e.g. "https://example.com/confirm?token={{.Token}}".
	ConfirmURL string `yaml:"confirm_url" env:"MAIL_CONFIRM_URL"`
	ResetURL   string `yaml:"reset_url" env:"MAIL_RESET_URL"`
}

// MailData is passed to every mail template.
type MailData struct {
	Username  string
	Email     string
	Token     string
	Link      string
	ExpiresAt time.Time
}

const (
	defaultRegistrationSubject = "Confirm your account"
	defaultRegistrationBody    = `Hello {{.Username}},

Confirm your account by visiting:

{{if .Link}}{{.Link}}{{else}}{{.Token}}{{end}}

The link expires at {{.ExpiresAt.Format "2006-01-02 15:04 MST"}}.
`
	defaultResetSubject = "Reset your password"
	defaultResetBody    = `Hello {{.Username}},

Someone asked to reset the password of this account. If that was you, visit:

{{if .Link}}{{.Link}}{{else}}{{.Token}}{{end}}

The link expires at {{.ExpiresAt.Format "2006-01-02 15:04 MST"}}. Otherwise ignore this message.
`
)

type compiledTemplates struct {
	regSubject, regBody     *template.Template
	resetSubject, resetBody *template.Template
	confirmURL, resetURL    *template.Template
}

func (t Templates) compile() (*compiledTemplates, error) {
	parse := func(name, src, fallback string) (*template.Template, error) {
		if src == "" {
			src = fallback
		}
		if src == "" {
			return nil, nil
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		return tmpl, nil
	}

	var (
		c   compiledTemplates
		err error
	)
	if c.regSubject, err = parse("registration_subject", t.RegistrationSubject, defaultRegistrationSubject); err != nil {
		return nil, err
	}
	if c.regBody, err = parse("registration_body", t.RegistrationBody, defaultRegistrationBody); err != nil {
		return nil, err
	}
	if c.resetSubject, err = parse("reset_subject", t.ResetSubject, defaultResetSubject); err != nil {
		return nil, err
	}
	if c.resetBody, err = parse("reset_body", t.ResetBody, defaultResetBody); err != nil {
		return nil, err
	}
	if c.confirmURL, err = parse("confirm_url", t.ConfirmURL, ""); err != nil {
		return nil, err
	}
	if c.resetURL, err = parse("reset_url", t.ResetURL, ""); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *compiledTemplates) registration(to string, data MailData) (mailx.Message, error) {
	return render(to, c.regSubject, c.regBody, c.confirmURL, data)
}

func (c *compiledTemplates) reset(to string, data MailData) (mailx.Message, error) {
	return render(to, c.resetSubject, c.resetBody, c.resetURL, data)
}

func render(to string, subject, body, link *template.Template, data MailData) (mailx.Message, error) {
	if link != nil {
		s, err := execute(link, data)
		if err != nil {
			return mailx.Message{}, err
		}
		data.Link = s
	}

	subj, err := execute(subject, data)
	if err != nil {
		return mailx.Message{}, err
	}
	text, err := execute(body, data)
	if err != nil {
		return mailx.Message{}, err
	}
	return mailx.Message{To: to, Subject: subj, Body: text}, nil
}

func execute(t *template.Template, data MailData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
