// Package mailer sends branded HTML email over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig is the connection and sender identity used for one send.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Secure   bool   `json:"secure"`
	Username string `json:"username"`
	Password string `json:"-"`
	From     string `json:"from"`
	FromName string `json:"fromName"`
}

// Message is an HTML body; Send wraps it in the layout and adds a plain-text alternative.
type Message struct {
	To      []string
	Subject string
	HTML    string
	ReplyTo string
}

// Sender delivers messages and checks SMTP credentials.
type Sender interface {
	Send(ctx context.Context, cfg SMTPConfig, msg Message) error
	Verify(ctx context.Context, cfg SMTPConfig) error
}

var ErrNoRecipients = errors.New("mailer: no recipients")

// SMTPSender is the go-mail backed Sender.
type SMTPSender struct {
	Timeout time.Duration
	// Brand is shown in the layout header and footer.
	Brand string
}

func NewSMTPSender() *SMTPSender {
	return &SMTPSender{Timeout: 15 * time.Second, Brand: "EstateHub"}
}

func (s *SMTPSender) Send(ctx context.Context, cfg SMTPConfig, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	m, err := s.build(cfg, msg)
	if err != nil {
		return err
	}
	c, err := s.client(cfg)
	if err != nil {
		return err
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// Verify connects and authenticates without sending.
func (s *SMTPSender) Verify(ctx context.Context, cfg SMTPConfig) error {
	c, err := s.client(cfg)
	if err != nil {
		return err
	}
	if err := c.DialWithContext(ctx); err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	return c.Close()
}

func (s *SMTPSender) build(cfg SMTPConfig, msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	fromName := cfg.FromName
	if fromName == "" {
		fromName = s.Brand
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	if err := m.FromFormat(fromName, from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	if msg.ReplyTo != "" {
		if err := m.ReplyTo(msg.ReplyTo); err != nil {
			return nil, fmt.Errorf("reply-to address: %w", err)
		}
	}
	m.Subject(msg.Subject)
	html, err := Wrap(s.Brand, msg.Subject, msg.HTML)
	if err != nil {
		return nil, err
	}
	m.SetBodyString(mail.TypeTextPlain, PlainText(msg.HTML))
	m.AddAlternativeString(mail.TypeTextHTML, html)
	return m, nil
}

func (s *SMTPSender) client(cfg SMTPConfig) (*mail.Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("mailer: smtp host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	opts := []mail.Option{mail.WithTimeout(s.Timeout)}
	if cfg.Secure {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	opts = append(opts, mail.WithPort(port))
	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return c, nil
}
