package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/contact/entity"
	"github.com/hanfour/zeyang-construction-sub000/internal/setting"
	"github.com/hanfour/zeyang-construction-sub000/pkg/mailer"
)

// SmtpSource supplies the current SMTP setup; nil means SMTP is disabled.
type SmtpSource interface {
	SmtpConfig(ctx context.Context) (*setting.SmtpConfig, error)
}

// Notifier sends the contact-form emails through the configured SMTP server.
type Notifier struct {
	smtp        SmtpSource
	sender      mailer.Sender
	adminEmails []string
	loc         *time.Location
	logger      *zap.SugaredLogger
}

// NewNotifier builds a Notifier. adminEmails is used when admin_notification_emails is empty.
func NewNotifier(smtp SmtpSource, sender mailer.Sender, adminEmails []string, logger *zap.SugaredLogger) *Notifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		loc = time.UTC
	}
	return &Notifier{smtp: smtp, sender: sender, adminEmails: adminEmails, loc: loc, logger: logger}
}

func orDefault(s *string, def string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return def
	}
	return *s
}

func brand(cfg *setting.SmtpConfig) string {
	if cfg.FromName != "" {
		return cfg.FromName
	}
	return "EstateHub"
}

// AdminNotification emails every admin recipient about a new submission.
func (n *Notifier) AdminNotification(ctx context.Context, c *entity.Contact) error {
	cfg, err := n.smtp.SmtpConfig(ctx)
	if err != nil {
		return fmt.Errorf("load smtp config: %w", err)
	}
	if cfg == nil || !cfg.SendAdminNotifications {
		n.logger.Infow("admin notifications disabled, skipping email", "contact_id", c.ID)
		return nil
	}
	recipients := cfg.AdminEmails
	if len(recipients) == 0 {
		recipients = n.adminEmails
	}
	source := c.Source
	if source == "" {
		source = "網站"
	}
	body := fmt.Sprintf(`<h2>新的聯絡表單提交</h2>
<p><strong>姓名：</strong> %s</p>
<p><strong>Email：</strong> %s</p>
<p><strong>電話：</strong> %s</p>
<p><strong>公司：</strong> %s</p>
<p><strong>主旨：</strong> %s</p>
<p><strong>訊息：</strong></p>
<div style="background-color: #f8f9fa; padding: 15px; border-left: 4px solid #007bff; margin: 15px 0;">%s</div>
<p><strong>來源：</strong> %s</p>
<p><strong>提交時間：</strong> %s</p>
<hr>
<p>請登入後台查看詳細資訊並回覆。</p>`,
		mailer.Escape(c.Name), mailer.Escape(c.Email),
		mailer.Escape(orDefault(c.Phone, "未提供")), mailer.Escape(orDefault(c.Company, "未提供")),
		mailer.Escape(orDefault(c.Subject, "未提供")), mailer.Escape(c.Message),
		mailer.Escape(source), time.Now().In(n.loc).Format("2006/01/02 15:04:05"))

	var errs []error
	for _, to := range recipients {
		to = strings.TrimSpace(to)
		if to == "" {
			continue
		}
		msg := mailer.Message{
			To:      []string{to},
			Subject: fmt.Sprintf("[%s] 新聯絡表單 - %s", brand(cfg), c.Name),
			HTML:    body,
			ReplyTo: c.Email,
		}
		if err := n.sender.Send(ctx, cfg.SMTPConfig, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

// UserConfirmation thanks the submitter and echoes their message.
func (n *Notifier) UserConfirmation(ctx context.Context, c *entity.Contact) error {
	cfg, err := n.smtp.SmtpConfig(ctx)
	if err != nil {
		return fmt.Errorf("load smtp config: %w", err)
	}
	if cfg == nil || !cfg.SendUserConfirmations {
		n.logger.Infow("user confirmations disabled, skipping email", "contact_id", c.ID)
		return nil
	}
	body := fmt.Sprintf(`<h2>感謝您的來信</h2>
<p>親愛的 %s，</p>
<p>我們已收到您的訊息，將會盡快回覆您。</p>
<p>以下是您提交的內容：</p>
<hr>
<div style="background-color: #f8f9fa; padding: 15px; border-left: 4px solid #28a745; margin: 15px 0;">
<p><strong>主旨：</strong> %s</p>
<p><strong>訊息：</strong></p>
<p>%s</p>
</div>
<hr>
<p>如有緊急事項，請直接致電我們的客服專線。</p>
<p>祝您有美好的一天！</p>
<p><strong>%s 團隊</strong></p>`,
		mailer.Escape(c.Name), mailer.Escape(orDefault(c.Subject, "(未指定)")), mailer.Escape(c.Message), mailer.Escape(brand(cfg)))

	return n.sender.Send(ctx, cfg.SMTPConfig, mailer.Message{
		To:      []string{c.Email},
		Subject: "感謝您的來信 - " + brand(cfg),
		HTML:    body,
	})
}

// Reply sends an admin's answer to the submitter. It is a no-op when SMTP is disabled.
func (n *Notifier) Reply(ctx context.Context, c *entity.Contact, message string) error {
	cfg, err := n.smtp.SmtpConfig(ctx)
	if err != nil {
		return fmt.Errorf("load smtp config: %w", err)
	}
	if cfg == nil {
		n.logger.Infow("smtp disabled, skipping reply email", "contact_id", c.ID)
		return nil
	}
	body := fmt.Sprintf(`<h2>回覆：%s</h2>
<p>親愛的 %s，</p>
<p>感謝您聯絡我們。以下是我們針對您詢問的回覆：</p>
<hr>
<div style="background-color: #f8f9fa; padding: 20px; border-left: 4px solid #007bff; margin: 20px 0;">%s</div>
<hr>
<p><strong>您的原始訊息：</strong></p>
<div style="background-color: #f1f3f4; padding: 15px; border-left: 3px solid #6c757d; margin: 15px 0; font-style: italic;">%s</div>
<p>如有其他問題，歡迎隨時與我們聯絡。</p>
<p>祝您有美好的一天！</p>
<p><strong>%s 團隊</strong></p>`,
		mailer.Escape(orDefault(c.Subject, "您的詢問")), mailer.Escape(c.Name),
		mailer.Escape(message), mailer.Escape(c.Message), mailer.Escape(brand(cfg)))

	err = n.sender.Send(ctx, cfg.SMTPConfig, mailer.Message{
		To:      []string{c.Email},
		Subject: fmt.Sprintf("Re: %s - %s", orDefault(c.Subject, "Your inquiry"), brand(cfg)),
		HTML:    body,
	})
	if err != nil {
		return fmt.Errorf("send reply email: %w", err)
	}
	n.logger.Infow("reply email sent", "contact_id", c.ID, "email", c.Email)
	return nil
}
