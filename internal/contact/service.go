// Package contact runs the contact-form pipeline: public submissions, the admin inbox and replies.
package contact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanfour/zeyang-construction-sub000/internal/contact/entity"
	"github.com/hanfour/zeyang-construction-sub000/internal/tasks"
	"github.com/hanfour/zeyang-construction-sub000/pkg/database"
)

var ErrNotFound = errors.New("contact not found")

// Store is the persistence the service needs; *repo.ContactRepo satisfies it.
type Store interface {
	Create(ctx context.Context, c *entity.Contact) (int64, error)
	List(ctx context.Context, f entity.Filter, p database.Page) ([]entity.Contact, int, error)
	Export(ctx context.Context, f entity.Filter) ([]entity.Contact, error)
	Get(ctx context.Context, id int64) (*entity.Contact, error)
	MarkRead(ctx context.Context, id, userID int64) (bool, error)
	MarkReplied(ctx context.Context, id, userID int64) (bool, error)
	UpdateNotes(ctx context.Context, id int64, notes *string) (bool, error)
	Archive(ctx context.Context, id, userID int64) (bool, error)
	Reply(ctx context.Context, id, userID int64, notes *string, send func(*entity.Contact) error) error
	Stats(ctx context.Context, days int) (entity.Summary, []entity.Daily, error)
}

// Mailer is the email side of the pipeline; *Notifier satisfies it.
type Mailer interface {
	AdminNotification(ctx context.Context, c *entity.Contact) error
	UserConfirmation(ctx context.Context, c *entity.Contact) error
	Reply(ctx context.Context, c *entity.Contact, message string) error
}

type Service struct {
	repo   Store
	mail   Mailer
	tasks  tasks.Dispatcher
	logger *zap.SugaredLogger
}

func NewService(r Store, mail Mailer, d tasks.Dispatcher, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{repo: r, mail: mail, tasks: d, logger: logger}
}

// Input is a public submission.
type Input struct {
	Name    string
	Email   string
	Phone   *string
	Company *string
	Subject *string
	Message string
	Source  string
}

// ListResult is one page of the admin inbox.
type ListResult struct {
	Contacts   []entity.Contact    `json:"contacts"`
	Pagination database.Pagination `json:"pagination"`
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create stores a submission and queues the admin notification and user confirmation.
// Email failures are logged by the queue and never reach the caller.
func (s *Service) Create(ctx context.Context, in Input, ip, userAgent string) (int64, error) {
	c := &entity.Contact{
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		Company:   in.Company,
		Subject:   in.Subject,
		Message:   in.Message,
		Source:    in.Source,
		IPAddress: nonEmpty(ip),
		UserAgent: nonEmpty(truncate(userAgent, 500)),
	}
	if c.Source == "" {
		c.Source = "website"
	}
	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return 0, fmt.Errorf("create contact: %w", err)
	}
	s.logger.Infow("contact form submitted", "contact_id", id, "email", c.Email, "source", c.Source)

	if err := s.tasks.Submit("contact.admin_notification", func(ctx context.Context) error {
		return s.mail.AdminNotification(ctx, c)
	}); err != nil {
		s.logger.Warnw("admin notification not queued", "contact_id", id, "err", err)
	}
	if err := s.tasks.Submit("contact.user_confirmation", func(ctx context.Context) error {
		return s.mail.UserConfirmation(ctx, c)
	}); err != nil {
		s.logger.Warnw("user confirmation not queued", "contact_id", id, "err", err)
	}
	return id, nil
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

func (s *Service) List(ctx context.Context, f entity.Filter, p database.Page) (*ListResult, error) {
	items, total, err := s.repo.List(ctx, f, p)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return &ListResult{Contacts: items, Pagination: database.NewPagination(p, total)}, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*entity.Contact, error) {
	c, err := s.repo.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func changed(ok bool, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// MarkRead returns ErrNotFound when the contact is missing or already read.
func (s *Service) MarkRead(ctx context.Context, id, userID int64) error {
	ok, err := s.repo.MarkRead(ctx, id, userID)
	return changed(ok, err, "mark contact read")
}

// fanOut runs op for each id concurrently and counts the rows that changed.
// The first error fails the call; statements already applied stay applied.
func (s *Service) fanOut(ctx context.Context, ids []int64, op func(ctx context.Context, id int64) (bool, error)) (int, error) {
	var n atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		g.Go(func() error {
			ok, err := op(ctx, id)
			if err != nil {
				return err
			}
			if ok {
				n.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return int(n.Load()), err
}

func (s *Service) BulkMarkRead(ctx context.Context, ids []int64, userID int64) (int, error) {
	n, err := s.fanOut(ctx, ids, func(ctx context.Context, id int64) (bool, error) {
		return s.repo.MarkRead(ctx, id, userID)
	})
	if err != nil {
		return n, fmt.Errorf("bulk mark read: %w", err)
	}
	return n, nil
}

// MarkReplied flags the contact as answered without sending email.
func (s *Service) MarkReplied(ctx context.Context, id, userID int64) error {
	ok, err := s.repo.MarkReplied(ctx, id, userID)
	if err := changed(ok, err, "mark contact replied"); err != nil {
		return err
	}
	s.logger.Infow("contact marked as replied", "contact_id", id, "user_id", userID)
	return nil
}

// Reply marks the contact replied and emails message to the submitter in one transaction.
// A send failure rolls the update back and is returned.
func (s *Service) Reply(ctx context.Context, id int64, message string, notes *string, userID int64) error {
	err := s.repo.Reply(ctx, id, userID, notes, func(c *entity.Contact) error {
		return s.mail.Reply(ctx, c, message)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reply to contact: %w", err)
	}
	s.logger.Infow("contact replied", "contact_id", id, "user_id", userID)
	return nil
}

func (s *Service) UpdateNotes(ctx context.Context, id int64, notes *string) error {
	ok, err := s.repo.UpdateNotes(ctx, id, notes)
	return changed(ok, err, "update contact notes")
}

// Archive returns ErrNotFound when the contact is missing or already archived.
func (s *Service) Archive(ctx context.Context, id, userID int64) error {
	ok, err := s.repo.Archive(ctx, id, userID)
	if err := changed(ok, err, "archive contact"); err != nil {
		return err
	}
	s.logger.Infow("contact archived", "contact_id", id, "user_id", userID)
	return nil
}

func (s *Service) BulkArchive(ctx context.Context, ids []int64, userID int64) (int, error) {
	n, err := s.fanOut(ctx, ids, func(ctx context.Context, id int64) (bool, error) {
		return s.repo.Archive(ctx, id, userID)
	})
	if err != nil {
		return n, fmt.Errorf("bulk archive: %w", err)
	}
	s.logger.Infow("contacts bulk archived", "ids", ids, "user_id", userID, "count", n)
	return n, nil
}

// Stats summarizes the last days days; days defaults to 30.
func (s *Service) Stats(ctx context.Context, days int) (*entity.Stats, error) {
	if days <= 0 {
		days = 30
	}
	sum, daily, err := s.repo.Stats(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("contact stats: %w", err)
	}
	if sum.Total > 0 {
		sum.ReadRate = percent(sum.Read, sum.Total)
		sum.ReplyRate = percent(sum.Replied, sum.Total)
	}
	return &entity.Stats{Period: days, Summary: sum, Daily: daily}, nil
}

func percent(part, total int) float64 {
	return math.Round(float64(part)/float64(total)*1000) / 10
}

func (s *Service) Export(ctx context.Context, f entity.Filter) ([]entity.Contact, error) {
	out, err := s.repo.Export(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("export contacts: %w", err)
	}
	return out, nil
}
