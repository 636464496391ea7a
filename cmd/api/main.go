package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/auth"
	authrepo "github.com/hanfour/zeyang-construction-sub000/internal/auth/repo"
	"github.com/hanfour/zeyang-construction-sub000/internal/config"
	"github.com/hanfour/zeyang-construction-sub000/internal/contact"
	contactrepo "github.com/hanfour/zeyang-construction-sub000/internal/contact/repo"
	"github.com/hanfour/zeyang-construction-sub000/internal/project"
	projectrepo "github.com/hanfour/zeyang-construction-sub000/internal/project/repo"
	"github.com/hanfour/zeyang-construction-sub000/internal/projectimage"
	imagerepo "github.com/hanfour/zeyang-construction-sub000/internal/projectimage/repo"
	"github.com/hanfour/zeyang-construction-sub000/internal/ratelimit"
	"github.com/hanfour/zeyang-construction-sub000/internal/router"
	"github.com/hanfour/zeyang-construction-sub000/internal/setting"
	settingrepo "github.com/hanfour/zeyang-construction-sub000/internal/setting/repo"
	"github.com/hanfour/zeyang-construction-sub000/internal/system"
	"github.com/hanfour/zeyang-construction-sub000/internal/tag"
	tagrepo "github.com/hanfour/zeyang-construction-sub000/internal/tag/repo"
	"github.com/hanfour/zeyang-construction-sub000/internal/tasks"
	"github.com/hanfour/zeyang-construction-sub000/internal/user"
	userrepo "github.com/hanfour/zeyang-construction-sub000/internal/user/repo"
	"github.com/hanfour/zeyang-construction-sub000/pkg/database"
	"github.com/hanfour/zeyang-construction-sub000/pkg/mailer"
	"github.com/hanfour/zeyang-construction-sub000/pkg/storage"
	"github.com/hanfour/zeyang-construction-sub000/pkg/utilities"
)

func main() {
	// best effort: a missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()
	sugar.Infow("starting estatehub api", "env", cfg.Env, "version", cfg.AppVersion)

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("service stopped", "err", err)
	}
	sugar.Info("goodbye")
}

func run(cfg config.Config, sugar *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(dbConfig(cfg))
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	users := userrepo.NewUserRepo(db)
	sessions := authrepo.NewSessionRepo(db)
	settings := settingrepo.NewRepo(db)
	contacts := contactrepo.NewContactRepo(db)
	projects := projectrepo.NewProjectRepo(db)
	tags := tagrepo.NewTagRepo(db)
	images := imagerepo.NewImageRepo(db)

	if cfg.Database.EnsureSchema {
		// project_tags and project_images reference projects
		if err := ensureSchema(ctx, users.EnsureTable, sessions.EnsureTable, settings.EnsureTable,
			contacts.EnsureTable, projects.EnsureTable, tags.EnsureTable, images.EnsureTable); err != nil {
			return err
		}
		sugar.Info("database schema ensured")
	}

	rdb := connectRedis(ctx, cfg.Redis, sugar)
	if rdb != nil {
		defer rdb.Close()
	}

	objects, uploadDir, err := objectStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	queue := tasks.NewQueue(cfg.Tasks.Workers, cfg.Tasks.QueueSize, cfg.Tasks.Timeout, sugar.Named("tasks"))

	tokens := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessSecret,
		RefreshSecret: cfg.Auth.RefreshSecret,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
	})
	var revoker auth.Revoker = auth.NewMemoryRevoker()
	if rdb != nil {
		revoker = auth.NewRedisRevoker(rdb, cfg.Redis.Prefix+":revoked")
	}

	sender := mailer.NewSMTPSender()
	userSvc := user.NewUserService(users, sessions, tokens, revoker, user.BcryptHasher{Cost: cfg.Auth.BcryptCost}, sugar.Named("user"))
	settingSvc := setting.NewService(settings, setting.NewCipher(cfg.Settings.EncryptionKey, sugar), sender, cfg.IsDevelopment(), sugar.Named("setting"))
	notifier := contact.NewNotifier(settingSvc, sender, cfg.Mail.AdminEmails, sugar.Named("mail"))
	contactSvc := contact.NewService(contacts, notifier, queue, sugar.Named("contact"))
	imageSvc := projectimage.NewService(images, projects, objects, cfg.Storage.MaxUploadBytes, sugar.Named("image"))
	projectSvc := project.NewService(projects, imageSvc, queue, sugar.Named("project"))
	tagSvc := tag.NewService(tags, sugar.Named("tag"))

	var cache system.Pinger
	if rdb != nil {
		cache = redisPinger{rdb}
	}

	limiters, err := newLimiters(cfg, rdb, sugar)
	if err != nil {
		return err
	}

	handler, err := router.RegisterRoutes(router.Deps{
		Config:   cfg,
		Auth:     auth.NewMiddleware(tokens, revoker, userSvc, sugar.Named("auth")),
		Limiters: limiters,
		Handlers: router.Handlers{
			System:   system.NewHandler(db, cache, cfg.Env, cfg.AppVersion, sugar),
			Auth:     user.NewHandler(userSvc, sugar),
			Contacts: contact.NewHandler(contactSvc, sugar),
			Projects: project.NewHandler(projectSvc, sugar),
			Images:   projectimage.NewHandler(imageSvc, sugar),
			Tags:     tag.NewHandler(tagSvc, sugar),
			Settings: setting.NewHandler(settingSvc, sugar),
		},
		UploadDir: uploadDir,
		Logger:    sugar.Named("http"),
	})
	if err != nil {
		return err
	}

	go purgeSessions(ctx, sessions, sugar)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}
	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnw("http server shutdown failed", "err", err)
	}
	if err := queue.Shutdown(doneCtx); err != nil {
		sugar.Warnw("task queue drain incomplete", "err", err)
	}
	return nil
}

func dbConfig(cfg config.Config) database.Config {
	dc := database.ConfigFromEnv()
	switch {
	case cfg.Database.DSN != "":
		dc.DSN = cfg.Database.DSN
	case cfg.Database.Host != "":
		dc.DSN = database.BuildDSN(cfg.Database.Host, orDefault(cfg.Database.Port, "3306"), cfg.Database.User, cfg.Database.Password, cfg.Database.Name)
	}
	dc.MaxConns = cfg.Database.MaxConns
	return dc
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func ensureSchema(ctx context.Context, steps ...func(context.Context) error) error {
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// connectRedis returns nil when Redis is unconfigured or unreachable; callers fall back to memory.
func connectRedis(ctx context.Context, cfg config.RedisConfig, sugar *zap.SugaredLogger) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		sugar.Warnw("redis unavailable, using in-memory limiter and revoker", "addr", cfg.Addr, "err", err)
		rdb.Close()
		return nil
	}
	return rdb
}

type redisPinger struct{ c *redis.Client }

func (p redisPinger) PingContext(ctx context.Context) error { return p.c.Ping(ctx).Err() }

// objectStore prefers MinIO; otherwise files go to the local upload dir, which is then served.
func objectStore(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, string, error) {
	if cfg.MinioEndpoint != "" {
		s, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, "", fmt.Errorf("minio: %w", err)
		}
		return s, "", nil
	}
	s, err := storage.NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, "", err
	}
	return s, s.Root(), nil
}

func newLimiters(cfg config.Config, rdb *redis.Client, sugar *zap.SugaredLogger) (router.Limiters, error) {
	build := func(name string, limit int, window time.Duration) (ratelimit.Limiter, error) {
		if rdb == nil {
			return ratelimit.NewMemoryLimiter(limit, window), nil
		}
		return ratelimit.NewRedisFixedWindowLimiter(rdb, cfg.Redis.Prefix+":rl:"+name, limit, window, sugar.Named("ratelimit"))
	}
	var (
		l   router.Limiters
		err error
	)
	if l.General, err = build("general", cfg.HTTP.GeneralLimit, router.GeneralWindow); err != nil {
		return l, err
	}
	if l.Contact, err = build("contact", cfg.HTTP.GeneralLimit, router.GeneralWindow); err != nil {
		return l, err
	}
	if l.Login, err = build("login", cfg.HTTP.AuthLimit, router.AuthWindow); err != nil {
		return l, err
	}
	if l.Upload, err = build("upload", cfg.HTTP.UploadLimit, router.UploadWindow); err != nil {
		return l, err
	}
	return l, nil
}

// purgeSessions drops expired refresh sessions at boot and hourly after.
func purgeSessions(ctx context.Context, sessions *authrepo.SessionRepo, sugar *zap.SugaredLogger) {
	tick := time.NewTicker(time.Hour)
	defer tick.Stop()
	for {
		n, err := sessions.PurgeExpired(ctx)
		if err != nil && ctx.Err() == nil {
			sugar.Warnw("purge expired sessions failed", "err", err)
		} else if n > 0 {
			sugar.Infow("purged expired sessions", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}
