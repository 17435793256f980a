package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mealdesk/mealdesk-api/config"
	"github.com/mealdesk/mealdesk-api/internal/adapters/dispatch"
	"github.com/mealdesk/mealdesk-api/internal/adapters/hris"
	schedadapter "github.com/mealdesk/mealdesk-api/internal/adapters/scheduler"
	"github.com/mealdesk/mealdesk-api/internal/adapters/tms"
	"github.com/mealdesk/mealdesk-api/internal/core"
	"github.com/mealdesk/mealdesk-api/internal/data"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	"github.com/mealdesk/mealdesk-api/internal/ports"
	"github.com/mealdesk/mealdesk-api/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Tokens     *service.TokenService
	Sessions   *service.SessionService
	Meals      *service.MealRequestService
	Attendance *service.AttendanceService
	Replicator *service.ReplicatorService
	Scheduler  *service.SchedulerService
	Registry   *service.JobRegistry
	Cache      *core.RevocationCache
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	HRStore     *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	UserRepo         *data.UserRepo
	SessionRepo      *data.SessionRepo
	RevokedTokenRepo *data.RevokedTokenRepo
	EmployeeRepo     *data.EmployeeRepo
	SecurityUserRepo *data.SecurityUserRepo
	MealRequestRepo  *data.MealRequestRepo
	SchedulerRepo    *data.SchedulerRepo
	AuditLogRepo     *data.AuditLogRepo
	CacheRepo        *data.RedisCacheRepo
}

// buildRepositories builds repositories backing service ports; no business
// rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient) *serviceRepositories {
	return &serviceRepositories{
		UserRepo:         data.NewUserRepo(db),
		SessionRepo:      data.NewSessionRepo(db),
		RevokedTokenRepo: data.NewRevokedTokenRepo(db),
		EmployeeRepo:     data.NewEmployeeRepo(db),
		SecurityUserRepo: data.NewSecurityUserRepo(db),
		MealRequestRepo:  data.NewMealRequestRepo(db),
		SchedulerRepo:    data.NewSchedulerRepo(db),
		AuditLogRepo:     data.NewAuditLogRepo(db),
		CacheRepo:        data.NewRedisCacheRepo(redisClient),
	}
}

// deferredStarter breaks the construction cycle between the in-process
// dispatcher and the scheduler: the dispatcher needs the scheduler to stamp
// started_at, the scheduler needs the dispatcher to fire jobs.
type deferredStarter struct {
	starter ports.ExecutionStarter
}

func (d *deferredStarter) MarkStarted(ctx context.Context, executionID string) error {
	if d.starter == nil {
		return nil
	}
	return d.starter.MarkStarted(ctx, executionID)
}

// NewServices wires repositories, domain services, and the scheduler.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	repos := buildRepositories(deps.DB, deps.RedisClient)

	revocationCache := core.NewRevocationCache(repos.CacheRepo, core.RevocationCacheConfig{
		RevokedTokenTTL:   cfg.Token.AccessLifetime,
		InvalidSessionTTL: core.DefaultRevocationCacheConfig().InvalidSessionTTL,
		SnapshotTTL:       cfg.Cache.SnapshotTTL,
	}, logger)

	tokens, err := service.NewTokenService(service.TokenServiceConfig{
		Secret:          cfg.Token.Secret,
		Issuer:          cfg.Token.Issuer,
		AccessLifetime:  cfg.Token.AccessLifetime,
		RefreshLifetime: cfg.Token.RefreshLifetime,
		AllowDevSecret:  cfg.Token.AllowDevSecret,
	}, nil, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build token service: %w", err)
	}

	sessions := service.NewSessionService(
		deps.DB,
		repos.UserRepo,
		repos.SessionRepo,
		repos.RevokedTokenRepo,
		repos.AuditLogRepo,
		tokens,
		service.NewBcryptHasher(0),
		revocationCache,
		service.SessionConfig{
			SessionLifetime:    cfg.Session.Lifetime,
			MaxConcurrent:      cfg.Session.MaxConcurrent,
			DefaultLocale:      cfg.Session.DefaultLocale,
			SupportedLocales:   cfg.Session.SupportedLocales,
			CookieName:         cfg.Session.CookieName,
			CookiePath:         cfg.Session.CookiePath,
			CookieDomain:       cfg.Session.CookieDomain,
			CookieSecure:       cfg.Session.CookieSecure,
			CookieSameSite:     cfg.Session.SameSite(),
			LoginRatePerMinute: cfg.Session.LoginRatePerMinute,
			LoginBurst:         cfg.Session.LoginBurst,
		},
		nil,
		logger,
	)

	hrisSource := hris.NewSource(deps.HRStore, cfg.Replication.SourceTimeout, logger)
	tmsSource := tms.NewSource(deps.HRStore, cfg.Replication.SourceTimeout, logger)

	attendance := service.NewAttendanceService(
		repos.MealRequestRepo,
		repos.EmployeeRepo,
		tmsSource,
		service.AttendanceConfig{WindowMonths: cfg.Attendance.WindowMonths},
		nil,
		logger,
	)

	replicator := service.NewReplicatorService(
		deps.DB,
		hrisSource,
		repos.UserRepo,
		repos.EmployeeRepo,
		repos.SecurityUserRepo,
		repos.AuditLogRepo,
		nil,
		logger,
	)

	meals := service.NewMealRequestService(
		deps.DB,
		repos.MealRequestRepo,
		repos.EmployeeRepo,
		repos.AuditLogRepo,
		attendance,
		nil,
		logger,
	)

	registry := service.NewJobRegistry()

	starter := &deferredStarter{}
	inProcess := dispatch.NewInProcess(registry, starter, logger)
	var dispatcher ports.Dispatcher = inProcess
	if cfg.Queue.Enabled {
		dispatcher = dispatch.NewQueued(deps.RedisClient, cfg.Queue.Key, inProcess, logger)
	}

	scheduler := service.NewSchedulerService(
		deps.DB,
		repos.SchedulerRepo,
		dispatcher,
		registry,
		service.SchedulerConfig{
			InstanceName:     cfg.Scheduler.InstanceName,
			Mode:             schedulerMode(cfg.Scheduler.Mode),
			LockTTL:          cfg.Scheduler.LockTTL,
			JobTimeout:       cfg.Scheduler.JobTimeout,
			TriggerTimeout:   cfg.Scheduler.TriggerTimeout,
			StaleAfter:       cfg.Scheduler.StaleAfter,
			HistoryRetention: cfg.Scheduler.HistoryRetention,
		},
		nil,
		logger,
	)
	starter.starter = scheduler

	container := ServiceContainer{
		Tokens:     tokens,
		Sessions:   sessions,
		Meals:      meals,
		Attendance: attendance,
		Replicator: replicator,
		Scheduler:  scheduler,
		Registry:   registry,
		Cache:      revocationCache,
	}
	registerJobs(&container)
	return container, nil
}

func schedulerMode(mode config.SchedulerMode) model.SchedulerInstanceMode {
	if mode == config.SchedulerStandalone {
		return model.SchedulerModeStandalone
	}
	return model.SchedulerModeEmbedded
}

// registerJobs binds the built-in task functions the scheduler can fire.
// Definitions are seeded into the task_functions lookup on startup.
func registerJobs(c *ServiceContainer) {
	c.Registry.Register(model.TaskFunction{
		Key:          service.TaskHRISReplication,
		FunctionPath: "service.ReplicatorService.RunAsJob",
		NameEn:       "HRIS Replication",
		NameAr:       "مزامنة بيانات الموارد البشرية",
		IsActive:     true,
	}, c.Replicator.RunAsJob)

	c.Registry.Register(model.TaskFunction{
		Key:          service.TaskAttendanceSync,
		FunctionPath: "service.AttendanceService.RunAsJob",
		NameEn:       "Attendance Sync",
		NameAr:       "مزامنة الحضور",
		IsActive:     true,
	}, c.Attendance.RunAsJob)

	c.Registry.Register(model.TaskFunction{
		Key:          service.TaskSchedulerCleanup,
		FunctionPath: "service.SchedulerService.Maintain",
		NameEn:       "Scheduler Cleanup",
		NameAr:       "صيانة المجدول",
		IsActive:     true,
	}, c.Scheduler.Maintain)

	c.Registry.Register(model.TaskFunction{
		Key:          service.TaskExecutionHistoryPurge,
		FunctionPath: "service.SchedulerService.PurgeHistory",
		NameEn:       "Execution History Purge",
		NameAr:       "تنظيف سجل التنفيذ",
		IsActive:     true,
	}, c.Scheduler.PurgeHistory)

	c.Registry.Register(model.TaskFunction{
		Key:          service.TaskRevokedTokenCleanup,
		FunctionPath: "service.SessionService.PurgeExpiredRevocations",
		NameEn:       "Revoked Token Cleanup",
		NameAr:       "تنظيف الرموز الملغاة",
		IsActive:     true,
	}, func(ctx context.Context) (string, error) {
		n, err := c.Sessions.PurgeExpiredRevocations(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("purged %d expired revocation records", n), nil
	})
}

// RunScheduler drives the scheduler loops until ctx is cancelled. Callers
// should skip it entirely when the scheduler mode is disabled.
func RunScheduler(ctx context.Context, c *ServiceContainer, cfg config.SchedulerConfig, logger *slog.Logger) error {
	runner := schedadapter.NewRunner(c.Scheduler, schedadapter.RunnerConfig{
		TickInterval:      cfg.TickInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, logger)
	return runner.Run(ctx)
}
