package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/echocast/core/internal/config"
	"github.com/echocast/core/internal/models"
	"github.com/echocast/core/internal/modules/archive"
	"github.com/echocast/core/internal/modules/pipeline"
	pkgcron "github.com/echocast/core/internal/pkg/cron"
)

const (
	healthReportRetention = 30 * 24 * time.Hour
	staleThreadMaxIdle    = 48 * time.Hour
)

// registerCronJobs registers all scheduled background jobs.
func registerCronJobs(sched *pkgcron.Scheduler, db *gorm.DB, cfg *config.AppConfig, svc *pipeline.Service, logger *zap.Logger) {
	cronLogger := logger.Named("CronService")

	sched.Register(pkgcron.Job{
		Name:        "close_stale_threads",
		Description: "Close story threads idle beyond the proximity window",
		Interval:    time.Hour,
		Fn: func(ctx context.Context) error {
			maxIdle := staleThreadMaxIdle
			if hours := cfg.Pipeline.Threads.ProximityHours; hours > 0 {
				maxIdle = time.Duration(hours) * time.Hour
			}
			closed := svc.CloseStaleThreads(maxIdle)
			if closed > 0 {
				cronLogger.Info(fmt.Sprintf("closed %d stale story threads", closed))
			}
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "cleanup_health_reports",
		Description: "Delete persisted health reports older than 30 days",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			cutoff := time.Now().Add(-healthReportRetention)
			result := db.WithContext(ctx).
				Unscoped().
				Where("created_at < ?", cutoff).
				Delete(&models.HealthReportModel{})
			if result.Error != nil {
				cronLogger.Warn("health report cleanup failed", zap.Error(result.Error))
				return result.Error
			}
			if result.RowsAffected > 0 {
				cronLogger.Info(fmt.Sprintf("deleted %d old health reports", result.RowsAffected))
			}
			return nil
		},
	})

	if cfg.Archive.Enable {
		archiver, err := archive.New(cfg.Archive, db, logger)
		if err != nil {
			cronLogger.Warn("transcript archiving disabled", zap.Error(err))
			return
		}
		sched.Register(pkgcron.Job{
			Name:        "archive_transcripts",
			Description: "Upload stopped session transcripts to object storage",
			Interval:    time.Hour,
			Fn:          archiver.Run,
		})
	}
}
