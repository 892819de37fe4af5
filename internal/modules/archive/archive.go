package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	appcfg "github.com/echocast/core/internal/config"
	"github.com/echocast/core/internal/models"
)

// Archiver uploads transcripts of stopped sessions to S3-compatible
// object storage and marks them archived.
type Archiver struct {
	cfg    appcfg.ArchiveConfig
	db     *gorm.DB
	client *s3.Client
	logger *zap.Logger
}

// New builds an Archiver from config. Returns an error when the archive
// block is enabled but incomplete.
func New(cfg appcfg.ArchiveConfig, db *gorm.DB, logger *zap.Logger) (*Archiver, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	region := strings.TrimSpace(cfg.Region)
	accessKey := strings.TrimSpace(cfg.AccessKeyID)
	secretKey := strings.TrimSpace(cfg.SecretAccessKey)
	if bucket == "" || region == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("incomplete archive config: bucket/region/access_key_id/secret_access_key are required")
	}

	awsCfg := aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint == "" {
			return
		}
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		o.BaseEndpoint = aws.String(strings.TrimSuffix(endpoint, "/"))
		// Custom endpoints (MinIO, R2) generally need path-style keys.
		o.UsePathStyle = true
	})

	return &Archiver{
		cfg:    cfg,
		db:     db,
		client: client,
		logger: logger,
	}, nil
}

// Run uploads every stopped, unarchived session transcript and marks the
// rows archived. Sessions with empty transcripts are marked without an
// upload.
func (a *Archiver) Run(ctx context.Context) error {
	if a.db == nil {
		return nil
	}

	var sessions []models.SessionModel
	err := a.db.WithContext(ctx).
		Where("archived = ? AND stopped_at IS NOT NULL", false).
		Order("stopped_at ASC").
		Limit(50).
		Find(&sessions).Error
	if err != nil {
		return fmt.Errorf("list unarchived sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil
	}

	uploaded := 0
	for i := range sessions {
		session := &sessions[i]
		if strings.TrimSpace(session.Transcript) != "" {
			if err := a.upload(ctx, session); err != nil {
				a.logger.Warn("transcript upload failed",
					zap.String("session_id", session.SessionID),
					zap.Error(err))
				continue
			}
			uploaded++
		}
		if err := a.db.WithContext(ctx).
			Model(&models.SessionModel{}).
			Where("id = ?", session.ID).
			Update("archived", true).Error; err != nil {
			return fmt.Errorf("mark session archived: %w", err)
		}
	}

	a.logger.Info("transcript archive pass finished",
		zap.Int("sessions", len(sessions)),
		zap.Int("uploaded", uploaded))
	return nil
}

func (a *Archiver) upload(ctx context.Context, session *models.SessionModel) error {
	key := a.objectKey(session)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(session.Transcript),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return err
	}
	a.logger.Info("transcript archived",
		zap.String("session_id", session.SessionID),
		zap.String("key", key))
	return nil
}

func (a *Archiver) objectKey(session *models.SessionModel) string {
	day := session.StartedAt
	if day.IsZero() && session.StoppedAt != nil {
		day = *session.StoppedAt
	}
	name := fmt.Sprintf("%s/%s.txt", day.UTC().Format("2006/01/02"), session.SessionID)

	prefix := strings.Trim(strings.TrimSpace(a.cfg.Prefix), "/")
	if prefix == "" {
		prefix = "transcripts"
	}
	return prefix + "/" + name
}
