package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/izavyalov-dev/delta-qa/analysis"
)

// S3Config configures the S3 archiver.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes raw deliveries and final reports to S3 as JSON objects.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Archiver loads AWS config and prepares an archiver.
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return newS3Archiver(s3.NewFromConfig(awsCfg), cfg), nil
}

func newS3Archiver(client objectPutter, cfg S3Config) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}
}

func (a *S3Archiver) Name() string { return "s3_archive" }

// ArchiveWebhook stores a delivery under webhooks/YYYY/MM/DD/<delivery>.json
// and returns its s3:// URI.
func (a *S3Archiver) ArchiveWebhook(ctx context.Context, record WebhookRecord) (string, error) {
	if record.DeliveryID == "" {
		return "", fmt.Errorf("delivery id is required")
	}
	ts := record.Timestamp.UTC()
	key := a.objectKey("webhooks", ts.Format("2006"), ts.Format("01"), ts.Format("02"), record.DeliveryID+".json")
	return a.putJSON(ctx, key, record)
}

// ArchiveReport stores a report under reports/<owner>/<repo>/<pr>/<run>.json.
func (a *S3Archiver) ArchiveReport(ctx context.Context, report analysis.AnalysisReport) (string, error) {
	if report.RunID == "" {
		return "", fmt.Errorf("report run id is required")
	}
	key := a.objectKey("reports", report.Repository, strconv.Itoa(report.PRNumber), report.RunID+".json")
	return a.putJSON(ctx, key, report)
}

// Publish lets the archiver act as a report sink.
func (a *S3Archiver) Publish(ctx context.Context, report analysis.AnalysisReport) error {
	_, err := a.ArchiveReport(ctx, report)
	return err
}

func (a *S3Archiver) putJSON(ctx context.Context, key string, value any) (string, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

func (a *S3Archiver) objectKey(parts ...string) string {
	if a.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{a.prefix}, parts...)...)
}
