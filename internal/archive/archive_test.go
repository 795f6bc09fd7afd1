package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/izavyalov-dev/delta-qa/analysis"
)

type fakePutter struct {
	keys   []string
	bodies [][]byte
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.keys = append(f.keys, *params.Key)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3ArchiverKeys(t *testing.T) {
	putter := &fakePutter{}
	archiver := newS3Archiver(putter, S3Config{Bucket: "qa-archive", Prefix: "/delta-qa/"})

	uri, err := archiver.ArchiveWebhook(context.Background(), WebhookRecord{
		Timestamp:  time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
		DeliveryID: "abc-123",
		EventType:  "pull_request",
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://qa-archive/delta-qa/webhooks/2026/02/03/abc-123.json", uri)

	report := analysis.Assemble(analysis.AssembleInput{
		RunID:   "run-9",
		Subject: analysis.Subject{Repository: "acme/api", PRNumber: 42},
		Status:  analysis.StatusCompleted,
	})
	require.NoError(t, archiver.Publish(context.Background(), report))
	require.Len(t, putter.keys, 2)
	assert.Equal(t, "delta-qa/reports/acme/api/42/run-9.json", putter.keys[1])

	var decoded analysis.AnalysisReport
	require.NoError(t, json.Unmarshal(putter.bodies[1], &decoded))
	assert.Equal(t, analysis.StatusCompleted, decoded.Status)
}

func TestS3ArchiverRequiresIDs(t *testing.T) {
	archiver := newS3Archiver(&fakePutter{}, S3Config{Bucket: "b"})
	_, err := archiver.ArchiveWebhook(context.Background(), WebhookRecord{})
	assert.Error(t, err)
	_, err = archiver.ArchiveReport(context.Background(), analysis.AnalysisReport{})
	assert.Error(t, err)
}

func TestAuditLogAppendAndPrune(t *testing.T) {
	dir := t.TempDir()
	log, err := NewAuditLog(dir)
	require.NoError(t, err)
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return now }

	require.NoError(t, log.Append(WebhookRecord{DeliveryID: "d-1", EventType: "pull_request", Status: "processing", Payload: json.RawMessage(`{"secret":"x"}`)}))
	require.NoError(t, log.Append(WebhookRecord{DeliveryID: "d-2", EventType: "pull_request", Status: "duplicate"}))

	file, err := os.Open(filepath.Join(dir, "webhooks-2026-05-10.jsonl"))
	require.NoError(t, err)
	defer file.Close()
	var lines []WebhookRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record WebhookRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		lines = append(lines, record)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "d-1", lines[0].DeliveryID)
	assert.Nil(t, lines[0].Payload)

	old := filepath.Join(dir, "webhooks-2026-04-01.jsonl")
	require.NoError(t, os.WriteFile(old, []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644))

	removed, err := log.Prune(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)
}
