package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// Archiver uploads one JSON report per finished rebalance job. Reports are
// written after the job's terminal status is persisted, so a failed upload
// never affects the cycle outcome.
type Archiver struct {
	client *Client
	prefix string
	logger *slog.Logger
}

// NewArchiver builds an archiver writing under the given key prefix
// (e.g. "reports").
func NewArchiver(client *Client, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		client: client,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveJob serializes the job and uploads it, returning the object key.
// Keys shard by portfolio and start date so reports stay listable:
// {prefix}/{portfolio}/{YYYY}/{MM}/{DD}/{job}.json.
func (a *Archiver) ArchiveJob(ctx context.Context, job domain.RebalanceJob) (string, error) {
	payload, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal job %s: %w", job.ID, err)
	}

	key := jobKey(a.prefix, job)

	_, err = a.client.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.client.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3blob: put job report %s: %w", key, err)
	}

	a.logger.Info("job report archived",
		slog.String("job_id", job.ID),
		slog.String("key", key))
	return key, nil
}

func jobKey(prefix string, job domain.RebalanceJob) string {
	return fmt.Sprintf("%s/%s/%s/%s.json",
		prefix, job.PortfolioID, job.StartedAt.UTC().Format("2006/01/02"), job.ID)
}
