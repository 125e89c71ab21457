// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package awsclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	downloadErrors metric.Int64Counter
	downloadCount  metric.Int64Counter
	downloadBytes  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/floodlake/internal/awsclient")

	var err error
	downloadErrors, err = meter.Int64Counter(
		"floodlake.s3.download.errors",
		metric.WithDescription("Number of S3 download errors"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.errors counter: %w", err))
	}

	downloadCount, err = meter.Int64Counter(
		"floodlake.s3.download.count",
		metric.WithDescription("Number of S3 downloads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.count counter: %w", err))
	}

	downloadBytes, err = meter.Int64Counter(
		"floodlake.s3.download.bytes",
		metric.WithDescription("Bytes downloaded from S3"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.bytes counter: %w", err))
	}
}

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("s3 object not found")

func IsNotFound(err error) bool {
	var noKeyErr *types.NoSuchKey
	var notFound *types.NotFound
	return errors.Is(err, ErrNotFound) || errors.As(err, &noKeyErr) || errors.As(err, &notFound)
}

// DownloadFile fetches bucket/key into dst. The object is written to a temp
// file in dst's directory and renamed into place only once complete.
func (c *S3Client) DownloadFile(ctx context.Context, bucket, key, dst string) (int64, error) {
	ctx, span := c.Tracer.Start(ctx, "awsclient.DownloadFile",
		trace.WithAttributes(
			attribute.String("bucketID", bucket),
			attribute.String("objectID", key),
		),
	)
	defer span.End()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create parent for %s: %w", dst, err)
	}
	f, err := os.CreateTemp(filepath.Dir(dst), ".s3-*-"+filepath.Base(dst))
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	downloader := manager.NewDownloader(c.Client)
	size, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		reason := "unknown"
		if IsNotFound(err) {
			reason = "not_found"
			err = fmt.Errorf("%w: %s/%s: %w", ErrNotFound, bucket, key, err)
		} else {
			err = fmt.Errorf("download %s/%s: %w", bucket, key, err)
		}
		downloadErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("reason", reason),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		return 0, err
	}

	if err := os.Rename(f.Name(), dst); err != nil {
		_ = os.Remove(f.Name())
		return 0, fmt.Errorf("rename %s: %w", dst, err)
	}

	downloadCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bucket", bucket),
	))
	downloadBytes.Add(ctx, size, metric.WithAttributes(
		attribute.String("bucket", bucket),
	))
	return size, nil
}
