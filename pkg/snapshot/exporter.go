package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// DailyEntry is one UTC calendar-day bucket of the published snapshot.
type DailyEntry struct {
	Date      string  `json:"date"`
	AmountRaw string  `json:"amountRaw"`
	AmountUI  float64 `json:"amountUI"`
}

// TokenFees is the per-token section of the snapshot artifact.
type TokenFees struct {
	Mint                string       `json:"mint"`
	Symbol              string       `json:"symbol"`
	Decimals            int          `json:"decimals"`
	TotalAmountRaw      string       `json:"totalAmountRaw"`
	TotalAmountUI       float64      `json:"totalAmountUI"`
	LastTransactionTime int64        `json:"lastTransactionTime"` // unix ms
	DailyFees           []DailyEntry `json:"dailyFees"`
}

// Document is the externally published snapshot. It is regenerated wholesale
// on every aggregation run; consumers treat it as replace-only.
type Document struct {
	LastUpdatedTimestamp int64       `json:"lastUpdatedTimestamp"` // unix ms
	FeesByToken          []TokenFees `json:"feesByToken"`
}

// UIAmount converts a raw integer amount to its human scale
// (raw / 10^decimals). The raw string is parsed with arbitrary precision;
// only the final scaling result is a float.
func UIAmount(raw string, decimals int) float64 {
	num, ok := new(big.Rat).SetString(raw)
	if !ok {
		return 0
	}
	if decimals > 0 {
		den := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
		num.Quo(num, new(big.Rat).SetInt(den))
	}
	f, _ := num.Float64()
	return f
}

// ObjectPutter is the slice of the S3 API used by the exporter.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Exporter publishes the snapshot artifact to a fixed, well-known path.
type Exporter struct {
	dir      string
	filename string
	s3Bucket string
	s3Key    string
	s3Client ObjectPutter
	logger   *zap.Logger
}

// Opts configures an Exporter. S3 mirroring is enabled when both S3Bucket
// and S3Client are set.
type Opts struct {
	Dir      string
	Filename string
	S3Bucket string
	S3Key    string
	S3Client ObjectPutter
	Logger   *zap.Logger
}

// New creates a snapshot exporter.
func New(o Opts) *Exporter {
	if o.Filename == "" {
		o.Filename = "fee-snapshot.json"
	}
	if o.S3Key == "" {
		o.S3Key = o.Filename
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Exporter{
		dir:      o.Dir,
		filename: o.Filename,
		s3Bucket: o.S3Bucket,
		s3Key:    o.S3Key,
		s3Client: o.S3Client,
		logger:   o.Logger,
	}
}

// Path returns the fixed artifact location.
func (e *Exporter) Path() string {
	return filepath.Join(e.dir, e.filename)
}

// Write publishes the document atomically: the JSON is written to a
// temporary file in the target directory, fsynced, then renamed over the
// artifact so a concurrent reader never observes a partial file.
func (e *Exporter) Write(ctx context.Context, doc *Document) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir %s: %w", e.dir, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	target := e.Path()

	tmp, err := os.CreateTemp(e.dir, e.filename+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("publish snapshot: %w", err)
	}

	e.logger.Info("Snapshot published",
		zap.String("path", target),
		zap.Int("tokens", len(doc.FeesByToken)),
		zap.Int("bytes", len(data)))

	e.mirrorToS3(ctx, data)

	return target, nil
}

// mirrorToS3 uploads the artifact to the configured bucket. Best effort:
// the local artifact is already published, so mirror failures log and move on.
func (e *Exporter) mirrorToS3(ctx context.Context, data []byte) {
	if e.s3Bucket == "" || e.s3Client == nil {
		return
	}

	uploadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(e.s3Bucket),
		Key:         aws.String(e.s3Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}

	if _, err := e.s3Client.PutObject(uploadCtx, input); err != nil {
		e.logger.Warn("Failed to mirror snapshot to S3",
			zap.String("bucket", e.s3Bucket),
			zap.String("key", e.s3Key),
			zap.Error(err))
		return
	}

	e.logger.Info("Snapshot mirrored to S3",
		zap.String("bucket", e.s3Bucket),
		zap.String("key", e.s3Key))
}
