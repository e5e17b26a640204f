package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"auction-ledger/internal/config"
	"auction-ledger/internal/models"
)

// Exporter writes settled outcomes as JSON documents to an S3 bucket.
type Exporter struct {
	client *s3.Client
	bucket string
}

// NewExporter builds an exporter from config; supports custom endpoints for
// S3-compatible stores like MinIO.
func NewExporter(ctx context.Context, cfg config.Config) (*Exporter, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArchiveS3Region),
	}
	if cfg.ArchiveS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArchiveS3Endpoint,
					HostnameImmutable: cfg.ArchiveS3PathStyle,
					SigningRegion:     cfg.ArchiveS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArchiveS3PathStyle
	})
	return &Exporter{client: client, bucket: cfg.ArchiveS3Bucket}, nil
}

// RecordSettlement uploads the outcome under settlements/{auction_id}.json.
// Keys are deterministic per auction so retried stops overwrite in place.
func (e *Exporter) RecordSettlement(ctx context.Context, o models.Outcome) error {
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outcome %d: %w", o.AuctionID, err)
	}
	key := fmt.Sprintf("settlements/%d.json", o.AuctionID)
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload settlement %d: %w", o.AuctionID, err)
	}
	return nil
}
