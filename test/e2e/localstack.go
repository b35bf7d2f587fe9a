package e2e

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultLocalstackEndpoint = "http://localhost:4566"

// s3Fixture hands out throwaway buckets on a Localstack instance. Buckets
// are emptied and dropped when the owning test ends.
type s3Fixture struct {
	t        *testing.T
	endpoint string
	client   *s3.Client
}

// newS3Fixture connects to $LOCALSTACK_ENDPOINT (default localhost:4566).
// It returns nil when the endpoint does not answer.
func newS3Fixture(t *testing.T) *s3Fixture {
	t.Helper()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = defaultLocalstackEndpoint
	}

	cfg, err := awsConfig.LoadDefaultConfig(context.Background(),
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		t.Fatalf("Failed to load AWS config: %v", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.ListBuckets(ctx, &s3.ListBucketsInput{}); err != nil {
		return nil
	}

	return &s3Fixture{t: t, endpoint: endpoint, client: client}
}

// bind creates a bucket for config and points its S3 backend at it.
func (f *s3Fixture) bind(t *testing.T, config *TestConfig) {
	t.Helper()

	bucket := "dittoftp-e2e-" + strings.ToLower(config.Name)
	ctx := context.Background()
	if _, err := f.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Fatalf("Failed to create bucket %s: %v", bucket, err)
	}
	t.Cleanup(func() { f.dropBucket(bucket) })

	config.s3Endpoint = f.endpoint
	config.s3Bucket = bucket
}

func (f *s3Fixture) dropBucket(bucket string) {
	ctx := context.Background()

	pages := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			f.t.Logf("Listing %s for cleanup: %v", bucket, err)
			break
		}
		for _, obj := range page.Contents {
			_, _ = f.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
		}
	}

	if _, err := f.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		f.t.Logf("Dropping bucket %s: %v", bucket, err)
	}
}
