package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/filesystem"
	"github.com/marmos91/dittoftp/pkg/filesystem/memory"
	"github.com/marmos91/dittoftp/pkg/filesystem/native"
	"github.com/marmos91/dittoftp/pkg/filesystem/s3"
	"github.com/mitchellh/mapstructure"
)

// CreateFileSystem creates the file system backend based on configuration.
//
// This factory function uses the Type field to determine which backend
// to create, then decodes the type-specific configuration from the corresponding
// map and passes it to the backend's constructor.
//
// Supported types:
//   - "native": Uses pkg/filesystem/native (local directory tree)
//   - "memory": Uses pkg/filesystem/memory (volatile, for tests and demos)
//   - "s3": Uses pkg/filesystem/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: File system configuration
//   - s3Metrics: Optional S3 request metrics (nil = no metrics)
//
// Returns:
//   - filesystem.Factory: Initialized backend
//   - error: Configuration or initialization error
func CreateFileSystem(ctx context.Context, cfg *FileSystemConfig, s3Metrics s3.Metrics) (filesystem.Factory, error) {
	switch cfg.Type {
	case "native":
		return createNativeFileSystem(cfg.Native)
	case "memory":
		logger.Warn("Using in-memory file system: uploaded files are lost on restart")
		return memory.New(), nil
	case "s3":
		return createS3FileSystem(ctx, cfg.S3, s3Metrics)
	default:
		return nil, fmt.Errorf("unknown filesystem type: %q", cfg.Type)
	}
}

// createNativeFileSystem creates a backend rooted at a local directory.
func createNativeFileSystem(options map[string]any) (filesystem.Factory, error) {
	type NativeFileSystemConfig struct {
		Root            string `mapstructure:"root"`
		CaseInsensitive bool   `mapstructure:"case_insensitive"`
		CreateHome      bool   `mapstructure:"create_home"`
	}

	var fsCfg NativeFileSystemConfig
	if err := mapstructure.Decode(options, &fsCfg); err != nil {
		return nil, fmt.Errorf("failed to decode native filesystem config: %w", err)
	}

	if fsCfg.Root == "" {
		return nil, fmt.Errorf("native filesystem: root is required")
	}

	factory, err := native.New(native.Config{
		Root:            fsCfg.Root,
		CaseInsensitive: fsCfg.CaseInsensitive,
		CreateHome:      fsCfg.CreateHome,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create native filesystem: %w", err)
	}

	logger.Info("Native filesystem initialized: root=%s, case_insensitive=%v, create_home=%v",
		fsCfg.Root, fsCfg.CaseInsensitive, fsCfg.CreateHome)

	return factory, nil
}

// createS3FileSystem creates an S3-based backend.
func createS3FileSystem(ctx context.Context, options map[string]any, m s3.Metrics) (filesystem.Factory, error) {
	type S3FileSystemConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var fsCfg S3FileSystemConfig
	if err := mapstructure.Decode(options, &fsCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 filesystem config: %w", err)
	}

	if fsCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 filesystem: bucket is required")
	}
	if fsCfg.Region == "" {
		return nil, fmt.Errorf("S3 filesystem: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(fsCfg.Region))

	// Static credentials if provided, otherwise the default credential chain
	if fsCfg.AccessKeyID != "" && fsCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			fsCfg.AccessKeyID,
			fsCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Default to 10 attempts (AWS default is 3)
	maxRetries := fsCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		// Custom endpoint (MinIO, Localstack) with path-style addressing
		if fsCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(fsCfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 File System
	// ========================================================================

	factory, err := s3.New(ctx, s3.Config{
		Client:    client,
		Bucket:    fsCfg.Bucket,
		KeyPrefix: fsCfg.KeyPrefix,
		Metrics:   m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 filesystem: %w", err)
	}

	logger.Info("S3 filesystem initialized: bucket=%s, region=%s, prefix=%s",
		fsCfg.Bucket, fsCfg.Region, fsCfg.KeyPrefix)

	return factory, nil
}
