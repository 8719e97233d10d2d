package forge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MirrorClient wraps the S3 client for the Cloudflare R2 bucket that
// hosts published builds.
type MirrorClient struct {
	Client     *s3.Client
	BucketName string
}

// NewMirrorClient initializes an R2 client from configuration values.
func NewMirrorClient(cfg *Config) (*MirrorClient, error) {
	accountID := cfg.Values["R2_ACCOUNT_ID"]
	accessKey := cfg.Values["R2_ACCESS_KEY_ID"]
	secretKey := cfg.Values["R2_SECRET_ACCESS_KEY"]
	bucketName := cfg.Values["R2_BUCKET_NAME"]

	if accountID == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("R2 credentials missing in configuration (R2_ACCOUNT_ID, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY, R2_BUCKET_NAME)")
	}

	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
		}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(r2Resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion("auto"),
	}

	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &MirrorClient{
		Client:     client,
		BucketName: bucketName,
	}, nil
}

// UploadLocalFile uploads a file from disk to the bucket.
func (m *MirrorClient) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String("application/octet-stream"),
	})
	return err
}

// publishBinaries pushes the final executables to the mirror bucket
// under a dated prefix. Publishing is best-effort: missing credentials
// skip it silently, upload failures log and move on.
func publishBinaries(ctx context.Context, cfg *Config, layout *Layout, log *Logger) {
	if cfg.Values["R2_ACCOUNT_ID"] == "" {
		debugf("No R2 credentials, skipping publish")
		return
	}
	client, err := NewMirrorClient(cfg)
	if err != nil {
		log.Warnf("Mirror publish disabled: %v", err)
		return
	}

	prefix := "builds/" + time.Now().UTC().Format("2006-01-02")
	for _, exe := range finalBinaries {
		src := filepath.Join(layout.Installed, "bin", exe)
		if !fileExists(src) {
			continue
		}
		key := prefix + "/" + exe
		log.Infof("Uploading %s to %s", exe, key)
		if err := client.UploadLocalFile(ctx, key, src); err != nil {
			log.Warnf("Failed to upload %s: %v", exe, err)
		}
	}
}
