package scene_task_registry

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// UploadAsset puts a local file into the bucket under the given key. Used by
// the upload stage for every published asset; overwriting an existing object
// is fine, so re-runs are idempotent.
func (registry *SceneTaskRegistry) UploadAsset(ctx context.Context, localFile, bucket, key string) error {
	file, err := os.Open(localFile)
	if err != nil {
		return fmt.Errorf("unable to open asset file %q, %w", localFile, err)
	}
	defer file.Close()

	_, err = registry.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("couldn't upload %q to S3 bucket %q as %q, %w", localFile, bucket, key, err)
	}

	log.Printf("Asset uploaded to S3: %s/%s", bucket, key)
	return nil
}

func (registry *SceneTaskRegistry) DownloadFileFromS3(ctx context.Context, s3Bucket, s3Path, destination string) error {
	object, err := registry.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s3Bucket),
		Key:    aws.String(s3Path),
	})
	if err != nil {
		return fmt.Errorf("couldn't download file %q from S3 bucket %q, %w", s3Path, s3Bucket, err)
	}
	defer object.Body.Close()

	destFile, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("failed to create/overwrite destination file %q, %w", destination, err)
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, object.Body)
	if err != nil {
		return fmt.Errorf("failed to copy file content from S3 to local file, %w", err)
	}

	absPath, _ := filepath.Abs(destination)
	log.Printf("Successfully downloaded %q from S3 bucket %q to %q", s3Path, s3Bucket, absPath)
	return nil
}
