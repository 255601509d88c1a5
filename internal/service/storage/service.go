package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tunelink-backend/pkg/constants"
	apperrors "tunelink-backend/pkg/errors"
	"tunelink-backend/pkg/logger"

	"go.uber.org/zap"
)

// Service handles stream recording storage in MinIO. Hosts upload
// recordings directly via presigned PUT URLs; viewers replay them via
// presigned GET URLs, so recording bytes never pass through the API.
type Service struct {
	client *minio.Client
	bucket string
}

// NewService creates a new recording storage service and ensures the
// recordings bucket exists
func NewService(endpoint, accessKey, secretKey string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, constants.RecordingBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, constants.RecordingBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("Created recording bucket",
			zap.String("bucket", constants.RecordingBucket))
	}

	return &Service{
		client: client,
		bucket: constants.RecordingBucket,
	}, nil
}

// RecordingObjectKey returns the object key for a stream's recording
func RecordingObjectKey(streamID uuid.UUID) string {
	return fmt.Sprintf("streams/%s/recording.mp4", streamID)
}

// GenerateUploadURLOutput contains a presigned upload URL
type GenerateUploadURLOutput struct {
	ObjectKey string    `json:"object_key"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GenerateRecordingUploadURL creates a presigned PUT URL the host uses to
// upload a stream recording
func (s *Service) GenerateRecordingUploadURL(ctx context.Context, streamID uuid.UUID) (*GenerateUploadURLOutput, error) {
	objectKey := RecordingObjectKey(streamID)

	presignedURL, err := s.client.PresignedPutObject(ctx, s.bucket, objectKey, constants.PresignedURLExpiry)
	if err != nil {
		return nil, apperrors.StorageError(err)
	}

	return &GenerateUploadURLOutput{
		ObjectKey: objectKey,
		UploadURL: presignedURL.String(),
		ExpiresAt: time.Now().Add(constants.PresignedURLExpiry),
	}, nil
}

// PresignedRecordingURL creates a presigned GET URL for a recording
// object. The object must already exist; presigning a missing key would
// hand out a URL that 404s on first use.
func (s *Service) PresignedRecordingURL(ctx context.Context, objectName string) (string, error) {
	exists, err := s.RecordingExists(ctx, objectName)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", apperrors.NotFoundError("Recording")
	}

	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, constants.PresignedURLExpiry, url.Values{})
	if err != nil {
		return "", apperrors.StorageError(err)
	}
	return presignedURL.String(), nil
}

// RecordingExists checks whether a recording object has been uploaded
func (s *Service) RecordingExists(ctx context.Context, objectName string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, apperrors.StorageError(err)
	}
	return true, nil
}

// DeleteRecording removes a recording object
func (s *Service) DeleteRecording(ctx context.Context, objectName string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return apperrors.StorageError(err)
	}
	return nil
}
