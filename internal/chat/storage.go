// internal/chat/storage.go
// Media reference resolution against S3. Uploads themselves happen
// through the channel provider; this service only verifies that a
// referenced object exists and fills in metadata.

package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// MediaInfo is what the pipeline attaches to a media message
type MediaInfo struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type"`
}

// StorageService resolves a media URL into verified metadata
type StorageService interface {
	ResolveMedia(ctx context.Context, mediaURL string, messageType MessageType) (*MediaInfo, error)
}

type s3Storage struct {
	s3Client   *s3.S3
	bucketName string
	cdnURL     string
}

// NewS3Storage creates the S3-backed media resolver
func NewS3Storage(awsSession *session.Session, bucketName, cdnURL string) StorageService {
	return &s3Storage{
		s3Client:   s3.New(awsSession),
		bucketName: bucketName,
		cdnURL:     cdnURL,
	}
}

// ResolveMedia heads the object behind the URL and returns its
// metadata. A thumbnail is referenced by convention next to the
// original for images and videos.
func (s *s3Storage) ResolveMedia(ctx context.Context, mediaURL string, messageType MessageType) (*MediaInfo, error) {
	key := strings.TrimPrefix(mediaURL, s.cdnURL+"/")

	result, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("media object not found: %w", err)
	}

	info := &MediaInfo{
		URL:         mediaURL,
		Size:        aws.Int64Value(result.ContentLength),
		ContentType: aws.StringValue(result.ContentType),
	}

	if messageType == TypeImage || messageType == TypeVideo {
		info.ThumbnailURL = s.thumbnailURL(key)
	}

	return info, nil
}

// thumbnailURL derives the conventional thumbnail location
// (thumbnails/<key>.jpg) without checking for its existence; clients
// fall back to the original if it 404s.
func (s *s3Storage) thumbnailURL(key string) string {
	return fmt.Sprintf("%s/thumbnails/%s.jpg", s.cdnURL, key)
}

// mockStorage accepts every media reference, for development
type mockStorage struct{}

// NewMockStorage creates a resolver that trusts all references
func NewMockStorage() StorageService {
	return &mockStorage{}
}

func (m *mockStorage) ResolveMedia(ctx context.Context, mediaURL string, messageType MessageType) (*MediaInfo, error) {
	log.Printf("[MOCK STORAGE] Accepting media reference %s at %s", mediaURL, time.Now().Format(time.RFC3339))
	return &MediaInfo{URL: mediaURL}, nil
}
