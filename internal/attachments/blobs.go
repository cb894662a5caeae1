package attachments

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const refScheme = "minio://"

// BlobStore keeps the image bytes in object storage. Attachments reference
// them through an opaque "minio://bucket/key" ref.
type BlobStore struct {
	client *minio.Client
	bucket string
}

func NewBlobStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*BlobStore, error) {
	const op = "attachments.NewBlobStore"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Printf("created bucket %s", bucket)
	}

	return &BlobStore{client: client, bucket: bucket}, nil
}

// Put stores the bytes under parentID/attachmentID.jpg and returns the ref.
func (b *BlobStore) Put(ctx context.Context, parentID, attachmentID string, img []byte) (string, error) {
	const op = "attachments.BlobStore.Put"

	key := fmt.Sprintf("%s/%s.jpg", parentID, attachmentID)
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(img), int64(len(img)),
		minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return refScheme + b.bucket + "/" + key, nil
}

// Remove deletes the object behind a ref. Unknown or foreign refs are left
// alone.
func (b *BlobStore) Remove(ctx context.Context, ref string) error {
	const op = "attachments.BlobStore.Remove"

	rest, ok := strings.CutPrefix(ref, refScheme+b.bucket+"/")
	if !ok {
		return nil
	}
	if err := b.client.RemoveObject(ctx, b.bucket, rest, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
