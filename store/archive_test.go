package store

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveUploadsEncryptedBody(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := NewMockS3API(ctrl)
	archiver, err := NewArchiver("cold-bucket", client, "champignon", 2)
	require.NoError(t, err)

	var captured *s3.PutObjectInput
	client.EXPECT().
		PutObject(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			captured = in
			return &s3.PutObjectOutput{}, nil
		})

	err = archiver.Archive(context.Background(), "upload-id", []byte("hello world"))
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, "cold-bucket", *captured.Bucket)
	assert.Equal(t, "upload-id", *captured.Key)
}

func TestArchivePropagatesPutObjectError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := NewMockS3API(ctrl)
	archiver, err := NewArchiver("cold-bucket", client, "champignon", 2)
	require.NoError(t, err)

	client.EXPECT().
		PutObject(gomock.Any(), gomock.Any()).
		Return(nil, assertErr("network down"))

	err = archiver.Archive(context.Background(), "upload-id", []byte("hi"))
	assert.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
