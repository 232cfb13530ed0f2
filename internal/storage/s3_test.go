package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirrorKeys(t *testing.T) {
	m, err := NewS3Mirror(context.Background(), Options{
		Bucket:    "docs",
		Prefix:    "/pdf/outputs/",
		Region:    "eu-central-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)

	assert.Equal(t, "pdf/outputs/merged_op.pdf", m.Key("merged_op.pdf"))
	assert.Equal(t, "pdf/outputs/merged_op.pdf", m.Key("/data/outputs/merged_op.pdf"))
	assert.Equal(t, "s3://docs/pdf/outputs/split_op_part001_p1-2.pdf", m.URL("split_op_part001_p1-2.pdf"))
}

func TestMirrorRequiresBucket(t *testing.T) {
	_, err := NewS3Mirror(context.Background(), Options{})
	assert.Error(t, err)
}

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, "", normalizePrefix(""))
	assert.Equal(t, "", normalizePrefix("/"))
	assert.Equal(t, "a/b/", normalizePrefix("a/b"))
}
