package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kakigoori/internal/logger"
	"kakigoori/internal/models"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.Put(ctx, "a/b/image.jpg", []byte("jpeg"), "image/jpeg"))
	data, err := m.Get(ctx, "a/b/image.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	require.NoError(t, m.Copy(ctx, "a/b/image.jpg", "a/c/image.jpg"))
	assert.Equal(t, []string{"a/b/image.jpg", "a/c/image.jpg"}, m.Keys())

	require.NoError(t, m.Delete(ctx, "a/b/image.jpg", "missing"))
	_, err = m.Get(ctx, "a/b/image.jpg")
	assert.ErrorIs(t, err, ErrNotExist)

	err = m.Copy(ctx, "nope", "dst")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestClassify(t *testing.T) {
	err := classify("blob.Get", "k", &types.NoSuchKey{})
	assert.ErrorIs(t, err, ErrNotExist)

	err = classify("blob.Put", "k", &smithy.GenericAPIError{Code: "AccessDenied", Fault: smithy.FaultClient})
	assert.ErrorIs(t, err, ErrPermanent)
	assert.NotErrorIs(t, err, models.ErrTransientStorage)

	err = classify("blob.Put", "k", &smithy.GenericAPIError{Code: "SlowDown", Fault: smithy.FaultServer})
	assert.ErrorIs(t, err, models.ErrTransientStorage)

	err = classify("blob.Put", "k", errors.New("connection reset"))
	assert.ErrorIs(t, err, models.ErrTransientStorage)

	err = classify("blob.Put", "k", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, models.ErrTransientStorage)
}

// fakeS3 serves path-style object requests for a single bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/bucket/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3StorePutGet(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},

		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	store := NewS3StoreWithClient(client, "bucket", logger.Discard())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "0a/1b/id/10-10/image.png", []byte("png-bytes"), "image/png"))
	fake.mu.Lock()
	assert.Equal(t, []byte("png-bytes"), fake.objects["0a/1b/id/10-10/image.png"])
	fake.mu.Unlock()

	data, err := store.Get(ctx, "0a/1b/id/10-10/image.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	_, err = store.Get(ctx, "0a/1b/id/10-10/image.avif")
	assert.ErrorIs(t, err, ErrNotExist)
}
