package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kakigoori/internal/auth"
	"kakigoori/internal/blob"
	"kakigoori/internal/codec"
	"kakigoori/internal/images"
	"kakigoori/internal/images/imagestest"
	"kakigoori/internal/logger"
	"kakigoori/internal/metrics"
	"kakigoori/internal/models"
)

const publicBase = "https://cdn.example.com/bucket"

type staticKeys map[uuid.UUID]models.AuthorizationKey

func (k staticKeys) GetAuthorizationKey(_ context.Context, id uuid.UUID) (*models.AuthorizationKey, error) {
	key, ok := k[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &key, nil
}

type testEnv struct {
	handler  http.Handler
	store    *imagestest.Store
	uploader string
	worker   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := models.DefaultConfig()
	cfg.Server.PublicBaseURL = publicBase + "/"
	cfg.Server.MaxUploadBytes = 1 << 20

	log := logger.Discard()
	m := metrics.New("kakigoori")
	store := imagestest.NewStore()
	svc := images.NewService(images.Deps{
		Store:   store,
		Blobs:   blob.NewMemoryStore(),
		Codec:   codec.New(codec.Options{}),
		Metrics: m,
		Log:     log,
	})

	uploader := models.AuthorizationKey{ID: uuid.New(), Name: "uploader", CanUploadImage: true}
	worker := models.AuthorizationKey{ID: uuid.New(), Name: "worker", CanUploadVariant: true}
	gate := auth.NewGate(staticKeys{uploader.ID: uploader, worker.ID: worker}, nil, 0, log)

	srv := NewServer(cfg, svc, gate, m, log)
	return &testEnv{handler: srv.Handler(), store: store, uploader: uploader.ID.String(), worker: worker.ID.String()}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return e.do(req)
}

func multipartRequest(t *testing.T, path, key string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "upload.bin")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if key != "" {
		req.Header.Set("Authorization", key)
	}
	return req
}

func jpegFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 120, B: 220, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type uploadResponse struct {
	Created bool      `json:"created"`
	ID      uuid.UUID `json:"id"`
	Error   string    `json:"error"`
}

func (e *testEnv) upload(t *testing.T, data []byte) uploadResponse {
	t.Helper()
	w := e.do(multipartRequest(t, "/upload", e.uploader, nil, data))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestUploadRequiresImageCapability(t *testing.T) {
	env := newTestEnv(t)
	data := jpegFixture(t, 40, 20)

	for _, key := range []string{"", "garbage", uuid.NewString(), env.worker} {
		w := env.do(multipartRequest(t, "/upload", key, nil, data))
		assert.Equal(t, http.StatusForbidden, w.Code, "key %q", key)
	}
	assert.Equal(t, 0, env.store.ImageCount())
}

func TestUploadCreatesThenDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	data := jpegFixture(t, 800, 400)

	first := env.upload(t, data)
	assert.True(t, first.Created)
	assert.NotEqual(t, uuid.Nil, first.ID)

	second := env.upload(t, data)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.White}), nil))

	w := env.do(multipartRequest(t, "/upload", env.uploader, nil, buf.Bytes()))
	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["created"])
	assert.NotEmpty(t, resp["error"])
	assert.Equal(t, 0, env.store.ImageCount())
}

func TestUploadWithoutFile(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(multipartRequest(t, "/upload", env.uploader, map[string]string{"name": "x"}, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeRedirects(t *testing.T) {
	env := newTestEnv(t)
	id := env.upload(t, jpegFixture(t, 800, 400)).ID
	hex := models.ImagePrefix(id)

	cases := []struct {
		name     string
		path     string
		location string
	}{
		{"full auto", "/" + id.String() + "/auto", publicBase + "/" + hex + "/800-400/image.jpg"},
		{"full original", "/" + id.String() + "/original", publicBase + "/" + hex + "/800-400/image.jpg"},
		{"thumbnail", "/" + id.String() + "/original/thumbnail", publicBase + "/" + hex + "/600-300/image.jpg"},
		{"height", "/" + id.String() + "/height/200/auto", publicBase + "/" + hex + "/400-200/image.jpg"},
		{"width clamped", "/" + id.String() + "/width/5000/original", publicBase + "/" + hex + "/800-400/image.jpg"},
		{"width", "/" + id.String() + "/width/333/jpg", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.get(tc.path, "")
			if tc.location == "" {
				// Explicit encodings never generate.
				assert.Equal(t, http.StatusNotFound, w.Code)
				return
			}
			require.Equal(t, http.StatusFound, w.Code, w.Body.String())
			assert.Equal(t, tc.location, w.Header().Get("Location"))
		})
	}

	w := env.get("/"+id.String()+"/auto", "")
	assert.Equal(t, "Accept", w.Header().Get("Vary"))
}

func TestServeErrors(t *testing.T) {
	env := newTestEnv(t)
	id := env.upload(t, jpegFixture(t, 80, 40)).ID

	cases := []struct {
		path   string
		status int
		msg    string
	}{
		{"/not-a-uuid/auto", http.StatusNotFound, "Image not found"},
		{"/" + uuid.NewString() + "/auto", http.StatusNotFound, "Image not found"},
		{"/" + id.String() + "/avif", http.StatusNotFound, "Image version not available"},
		{"/" + id.String() + "/height/abc/auto", http.StatusBadRequest, "Bad request"},
		{"/" + id.String() + "/width/0/auto", http.StatusBadRequest, "Bad request"},
	}
	for _, tc := range cases {
		w := env.get(tc.path, "")
		assert.Equal(t, tc.status, w.Code, tc.path)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tc.msg, body["error"], tc.path)
	}
}

type listResponse struct {
	Variants []struct {
		ImageID  uuid.UUID `json:"image_id"`
		TaskID   uuid.UUID `json:"task_id"`
		Width    int       `json:"width"`
		Height   int       `json:"height"`
		FileType string    `json:"file_type"`
	} `json:"variants"`
}

func (e *testEnv) listTasks(t *testing.T, encoding string) listResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/conversion_tasks/"+encoding, nil)
	req.Header.Set("Authorization", e.worker)
	w := e.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWorkerRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	id := env.upload(t, jpegFixture(t, 800, 400)).ID

	req := httptest.NewRequest(http.MethodGet, "/conversion_tasks/webp", nil)
	req.Header.Set("Authorization", env.uploader)
	assert.Equal(t, http.StatusForbidden, env.do(req).Code)

	assert.Empty(t, env.listTasks(t, "gif").Variants)

	list := env.listTasks(t, "webp")
	require.Len(t, list.Variants, 1)
	task := list.Variants[0]
	assert.Equal(t, id, task.ImageID)
	assert.Equal(t, 800, task.Width)
	assert.Equal(t, 400, task.Height)
	assert.Equal(t, "jpg", task.FileType)

	w := env.do(multipartRequest(t, "/conversion_tasks/upload_variant", env.worker, nil, []byte("webp")))
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing task_id")

	fields := map[string]string{"task_id": task.TaskID.String()}
	w = env.do(multipartRequest(t, "/conversion_tasks/upload_variant", env.worker, fields, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing file")

	w = env.do(multipartRequest(t, "/conversion_tasks/upload_variant", env.worker, fields, []byte("webp")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = env.do(multipartRequest(t, "/conversion_tasks/upload_variant", env.worker, fields, []byte("webp")))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, env.listTasks(t, "webp").Variants)

	hex := models.ImagePrefix(id)
	w = env.get("/"+id.String()+"/auto", "image/webp,*/*")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, publicBase+"/"+hex+"/800-400/image.webp", w.Header().Get("Location"))

	w = env.get("/"+id.String()+"/auto", "image/png")
	assert.Equal(t, publicBase+"/"+hex+"/800-400/image.jpg", w.Header().Get("Location"))

	w = env.get("/"+id.String()+"/webp", "")
	assert.Equal(t, publicBase+"/"+hex+"/800-400/image.webp", w.Header().Get("Location"))
}

func TestOversizedUploadsAreRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.upload(t, jpegFixture(t, 80, 40)).ID
	list := env.listTasks(t, "avif")
	require.Len(t, list.Variants, 1)

	big := bytes.Repeat([]byte{0xAB}, 2<<20)
	fields := map[string]string{"task_id": list.Variants[0].TaskID.String()}

	w := env.do(multipartRequest(t, "/conversion_tasks/upload_variant", env.worker, fields, big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	assert.Len(t, env.listTasks(t, "avif").Variants, 1)

	w = env.do(multipartRequest(t, "/upload", env.uploader, nil, big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	assert.Equal(t, 1, env.store.ImageCount())

	w = env.get("/"+id.String()+"/avif", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	env.upload(t, jpegFixture(t, 10, 10))
	w = env.get("/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `kakigoori_intakes_total{result="created"} 1`)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		models.ErrNotFound:             http.StatusNotFound,
		models.ErrVariantNotAvailable:  http.StatusNotFound,
		models.ErrForbidden:            http.StatusForbidden,
		models.ErrBadRequest:           http.StatusBadRequest,
		models.ErrUnsupportedMediaType: http.StatusUnsupportedMediaType,
		models.ErrTransientStorage:     http.StatusServiceUnavailable,
		models.ErrDataIntegrity:        http.StatusInternalServerError,
		&http.MaxBytesError{Limit: 1}:  http.StatusRequestEntityTooLarge,
		assert.AnError:                 http.StatusInternalServerError,
	}
	for err, want := range cases {
		got, _ := statusFor(err)
		assert.Equal(t, want, got, "%v", err)
	}
}
