// Package imagestest provides an in-memory metadata store for tests.
package imagestest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kakigoori/internal/models"
)

// Store implements images.MetadataStore in memory with the same uniqueness
// rules as the postgres schema.
type Store struct {
	mu       sync.Mutex
	images   map[uuid.UUID]models.Image
	variants []models.Variant
	tasks    map[uuid.UUID]models.VariantTask
	nextID   int64
}

func NewStore() *Store {
	return &Store{
		images: make(map[uuid.UUID]models.Image),
		tasks:  make(map[uuid.UUID]models.VariantTask),
	}
}

func (f *Store) CreateImage(_ context.Context, img *models.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.images {
		if img.OriginalMD5 != "" && existing.OriginalMD5 == img.OriginalMD5 {
			return models.ErrConflict
		}
	}
	img.CreationDate = time.Now()
	f.images[img.ID] = *img
	return nil
}

func (f *Store) GetImage(_ context.Context, id uuid.UUID) (*models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &img, nil
}

func (f *Store) GetImageByHash(_ context.Context, md5 string) (*models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, img := range f.images {
		if img.OriginalMD5 == md5 {
			return &img, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *Store) MarkUploaded(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[id]
	if !ok {
		return models.ErrNotFound
	}
	img.Uploaded = true
	f.images[id] = img
	return nil
}

func (f *Store) UpdateImage(_ context.Context, img *models.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.images[img.ID]; !ok {
		return models.ErrNotFound
	}
	f.images[img.ID] = *img
	return nil
}

func (f *Store) ListImagesByVersion(_ context.Context, version int) ([]models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Image
	for _, img := range f.images {
		if img.ModelVersion == version {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreationDate.After(out[j].CreationDate) })
	return out, nil
}

func (f *Store) UpsertVariant(_ context.Context, v *models.Variant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.variants {
		if existing.ImageID == v.ImageID && existing.Width == v.Width &&
			existing.Height == v.Height && existing.Encoding == v.Encoding {
			*v = existing
			return nil
		}
	}
	f.nextID++
	v.ID = f.nextID
	f.variants = append(f.variants, *v)
	return nil
}

func (f *Store) ListVariants(_ context.Context, imageID uuid.UUID, width, height int) ([]models.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Variant
	for _, v := range f.variants {
		if v.ImageID == imageID && v.Width == width && v.Height == height {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *Store) ListImageVariants(_ context.Context, imageID uuid.UUID) ([]models.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Variant
	for _, v := range f.variants {
		if v.ImageID == imageID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *Store) FindOriginal(_ context.Context, imageID uuid.UUID) (*models.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.variants {
		if v.ImageID == imageID && v.IsFullSize && v.Encoding.IsOriginal() {
			return &v, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *Store) VariantExists(_ context.Context, imageID uuid.UUID, width, height int, enc models.Encoding) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.variants {
		if v.ImageID == imageID && v.Width == width && v.Height == height && v.Encoding == enc {
			return true, nil
		}
	}
	return false, nil
}

func (f *Store) CreateTask(_ context.Context, t *models.VariantTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.CreatedAt = time.Now()
	f.tasks[t.ID] = *t
	return nil
}

func (f *Store) GetTask(_ context.Context, id uuid.UUID) (*models.VariantTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &t, nil
}

func (f *Store) DeleteTask(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	return nil
}

func (f *Store) ListTasks(_ context.Context, target models.Encoding) ([]models.VariantTask, error) {
	return f.filterTasks(func(t models.VariantTask) bool { return t.TargetEncoding == target }), nil
}

func (f *Store) ListTasksCreatedBefore(_ context.Context, cutoff time.Time) ([]models.VariantTask, error) {
	return f.filterTasks(func(t models.VariantTask) bool { return t.CreatedAt.Before(cutoff) }), nil
}

func (f *Store) TaskExists(_ context.Context, imageID uuid.UUID, width, height int, target models.Encoding) (bool, error) {
	tasks := f.filterTasks(func(t models.VariantTask) bool {
		return t.ImageID == imageID && t.Width == width && t.Height == height && t.TargetEncoding == target
	})
	return len(tasks) > 0, nil
}

func (f *Store) filterTasks(keep func(models.VariantTask) bool) []models.VariantTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.VariantTask
	for _, t := range f.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AllTasks lists every pending task, oldest first.
func (f *Store) AllTasks() []models.VariantTask {
	return f.filterTasks(func(models.VariantTask) bool { return true })
}

func (f *Store) ImageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.images)
}

func (f *Store) ClearTasks() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = make(map[uuid.UUID]models.VariantTask)
}

