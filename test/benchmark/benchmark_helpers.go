package benchmark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/arkilian/docrune/internal/index"
	"github.com/arkilian/docrune/internal/storage"
	"github.com/arkilian/docrune/internal/store"
	"github.com/arkilian/docrune/pkg/types"
)

var foodGroups = []string{
	"Dairy and Egg Products", "Sweets", "Snacks", "Beverages", "Baked Products",
	"Fats and Oils", "Poultry Products", "Soups, Sauces, and Gravies", "Vegetables", "Fruits",
}

// PrefixedStorage wraps an ObjectStorage and prepends a prefix to all object paths.
type PrefixedStorage struct {
	inner  storage.ObjectStorage
	prefix string
}

func (s *PrefixedStorage) Upload(ctx context.Context, localPath, objectPath string) (string, error) {
	return s.inner.Upload(ctx, localPath, s.prefix+"/"+objectPath)
}

func (s *PrefixedStorage) Download(ctx context.Context, objectPath, localPath string) error {
	return s.inner.Download(ctx, s.prefix+"/"+objectPath, localPath)
}

func (s *PrefixedStorage) Delete(ctx context.Context, objectPath string) error {
	return s.inner.Delete(ctx, s.prefix+"/"+objectPath)
}

func (s *PrefixedStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	return s.inner.Exists(ctx, s.prefix+"/"+objectPath)
}

func (s *PrefixedStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	objects, err := s.inner.ListObjects(ctx, s.prefix+"/"+prefix)
	if err != nil {
		return nil, err
	}
	for i, obj := range objects {
		objects[i] = strings.TrimPrefix(obj, s.prefix+"/")
	}
	return objects, nil
}

// getBenchmarkStorage returns snapshot storage for a benchmark. It uses S3
// when DOCRUNE_STORAGE_TYPE=s3 is set in the environment or ../../.env,
// writing under bench/<name>/<timestamp>, and a temp dir otherwise.
func getBenchmarkStorage(b *testing.B, benchName string) storage.ObjectStorage {
	b.Helper()
	_ = godotenv.Load("../../.env")

	if os.Getenv("DOCRUNE_STORAGE_TYPE") == "s3" {
		bucket := os.Getenv("DOCRUNE_S3_BUCKET")
		if bucket == "" {
			b.Fatal("DOCRUNE_S3_BUCKET is required for s3 benchmarks")
		}
		cfg := storage.DefaultS3Config()
		if v := os.Getenv("DOCRUNE_S3_REGION"); v != "" {
			cfg.Region = v
		}
		if v := os.Getenv("DOCRUNE_S3_ENDPOINT"); v != "" {
			cfg.Endpoint = v
			cfg.UsePathStyle = true
		}
		st, err := storage.NewS3Storage(context.Background(), bucket, cfg, nil)
		if err != nil {
			b.Fatalf("failed to initialize S3 storage: %v", err)
		}
		prefix := fmt.Sprintf("bench/%s/%d", benchName, time.Now().UnixNano())
		b.Logf("running against S3 bucket %s prefix %s", bucket, prefix)
		return &PrefixedStorage{inner: st, prefix: prefix}
	}

	st, err := storage.NewLocalStorage(filepath.Join(b.TempDir(), "storage"))
	if err != nil {
		b.Fatal(err)
	}
	return st
}

// generateFoods builds n food documents spread over the food groups.
func generateFoods(n int) []types.Document {
	docs := make([]types.Document, n)
	for i := range docs {
		docs[i] = types.Document{
			"id":               types.String(fmt.Sprintf("%05d", i)),
			"foodGroup":        types.String(foodGroups[i%len(foodGroups)]),
			"description":      types.String(fmt.Sprintf("Food item %d", i)),
			"manufacturerName": types.String(fmt.Sprintf("maker-%d", i%37)),
			"version":          types.Number(float64(i % 5)),
			"nutrients": types.Array(
				types.Object(map[string]types.Value{"id": types.String("203"), "nutritionValue": types.Number(float64(i % 50))}),
				types.Object(map[string]types.Value{"id": types.String("204"), "nutritionValue": types.Number(float64(i % 20))}),
			),
		}
	}
	return docs
}

// loadStore builds a store over docs with indexes on the given paths.
func loadStore(b *testing.B, docs []types.Document, mode index.Mode, paths ...string) (*store.Store, *index.Manager) {
	b.Helper()
	st, err := store.New(store.Options{PartitionKeyPath: "/foodGroup"})
	if err != nil {
		b.Fatal(err)
	}
	ix, err := index.NewManager(mode, paths, nil)
	if err != nil {
		b.Fatal(err)
	}
	ix.Attach(st)
	st.SetIndexer(ix)

	ctx := context.Background()
	for _, doc := range docs {
		if _, err := st.Insert(ctx, doc); err != nil {
			b.Fatal(err)
		}
	}
	return st, ix
}
