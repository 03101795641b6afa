package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rhuss/gatehouse/pkg/storage"
)

func init() {
	// Configure testcontainers to use podman.
	// Detect the podman socket from `podman machine inspect`.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			sock := strings.TrimSpace(string(out))
			if sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	// Ryuk needs privileged mode with podman.
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupTestDB starts a PostgreSQL container and returns a connected Store.
// Tests are skipped if Docker is not available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}

	if !haveContainerRuntime() {
		t.Skip("neither podman nor docker found, skipping integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("gatehouse_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container (is podman running?): %v", err)
	}

	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := New(ctx, Config{
		DSN:            connStr,
		MaxConns:       5,
		MinConns:       1,
		MigrateOnStart: true,
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func haveContainerRuntime() bool {
	for _, bin := range []string{"podman", "docker"} {
		if _, err := exec.LookPath(bin); err == nil {
			return true
		}
	}
	return false
}

func makeTestKey(id, site string) *storage.Key {
	return &storage.Key{
		ID:       id,
		Prefix:   "ghk_" + id[:4],
		Hash:     "hash-" + id,
		SiteID:   site,
		UserInfo: map[string]any{"owner": "ci", "quota": float64(10)},
	}
}

func uniqueID(name string) string {
	return fmt.Sprintf("%s_%d", name, time.Now().UnixNano())
}

func TestPostgres_SaveAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	k := makeTestKey(uniqueID("key"), "site-1")
	k.Admin = true
	if err := store.SaveKey(ctx, k); err != nil {
		t.Fatalf("SaveKey failed: %v", err)
	}

	got, err := store.GetKeyByHash(ctx, k.Hash)
	if err != nil {
		t.Fatalf("GetKeyByHash failed: %v", err)
	}
	if got.ID != k.ID || got.SiteID != "site-1" || !got.Admin {
		t.Errorf("got %+v, want id %s site-1 admin", got, k.ID)
	}
	if got.UserInfo["owner"] != "ci" || got.UserInfo["quota"] != float64(10) {
		t.Errorf("UserInfo = %v, want owner=ci quota=10", got.UserInfo)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if got.Revoked() {
		t.Error("new key reported revoked")
	}
}

func TestPostgres_NilUserInfo(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	k := makeTestKey(uniqueID("key"), "site-1")
	k.UserInfo = nil
	if err := store.SaveKey(ctx, k); err != nil {
		t.Fatalf("SaveKey failed: %v", err)
	}

	got, err := store.GetKeyByHash(ctx, k.Hash)
	if err != nil {
		t.Fatalf("GetKeyByHash failed: %v", err)
	}
	if got.UserInfo != nil {
		t.Errorf("UserInfo = %v, want nil", got.UserInfo)
	}
}

func TestPostgres_GetNotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetKeyByHash(context.Background(), "hash-nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_Revoke(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	k := makeTestKey(uniqueID("key"), "site-1")
	store.SaveKey(ctx, k)

	if err := store.RevokeKey(ctx, k.ID); err != nil {
		t.Fatalf("RevokeKey failed: %v", err)
	}
	if _, err := store.GetKeyByHash(ctx, k.Hash); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("revoked key still returned, err=%v", err)
	}
	if err := store.RevokeKey(ctx, k.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second revoke: expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_DuplicateSave(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	k := makeTestKey(uniqueID("key"), "site-1")
	store.SaveKey(ctx, k)

	if err := store.SaveKey(ctx, k); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate, got %v", err)
	}
}

func TestPostgres_HealthCheck(t *testing.T) {
	store := setupTestDB(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestPostgres_MigrateIsIdempotent(t *testing.T) {
	store := setupTestDB(t)

	n, err := store.Migrate(context.Background())
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate applied %d migrations, want 0", n)
	}
}

func TestPostgres_ListKeys(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	site := uniqueID("site")
	other := uniqueID("other")
	base := time.Now().Add(-time.Minute)

	k1 := makeTestKey(uniqueID("key1"), site)
	k1.CreatedAt = base
	k2 := makeTestKey(uniqueID("key2"), site)
	k2.CreatedAt = base.Add(time.Second)
	k3 := makeTestKey(uniqueID("key3"), other)
	for _, k := range []*storage.Key{k1, k2, k3} {
		if err := store.SaveKey(ctx, k); err != nil {
			t.Fatalf("SaveKey failed: %v", err)
		}
	}
	store.RevokeKey(ctx, k2.ID)

	active, err := store.ListKeys(ctx, storage.ListOptions{SiteID: site})
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != k1.ID {
		t.Errorf("active keys = %v, want [%s]", keyIDs(active), k1.ID)
	}

	all, err := store.ListKeys(ctx, storage.ListOptions{SiteID: site, IncludeRevoked: true})
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != k1.ID || all[1].ID != k2.ID {
		t.Errorf("all keys = %v, want [%s %s]", keyIDs(all), k1.ID, k2.ID)
	}
	if !all[1].Revoked() {
		t.Error("revoked key not marked revoked")
	}
}

func TestPostgres_SiteIsolation(t *testing.T) {
	store := setupTestDB(t)

	k := makeTestKey(uniqueID("key"), "site-a")
	store.SaveKey(context.Background(), k)

	ctxA := storage.WithSite(context.Background(), "site-a")
	ctxB := storage.WithSite(context.Background(), "site-b")

	if _, err := store.GetKeyByHash(ctxA, k.Hash); err != nil {
		t.Fatalf("site A should see own key: %v", err)
	}
	if _, err := store.GetKeyByHash(ctxB, k.Hash); !errors.Is(err, storage.ErrNotFound) {
		t.Error("site B should not see site A's key")
	}
	if err := store.RevokeKey(ctxB, k.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Error("site B should not revoke site A's key")
	}
	if _, err := store.GetKeyByHash(context.Background(), k.Hash); err != nil {
		t.Fatalf("unscoped context should see all: %v", err)
	}
}

func keyIDs(keys []*storage.Key) []string {
	var ids []string
	for _, k := range keys {
		ids = append(ids, k.ID)
	}
	return ids
}
