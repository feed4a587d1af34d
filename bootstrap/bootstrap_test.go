package bootstrap_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/cmsodm/adapters/clock"
	"github.com/artpar/cmsodm/adapters/memory"
	"github.com/artpar/cmsodm/bootstrap"
	"github.com/artpar/cmsodm/config"
	"github.com/artpar/cmsodm/core/events"
	"github.com/artpar/cmsodm/core/model"
	"github.com/artpar/cmsodm/core/schema"
	"github.com/artpar/cmsodm/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Metrics:  config.MetricsConfig{Enabled: true, Namespace: "cmsodm_test"},
		Security: config.SecurityConfig{BcryptCost: bcrypt.MinCost},
		Serialization: config.SerializationConfig{
			ExpandForeignKeys: true,
			ExpandMaxDepth:    2,
			ExpandBlacklist:   []string{"parentFile"},
		},
	}
}

func newFactory(t *testing.T) (*bootstrap.Factory, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	f := bootstrap.NewFactory(bootstrap.Options{Logger: zerolog.Nop(), Registerer: reg})
	if err := f.Initialize(context.Background(), testConfig(), memory.NewDatabase()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return f, reg
}

func mustGet(t *testing.T, f *bootstrap.Factory, name string) *model.Model {
	t.Helper()
	m, err := f.Get(name)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", name, err)
	}
	return m
}

func TestFactory_GetBeforeInitialize(t *testing.T) {
	f := bootstrap.NewFactory(bootstrap.Options{Logger: zerolog.Nop()})
	if _, err := f.Get("users"); !errors.Is(err, model.ErrNotInitialized) {
		t.Errorf("Get error = %v, want ErrNotInitialized", err)
	}
	if f.Models() != nil {
		t.Error("Models should be nil before Initialize")
	}
}

func TestFactory_Initialize(t *testing.T) {
	f, reg := newFactory(t)

	if !f.Initialized() {
		t.Fatal("factory should be initialized")
	}
	if got := len(f.Models()); got != 6 {
		t.Errorf("expected 6 models, got %d", got)
	}
	for _, m := range f.Models() {
		if !m.Initialized() {
			t.Errorf("model %s not initialized", m.Name())
		}
	}
	if _, err := f.Get("widgets"); err == nil || !strings.Contains(err.Error(), `unknown model "widgets"`) {
		t.Errorf("Get(widgets) error = %v", err)
	}

	if got := testutil.ToFloat64(f.Metrics().ModelsInitialized); got != 6 {
		t.Errorf("initialized models gauge = %v, want 6", got)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Errorf("GatherAndCount = %d, %v", n, err)
	}

	opts := f.JSONOptions()
	if !opts.ExpandForeignKeys || opts.ExpandMaxDepth != 2 || opts.ExpandSchemaBlacklist[0] != "parentFile" || opts.Verbose {
		t.Errorf("JSONOptions = %+v", opts)
	}
}

func TestFactory_InitializeTwice(t *testing.T) {
	f, _ := newFactory(t)
	users := mustGet(t, f, "users")

	if err := f.Initialize(context.Background(), testConfig(), memory.NewDatabase()); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if mustGet(t, f, "users") != users {
		t.Error("second Initialize replaced the models")
	}
}

func TestFactory_InitializeFailureLeavesFactoryUnusable(t *testing.T) {
	f := bootstrap.NewFactory(bootstrap.Options{
		Logger: zerolog.Nop(),
		Definitions: []schema.Definition{{
			Collection: "posts",
			Items:      []schema.ItemDef{{Name: "author", Type: schema.ItemTypeForeignKey, Target: "users"}},
		}},
	})
	err := f.Initialize(context.Background(), &config.Config{}, memory.NewDatabase())
	if err == nil || !strings.Contains(err.Error(), `target collection "users" is not defined`) {
		t.Fatalf("Initialize error = %v", err)
	}
	if f.Initialized() {
		t.Error("factory should not be initialized after a failure")
	}
}

func TestFactory_BcryptCost(t *testing.T) {
	f, _ := newFactory(t)
	users := mustGet(t, f, "users")

	inst, err := users.CreateInstance(context.Background(), map[string]any{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "hunter22",
	})
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(inst.Entry["password"].(string)))
	if err != nil || cost != bcrypt.MinCost {
		t.Errorf("bcrypt cost = %d, %v; want %d", cost, err, bcrypt.MinCost)
	}
}

func TestFactory_CascadeAcrossBuiltinModels(t *testing.T) {
	f, _ := newFactory(t)
	ctx := context.Background()
	deleted := bootstrap.NewTally(f.Events(), events.ActionDeleted)

	users := mustGet(t, f, "users")
	buckets := mustGet(t, f, "buckets")
	files := mustGet(t, f, "files")
	posts := mustGet(t, f, "posts")

	alice, err := users.CreateInstance(ctx, map[string]any{"username": "alice", "email": "a@x.io", "password": "hunter22"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	bob, err := users.CreateInstance(ctx, map[string]any{"username": "bob", "email": "b@x.io", "password": "hunter22"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	bucket, err := buckets.CreateInstance(ctx, map[string]any{"user": alice.ID.Hex(), "name": "photos"})
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	file, err := files.CreateInstance(ctx, map[string]any{
		"bucket": bucket.ID, "user": alice.ID, "name": "cat.png", "identifier": "f-1",
	})
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	post, err := posts.CreateInstance(ctx, map[string]any{
		"author": bob.ID, "title": "Cats", "slug": "cats", "featuredImage": file.ID,
	})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}

	// Bucket names are unique per user.
	if _, err := buckets.CreateInstance(ctx, map[string]any{"user": alice.ID, "name": "photos"}); err == nil {
		t.Error("duplicate bucket name for the same user should fail")
	}
	if _, err := buckets.CreateInstance(ctx, map[string]any{"user": bob.ID, "name": "photos"}); err != nil {
		t.Errorf("same bucket name for another user failed: %v", err)
	}

	n, err := users.DeleteInstances(ctx, ports.Filter{"_id": alice.ID})
	if err != nil || n != 1 {
		t.Fatalf("DeleteInstances = %d, %v", n, err)
	}

	if c, _ := buckets.Count(ctx, ports.Filter{"user": alice.ID}); c != 0 {
		t.Errorf("alice's buckets left: %d", c)
	}
	if c, _ := files.Count(ctx, nil); c != 0 {
		t.Errorf("files left: %d", c)
	}
	got, err := posts.FindOne(ctx, ports.Filter{"_id": post.ID})
	if err != nil || got == nil {
		t.Fatalf("post lost: %v", err)
	}
	if got.Entry["featuredImage"] != nil {
		t.Errorf("featuredImage = %v, want nil", got.Entry["featuredImage"])
	}

	for _, name := range []string{"users", "buckets", "files"} {
		if deleted.Count(name) != 1 {
			t.Errorf("deleted %s = %d, want 1", name, deleted.Count(name))
		}
	}
	if deleted.Total() != 3 || strings.Join(deleted.Collections(), ",") != "buckets,files,users" {
		t.Errorf("tally = %d %v", deleted.Total(), deleted.Collections())
	}
}

func TestFactory_UpdateKeepsCreatedOn(t *testing.T) {
	ctx := context.Background()
	start := time.UnixMilli(1_000_000)
	f := bootstrap.NewFactory(bootstrap.Options{
		Logger: zerolog.Nop(),
		Clock:  clock.NewStepping(start, time.Hour),
	})
	if err := f.Initialize(ctx, &config.Config{}, memory.NewDatabase()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	categories := mustGet(t, f, "categories")
	posts := mustGet(t, f, "posts")

	cat, err := categories.CreateInstance(ctx, map[string]any{"title": "News", "slug": "news"})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	created, ok := cat.Entry["createdOn"].(int64)
	if !ok || created < start.UnixMilli() {
		t.Fatalf("createdOn = %v, want a stamp from the clock", cat.Entry["createdOn"])
	}

	res, err := categories.Update(ctx, ports.Filter{"_id": cat.ID}, map[string]any{"title": "World news"})
	if err != nil || res.Error {
		t.Fatalf("Update = %+v, %v", res, err)
	}
	got, err := categories.FindOne(ctx, ports.Filter{"_id": cat.ID})
	if err != nil || got == nil {
		t.Fatalf("FindOne: %v", err)
	}
	if got.Entry["title"] != "World news" {
		t.Errorf("title = %v", got.Entry["title"])
	}
	if got.Entry["createdOn"] != any(created) {
		t.Errorf("createdOn moved from %v to %v", created, got.Entry["createdOn"])
	}

	// lastUpdated still follows every write.
	author, err := mustGet(t, f, "users").CreateInstance(ctx, map[string]any{"username": "ann", "email": "ann@x.io", "password": "hunter22"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	post, err := posts.CreateInstance(ctx, map[string]any{"author": author.ID, "title": "Hi", "slug": "hi"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	before := post.Entry["lastUpdated"].(int64)
	if _, err := posts.Update(ctx, ports.Filter{"_id": post.ID}, map[string]any{"title": "Hello"}); err != nil {
		t.Fatalf("update post: %v", err)
	}
	got, _ = posts.FindOne(ctx, ports.Filter{"_id": post.ID})
	if got.Entry["lastUpdated"].(int64) <= before {
		t.Errorf("lastUpdated = %v, want after %d", got.Entry["lastUpdated"], before)
	}
	if got.Entry["createdOn"] != post.Entry["createdOn"] {
		t.Errorf("post createdOn moved from %v to %v", post.Entry["createdOn"], got.Entry["createdOn"])
	}
}

func TestRegisterHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	bus := events.NewBus(zerolog.Nop())
	bootstrap.RegisterHooks(bus, logger)

	bus.Publish(context.Background(), events.NewEvent("posts", events.ActionCreated, "abc", nil))

	out := buf.String()
	for _, want := range []string{`"event":"posts.created"`, `"collection":"posts"`, `"id":"abc"`, `"message":"document created"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestOpenDatabase(t *testing.T) {
	ctx := context.Background()

	db, err := bootstrap.OpenDatabase(ctx, config.DatabaseConfig{Driver: config.DriverMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	db.Close(ctx)

	path := filepath.Join(t.TempDir(), "open.db")
	db, err = bootstrap.OpenDatabase(ctx, config.DatabaseConfig{Driver: config.DriverSQLite, DSN: path})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if _, err := db.CreateCollection(ctx, "posts"); err != nil {
		t.Errorf("CreateCollection on sqlite: %v", err)
	}
	db.Close(ctx)

	if _, err := bootstrap.OpenDatabase(ctx, config.DatabaseConfig{Driver: "cassandra"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		cfg     config.LoggingConfig
		debug   bool
		console bool
	}{
		{config.LoggingConfig{Level: "debug", Format: "json"}, true, false},
		{config.LoggingConfig{Level: "info", Format: "console"}, false, true},
		{config.LoggingConfig{Level: "bogus"}, false, false},
		{config.LoggingConfig{}, false, false},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := bootstrap.SetupLogger(tt.cfg, &buf)
		logger.Debug().Msg("dbg")
		logger.Info().Msg("inf")

		out := buf.String()
		if strings.Contains(out, "dbg") != tt.debug {
			t.Errorf("%+v: debug output = %v", tt.cfg, strings.Contains(out, "dbg"))
		}
		if !strings.Contains(out, "inf") {
			t.Errorf("%+v: info missing", tt.cfg)
		}
		if strings.HasPrefix(out, "{") == tt.console {
			t.Errorf("%+v: unexpected format: %s", tt.cfg, out)
		}
	}
}
