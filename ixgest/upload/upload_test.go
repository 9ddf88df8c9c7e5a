package upload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/nex/am"
	"github.com/teranos/nex/errors"
	"github.com/teranos/nex/objstore"
)

func writeFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("Hello from "+name), 0o644))
	}
	return dir
}

// failingStore fails Put for one key.
type failingStore struct {
	*objstore.MemoryStore
	failKey string
}

func (s *failingStore) Put(ctx context.Context, bucket, key string, body []byte) error {
	if key == s.failKey {
		return errors.New("bucket refused the upload")
	}
	return s.MemoryStore.Put(ctx, bucket, key, body)
}

func TestLoaderUploadsInNameOrder(t *testing.T) {
	ctx := context.Background()
	dir := writeFiles(t, "002.txt", "001.txt", "003.txt")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	store := objstore.NewMemoryStore()
	var order []string
	store.Notify = func(n objstore.Notification) { order = append(order, n.Key) }

	l := &Loader{Store: store, Bucket: "nex-source", Pacer: NoPacer{}, Logger: zaptest.NewLogger(t).Sugar()}
	report, err := l.Run(ctx, dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"001.txt", "002.txt", "003.txt"}, report.Uploaded)
	assert.Equal(t, []string{"nested"}, report.Skipped)
	assert.Equal(t, report.Uploaded, order)

	body, err := store.Get(ctx, "nex-source", "002.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello from 002.txt", string(body))
}

func TestLoaderStopsAtFirstError(t *testing.T) {
	dir := writeFiles(t, "a.txt", "b.txt", "c.txt")
	store := &failingStore{MemoryStore: objstore.NewMemoryStore(), failKey: "b.txt"}

	l := &Loader{Store: store, Bucket: "nex-source"}
	report, err := l.Run(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.txt")
	assert.Equal(t, []string{"a.txt"}, report.Uploaded)

	keys, err := store.List(context.Background(), "nex-source")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, keys, "c.txt is never attempted")
}

func TestLoaderMissingDir(t *testing.T) {
	l := &Loader{Store: objstore.NewMemoryStore(), Bucket: "nex-source"}
	_, err := l.Run(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestFixedPacerWaitsBetweenUploads(t *testing.T) {
	ctx := context.Background()
	p := NewFixedPacer(30 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Wait(ctx))
	assert.Less(t, time.Since(start), 30*time.Millisecond, "first upload starts immediately")

	start = time.Now()
	require.NoError(t, p.Wait(ctx))
	require.NoError(t, p.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestPacersHonourCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fixed := NewFixedPacer(time.Hour)
	_ = fixed.Wait(context.Background()) // consume the free first slot
	assert.ErrorIs(t, fixed.Wait(ctx), context.Canceled)

	assert.Error(t, NewTokenBucketPacer(0.001, 1).Wait(ctx))
	assert.ErrorIs(t, NoPacer{}.Wait(ctx), context.Canceled)

	dir := writeFiles(t, "a.txt")
	l := &Loader{Store: objstore.NewMemoryStore(), Bucket: "b", Pacer: NoPacer{}}
	report, err := l.Run(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Uploaded)
}

func TestNewPacer(t *testing.T) {
	p, err := NewPacer(am.UploadConfig{Pacing: am.PacingFixed, DelayMS: 250})
	require.NoError(t, err)
	require.IsType(t, &FixedPacer{}, p)
	assert.Equal(t, 250*time.Millisecond, p.(*FixedPacer).Delay)

	p, err = NewPacer(am.UploadConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDelay, p.(*FixedPacer).Delay)

	p, err = NewPacer(am.UploadConfig{Pacing: am.PacingTokenBucket, RatePerSecond: 5, Burst: 2})
	require.NoError(t, err)
	assert.IsType(t, &TokenBucketPacer{}, p)

	_, err = NewPacer(am.UploadConfig{Pacing: am.PacingTokenBucket})
	assert.Error(t, err)

	p, err = NewPacer(am.UploadConfig{Pacing: am.PacingNone})
	require.NoError(t, err)
	assert.Equal(t, NoPacer{}, p)

	_, err = NewPacer(am.UploadConfig{Pacing: "jittery"})
	assert.Error(t, err)
}
