package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nex/am"
	"github.com/teranos/nex/errors"
	nextest "github.com/teranos/nex/internal/testing"
	"github.com/teranos/nex/ixgest/entities"
	"github.com/teranos/nex/ixgest/trigger"
	"github.com/teranos/nex/objstore"
	"github.com/teranos/nex/pulse/async"
)

// setupWorkspace points config at a scratch directory: fs buckets, a file
// database and sqlite counters.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DB_PATH", filepath.Join(dir, "nex.db"))
	t.Setenv("NEX_OBJECT_STORE_BACKEND", am.ObjectStoreFS)
	t.Setenv("NEX_OBJECT_STORE_ROOT", filepath.Join(dir, "buckets"))
	t.Setenv("NEX_COUNTER_BACKEND", am.CounterSQLite)
	am.Reset()
	t.Cleanup(am.Reset)
	return dir
}

func writeSource(t *testing.T, dir, key, body string) {
	t.Helper()
	bucketDir := filepath.Join(dir, "buckets", "nex-source")
	require.NoError(t, os.MkdirAll(bucketDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bucketDir, key), []byte(body), 0644))
}

func TestStagesByHand(t *testing.T) {
	dir := setupWorkspace(t)
	writeSource(t, dir, "report.txt", "Apple met Google. Apple left.")

	t.Log("Extracting by hand, then aggregating the artifact it wrote")
	IxCmd.SetArgs([]string{"extract", "report.txt"})
	require.NoError(t, IxCmd.Execute())

	_, err := os.Stat(filepath.Join(dir, "buckets", "nex-tags", "reportne.txt"))
	require.NoError(t, err, "artifact lands in the tags bucket")

	IxCmd.SetArgs([]string{"aggregate", "reportne.txt"})
	require.NoError(t, IxCmd.Execute())

	d, err := openDeps(context.Background(), nil)
	require.NoError(t, err)
	defer d.Close()

	apple, err := d.counters.Get(context.Background(), "Apple")
	require.NoError(t, err)
	assert.Equal(t, int64(1), apple.Count, "repeats within one file count once")

	google, err := d.counters.Get(context.Background(), "Google")
	require.NoError(t, err)
	assert.Equal(t, int64(1), google.Count)
}

func TestEventEnqueuesJobs(t *testing.T) {
	dir := setupWorkspace(t)
	event := `{"Records":[{"s3":{"bucket":{"name":"nex-source"},"object":{"key":"my+report.txt"}}}]}`
	eventFile := filepath.Join(dir, "event.json")
	require.NoError(t, os.WriteFile(eventFile, []byte(event), 0644))

	IxCmd.SetArgs([]string{"event", eventFile, "--mode", am.ModeAsync})
	require.NoError(t, IxCmd.Execute())

	database, err := openDatabase()
	require.NoError(t, err)
	defer database.Close()

	jobs, err := async.NewQueue(database).ListActiveJobs(10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, entities.ExtractHandlerName, jobs[0].HandlerName)
	assert.Equal(t, "nex-source/my report.txt", jobs[0].Source)
}

func TestRouterDirectModeThroughDeps(t *testing.T) {
	dir := setupWorkspace(t)
	writeSource(t, dir, "paris.txt", "Paris is not London.")

	ctx := context.Background()
	d, err := openDeps(ctx, nil)
	require.NoError(t, err)
	defer d.Close()

	router, err := trigger.NewRouter(d.cfg.Buckets, am.ModeDirect, d.pipeline, nil, nil)
	require.NoError(t, err)

	dispatches, err := router.DispatchAll(ctx, []objstore.Notification{
		{Bucket: "nex-source", Key: "paris.txt"},
		{Bucket: "nex-tags", Key: "parisne.txt"},
	})
	require.NoError(t, err)
	require.Len(t, dispatches, 2)
	assert.Equal(t, entities.StageExtract, dispatches[0].Stage)
	assert.Equal(t, entities.StageAggregate, dispatches[1].Stage)

	london, err := d.counters.Get(ctx, "London")
	require.NoError(t, err)
	assert.Equal(t, int64(1), london.Count)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))

	cut := truncate("Zürich München Köln Düsseldorf", 10)
	assert.True(t, utf8.ValidString(cut), "multibyte names are cut on rune boundaries")
	assert.Equal(t, "Zürich ...", cut)
	assert.Equal(t, "日本語", truncate("日本語", 3))
	assert.Equal(t, "日本", truncate("日本語テキスト", 2))
}

func TestPruneJobsRemovesFinishedJobs(t *testing.T) {
	queue := async.NewQueue(nextest.CreateTestDB(t))

	done, err := entities.NewJob(entities.StageExtract, "nex-source", "old.txt")
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(done))
	require.NoError(t, queue.CompleteJob(done.ID))

	waiting, err := entities.NewJob(entities.StageExtract, "nex-source", "new.txt")
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(waiting))
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		pruneJobs(ctx, queue, time.Millisecond)
		close(exited)
	}()

	require.Eventually(t, func() bool {
		_, err := queue.GetJob(done.ID)
		return errors.Is(err, errors.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-exited

	_, err = queue.GetJob(waiting.ID)
	assert.NoError(t, err, "queued jobs are never pruned")
}
