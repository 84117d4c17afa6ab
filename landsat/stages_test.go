package landsat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leandromet/data-cube-bdc-collection-builder/pipeline"
	registry "github.com/leandromet/data-cube-bdc-collection-builder/scene-task-registry"
)

const testSceneID = "LC08_L1TP_223067_20200826_20200905_01_T1"

type fakeStore struct {
	executions []registry.WorkDescriptor
	saved      []registry.CollectionItem
	createErr  error
}

func (s *fakeStore) CreateExecution(_ context.Context, scene *registry.WorkDescriptor) (*registry.Execution, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.executions = append(s.executions, *scene)
	return &registry.Execution{
		Activity: &registry.Activity{
			ID:           registry.ActivityID(scene.CollectionID, scene.SceneID, scene.ActivityType),
			CollectionID: scene.CollectionID,
			ActivityType: scene.ActivityType,
			SceneID:      scene.SceneID,
			Args:         scene.Args,
		},
		TaskID: "task-1",
	}, nil
}

func (s *fakeStore) CollectionItem(_ context.Context, activity *registry.Activity) (*registry.CollectionItem, error) {
	return &registry.CollectionItem{CollectionID: activity.CollectionID, SceneID: activity.SceneID}, nil
}

func (s *fakeStore) SaveCollectionItem(_ context.Context, item *registry.CollectionItem) error {
	s.saved = append(s.saved, *item)
	return nil
}

type fakeDownloader struct {
	calls []string
	err   error
}

func (d *fakeDownloader) Download(_ context.Context, link, destDir string) (string, error) {
	d.calls = append(d.calls, destDir)
	if d.err != nil {
		return "", d.err
	}
	return filepath.Join(destDir, "scene.tar"), nil
}

type fakeUploader struct {
	uploads [][3]string
	err     error
}

func (u *fakeUploader) UploadAsset(_ context.Context, localFile, bucket, key string) error {
	u.uploads = append(u.uploads, [3]string{localFile, bucket, key})
	return u.err
}

func TestDownload_MustAdvanceSceneToCorrection(t *testing.T) {
	// given
	dataDir := t.TempDir()
	store := &fakeStore{}
	downloader := &fakeDownloader{}
	tasks := &Tasks{Store: store, Downloader: downloader, DataDir: dataDir}

	scene := &registry.WorkDescriptor{
		CollectionID: CollectionLC8,
		SceneID:      testSceneID,
		ActivityType: "download",
		Args:         registry.ActivityArgs{Link: "http://x/scene.tar", File: dataDir, Cloud: 42.5},
	}

	// when
	out, err := tasks.Download(context.Background(), scene)

	// then
	assert.NoError(t, err)
	assert.Equal(t, ActivityCorrection, out.ActivityType)

	wantProductdir := filepath.Join(dataDir, "2020-08", "223067")
	assert.Equal(t, []string{wantProductdir}, downloader.calls)
	assert.Equal(t, filepath.Join(wantProductdir, "scene.tar"), out.Args.File)
	assert.DirExists(t, wantProductdir)

	// The activity was recorded pre-transition, before the external effect.
	assert.Len(t, store.executions, 1)
	assert.Equal(t, ActivityDownload, store.executions[0].ActivityType)

	// The collection item carries the data-dir-relative compressed file path
	// and the supplied cloud cover.
	assert.Len(t, store.saved, 1)
	assert.Equal(t, string(filepath.Separator)+filepath.Join("2020-08", "223067", "scene.tar"), store.saved[0].CompressedFile)
	assert.Equal(t, 42.5, store.saved[0].CloudCover)
}

func TestDownload_MustBeIdempotentOverExistingProductDir(t *testing.T) {
	dataDir := t.TempDir()
	tasks := &Tasks{Store: &fakeStore{}, Downloader: &fakeDownloader{}, DataDir: dataDir}

	scene := func() *registry.WorkDescriptor {
		return &registry.WorkDescriptor{
			CollectionID: CollectionLC8,
			SceneID:      testSceneID,
			ActivityType: "download",
			Args:         registry.ActivityArgs{Link: "http://x/scene.tar", File: dataDir},
		}
	}

	_, err := tasks.Download(context.Background(), scene())
	assert.NoError(t, err)

	// Re-running against the same destination directory must not fail.
	_, err = tasks.Download(context.Background(), scene())
	assert.NoError(t, err)
}

func TestDownload_MustSurfaceDownloaderFailure(t *testing.T) {
	dataDir := t.TempDir()
	store := &fakeStore{}
	tasks := &Tasks{Store: store, Downloader: &fakeDownloader{err: errors.New("connection reset")}, DataDir: dataDir}

	scene := &registry.WorkDescriptor{
		CollectionID: CollectionLC8,
		SceneID:      testSceneID,
		ActivityType: "download",
		Args:         registry.ActivityArgs{Link: "http://x/scene.tar", File: dataDir},
	}

	out, err := tasks.Download(context.Background(), scene)

	assert.Nil(t, out)
	assert.True(t, pipeline.IsExternalService(err))
	// The failed attempt still left an audit trail.
	assert.Len(t, store.executions, 1)
}

func TestDownload_MustNotCallDownloaderWhenPersistenceFails(t *testing.T) {
	downloader := &fakeDownloader{}
	tasks := &Tasks{
		Store:      &fakeStore{createErr: &registry.PersistenceError{Op: "create execution", Err: errors.New("unreachable")}},
		Downloader: downloader,
	}

	_, err := tasks.Download(context.Background(), &registry.WorkDescriptor{
		CollectionID: CollectionLC8,
		SceneID:      testSceneID,
		ActivityType: "download",
		Args:         registry.ActivityArgs{Link: "http://x/scene.tar", File: "/data"},
	})

	assert.Error(t, err)
	assert.Empty(t, downloader.calls)
}

func correctionServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCorrection_MustVerifyOutputFilesAndAdvanceToPublish(t *testing.T) {
	// given: the corrected product already on disk
	dataDir := t.TempDir()
	productdir := filepath.Join(dataDir, "Repository", "Archive", CollectionLC8SR, "2020-08", "223067")
	assert.NoError(t, os.MkdirAll(productdir, 0o755))
	product := filepath.Join(productdir, "LC08_L1TP_223067_20200826_sr_band4.tif")
	assert.NoError(t, os.WriteFile(product, []byte("tif"), 0o644))

	store := &fakeStore{}
	tasks := &Tasks{
		Store:   store,
		Espa:    &EspaClient{BaseURL: correctionServer(t, `{"status":"SUCCESS"}`).URL},
		DataDir: dataDir,
	}

	scene := &registry.WorkDescriptor{
		CollectionID: CollectionLC8,
		SceneID:      testSceneID,
		ActivityType: ActivityCorrection,
		Args:         registry.ActivityArgs{File: "/data/compressed/scene.tar"},
	}

	// when
	out, err := tasks.Correction(context.Background(), scene)

	// then
	assert.NoError(t, err)
	assert.Equal(t, CollectionLC8SR, out.CollectionID)
	assert.Equal(t, ActivityPublish, out.ActivityType)
	assert.Equal(t, productdir, out.Args.File)
	assert.Equal(t, ActivityCorrection, store.executions[0].ActivityType)
}

func TestCorrection_MustNotAdvanceOnServiceError(t *testing.T) {
	// given: HTTP 200 but an explicit error payload
	tasks := &Tasks{
		Store:   &fakeStore{},
		Espa:    &EspaClient{BaseURL: correctionServer(t, `{"status":"ERROR"}`).URL},
		DataDir: t.TempDir(),
	}

	scene := &registry.WorkDescriptor{
		CollectionID: CollectionLC8,
		SceneID:      testSceneID,
		ActivityType: ActivityCorrection,
		Args:         registry.ActivityArgs{File: "/data/compressed/scene.tar"},
	}

	// when
	out, err := tasks.Correction(context.Background(), scene)

	// then
	assert.Nil(t, out)
	assert.True(t, pipeline.IsExternalService(err))
	assert.Equal(t, ActivityCorrection, scene.ActivityType)
}

func TestCorrection_MustTreatMissingFilesAsIncomplete(t *testing.T) {
	// given: the service claims success but nothing landed on disk
	tasks := &Tasks{
		Store:   &fakeStore{},
		Espa:    &EspaClient{BaseURL: correctionServer(t, `{"status":"SUCCESS"}`).URL},
		DataDir: t.TempDir(),
	}

	scene := &registry.WorkDescriptor{
		CollectionID: CollectionLC8,
		SceneID:      testSceneID,
		ActivityType: ActivityCorrection,
		Args:         registry.ActivityArgs{File: "/data/compressed/scene.tar"},
	}

	out, err := tasks.Correction(context.Background(), scene)

	assert.Nil(t, out)
	assert.True(t, pipeline.IsIncompleteResult(err))
	assert.Equal(t, ActivityCorrection, scene.ActivityType)
}

func TestPublish_MustCollectAssetsAndAdvanceToUpload(t *testing.T) {
	// given: a product dir with two publishable files and one stray
	dataDir := t.TempDir()
	productdir := filepath.Join(dataDir, "Repository", "Archive", CollectionLC8SR, "2020-08", "223067")
	assert.NoError(t, os.MkdirAll(productdir, 0o755))
	for _, name := range []string{"LC08_223067_20200826_band4.tif", "LC08_223067_20200826_ql.png", "notes.txt"} {
		assert.NoError(t, os.WriteFile(filepath.Join(productdir, name), []byte("x"), 0o644))
	}

	store := &fakeStore{}
	tasks := &Tasks{
		Store:     store,
		Publisher: &ProductPublisher{Store: store, Bucket: "bdc-archive", DataDir: dataDir},
		Bucket:    "bdc-archive",
	}

	scene := &registry.WorkDescriptor{
		CollectionID: CollectionLC8SR,
		SceneID:      testSceneID,
		ActivityType: ActivityPublish,
		Args:         registry.ActivityArgs{File: productdir},
	}

	// when
	out, err := tasks.Publish(context.Background(), scene)

	// then
	assert.NoError(t, err)
	assert.Equal(t, ActivityUpload, out.ActivityType)
	assert.Equal(t, []string{"LC08_223067_20200826_band4", "LC08_223067_20200826_ql"}, AssetNames(out.Args.Assets))

	band4 := out.Args.Assets["LC08_223067_20200826_band4"]
	assert.Equal(t, filepath.Join(productdir, "LC08_223067_20200826_band4.tif"), band4.File)
	assert.Equal(t, "bdc-archive/Repository/Archive/LC8SR/2020-08/223067/LC08_223067_20200826_band4.tif", band4.Asset)

	// The assets were persisted on the collection item too.
	assert.Len(t, store.saved, 1)
	assert.Len(t, store.saved[0].Assets, 2)
}

func TestUpload_MustStripBucketPrefixAndFinishChain(t *testing.T) {
	store := &fakeStore{}
	uploader := &fakeUploader{}
	tasks := &Tasks{Store: store, Uploader: uploader, Bucket: "bdc-archive"}

	scene := &registry.WorkDescriptor{
		CollectionID: CollectionLC8SR,
		SceneID:      testSceneID,
		ActivityType: ActivityUpload,
		Args: registry.ActivityArgs{
			Assets: map[string]registry.AssetEntry{
				"band4": {File: "/data/products/band4.tif", Asset: "bdc-archive/LC8SR/2020-08/223067/band4.tif"},
			},
		},
	}

	out, err := tasks.Upload(context.Background(), scene)

	assert.NoError(t, err)
	assert.Nil(t, out) // terminal stage, nothing to re-enqueue
	assert.Equal(t, [][3]string{{"/data/products/band4.tif", "bdc-archive", "LC8SR/2020-08/223067/band4.tif"}}, uploader.uploads)
	assert.Equal(t, ActivityUpload, store.executions[0].ActivityType)
}

func TestUpload_MustRequireAssets(t *testing.T) {
	tasks := &Tasks{Store: &fakeStore{}, Uploader: &fakeUploader{}, Bucket: "bdc-archive"}

	_, err := tasks.Upload(context.Background(), &registry.WorkDescriptor{
		CollectionID: CollectionLC8SR,
		SceneID:      testSceneID,
		ActivityType: ActivityUpload,
	})

	assert.Error(t, err)
}
