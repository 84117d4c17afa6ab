// Package landsat implements the Landsat-8 stage chain:
// downloadLC8 -> correctionLC8 -> publishLC8 -> uploadLC8.
// Handlers mutate the work descriptor's activity_type to hand the scene to
// the next stage; the worker re-enqueues the returned descriptor.
package landsat

import (
	"context"

	registry "github.com/leandromet/data-cube-bdc-collection-builder/scene-task-registry"
)

// CollectionLC8 is the raw Landsat-8 collection; CollectionLC8SR is the
// surface-reflectance collection every correction targets, regardless of the
// scene's original collection.
const (
	CollectionLC8   = "LC8"
	CollectionLC8SR = "LC8SR"
)

const (
	ActivityDownload   = "downloadLC8"
	ActivityCorrection = "correctionLC8"
	ActivityPublish    = "publishLC8"
	ActivityUpload     = "uploadLC8"
)

// ExecutionStore is the slice of the scene task registry the handlers need.
// *scene_task_registry.SceneTaskRegistry satisfies it.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, scene *registry.WorkDescriptor) (*registry.Execution, error)
	CollectionItem(ctx context.Context, activity *registry.Activity) (*registry.CollectionItem, error)
	SaveCollectionItem(ctx context.Context, item *registry.CollectionItem) error
}

// Downloader fetches the scene archive behind a link into destDir and returns
// the local file path.
type Downloader interface {
	Download(ctx context.Context, link, destDir string) (string, error)
}

// Publisher derives the publishable assets of a collection item and returns
// the assetName -> {local file, remote asset descriptor} mapping.
type Publisher interface {
	Publish(ctx context.Context, item *registry.CollectionItem, activity *registry.Activity) (map[string]registry.AssetEntry, error)
}

// Uploader puts a local file into blob storage under bucket/key.
type Uploader interface {
	UploadAsset(ctx context.Context, localFile, bucket, key string) error
}

// Tasks holds the collaborators shared by the Landsat stage handlers. The
// handlers are independent; sharing happens through this injected service
// object, not through a task base class.
type Tasks struct {
	Store      ExecutionStore
	Downloader Downloader
	Espa       CorrectionService
	Publisher  Publisher
	Uploader   Uploader

	// DataDir is the root data directory; collection item paths are stored
	// relative to it.
	DataDir string
	// Bucket is the blob-storage bucket assets are uploaded to.
	Bucket string
}
