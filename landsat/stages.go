package landsat

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/leandromet/data-cube-bdc-collection-builder/pipeline"
	registry "github.com/leandromet/data-cube-bdc-collection-builder/scene-task-registry"
)

// Download fetches the raw scene archive. The activity and its history row
// are written before the external effect so a failed download still leaves an
// auditable attempt.
func (t *Tasks) Download(ctx context.Context, scene *registry.WorkDescriptor) (*registry.WorkDescriptor, error) {
	scene.ActivityType = ActivityDownload

	execution, err := t.Store.CreateExecution(ctx, scene)
	if err != nil {
		return nil, err
	}

	if scene.Args.Link == "" || scene.Args.File == "" {
		return nil, fmt.Errorf("download for scene %s requires args.link and args.file", scene.SceneID)
	}

	tileDate, err := TileDate(scene.SceneID)
	if err != nil {
		return nil, err
	}
	tile, err := TileID(scene.SceneID)
	if err != nil {
		return nil, err
	}
	yyyymm := tileDate.Format("2006-01")

	item, err := t.Store.CollectionItem(ctx, execution.Activity)
	if err != nil {
		log.Printf("Error at download %s, id=%s - %v", scene.SceneID, execution.Activity.ID, err)
		return nil, err
	}

	// Creating an already-existing product dir is not an error; re-runs of
	// the same scene land in the same place.
	productdir := filepath.Join(scene.Args.File, yyyymm, tile)
	if err := os.MkdirAll(productdir, 0o755); err != nil {
		log.Printf("Error at download %s, id=%s - %v", scene.SceneID, execution.Activity.ID, err)
		return nil, err
	}

	file, err := t.Downloader.Download(ctx, scene.Args.Link, productdir)
	if err != nil {
		err = &pipeline.ExternalServiceError{Service: "downloader", SceneID: scene.SceneID, Err: err}
		log.Printf("Error at download %s, id=%s - %v", scene.SceneID, execution.Activity.ID, err)
		return nil, err
	}

	item.CompressedFile = strings.TrimPrefix(file, t.DataDir)
	if scene.Args.Cloud > 0 {
		item.CloudCover = scene.Args.Cloud
	}
	if err := t.Store.SaveCollectionItem(ctx, item); err != nil {
		log.Printf("Error at download %s, id=%s - %v", scene.SceneID, execution.Activity.ID, err)
		return nil, err
	}

	scene.Args.File = file

	// Hand the scene to the correction stage.
	scene.ActivityType = ActivityCorrection
	return scene, nil
}

// Correction submits the scene to the correction service and verifies its
// output landed on disk. Correction always targets the surface-reflectance
// collection, whatever collection the scene arrived with.
func (t *Tasks) Correction(ctx context.Context, scene *registry.WorkDescriptor) (*registry.WorkDescriptor, error) {
	scene.CollectionID = CollectionLC8SR
	scene.ActivityType = ActivityCorrection

	execution, err := t.Store.CreateExecution(ctx, scene)
	if err != nil {
		return nil, err
	}

	if scene.Args.File == "" {
		return nil, fmt.Errorf("correction for scene %s requires args.file from the download stage", scene.SceneID)
	}

	pathrow, err := TileID(scene.SceneID)
	if err != nil {
		return nil, err
	}
	tileDate, err := TileDate(scene.SceneID)
	if err != nil {
		return nil, err
	}
	yyyymm := tileDate.Format("2006-01")
	date := tileDate.Format("20060102")

	if err := t.Espa.Correct(ctx, CorrectionRequest{
		App:     scene.ActivityType,
		SceneID: scene.SceneID,
		File:    scene.Args.File,
		PathRow: pathrow,
	}); err != nil {
		log.Printf("Error at correction Landsat %s, id=%s - %v", scene.SceneID, execution.Activity.ID, err)
		return nil, err
	}

	productdir := filepath.Join(t.DataDir, "Repository", "Archive", scene.CollectionID, yyyymm, pathrow)

	log.Printf("Checking for the corrected files in %s", productdir)

	// The service may answer before the products are written; the files on
	// disk are the authoritative completion signal.
	if !CorrectionDone(productdir, pathrow, date) {
		err := &pipeline.IncompleteResultError{SceneID: scene.SceneID, ProductDir: productdir}
		log.Printf("Error at correction Landsat %s, id=%s - %v", scene.SceneID, execution.Activity.ID, err)
		return nil, err
	}

	scene.Args.File = productdir

	scene.ActivityType = ActivityPublish
	return scene, nil
}

// Publish derives the scene's publishable assets and records them on the work
// descriptor for the upload stage.
func (t *Tasks) Publish(ctx context.Context, scene *registry.WorkDescriptor) (*registry.WorkDescriptor, error) {
	scene.ActivityType = ActivityPublish

	execution, err := t.Store.CreateExecution(ctx, scene)
	if err != nil {
		return nil, err
	}

	item, err := t.Store.CollectionItem(ctx, execution.Activity)
	if err != nil {
		log.Printf("Error at publish %s, id=%s - %v", scene.SceneID, execution.Activity.ID, err)
		return nil, err
	}

	assets, err := t.Publisher.Publish(ctx, item, execution.Activity)
	if err != nil {
		log.Printf("Error at publish %s, id=%s - %v", scene.SceneID, execution.Activity.ID, err)
		return nil, err
	}

	log.Printf("Published %d asset(s) for scene %s: %v", len(assets), scene.SceneID, AssetNames(assets))

	scene.ActivityType = ActivityUpload
	scene.Args.Assets = assets
	return scene, nil
}

// Upload pushes every published asset to blob storage. Terminal: there is no
// next descriptor.
func (t *Tasks) Upload(ctx context.Context, scene *registry.WorkDescriptor) (*registry.WorkDescriptor, error) {
	scene.ActivityType = ActivityUpload

	execution, err := t.Store.CreateExecution(ctx, scene)
	if err != nil {
		return nil, err
	}

	if len(scene.Args.Assets) == 0 {
		return nil, fmt.Errorf("upload for scene %s requires args.assets from the publish stage", scene.SceneID)
	}

	for name, entry := range scene.Args.Assets {
		key := strings.TrimPrefix(entry.Asset, t.Bucket+"/")
		if err := t.Uploader.UploadAsset(ctx, entry.File, t.Bucket, key); err != nil {
			err = &pipeline.ExternalServiceError{Service: "uploader", SceneID: scene.SceneID, Err: err}
			log.Printf("Error at upload %s (asset %s), id=%s - %v", scene.SceneID, name, execution.Activity.ID, err)
			return nil, err
		}
	}

	return nil, nil
}
