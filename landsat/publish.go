package landsat

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	registry "github.com/leandromet/data-cube-bdc-collection-builder/scene-task-registry"
)

// ProductPublisher discovers the generated products of a scene in its product
// dir, records them on the collection item and returns the asset mapping for
// the upload stage. Asset descriptors are bucket-prefixed object paths, the
// form the upload stage strips back down to keys.
type ProductPublisher struct {
	Store   ExecutionStore
	Bucket  string
	DataDir string
}

var publishableExtensions = map[string]bool{
	".tif": true,
	".png": true,
}

func (p *ProductPublisher) Publish(ctx context.Context, item *registry.CollectionItem, activity *registry.Activity) (map[string]registry.AssetEntry, error) {
	productdir := activity.Args.File
	if productdir == "" {
		return nil, fmt.Errorf("activity %s has no product dir to publish", activity.ID)
	}

	entries, err := os.ReadDir(productdir)
	if err != nil {
		return nil, fmt.Errorf("unable to read product dir %q, %w", productdir, err)
	}

	assets := make(map[string]registry.AssetEntry)
	for _, entry := range entries {
		if entry.IsDir() || !publishableExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		local := filepath.Join(productdir, entry.Name())
		assetName := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		assets[assetName] = registry.AssetEntry{
			File:  local,
			Asset: path.Join(p.Bucket, objectPath(local, p.DataDir)),
		}
	}

	if len(assets) == 0 {
		return nil, fmt.Errorf("no publishable products found in %q", productdir)
	}

	item.Assets = assets
	if err := p.Store.SaveCollectionItem(ctx, item); err != nil {
		return nil, err
	}

	return assets, nil
}

// objectPath turns a local product path into the object path under the
// bucket: the data-dir prefix goes away, separators become slashes.
func objectPath(local, dataDir string) string {
	sub := strings.TrimPrefix(local, dataDir)
	sub = strings.TrimPrefix(filepath.ToSlash(sub), "/")
	return sub
}

// AssetNames returns the sorted asset names of a mapping, for stable logs.
func AssetNames(assets map[string]registry.AssetEntry) []string {
	names := make([]string, 0, len(assets))
	for name := range assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
