package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	reg "github.com/leandromet/data-cube-bdc-collection-builder/scene-task-registry"
)

func main() {
	var (
		dynamoEndpoint = flag.String("dynamo-docapi-endpoint", "", "DynamoDB Document API endpoint URL for the scene task registry")
		collectionID   = flag.String("collection", "", "Filter by collection id (optional). If empty, export ALL activities via Scan")
		activityType   = flag.String("activity-type", "", "Filter by activity type (optional), e.g. downloadLC8")
		sceneID        = flag.String("sceneid", "", "Export a single activity by scene id (requires --collection and --activity-type)")
		output         = flag.String("output", "activities.csv", "Output CSV path")
	)
	flag.Parse()

	if *dynamoEndpoint == "" {
		log.Fatal("--dynamo-docapi-endpoint is required")
	}
	if *sceneID != "" && (*collectionID == "" || *activityType == "") {
		log.Fatal("--sceneid needs --collection and --activity-type to form the activity key")
	}

	r, err := reg.New(*dynamoEndpoint)
	if err != nil {
		log.Fatalf("registry init: %v", err)
	}

	var activities []reg.Activity
	if *sceneID != "" {
		// Point lookup by the activity's natural key instead of a table scan.
		activity, err := r.GetActivity(context.Background(), *collectionID, *sceneID, *activityType)
		if err != nil {
			log.Fatalf("get activity: %v", err)
		}
		activities = []reg.Activity{*activity}
	} else {
		activities, err = r.ListActivities(context.Background(), *collectionID, *activityType)
		if err != nil {
			log.Fatalf("list activities: %v", err)
		}
	}

	header := []string{
		"id", "collection_id", "activity_type", "sceneid", "scene_type",
		"tags", "arg_link", "arg_cloud", "arg_file", "assets", "created", "updated",
	}

	if err := writeCSV(*output, header, activities); err != nil {
		log.Fatalf("write csv: %v", err)
	}
	fmt.Printf("Wrote %d rows to %s\n", len(activities), *output)
}

func writeCSV(path string, header []string, activities []reg.Activity) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(header); err != nil {
		return err
	}

	for _, activity := range activities {
		row := []string{
			activity.ID,
			activity.CollectionID,
			activity.ActivityType,
			activity.SceneID,
			activity.SceneType,
			strings.Join(activity.Tags, ";"),
			activity.Args.Link,
			cloudCol(activity.Args.Cloud),
			activity.Args.File,
			strings.Join(assetCols(activity.Args.Assets), ";"),
			timePtr(activity.Created),
			timePtr(activity.Updated),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func cloudCol(cloud float64) string {
	if cloud == 0 {
		return ""
	}
	return strconv.FormatFloat(cloud, 'f', -1, 64)
}

func assetCols(assets map[string]reg.AssetEntry) []string {
	cols := make([]string, 0, len(assets))
	for name, entry := range assets {
		cols = append(cols, name+"="+entry.Asset)
	}
	sort.Strings(cols)
	return cols
}

func timePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
