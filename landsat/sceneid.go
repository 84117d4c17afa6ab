package landsat

import (
	"fmt"
	"strings"
	"time"
)

// Scene ids are positionally encoded, underscore-delimited:
// <SENSOR>_<LEVEL>_<PATHROW>_<DATE>_... e.g. LC08_L1TP_223067_20200826_...
// The tile (pathrow) is the 3rd field and the acquisition date the 4th.

const sceneIDMinFragments = 4

func sceneFragments(sceneID string) ([]string, error) {
	fragments := strings.Split(sceneID, "_")
	if len(fragments) < sceneIDMinFragments {
		return nil, fmt.Errorf("malformed scene id %q: expected at least %d underscore-delimited fields",
			sceneID, sceneIDMinFragments)
	}
	return fragments, nil
}

// TileID returns the pathrow tile identifier embedded in the scene id.
func TileID(sceneID string) (string, error) {
	fragments, err := sceneFragments(sceneID)
	if err != nil {
		return "", err
	}
	return fragments[2], nil
}

// TileDate returns the acquisition date embedded in the scene id.
func TileDate(sceneID string) (time.Time, error) {
	fragments, err := sceneFragments(sceneID)
	if err != nil {
		return time.Time{}, err
	}
	date, err := time.Parse("20060102", fragments[3])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed date in scene id %q: %w", sceneID, err)
	}
	return date, nil
}
