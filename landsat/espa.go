package landsat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/leandromet/data-cube-bdc-collection-builder/pipeline"
)

// CorrectionRequest is the calling contract of the atmospheric correction
// service: GET /espa?app&sceneid&file&pathrow.
type CorrectionRequest struct {
	App     string
	SceneID string
	File    string
	PathRow string
}

type CorrectionService interface {
	Correct(ctx context.Context, req CorrectionRequest) error
}

// EspaClient submits scenes to the ESPA correction service over HTTP.
type EspaClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *EspaClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Correct submits the scene for correction. A non-200 HTTP status or an
// explicit {"status":"ERROR"} payload is a domain failure. Note the service
// may acknowledge before the corrected products are on disk; callers must
// treat file existence, not this call, as the completion signal.
func (c *EspaClient) Correct(ctx context.Context, req CorrectionRequest) error {
	params := url.Values{}
	params.Set("app", req.App)
	params.Set("sceneid", req.SceneID)
	params.Set("file", req.File)
	params.Set("pathrow", req.PathRow)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/espa?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("unable to build espa request for scene %s, %w", req.SceneID, err)
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return &pipeline.ExternalServiceError{Service: "espa", SceneID: req.SceneID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &pipeline.ExternalServiceError{
			Service: "espa",
			SceneID: req.SceneID,
			Err:     fmt.Errorf("unexpected HTTP status %d", resp.StatusCode),
		}
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &pipeline.ExternalServiceError{
			Service: "espa",
			SceneID: req.SceneID,
			Err:     fmt.Errorf("unable to decode response: %w", err),
		}
	}

	if result.Status == "ERROR" {
		return &pipeline.ExternalServiceError{
			Service: "espa",
			SceneID: req.SceneID,
			Err:     fmt.Errorf("espa-science execution reported ERROR"),
		}
	}
	return nil
}

// CorrectionDone reports whether the correction service has produced output
// for the given pathrow and date in productdir. At least one file matching
// LC08_*_<pathrow>_<date>_*.tif must exist.
func CorrectionDone(productdir, pathrow, date string) bool {
	template := filepath.Join(productdir, fmt.Sprintf("LC08_*_%s_%s_*.tif", pathrow, date))

	matches, err := filepath.Glob(template)
	if err != nil {
		return false
	}
	return len(matches) > 0
}
