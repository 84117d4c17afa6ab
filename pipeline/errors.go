package pipeline

import (
	"errors"
	"fmt"
)

// ExternalServiceError covers failures reported by a collaborator: a non-200
// status or explicit error payload from the correction service, or any error
// raised by the downloader/publisher/uploader.
type ExternalServiceError struct {
	Service string
	SceneID string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s failed for scene %s: %v", e.Service, e.SceneID, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func IsExternalService(err error) bool {
	var ese *ExternalServiceError
	return errors.As(err, &ese)
}

// IncompleteResultError means a collaborator reported success but the expected
// output files are absent on disk. Detected locally, not by the remote
// service, hence its own kind: the service may acknowledge before the products
// actually land.
type IncompleteResultError struct {
	SceneID    string
	ProductDir string
}

func (e *IncompleteResultError) Error() string {
	return fmt.Sprintf("expected output files for scene %s are missing in %s", e.SceneID, e.ProductDir)
}

func IsIncompleteResult(err error) bool {
	var ire *IncompleteResultError
	return errors.As(err, &ire)
}
