// Package publish replaces the forms in a platform library collection.
//
// A run against one collection is strictly ordered:
//
//  1. delete every asset currently in the collection
//  2. import every artifact as an unparented library asset
//  3. settle: wait for the imports to finish
//  4. move unparented assets whose name starts with a known country code
//     into the collection
//
// Any non-success response aborts the run for that collection. There is no
// rollback: a failure after step 1 leaves the collection empty or partial.
package publish

import "context"

// Asset is a library item on the platform.
type Asset struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	AssetType string `json:"asset_type"`
}

// Import states reported by the platform.
const (
	ImportCreated    = "created"
	ImportProcessing = "processing"
	ImportComplete   = "complete"
	ImportError      = "error"
)

// ImportState is the platform's view of one import.
type ImportState struct {
	UID      string
	Status   string
	Messages string // raw platform messages, kept for error reports
}

// Platform is the survey platform API the pipeline drives.
type Platform interface {
	// ListAssets returns assets whose parent is parentUID, or unparented
	// assets when parentUID is empty.
	ListAssets(ctx context.Context, parentUID string) ([]Asset, error)

	// DeleteAssets removes the given assets in one request.
	DeleteAssets(ctx context.Context, uids []string) error

	// ImportAsset uploads an xlsx file as a library asset and returns the import uid.
	ImportAsset(ctx context.Context, name string, content []byte) (string, error)

	// ImportStatus reports the state of an import.
	ImportStatus(ctx context.Context, importUID string) (ImportState, error)

	// MoveAsset sets the asset's parent collection.
	MoveAsset(ctx context.Context, asset Asset, parentUID string) error
}
