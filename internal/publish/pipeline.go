package publish

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/JonMunkholm/pcodesync/internal/core"
	"github.com/JonMunkholm/pcodesync/internal/logging"
)

// codePrefixLen is how many leading characters of an asset name are checked
// against the country code map when deciding whether to move it.
const codePrefixLen = 3

// Report counts what a run did to one collection.
type Report struct {
	Deleted  int      `json:"deleted"`
	Uploaded int      `json:"uploaded"`
	Moved    int      `json:"moved"`
	Skipped  int      `json:"skipped"`
	Imports  []string `json:"-"`
}

// Pipeline publishes artifacts into one platform collection.
type Pipeline struct {
	platform Platform
	settler  Settler
	codes    core.CountryCodeMap
}

// NewPipeline returns a pipeline. A nil settler does not wait between upload and move.
func NewPipeline(platform Platform, settler Settler, codes core.CountryCodeMap) *Pipeline {
	if settler == nil {
		settler = SleepSettler{}
	}
	return &Pipeline{platform: platform, settler: settler, codes: codes}
}

// Run replaces the contents of collectionUID with artifacts. The returned
// report reflects the steps completed before any error.
func (p *Pipeline) Run(ctx context.Context, collectionUID string, artifacts []core.Artifact) (Report, error) {
	logger := logging.FromContext(ctx)
	start := time.Now()
	var report Report

	deleted, err := p.clear(ctx, collectionUID)
	report.Deleted = deleted
	if err != nil {
		return report, err
	}

	for _, a := range artifacts {
		content, err := os.ReadFile(a.Path)
		if err != nil {
			return report, fmt.Errorf("reading artifact %s: %w", a.Path, err)
		}
		importUID, err := p.platform.ImportAsset(ctx, a.FileName(), content)
		if err != nil {
			return report, err
		}
		report.Imports = append(report.Imports, importUID)
		report.Uploaded++
	}
	logger.Info("uploaded forms", "count", report.Uploaded)

	if err := p.settler.Settle(ctx, p.platform, report.Imports); err != nil {
		return report, err
	}

	unparented, err := p.platform.ListAssets(ctx, "")
	if err != nil {
		return report, err
	}
	for _, asset := range unparented {
		if _, ok := AssetCountryCode(asset.Name, p.codes); !ok {
			report.Skipped++
			continue
		}
		if err := p.platform.MoveAsset(ctx, asset, collectionUID); err != nil {
			return report, err
		}
		report.Moved++
	}

	logger.Info("publish complete",
		"collection", collectionUID,
		"deleted", report.Deleted,
		"uploaded", report.Uploaded,
		"moved", report.Moved,
		"skipped", report.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

// clear deletes everything in the collection. No delete request is made for
// an empty collection.
func (p *Pipeline) clear(ctx context.Context, collectionUID string) (int, error) {
	existing, err := p.platform.ListAssets(ctx, collectionUID)
	if err != nil {
		return 0, err
	}
	if len(existing) == 0 {
		return 0, nil
	}

	uids := make([]string, len(existing))
	for i, a := range existing {
		uids[i] = a.UID
	}
	if err := p.platform.DeleteAssets(ctx, uids); err != nil {
		return 0, err
	}
	logging.FromContext(ctx).Info("cleared collection", "collection", collectionUID, "deleted", len(uids))
	return len(uids), nil
}

// AssetCountryCode returns the country code an asset name starts with.
// The first three characters are taken and trailing spaces trimmed, so both
// "AFG (Afghanistan)" and "AA (Testland)" resolve.
func AssetCountryCode(name string, codes core.CountryCodeMap) (string, bool) {
	r := []rune(name)
	if len(r) > codePrefixLen {
		r = r[:codePrefixLen]
	}
	code := strings.TrimRight(string(r), " ")
	if code == "" || !codes.Has(code) {
		return "", false
	}
	return code, true
}
