package gcloud

import (
	"context"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/artpar/stackship/internal/core/registry"
)

// listingFormat selects digest, tags and creation time, one image per CSV row.
const listingFormat = "csv[no-heading](version,tags,createTime)"

// Artifacts lists image versions and deletes tags in an artifact registry.
type Artifacts struct {
	cli *CLI
}

// NewArtifacts creates a registry client.
func NewArtifacts(cli *CLI) *Artifacts {
	return &Artifacts{cli: cli}
}

// List returns every version stored under base. Rows that cannot be parsed are
// reported in Listing.Rejected and logged.
func (a *Artifacts) List(ctx context.Context, base domain.RemoteBase) (registry.Listing, error) {
	path := base.Path()
	res, err := a.cli.run(ctx, nil,
		"artifacts", "docker", "images", "list", path,
		"--include-tags",
		"--format="+listingFormat,
	)
	if err != nil {
		return registry.Listing{}, NewGcloudError("List", "image", path, "listing failed", err)
	}

	listing, err := registry.ParseListingString(res.Stdout)
	if err != nil {
		return registry.Listing{}, NewGcloudError("List", "image", path, "unreadable listing", err)
	}
	for _, rejected := range listing.Rejected {
		a.cli.logger.Warn("ignoring unparseable listing row",
			"image", path,
			"line", rejected.Line,
			"error", rejected.Err,
		)
	}
	return listing, nil
}

// Delete removes one tag. The version it points to stays, as do any other
// tags on it. A tag that no longer exists counts as deleted.
func (a *Artifacts) Delete(ctx context.Context, base domain.RemoteBase, tag string) error {
	ref := base.Path() + ":" + tag
	_, err := a.cli.run(ctx, nil,
		"artifacts", "docker", "tags", "delete", ref,
		"--quiet",
	)
	if err != nil {
		if notFound(err) {
			a.cli.logger.Debug("tag already gone", "image", ref)
			return nil
		}
		return NewGcloudError("Delete", "tag", ref, "delete failed", err)
	}
	return nil
}
