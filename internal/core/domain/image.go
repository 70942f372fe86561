package domain

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Image References
// =============================================================================

// FixedTag is the tag used by the legacy publish mode; every publish overwrites it.
const FixedTag = "latest"

// RemoteBase identifies an image inside a registry, without a tag.
type RemoteBase struct {
	RegistryHost string // e.g. "europe-west1-docker.pkg.dev"
	Namespace    string // project identifier
	ImageName    string // also the repository name
}

// Path returns the fully-qualified image path.
// Pattern: {registryHost}/{namespace}/{imageName}/{imageName}
//
// Example:
//
//	RemoteBase{"europe-west1-docker.pkg.dev", "acme", "tg-journals"}.Path()
//	// returns "europe-west1-docker.pkg.dev/acme/tg-journals/tg-journals"
func (b RemoteBase) Path() string {
	return fmt.Sprintf("%s/%s/%s/%s", b.RegistryHost, b.Namespace, b.ImageName, b.ImageName)
}

// Validate checks that every segment of the base is present.
func (b RemoteBase) Validate() error {
	switch {
	case strings.TrimSpace(b.RegistryHost) == "":
		return ConfigError("registry host", "is required")
	case strings.TrimSpace(b.Namespace) == "":
		return ConfigError("registry namespace", "is required")
	case strings.TrimSpace(b.ImageName) == "":
		return ConfigError("image name", "is required")
	}
	return nil
}

// ImageReference is a published image revision. Immutable once created.
type ImageReference struct {
	RegistryHost string    `json:"registry_host" yaml:"registry_host"`
	Namespace    string    `json:"namespace" yaml:"namespace"`
	ImageName    string    `json:"image_name" yaml:"image_name"`
	Tag          string    `json:"tag" yaml:"tag"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// NewImageReference builds the reference of base tagged with tag.
func NewImageReference(base RemoteBase, tag string, createdAt time.Time) ImageReference {
	return ImageReference{
		RegistryHost: base.RegistryHost,
		Namespace:    base.Namespace,
		ImageName:    base.ImageName,
		Tag:          tag,
		CreatedAt:    createdAt.UTC(),
	}
}

// Base returns the untagged part of the reference.
func (r ImageReference) Base() RemoteBase {
	return RemoteBase{
		RegistryHost: r.RegistryHost,
		Namespace:    r.Namespace,
		ImageName:    r.ImageName,
	}
}

// String renders {registryHost}/{namespace}/{imageName}/{imageName}:{tag}.
func (r ImageReference) String() string {
	return r.Base().Path() + ":" + r.Tag
}

// IsZero reports whether the reference was never set.
func (r ImageReference) IsZero() bool {
	return r.ImageName == "" && r.Tag == ""
}
