package loader

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

// manifestSchemaVersion is the only manifest schema this engine accepts.
const manifestSchemaVersion = "2.0"

// Manifest is the published pointer to one artifact version. Rulesets and
// the field registry share the format; ruleset fields are empty for the
// registry manifest.
type Manifest struct {
	SchemaVersion        string    `json:"schema_version"`
	Environment          string    `json:"environment"`
	Region               string    `json:"region,omitempty"`
	Country              string    `json:"country,omitempty"`
	RulesetKey           string    `json:"ruleset_key,omitempty"`
	RulesetVersion       int64     `json:"ruleset_version,omitempty"`
	FieldRegistryVersion int64     `json:"field_registry_version"`
	ArtifactURI          string    `json:"artifact_uri"`
	Checksum             string    `json:"checksum"`
	PublishedAt          time.Time `json:"published_at"`
}

func parseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.SchemaVersion != manifestSchemaVersion {
		return nil, fmt.Errorf("unsupported manifest schema_version %q", m.SchemaVersion)
	}
	if m.ArtifactURI == "" {
		return nil, fmt.Errorf("manifest has no artifact_uri")
	}
	if !strings.HasPrefix(m.Checksum, "sha256:") {
		return nil, fmt.Errorf("manifest checksum %q is not sha256-prefixed", m.Checksum)
	}
	return &m, nil
}

func manifestPath(prefix, env, country, key string) string {
	return path.Join(prefix, env, country, key, "manifest.json")
}

// legacyManifestPath predates country partitioning. Readers fall back to it
// so older publishers keep working.
func legacyManifestPath(prefix, env, key string) string {
	return path.Join(prefix, env, key, "manifest.json")
}

func registryManifestPath(prefix, env string) string {
	return path.Join(prefix, env, "field-registry", "manifest.json")
}

// artifactKey resolves a manifest artifact_uri to a bucket key. Full s3://
// URIs drop the bucket segment (the store is already bucket-bound);
// anything else is treated as a key as-is.
func artifactKey(uri string) string {
	if after, ok := strings.CutPrefix(uri, "s3://"); ok {
		if i := strings.IndexByte(after, '/'); i >= 0 {
			return after[i+1:]
		}
		return after
	}
	return strings.TrimPrefix(uri, "/")
}
