// Package loader resolves published ruleset manifests, verifies the
// artifacts behind them and compiles them into evaluable rulesets.
package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stratuspay/fraudengine/internal/core"
	"github.com/stratuspay/fraudengine/internal/fields"
	"github.com/stratuspay/fraudengine/internal/rules"
)

// LoadError classifies a failed load with an engine error code.
type LoadError struct {
	Code string
	Err  error
}

func (e *LoadError) Error() string { return e.Code + ": " + e.Err.Error() }

func (e *LoadError) Unwrap() error { return e.Err }

func codedErr(code, format string, args ...interface{}) *LoadError {
	return &LoadError{Code: code, Err: fmt.Errorf(format, args...)}
}

// Code extracts the engine error code from a load failure, or "" when the
// failure has no classification.
func Code(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// Loader turns (country, key) pairs into compiled rulesets. It gates every
// load on the live field registry: an artifact compiled against a newer
// registry than the one serving is refused, keeping the prior version up.
type Loader struct {
	store  ObjectStore
	live   *fields.Live
	prefix string
	env    string
}

func New(store ObjectStore, live *fields.Live, prefix, env string) *Loader {
	return &Loader{store: store, live: live, prefix: prefix, env: env}
}

// Load resolves the manifest for (country, key), fetches and verifies the
// artifact, and compiles it.
func (l *Loader) Load(ctx context.Context, country, key string) (*rules.CompiledRuleset, error) {
	start := time.Now()

	raw, err := l.store.Get(ctx, manifestPath(l.prefix, l.env, country, key))
	if errors.Is(err, ErrNotFound) {
		raw, err = l.store.Get(ctx, legacyManifestPath(l.prefix, l.env, key))
	}
	if errors.Is(err, ErrNotFound) {
		return nil, codedErr(core.CodeArtifactNotFound, "no manifest for %s/%s in %s: %w", country, key, l.env, err)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch manifest %s/%s: %w", country, key, err)
	}

	m, err := parseManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("manifest %s/%s: %w", country, key, err)
	}
	if m.RulesetKey != "" && m.RulesetKey != key {
		return nil, fmt.Errorf("manifest %s/%s names ruleset_key %q", country, key, m.RulesetKey)
	}
	if m.RulesetVersion <= 0 {
		return nil, fmt.Errorf("manifest %s/%s has no ruleset_version", country, key)
	}

	reg := l.live.Get()
	if reg == nil {
		return nil, fmt.Errorf("load %s/%s: field registry not loaded", country, key)
	}
	if m.FieldRegistryVersion > reg.Version {
		return nil, codedErr(core.CodeSchemaIncompatible,
			"ruleset %s/%s v%d needs field registry v%d, serving v%d",
			country, key, m.RulesetVersion, m.FieldRegistryVersion, reg.Version)
	}

	blob, err := l.fetchVerified(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("artifact for %s/%s v%d: %w", country, key, m.RulesetVersion, err)
	}

	var art rules.Artifact
	if err := json.Unmarshal(blob, &art); err != nil {
		return nil, fmt.Errorf("parse artifact %s/%s v%d: %w", country, key, m.RulesetVersion, err)
	}
	if art.RulesetVersion != 0 && art.RulesetVersion != m.RulesetVersion {
		return nil, fmt.Errorf("artifact %s/%s declares v%d, manifest says v%d",
			country, key, art.RulesetVersion, m.RulesetVersion)
	}

	evalType, err := evaluationType(art.ExecutionMode)
	if err != nil {
		return nil, fmt.Errorf("artifact %s/%s v%d: %w", country, key, m.RulesetVersion, err)
	}

	comp := rules.NewCompiler(reg)
	compiled := make([]*rules.CompiledRule, 0, len(art.Rules))
	for i := range art.Rules {
		cr, err := comp.CompileRule(&art.Rules[i])
		if err != nil {
			if errors.Is(err, rules.ErrUnresolvedField) {
				return nil, codedErr(core.CodeUnresolvedField,
					"ruleset %s/%s v%d: %w", country, key, m.RulesetVersion, err)
			}
			return nil, fmt.Errorf("compile %s/%s v%d: %w", country, key, m.RulesetVersion, err)
		}
		compiled = append(compiled, cr)
	}

	rs := rules.NewRuleset(rules.RulesetMeta{
		RulesetKey:           key,
		RulesetID:            art.RulesetID,
		Version:              m.RulesetVersion,
		Country:              country,
		EvaluationType:       evalType,
		FieldRegistryVersion: m.FieldRegistryVersion,
		Fields:               reg,
	}, compiled)

	slog.Info("[Loader] Ruleset loaded",
		"country", country,
		"key", key,
		"version", m.RulesetVersion,
		"rules", rs.RuleCount(),
		"duration_ms", time.Since(start).Milliseconds())
	return rs, nil
}

// LoadFieldRegistry fetches the registry artifact for the environment. The
// caller decides when to install it.
func (l *Loader) LoadFieldRegistry(ctx context.Context) (*fields.Registry, error) {
	raw, err := l.store.Get(ctx, registryManifestPath(l.prefix, l.env))
	if errors.Is(err, ErrNotFound) {
		return nil, codedErr(core.CodeArtifactNotFound, "no field registry manifest in %s: %w", l.env, err)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch field registry manifest: %w", err)
	}

	m, err := parseManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("field registry manifest: %w", err)
	}
	if m.FieldRegistryVersion <= 0 {
		return nil, fmt.Errorf("field registry manifest has no field_registry_version")
	}

	blob, err := l.fetchVerified(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("field registry artifact v%d: %w", m.FieldRegistryVersion, err)
	}

	reg, err := fields.Parse(blob)
	if err != nil {
		return nil, err
	}
	if reg.Version != m.FieldRegistryVersion {
		return nil, fmt.Errorf("field registry artifact declares v%d, manifest says v%d",
			reg.Version, m.FieldRegistryVersion)
	}

	slog.Info("[Loader] Field registry loaded", "version", reg.Version, "fields", reg.FieldCount())
	return reg, nil
}

// ManifestVersion reads just the published ruleset_version for (country,
// key), for pollers that want to compare before pulling the artifact.
func (l *Loader) ManifestVersion(ctx context.Context, country, key string) (int64, error) {
	raw, err := l.store.Get(ctx, manifestPath(l.prefix, l.env, country, key))
	if errors.Is(err, ErrNotFound) {
		raw, err = l.store.Get(ctx, legacyManifestPath(l.prefix, l.env, key))
	}
	if err != nil {
		return 0, err
	}
	m, err := parseManifest(raw)
	if err != nil {
		return 0, err
	}
	return m.RulesetVersion, nil
}

// RegistryManifestVersion reads the published field registry version.
func (l *Loader) RegistryManifestVersion(ctx context.Context) (int64, error) {
	raw, err := l.store.Get(ctx, registryManifestPath(l.prefix, l.env))
	if err != nil {
		return 0, err
	}
	m, err := parseManifest(raw)
	if err != nil {
		return 0, err
	}
	return m.FieldRegistryVersion, nil
}

func (l *Loader) fetchVerified(ctx context.Context, m *Manifest) ([]byte, error) {
	blob, err := l.store.Get(ctx, artifactKey(m.ArtifactURI))
	if errors.Is(err, ErrNotFound) {
		return nil, codedErr(core.CodeArtifactNotFound, "%s: %w", m.ArtifactURI, err)
	}
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(blob)
	got := hex.EncodeToString(sum[:])
	want := strings.TrimPrefix(m.Checksum, "sha256:")
	if !strings.EqualFold(got, want) {
		return nil, codedErr(core.CodeChecksumMismatch,
			"%s: checksum sha256:%s, manifest says %s", m.ArtifactURI, got, m.Checksum)
	}
	return blob, nil
}

func evaluationType(mode string) (core.EvaluationType, error) {
	switch mode {
	case "", string(core.EvalAuth):
		return core.EvalAuth, nil
	case string(core.EvalMonitoring):
		return core.EvalMonitoring, nil
	}
	return "", fmt.Errorf("unknown execution_mode %q", mode)
}
