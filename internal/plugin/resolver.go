// Package plugin resolves a section's executable: given a section,
// return an absolute path to the program that will perform its work.
package plugin

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/sonic-net/sonic-ztp/internal/document"
)

// Resolver resolves a section's plugin: cached download first, then a
// dynamic-url or url download, then a literal name, then a name derived
// from the section itself.
type Resolver struct {
	PluginsDir    string
	TmpPersistent string
	Env           document.Env
}

var leadingNumericPrefix = regexp.MustCompile(`^[0-9]+-`)

// Resolve returns the absolute path to the executable for section name,
// or ("", err) if no plugin could be found or downloaded.
func (r *Resolver) Resolve(ctx context.Context, name string, spec *document.PluginSpec) (string, error) {
	sectionDir := filepath.Join(r.TmpPersistent, name)
	cached := filepath.Join(sectionDir, "plugin")

	// 1. Cached download from a previous pass (suspended sections reuse
	// their already-downloaded plugin rather than re-fetching it).
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}

	if spec != nil {
		// 2. dynamic-url
		if spec.DynamicURL != nil {
			dest := spec.DynamicURL.Destination
			if dest == "" {
				dest = cached
			}
			code, path, err := spec.DynamicURL.Download(ctx, r.Env, dest)
			if err != nil || code != 0 {
				return "", errors.Wrap(err, "plugin: dynamic-url download failed")
			}
			if err := os.Chmod(path, 0o700); err != nil {
				return "", errors.Wrap(err, "plugin: chmod failed")
			}
			return path, nil
		}

		// 3. url
		if spec.URL != nil {
			dest := spec.URL.Destination
			if dest == "" {
				dest = cached
			}
			code, path, err := spec.URL.Download(ctx, r.Env, dest)
			if err != nil || code != 0 {
				return "", errors.Wrap(err, "plugin: url download failed")
			}
			if err := os.Chmod(path, 0o700); err != nil {
				return "", errors.Wrap(err, "plugin: chmod failed")
			}
			return path, nil
		}

		// 4/5. name object or bare string
		if spec.Name != "" {
			return r.resolveLiteral(spec.Name)
		}
	}

	// 6. derive from section name, stripping a leading numeric prefix.
	derived := leadingNumericPrefix.ReplaceAllString(name, "")
	return r.resolveLiteral(derived)
}

// resolveLiteral resolves a literal name against the plugins directory,
// or yields none if absent.
func (r *Resolver) resolveLiteral(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("plugin: empty plugin name")
	}
	path := filepath.Join(r.PluginsDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrapf(err, "plugin: %q not found in plugins directory", name)
	}
	return path, nil
}

// Args computes a plugin's extra argv: the section's input-JSON path
// (unless ignore-section-data is true) followed by the args string, if
// present, split on whitespace into separate arguments.
func Args(sectionInputPath string, spec *document.PluginSpec) []string {
	var args []string
	if spec == nil || !spec.IgnoreSectionData {
		args = append(args, sectionInputPath)
	}
	if spec != nil && spec.Args != "" {
		args = append(args, strings.Fields(spec.Args)...)
	}
	return args
}
