package document

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// identifierURL is the {url: URL} object form of an identifier source.
type identifierURL struct {
	URL *URL `json:"url"`
}

// ResolveIdentifier resolves a dynamic URL identifier source. raw is
// either a bare JSON string (a reserved tag or a verbatim literal) or an
// object of the form {"url": URL} whose downloaded script's first stdout
// line becomes the identifier.
func ResolveIdentifier(ctx context.Context, env Env, raw json.RawMessage) (string, error) {
	var tag string
	if err := json.Unmarshal(raw, &tag); err == nil {
		if env.Identity != nil {
			if v, ok := env.Identity.Resolve(tag); ok {
				return v, nil
			}
		}
		// Not a reserved tag: returned verbatim.
		return tag, nil
	}

	var obj identifierURL
	if err := json.Unmarshal(raw, &obj); err != nil || obj.URL == nil {
		return "", errors.New("document: identifier is neither a reserved tag nor a url object")
	}

	dir, err := os.MkdirTemp("", "ztp-identifier-")
	if err != nil {
		return "", errors.Wrap(err, "document: identifier scratch dir")
	}
	defer os.RemoveAll(dir)

	dest := filepath.Join(dir, "identifier-script")
	code, path, err := obj.URL.Download(ctx, env, dest)
	if err != nil || code != 0 {
		return "", errors.Wrap(err, "document: identifier script download failed")
	}

	if err := os.Chmod(path, 0o700); err != nil {
		return "", errors.Wrap(err, "document: identifier script chmod failed")
	}

	cmd := exec.CommandContext(ctx, path)
	out, err := cmd.Output()
	if err != nil {
		return "", errors.Wrap(err, "document: identifier script execution failed")
	}

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	return "", nil
}
