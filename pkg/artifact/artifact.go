// Package artifact downloads pinned external binary releases and installs them
// for pipeline jobs to invoke.
package artifact

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/mitchellh/go-homedir"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/litetx/ltxkit/pkg/config"
	"github.com/litetx/ltxkit/pkg/errors"
	"github.com/litetx/ltxkit/pkg/util"
	"github.com/litetx/ltxkit/pkg/util/console"
	"github.com/litetx/ltxkit/pkg/util/files"
)

// MinimumVersion is the oldest release the toolchain knows how to talk to.
const MinimumVersion = "0.1.0"

// FromConfig builds an Artifact from its pipeline declaration. The version pin
// and install path can be overridden through <NAME>_VERSION and <NAME>_BIN
// environment variables, e.g. LTX_VERSION and LTX_BIN for an artifact named
// "ltx". The install path is homedir-expanded here so every consumer, the
// exported <NAME>_BIN variable included, sees the same absolute path.
func FromConfig(c *config.Artifact) (Artifact, error) {
	prefix := EnvPrefix(c.Name)
	identity := func(s string) (string, error) { return s, nil }
	installPath, err := homedir.Expand(util.GetEnvOrDefault(prefix+"_BIN", c.Path, identity))
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Name:    c.Name,
		URL:     c.URL,
		Version: util.GetEnvOrDefault(prefix+"_VERSION", c.Version, identity),
		Path:    installPath,
	}, nil
}

// EnvPrefix converts an artifact name to the prefix of its environment
// variables.
func EnvPrefix(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// Artifact is a pinned binary release: a URL template expanding {version},
// {os} and {arch}, and the path the extracted binary is installed at.
type Artifact struct {
	Name    string
	URL     string
	Version string
	Path    string
}

// ResolveURL validates the version pin and expands the URL template.
func (a Artifact) ResolveURL() (string, error) {
	pinned, err := version.NewVersion(a.Version)
	if err != nil {
		return "", fmt.Errorf("invalid version pin %q: %w", a.Version, err)
	}
	if pinned.LessThan(version.Must(version.NewVersion(MinimumVersion))) {
		return "", fmt.Errorf("version %s is older than the minimum supported release %s", a.Version, MinimumVersion)
	}

	return strings.NewReplacer(
		"{version}", a.Version,
		"{os}", runtime.GOOS,
		"{arch}", runtime.GOARCH,
	).Replace(a.URL), nil
}

// Install downloads the release archive, extracts the binary and marks it
// executable. Installing an already-installed version is a no-op.
func Install(ctx context.Context, client *http.Client, a Artifact) error {
	if installed(a) {
		console.Debugf("%s %s already installed at %s", a.Name, a.Version, a.Path)
		return nil
	}

	url, err := a.ResolveURL()
	if err != nil {
		return err
	}

	console.Infof("Downloading %s %s", a.Name, a.Version)
	console.Debugf("GET %s", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.ArtifactNotFound(fmt.Sprintf("no release archive for %s %s at %s", a.Name, a.Version, url))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("Bad response: %s attempting to fetch %s", strconv.Itoa(resp.StatusCode), url)
	}

	body := io.Reader(resp.Body)
	if console.IsTerminal() && resp.ContentLength > 0 {
		p := mpb.New(mpb.WithWidth(64))
		bar := p.New(resp.ContentLength,
			mpb.BarStyle().Rbound("|"),
			mpb.PrependDecorators(
				decor.Name(a.Name+" "),
				decor.Counters(decor.SizeB1024(0), "% .2f / % .2f"),
			),
			mpb.AppendDecorators(
				decor.EwmaETA(decor.ET_STYLE_GO, 30),
				decor.Name(" ] "),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 30),
			),
		)
		proxy := bar.ProxyReader(resp.Body)
		defer proxy.Close()
		defer p.Wait()
		body = proxy
	}

	if err := extractBinary(body, a); err != nil {
		return err
	}

	return writeVersionMarker(a)
}

// extractBinary streams the gzipped tarball and installs the entry matching
// the artifact name.
func extractBinary(r io.Reader, a Artifact) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("read release archive: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != a.Name {
			continue
		}

		contents, err := io.ReadAll(tr) // #nosec G110
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(a.Path), 0o755); err != nil {
			return err
		}
		if _, err := files.WriteFile(contents, a.Path); err != nil {
			return err
		}
		return nil
	}

	return fmt.Errorf("release archive does not contain a %q binary", a.Name)
}

// installed reports whether the pinned version is already on disk. The marker
// records the binary's hash so a corrupted or partial install re-downloads.
func installed(a Artifact) bool {
	if !files.IsExecutable(a.Path) {
		return false
	}
	marker, err := os.ReadFile(versionMarkerPath(a))
	if err != nil {
		return false
	}
	hash, err := util.SHA256HashFile(a.Path)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(marker)) == a.Version+" "+hash
}

func writeVersionMarker(a Artifact) error {
	hash, err := util.SHA256HashFile(a.Path)
	if err != nil {
		return err
	}
	return os.WriteFile(versionMarkerPath(a), []byte(a.Version+" "+hash+"\n"), 0o644)
}

func versionMarkerPath(a Artifact) string {
	return a.Path + ".version"
}
