package loadpipe

import (
	"context"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/mod/semver"
)

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseLoaderVersion extracts the first x.y[.z] token from a --version banner
// and returns it in canonical semver form, e.g. "v14.3.0".
func ParseLoaderVersion(banner string) (string, error) {
	m := versionRe.FindStringSubmatch(banner)
	if m == nil {
		return "", errors.Errorf("no version in %q", strings.TrimSpace(banner))
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	v := semver.Canonical("v" + m[1] + "." + m[2] + "." + patch)
	if v == "" {
		return "", errors.Errorf("bad version %q", m[0])
	}
	return v, nil
}

func canonicalVersion(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

// CheckLoaderVersion runs argv (e.g. "loadcsv --version") and fails if the
// reported version is older than minVersion. It returns the version it found.
func CheckLoaderVersion(ctx context.Context, runner Runner, argv []string, minVersion string) (string, error) {
	want := canonicalVersion(minVersion)
	if want == "" {
		return "", errors.Wrapf(ErrUsage, "bad minimum loader version %q", minVersion)
	}
	if len(argv) == 0 {
		return "", errors.Wrap(ErrUsage, "no loader version command")
	}
	path := argv[0]
	result, err := runner.Run(ctx, &Command{Path: path, Args: argv[1:], Timeout: defaultQueryTimeout})
	if err != nil {
		return "", errors.Wrapf(err, "get %s version", path)
	}
	if result.ExitCode != 0 {
		return "", errors.Errorf("%s exited with status %d", strings.Join(argv, " "), result.ExitCode)
	}
	banner := string(result.Stdout)
	if strings.TrimSpace(banner) == "" {
		banner = string(result.Stderr)
	}
	got, err := ParseLoaderVersion(banner)
	if err != nil {
		return "", errors.Wrapf(err, "get %s version", path)
	}
	if semver.Compare(got, want) < 0 {
		return got, errors.Wrapf(ErrLoaderTooOld, "%s is %s, need %s", path, got, want)
	}
	return got, nil
}
