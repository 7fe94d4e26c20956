package fetch

import (
	"fmt"
	"net/url"
	"strings"
)

// RawContentURL rewrites a repository browsing URL into the raw-content URL
// serving file bytes at a revision. Known forges get their dedicated raw
// shapes; anything else falls back to the common /raw/ convention.
func RawContentURL(repoURI, revisionID, artifactPath string) (string, error) {
	repo := strings.TrimSpace(repoURI)
	rev := strings.TrimSpace(revisionID)
	rel := strings.TrimPrefix(strings.TrimSpace(artifactPath), "/")
	if repo == "" || rev == "" || rel == "" {
		return "", fmt.Errorf("fetch: incomplete provenance (repo=%q revision=%q path=%q)", repo, rev, rel)
	}
	repo = strings.TrimSuffix(repo, "/")
	repo = strings.TrimSuffix(repo, ".git")

	u, err := url.Parse(repo)
	if err != nil {
		return "", fmt.Errorf("fetch: malformed repository uri %q: %w", repoURI, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("fetch: malformed repository uri %q", repoURI)
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case strings.EqualFold(u.Scheme, "s3"):
		return repo + "/" + rev + "/" + rel, nil
	case host == "github.com" || host == "www.github.com":
		return "https://raw.githubusercontent.com" + u.Path + "/" + rev + "/" + rel, nil
	case host == "bitbucket.org":
		return repo + "/raw/" + rev + "/" + rel, nil
	case strings.Contains(host, "gitlab"):
		return repo + "/-/raw/" + rev + "/" + rel, nil
	default:
		return repo + "/raw/" + rev + "/" + rel, nil
	}
}
