package bridge

import (
	"context"
	"strings"
)

// DomainOf returns the top-level folder of a Dropbox path. Only paths
// with at least one component below that folder have a domain, so files
// at the root never do.
//
//	/siteA/img.png     -> siteA
//	/siteA/css/a.css   -> siteA
//	/img.png           -> (none)
func DomainOf(p string) (string, bool) {
	rest, ok := strings.CutPrefix(p, "/")
	if !ok {
		return "", false
	}
	domain, below, found := strings.Cut(rest, "/")
	if !found || domain == "" || below == "" {
		return "", false
	}
	return domain, true
}

// ShouldSync reports whether path lies in a domain registered for accountID.
func (b *Bridge) ShouldSync(ctx context.Context, accountID, path string) (bool, error) {
	domain, ok := DomainOf(path)
	if !ok {
		return false, nil
	}
	return b.accounts.SiteRegistered(ctx, accountID, domain)
}
