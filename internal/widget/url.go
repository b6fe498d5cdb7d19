package widget

import (
	"net/url"
	"strings"
)

// CanonicalURL strips the query and fragment from an authorized upload URL.
//
// This assumes the object's public URL equals the signed URL's path, which
// holds for path-style S3 and GCS signed URLs but is not guaranteed by every
// store. Treat the result as best effort.
func CanonicalURL(uploadURL string) string {
	u, err := url.Parse(uploadURL)
	if err != nil {
		before, _, _ := strings.Cut(uploadURL, "?")
		return before
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
