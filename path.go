package msf

import "strings"

// NormalizePath converts a user-provided path to fs.ValidPath format.
//
// It performs the following transformations:
//   - Strips leading slashes: "/etc/nginx" → "etc/nginx"
//   - Strips trailing slashes: "etc/nginx/" → "etc/nginx"
//   - Collapses consecutive slashes: "etc//nginx" → "etc/nginx"
//   - Converts empty string to root: "" → "."
//
// It does not resolve or validate path elements; "." and ".." elements are
// preserved and rejected later by fs.ValidPath.
func NormalizePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "."
	}

	parts := strings.Split(p, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return "."
	}
	return strings.Join(result, "/")
}

// truncateName enforces the on-disk name limit. The name length field is a
// single byte, so anything longer is cut at the byte level; the format
// cannot represent it and packing deliberately continues.
func truncateName(name string) (truncated string, wasTruncated bool) {
	if len(name) <= MaxNameLen {
		return name, false
	}
	return name[:MaxNameLen], true
}
