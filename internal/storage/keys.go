package storage

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var objectPathRegexp = regexp.MustCompile(`^/storage/v1/object/(?:public|sign|authenticated)/([^/]+)/(.+)$`)

// keyFromURL extracts an object key from rawURL. It understands URLs under any
// of the public base URLs, S3 virtual-host and path-style URLs for bucket, and
// /storage/v1/object/{public,sign}/<bucket>/<key> URLs.
func keyFromURL(rawURL, bucket string, publicBases ...string) (string, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", false
	}
	for _, base := range publicBases {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base == "" {
			continue
		}
		if strings.HasPrefix(rawURL, base+"/") {
			return cleanURLKey(strings.TrimPrefix(rawURL, base+"/"))
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	p := u.EscapedPath()
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}

	if m := objectPathRegexp.FindStringSubmatch(p); m != nil {
		if bucket == "" || m[1] == bucket {
			return cleanURLKey(m[2])
		}
		return "", false
	}

	if bucket == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if !strings.Contains(host, "amazonaws.com") {
		return "", false
	}
	if strings.HasPrefix(host, bucket+".s3") {
		return cleanURLKey(p)
	}
	if strings.HasPrefix(host, "s3") && strings.HasPrefix(p, "/"+bucket+"/") {
		return cleanURLKey(strings.TrimPrefix(p, "/"+bucket+"/"))
	}
	return "", false
}

func cleanURLKey(key string) (string, bool) {
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	key, err := sanitizeKey(key)
	if err != nil {
		return "", false
	}
	return key, true
}

// UploadKey builds the key for a user-supplied reference image.
func UploadKey(userID, contentType string) string {
	return path.Join("uploads", safeSegment(userID), uuid.NewString()+ExtensionFor(contentType))
}

// ResultKey builds the key for a generated asset. variant is "original" or
// "optimized".
func ResultKey(userID, generationID, variant, contentType string) string {
	return path.Join("generations", safeSegment(userID), fmt.Sprintf("%s-%s%s", safeSegment(generationID), variant, ExtensionFor(contentType)))
}

// ExtensionFor maps the image content types providers return to a file extension.
func ExtensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}

func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "anonymous"
	}
	return s
}
