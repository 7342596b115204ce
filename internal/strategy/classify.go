// Package strategy decides how each intercepted request is answered:
// from a cache partition, from the network, or from a synthetic fallback.
package strategy

import (
	"net/http"
	"path"
	"strings"
)

// Class is the handling strategy assigned to a request
type Class int

const (
	Static Class = iota + 1
	Image
	API
	Dynamic
)

func (c Class) String() string {
	switch c {
	case Static:
		return "static"
	case Image:
		return "image"
	case API:
		return "api"
	case Dynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

var staticExtensions = map[string]bool{
	".css":   true,
	".js":    true,
	".woff":  true,
	".woff2": true,
	".ttf":   true,
	".eot":   true,
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".svg":  true,
	".ico":  true,
}

const dataDirectory = "/data/"

// Classify assigns req to a strategy. The first matching rule wins:
// non-GET is not handled, then static and image extensions, then data
// paths, and everything else is a page.
func Classify(req *http.Request) (Class, bool) {
	if req.Method != http.MethodGet {
		return 0, false
	}

	p := req.URL.Path
	ext := path.Ext(p)

	switch {
	case staticExtensions[ext]:
		return Static, true
	case imageExtensions[ext]:
		return Image, true
	case strings.Contains(p, dataDirectory) || ext == ".json":
		return API, true
	default:
		return Dynamic, true
	}
}
