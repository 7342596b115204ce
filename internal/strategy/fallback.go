package strategy

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	offlineCSS = "/* Offline CSS fallback */"
	offlineJS  = "// Offline JS fallback"

	placeholderSVG = `<svg width="400" height="300" xmlns="http://www.w3.org/2000/svg">
  <rect width="100%" height="100%" fill="#f0f0f0"/>
  <text x="50%" y="50%" text-anchor="middle" dy=".3em" font-family="Arial" font-size="16" fill="#999">
    Image Offline
  </text>
</svg>`

	offlinePage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Offline - Nakoda Metal Industries</title>
  <style>
    body { font-family: Arial, sans-serif; text-align: center; padding: 50px; background: #f5f5f5; }
    .offline-container { max-width: 500px; margin: 0 auto; background: white; padding: 40px; border-radius: 10px; box-shadow: 0 4px 20px rgba(0,0,0,0.1); }
    .logo { color: #B87333; font-size: 2rem; margin-bottom: 20px; }
    h1 { color: #2C2C2C; }
    p { color: #6C757D; line-height: 1.6; }
    .retry-btn { background: #B87333; color: white; padding: 12px 24px; border: none; border-radius: 5px; cursor: pointer; margin-top: 20px; }
  </style>
</head>
<body>
  <div class="offline-container">
    <div class="logo">Nakoda Metal Industries</div>
    <h1>You're Offline</h1>
    <p>It looks like you're not connected to the internet. Some content may not be available, but you can still browse cached pages.</p>
    <button class="retry-btn" onclick="window.location.reload()">Retry Connection</button>
  </div>
</body>
</html>
`
)

// offlineBody is the JSON document served for data requests with no network
// and no cached copy
type offlineBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewResponse builds a complete in-memory response for req
func NewResponse(req *http.Request, status int, contentType, body string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))

	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func offlineStaticResponse(req *http.Request) *http.Response {
	switch {
	case strings.HasSuffix(req.URL.Path, ".css"):
		return NewResponse(req, http.StatusOK, "text/css", offlineCSS)
	case strings.HasSuffix(req.URL.Path, ".js"):
		return NewResponse(req, http.StatusOK, "application/javascript", offlineJS)
	default:
		return NewResponse(req, http.StatusServiceUnavailable, "text/plain; charset=utf-8", "Offline")
	}
}

func placeholderImageResponse(req *http.Request) *http.Response {
	resp := NewResponse(req, http.StatusOK, "image/svg+xml", placeholderSVG)
	resp.Header.Set("Cache-Control", "no-cache")
	return resp
}

func offlineJSONResponse(req *http.Request) *http.Response {
	body, _ := json.Marshal(offlineBody{
		Error:   "Offline",
		Message: "This content is not available offline",
	})
	return NewResponse(req, http.StatusOK, "application/json", string(body))
}

func offlinePageResponse(req *http.Request) *http.Response {
	return NewResponse(req, http.StatusOK, "text/html; charset=utf-8", offlinePage)
}
