package utils

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"
)

// videoExtensions mirrors the stream-container extensions an IPTV provider
// is likely to serve; a bare URL path or query string carrying one of these
// is trusted over a generic MIME sniff.
var videoExtensions = map[string]bool{
	".mp4": true,
	".mkv": true,
	".avi": true,
	".mov": true,
	".m4v": true,
	".ts":  true,
	".m3u8": true,
}

// defaultExtension is used when no candidate filename carries a recognized
// extension and a content sniff is unavailable or inconclusive.
const defaultExtension = ".mp4"

// DetermineFilename derives a destination filename for a stream URL from,
// in priority order, the Content-Disposition header, filename/file query
// parameters, and the URL path. peek is an optional slice of leading
// response bytes (e.g. from a short probe read); when non-nil it is used to
// sniff a MIME-based extension if none of the earlier candidates carried a
// recognizable one.
func DetermineFilename(rawurl string, resp *http.Response, peek []byte, verbose bool) (string, error) {
	parsed, err := url.Parse(rawurl)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}

	var candidate string

	if resp != nil {
		if _, name, err := httpheader.ContentDisposition(resp.Header); err == nil && name != "" {
			candidate = name
			if verbose {
				fmt.Fprintf(os.Stderr, "filename from Content-Disposition: %s\n", candidate)
			}
		}
	}

	if candidate == "" {
		q := parsed.Query()
		if name := q.Get("filename"); name != "" {
			candidate = name
			if verbose {
				fmt.Fprintf(os.Stderr, "filename from query param 'filename': %s\n", candidate)
			}
		} else if name := q.Get("file"); name != "" {
			candidate = name
			if verbose {
				fmt.Fprintf(os.Stderr, "filename from query param 'file': %s\n", candidate)
			}
		}
	}

	if candidate == "" {
		candidate = filepath.Base(parsed.Path)
	}

	filename := sanitizeFilename(candidate)

	if !videoExtensions[strings.ToLower(filepath.Ext(filename))] {
		if ext := extensionFromRawURL(rawurl); ext != "" {
			filename = strings.TrimSuffix(filename, filepath.Ext(filename)) + ext
		} else if len(peek) > 0 {
			if kind, _ := filetype.Match(peek); kind != filetype.Unknown && kind.Extension != "" {
				filename = strings.TrimSuffix(filename, filepath.Ext(filename)) + "." + kind.Extension
				if verbose {
					fmt.Fprintf(os.Stderr, "extension from content sniff: %s\n", kind.Extension)
				}
			}
		}
	}

	if filename == "" || filename == "." || filename == "/" || filename == "_" || filepath.Ext(filename) == "" {
		base := filename
		if base == "" || base == "." || base == "/" || base == "_" {
			base = "stream"
		}
		filename = base + defaultExtension
		if verbose {
			fmt.Fprintf(os.Stderr, "falling back to default extension: %s\n", defaultExtension)
		}
	}

	return filename, nil
}

// extensionFromRawURL applies the provider's common-case heuristic: a known
// video extension appearing anywhere in the raw URL (path or query string)
// beats a generic MIME sniff, since IPTV links often encode the container
// type in a query parameter rather than the path.
func extensionFromRawURL(rawurl string) string {
	lower := strings.ToLower(rawurl)
	for ext := range videoExtensions {
		if strings.Contains(lower, ext) {
			return ext
		}
	}
	return ""
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." {
		return name
	}
	if name == "/" || name == "\\" {
		return "_"
	}
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, ":", "_")
	name = strings.ReplaceAll(name, "*", "_")
	name = strings.ReplaceAll(name, "?", "_")
	name = strings.ReplaceAll(name, "\"", "_")
	name = strings.ReplaceAll(name, "<", "_")
	name = strings.ReplaceAll(name, ">", "_")
	name = strings.ReplaceAll(name, "|", "_")
	return name
}
