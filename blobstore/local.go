package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// URLPrefix is the path under which uploaded media is served.
const URLPrefix = "/uploads/"

// LocalStore keeps uploads on the local filesystem as root/<kind>/<uuid><ext>.
type LocalStore struct {
	root    string
	baseURL string
	logger  *zap.Logger
}

// NewLocalStore creates root and one directory per media kind.
func NewLocalStore(root, baseURL string, logger *zap.Logger) (*LocalStore, error) {
	for _, kind := range []MediaKind{KindImage, KindAudio, KindVideo} {
		if err := os.MkdirAll(filepath.Join(root, string(kind)), 0o755); err != nil {
			return nil, fmt.Errorf("create upload directory: %w", err)
		}
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}, nil
}

// Upload writes data and returns its public URL.
func (s *LocalStore) Upload(ctx context.Context, data []byte, kind MediaKind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("upload: unknown media kind %q", kind)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + extensionFor(http.DetectContentType(data), kind)
	target := filepath.Join(s.root, string(kind), name)

	// Written under a temp name, then renamed into place.
	tmp := target + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	s.logger.Debug("media uploaded",
		zap.String("kind", string(kind)),
		zap.String("name", name),
		zap.Int("bytes", len(data)),
	)
	return s.baseURL + URLPrefix + string(kind) + "/" + name, nil
}

// Delete removes the blob behind a URL returned by Upload. Unknown files are ignored.
func (s *LocalStore) Delete(ctx context.Context, rawURL string) error {
	kind, name, err := s.locate(rawURL)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, string(kind), name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}

func (s *LocalStore) locate(rawURL string) (MediaKind, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse upload url: %w", err)
	}
	return splitUploadPath(u.Path)
}

// splitUploadPath maps /uploads/<kind>/<name> to its parts, rejecting
// anything that would escape the kind directory.
func splitUploadPath(p string) (MediaKind, string, error) {
	rest, ok := strings.CutPrefix(path.Clean(p), URLPrefix)
	if !ok {
		return "", "", fmt.Errorf("not an upload path: %q", p)
	}
	dir, name, ok := strings.Cut(rest, "/")
	kind := MediaKind(dir)
	if !ok || !kind.Valid() || name == "" || strings.Contains(name, "/") || strings.HasPrefix(name, ".") {
		return "", "", fmt.Errorf("not an upload path: %q", p)
	}
	return kind, name, nil
}

// ServeHTTP serves uploaded media under URLPrefix.
func (s *LocalStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind, name, err := splitUploadPath(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(filepath.Join(s.root, string(kind), name))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(name, kind))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func extensionFor(detected string, kind MediaKind) string {
	mimeType, _, _ := strings.Cut(detected, ";")
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wave":
		return ".wav"
	case "application/ogg", "audio/ogg":
		return ".ogg"
	case "video/webm":
		return ".webm"
	case "video/mp4":
		return ".mp4"
	case "video/avi":
		return ".avi"
	}
	return ".bin"
}

func contentTypeFor(name string, kind MediaKind) string {
	ext := strings.ToLower(filepath.Ext(name))

	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return string(kind) + "/ogg"
	case ".webm":
		// Recorded voice notes are webm containers too.
		return string(kind) + "/webm"
	case ".mp4":
		return "video/mp4"
	case ".avi":
		return "video/x-msvideo"
	default:
		return "application/octet-stream"
	}
}
