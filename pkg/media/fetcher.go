package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"postvault/pkg/config"
	errs "postvault/pkg/errors"
	"postvault/pkg/logger"
)

// Kind tells the fetcher which timeout class a download belongs to.
type Kind string

const (
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

const (
	defaultImageTimeout    = 30 * time.Second
	defaultDocumentTimeout = 60 * time.Second
	defaultBaseDir         = "downloads"
)

// Ref points at one remote file a saved item carries.
type Ref struct {
	URL      string
	Kind     Kind
	Filename string // suggested name, derived from the URL when empty
}

// Sidecar records where a downloaded file came from.
type Sidecar struct {
	ExternalID   string    `json:"external_id"`
	SourceURL    string    `json:"source_url"`
	Kind         Kind      `json:"kind"`
	FileSize     int64     `json:"file_size"`
	TakenAt      time.Time `json:"taken_at"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// Fetcher downloads media files into the dated directory layout
type Fetcher struct {
	httpClient      *http.Client
	baseDir         string
	imageTimeout    time.Duration
	documentTimeout time.Duration
	saveSidecar     bool
	logger          logger.Logger
}

// NewFetcher creates a fetcher rooted at the configured directory
func NewFetcher(cfg config.MediaConfig, log logger.Logger) (*Fetcher, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	baseDir := cfg.Directory
	if baseDir == "" {
		baseDir = defaultBaseDir
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	imageTimeout := cfg.ImageTimeout
	if imageTimeout <= 0 {
		imageTimeout = defaultImageTimeout
	}
	documentTimeout := cfg.DocumentTimeout
	if documentTimeout <= 0 {
		documentTimeout = defaultDocumentTimeout
	}

	return &Fetcher{
		httpClient:      &http.Client{},
		baseDir:         baseDir,
		imageTimeout:    imageTimeout,
		documentTimeout: documentTimeout,
		saveSidecar:     cfg.SaveMetadata,
		logger:          log,
	}, nil
}

// BaseDir returns the root of the download layout
func (f *Fetcher) BaseDir() string {
	return f.baseDir
}

// Fetch downloads one ref and returns the local path it was written to.
// A file that already exists at the target path is not downloaded
// again. The download runs under the per-kind timeout regardless of
// the caller's context deadline.
func (f *Fetcher) Fetch(ctx context.Context, ref Ref, externalID string, takenAt time.Time) (string, error) {
	if ref.URL == "" {
		return "", errs.New(errs.ErrorTypeUnknown, "media ref has no URL")
	}

	localPath := f.localPath(ref, externalID, takenAt)

	if _, err := os.Stat(localPath); err == nil {
		f.logger.DebugWithFields("media already downloaded", map[string]interface{}{
			"external_id": externalID,
			"path":        localPath,
		})
		return localPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeoutFor(ref.Kind))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return "", errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("failed to create request: %v", err))
	}

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		f.logger.WarnWithFields("media download failed", map[string]interface{}{
			"external_id": externalID,
			"url":         ref.URL,
			"error":       err.Error(),
			"duration":    duration,
		})
		return "", errs.New(errs.ErrorTypeNetwork, fmt.Sprintf("media download failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.WarnWithFields("media download rejected", map[string]interface{}{
			"external_id": externalID,
			"url":         ref.URL,
			"status":      resp.StatusCode,
		})
		return "", errs.NewWithCode(
			errs.TypeFromStatusCode(resp.StatusCode),
			fmt.Sprintf("media download returned status %d", resp.StatusCode),
			resp.StatusCode,
		)
	}

	size, err := f.writeAtomic(localPath, resp.Body)
	if err != nil {
		return "", err
	}

	f.logger.DebugWithFields("media downloaded", map[string]interface{}{
		"external_id": externalID,
		"path":        localPath,
		"size":        size,
		"duration":    duration,
	})

	if f.saveSidecar {
		effectiveTakenAt := takenAt
		if effectiveTakenAt.IsZero() {
			effectiveTakenAt = time.Now()
		}
		sidecar := &Sidecar{
			ExternalID:   externalID,
			SourceURL:    ref.URL,
			Kind:         ref.Kind,
			FileSize:     size,
			TakenAt:      effectiveTakenAt,
			DownloadedAt: time.Now(),
		}
		if err := writeSidecar(localPath, sidecar); err != nil {
			// A missing sidecar never blocks the item itself
			f.logger.WarnWithFields("failed to write media sidecar", map[string]interface{}{
				"path":  localPath,
				"error": err.Error(),
			})
		}
	}

	return localPath, nil
}

// writeAtomic streams body to path via a temporary file so partial
// downloads never surface under the final name
func (f *Fetcher) writeAtomic(localPath string, body io.Reader) (int64, error) {
	tempPath := localPath + ".tmp"
	out, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	size, err := io.Copy(out, body)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempPath)
		return 0, errs.New(errs.ErrorTypeNetwork, fmt.Sprintf("failed to save media data: %v", err))
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempPath, localPath); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return size, nil
}

// timeoutFor returns the download deadline for a media kind
func (f *Fetcher) timeoutFor(kind Kind) time.Duration {
	if kind == KindDocument {
		return f.documentTimeout
	}
	return f.imageTimeout
}

// localPath builds <base>/YYYY/MM/DD/<externalID>_<name><ext> for a
// ref. The item's own timestamp picks the date directory so re-runs
// land files in the same place.
func (f *Fetcher) localPath(ref Ref, externalID string, takenAt time.Time) string {
	if takenAt.IsZero() {
		takenAt = time.Now()
	}
	day := takenAt.Format("2006/01/02")

	name := ref.Filename
	if name == "" {
		if parsed, err := url.Parse(ref.URL); err == nil {
			name = path.Base(parsed.Path)
		}
	}
	if name == "" || name == "." || name == "/" {
		name = "media"
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = defaultExt(ref.Kind)
	}

	base = CleanFilename(base)
	if base == "" {
		base = "media"
	}

	filename := CleanFilename(externalID) + "_" + base + CleanFilename(ext)
	return filepath.Join(f.baseDir, day, filename)
}

// defaultExt returns the fallback extension when the URL carries none
func defaultExt(kind Kind) string {
	if kind == KindDocument {
		return ".bin"
	}
	return ".jpg"
}

// CleanFilename strips everything except letters, digits, dots,
// underscores and hyphens so names from remote metadata are safe on
// every filesystem
func CleanFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// writeSidecar stores download provenance next to the media file
func writeSidecar(localPath string, sidecar *Sidecar) error {
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	if err := os.WriteFile(localPath+".json", data, 0644); err != nil {
		return fmt.Errorf("failed to write sidecar file: %w", err)
	}
	return nil
}

// LoadSidecar reads the provenance sidecar for a downloaded file
func LoadSidecar(localPath string) (*Sidecar, error) {
	data, err := os.ReadFile(localPath + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar file: %w", err)
	}

	var sidecar Sidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sidecar: %w", err)
	}
	return &sidecar, nil
}
