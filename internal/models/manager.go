package models

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/whispertype/whisperd/internal/config"
)

// Progress reports download state.
type Progress struct {
	ModelID    string
	Downloaded int64
	Total      int64
	Done       bool
}

// Manager resolves and downloads model files under the configured directory.
type Manager struct {
	dir    string
	client *http.Client
	log    *slog.Logger
	mu     sync.Mutex
}

func NewManager(cfg config.ModelsConfig, log *slog.Logger) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("models directory not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	return &Manager{
		dir:    cfg.Dir,
		client: http.DefaultClient,
		log:    log.With(slog.String("component", "models")),
	}, nil
}

// Dir returns the models directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns the on-disk location for a model.
func (m *Manager) Path(info ModelInfo) string {
	return filepath.Join(m.dir, info.Filename)
}

// IsDownloaded reports whether the model file exists and is non-empty.
func (m *Manager) IsDownloaded(info ModelInfo) bool {
	stat, err := os.Stat(m.Path(info))
	if err != nil {
		return false
	}
	return stat.Size() > 0
}

// Resolve returns the local path for a model id, downloading it first when
// autoDownload is set and the file is absent.
func (m *Manager) Resolve(ctx context.Context, id string, autoDownload bool) (string, error) {
	info, ok := Lookup(id)
	if !ok {
		return "", fmt.Errorf("unknown model %q", id)
	}
	if m.IsDownloaded(info) {
		return m.Path(info), nil
	}
	if !autoDownload {
		return "", fmt.Errorf("model %q not present in %s (enable models.auto_download or fetch it manually)", id, m.dir)
	}
	if err := m.Download(ctx, info, nil); err != nil {
		return "", err
	}
	return m.Path(info), nil
}

// Download fetches a model into the models directory. The file is written to
// a temporary name and renamed on completion so a partial download is never
// mistaken for a model. progress may be nil.
func (m *Manager) Download(ctx context.Context, info ModelInfo, progress func(Progress)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsDownloaded(info) {
		if progress != nil {
			progress(Progress{ModelID: info.ID, Downloaded: info.Size, Total: info.Size, Done: true})
		}
		return nil
	}

	m.log.Info("downloading model", slog.String("model", info.ID), slog.String("url", info.URL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("download model %s: %w", info.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download model %s: unexpected status %s", info.ID, resp.Status)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = info.Size
	}

	partial := m.Path(info) + ".partial"
	file, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("create partial file: %w", err)
	}

	var written int64
	buf := make([]byte, 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			file.Close()
			os.Remove(partial)
			return err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				file.Close()
				os.Remove(partial)
				return fmt.Errorf("write model file: %w", err)
			}
			written += int64(n)
			if progress != nil {
				progress(Progress{ModelID: info.ID, Downloaded: written, Total: total})
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			file.Close()
			os.Remove(partial)
			return fmt.Errorf("read model body: %w", readErr)
		}
	}

	if err := file.Close(); err != nil {
		os.Remove(partial)
		return fmt.Errorf("close model file: %w", err)
	}
	if err := os.Rename(partial, m.Path(info)); err != nil {
		os.Remove(partial)
		return fmt.Errorf("finalize model file: %w", err)
	}

	if progress != nil {
		progress(Progress{ModelID: info.ID, Downloaded: written, Total: total, Done: true})
	}
	m.log.Info("model downloaded", slog.String("model", info.ID), slog.Int64("bytes", written))
	return nil
}

// ListDownloaded returns the registry entries present on disk.
func (m *Manager) ListDownloaded() []ModelInfo {
	var downloaded []ModelInfo
	for _, info := range Registry {
		if m.IsDownloaded(info) {
			downloaded = append(downloaded, info)
		}
	}
	return downloaded
}
