package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ManifestFileName lists the bundle files with their expected size and digest.
const ManifestFileName = "manifest.json"

// ErrManifestNotFound is returned when a bundle carries no manifest.
var ErrManifestNotFound = errors.New("bundle manifest not found")

// ManifestFile describes one file entry in manifest.json.
type ManifestFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Manifest mirrors manifest.json.
type Manifest struct {
	Model     string         `json:"model"`
	Version   string         `json:"version"`
	CreatedAt string         `json:"created_at"`
	Files     []ManifestFile `json:"files"`
}

// VerifyManifest checks every file listed in <dir>/manifest.json for size and sha256.
func VerifyManifest(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("bundle dir missing")
	}

	manifestBytes, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrManifestNotFound
		}
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}

	for _, f := range manifest.Files {
		local, err := resolveBundlePath(dir, filepath.FromSlash(f.Path))
		if err != nil {
			return fmt.Errorf("resolve path %s: %w", f.Path, err)
		}
		info, err := os.Stat(local)
		if err != nil {
			return fmt.Errorf("stat %s: %w", f.Path, err)
		}
		if f.Size > 0 && info.Size() != f.Size {
			return fmt.Errorf("size mismatch for %s: expected %d got %d", f.Path, f.Size, info.Size())
		}
		sum, err := fileSHA256(local)
		if err != nil {
			return fmt.Errorf("hash %s: %w", f.Path, err)
		}
		if f.SHA256 != "" && !strings.EqualFold(sum, f.SHA256) {
			return fmt.Errorf("sha256 mismatch for %s: expected %s got %s", f.Path, f.SHA256, sum)
		}
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()

	h := sha256.New()
	if _, err := io.Copy(h, fh); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
