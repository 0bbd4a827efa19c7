package download

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// markerSuffix names the sidecar file used for cache entries that are
// extracted directories rather than a single file: the cache key still
// points at the marker, whose contents are the extraction path.
const markerSuffix = ".dirmarker"

// Cache is a content-addressed store keyed by "<algorithm>_<hex>". Entries
// never expire implicitly; only an explicit GC call removes them. The
// Download Manager is the cache directory's exclusive writer.
type Cache struct {
	dir string
}

// NewCache creates a cache rooted at dir, creating it if necessary.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func key(c Checksum) string {
	return fmt.Sprintf("%s_%s", strings.ToLower(c.Algorithm), strings.ToLower(c.Hex))
}

// Path returns the path a cache entry for c would have, whether or not it exists.
func (ch *Cache) Path(c Checksum) string {
	return filepath.Join(ch.dir, key(c))
}

// Lookup reports whether a cache entry exists for c, returning its path (a
// file, or a marker file if the cached artifact is a directory).
func (ch *Cache) Lookup(c Checksum) (path string, isDirMarker bool, ok bool) {
	p := ch.Path(c)
	if info, err := os.Stat(p); err == nil && !info.IsDir() {
		data, rerr := os.ReadFile(p)
		if rerr == nil && strings.HasPrefix(string(data), dirMarkerPrefix) {
			return strings.TrimPrefix(string(data), dirMarkerPrefix), true, true
		}
		return p, false, true
	}
	return "", false, false
}

const dirMarkerPrefix = "dir:"

// PutFile copies src into the cache under c's key, via copy-to-temp then
// atomic rename: concurrent writers producing identical bytes for the same
// key race harmlessly, since the final content is the same either way.
func (ch *Cache) PutFile(c Checksum, src string) error {
	dst := ch.Path(c)
	tmp := dst + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// PutDirMarker records that the artifact for c lives at extractedPath, a
// directory outside the cache (the extraction destination), rather than
// copying the whole tree into the cache.
func (ch *Cache) PutDirMarker(c Checksum, extractedPath string) error {
	dst := ch.Path(c)
	tmp := dst + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, []byte(dirMarkerPrefix+extractedPath), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// GC removes cache entries (and any directory they mark) older than
// maxAge. It returns the number of entries removed.
func (ch *Cache) GC(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(ch.dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(ch.dir, e.Name())
		data, _ := os.ReadFile(path)
		if strings.HasPrefix(string(data), dirMarkerPrefix) {
			os.RemoveAll(strings.TrimPrefix(string(data), dirMarkerPrefix))
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}
