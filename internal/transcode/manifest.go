package transcode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RenditionOutput pairs a ladder entry with the playlist produced for it.
type RenditionOutput struct {
	Rendition   Rendition
	PlaylistURL string
}

// BuildMasterPlaylist renders the master HLS manifest referencing each
// rendition playlist in ladder order.
func BuildMasterPlaylist(outputs []RenditionOutput) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, out := range outputs {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n", out.Rendition.Bandwidth(), out.Rendition.Resolution())
		b.WriteString(out.PlaylistURL)
		b.WriteString("\n")
	}
	return b.String()
}

// WriteMasterPlaylist writes the manifest atomically via a temp file rename.
func WriteMasterPlaylist(path string, outputs []RenditionOutput) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(BuildMasterPlaylist(outputs)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
