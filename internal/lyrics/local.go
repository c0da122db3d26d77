package lyrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"melodeck/internal/core"
)

// sidecarExtensions are tried in order next to the audio file.
var sidecarExtensions = []string{".lrc", ".txt"}

// LocalProvider reads lyrics stored beside a downloaded track.
type LocalProvider struct {
	enabled bool
}

func NewLocalProvider(enabled bool) *LocalProvider {
	return &LocalProvider{enabled: enabled}
}

func (p *LocalProvider) Name() string { return ProviderLocal }

func (p *LocalProvider) IsEnabled() bool { return p.enabled }

// Lookup returns the first non-empty sidecar file for the track stored at audioPath, falling
// back to lyrics embedded in the file's tags.
func (p *LocalProvider) Lookup(audioPath string) (string, error) {
	if audioPath == "" {
		return "", fmt.Errorf("%w: no local path", ErrNoLyrics)
	}
	base := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))

	for _, ext := range sidecarExtensions {
		data, err := os.ReadFile(base + ext)
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			return text, nil
		}
	}

	if m, err := readTags(audioPath); err == nil {
		if text := strings.TrimSpace(m.Lyrics()); text != "" {
			return text, nil
		}
	}
	return "", fmt.Errorf("%w: no sidecar for %s", ErrNoLyrics, filepath.Base(audioPath))
}

// ReadTrackTags identifies a local audio file by its title and artist tags.
func ReadTrackTags(audioPath string) (core.LyricsTrack, error) {
	m, err := readTags(audioPath)
	if err != nil {
		return core.LyricsTrack{}, err
	}

	track := core.LyricsTrack{
		Title:     strings.TrimSpace(m.Title()),
		LocalPath: audioPath,
	}
	if track.Title == "" {
		return core.LyricsTrack{}, fmt.Errorf("%s has no title tag", filepath.Base(audioPath))
	}
	if artist := strings.TrimSpace(m.Artist()); artist != "" {
		track.Artists = []string{artist}
	}
	track.ID = track.ArtistString() + "/" + track.Title
	return track, nil
}

func readTags(audioPath string) (tag.Metadata, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags from %s: %w", filepath.Base(audioPath), err)
	}
	return m, nil
}
