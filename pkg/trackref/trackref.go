// Package trackref extracts track and playlist identifiers from user input: bare IDs or
// YouTube and YouTube Music links.
package trackref

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ErrNotTrackRef is returned for input that names no track.
	ErrNotTrackRef = errors.New("not a track reference")

	trackIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

// Ref identifies a track, optionally within a playlist.
type Ref struct {
	TrackID    string
	PlaylistID string
}

// Parse accepts an 11-character track ID or a watch, short, embed or youtu.be link.
func Parse(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if trackIDRegex.MatchString(raw) {
		return Ref{TrackID: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Ref{}, ErrNotTrackRef
	}
	if !IsSupportedHost(u.Hostname()) {
		return Ref{}, ErrNotTrackRef
	}

	ref := Ref{PlaylistID: u.Query().Get("list")}
	host := strings.ToLower(u.Hostname())
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	switch {
	case host == "youtu.be":
		ref.TrackID = segments[0]
	case len(segments) == 2 && (segments[0] == "shorts" || segments[0] == "embed" || segments[0] == "live"):
		ref.TrackID = segments[1]
	default:
		ref.TrackID = u.Query().Get("v")
	}

	if !trackIDRegex.MatchString(ref.TrackID) {
		return Ref{}, ErrNotTrackRef
	}
	return ref, nil
}

// IsSupportedHost reports whether host serves YouTube or YouTube Music links.
func IsSupportedHost(host string) bool {
	switch strings.ToLower(host) {
	case "youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be":
		return true
	}
	return false
}
