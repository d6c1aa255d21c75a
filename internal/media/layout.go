package media

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Layout maps a backup job to its directories under Root:
//
//	<root>/media/<job>/<attachmentId>_<filename>
//	<root>/assets/<job>/{icon,splash,banner}.<ext>
//	<root>/emojis/<job>/<emojiId>.<ext>
//
// Removing the three job directories is a complete cleanup of a backup's files.
type Layout struct {
	Root string
}

var kinds = []string{"media", "assets", "emojis"}

func (l Layout) jobDir(kind string, jobID uint) string {
	return filepath.Join(l.Root, kind, strconv.FormatUint(uint64(jobID), 10))
}

func (l Layout) MediaDir(jobID uint) string { return l.jobDir("media", jobID) }
func (l Layout) AssetDir(jobID uint) string { return l.jobDir("assets", jobID) }
func (l Layout) EmojiDir(jobID uint) string { return l.jobDir("emojis", jobID) }

// Dirs lists every directory owned by jobID.
func (l Layout) Dirs(jobID uint) []string {
	dirs := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		dirs = append(dirs, l.jobDir(kind, jobID))
	}
	return dirs
}

// KeyPrefixes are the object-store prefixes mirroring Dirs, in the same order.
func (l Layout) KeyPrefixes(jobID uint) []string {
	prefixes := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		prefixes = append(prefixes, kind+"/"+strconv.FormatUint(uint64(jobID), 10))
	}
	return prefixes
}

func (l Layout) AttachmentPath(jobID uint, attachmentID, filename string) string {
	return filepath.Join(l.MediaDir(jobID), SanitizeFilename(attachmentID)+"_"+SanitizeFilename(filename))
}

// AssetPath is the path of a server icon, splash or banner.
func (l Layout) AssetPath(jobID uint, name, ext string) string {
	return filepath.Join(l.AssetDir(jobID), name+"."+ext)
}

func (l Layout) EmojiPath(jobID uint, emojiID, ext string) string {
	return filepath.Join(l.EmojiDir(jobID), SanitizeFilename(emojiID)+"."+ext)
}

// RemoveJob deletes every directory of jobID. Missing directories are not an error.
func (l Layout) RemoveJob(jobID uint) error {
	var errs []error
	for _, dir := range l.Dirs(jobID) {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SanitizeFilename keeps a platform filename inside its directory.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == '/', r == ':', r == '*', r == '?', r == '"', r == '<', r == '>', r == '|':
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}
