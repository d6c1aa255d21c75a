package discord

import (
	"strings"
)

// CDN builds asset URLs on the platform's content host.
type CDN struct {
	Base string
}

// AssetExt is the file extension the CDN serves for an image hash; animated hashes are gifs.
func AssetExt(hash string) string {
	if strings.HasPrefix(hash, "a_") {
		return "gif"
	}
	return "png"
}

func (c CDN) url(parts ...string) string {
	return strings.TrimRight(c.Base, "/") + "/" + strings.Join(parts, "/")
}

func (c CDN) GuildIcon(guildID, hash string) string {
	return c.url("icons", guildID, hash+"."+AssetExt(hash))
}

// GuildSplash is always served as png.
func (c CDN) GuildSplash(guildID, hash string) string {
	return c.url("splashes", guildID, hash+".png")
}

func (c CDN) GuildBanner(guildID, hash string) string {
	return c.url("banners", guildID, hash+"."+AssetExt(hash))
}

func (c CDN) Emoji(emojiID string, animated bool) string {
	return c.url("emojis", emojiID+"."+EmojiExt(animated))
}

func EmojiExt(animated bool) string {
	if animated {
		return "gif"
	}
	return "png"
}
