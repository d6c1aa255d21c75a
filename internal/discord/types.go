package discord

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Channel types the archiver cares about.
const (
	ChannelTypeGuildText         = 0
	ChannelTypeDM                = 1
	ChannelTypeGuildVoice        = 2
	ChannelTypeGroupDM           = 3
	ChannelTypeGuildCategory     = 4
	ChannelTypeGuildAnnouncement = 5
	ChannelTypePublicThread      = 11
	ChannelTypePrivateThread     = 12
)

// SpoilerPrefix marks an attachment as a spoiler by filename.
const SpoilerPrefix = "SPOILER_"

type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	GlobalName    *string `json:"global_name"`
	Discriminator string  `json:"discriminator"`
	Bot           bool    `json:"bot"`
}

// DisplayName prefers the global display name over the username.
func (u User) DisplayName() string {
	if u.GlobalName != nil && *u.GlobalName != "" {
		return *u.GlobalName
	}
	return u.Username
}

type Attachment struct {
	ID          string  `json:"id"`
	Filename    string  `json:"filename"`
	Size        int64   `json:"size"`
	URL         string  `json:"url"`
	ProxyURL    string  `json:"proxy_url"`
	ContentType *string `json:"content_type"`
	Width       *int    `json:"width"`
	Height      *int    `json:"height"`
}

func (a Attachment) Spoiler() bool {
	return strings.HasPrefix(a.Filename, SpoilerPrefix)
}

// Emoji is either a custom guild emoji (ID set) or a unicode emoji (ID nil) inside a reaction.
type Emoji struct {
	ID       *string `json:"id"`
	Name     *string `json:"name"`
	Animated bool    `json:"animated"`
	Managed  bool    `json:"managed"`
}

type Reaction struct {
	Count int   `json:"count"`
	Me    bool  `json:"me"`
	Emoji Emoji `json:"emoji"`
}

type Message struct {
	ID              string            `json:"id"`
	ChannelID       string            `json:"channel_id"`
	Author          User              `json:"author"`
	Content         string            `json:"content"`
	Timestamp       time.Time         `json:"timestamp"`
	EditedTimestamp *time.Time        `json:"edited_timestamp"`
	Attachments     []Attachment      `json:"attachments"`
	Embeds          []json.RawMessage `json:"embeds"`
	Reactions       []Reaction        `json:"reactions"`
	Thread          *Channel          `json:"thread"`
}

type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Position    int    `json:"position"`
	Permissions string `json:"permissions"`
	Managed     bool   `json:"managed"`
	Mentionable bool   `json:"mentionable"`
}

type Guild struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Description       *string `json:"description"`
	OwnerID           string  `json:"owner_id"`
	PreferredLocale   string  `json:"preferred_locale"`
	VerificationLevel int     `json:"verification_level"`
	Icon              *string `json:"icon"`
	Splash            *string `json:"splash"`
	Banner            *string `json:"banner"`
}

type Channel struct {
	ID       string  `json:"id"`
	Type     int     `json:"type"`
	GuildID  *string `json:"guild_id"`
	Name     *string `json:"name"`
	Topic    *string `json:"topic"`
	Position int     `json:"position"`
	ParentID *string `json:"parent_id"`
	NSFW     bool    `json:"nsfw"`
}

// IsTextLike reports whether the channel carries a regular message history.
func (c Channel) IsTextLike() bool {
	return c.Type == ChannelTypeGuildText || c.Type == ChannelTypeGuildAnnouncement
}
