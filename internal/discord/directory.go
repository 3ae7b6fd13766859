package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Directory resolves Discord user ids to display names: state cache first,
// then a guild-member fetch, then a plain user fetch. It implements the
// session coordinator's Directory contract.
type Directory struct {
	session *discordgo.Session
	guildID string
}

// Lookup returns the best display name for userID.
func (d *Directory) Lookup(ctx context.Context, userID string) (string, error) {
	if member, err := d.session.State.Member(d.guildID, userID); err == nil {
		return displayName(member, member.User), nil
	}
	if member, err := d.session.GuildMember(d.guildID, userID, discordgo.WithContext(ctx)); err == nil {
		return displayName(member, member.User), nil
	}
	user, err := d.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: lookup user %s: %w", userID, err)
	}
	return displayName(nil, user), nil
}
