// Package discord connects the module host to the Discord gateway and
// application command API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/dragon-bot/dragon/internal/commands"
	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/pkg/api"
)

// Host is the part of the module host the gateway drives.
type Host interface {
	Start(ctx context.Context, tenants []api.Snowflake) error
	AddTenant(ctx context.Context, tenant api.Snowflake) error
	Dispatch(ctx context.Context, in *registry.Interaction, reply registry.Responder)
}

// Client is a bot session. It doubles as the remote command registry, with
// one command set per guild.
type Client struct {
	session *discordgo.Session
	appID   string
}

func New(token, appID string) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	return &Client{session: s, appID: appID}, nil
}

func (c *Client) List(ctx context.Context, tenant api.Snowflake) ([]commands.Registered, error) {
	cmds, err := c.session.ApplicationCommands(c.appID, tenant.String(), discordgo.WithContext(ctx))
	if err != nil {
		return nil, remoteErr(err)
	}
	out := make([]commands.Registered, 0, len(cmds))
	for _, cmd := range cmds {
		out = append(out, commands.Registered{ID: cmd.ID, Name: cmd.Name})
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, tenant api.Snowflake, cmd *registry.Command) (commands.Registered, error) {
	created, err := c.session.ApplicationCommandCreate(c.appID, tenant.String(), toApplicationCommand(cmd), discordgo.WithContext(ctx))
	if err != nil {
		return commands.Registered{}, remoteErr(err)
	}
	return commands.Registered{ID: created.ID, Name: created.Name}, nil
}

func (c *Client) Delete(ctx context.Context, tenant api.Snowflake, commandID string) error {
	return remoteErr(c.session.ApplicationCommandDelete(c.appID, tenant.String(), commandID, discordgo.WithContext(ctx)))
}

// ClearGlobal removes every global command. Modules only register per guild.
func (c *Client) ClearGlobal(ctx context.Context) error {
	_, err := c.session.ApplicationCommandBulkOverwrite(c.appID, "", []*discordgo.ApplicationCommand{}, discordgo.WithContext(ctx))
	return remoteErr(err)
}

// Run opens the gateway and feeds guild and interaction events to h until
// ctx is done.
func (c *Client) Run(ctx context.Context, h Host) error {
	c.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		tenants := make([]api.Snowflake, 0, len(r.Guilds))
		for _, g := range r.Guilds {
			id, err := api.ParseSnowflake(g.ID)
			if err != nil {
				log.Warn().Err(err).Msg("skipping guild")
				continue
			}
			tenants = append(tenants, id)
		}
		log.Info().Str("user", r.User.Username).Int("guilds", len(tenants)).Msg("gateway ready")
		if err := c.ClearGlobal(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to clear global commands")
		}
		if err := h.Start(ctx, tenants); err != nil {
			log.Error().Err(err).Msg("module host start failed")
		}
	})
	c.session.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		id, err := api.ParseSnowflake(g.ID)
		if err != nil {
			return
		}
		if err := h.AddTenant(ctx, id); err != nil {
			log.Error().Err(err).Str("tenant", g.ID).Msg("failed to add tenant")
		}
	})
	c.session.AddHandler(func(s *discordgo.Session, ic *discordgo.InteractionCreate) {
		if ic.Type != discordgo.InteractionApplicationCommand {
			return
		}
		in, err := toInteraction(ic.Interaction)
		if err != nil {
			log.Debug().Err(err).Msg("ignoring interaction")
			return
		}
		deferred := &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
		}
		if err := s.InteractionRespond(ic.Interaction, deferred, discordgo.WithContext(ctx)); err != nil {
			log.Warn().Err(err).Str("module", in.Command).Msg("failed to acknowledge interaction")
			return
		}
		h.Dispatch(ctx, in, &followup{session: s, interaction: ic.Interaction})
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	<-ctx.Done()
	return c.session.Close()
}

type followup struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
}

func (f *followup) Reply(ctx context.Context, msg registry.Message) error {
	params := &discordgo.WebhookParams{
		Content:         msg.Content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if msg.Ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	_, err := f.session.FollowupMessageCreate(f.interaction, true, params, discordgo.WithContext(ctx))
	return err
}

func remoteErr(err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return &commands.StatusError{Status: rest.Response.StatusCode, Err: err}
	}
	return err
}

func toApplicationCommand(cmd *registry.Command) *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Type:        discordgo.ChatApplicationCommand,
		Name:        cmd.Name,
		Description: cmd.Description,
		Options:     toOptions(cmd.Options),
	}
}

func toOptions(opts []*registry.Option) []*discordgo.ApplicationCommandOption {
	if len(opts) == 0 {
		return nil
	}
	out := make([]*discordgo.ApplicationCommandOption, 0, len(opts))
	for _, o := range opts {
		opt := &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionType(o.Type),
			Name:        o.Name,
			Description: o.Description,
			Required:    o.Required,
			Options:     toOptions(o.Options),
		}
		for _, c := range o.Choices {
			opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: c.Name, Value: c.Value})
		}
		out = append(out, opt)
	}
	return out
}

// toInteraction converts a guild slash command. Direct messages have no
// tenant and are rejected.
func toInteraction(i *discordgo.Interaction) (*registry.Interaction, error) {
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return nil, errors.New("not a guild interaction")
	}
	tenant, err := api.ParseSnowflake(i.GuildID)
	if err != nil {
		return nil, err
	}
	actor, err := api.ParseSnowflake(i.Member.User.ID)
	if err != nil {
		return nil, err
	}
	roles := make([]api.Snowflake, 0, len(i.Member.Roles))
	for _, r := range i.Member.Roles {
		id, err := api.ParseSnowflake(r)
		if err != nil {
			return nil, err
		}
		roles = append(roles, id)
	}

	data := i.ApplicationCommandData()
	return &registry.Interaction{
		ID:     i.ID,
		Tenant: tenant,
		Actor: registry.Actor{
			ID:    actor,
			Roles: roles,
			Admin: i.Member.Permissions&discordgo.PermissionAdministrator != 0,
		},
		Command: data.Name,
		Options: toValues(data.Options, data.Resolved),
	}, nil
}

func toValues(opts []*discordgo.ApplicationCommandInteractionDataOption, resolved *discordgo.ApplicationCommandInteractionDataResolved) []*registry.OptionValue {
	if len(opts) == 0 {
		return nil
	}
	out := make([]*registry.OptionValue, 0, len(opts))
	for _, o := range opts {
		v := &registry.OptionValue{
			Name:    o.Name,
			Type:    registry.OptionType(o.Type),
			Options: toValues(o.Options, resolved),
		}
		switch val := o.Value.(type) {
		case string:
			v.Value = val
		case float64:
			v.Value = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			v.Value = strconv.FormatBool(val)
		case nil:
		default:
			v.Value = fmt.Sprint(val)
		}
		if v.Type == registry.OptionMentionable {
			v.Type = registry.OptionUser
			if resolved != nil {
				if _, ok := resolved.Roles[v.Value]; ok {
					v.Type = registry.OptionRole
				}
			}
		}
		out = append(out, v)
	}
	return out
}
