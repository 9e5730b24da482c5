package registry

import (
	"fmt"
	"strconv"

	"github.com/dragon-bot/dragon/pkg/api"
)

// OptionType values match the platform's application command option types.
type OptionType int

const (
	OptionSubCommand OptionType = iota + 1
	OptionSubCommandGroup
	OptionString
	OptionInteger
	OptionBoolean
	OptionUser
	OptionChannel
	OptionRole
	OptionMentionable
)

// Command is a top-level command descriptor.
type Command struct {
	Name        string
	Description string
	Options     []*Option
}

// Option is a parameter, subcommand or subcommand group of a Command.
type Option struct {
	Type        OptionType
	Name        string
	Description string
	Required    bool
	Choices     []Choice
	Options     []*Option
}

// Choice is a fixed value a string option may take.
type Choice struct {
	Name  string
	Value string
}

// Interaction is a transport-neutral inbound command.
type Interaction struct {
	ID      string
	Tenant  api.Snowflake
	Actor   Actor
	Command string
	Options []*OptionValue
}

// OptionValue is a supplied option. Mentionables are resolved by the
// transport to OptionUser or OptionRole.
type OptionValue struct {
	Name    string
	Type    OptionType
	Value   string
	Options []*OptionValue
}

// Sub returns the first option when it is a subcommand or group.
func (i *Interaction) Sub() *OptionValue {
	if len(i.Options) == 0 {
		return nil
	}
	o := i.Options[0]
	if o.Type != OptionSubCommand && o.Type != OptionSubCommandGroup {
		return nil
	}
	return o
}

// Sub returns the nested subcommand of a group.
func (o *OptionValue) Sub() *OptionValue {
	if o == nil || len(o.Options) == 0 {
		return nil
	}
	return o.Options[0]
}

// Get finds a direct child option by name.
func (o *OptionValue) Get(name string) *OptionValue {
	if o == nil {
		return nil
	}
	for _, c := range o.Options {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// String returns the value of a child option, or "" if absent.
func (o *OptionValue) String(name string) string {
	if c := o.Get(name); c != nil {
		return c.Value
	}
	return ""
}

// Snowflake parses a child option holding an id.
func (o *OptionValue) Snowflake(name string) (api.Snowflake, error) {
	c := o.Get(name)
	if c == nil {
		return 0, fmt.Errorf("missing option %q", name)
	}
	return api.ParseSnowflake(c.Value)
}

// Int parses a child integer option.
func (o *OptionValue) Int(name string) (int64, bool) {
	c := o.Get(name)
	if c == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(c.Value, 10, 64)
	return v, err == nil
}

// Mention renders an actor option as a mention: roles as <@&id>, users as <@id>.
func (o *OptionValue) Mention() string {
	if o == nil {
		return ""
	}
	if o.Type == OptionRole {
		return "<@&" + o.Value + ">"
	}
	return "<@" + o.Value + ">"
}
