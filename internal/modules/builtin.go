// Package modules lists the feature modules compiled into the bot.
package modules

import (
	"github.com/dragon-bot/dragon/internal/modules/configmgr"
	"github.com/dragon-bot/dragon/internal/modules/dbbridge"
	"github.com/dragon-bot/dragon/internal/modules/errorlog"
	"github.com/dragon-bot/dragon/internal/modules/tgverify"
	"github.com/dragon-bot/dragon/internal/permissions"
	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/internal/store"
)

// Builtin constructs every feature module except the module manager, which
// needs the final id list and is added by the caller.
func Builtin(s store.Store, errorLogSize int) []registry.Module {
	return []registry.Module{
		permissions.NewManager(s),
		configmgr.New(s),
		errorlog.New(errorLogSize),
		dbbridge.New(s),
		tgverify.New(s),
	}
}
