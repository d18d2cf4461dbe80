package api

import (
	"log/slog"

	"jobflow/internal/audit"
	"jobflow/internal/config"
	"jobflow/internal/events"
	"jobflow/internal/inventory"
	"jobflow/internal/lifecycle"
	"jobflow/internal/notify"
	"jobflow/internal/prepress"
	"jobflow/internal/realtime"
	"jobflow/internal/store"
)

// NewCore builds the workflow components over st and subscribes the realtime
// hub ahead of the notification dispatcher. The dispatcher republishes
// synchronously, so this order delivers an event to websocket clients before
// the notification it raises.
func NewCore(cfg config.Config, st store.Store, bus *events.Bus, logger *slog.Logger) Core {
	rec := audit.NewRecorder(st, logger.With("component", "audit"))
	pp := prepress.NewManager(st, rec, bus, logger.With("component", "prepress"), cfg.CascadeMaxRetries)
	inv := inventory.NewManager(st, rec, bus, logger.With("component", "inventory"), cfg.CascadeMaxRetries)
	orch := lifecycle.New(st, rec, bus, pp, inv, logger.With("component", "lifecycle"), cfg.CascadeMaxRetries)
	dispatcher := notify.NewDispatcher(st, bus, logger.With("component", "notify"))
	hub := realtime.NewHub(logger.With("component", "realtime"), cfg.HubBufferSize)

	bus.Subscribe("realtime", hub)
	bus.Subscribe("notify", dispatcher)

	return Core{
		Lifecycle: orch,
		Prepress:  pp,
		Inventory: inv,
		Notify:    dispatcher,
		Hub:       hub,
	}
}
