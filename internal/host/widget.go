package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/dashgate-dev/dashgate/internal/assert"
	"github.com/dashgate-dev/dashgate/internal/embed"
)

// SlotWidget embeds dashboards into host slots. The browser renders whatever
// descriptor the slot holds.
type SlotWidget struct {
	sdk    *SDKLoader
	logger zerolog.Logger
}

var _ embed.Widget = (*SlotWidget)(nil)

// NewSlotWidget creates a widget that requires sdk to be loaded before embedding
func NewSlotWidget(sdk *SDKLoader, logger zerolog.Logger) *SlotWidget {
	return &SlotWidget{sdk: sdk, logger: logger}
}

// Embed mounts a dashboard descriptor into cfg.MountPoint
func (w *SlotWidget) Embed(ctx context.Context, cfg embed.Config) (embed.Handle, error) {
	if err := w.sdk.Load(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Superset embedded SDK not available")
		return nil, fmt.Errorf("%w: %v", embed.ErrWidgetUnavailable, err)
	}

	slot, ok := cfg.MountPoint.(*Slot)
	if !ok || slot == nil {
		return nil, errors.New("mount point is not a host slot")
	}
	if cfg.DashboardID == "" {
		return nil, errors.New("dashboard id is empty")
	}

	token, err := cfg.FetchGuestToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("guest token unavailable: %w", err)
	}
	if token == "" {
		return nil, errors.New("guest token is empty")
	}

	mountID := ulid.Make().String()
	assert.ULID(mountID)

	d := &Descriptor{
		MountID:        mountID,
		DashboardID:    cfg.DashboardID,
		SupersetDomain: cfg.SupersetDomain,
		UI:             cfg.UI,
		token:          token,
	}
	slot.mount(d)
	return &slotHandle{slot: slot, descriptor: d}, nil
}

type slotHandle struct {
	slot       *Slot
	descriptor *Descriptor
}

// Unmount clears the slot. A slot already holding another mount is left alone.
func (h *slotHandle) Unmount() error {
	if !h.slot.unmount(h.descriptor) {
		return fmt.Errorf("slot %s no longer holds mount %s", h.slot.ID(), h.descriptor.MountID)
	}
	return nil
}
