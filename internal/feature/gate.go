// Package feature gates entitlement-locked capabilities behind the Plus
// flag: the advanced model, file attachments, and voice input.
package feature

import (
	"log/slog"
	"sync"

	"github.com/polyagent/polyagent/internal/domain"
	"github.com/polyagent/polyagent/internal/observability"
	"github.com/polyagent/polyagent/internal/settings"
)

type Capability string

const (
	CapabilityAdvancedMode Capability = "advancedMode"
	CapabilityAttachment   Capability = "attachment"
	CapabilityVoice        Capability = "voice"
)

// Gate is the single owner of the Settings value while the app runs. It
// persists every mutation through the injected store and hands out the
// effective generation mode for sends.
type Gate struct {
	mu    sync.Mutex
	cur   settings.Settings
	store settings.Store
	log   *slog.Logger

	// onUpgradePrompt fires whenever a capability is denied for lack of
	// Plus, so the UI can open the upgrade dialog.
	onUpgradePrompt func(Capability)
}

func NewGate(store settings.Store, onUpgradePrompt func(Capability)) (*Gate, error) {
	cur, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Gate{
		cur:             cur,
		store:           store,
		log:             observability.Component("feature"),
		onUpgradePrompt: onUpgradePrompt,
	}, nil
}

// RequestCapability reports whether the capability is granted. Denials
// trigger the upgrade prompt.
func (g *Gate) RequestCapability(c Capability) bool {
	g.mu.Lock()
	plus := g.cur.Plus
	prompt := g.onUpgradePrompt
	g.mu.Unlock()

	if plus {
		return true
	}
	g.log.Info("capability denied", "capability", string(c))
	if prompt != nil {
		prompt(c)
	}
	return false
}

// SetPlus flips the entitlement. Turning Plus on promotes the preferred mode
// to advanced; turning it off leaves the preferred mode alone, EffectiveMode
// re-checks the entitlement at send time, so a stale "advanced" preference
// can never produce an advanced send.
func (g *Gate) SetPlus(v bool) {
	g.mu.Lock()
	g.cur.Plus = v
	if v {
		g.cur.Mode = string(domain.ModeAdvanced)
	}
	g.persistLocked()
	g.mu.Unlock()
}

// SetMode records the preferred generation mode.
func (g *Gate) SetMode(m domain.Mode) {
	g.mu.Lock()
	g.cur.Mode = string(m)
	g.persistLocked()
	g.mu.Unlock()
}

// SetTheme records the UI theme.
func (g *Gate) SetTheme(theme string) {
	g.mu.Lock()
	g.cur.Theme = theme
	g.persistLocked()
	g.mu.Unlock()
}

// SetLanguage records the reply language.
func (g *Gate) SetLanguage(lang string) {
	g.mu.Lock()
	g.cur.Language = lang
	g.persistLocked()
	g.mu.Unlock()
}

// EffectiveMode is the mode a send actually uses: the preferred mode, demoted
// to fast whenever the Plus entitlement is missing.
func (g *Gate) EffectiveMode() domain.Mode {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cur.Mode == string(domain.ModeAdvanced) && g.cur.Plus {
		return domain.ModeAdvanced
	}
	return domain.ModeFast
}

func (g *Gate) Plus() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur.Plus
}

func (g *Gate) Language() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur.Language
}

func (g *Gate) Theme() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur.Theme
}

// Settings returns a copy of the current value.
func (g *Gate) Settings() settings.Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur
}

func (g *Gate) persistLocked() {
	if err := g.store.Save(g.cur); err != nil {
		g.log.Error("failed to persist settings", "error", err)
	}
}
