package vault

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is a notification emitted by the vault. Every externally observable
// outcome is either a state change, a returned error, or one of these.
type Event interface {
	Name() string
}

// Meta is attached to every event.
type Meta struct {
	ID uuid.UUID
	At time.Time
}

func newMeta() Meta {
	return Meta{ID: uuid.New(), At: time.Now().UTC()}
}

type RouterUpdated struct {
	Meta
	Old, New common.Address
}

func (RouterUpdated) Name() string { return "RouterUpdated" }

type AutoWithdrawUpdated struct {
	Meta
	Enabled bool
}

func (AutoWithdrawUpdated) Name() string { return "AutoWithdrawUpdated" }

// AssetPurchased fires once per successful swap of a work cycle.
type AssetPurchased struct {
	Meta
	Token common.Address
	Spent *big.Int // settlement units sold
	Got   *big.Int // token units received
}

func (AssetPurchased) Name() string { return "AssetPurchased" }

// AssetWithdrawn fires for every nonzero transfer out to the owner. Token is
// the zero address for native withdrawals.
type AssetWithdrawn struct {
	Meta
	Token  common.Address
	Amount *big.Int
}

func (AssetWithdrawn) Name() string { return "AssetWithdrawn" }

// AssetWithdrawalExceedsBalance signals that a requested amount was clamped
// to the actual balance.
type AssetWithdrawalExceedsBalance struct {
	Meta
	Token     common.Address
	Requested *big.Int
	Withdrawn *big.Int
}

func (AssetWithdrawalExceedsBalance) Name() string { return "AssetWithdrawalExceedsBalance" }

type AssetLiquidated struct {
	Meta
	Token    common.Address
	Sold     *big.Int // token units liquidated
	Proceeds *big.Int // settlement units credited to the owner
}

func (AssetLiquidated) Name() string { return "AssetLiquidated" }

// PanicAtTheDisco marks one emergency unwind, however many assets it touched.
type PanicAtTheDisco struct {
	Meta
}

func (PanicAtTheDisco) Name() string { return "PanicAtTheDisco" }

// Emitter receives vault events. Implementations must be cheap; they run
// inside custody operations.
type Emitter interface {
	Emit(ev Event)
}

// Recorder collects events in order. Test and inspection sink.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a snapshot of everything emitted so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the subset of events with the given name, in order.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Name() == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// LogEmitter mirrors events onto a structured logger.
type LogEmitter struct {
	Log *zap.SugaredLogger
}

func (e LogEmitter) Emit(ev Event) {
	if e.Log == nil {
		return
	}
	e.Log.Infow("vault event", "event", ev.Name(), "detail", ev)
}

// MultiEmitter fans out to several sinks.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ev Event) {
	for _, e := range m {
		e.Emit(ev)
	}
}
