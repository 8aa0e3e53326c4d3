// Package bot implements the connection state machine a single trading bot
// runs against the Portman API: derive a credential, fetch the user that
// owns it, and register the user when the API does not know it yet.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/0x-ximon/portman/bots/internal/auth"
	"github.com/0x-ximon/portman/bots/internal/failure"
	"github.com/0x-ximon/portman/bots/internal/identity"
	"github.com/0x-ximon/portman/bots/internal/models"
	"github.com/0x-ximon/portman/bots/internal/tracing"
)

const (
	opDerive  = "derive credential"
	opFetch   = "get user"
	opCreate  = "create user"
	opConnect = "connect"
	opRun     = "run"
)

// ErrAlreadyStarted is returned when Connect is called more than once.
var ErrAlreadyStarted = errors.New("bot: worker already started")

// UserAPI is the subset of the Portman API a worker needs.
type UserAPI interface {
	GetUser(ctx context.Context, provider auth.Provider) (models.User, error)
	CreateUser(ctx context.Context, provider auth.Provider, params models.CreateUserParams) (models.User, error)
}

// SymbolPicker chooses a market to watch after connecting.
type SymbolPicker interface {
	PickSymbol() (string, error)
}

// TickWatcher reads up to limit tick messages for symbol and returns how
// many arrived.
type TickWatcher interface {
	Watch(ctx context.Context, apiKey, symbol string, limit int) (int, error)
}

// Config is shared by every worker in a run.
type Config struct {
	Secret string
	API    UserAPI
	Logger zerolog.Logger
	Tracer trace.Tracer

	// Optional tick activity after Connected.
	Symbols   SymbolPicker
	Ticks     TickWatcher
	TickCount int

	// OnStateChange, when set, is called on every transition.
	OnStateChange func(botID int, state State)
}

// Worker drives one bot through the state machine. A Worker runs once.
type Worker struct {
	id    int
	cfg   Config
	state atomic.Int32

	mu         sync.Mutex
	ident      identity.Identity
	user       *models.User
	registered bool
	err        *failure.Error
	symbol     string
	ticks      int
	tickErr    error
}

func NewWorker(id int, cfg Config) *Worker {
	return &Worker{id: id, cfg: cfg}
}

func (w *Worker) ID() int {
	return w.id
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// User returns the snapshot stored on connect.
func (w *Worker) User() (models.User, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.user == nil {
		return models.User{}, false
	}
	return *w.user, true
}

// Err returns the terminal failure, if any.
func (w *Worker) Err() *failure.Error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Run connects the bot, optionally watches ticks, and logs exactly one
// terminal line. It never panics; a panic inside the state machine becomes
// an unknown failure.
func (w *Worker) Run(ctx context.Context) (out Outcome) {
	start := time.Now()
	ctx, span := tracing.StartBotSpan(ctx, w.cfg.Tracer, w.id)

	defer func() {
		if r := recover(); r != nil {
			perr := failure.Unknown(opRun, failure.CausePanic, fmt.Sprint(r))
			if w.State() == StateConnected {
				w.mu.Lock()
				w.tickErr = perr
				w.mu.Unlock()
			} else {
				w.fail(perr)
			}
		}
		out = w.snapshot()
		out.Duration = time.Since(start)
		w.report(out)

		var spanErr error
		if out.Err != nil {
			spanErr = out.Err
		}
		tracing.EndSpan(span, spanErr,
			attribute.String("portman.bot_state", out.State.String()),
			attribute.Bool("portman.registered", out.Registered),
		)
	}()

	if err := w.Connect(ctx); err == nil {
		w.watchTicks(ctx)
	}
	return out
}

// Connect runs the state machine to a terminal state. The returned error
// is nil on Connected and a *failure.Error otherwise.
func (w *Worker) Connect(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(StateInit), int32(StateDerivingCredential)) {
		return ErrAlreadyStarted
	}
	w.notify(StateDerivingCredential)

	ident, err := identity.Derive(w.id, w.cfg.Secret)
	if err != nil {
		return w.fail(failure.Config(opDerive, err))
	}
	w.mu.Lock()
	w.ident = ident
	w.mu.Unlock()

	if w.cfg.API == nil {
		return w.fail(failure.Config(opConnect, errors.New("api client is not configured")))
	}

	provider := auth.NewAPIKeyProvider(ident.Credential)
	defer provider.Close()

	w.transition(StateFetchingUser)
	user, err := w.cfg.API.GetUser(ctx, provider)
	if err == nil {
		return w.connected(user, false)
	}
	if ferr := failure.Classify(opFetch, err); ferr.Kind != failure.KindAuthenticationRejected {
		return w.fail(ferr)
	}

	w.transition(StateCreatingUser)
	user, err = w.cfg.API.CreateUser(ctx, provider, RegistrationParams(ident))
	if err != nil {
		return w.fail(failure.Classify(opCreate, err))
	}
	return w.connected(user, true)
}

func (w *Worker) connected(user models.User, registered bool) error {
	if err := models.ValidateUser(user); err != nil {
		return w.fail(&failure.Error{
			Kind:    failure.KindUnknown,
			Op:      opConnect,
			Cause:   failure.CauseInvalidUser,
			Message: err.Error(),
			Err:     err,
		})
	}
	w.mu.Lock()
	w.user = &user
	w.registered = registered
	w.mu.Unlock()
	w.transition(StateConnected)
	return nil
}

func (w *Worker) fail(ferr *failure.Error) error {
	w.mu.Lock()
	if w.err == nil {
		w.err = ferr
	}
	w.mu.Unlock()
	w.transition(StateFailed)
	return ferr
}

func (w *Worker) transition(s State) {
	w.state.Store(int32(s))
	w.notify(s)
}

func (w *Worker) notify(s State) {
	if w.cfg.OnStateChange != nil {
		w.cfg.OnStateChange(w.id, s)
	}
}

func (w *Worker) watchTicks(ctx context.Context) {
	if w.cfg.Ticks == nil || w.cfg.Symbols == nil || w.cfg.TickCount <= 0 {
		return
	}

	symbol, err := w.cfg.Symbols.PickSymbol()
	if err != nil {
		w.mu.Lock()
		w.tickErr = err
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	key := w.ident.Credential
	w.mu.Unlock()

	n, err := w.cfg.Ticks.Watch(ctx, key, symbol, w.cfg.TickCount)

	w.mu.Lock()
	w.symbol = symbol
	w.ticks = n
	w.tickErr = err
	w.mu.Unlock()
}

func (w *Worker) snapshot() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := Outcome{
		BotID:      w.id,
		State:      w.State(),
		Err:        w.err,
		Registered: w.registered,
		Symbol:     w.symbol,
		Ticks:      w.ticks,
		TickErr:    w.tickErr,
	}
	if w.user != nil && out.State == StateConnected {
		out.User = *w.user
	}
	return out
}

func (w *Worker) report(out Outcome) {
	log := w.cfg.Logger

	if out.Connected() {
		evt := log.Info().
			Int("bot_id", out.BotID).
			Str("user_id", out.User.ID.String()).
			Str("email", out.User.EmailAddress).
			Bool("registered", out.Registered).
			Dur("elapsed", out.Duration)
		if out.Symbol != "" {
			evt = evt.Str("symbol", out.Symbol).Int("ticks", out.Ticks)
		}
		if out.TickErr != nil {
			evt = evt.AnErr("ticks_error", out.TickErr)
		}
		evt.Msg("bot connected")
		return
	}

	evt := log.Warn().Int("bot_id", out.BotID).Dur("elapsed", out.Duration)
	if out.Err != nil {
		evt = evt.
			Str("kind", out.Err.Kind.String()).
			Str("op", out.Err.Op).
			Err(out.Err)
		if out.Err.StatusCode > 0 {
			evt = evt.Int("status", out.Err.StatusCode)
		}
	}
	evt.Msg("bot failed")
}
