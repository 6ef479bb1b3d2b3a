package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"whatsapp-dispatch/internal/domain"
	"whatsapp-dispatch/internal/domain/model"
	"whatsapp-dispatch/internal/domain/ports/adapter"
	"whatsapp-dispatch/internal/infra/i18n"
	"whatsapp-dispatch/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ SessionUseCase = (*sessionUC)(nil)

// SessionUseCase owns the messaging capability and its connectivity state.
// Nothing else creates, destroys or reinitializes the capability.
type SessionUseCase interface {
	// Run brings the capability up and drives the state machine until ctx is done,
	// then tears the capability down.
	Run(ctx context.Context) error
	IsReady() bool
	// WaitReady returns a channel that is closed once the session is READY.
	WaitReady() <-chan struct{}
	SendMessage(ctx context.Context, chatID, text string) error
	Status() SessionStatus
	QR() (string, bool)
	// Restart forces a fresh bring-up and resets the restart budget.
	Restart(ctx context.Context) error
	// ClearSession destroys the capability and wipes the persisted session.
	// No bring-up follows until Restart or a process restart.
	ClearSession(ctx context.Context) error
}

// SessionStorage is the on-disk session directory of the capability.
type SessionStorage interface {
	Ensure() error
	PurgeLocks() ([]string, error)
	Clear() error
	HasSession() bool
	Dir() string
}

type SessionStatus struct {
	State       model.SessionState `json:"state"`
	HasQR       bool               `json:"hasQR"`
	HasSession  bool               `json:"hasSession"`
	SessionPath string             `json:"sessionPath"`
	ClientID    string             `json:"clientId"`
}

// RestartPolicy bounds supervised bring-ups after failures.
type RestartPolicy struct {
	MaxAttempts int // 0 = unlimited
	Delay       func(attempt int) time.Duration
}

type SessionOptions struct {
	ClientID       string
	Policy         RestartPolicy
	DestroyTimeout time.Duration
	// OnQR is called from the lifecycle loop for every new challenge.
	OnQR func(qr string)
	// Texts renders alert messages; nil uses the built-in English catalog.
	Texts adapter.Translator
}

var allSessionStates = []string{
	string(model.SessionUninitialized), string(model.SessionAwaitingScan),
	string(model.SessionAuthenticated), string(model.SessionReady),
	string(model.SessionDisconnected), string(model.SessionAuthFailed),
	string(model.SessionExhausted),
}

type sessionCmdKind int

const (
	cmdRestart sessionCmdKind = iota
	cmdClear
)

type sessionCmd struct {
	kind sessionCmdKind
	done chan error
}

type sessionUC struct {
	factory  adapter.MessengerFactory
	storage  SessionStorage
	notifier adapter.Notifier
	opts     SessionOptions
	log      *zerolog.Logger

	cmds chan sessionCmd
	done chan struct{}

	mu      sync.RWMutex
	state   model.SessionState
	qr      string
	client  adapter.Messenger
	readyCh chan struct{}

	// owned by the Run goroutine
	events       chan model.LifecycleEvent
	attempts     int
	restartTimer *time.Timer
	restartC     <-chan time.Time
	restartCause string
}

func NewSessionUseCase(
	factory adapter.MessengerFactory,
	storage SessionStorage,
	notifier adapter.Notifier,
	opts SessionOptions,
	logger *zerolog.Logger,
) *sessionUC {
	if opts.DestroyTimeout <= 0 {
		opts.DestroyTimeout = 15 * time.Second
	}
	if opts.Texts == nil {
		opts.Texts = i18n.Default()
	}
	if opts.Policy.Delay == nil {
		opts.Policy.Delay = func(int) time.Duration { return 5 * time.Second }
	}
	compLog := logger.With().Str("component", "SessionLifecycle").Logger()
	return &sessionUC{
		factory:  factory,
		storage:  storage,
		notifier: notifier,
		opts:     opts,
		log:      &compLog,
		cmds:     make(chan sessionCmd),
		done:     make(chan struct{}),
		state:    model.SessionUninitialized,
		readyCh:  make(chan struct{}),
	}
}

func (s *sessionUC) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == model.SessionReady && s.client != nil
}

func (s *sessionUC) WaitReady() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readyCh
}

func (s *sessionUC) SendMessage(ctx context.Context, chatID, text string) error {
	s.mu.RLock()
	c := s.client
	state := s.state
	s.mu.RUnlock()
	if state == model.SessionExhausted {
		return domain.ErrSessionExhausted
	}
	if state != model.SessionReady || c == nil {
		return domain.ErrNotReady
	}
	return c.SendMessage(ctx, chatID, text)
}

func (s *sessionUC) QR() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qr, s.qr != ""
}

func (s *sessionUC) Status() SessionStatus {
	s.mu.RLock()
	st := SessionStatus{
		State:       s.state,
		HasQR:       s.qr != "",
		SessionPath: s.storage.Dir(),
		ClientID:    s.opts.ClientID,
	}
	s.mu.RUnlock()
	st.HasSession = s.storage.HasSession()
	return st
}

func (s *sessionUC) Restart(ctx context.Context) error { return s.send(ctx, cmdRestart) }

func (s *sessionUC) ClearSession(ctx context.Context) error { return s.send(ctx, cmdClear) }

func (s *sessionUC) send(ctx context.Context, kind sessionCmdKind) error {
	cmd := sessionCmd{kind: kind, done: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sessionUC) Run(ctx context.Context) error {
	defer close(s.done)
	s.log.Info().Str("session_dir", s.storage.Dir()).Bool("has_session", s.storage.HasSession()).Msg("Starting session lifecycle")
	metrics.SetSessionState(string(model.SessionUninitialized), allSessionStates)

	s.bringUp(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			s.stopRestartTimer()
			s.teardown(model.SessionUninitialized)
			s.log.Info().Msg("Stopping session lifecycle")
			return ctx.Err()
		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		case <-s.restartC:
			s.restartC = nil
			s.bringUp(ctx, s.restartCause)
		case cmd := <-s.cmds:
			cmd.done <- s.handleCommand(ctx, cmd.kind)
		}
	}
}

func (s *sessionUC) handleCommand(ctx context.Context, kind sessionCmdKind) error {
	s.stopRestartTimer()
	s.attempts = 0
	switch kind {
	case cmdRestart:
		s.log.Info().Msg("restart requested")
		metrics.IncSessionRestart("manual")
		s.bringUp(ctx, "manual")
		return nil
	case cmdClear:
		s.log.Info().Msg("clear session requested")
		s.teardown(model.SessionUninitialized)
		if err := s.storage.Clear(); err != nil {
			s.log.Error().Err(err).Msg("failed to clear session data")
			return fmt.Errorf("clear session: %w", err)
		}
		s.log.Info().Msg("session data cleared")
		return nil
	}
	return fmt.Errorf("unknown session command %d", kind)
}

// bringUp replaces any running instance with a fresh one. The previous
// instance is destroyed before the new one is created.
func (s *sessionUC) bringUp(ctx context.Context, cause string) {
	if ctx.Err() != nil {
		return
	}
	s.teardown(model.SessionUninitialized)
	s.log.Info().Str("cause", cause).Int("attempt", s.attempts).Msg("initializing messaging client")

	if err := s.storage.Ensure(); err != nil {
		s.log.Warn().Err(err).Msg("failed to prepare session directory")
	}
	removed, err := s.storage.PurgeLocks()
	for _, p := range removed {
		s.log.Info().Str("path", p).Msg("removed stale lock artifact")
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("lock purge incomplete")
	}

	events := make(chan model.LifecycleEvent, 32)
	client, err := s.factory(events)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create messaging client")
		s.scheduleRestart(ctx, "init_failed")
		return
	}
	if err := client.Initialize(ctx); err != nil {
		s.log.Error().Err(err).Msg("initialization error")
		s.destroy(client)
		s.scheduleRestart(ctx, "init_failed")
		return
	}
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	s.events = events
}

func (s *sessionUC) handleEvent(ctx context.Context, ev model.LifecycleEvent) {
	switch ev.Kind {
	case model.EventLoadingScreen:
		s.log.Debug().Int("percent", ev.Percent).Str("message", ev.Message).Msg("loading")
		return
	case model.EventError:
		s.log.Warn().Str("error", ev.Message).Msg("client error")
		return
	}

	from := s.State()
	to, ok := model.Transition(from, ev.Kind)
	if !ok {
		s.log.Debug().Str("state", string(from)).Str("event", string(ev.Kind)).Msg("event ignored in current state")
		return
	}

	switch ev.Kind {
	case model.EventQR:
		s.setState(to, ev.QR)
		if from != model.SessionAwaitingScan {
			s.log.Info().Msg("QR code generated, scan it with WhatsApp on your phone")
			s.alert(s.opts.Texts.T(i18n.AlertQRNeeded))
		}
		if s.opts.OnQR != nil {
			s.opts.OnQR(ev.QR)
		}
	case model.EventAuthenticated:
		s.setState(to, "")
		s.log.Info().Msg("authentication successful")
	case model.EventReady:
		s.setState(to, "")
		s.attempts = 0
		s.stopRestartTimer()
		s.log.Info().Msg("messaging client is ready")
	case model.EventAuthFailure:
		s.log.Error().Str("reason", ev.Message).Msg("authentication failure, wiping session")
		s.teardown(to)
		if err := s.storage.Clear(); err != nil {
			s.log.Error().Err(err).Msg("failed to clear session data")
		}
		s.alert(s.opts.Texts.T(i18n.AlertAuthFailed))
		s.scheduleRestart(ctx, "auth_failure")
	case model.EventDisconnected:
		s.teardown(to)
		if ev.Reason == model.DisconnectLogout {
			s.log.Warn().Str("reason", ev.Reason).Msg("client logged out, not reconnecting")
			s.alert(s.opts.Texts.T(i18n.AlertLoggedOut))
			return
		}
		s.log.Warn().Str("reason", ev.Reason).Msg("client disconnected")
		s.scheduleRestart(ctx, "disconnected")
	}
}

func (s *sessionUC) scheduleRestart(ctx context.Context, cause string) {
	if ctx.Err() != nil {
		return
	}
	s.attempts++
	if limit := s.opts.Policy.MaxAttempts; limit > 0 && s.attempts > limit {
		s.setState(model.SessionExhausted, "")
		s.log.Error().Int("attempts", s.attempts-1).Str("cause", cause).Msg("restart attempts exhausted, giving up")
		s.alert(s.opts.Texts.T(i18n.AlertRestartsExhausted, s.attempts-1, cause))
		return
	}
	delay := s.opts.Policy.Delay(s.attempts)
	s.stopRestartTimer()
	s.restartTimer = time.NewTimer(delay)
	s.restartC = s.restartTimer.C
	s.restartCause = cause
	metrics.IncSessionRestart(cause)
	s.log.Warn().Str("cause", cause).Int("attempt", s.attempts).Dur("delay", delay).Msg("scheduling client bring-up")
}

func (s *sessionUC) stopRestartTimer() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
	}
	s.restartTimer = nil
	s.restartC = nil
}

// teardown moves to next, detaches the current instance and destroys it. The
// state flips before the (possibly slow) destroy so readers stop seeing READY.
func (s *sessionUC) teardown(next model.SessionState) {
	s.mu.Lock()
	c := s.client
	s.client = nil
	from := s.switchLocked(next, "")
	s.mu.Unlock()
	s.stateChanged(from, next)
	s.events = nil
	if c != nil {
		s.destroy(c)
	}
}

func (s *sessionUC) destroy(c adapter.Messenger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DestroyTimeout)
	defer cancel()
	if err := c.Destroy(ctx); err != nil {
		s.log.Warn().Err(err).Msg("client destroy failed")
	}
}

func (s *sessionUC) State() model.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *sessionUC) setState(to model.SessionState, qr string) {
	s.mu.Lock()
	from := s.switchLocked(to, qr)
	s.mu.Unlock()
	s.stateChanged(from, to)
}

func (s *sessionUC) switchLocked(to model.SessionState, qr string) (from model.SessionState) {
	from = s.state
	s.state = to
	s.qr = qr
	if to == model.SessionReady && from != model.SessionReady {
		close(s.readyCh)
	} else if from == model.SessionReady && to != model.SessionReady {
		s.readyCh = make(chan struct{})
	}
	return from
}

func (s *sessionUC) stateChanged(from, to model.SessionState) {
	if from != to {
		metrics.SetSessionState(string(to), allSessionStates)
		s.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("session state changed")
	}
}

func (s *sessionUC) alert(text string) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, text); err != nil {
			s.log.Warn().Err(err).Msg("operator alert failed")
		}
	}()
}
