package sapo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/infrastructure/telemetry"
)

// Config tunes the session manager
type Config struct {
	TokenTTL           time.Duration // stored tokens older than this are not trusted; 0 disables
	LoginWait          time.Duration // how long a caller waits for someone else's login
	WaitPoll           time.Duration // wake-up interval while waiting
	LoginTimeout       time.Duration // hard limit for one login
	AuthRetries        int           // retries after an auth failure, per request
	RetryBackoff       time.Duration // first retry delay; doubles per retry
	MaxBackoff         time.Duration
	ShortBodyThreshold int // 200 bodies shorter than this without the sentinel are auth failures; 0 disables
	RequestTimeout     time.Duration
}

// DefaultConfig returns the production tuning
func DefaultConfig() Config {
	return Config{
		TokenTTL:           6 * time.Hour,
		LoginWait:          120 * time.Second,
		WaitPoll:           2 * time.Second,
		LoginTimeout:       3 * time.Minute,
		AuthRetries:        2,
		RetryBackoff:       time.Second,
		MaxBackoff:         4 * time.Second,
		ShortBodyThreshold: 200,
		RequestTimeout:     60 * time.Second,
	}
}

// LoginLock serializes browser logins across processes sharing a TokenStore
type LoginLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Option configures a Manager
type Option func(*Manager)

// WithTokenStore persists and restores credentials
func WithTokenStore(store TokenStore) Option {
	return func(m *Manager) { m.store = store }
}

// WithProber verifies stored credentials before trusting them
func WithProber(prober Prober) Option {
	return func(m *Manager) { m.prober = prober }
}

// WithLoginLock shares the single-login guarantee with other processes
func WithLoginLock(lock LoginLock) Option {
	return func(m *Manager) { m.lock = lock }
}

// WithMetrics records login and retry metrics
func WithMetrics(metrics *telemetry.OpsMetrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithHTTPClient overrides the client used by Do
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.httpClient = client }
}

// WithClock overrides the clock used for token expiry
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the Core and Marketplace sessions.
// It is safe for concurrent use and is meant to be shared by the whole process.
type Manager struct {
	cfg        Config
	provider   integration.CredentialProvider
	store      TokenStore
	prober     Prober
	lock       LoginLock
	metrics    *telemetry.OpsMetrics
	logger     *zap.Logger
	httpClient *http.Client
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	sessions map[integration.SessionKind]*session
	logins   singleflight.Group

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a Manager. provider performs the out-of-band login.
func NewManager(provider integration.CredentialProvider, cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.LoginWait <= 0 {
		cfg.LoginWait = defaults.LoginWait
	}
	if cfg.WaitPoll <= 0 {
		cfg.WaitPoll = defaults.WaitPoll
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = defaults.LoginTimeout
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.AuthRetries < 0 {
		cfg.AuthRetries = 0
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		provider:   provider,
		logger:     logger.Named("sapo.session"),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		now:        time.Now,
		sleep:      sleepContext,
		sessions: map[integration.SessionKind]*session{
			integration.SessionCore:        newSession(integration.SessionCore),
			integration.SessionMarketplace: newSession(integration.SessionMarketplace),
		},
		baseCtx: baseCtx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close cancels in-flight logins and waits for them to return
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) session(kind integration.SessionKind) (*session, error) {
	s, ok := m.sessions[kind]
	if !ok {
		return nil, fmt.Errorf("sapo: unknown session kind %q", kind)
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Ensure
// ---------------------------------------------------------------------------

// EnsureCore blocks until the Core session is usable
func (m *Manager) EnsureCore(ctx context.Context) error {
	return m.Ensure(ctx, integration.SessionCore)
}

// EnsureMarketplace blocks until the Marketplace session is usable
func (m *Manager) EnsureMarketplace(ctx context.Context) error {
	return m.Ensure(ctx, integration.SessionMarketplace)
}

// Ensure returns once the session is usable. If no login is running, the caller
// starts one and waits for it up to LoginTimeout. If another caller's login is
// running, it waits up to LoginWait and then fails with ErrAuthTimeout.
// A failed login is reported to everyone who waited on it; the next call retries.
func (m *Manager) Ensure(ctx context.Context, kind integration.SessionKind) error {
	s, err := m.session(kind)
	if err != nil {
		return err
	}

	waiterDeadline := time.Now().Add(m.cfg.LoginWait)
	for {
		s.mu.Lock()
		if m.usableLocked(ctx, s) {
			s.mu.Unlock()
			return nil
		}
		deadline := waiterDeadline
		if !s.loading {
			m.startLoginLocked(s)
			deadline = time.Now().Add(m.cfg.LoginTimeout + m.cfg.WaitPoll)
		}
		done := s.done
		s.mu.Unlock()

		if err := m.await(ctx, s.kind, done, deadline); err != nil {
			return err
		}

		s.mu.Lock()
		usable := m.usableLocked(ctx, s)
		lastErr := s.lastErr
		loading := s.loading
		s.mu.Unlock()
		switch {
		case usable:
			return nil
		case lastErr != nil && !loading:
			return lastErr
		}
	}
}

// TryEnsure never blocks. It reports Ready for a usable session and
// InProgress while a login runs, starting one in the background if needed.
func (m *Manager) TryEnsure(ctx context.Context, kind integration.SessionKind) integration.EnsureResult {
	s, err := m.session(kind)
	if err != nil {
		return integration.EnsureResult{Kind: kind, Status: integration.EnsureFailed, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m.usableLocked(ctx, s) {
		return integration.EnsureResult{Kind: kind, Status: integration.EnsureReady}
	}
	if !s.loading {
		m.startLoginLocked(s)
	}
	return integration.EnsureResult{Kind: kind, Status: integration.EnsureInProgress}
}

// Status reports the session without side effects
func (m *Manager) Status(kind integration.SessionKind) integration.EnsureResult {
	s, err := m.session(kind)
	if err != nil {
		return integration.EnsureResult{Kind: kind, Status: integration.EnsureFailed, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.usableLocked(m.now(), m.cfg.TokenTTL):
		return integration.EnsureResult{Kind: kind, Status: integration.EnsureReady}
	case s.loading:
		return integration.EnsureResult{Kind: kind, Status: integration.EnsureInProgress}
	case s.lastErr != nil:
		return integration.EnsureResult{Kind: kind, Status: integration.EnsureFailed, Err: s.lastErr}
	default:
		return integration.EnsureResult{
			Kind:   kind,
			Status: integration.EnsureFailed,
			Err:    fmt.Errorf("%w: session %s has no valid credentials", integration.ErrAuthLost, kind),
		}
	}
}

// Sessions returns the status of both sessions
func (m *Manager) Sessions() []SessionStatus {
	out := make([]SessionStatus, 0, len(m.sessions))
	for _, kind := range integration.AllSessionKinds() {
		s := m.sessions[kind]
		s.mu.Lock()
		out = append(out, s.statusLocked())
		s.mu.Unlock()
	}
	return out
}

// Credentials returns a private copy of the session headers and their generation,
// ensuring the session first.
func (m *Manager) Credentials(ctx context.Context, kind integration.SessionKind) (integration.Credentials, uint64, error) {
	s, err := m.session(kind)
	if err != nil {
		return integration.Credentials{}, 0, err
	}
	for {
		if err := m.Ensure(ctx, kind); err != nil {
			return integration.Credentials{}, 0, err
		}
		s.mu.Lock()
		if s.usableLocked(m.now(), m.cfg.TokenTTL) {
			creds, gen := s.creds.Clone(), s.gen
			s.mu.Unlock()
			return creds, gen, nil
		}
		s.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return integration.Credentials{}, 0, err
		}
	}
}

// usableLocked also downgrades a valid session whose credentials have aged out
func (m *Manager) usableLocked(ctx context.Context, s *session) bool {
	if s.usableLocked(m.now(), m.cfg.TokenTTL) {
		return true
	}
	if s.state == integration.SessionStateValid && !s.loading {
		s.state = integration.SessionStateInvalid
		m.metrics.RecordInvalidation(ctx, s.kind.String(), ReasonExpired)
		m.logger.Info("Session credentials expired",
			zap.String("session", s.kind.String()),
			zap.Time("captured_at", s.creds.CapturedAt),
		)
	}
	return false
}

func (m *Manager) await(ctx context.Context, kind integration.SessionKind, done <-chan struct{}, deadline time.Time) error {
	started := time.Now()
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return fmt.Errorf("%w: session %s", integration.ErrAuthTimeout, kind)
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	poll := time.NewTicker(m.cfg.WaitPoll)
	defer poll.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			m.logger.Warn("Gave up waiting for login",
				zap.String("session", kind.String()),
				zap.Duration("waited", time.Since(started)),
			)
			return fmt.Errorf("%w: session %s still logging in after %s",
				integration.ErrAuthTimeout, kind, time.Since(started).Round(time.Millisecond))
		case <-poll.C:
			m.logger.Debug("Waiting for login",
				zap.String("session", kind.String()),
				zap.Duration("waited", time.Since(started)),
			)
		}
	}
}

// ---------------------------------------------------------------------------
// Invalidation and restore
// ---------------------------------------------------------------------------

// Invalidate marks sessions as not valid without logging in.
// With no kinds both sessions are invalidated.
func (m *Manager) Invalidate(ctx context.Context, kinds ...integration.SessionKind) {
	if len(kinds) == 0 {
		kinds = integration.AllSessionKinds()
	}
	for _, kind := range kinds {
		m.invalidate(ctx, kind, 0, ReasonManual)
	}
}

// invalidate marks kind invalid if it still holds generation gen (0 matches any)
func (m *Manager) invalidate(ctx context.Context, kind integration.SessionKind, gen uint64, reason string) {
	s, err := m.session(kind)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != integration.SessionStateValid {
		return
	}
	if gen != 0 && gen != s.gen {
		// Someone already replaced the rejected credentials
		return
	}
	s.state = integration.SessionStateInvalid
	m.metrics.RecordInvalidation(ctx, kind.String(), reason)
	m.logger.Warn("Session invalidated",
		zap.String("session", kind.String()),
		zap.String("reason", reason),
	)
}

// Restore adopts stored credentials that pass the probe, without logging in.
// Called once at startup; sessions without usable tokens stay INIT.
func (m *Manager) Restore(ctx context.Context) {
	for _, kind := range integration.AllSessionKinds() {
		s := m.sessions[kind]
		s.mu.Lock()
		if s.loading || s.state != integration.SessionStateInit {
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		creds, ok := m.fromStore(ctx, kind, integration.Credentials{})
		if !ok {
			continue
		}
		s.mu.Lock()
		if !s.loading && s.state == integration.SessionStateInit {
			s.adoptLocked(creds)
			m.logger.Info("Session restored from token store", zap.String("session", kind.String()))
		}
		s.mu.Unlock()
	}
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

type credentialSource string

const (
	sourceStore   credentialSource = "token_store"
	sourceBrowser credentialSource = "browser"
)

func (m *Manager) startLoginLocked(s *session) {
	s.beginLoginLocked()
	stale := s.creds
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runLogin(s, stale)
	}()
}

// runLogin runs detached from any caller so a cancelled request cannot abort
// a login other callers are waiting on.
func (m *Manager) runLogin(s *session, stale integration.Credentials) {
	ctx, cancel := context.WithTimeout(m.baseCtx, m.cfg.LoginTimeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "sapo.session.login", telemetry.AttrSession.String(s.kind.String()))
	defer span.End()

	creds, source, err := m.acquire(ctx, s.kind, stale)
	if err != nil {
		telemetry.RecordError(span, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && source == sourceBrowser && m.store != nil {
		if saveErr := m.store.Save(ctx, s.kind, creds); saveErr != nil {
			m.logger.Warn("Failed to persist session token",
				zap.String("session", s.kind.String()), zap.Error(saveErr))
		}
	}
	s.finishLoginLocked(creds, err)

	if err != nil {
		m.logger.Error("Session login failed", zap.String("session", s.kind.String()), zap.Error(err))
		return
	}
	m.logger.Info("Session ready",
		zap.String("session", s.kind.String()),
		zap.String("source", string(source)),
	)
}

func (m *Manager) acquire(ctx context.Context, kind integration.SessionKind, stale integration.Credentials) (integration.Credentials, credentialSource, error) {
	if creds, ok := m.fromStore(ctx, kind, stale); ok {
		return creds, sourceStore, nil
	}

	set, err := m.browserLogin(ctx, kind, stale)
	if err != nil {
		return integration.Credentials{}, sourceBrowser, err
	}
	creds, ok := set[kind]
	if !ok || creds.IsEmpty() {
		return integration.Credentials{}, sourceBrowser,
			fmt.Errorf("%w: login captured no %s headers", integration.ErrAuthFailed, kind)
	}
	m.hydrateOthers(ctx, kind, set)
	return creds.Clone(), sourceBrowser, nil
}

// fromStore returns stored credentials for kind that are newer than stale,
// not expired and accepted by the prober.
func (m *Manager) fromStore(ctx context.Context, kind integration.SessionKind, stale integration.Credentials) (integration.Credentials, bool) {
	if m.store == nil {
		return integration.Credentials{}, false
	}
	log := m.logger.With(zap.String("session", kind.String()))

	creds, ok, err := m.store.Load(ctx, kind)
	if err != nil {
		log.Warn("Failed to load stored token", zap.Error(err))
		return integration.Credentials{}, false
	}
	if !ok {
		return integration.Credentials{}, false
	}
	if !stale.IsEmpty() && !creds.CapturedAt.After(stale.CapturedAt) {
		log.Debug("Stored token is the one just rejected")
		return integration.Credentials{}, false
	}
	if creds.ExpiredAt(m.now(), m.cfg.TokenTTL) {
		log.Info("Stored token expired", zap.Time("captured_at", creds.CapturedAt))
		return integration.Credentials{}, false
	}
	if m.prober != nil {
		if err := m.prober.Probe(ctx, kind, creds); err != nil {
			log.Info("Stored token rejected by probe", zap.Error(err))
			return integration.Credentials{}, false
		}
	}
	return creds, true
}

// browserLogin shares one provider call between the two sessions
func (m *Manager) browserLogin(ctx context.Context, kind integration.SessionKind, stale integration.Credentials) (integration.CredentialSet, error) {
	if m.provider == nil {
		return nil, fmt.Errorf("%w: no credential provider configured", integration.ErrAuthFailed)
	}
	v, err, shared := m.logins.Do("login", func() (any, error) {
		return m.obtain(ctx, kind, stale)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug("Joined login started by the other session", zap.String("session", kind.String()))
	}
	return v.(integration.CredentialSet), nil
}

func (m *Manager) obtain(ctx context.Context, kind integration.SessionKind, stale integration.Credentials) (integration.CredentialSet, error) {
	if m.lock != nil {
		acquired, err := m.lock.TryLock(ctx)
		switch {
		case err != nil:
			m.logger.Warn("Login lock unavailable, logging in without it", zap.Error(err))
		case !acquired:
			return m.awaitPeerLogin(ctx, kind, stale)
		default:
			defer func() {
				if err := m.lock.Unlock(context.WithoutCancel(ctx)); err != nil {
					m.logger.Warn("Failed to release login lock", zap.Error(err))
				}
			}()
		}
	}

	started := time.Now()
	m.logger.Info("Browser login started", zap.String("session", kind.String()))
	raw, err := m.provider.Obtain(ctx)
	elapsed := time.Since(started)
	if err != nil {
		outcome := telemetry.OutcomeFailure
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = telemetry.OutcomeTimeout
		}
		m.metrics.RecordLogin(ctx, kind.String(), outcome, elapsed)
		m.logger.Error("Browser login failed",
			zap.String("session", kind.String()),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", integration.ErrAuthFailed, err)
	}

	set := make(integration.CredentialSet, len(raw))
	kinds := make([]string, 0, len(raw))
	for k, c := range raw {
		capturedAt := c.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = m.now()
		}
		set[k] = integration.NewCredentials(c.Headers, capturedAt)
		kinds = append(kinds, k.String())
	}
	m.metrics.RecordLogin(ctx, kind.String(), telemetry.OutcomeSuccess, elapsed)
	m.logger.Info("Browser login finished",
		zap.String("session", kind.String()),
		zap.Duration("duration", elapsed),
		zap.Strings("captured", kinds),
	)
	return set, nil
}

// awaitPeerLogin waits for another process holding the login lock to publish
// credentials through the shared token store. Any unexpired stored token
// newer than stale is taken, including one written before the wait began.
func (m *Manager) awaitPeerLogin(ctx context.Context, kind integration.SessionKind, stale integration.Credentials) (integration.CredentialSet, error) {
	m.logger.Info("Login running in another instance, waiting for shared token",
		zap.String("session", kind.String()))

	ticker := time.NewTicker(m.cfg.WaitPoll)
	defer ticker.Stop()
	for {
		if set := m.peerCredentials(ctx, kind, stale); set != nil {
			return set, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: another instance holds the login lock", integration.ErrAuthInProgress)
		case <-ticker.C:
		}
	}
}

// peerCredentials returns the usable stored tokens, or nil while kind has none
func (m *Manager) peerCredentials(ctx context.Context, kind integration.SessionKind, stale integration.Credentials) integration.CredentialSet {
	if m.store == nil {
		return nil
	}
	now := m.now()
	set := integration.CredentialSet{}
	for _, k := range integration.AllSessionKinds() {
		creds, ok, err := m.store.Load(ctx, k)
		if err != nil || !ok || creds.IsEmpty() || creds.ExpiredAt(now, m.cfg.TokenTTL) {
			continue
		}
		if k == kind && !stale.IsEmpty() && !creds.CapturedAt.After(stale.CapturedAt) {
			continue
		}
		set[k] = creds
	}
	if _, ok := set[kind]; !ok {
		return nil
	}
	return set
}

// hydrateOthers hands the credentials of one login to the sessions that did
// not ask for it, unless they are running their own login
func (m *Manager) hydrateOthers(ctx context.Context, except integration.SessionKind, set integration.CredentialSet) {
	for kind, creds := range set {
		if kind == except || creds.IsEmpty() {
			continue
		}
		s, ok := m.sessions[kind]
		if !ok {
			continue
		}
		s.mu.Lock()
		if !s.loading {
			if m.store != nil {
				if err := m.store.Save(ctx, kind, creds); err != nil {
					m.logger.Warn("Failed to persist session token",
						zap.String("session", kind.String()), zap.Error(err))
				}
			}
			s.adoptLocked(creds.Clone())
			m.logger.Info("Session hydrated by login",
				zap.String("session", kind.String()),
				zap.String("login_for", except.String()),
			)
		}
		s.mu.Unlock()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
