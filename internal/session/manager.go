package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dgellow/authguard/internal/log"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Manager issues sessions and loads them from request cookies
type Manager struct {
	store     Store
	cookieKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewManager returns a manager that signs session cookies with cookieKey
func NewManager(store Store, cookieKey []byte, ttl time.Duration) *Manager {
	return &Manager{
		store:     store,
		cookieKey: cookieKey,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Load returns the record named by the request's session cookie.
// ErrNotFound covers a missing cookie, a bad signature and an unknown or
// expired session.
func (m *Manager) Load(ctx context.Context, r *http.Request) (*Record, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil, ErrNotFound
	}
	id, ok := verifyID(c.Value, m.cookieKey)
	if !ok {
		log.LogDebugWithFields("session", "Rejected session cookie with invalid signature", nil)
		return nil, ErrNotFound
	}
	return m.store.Get(ctx, id)
}

// Middleware attaches a *Handle to every request context. The handle is
// anonymous when the request carries no valid session.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := &Handle{manager: m, w: w}
		if _, err := r.Cookie(CookieName); err == nil {
			h.hasCookie = true
		}

		rec, err := m.Load(r.Context(), r)
		switch {
		case err == nil:
			h.record = rec
		case errors.Is(err, ErrNotFound):
		default:
			log.LogErrorWithFields("session", "Failed to load session", map[string]any{
				"error": err.Error(),
				"path":  r.URL.Path,
			})
		}

		next.ServeHTTP(w, r.WithContext(WithHandle(r.Context(), h)))
	})
}

// Handle is the request-scoped view of a session
type Handle struct {
	manager *Manager
	w       http.ResponseWriter

	mu        sync.Mutex
	record    *Record
	hasCookie bool
}

// ID returns the session ID, or "" for an anonymous handle
func (h *Handle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.record == nil {
		return ""
	}
	return h.record.ID
}

// Record returns the current record, or nil when anonymous
func (h *Handle) Record() *Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record
}

// Authenticated reports whether the request has a signed-in user
func (h *Handle) Authenticated() bool {
	return h.Record() != nil
}

// Login replaces any current session with a new one for rec. ID, CreatedAt
// and ExpiresAt are assigned here.
func (h *Handle) Login(ctx context.Context, rec *Record) error {
	if err := h.clear(ctx, false); err != nil {
		return fmt.Errorf("clearing previous session: %w", err)
	}

	now := h.manager.now()
	rec.ID = uuid.NewString()
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(h.manager.ttl)

	if err := h.manager.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	setCookie(h.w, signID(rec.ID, h.manager.cookieKey), h.manager.ttl)

	h.mu.Lock()
	h.record = rec
	h.hasCookie = true
	h.mu.Unlock()

	log.LogInfoWithFields("session", "Session created", map[string]any{
		"user":     rec.Email,
		"provider": rec.Provider,
	})
	return nil
}

// UpdateToken persists a refreshed token on the current session
func (h *Handle) UpdateToken(ctx context.Context, token *oauth2.Token) error {
	h.mu.Lock()
	rec := h.record
	h.mu.Unlock()
	if rec == nil {
		return ErrNotFound
	}

	updated := *rec
	updated.Token = token
	if err := h.manager.store.Save(ctx, &updated); err != nil {
		return fmt.Errorf("saving refreshed token: %w", err)
	}

	h.mu.Lock()
	h.record = &updated
	h.mu.Unlock()
	return nil
}

// Clear deletes the session from the store, expires the cookie and leaves
// the handle anonymous. It returns once the store delete has completed.
// Clearing an anonymous handle only expires a stale cookie, if any.
func (h *Handle) Clear(ctx context.Context) error {
	return h.clear(ctx, true)
}

func (h *Handle) clear(ctx context.Context, expireCookie bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.record != nil {
		if err := h.manager.store.Delete(ctx, h.record.ID); err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		log.LogInfoWithFields("session", "Session cleared", map[string]any{
			"user": h.record.Email,
		})
	}
	if expireCookie && (h.record != nil || h.hasCookie) {
		clearCookie(h.w)
	}
	h.record = nil
	h.hasCookie = false
	return nil
}

type contextKey struct{}

// WithHandle returns a context carrying h
func WithHandle(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, contextKey{}, h)
}

// FromContext returns the request's handle, or nil outside Middleware
func FromContext(ctx context.Context) *Handle {
	h, _ := ctx.Value(contextKey{}).(*Handle)
	return h
}
