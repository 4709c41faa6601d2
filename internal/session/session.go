package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"dbquery/internal/config"
	"dbquery/internal/deck"
	"dbquery/internal/store"
)

// Session expiry
const (
	TTL           = 1 * time.Hour
	PurgeInterval = 10 * time.Minute
)

// Insight is a pinned result
type Insight struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Summary  string          `json:"summary"`
	Result   *store.Result   `json:"result"`
	Chart    *deck.ChartSpec `json:"chart,omitempty"`
	PinnedAt time.Time       `json:"pinned_at"`
}

// NewInsight pins r, titled after the pin time
func NewInsight(sql string, r *store.Result, chart *deck.ChartSpec, now time.Time) Insight {
	return Insight{
		ID:       uuid.NewString(),
		Title:    "Insight " + now.Format("2006-01-02 15:04"),
		Summary:  sql,
		Result:   r,
		Chart:    chart,
		PinnedAt: now,
	}
}

// Card converts the insight for deck export
func (i Insight) Card() deck.Card {
	return deck.Card{Title: i.Title, Summary: i.Summary, Result: i.Result, Chart: i.Chart}
}

// Session holds one user's working state. Callers must hold Lock while
// reading or writing fields of a shared session.
type Session struct {
	sync.Mutex `json:"-"`

	ID            string        `json:"id"`
	DemoMode      bool          `json:"demo_mode"`
	Theme         string        `json:"theme"`
	AdminUnlocked bool          `json:"admin_unlocked"`
	GeneratedSQL  string        `json:"generated_sql"`
	Rationale     string        `json:"rationale"`
	Source        string        `json:"source,omitempty"`
	LastPrompt    string        `json:"last_prompt,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	LastSQL       string        `json:"last_sql,omitempty"`
	LastResult    *store.Result `json:"last_result,omitempty"`
	Pinned        []Insight     `json:"pinned"`
	History       []string      `json:"history"`
	CreatedAt     time.Time     `json:"created_at"`
}

// New returns a session in demo mode with the default theme
func New() *Session {
	return &Session{
		ID:        uuid.NewString(),
		DemoMode:  true,
		Theme:     config.DefaultTheme,
		CreatedAt: time.Now(),
	}
}

// AddHistory appends a log line
func (s *Session) AddHistory(entry string) {
	s.History = append(s.History, entry)
}

// RecentHistory returns up to n entries, newest first. n <= 0 returns all.
func (s *Session) RecentHistory(n int) []string {
	if n <= 0 || n > len(s.History) {
		n = len(s.History)
	}
	out := make([]string, 0, n)
	for i := len(s.History) - 1; i >= len(s.History)-n; i-- {
		out = append(out, s.History[i])
	}
	return out
}

// PinnedNewestFirst returns a copy of the pins, newest first
func (s *Session) PinnedNewestFirst() []Insight {
	out := make([]Insight, len(s.Pinned))
	for i, p := range s.Pinned {
		out[len(s.Pinned)-1-i] = p
	}
	return out
}

// Manager keeps sessions in memory with a sliding expiry
type Manager struct {
	cache *cache.Cache
	mu    sync.Mutex
}

func NewManager() *Manager {
	return &Manager{cache: cache.New(TTL, PurgeInterval)}
}

// New creates and stores a fresh session
func (m *Manager) New() *Session {
	s := New()
	m.Save(s)
	return s
}

// Save stores s and resets its expiry
func (m *Manager) Save(s *Session) {
	m.cache.Set(s.ID, s, cache.DefaultExpiration)
}

func (m *Manager) Get(id string) (*Session, bool) {
	if x, found := m.cache.Get(id); found {
		return x.(*Session), true
	}
	return nil, false
}

// GetOrCreate returns the session for id, creating a new one (with a new id)
// when id is empty or expired
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if s, ok := m.Get(id); ok {
			m.Save(s)
			return s
		}
	}
	return m.New()
}

func (m *Manager) Delete(id string) {
	m.cache.Delete(id)
}

func (m *Manager) Count() int {
	return m.cache.ItemCount()
}
