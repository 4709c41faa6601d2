// Package copilot implements the Ask -> Review -> Execute workflow shared by
// the terminal console, the HTTP server and the CLI.
package copilot

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"dbquery/internal/config"
	"dbquery/internal/graph"
	"dbquery/internal/logging"
	"dbquery/internal/mailer"
	"dbquery/internal/session"
	"dbquery/internal/sqlgen"
	"dbquery/internal/store"
	"dbquery/internal/vector"
	"dbquery/internal/warehouse"
)

var (
	ErrEmptyPrompt   = errors.New("enter a prompt first")
	ErrNoSQL         = errors.New("no SQL to execute; generate SQL first")
	ErrNoResult      = errors.New("no result to pin")
	ErrNothingToSave = errors.New("nothing to download")
	ErrNotConfigured = errors.New("real generator not configured")
	ErrAdminLocked   = errors.New("admin settings are locked")
	ErrBadPassword   = errors.New("invalid admin password")
)

//go:embed demo_script.md
var demoScript string

// GroundingHits is how many grounding passages are added to a real SQL prompt
const GroundingHits = 3

// DeckSender mails an exported deck. *mailer.Mailer implements it.
type DeckSender interface {
	SendDeck(to, filename string, data []byte) error
}

// Options configures a Service. Only DataDir is required.
type Options struct {
	DataDir      string
	SettingsPath string
	Settings     *config.Settings
	Logger       *zap.Logger

	// Overrides for the real-mode integrations, used by tests
	Generator   sqlgen.Generator
	Executor    warehouse.Executor
	Embedder    vector.Embedder
	GraphRunner func(ctx context.Context, cfg config.Neo4jConfig) (graph.Runner, error)
	Mailer      func(cfg config.EmailConfig) (DeckSender, error)
	Now         func() time.Time
}

// Service wires generators, executors, grounding, export and settings together
type Service struct {
	db       *store.DB
	sessions *session.Manager
	logger   *zap.Logger
	opts     Options

	demoExec      *warehouse.DemoExecutor
	demoGrounding *vector.Engine

	mu           sync.RWMutex
	settings     *config.Settings
	env          config.EnvValues
	executor     warehouse.Executor
	realGrounder *vector.Engine
}

// New opens the local store and loads the settings cockpit
func New(ctx context.Context, opts Options) (*Service, error) {
	logger := logging.OrNop(opts.Logger)

	if opts.SettingsPath == "" {
		opts.SettingsPath = filepath.Join(opts.DataDir, config.DefaultPath)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var env config.EnvValues
	settings := opts.Settings
	if settings == nil {
		var err error
		settings, err = config.Load(opts.SettingsPath)
		if err != nil {
			return nil, err
		}
		env = settings.ApplyEnv()
	}

	db, err := store.Open(opts.DataDir, logger)
	if err != nil {
		return nil, err
	}

	s := &Service{
		db:            db,
		sessions:      session.NewManager(),
		logger:        logger,
		opts:          opts,
		demoExec:      warehouse.NewDemoExecutor(db, logger),
		demoGrounding: vector.NewEngine(db, vector.NewHashEmbedder(), logger),
		settings:      settings,
		env:           env,
	}

	if n, err := s.demoGrounding.SeedDemo(ctx); err != nil {
		logger.Warn("Failed to seed demo grounding documents", zap.Error(err))
	} else if n > 0 {
		logger.Info("Seeded demo grounding documents", zap.Int("chunks", n))
	}

	return s, nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.executor.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	return s.db.Close()
}

func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

func (s *Service) DataDir() string {
	return s.opts.DataDir
}

// DemoScript returns the bundled walkthrough
func (s *Service) DemoScript() string {
	return demoScript
}

// Settings returns a redacted copy of the cockpit
func (s *Service) Settings() *config.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Redacted()
}

func (s *Service) currentSettings() config.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.settings
}

// AdminLocked reports whether sess must unlock before changing settings
func (s *Service) AdminLocked(sess *session.Session) bool {
	s.mu.RLock()
	hash := s.settings.AdminPasswordHash
	s.mu.RUnlock()
	return hash != "" && !sess.AdminUnlocked
}

// UnlockAdmin checks password against the configured hash. With no hash
// configured the cockpit is open.
func (s *Service) UnlockAdmin(sess *session.Session, password string) error {
	s.mu.RLock()
	hash := s.settings.AdminPasswordHash
	s.mu.RUnlock()

	sess.Lock()
	defer sess.Unlock()
	if hash != "" && !config.VerifyPassword(password, hash) {
		s.logger.Warn("Admin unlock failed", zap.String("session", sess.ID))
		return ErrBadPassword
	}
	sess.AdminUnlocked = true
	return nil
}

// UpdateSettings validates and applies next. Masked secrets left unchanged by
// a client keep their current value. The admin hash cannot be changed here.
func (s *Service) UpdateSettings(sess *session.Session, next config.Settings) error {
	if s.AdminLocked(sess) {
		return ErrAdminLocked
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keepMasked(&next.Databricks.Token, s.settings.Databricks.Token)
	keepMasked(&next.Neo4j.Password, s.settings.Neo4j.Password)
	keepMasked(&next.Vector.APIKey, s.settings.Vector.APIKey)
	keepMasked(&next.LLM.APIKey, s.settings.LLM.APIKey)
	keepMasked(&next.Email.SMTPPass, s.settings.Email.SMTPPass)
	next.AdminPasswordHash = s.settings.AdminPasswordHash
	next.SavedAt = s.settings.SavedAt

	if err := next.Validate(); err != nil {
		return err
	}

	if c, ok := s.executor.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	s.executor = nil
	s.realGrounder = nil
	s.settings = &next
	s.logger.Info("Settings updated", zap.String("session", sess.ID))
	return nil
}

func keepMasked(field *string, current string) {
	if strings.HasPrefix(*field, "••••") {
		*field = current
	}
}

// SaveSettings persists the cockpit to the settings file
func (s *Service) SaveSettings(sess *session.Session) (string, error) {
	if s.AdminLocked(sess) {
		return "", ErrAdminLocked
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := s.settings.WithoutEnv(s.env)
	if err := config.Save(s.opts.SettingsPath, saved); err != nil {
		return "", err
	}
	s.settings.SavedAt = saved.SavedAt
	s.logger.Info("Settings saved", zap.String("path", s.opts.SettingsPath))
	return s.opts.SettingsPath, nil
}

// SetDemoMode toggles demo mode for sess
func (s *Service) SetDemoMode(sess *session.Session, on bool) {
	sess.Lock()
	defer sess.Unlock()
	sess.DemoMode = on
}

// SetTheme applies name, falling back to the default theme, and returns the applied name
func (s *Service) SetTheme(sess *session.Session, name string) string {
	applied, _ := config.Theme(name)
	sess.Lock()
	defer sess.Unlock()
	sess.Theme = applied
	return applied
}

// TestConnection checks the Databricks SQL warehouse settings
func (s *Service) TestConnection(ctx context.Context) (string, error) {
	cfg := s.currentSettings()
	exec := warehouse.NewDatabricksExecutor(cfg.Databricks, s.logger)
	defer exec.Close()
	return exec.TestConnection(ctx)
}

// generator builds the configured LLM generator for real mode
func (s *Service) generator(ctx context.Context) (sqlgen.Generator, error) {
	if s.opts.Generator != nil {
		return s.opts.Generator, nil
	}

	cfg := s.currentSettings().LLM
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	switch cfg.Provider {
	case config.LLMProviderGemini:
		return sqlgen.NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, cfg.Endpoint, s.logger)
	case config.LLMProviderClaude, "":
		var opts []option.RequestOption
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithBaseURL(cfg.Endpoint))
		}
		return sqlgen.NewClaudeGenerator(cfg.APIKey, cfg.Model, s.logger, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown LLM provider %q", ErrNotConfigured, cfg.Provider)
	}
}

// realExecutor returns the cached Databricks executor
func (s *Service) realExecutor() warehouse.Executor {
	if s.opts.Executor != nil {
		return s.opts.Executor
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.executor == nil {
		s.executor = warehouse.NewDatabricksExecutor(s.settings.Databricks, s.logger)
	}
	return s.executor
}

func (s *Service) executorFor(demo bool) warehouse.Executor {
	if demo {
		return s.demoExec
	}
	return s.realExecutor()
}

func (s *Service) newMailer(cfg config.EmailConfig) (DeckSender, error) {
	if s.opts.Mailer != nil {
		return s.opts.Mailer(cfg)
	}
	return mailer.New(cfg, s.logger)
}

func (s *Service) connectGraph(ctx context.Context, cfg config.Neo4jConfig) (graph.Runner, error) {
	if s.opts.GraphRunner != nil {
		return s.opts.GraphRunner(ctx, cfg)
	}
	return graph.Connect(ctx, cfg)
}

// head returns the first n runes of s
func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
