package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the cockpit settings are persisted, relative to the data dir
const DefaultPath = "config/settings.json"

// Vector providers
const (
	VectorProviderDemo   = "DEMO"
	VectorProviderGemini = "Gemini"
)

// LLM providers
const (
	LLMProviderClaude = "Claude"
	LLMProviderGemini = "Gemini"
)

// Settings is the configuration cockpit. It is stored locally in plain text.
type Settings struct {
	Databricks        DatabricksConfig `json:"databricks" yaml:"databricks"`
	Neo4j             Neo4jConfig      `json:"neo4j" yaml:"neo4j"`
	Vector            VectorConfig     `json:"vector" yaml:"vector"`
	LLM               LLMConfig        `json:"llm" yaml:"llm"`
	Email             EmailConfig      `json:"email" yaml:"email"`
	AdminPasswordHash string           `json:"admin_password_hash,omitempty" yaml:"admin_password_hash,omitempty"`
	SavedAt           *time.Time       `json:"saved_at,omitempty" yaml:"saved_at,omitempty"`
}

type DatabricksConfig struct {
	Host        string `json:"host" yaml:"host" validate:"omitempty,hostname|url"`
	HTTPPath    string `json:"http_path" yaml:"http_path"`
	Token       string `json:"token" yaml:"token"`
	WarehouseID string `json:"warehouse_id" yaml:"warehouse_id"`
	ClusterID   string `json:"cluster_id" yaml:"cluster_id"`
}

// SQLWarehouseReady reports whether the SQL connector path can be used
func (c DatabricksConfig) SQLWarehouseReady() bool {
	return c.Host != "" && c.HTTPPath != "" && c.Token != ""
}

// JobsReady reports whether the Jobs API fallback can be used
func (c DatabricksConfig) JobsReady() bool {
	return c.Host != "" && c.Token != "" && c.ClusterID != ""
}

type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri" validate:"omitempty,uri"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Encrypt  string `json:"encrypt" yaml:"encrypt" validate:"omitempty,oneof=true false"`
}

type VectorConfig struct {
	Provider       string `json:"provider" yaml:"provider" validate:"omitempty,oneof=DEMO Gemini"`
	VectorDir      string `json:"vector_dir" yaml:"vector_dir"`
	EmbeddingModel string `json:"embedding_model" yaml:"embedding_model"`
	APIKey         string `json:"api_key" yaml:"api_key"`
}

type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider" validate:"omitempty,oneof=Claude Gemini"`
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	Model    string `json:"model" yaml:"model"`
}

type EmailConfig struct {
	SMTPServer string `json:"smtp_server" yaml:"smtp_server" validate:"omitempty,hostname|ip"`
	SMTPPort   string `json:"smtp_port" yaml:"smtp_port" validate:"omitempty,numeric"`
	SMTPUser   string `json:"smtp_user" yaml:"smtp_user"`
	SMTPPass   string `json:"smtp_pass" yaml:"smtp_pass"`
	From       string `json:"from" yaml:"from" validate:"omitempty,email"`
}

// Port returns the SMTP port as an int, defaulting to 587
func (c EmailConfig) Port() int {
	if p, err := strconv.Atoi(c.SMTPPort); err == nil && p > 0 {
		return p
	}
	return 587
}

// Defaults returns the settings used when no file exists
func Defaults() *Settings {
	return &Settings{
		Neo4j: Neo4jConfig{Encrypt: "true"},
		Vector: VectorConfig{
			Provider:       VectorProviderDemo,
			VectorDir:      "./vector_store",
			EmbeddingModel: "gemini-embedding-001",
		},
		LLM:   LLMConfig{Provider: LLMProviderClaude},
		Email: EmailConfig{SMTPPort: "587"},
	}
}

// Load reads settings from path. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	s := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, s)
	} else {
		err = json.Unmarshal(data, s)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	s.fillDefaults()
	return s, nil
}

// Save stamps SavedAt and writes the settings to path
func Save(path string, s *Settings) error {
	now := time.Now().UTC()
	s.SavedAt = &now

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(s)
	} else {
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("unable to save config file: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func (s *Settings) fillDefaults() {
	d := Defaults()
	if s.Neo4j.Encrypt == "" {
		s.Neo4j.Encrypt = d.Neo4j.Encrypt
	}
	if s.Vector.Provider == "" {
		s.Vector.Provider = d.Vector.Provider
	}
	if s.Vector.VectorDir == "" {
		s.Vector.VectorDir = d.Vector.VectorDir
	}
	if s.Vector.EmbeddingModel == "" {
		s.Vector.EmbeddingModel = d.Vector.EmbeddingModel
	}
	if s.LLM.Provider == "" {
		s.LLM.Provider = d.LLM.Provider
	}
	if s.Email.SMTPPort == "" {
		s.Email.SMTPPort = d.Email.SMTPPort
	}
}

// EnvValues records the settings fields filled from the environment, keyed by
// field path, with the value each one received
type EnvValues map[string]string

// envFields maps field paths to the fields of s they name
func envFields(s *Settings) map[string]*string {
	return map[string]*string{
		"databricks.host":         &s.Databricks.Host,
		"databricks.http_path":    &s.Databricks.HTTPPath,
		"databricks.token":        &s.Databricks.Token,
		"databricks.warehouse_id": &s.Databricks.WarehouseID,
		"databricks.cluster_id":   &s.Databricks.ClusterID,
		"neo4j.uri":               &s.Neo4j.URI,
		"neo4j.user":              &s.Neo4j.User,
		"neo4j.password":          &s.Neo4j.Password,
		"vector.api_key":          &s.Vector.APIKey,
		"llm.api_key":             &s.LLM.APIKey,
		"email.smtp_server":       &s.Email.SMTPServer,
		"email.smtp_port":         &s.Email.SMTPPort,
		"email.smtp_user":         &s.Email.SMTPUser,
		"email.smtp_pass":         &s.Email.SMTPPass,
		"email.from":              &s.Email.From,
		"admin_password_hash":     &s.AdminPasswordHash,
	}
}

// ApplyEnv loads a .env file if present and fills empty fields from the environment.
// Values already present in the settings file win. The returned EnvValues lets
// WithoutEnv keep those values out of the settings file.
func (s *Settings) ApplyEnv() EnvValues {
	_ = godotenv.Load()

	env := EnvValues{}
	fields := envFields(s)
	fill := func(field string, keys ...string) {
		dst := fields[field]
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				env[field] = v
				return
			}
		}
	}

	fill("databricks.host", "DATABRICKS_HOST")
	fill("databricks.http_path", "DATABRICKS_HTTP_PATH")
	fill("databricks.token", "DATABRICKS_TOKEN")
	fill("databricks.warehouse_id", "DATABRICKS_WAREHOUSE_ID")
	fill("databricks.cluster_id", "DATABRICKS_CLUSTER_ID")

	fill("neo4j.uri", "NEO4J_URI")
	fill("neo4j.user", "NEO4J_USER", "NEO4J_USERNAME")
	fill("neo4j.password", "NEO4J_PASSWORD")

	fill("vector.api_key", "GEMINI_API_KEY", "GOOGLE_API_KEY")

	switch s.LLM.Provider {
	case LLMProviderGemini:
		fill("llm.api_key", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	default:
		fill("llm.api_key", "ANTHROPIC_API_KEY")
	}

	fill("email.smtp_server", "SMTP_HOST", "SMTP_SERVER")
	fill("email.smtp_user", "SMTP_USER", "SMTP_EMAIL")
	fill("email.smtp_pass", "SMTP_PASSWORD")
	fill("email.from", "SMTP_FROM", "SMTP_EMAIL")
	if v := os.Getenv("SMTP_PORT"); v != "" && s.Email.SMTPPort == Defaults().Email.SMTPPort {
		s.Email.SMTPPort = v
		env["email.smtp_port"] = v
	}

	fill("admin_password_hash", "DBQUERY_ADMIN_PASSWORD_HASH")
	return env
}

// WithoutEnv returns a copy of s in which every field still holding the value
// it got from the environment is reset, so env secrets never reach disk
func (s *Settings) WithoutEnv(env EnvValues) *Settings {
	c := *s
	if len(env) == 0 {
		return &c
	}
	d := envFields(Defaults())
	for field, ptr := range envFields(&c) {
		if v, ok := env[field]; ok && *ptr == v {
			*ptr = *d[field]
		}
	}
	return &c
}

var validate = validator.New()

// ErrInvalidSettings wraps every validation failure
var ErrInvalidSettings = errors.New("invalid settings")

// Validate checks field formats and provider enums
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// Redacted returns a copy with every secret masked, safe to display
func (s *Settings) Redacted() *Settings {
	c := *s
	c.Databricks.Token = mask(c.Databricks.Token)
	c.Neo4j.Password = mask(c.Neo4j.Password)
	c.Vector.APIKey = mask(c.Vector.APIKey)
	c.LLM.APIKey = mask(c.LLM.APIKey)
	c.Email.SMTPPass = mask(c.Email.SMTPPass)
	c.AdminPasswordHash = mask(c.AdminPasswordHash)
	return &c
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "••••"
	}
	return "••••" + secret[len(secret)-4:]
}

// HashPassword returns a bcrypt hash for the admin password
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}

// VerifyPassword reports whether password matches the bcrypt hash
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
