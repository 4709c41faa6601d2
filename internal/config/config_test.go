package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, "true", s.Neo4j.Encrypt)
	assert.Equal(t, VectorProviderDemo, s.Vector.Provider)
	assert.Equal(t, "./vector_store", s.Vector.VectorDir)
	assert.Equal(t, "587", s.Email.SMTPPort)
	assert.Nil(t, s.SavedAt)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"settings.json", "settings.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config", name)

			s := Defaults()
			s.Databricks.Host = "https://adb-1.azuredatabricks.net"
			s.Databricks.Token = "dapi-secret"
			s.Neo4j.URI = "bolt://localhost:7687"

			require.NoError(t, Save(path, s))
			require.NotNil(t, s.SavedAt)

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, s.Databricks.Host, loaded.Databricks.Host)
			assert.Equal(t, s.Databricks.Token, loaded.Databricks.Token)
			assert.Equal(t, s.Neo4j.URI, loaded.Neo4j.URI)
			require.NotNil(t, loaded.SavedAt)
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnvKeepsFileValues(t *testing.T) {
	t.Setenv("DATABRICKS_HOST", "https://from-env.example.com")
	t.Setenv("DATABRICKS_TOKEN", "env-token")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")

	s := Defaults()
	s.Databricks.Host = "https://from-file.example.com"
	s.ApplyEnv()

	assert.Equal(t, "https://from-file.example.com", s.Databricks.Host)
	assert.Equal(t, "env-token", s.Databricks.Token)
	assert.Equal(t, "sk-ant-env", s.LLM.APIKey)
}

func TestWithoutEnvDropsEnvValues(t *testing.T) {
	t.Setenv("DATABRICKS_TOKEN", "env-token")
	t.Setenv("NEO4J_PASSWORD", "env-neo4j")
	t.Setenv("SMTP_PORT", "2525")

	s := Defaults()
	s.Databricks.Host = "https://from-file.example.com"
	env := s.ApplyEnv()
	assert.Equal(t, "env-token", env["databricks.token"])
	assert.NotContains(t, env, "databricks.host")

	s.Neo4j.Password = "typed-in-cockpit"
	saved := s.WithoutEnv(env)

	assert.Empty(t, saved.Databricks.Token)
	assert.Equal(t, "587", saved.Email.SMTPPort)
	assert.Equal(t, "typed-in-cockpit", saved.Neo4j.Password, "values changed after startup are kept")
	assert.Equal(t, "https://from-file.example.com", saved.Databricks.Host)
	assert.Equal(t, "env-token", s.Databricks.Token, "the live settings keep env values")
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(s *Settings) {}},
		{name: "bad vector provider", mutate: func(s *Settings) { s.Vector.Provider = "Pinecone" }, wantErr: true},
		{name: "bad encrypt flag", mutate: func(s *Settings) { s.Neo4j.Encrypt = "maybe" }, wantErr: true},
		{name: "non numeric smtp port", mutate: func(s *Settings) { s.Email.SMTPPort = "abc" }, wantErr: true},
		{name: "valid databricks host", mutate: func(s *Settings) { s.Databricks.Host = "https://adb.example.com" }},
		{name: "host without scheme", mutate: func(s *Settings) { s.Databricks.Host = "adb-1234.5.azuredatabricks.net" }},
		{name: "malformed host", mutate: func(s *Settings) { s.Databricks.Host = "not a host" }, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := Defaults()
			tc.mutate(s)
			err := s.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	s := Defaults()
	s.Databricks.Token = "dapi1234567890"
	s.Neo4j.Password = "pw"

	r := s.Redacted()
	assert.Equal(t, "••••7890", r.Databricks.Token)
	assert.Equal(t, "••••", r.Neo4j.Password)
	assert.Equal(t, "", r.LLM.APIKey)
	assert.Equal(t, "dapi1234567890", s.Databricks.Token, "original must not change")
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("letmein")
	require.NoError(t, err)

	assert.True(t, VerifyPassword("letmein", hash))
	assert.False(t, VerifyPassword("wrong", hash))
}

func TestThemes(t *testing.T) {
	name, p := Theme("Carbon Black")
	assert.Equal(t, "Carbon Black", name)
	assert.Equal(t, "#D4AF37", p.Accent)

	name, _ = Theme("Neon")
	assert.Equal(t, DefaultTheme, name)

	assert.Equal(t, "Light Enterprise", NextTheme("Aurora Purple"))
	assert.Equal(t, "Aurora Purple", NextTheme("Carbon Black"))
}

func TestEmailPort(t *testing.T) {
	assert.Equal(t, 2525, EmailConfig{SMTPPort: "2525"}.Port())
	assert.Equal(t, 587, EmailConfig{SMTPPort: ""}.Port())
}
