package dbconfig

import "testing"

func TestWithEnvPrefersEnvironment(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")

	c := Config{Host: "yaml-host", Database: "parties"}.WithEnv()

	if c.Host != "db.internal" || c.Port != 6543 {
		t.Errorf("env not applied: %+v", c)
	}
	if c.Database != "parties" {
		t.Errorf("file value lost: %+v", c)
	}
	if c.User != "postgres" || c.SSLMode != "disable" {
		t.Errorf("defaults not applied: %+v", c)
	}
}

func TestDSN(t *testing.T) {
	c := Config{Host: "localhost", Port: 5432, User: "u", Password: "p", Database: "watchsync", SSLMode: "disable"}
	want := "postgres://u:p@localhost:5432/watchsync?sslmode=disable"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
