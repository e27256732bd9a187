package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestNewDependencies_Memory(t *testing.T) {
	cfg := DefaultConfig()

	deps, err := NewDependencies(context.Background(), cfg, log.WithField("test", "deps"))
	if err != nil {
		t.Fatalf("NewDependencies: %v", err)
	}
	defer deps.Close()

	if deps.Orders == nil || deps.Payments == nil || deps.Events == nil {
		t.Error("expected all repositories to be initialized")
	}
	if deps.Agents == nil || deps.Attempts == nil || deps.Stock == nil {
		t.Error("expected all repositories to be initialized")
	}
	if deps.Store != nil {
		t.Error("memory driver must not open a postgres store")
	}
}

func TestNewDependencies_UnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "etcd"

	if _, err := NewDependencies(context.Background(), cfg, nil); err == nil {
		t.Error("expected error for unknown storage driver")
	}
}

func TestNewDependencies_PostgresRequiresDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = ""

	if _, err := NewDependencies(context.Background(), cfg, nil); err == nil {
		t.Error("expected error when postgres driver has no DSN")
	}
}

func TestDependenciesClose_NilStore(_ *testing.T) {
	deps := &Dependencies{Logger: log.WithField("test", "deps")}

	// Не должно паниковать
	deps.Close()
}
