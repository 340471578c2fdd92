package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "8081" {
		t.Errorf("Port = %q, want 8081", cfg.Port)
	}
	if cfg.JWTSecret == "" {
		t.Error("expected development secret fallback")
	}
	if !cfg.RecallSenderOnly {
		t.Error("RecallSenderOnly should default to true")
	}
	if cfg.RoomReadReceipts {
		t.Error("RoomReadReceipts should default to false")
	}
	if cfg.MaxRoomMembers != 1000 {
		t.Errorf("MaxRoomMembers = %d, want 1000", cfg.MaxRoomMembers)
	}
}

func TestLoadConfigRequiresSecretInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when JWT_SECRET is missing in production")
	}
}

func TestTypedHelpers(t *testing.T) {
	t.Setenv("T_INT", "42")
	t.Setenv("T_BAD_INT", "x")
	t.Setenv("T_DUR", "90s")
	t.Setenv("T_BOOL", "false")
	t.Setenv("T_LIST", " a.com, ,b.com ")

	if got := GetEnvInt("T_INT", 1); got != 42 {
		t.Errorf("GetEnvInt = %d", got)
	}
	if got := GetEnvInt("T_BAD_INT", 7); got != 7 {
		t.Errorf("GetEnvInt fallback = %d", got)
	}
	if got := GetEnvDuration("T_DUR", time.Second); got != 90*time.Second {
		t.Errorf("GetEnvDuration = %v", got)
	}
	if got := GetEnvBool("T_BOOL", true); got {
		t.Error("GetEnvBool should parse false")
	}
	if got := GetEnvList("T_LIST", nil); !reflect.DeepEqual(got, []string{"a.com", "b.com"}) {
		t.Errorf("GetEnvList = %v", got)
	}
	if got := GetEnvList("T_MISSING", []string{"x"}); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("GetEnvList default = %v", got)
	}
}
