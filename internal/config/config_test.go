package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ConfigDBDir != "nacos_db" {
		t.Errorf("ConfigDBDir = %q, want nacos_db", cfg.ConfigDBDir)
	}
	if cfg.HTTPPort != 8848 {
		t.Errorf("HTTPPort = %d, want 8848", cfg.HTTPPort)
	}
	if cfg.GRPCPort != 9848 {
		t.Errorf("GRPCPort = %d, want 9848", cfg.GRPCPort)
	}
	if cfg.HTTPConsolePort != 10848 {
		t.Errorf("HTTPConsolePort = %d, want 10848", cfg.HTTPConsolePort)
	}
	if cfg.RaftNodeID != 1 {
		t.Errorf("RaftNodeID = %d, want 1", cfg.RaftNodeID)
	}
	if !cfg.RaftAutoInit {
		t.Error("RaftAutoInit should default to true when RaftNodeID == 1")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestNamingSysConfigDefaults(t *testing.T) {
	nc := NewNamingSysConfig()
	if nc.OnceTimeCheckSize != 10000 {
		t.Errorf("OnceTimeCheckSize = %d, want 10000", nc.OnceTimeCheckSize)
	}
	if nc.ServiceTimeOutMillis != 30000 {
		t.Errorf("ServiceTimeOutMillis = %d, want 30000", nc.ServiceTimeOutMillis)
	}
	if nc.InstanceMetadataTimeOutMillis != 60000 {
		t.Errorf("InstanceMetadataTimeOutMillis = %d, want 60000", nc.InstanceMetadataTimeOutMillis)
	}
	if nc.ServiceTimeOut().Seconds() != 30 {
		t.Errorf("ServiceTimeOut() = %v, want 30s", nc.ServiceTimeOut())
	}
}

func TestClusterToken(t *testing.T) {
	cfg := Load()
	if cfg.ClusterToken() != "" {
		t.Fatalf("expected empty cluster token by default")
	}
	cfg.SetClusterToken("secret")
	if cfg.ClusterToken() != "secret" {
		t.Fatalf("ClusterToken() = %q, want secret", cfg.ClusterToken())
	}
}

func TestValidateRejectsEmptyDBDir(t *testing.T) {
	cfg := Load()
	cfg.ConfigDBDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty ConfigDBDir")
	}
}
