package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.STT.Mode != "mock" {
		t.Fatalf("expected default stt mode mock, got %q", cfg.STT.Mode)
	}
	if cfg.Models.Model != "base-q5" {
		t.Fatalf("expected default model base-q5, got %q", cfg.Models.Model)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whisperd.yaml")
	data := []byte(`
stt:
  enabled: true
  mode: exec
  command: "whisper-cli --output-json"
  sample_rate: 16000
  channels: 1
diarize:
  enabled: true
  mode: exec
  command: "diarize.py"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.Mode != "exec" || cfg.STT.Command == "" {
		t.Fatalf("expected exec stt config, got %+v", cfg.STT)
	}
	if !cfg.Diarize.Enabled || cfg.Diarize.Command != "diarize.py" {
		t.Fatalf("expected diarize config, got %+v", cfg.Diarize)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WHISPERD_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("WHISPERD_BUS_USERNAME", "alice")
	t.Setenv("WHISPERD_BUS_PASSWORD", "secret")
	t.Setenv("WHISPERD_BUS_TLS_INSECURE", "true")
	t.Setenv("WHISPERD_NODE_ID", "test-node")
	t.Setenv("WHISPERD_STT_MODE", "exec")
	t.Setenv("WHISPERD_STT_COMMAND", "whisper-cli")
	t.Setenv("WHISPERD_STT_PARTIAL_EVERY_MS", "500")
	t.Setenv("WHISPERD_MODELS_DIR", "/tmp/models")
	t.Setenv("WHISPERD_REFINE_TEMPERATURE", "0.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.STT.Mode != "exec" || cfg.STT.Command != "whisper-cli" {
		t.Fatalf("expected stt overrides, got %+v", cfg.STT)
	}
	if cfg.STT.PartialEveryMS != 500 {
		t.Fatalf("expected partial interval override")
	}
	if cfg.Models.Dir != "/tmp/models" {
		t.Fatalf("expected models dir override")
	}
	if cfg.Refine.Temperature != 0.5 {
		t.Fatalf("expected refine temperature override")
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	t.Setenv("WHISPERD_STT_MODE", "cloud")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown stt mode")
	}
}

func TestValidateExecNeedsCommand(t *testing.T) {
	t.Setenv("WHISPERD_DIARIZE_ENABLED", "true")
	t.Setenv("WHISPERD_DIARIZE_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec diarize without command")
	}
}
