package capability

import (
	"testing"

	"github.com/whispertype/whisperd/internal/config"
)

func pipelineConfig() *config.Config {
	cfg := config.Default()
	cfg.STT.Enabled = true
	cfg.STT.Mode = "native"
	cfg.STT.Language = "en"
	cfg.STT.SampleRate = 16000
	cfg.STT.EmitPartials = true
	cfg.Models.Model = "base-q5"
	cfg.Diarize.Enabled = true
	cfg.Diarize.Mode = "exec"
	cfg.Diarize.MinSpeakers = 1
	cfg.Diarize.MaxSpeakers = 4
	cfg.Refine.Enabled = true
	cfg.Refine.Mode = "ollama"
	cfg.Refine.Model = "llama3.2:3b"
	cfg.Plugins.Enabled = true
	cfg.Node.Capabilities = nil
	return &cfg
}

func findCapability(caps []config.NodeCapability, name string) (config.NodeCapability, bool) {
	for _, cap := range caps {
		if cap.Name == name {
			return cap, true
		}
	}
	return config.NodeCapability{}, false
}

func TestFromPipelineAdvertisesEnabledStages(t *testing.T) {
	caps := FromPipeline(pipelineConfig())

	stt, ok := findCapability(caps, "stt.transcribe")
	if !ok {
		t.Fatal("expected stt.transcribe capability")
	}
	if stt.Tier != "accurate" {
		t.Errorf("stt tier = %q, want accurate for native mode", stt.Tier)
	}
	if stt.Attributes["model"] != "base-q5" {
		t.Errorf("stt model attribute = %q", stt.Attributes["model"])
	}
	if stt.Attributes["language"] != "en" || stt.Attributes["partials"] != "true" {
		t.Errorf("unexpected stt attributes %v", stt.Attributes)
	}

	diarize, ok := findCapability(caps, "audio.diarize")
	if !ok {
		t.Fatal("expected audio.diarize capability")
	}
	if diarize.Attributes["max_speakers"] != "4" {
		t.Errorf("diarize max_speakers = %q", diarize.Attributes["max_speakers"])
	}

	refine, ok := findCapability(caps, "transcript.refine")
	if !ok {
		t.Fatal("expected transcript.refine capability")
	}
	if refine.Attributes["model"] != "llama3.2:3b" {
		t.Errorf("refine model attribute = %q", refine.Attributes["model"])
	}

	if _, ok := findCapability(caps, "plugin.host"); !ok {
		t.Fatal("expected plugin.host capability")
	}
}

func TestFromPipelineSkipsDisabledStages(t *testing.T) {
	cfg := pipelineConfig()
	cfg.Diarize.Enabled = false
	cfg.Refine.Enabled = false
	cfg.Plugins.Enabled = false

	caps := FromPipeline(cfg)
	if _, ok := findCapability(caps, "audio.diarize"); ok {
		t.Error("disabled diarization must not be advertised")
	}
	if _, ok := findCapability(caps, "transcript.refine"); ok {
		t.Error("disabled refinement must not be advertised")
	}
	if _, ok := findCapability(caps, "plugin.host"); ok {
		t.Error("disabled plugins must not be advertised")
	}
	if _, ok := findCapability(caps, "stt.transcribe"); !ok {
		t.Fatal("stt.transcribe should survive")
	}
}

func TestFromPipelineConfiguredCapabilityWins(t *testing.T) {
	cfg := pipelineConfig()
	cfg.Node.Capabilities = []config.NodeCapability{
		{Name: "stt.transcribe", Tier: "pinned"},
	}

	caps := FromPipeline(cfg)
	stt, ok := findCapability(caps, "stt.transcribe")
	if !ok {
		t.Fatal("expected stt.transcribe capability")
	}
	if stt.Tier != "pinned" {
		t.Errorf("configured capability must win, got tier %q", stt.Tier)
	}
	count := 0
	for _, cap := range caps {
		if cap.Name == "stt.transcribe" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected a single stt.transcribe entry, got %d", count)
	}
}

func TestQueryFilters(t *testing.T) {
	r := &Registry{nodes: map[string]*NodeInfo{
		"desk": {ID: "desk", Capabilities: []Capability{
			{Name: "stt.transcribe", Tier: "accurate"},
		}},
		"pi": {ID: "pi", Capabilities: []Capability{
			{Name: "stt.transcribe", Tier: "balanced"},
			{Name: "audio.diarize", Tier: "exec"},
		}},
	}}

	diarizers := r.Query(WithCapabilityFilter("audio.diarize"))
	if len(diarizers) != 1 || diarizers[0].ID != "pi" {
		t.Fatalf("unexpected diarizer query result %+v", diarizers)
	}

	accurate := r.Query(WithTierFilter("accurate"))
	if len(accurate) != 1 || accurate[0].ID != "desk" {
		t.Fatalf("unexpected tier query result %+v", accurate)
	}

	all := r.Query(nil)
	if len(all) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(all))
	}
}
