package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
app:
  name: click-to-call-bridge
  env: development
call_bridge:
  http_step_timeout: 3s
  rendezvous_deadline: 20s
kafka:
  brokers: ["localhost:9092"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.CallBridge.HTTPStepTimeout != 3*time.Second {
		t.Fatalf("expected step timeout from file, got %v", cfg.CallBridge.HTTPStepTimeout)
	}
	if cfg.CallBridge.PrefixLength != 1 {
		t.Fatalf("expected default prefix length 1, got %d", cfg.CallBridge.PrefixLength)
	}
	if cfg.CallBridge.MarkerHeader != "Diversion" {
		t.Fatalf("unexpected marker header %q", cfg.CallBridge.MarkerHeader)
	}
	if cfg.Throttle.PerOwner != 1 {
		t.Fatalf("expected one attempt per owner, got %d", cfg.Throttle.PerOwner)
	}
	if cfg.Kafka.OutcomeTopic != "bridge.outcomes" {
		t.Fatalf("unexpected outcome topic %q", cfg.Kafka.OutcomeTopic)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BRIDGE_CALL_BRIDGE_RENDEZVOUS_DEADLINE", "45s")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CallBridge.RendezvousDeadline != 45*time.Second {
		t.Fatalf("expected env override, got %v", cfg.CallBridge.RendezvousDeadline)
	}
}

func TestApplyDefaultsOnEmptyConfig(t *testing.T) {
	cfg := new(Config)
	ApplyDefaults(cfg)

	if cfg.CallBridge.HTTPStepTimeout != 5*time.Second {
		t.Fatalf("expected 5s step timeout, got %v", cfg.CallBridge.HTTPStepTimeout)
	}
	if cfg.CallBridge.RendezvousDeadline != 30*time.Second {
		t.Fatalf("expected 30s deadline, got %v", cfg.CallBridge.RendezvousDeadline)
	}
	if cfg.SIP.Network != "udp" {
		t.Fatalf("unexpected sip network %q", cfg.SIP.Network)
	}
	if cfg.Reaper.Interval != time.Minute || cfg.Reaper.Grace != 2*time.Minute || cfg.Reaper.BatchSize != 100 {
		t.Fatalf("unexpected reaper defaults %+v", cfg.Reaper)
	}
}
