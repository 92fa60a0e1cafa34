package modules

import (
	"reflect"
	"testing"
)

func TestConfigData_HasData(t *testing.T) {
	cfg := NewConfigData("demofam")
	if cfg.HasData() {
		t.Error("fresh config should report no data")
	}

	cfg.AddMaliciousNetloc("evil.example.com")
	if !cfg.HasData() {
		t.Error("config with a netloc should report data")
	}
}

func TestConfigData_AddC2(t *testing.T) {
	cfg := NewConfigData("demofam")
	cfg.AddC2("http://gate.example.com/panel")
	cfg.AddC2("http://gate.example.com/panel")

	data := cfg.Data()
	if data["type"] != "demofam" {
		t.Errorf("type = %v", data["type"])
	}

	c2s, _ := data["c2"].([]any)
	if len(c2s) != 1 {
		t.Fatalf("c2 = %v, want a single deduplicated entry", c2s)
	}

	urls, _ := data["malicious_url"].([]any)
	if len(urls) != 1 || urls[0] != "http://gate.example.com/panel" {
		t.Errorf("malicious_url = %v", urls)
	}
}

func TestConfigData_Actions(t *testing.T) {
	cfg := NewConfigData("demofam")
	cfg.AddScreenshotAction("*/bank/*")
	cfg.AddRedirectAction("*/login*", "http://phish.example.com")
	cfg.AddVNCAction("*", []string{"vnc1.example.com"})
	cfg.AddDataSteal("*/form*", "http://sink.example.com/post")

	actions, _ := cfg.Data()["actions"].([]any)
	if len(actions) != 4 {
		t.Fatalf("got %d actions, want 4", len(actions))
	}

	redirect, _ := actions[1].(map[string]any)
	want := map[string]any{"type": "redirect", "url_pattern": "*/login*", "to": "http://phish.example.com"}
	if !reflect.DeepEqual(redirect, want) {
		t.Errorf("redirect = %v, want %v", redirect, want)
	}

	// steal_data also marks the sink URL malicious
	urls, _ := cfg.Data()["malicious_url"].([]any)
	if len(urls) != 1 || urls[0] != "http://sink.example.com/post" {
		t.Errorf("malicious_url = %v", urls)
	}
}

func TestConfigData_AddInject(t *testing.T) {
	cfg := NewConfigData("demofam")
	cfg.AddInject("*/account*", "<body>", "<script>grab()</script>", "")
	cfg.AddInject("*/wire*", "<form>", "<input>", "</form>")

	injects, _ := cfg.Data()["injects"].([]any)
	if len(injects) != 2 {
		t.Fatalf("got %d injects, want 2", len(injects))
	}

	first, _ := injects[0].(map[string]any)
	if _, hasAfter := first["data_after"]; hasAfter {
		t.Error("empty data_after should be omitted")
	}
	second, _ := injects[1].(map[string]any)
	if second["data_after"] != "</form>" {
		t.Errorf("data_after = %v", second["data_after"])
	}
}

func TestConfigData_AddDynamicInject(t *testing.T) {
	cfg := NewConfigData("demofam")
	cfg.AddDynamicInject("*/bank/*", "http://inject.example.com/i.js")
	cfg.AddDynamicInject("*/bank/*", "http://inject.example.com/i.js")

	injects, _ := cfg.Data()["dynamic_injects"].([]any)
	if len(injects) != 1 {
		t.Fatalf("dynamic_injects = %v, want one entry", injects)
	}
	urls, _ := cfg.Data()["malicious_url"].([]any)
	if len(urls) != 1 {
		t.Errorf("malicious_url = %v", urls)
	}
}

func TestConfigData_ValidateAndAddAction(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]any
		wantErr bool
	}{
		{
			name:    "valid redirect",
			raw:     map[string]any{"type": "redirect", "url_pattern": "*/x*", "to": "http://y"},
			wantErr: false,
		},
		{
			name:    "valid hide",
			raw:     map[string]any{"type": "hide", "url_pattern": "*/x*"},
			wantErr: false,
		},
		{
			name:    "unknown type",
			raw:     map[string]any{"type": "teleport", "url_pattern": "*"},
			wantErr: true,
		},
		{
			name:    "missing keys",
			raw:     map[string]any{"type": "redirect", "url_pattern": "*"},
			wantErr: true,
		},
		{
			name:    "extra keys",
			raw:     map[string]any{"type": "hide", "url_pattern": "*", "bonus": 1},
			wantErr: true,
		},
		{
			name:    "no url_pattern",
			raw:     map[string]any{"type": "hide"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfigData("demofam")
			err := cfg.ValidateAndAddAction(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				if actions, _ := cfg.Data()["actions"].([]any); len(actions) != 1 {
					t.Errorf("actions = %v", actions)
				}
			}
		})
	}
}
