package rewrite

import (
	"bytes"
	"strings"
	"testing"
	"testing/quick"

	"github.com/tidwall/gjson"

	"github.com/tjfontaine/model-switch-gateway/internal/profile"
)

func glmProvider() profile.Provider {
	return profile.Provider{
		BaseURL: "https://open.z.ai/api/paas/v4",
		APIKey:  "sk-test",
		Models: &profile.ModelMapping{
			Haiku:  "glm-4.5-air",
			Sonnet: "glm-4.7",
			Opus:   "glm-4.7-max",
		},
	}
}

func passthroughProvider() profile.Provider {
	return profile.Provider{BaseURL: "https://api.anthropic.com"}
}

func TestModel(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		provider profile.Provider
		want     string
	}{
		{"sonnet", "claude-sonnet-4-20250514", glmProvider(), "glm-4.7"},
		{"haiku", "claude-haiku-3-20250101", glmProvider(), "glm-4.5-air"},
		{"opus", "claude-opus-4-20250514", glmProvider(), "glm-4.7-max"},
		{"case insensitive", "Claude-OPUS-4", glmProvider(), "glm-4.7-max"},
		{"passthrough provider", "claude-sonnet-4-20250514", passthroughProvider(), "claude-sonnet-4-20250514"},
		{"unknown model", "some-random-model", glmProvider(), "some-random-model"},
		{"empty model", "", glmProvider(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Model(tt.model, tt.provider); got != tt.want {
				t.Errorf("Model(%q) = %q, want %q", tt.model, got, tt.want)
			}
		})
	}
}

func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		model string
		want  Tier
	}{
		{"opus-sonnet-haiku", TierLow},
		{"opus-then-sonnet", TierMid},
		{"claude-opus", TierHigh},
		{"gpt-4o", TierNone},
		{"HAIKU", TierLow},
	}
	for _, tt := range tests {
		if got := Classify(tt.model); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestTierString(t *testing.T) {
	if TierLow.String() != "haiku" || TierMid.String() != "sonnet" || TierHigh.String() != "opus" || TierNone.String() != "none" {
		t.Error("unexpected tier names")
	}
}

func TestModel_Properties(t *testing.T) {
	glm := glmProvider()
	cfg := &quick.Config{MaxCount: 500}

	lowWins := func(prefix, suffix string) bool {
		return Model(prefix+"HaIkU"+suffix, glm) == glm.Models.Haiku
	}
	if err := quick.Check(lowWins, cfg); err != nil {
		t.Errorf("low tier property: %v", err)
	}

	midWins := func(prefix, suffix string) bool {
		m := prefix + "Sonnet" + suffix
		if Classify(m) == TierLow {
			return true
		}
		return Model(m, glm) == glm.Models.Sonnet
	}
	if err := quick.Check(midWins, cfg); err != nil {
		t.Errorf("mid tier property: %v", err)
	}

	passthrough := func(model string) bool {
		return Model(model, passthroughProvider()) == model
	}
	if err := quick.Check(passthrough, cfg); err != nil {
		t.Errorf("passthrough property: %v", err)
	}

	unmatched := func(model string) bool {
		lower := strings.ToLower(model)
		if strings.Contains(lower, "haiku") || strings.Contains(lower, "sonnet") || strings.Contains(lower, "opus") {
			return true
		}
		return Model(model, glm) == model
	}
	if err := quick.Check(unmatched, cfg); err != nil {
		t.Errorf("unmatched property: %v", err)
	}
}

func TestBody(t *testing.T) {
	t.Run("rewrites string model and keeps other bytes", func(t *testing.T) {
		in := []byte(`{"model":"claude-sonnet-4-20250514", "max_tokens": 10,"messages":[]}`)
		res, err := Body(in, glmProvider())
		if err != nil {
			t.Fatalf("Body() error = %v", err)
		}
		if !res.Rewritten {
			t.Fatal("expected rewrite")
		}
		want := `{"model":"glm-4.7", "max_tokens": 10,"messages":[]}`
		if string(res.Body) != want {
			t.Errorf("body = %s, want %s", res.Body, want)
		}
		if res.FromModel != "claude-sonnet-4-20250514" || res.ToModel != "glm-4.7" {
			t.Errorf("from/to = %q/%q", res.FromModel, res.ToModel)
		}
	})

	unchanged := []struct {
		name string
		body string
	}{
		{"empty", ``},
		{"not json", `model=claude-sonnet`},
		{"json array", `[{"model":"claude-sonnet"}]`},
		{"json string", `"claude-sonnet"`},
		{"numeric model", `{"model":42}`},
		{"missing model", `{"messages":[]}`},
		{"nested model only", `{"meta":{"model":"claude-sonnet"}}`},
		{"unmatched model", `{"model":"gpt-4o"}`},
	}
	for _, tt := range unchanged {
		t.Run(tt.name, func(t *testing.T) {
			in := []byte(tt.body)
			res, err := Body(in, glmProvider())
			if err != nil {
				t.Fatalf("Body() error = %v", err)
			}
			if res.Rewritten {
				t.Error("unexpected rewrite")
			}
			if !bytes.Equal(res.Body, in) {
				t.Errorf("body changed: %s", res.Body)
			}
		})
	}

	t.Run("passthrough provider", func(t *testing.T) {
		in := []byte(`{"model":"claude-opus-4"}`)
		res, err := Body(in, passthroughProvider())
		if err != nil {
			t.Fatalf("Body() error = %v", err)
		}
		if res.Rewritten || !bytes.Equal(res.Body, in) {
			t.Errorf("passthrough body changed: %s", res.Body)
		}
	})

	t.Run("escaped mapping target", func(t *testing.T) {
		p := glmProvider()
		p.Models.Opus = `quote"model`
		res, err := Body([]byte(`{"model":"claude-opus-4"}`), p)
		if err != nil {
			t.Fatalf("Body() error = %v", err)
		}
		if got := gjson.GetBytes(res.Body, "model").String(); got != `quote"model` {
			t.Errorf("model = %q", got)
		}
	})
}
