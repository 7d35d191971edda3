package entity

import "testing"

func TestDefaultTrainingConfig(t *testing.T) {
	cfg := DefaultTrainingConfig()

	if cfg.BaseModel != "unsloth/llama-3-8b-bnb-4bit" {
		t.Errorf("BaseModel = %q", cfg.BaseModel)
	}
	if cfg.MaxSteps != 60 {
		t.Errorf("MaxSteps = %d, want 60", cfg.MaxSteps)
	}
	if cfg.BatchSize != 2 {
		t.Errorf("BatchSize = %d, want 2", cfg.BatchSize)
	}
	if cfg.LoraR != 16 || cfg.LoraAlpha != 16 {
		t.Errorf("LoraR/LoraAlpha = %d/%d, want 16/16", cfg.LoraR, cfg.LoraAlpha)
	}
	if len(cfg.TargetModules) != 7 {
		t.Errorf("TargetModules has %d entries, want 7", len(cfg.TargetModules))
	}
	if cfg.PromptFormat != PromptFormatAlpaca {
		t.Errorf("PromptFormat = %q, want %q", cfg.PromptFormat, PromptFormatAlpaca)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestTrainingConfigApply(t *testing.T) {
	model := "mistralai/Mistral-7B-v0.1"
	steps := 200
	format := PromptFormatChatML
	system := "You are a support agent."

	cfg := DefaultTrainingConfig()
	cfg.Apply(&TrainingConfigOverride{
		BaseModel:    &model,
		MaxSteps:     &steps,
		PromptFormat: &format,
		SystemPrompt: &system,
	})

	if cfg.BaseModel != model {
		t.Errorf("BaseModel = %q, want %q", cfg.BaseModel, model)
	}
	if cfg.MaxSteps != steps {
		t.Errorf("MaxSteps = %d, want %d", cfg.MaxSteps, steps)
	}
	if cfg.PromptFormat != format {
		t.Errorf("PromptFormat = %q, want %q", cfg.PromptFormat, format)
	}
	if cfg.SystemPrompt != system {
		t.Errorf("SystemPrompt = %q, want %q", cfg.SystemPrompt, system)
	}

	// Untouched fields keep their defaults.
	if cfg.BatchSize != 2 {
		t.Errorf("BatchSize = %d, want 2", cfg.BatchSize)
	}
	if cfg.LearningRate != 2e-4 {
		t.Errorf("LearningRate = %v, want 2e-4", cfg.LearningRate)
	}
}

func TestTrainingConfigApplyNil(t *testing.T) {
	cfg := DefaultTrainingConfig()
	want := cfg
	cfg.Apply(nil)
	if cfg.BaseModel != want.BaseModel || cfg.MaxSteps != want.MaxSteps {
		t.Error("Apply(nil) modified the config")
	}
}

func TestTrainingConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TrainingConfig)
	}{
		{"empty base model", func(c *TrainingConfig) { c.BaseModel = "" }},
		{"zero max steps", func(c *TrainingConfig) { c.MaxSteps = 0 }},
		{"negative max steps", func(c *TrainingConfig) { c.MaxSteps = -5 }},
		{"zero batch size", func(c *TrainingConfig) { c.BatchSize = 0 }},
		{"zero max seq length", func(c *TrainingConfig) { c.MaxSeqLength = 0 }},
		{"unknown prompt format", func(c *TrainingConfig) { c.PromptFormat = "llama" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTrainingConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
