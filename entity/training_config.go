package entity

import "fmt"

const (
	PromptFormatAlpaca = "alpaca"
	PromptFormatChatML = "chatml"
)

// TrainingConfig is the fully-resolved hyperparameter snapshot a work item
// carries. Field set and defaults follow the platform's LoRA fine-tuning
// setup.
type TrainingConfig struct {
	BaseModel                 string   `json:"base_model" yaml:"base_model"`
	MaxSeqLength              int      `json:"max_seq_length" yaml:"max_seq_length"`
	LoadIn4Bit                bool     `json:"load_in_4bit" yaml:"load_in_4bit"`
	LoraR                     int      `json:"lora_r" yaml:"lora_r"`
	LoraAlpha                 int      `json:"lora_alpha" yaml:"lora_alpha"`
	LoraDropout               float64  `json:"lora_dropout" yaml:"lora_dropout"`
	TargetModules             []string `json:"target_modules" yaml:"target_modules"`
	BatchSize                 int      `json:"batch_size" yaml:"batch_size"`
	GradientAccumulationSteps int      `json:"gradient_accumulation_steps" yaml:"gradient_accumulation_steps"`
	WarmupSteps               int      `json:"warmup_steps" yaml:"warmup_steps"`
	MaxSteps                  int      `json:"max_steps" yaml:"max_steps"`
	LearningRate              float64  `json:"learning_rate" yaml:"learning_rate"`
	Optim                     string   `json:"optim" yaml:"optim"`
	WeightDecay               float64  `json:"weight_decay" yaml:"weight_decay"`
	LRSchedulerType           string   `json:"lr_scheduler_type" yaml:"lr_scheduler_type"`
	LoggingSteps              int      `json:"logging_steps" yaml:"logging_steps"`
	SaveSteps                 int      `json:"save_steps" yaml:"save_steps"`
	DatasetTextField          string   `json:"dataset_text_field" yaml:"dataset_text_field"`
	Packing                   bool     `json:"packing" yaml:"packing"`
	PromptFormat              string   `json:"prompt_format" yaml:"prompt_format"`
	SystemPrompt              string   `json:"system_prompt,omitempty" yaml:"system_prompt"`
}

// TrainingConfigOverride is a partial config: nil fields keep the value they
// are applied over. Used for per-request overrides and YAML profiles.
type TrainingConfigOverride struct {
	BaseModel                 *string   `json:"base_model,omitempty" yaml:"base_model"`
	MaxSeqLength              *int      `json:"max_seq_length,omitempty" yaml:"max_seq_length"`
	LoadIn4Bit                *bool     `json:"load_in_4bit,omitempty" yaml:"load_in_4bit"`
	LoraR                     *int      `json:"lora_r,omitempty" yaml:"lora_r"`
	LoraAlpha                 *int      `json:"lora_alpha,omitempty" yaml:"lora_alpha"`
	LoraDropout               *float64  `json:"lora_dropout,omitempty" yaml:"lora_dropout"`
	TargetModules             *[]string `json:"target_modules,omitempty" yaml:"target_modules"`
	BatchSize                 *int      `json:"batch_size,omitempty" yaml:"batch_size"`
	GradientAccumulationSteps *int      `json:"gradient_accumulation_steps,omitempty" yaml:"gradient_accumulation_steps"`
	WarmupSteps               *int      `json:"warmup_steps,omitempty" yaml:"warmup_steps"`
	MaxSteps                  *int      `json:"max_steps,omitempty" yaml:"max_steps"`
	LearningRate              *float64  `json:"learning_rate,omitempty" yaml:"learning_rate"`
	Optim                     *string   `json:"optim,omitempty" yaml:"optim"`
	WeightDecay               *float64  `json:"weight_decay,omitempty" yaml:"weight_decay"`
	LRSchedulerType           *string   `json:"lr_scheduler_type,omitempty" yaml:"lr_scheduler_type"`
	LoggingSteps              *int      `json:"logging_steps,omitempty" yaml:"logging_steps"`
	SaveSteps                 *int      `json:"save_steps,omitempty" yaml:"save_steps"`
	DatasetTextField          *string   `json:"dataset_text_field,omitempty" yaml:"dataset_text_field"`
	Packing                   *bool     `json:"packing,omitempty" yaml:"packing"`
	PromptFormat              *string   `json:"prompt_format,omitempty" yaml:"prompt_format"`
	SystemPrompt              *string   `json:"system_prompt,omitempty" yaml:"system_prompt"`
}

func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		BaseModel:    "unsloth/llama-3-8b-bnb-4bit",
		MaxSeqLength: 2048,
		LoadIn4Bit:   true,
		LoraR:        16,
		LoraAlpha:    16,
		LoraDropout:  0,
		TargetModules: []string{
			"q_proj", "k_proj", "v_proj", "o_proj",
			"gate_proj", "up_proj", "down_proj",
		},
		BatchSize:                 2,
		GradientAccumulationSteps: 4,
		WarmupSteps:               5,
		MaxSteps:                  60,
		LearningRate:              2e-4,
		Optim:                     "adamw_8bit",
		WeightDecay:               0.01,
		LRSchedulerType:           "linear",
		LoggingSteps:              1,
		SaveSteps:                 25,
		DatasetTextField:          "text",
		Packing:                   false,
		PromptFormat:              PromptFormatAlpaca,
	}
}

// Apply overlays the non-nil fields of the override onto the config.
func (c *TrainingConfig) Apply(o *TrainingConfigOverride) {
	if o == nil {
		return
	}
	if o.BaseModel != nil {
		c.BaseModel = *o.BaseModel
	}
	if o.MaxSeqLength != nil {
		c.MaxSeqLength = *o.MaxSeqLength
	}
	if o.LoadIn4Bit != nil {
		c.LoadIn4Bit = *o.LoadIn4Bit
	}
	if o.LoraR != nil {
		c.LoraR = *o.LoraR
	}
	if o.LoraAlpha != nil {
		c.LoraAlpha = *o.LoraAlpha
	}
	if o.LoraDropout != nil {
		c.LoraDropout = *o.LoraDropout
	}
	if o.TargetModules != nil {
		c.TargetModules = *o.TargetModules
	}
	if o.BatchSize != nil {
		c.BatchSize = *o.BatchSize
	}
	if o.GradientAccumulationSteps != nil {
		c.GradientAccumulationSteps = *o.GradientAccumulationSteps
	}
	if o.WarmupSteps != nil {
		c.WarmupSteps = *o.WarmupSteps
	}
	if o.MaxSteps != nil {
		c.MaxSteps = *o.MaxSteps
	}
	if o.LearningRate != nil {
		c.LearningRate = *o.LearningRate
	}
	if o.Optim != nil {
		c.Optim = *o.Optim
	}
	if o.WeightDecay != nil {
		c.WeightDecay = *o.WeightDecay
	}
	if o.LRSchedulerType != nil {
		c.LRSchedulerType = *o.LRSchedulerType
	}
	if o.LoggingSteps != nil {
		c.LoggingSteps = *o.LoggingSteps
	}
	if o.SaveSteps != nil {
		c.SaveSteps = *o.SaveSteps
	}
	if o.DatasetTextField != nil {
		c.DatasetTextField = *o.DatasetTextField
	}
	if o.Packing != nil {
		c.Packing = *o.Packing
	}
	if o.PromptFormat != nil {
		c.PromptFormat = *o.PromptFormat
	}
	if o.SystemPrompt != nil {
		c.SystemPrompt = *o.SystemPrompt
	}
}

func (c *TrainingConfig) Validate() error {
	if c.BaseModel == "" {
		return fmt.Errorf("base_model must not be empty")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", c.MaxSteps)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxSeqLength <= 0 {
		return fmt.Errorf("max_seq_length must be positive, got %d", c.MaxSeqLength)
	}
	if c.PromptFormat != PromptFormatAlpaca && c.PromptFormat != PromptFormatChatML {
		return fmt.Errorf("unknown prompt_format: %s", c.PromptFormat)
	}
	return nil
}
