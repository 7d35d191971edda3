package formatter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tnqbao/gau-finetune-orchestrator/entity"
)

const alpacaPrompt = `Below is an instruction that describes a task, paired with an input that provides further context. Write a response that appropriately completes the request.

### Instruction:
%s

### Input:
%s

### Response:
%s`

const alpacaPromptNoInput = `Below is an instruction that describes a task. Write a response that appropriately completes the request.

### Instruction:
%s

### Response:
%s`

// maxLineBytes caps a single dataset row. Rows beyond this fail the scan.
const maxLineBytes = 1 << 20

// Record is one raw training example as uploaded
type Record struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}

// FormatAlpaca renders one example as an Alpaca instruction prompt. The input
// section is omitted when the input is empty or whitespace.
func FormatAlpaca(instruction, input, output string) string {
	if strings.TrimSpace(input) != "" {
		return fmt.Sprintf(alpacaPrompt, instruction, input, output)
	}
	return fmt.Sprintf(alpacaPromptNoInput, instruction, output)
}

// FormatChatML renders one example as a ChatML conversation
func FormatChatML(instruction, output, systemPrompt string) string {
	var messages []string

	if systemPrompt != "" {
		messages = append(messages, "<|im_start|>system\n"+systemPrompt+"<|im_end|>")
	}

	messages = append(messages, "<|im_start|>user\n"+instruction+"<|im_end|>")
	messages = append(messages, "<|im_start|>assistant\n"+output+"<|im_end|>")

	return strings.Join(messages, "\n")
}

// RenderDataset reads raw JSONL examples and writes formatted prompts, one
// JSON object per line keyed by the configured text field. Records missing an
// instruction or an output are skipped. Returns the number of records written.
func RenderDataset(r io.Reader, w io.Writer, cfg entity.TrainingConfig) (int, error) {
	if cfg.PromptFormat != entity.PromptFormatAlpaca && cfg.PromptFormat != entity.PromptFormatChatML {
		return 0, fmt.Errorf("unknown prompt format %q", cfg.PromptFormat)
	}

	textField := cfg.DatasetTextField
	if textField == "" {
		textField = "text"
	}

	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	count := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var record Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return count, fmt.Errorf("invalid record on line %d: %w", line, err)
		}

		if record.Instruction == "" || record.Output == "" {
			continue
		}

		var text string
		switch cfg.PromptFormat {
		case entity.PromptFormatAlpaca:
			text = FormatAlpaca(record.Instruction, record.Input, record.Output)
		case entity.PromptFormatChatML:
			text = FormatChatML(record.Instruction, record.Output, cfg.SystemPrompt)
		}

		if err := encoder.Encode(map[string]string{textField: text}); err != nil {
			return count, fmt.Errorf("failed to write record on line %d: %w", line, err)
		}
		count++
	}

	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("failed to read dataset: %w", err)
	}

	return count, nil
}

// ValidateDataset scans raw JSONL and returns how many trainable records it
// holds. A malformed line fails the whole dataset.
func ValidateDataset(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	count := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var record Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return count, fmt.Errorf("invalid record on line %d: %w", line, err)
		}

		if record.Instruction == "" || record.Output == "" {
			continue
		}
		count++
	}

	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("failed to read dataset: %w", err)
	}

	return count, nil
}
