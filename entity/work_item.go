package entity

// WorkItem is the message carried by the task broker. It is fully
// self-contained: the config snapshot is resolved at submission time and no
// external reference is looked up again after enqueue.
type WorkItem struct {
	JobID       string         `json:"job_id"`
	Dataset     string         `json:"dataset"`    // artifact handle of the input dataset
	OutputDir   string         `json:"output_dir"` // artifact namespace for produced artifacts
	Config      TrainingConfig `json:"config"`
	SubmittedBy string         `json:"submitted_by,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}
