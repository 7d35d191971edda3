package entity

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TrainingJob is the durable archive row for one submitted job. It is written
// at submission and on terminal transitions, and outlives the result-backend
// snapshot (which expires).
type TrainingJob struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	State       string         `json:"state" binding:"required,oneof=queued started in_progress succeeded failed revoked" gorm:"not null;index"`
	BaseModel   string         `json:"base_model" gorm:"not null"`
	Dataset     string         `json:"dataset" gorm:"not null"`
	OutputDir   string         `json:"output_dir"`
	Config      datatypes.JSON `json:"config"`
	Result      datatypes.JSON `json:"result,omitempty"`
	Message     string         `json:"message" gorm:"type:text"`
	SubmittedBy string         `json:"submitted_by" gorm:"index"`
	SubmittedAt string         `json:"submitted_at"`
	FinishedAt  string         `json:"finished_at"`
}
