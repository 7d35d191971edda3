package repository

import (
	"github.com/google/uuid"
	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobArchive is the durable archive contract. JobRepository backs it with
// Postgres; tests use an in-memory fake.
type JobArchive interface {
	Create(job *entity.TrainingJob) error
	FindByID(id uuid.UUID) (*entity.TrainingJob, error)
	List(submittedBy string, limit, offset int) ([]entity.TrainingJob, int64, error)
	MarkTerminal(id uuid.UUID, state string, result datatypes.JSON, message, finishedAt string) error
	FindFinishedBefore(cutoff string, limit int) ([]entity.TrainingJob, error)
	Delete(id uuid.UUID) error
}

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create records a submission. A job id resubmitted after its previous
// attempt finished overwrites the old row, clearing any stale result.
func (r *JobRepository) Create(job *entity.TrainingJob) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(job).Error
}

func (r *JobRepository) FindByID(id uuid.UUID) (*entity.TrainingJob, error) {
	var job entity.TrainingJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns jobs newest first, optionally filtered by submitter
func (r *JobRepository) List(submittedBy string, limit, offset int) ([]entity.TrainingJob, int64, error) {
	query := r.db.Model(&entity.TrainingJob{})
	if submittedBy != "" {
		query = query.Where("submitted_by = ?", submittedBy)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var jobs []entity.TrainingJob
	err := query.Order("submitted_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error
	if err != nil {
		return nil, 0, err
	}

	return jobs, total, nil
}

// MarkTerminal records the final state of a job in the archive
func (r *JobRepository) MarkTerminal(id uuid.UUID, state string, result datatypes.JSON, message, finishedAt string) error {
	updates := map[string]interface{}{
		"state":       state,
		"message":     message,
		"finished_at": finishedAt,
	}
	if result != nil {
		updates["result"] = result
	}
	return r.db.Model(&entity.TrainingJob{}).Where("id = ?", id).Updates(updates).Error
}

// FindFinishedBefore returns terminal jobs whose finished_at is older than the
// cutoff, for the retention sweep
func (r *JobRepository) FindFinishedBefore(cutoff string, limit int) ([]entity.TrainingJob, error) {
	var jobs []entity.TrainingJob
	err := r.db.
		Where("state IN ?", []string{
			string(entity.JobStateSucceeded),
			string(entity.JobStateFailed),
			string(entity.JobStateRevoked),
		}).
		Where("finished_at != '' AND finished_at < ?", cutoff).
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *JobRepository) Delete(id uuid.UUID) error {
	return r.db.Where("id = ?", id).Delete(&entity.TrainingJob{}).Error
}
