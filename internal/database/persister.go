package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
	"github.com/MarcoPoloResearchLab/collabstore/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	stateRecordID   = "current"
	insertBatchSize = 200
)

var errMissingDatabase = errors.New("database: handle is required")

type stateRecord struct {
	ID             string `gorm:"column:id;primaryKey;size:32;not null"`
	Commits        int64  `gorm:"column:commits;not null;default:0"`
	SavedAtSeconds int64  `gorm:"column:saved_at_s;not null"`
}

func (stateRecord) TableName() string {
	return "store_state"
}

// StatePersister mirrors store state into one table per collection.
// Every Save rewrites all five tables inside a single transaction.
type StatePersister struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewStatePersister wraps an opened and migrated database handle.
func NewStatePersister(db *gorm.DB, clock func() time.Time) (*StatePersister, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &StatePersister{db: db, clock: clock}, nil
}

func (p *StatePersister) Load(ctx context.Context) (*store.State, bool, error) {
	tx := p.db.WithContext(ctx)

	var record stateRecord
	err := tx.Where("id = ?", stateRecordID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("database: load state record: %w", err)
	}

	state := store.NewState()
	if err := tx.Order("rowid").Find(&state.Users).Error; err != nil {
		return nil, false, fmt.Errorf("database: load users: %w", err)
	}
	if err := tx.Order("rowid").Find(&state.Documents).Error; err != nil {
		return nil, false, fmt.Errorf("database: load documents: %w", err)
	}
	if err := tx.Order("rowid").Find(&state.Annotations).Error; err != nil {
		return nil, false, fmt.Errorf("database: load annotations: %w", err)
	}
	if err := tx.Order("rowid").Find(&state.DocumentMembers).Error; err != nil {
		return nil, false, fmt.Errorf("database: load document members: %w", err)
	}
	if err := tx.Order("rowid").Find(&state.AnnotationMembers).Error; err != nil {
		return nil, false, fmt.Errorf("database: load annotation members: %w", err)
	}
	return state.Clone(), true, nil
}

func (p *StatePersister) Save(ctx context.Context, state *store.State) error {
	if state == nil {
		return store.ErrNilState
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := replaceRows(tx, &model.User{}, state.Users); err != nil {
			return fmt.Errorf("database: save users: %w", err)
		}
		if err := replaceRows(tx, &model.Document{}, state.Documents); err != nil {
			return fmt.Errorf("database: save documents: %w", err)
		}
		if err := replaceRows(tx, &model.Annotation{}, state.Annotations); err != nil {
			return fmt.Errorf("database: save annotations: %w", err)
		}
		if err := replaceRows(tx, &model.DocumentMember{}, state.DocumentMembers); err != nil {
			return fmt.Errorf("database: save document members: %w", err)
		}
		if err := replaceRows(tx, &model.AnnotationMember{}, state.AnnotationMembers); err != nil {
			return fmt.Errorf("database: save annotation members: %w", err)
		}

		record := stateRecord{ID: stateRecordID, Commits: 1, SavedAtSeconds: p.clock().UTC().Unix()}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"commits":    gorm.Expr("commits + 1"),
				"saved_at_s": record.SavedAtSeconds,
			}),
		}).Create(&record).Error
	})
}

// Commits reports how many saves have reached the database.
func (p *StatePersister) Commits(ctx context.Context) (int64, error) {
	var record stateRecord
	err := p.db.WithContext(ctx).Where("id = ?", stateRecordID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return record.Commits, err
}

func replaceRows[T any](tx *gorm.DB, table *T, rows []T) error {
	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(table).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(&rows, insertBatchSize).Error
}
