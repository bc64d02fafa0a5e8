package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core/academic"
)

// Archive persists academic events in the academic_event table and reads
// them back per student for the reporting API.
type Archive struct {
	db *sqlx.DB
}

var _ academic.Archive = (*Archive)(nil)

func NewArchive(db *sql.DB) *Archive {
	return &Archive{db: sqlx.NewDb(db, "postgres")}
}

func (ar *Archive) RecordEvent(ctx context.Context, evt academic.Event) error {
	_, err := ar.db.NamedExecContext(ctx, `
INSERT INTO academic_event (kind, actor_id, student_id, section_id, term_id, score, points, at)
VALUES (:kind, :actor_id, :student_id, :section_id, :term_id, :score, :points, :at)`, evt)
	return errors.Wrap(err, "recording academic event")
}

// EventsForStudent returns a student's archived events, oldest first.
func (ar *Archive) EventsForStudent(ctx context.Context, studentID string) ([]academic.Event, error) {
	var events []academic.Event
	err := ar.db.SelectContext(ctx, &events, `
SELECT kind, actor_id, student_id, section_id, term_id, score, points, at
FROM academic_event
WHERE student_id = $1
ORDER BY at, id`, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying academic events")
	}
	return events, nil
}
