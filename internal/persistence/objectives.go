package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type ObjectiveStatus string

const (
	ObjectiveNotStarted ObjectiveStatus = "not_started"
	ObjectiveInProgress ObjectiveStatus = "in_progress"
	ObjectiveCompleted  ObjectiveStatus = "completed"
)

// Objective is a client goal with its tasks nested, oldest task first.
type Objective struct {
	ID          int64           `json:"id"`
	ClientID    string          `json:"-"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      ObjectiveStatus `json:"status"`
	CreatedAt   time.Time       `json:"-"`
	Tasks       []Task          `json:"tasks"`
}

type Task struct {
	ID          int64     `json:"id"`
	ObjectiveID int64     `json:"-"`
	Title       string    `json:"title"`
	Weight      int       `json:"weight"`
	IsCompleted bool      `json:"is_completed"`
	CreatedAt   time.Time `json:"-"`
}

// AddObjective inserts a not_started objective and returns its id.
func (s *Store) AddObjective(ctx context.Context, clientID, title, description string) (int64, error) {
	if title == "" {
		return 0, errors.New("title is required")
	}
	id, err := s.insertReturningID(ctx, `
		INSERT INTO client_objectives (client_id, title, description, status, created_at)
		VALUES (?, ?, ?, ?, ?)`, clientID, title, description, ObjectiveNotStarted, now())
	if err != nil {
		return 0, fmt.Errorf("insert objective: %w", err)
	}
	return id, nil
}

// AddTask inserts a task under an objective owned by clientID. When the
// objective is missing or belongs to someone else nothing is written and
// added is false.
func (s *Store) AddTask(ctx context.Context, clientID string, objectiveID int64, title string, weight int) (id int64, added bool, err error) {
	if title == "" {
		return 0, false, errors.New("title is required")
	}
	if weight <= 0 {
		weight = 1
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		id, added = 0, false
		var owned int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM client_objectives WHERE id = ? AND client_id = ?;`),
			objectiveID, clientID).Scan(&owned)
		if err != nil {
			return fmt.Errorf("check objective owner: %w", err)
		}
		if owned == 0 {
			return nil
		}
		if err := tx.QueryRowContext(ctx, s.rebind(`
			INSERT INTO client_tasks (objective_id, title, weight, is_completed, created_at)
			VALUES (?, ?, ?, ?, ?) RETURNING id;
		`), objectiveID, title, weight, false, now()).Scan(&id); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		added = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return id, added, nil
}

// ListObjectives returns the client's objectives newest first, each with
// its tasks oldest first.
func (s *Store) ListObjectives(ctx context.Context, clientID string) ([]Objective, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, client_id, title, description, status, created_at
		FROM client_objectives
		WHERE client_id = ?
		ORDER BY created_at DESC, id DESC;
	`), clientID)
	if err != nil {
		return nil, fmt.Errorf("query objectives: %w", err)
	}
	defer rows.Close()

	out := []Objective{}
	index := map[int64]int{}
	for rows.Next() {
		var o Objective
		if err := rows.Scan(&o.ID, &o.ClientID, &o.Title, &o.Description, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan objective: %w", err)
		}
		o.Tasks = []Task{}
		index[o.ID] = len(out)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("objective rows: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	taskRows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT t.id, t.objective_id, t.title, t.weight, t.is_completed, t.created_at
		FROM client_tasks t
		JOIN client_objectives o ON o.id = t.objective_id
		WHERE o.client_id = ?
		ORDER BY t.created_at ASC, t.id ASC;
	`), clientID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer taskRows.Close()
	for taskRows.Next() {
		var t Task
		if err := taskRows.Scan(&t.ID, &t.ObjectiveID, &t.Title, &t.Weight, &t.IsCompleted, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if i, ok := index[t.ObjectiveID]; ok {
			out[i].Tasks = append(out[i].Tasks, t)
		}
	}
	if err := taskRows.Err(); err != nil {
		return nil, fmt.Errorf("task rows: %w", err)
	}
	return out, nil
}

// RemoveObjective deletes an owned objective and, by cascade, its tasks.
// A foreign or missing id deletes nothing and is not an error.
func (s *Store) RemoveObjective(ctx context.Context, clientID string, objectiveID int64) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM client_objectives WHERE id = ? AND client_id = ?;`, objectiveID, clientID)
	if err != nil {
		return false, fmt.Errorf("delete objective: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveTask deletes a task whose objective is owned by clientID.
func (s *Store) RemoveTask(ctx context.Context, clientID string, taskID int64) (bool, error) {
	res, err := s.exec(ctx, `
		DELETE FROM client_tasks
		WHERE id = ?
		  AND objective_id IN (SELECT id FROM client_objectives WHERE client_id = ?);
	`, taskID, clientID)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompleteTask marks an owned, open task done, credits its weight as XP,
// bumps the completed-task counter and moves a not_started objective to
// in_progress. It reports false when the task is missing, foreign or
// already completed; in that case nothing changes.
func (s *Store) CompleteTask(ctx context.Context, clientID string, taskID int64) (bool, error) {
	var done bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		done = false
		var (
			weight      int
			isCompleted bool
			objectiveID int64
		)
		err := tx.QueryRowContext(ctx, s.rebind(`
			SELECT t.weight, t.is_completed, o.id
			FROM client_tasks t
			JOIN client_objectives o ON o.id = t.objective_id
			WHERE t.id = ? AND o.client_id = ?;
		`), taskID, clientID).Scan(&weight, &isCompleted, &objectiveID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup task: %w", err)
		}
		if isCompleted {
			return nil
		}
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE client_tasks SET is_completed = ? WHERE id = ? AND is_completed = ?;`),
			true, taskID, false)
		if err != nil {
			return fmt.Errorf("mark task completed: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE clients
			SET xp_score = xp_score + ?, tasks_completed_count = tasks_completed_count + 1
			WHERE client_id = ?;
		`), weight, clientID); err != nil {
			return fmt.Errorf("credit xp: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE client_objectives SET status = ? WHERE id = ? AND status = ?;`),
			ObjectiveInProgress, objectiveID, ObjectiveNotStarted); err != nil {
			return fmt.Errorf("advance objective: %w", err)
		}
		done = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return done, nil
}

// CompleteObjective marks an owned objective completed and bumps the
// completed-objective counter once. A second call reports false.
func (s *Store) CompleteObjective(ctx context.Context, clientID string, objectiveID int64) (bool, error) {
	var done bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		done = false
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE client_objectives SET status = ?
			WHERE id = ? AND client_id = ? AND status <> ?;
		`), ObjectiveCompleted, objectiveID, clientID, ObjectiveCompleted)
		if err != nil {
			return fmt.Errorf("mark objective completed: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE clients SET objectives_completed_count = objectives_completed_count + 1
			WHERE client_id = ?;
		`), clientID); err != nil {
			return fmt.Errorf("count objective: %w", err)
		}
		done = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return done, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
