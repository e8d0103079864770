package bunstore

import (
	"context"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-todo-pipeline/todo"
)

// Query implements store.Store.
func (s *Store) Query(ctx context.Context, q todo.Query) (todo.Page, error) {
	q = q.Normalize()

	rows, total, err := s.repo.List(ctx,
		filterBy(q.Filter),
		orderBy(q.SortBy, q.SortOrder),
		repository.SelectPaginate(q.Limit, q.Offset()),
	)
	if err != nil {
		return todo.Page{}, classify("bunstore query", "", err)
	}

	items := make([]todo.Todo, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toTodo())
	}
	return todo.Page{Items: items, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

func filterBy(f todo.Filter) repository.SelectCriteria {
	return repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
		return applyFilter(q, f)
	})
}

func applyFilter(q *bun.SelectQuery, f todo.Filter) *bun.SelectQuery {
	if f.Status != "" {
		q = q.Where("t.status = ?", string(f.Status))
	}
	if f.Priority != "" {
		q = q.Where("t.priority = ?", string(f.Priority))
	}
	if f.AssignedTo != "" {
		q = q.Where("t.assigned_to = ?", f.AssignedTo)
	}
	if f.CreatedBy != "" {
		q = q.Where("t.created_by = ?", f.CreatedBy)
	}
	if f.StartDate != nil {
		q = q.Where("t.created_at >= ?", stamp(*f.StartDate))
	}
	if f.EndDate != nil {
		q = q.Where("t.created_at <= ?", stamp(*f.EndDate))
	}
	if len(f.Tags) > 0 {
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			for _, tag := range f.Tags {
				q = q.WhereOr(`t.tags LIKE ? ESCAPE '\'`, likeTag(tag))
			}
			return q
		})
	}
	return q
}

var statusRank = `CASE t.status WHEN 'PENDING' THEN 0 WHEN 'IN_PROGRESS' THEN 1 WHEN 'COMPLETED' THEN 2 ELSE 3 END`

var priorityRank = `CASE t.priority WHEN 'LOW' THEN 0 WHEN 'MEDIUM' THEN 1 WHEN 'HIGH' THEN 2 ELSE 3 END`

func orderBy(field todo.SortField, order todo.SortOrder) repository.SelectCriteria {
	return repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
		return applyOrder(q, field, order)
	})
}

// applyOrder sorts enums by their declared order, everything else by
// column value, and breaks ties by id.
func applyOrder(q *bun.SelectQuery, field todo.SortField, order todo.SortOrder) *bun.SelectQuery {
	dir := "DESC"
	if order == todo.SortAsc {
		dir = "ASC"
	}

	switch field {
	case todo.SortByStatus:
		q = q.OrderExpr(statusRank + " " + dir)
	case todo.SortByPriority:
		q = q.OrderExpr(priorityRank + " " + dir)
	default:
		q = q.OrderExpr("t.? "+dir, bun.Ident(string(field)))
	}
	return q.OrderExpr("t.id " + dir)
}

type countRow struct {
	Key   string `bun:"grp"`
	Count int    `bun:"cnt"`
}

// AggregateStatistics implements store.Store.
func (s *Store) AggregateStatistics(ctx context.Context, now time.Time) (todo.Statistics, error) {
	const op = "bunstore statistics"
	stats := todo.NewStatistics()

	byStatus, err := s.countBy(ctx, "status")
	if err != nil {
		return todo.Statistics{}, classify(op, "", err)
	}
	for _, row := range byStatus {
		stats.ByStatus[todo.Status(row.Key)] = row.Count
		stats.Total += row.Count
	}

	byPriority, err := s.countBy(ctx, "priority")
	if err != nil {
		return todo.Statistics{}, classify(op, "", err)
	}
	for _, row := range byPriority {
		stats.ByPriority[todo.Priority(row.Key)] = row.Count
	}

	overdue, err := s.repo.Count(ctx,
		repository.SelectNotNull("due_date"),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.due_date < ?", stamp(now))
		}),
		repository.SelectColumnNotIn("status", []string{string(todo.StatusCompleted), string(todo.StatusArchived)}),
	)
	if err != nil {
		return todo.Statistics{}, classify(op, "", err)
	}
	stats.Overdue = overdue

	return stats, nil
}

func (s *Store) countBy(ctx context.Context, column string) ([]countRow, error) {
	var rows []countRow
	err := s.db.NewSelect().
		Model((*todoRecord)(nil)).
		ColumnExpr("t.? AS grp", bun.Ident(column)).
		ColumnExpr("COUNT(*) AS cnt").
		GroupExpr("t.?", bun.Ident(column)).
		Scan(ctx, &rows)
	return rows, err
}
