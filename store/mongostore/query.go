package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/goliatone/go-todo-pipeline/todo"
)

// Query implements store.Store.
func (s *Store) Query(ctx context.Context, q todo.Query) (todo.Page, error) {
	const op = "mongostore query"
	q = q.Normalize()
	filter := buildFilter(q.Filter)

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return todo.Page{}, classify(op, "", err)
	}

	pipeline := mongo.Pipeline{{{Key: "$match", Value: filter}}}
	pipeline = append(pipeline, sortStages(q.SortBy, q.SortOrder)...)
	pipeline = append(pipeline,
		bson.D{{Key: "$skip", Value: int64(q.Offset())}},
		bson.D{{Key: "$limit", Value: int64(q.Limit)}},
	)

	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return todo.Page{}, classify(op, "", err)
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return todo.Page{}, classify(op, "", err)
	}

	items := make([]todo.Todo, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toTodo())
	}
	return todo.Page{Items: items, Total: int(total), Page: q.Page, Limit: q.Limit}, nil
}

func buildFilter(f todo.Filter) bson.D {
	filter := bson.D{{Key: "isDeleted", Value: false}}
	if f.Status != "" {
		filter = append(filter, bson.E{Key: "status", Value: string(f.Status)})
	}
	if f.Priority != "" {
		filter = append(filter, bson.E{Key: "priority", Value: string(f.Priority)})
	}
	if f.AssignedTo != "" {
		filter = append(filter, bson.E{Key: "assignedTo", Value: f.AssignedTo})
	}
	if f.CreatedBy != "" {
		filter = append(filter, bson.E{Key: "createdBy", Value: f.CreatedBy})
	}
	if len(f.Tags) > 0 {
		filter = append(filter, bson.E{Key: "tags", Value: bson.D{{Key: "$in", Value: f.Tags}}})
	}
	if f.StartDate != nil || f.EndDate != nil {
		rng := bson.D{}
		if f.StartDate != nil {
			rng = append(rng, bson.E{Key: "$gte", Value: stamp(*f.StartDate)})
		}
		if f.EndDate != nil {
			rng = append(rng, bson.E{Key: "$lte", Value: stamp(*f.EndDate)})
		}
		filter = append(filter, bson.E{Key: "createdAt", Value: rng})
	}
	return filter
}

// sortStages orders enum fields by declared position and breaks ties by _id.
func sortStages(field todo.SortField, order todo.SortOrder) []bson.D {
	dir := -1
	if order == todo.SortAsc {
		dir = 1
	}

	var ranks []string
	switch field {
	case todo.SortByStatus:
		for _, s := range todo.ValidStatuses() {
			ranks = append(ranks, string(s))
		}
	case todo.SortByPriority:
		for _, p := range todo.ValidPriorities() {
			ranks = append(ranks, string(p))
		}
	}

	if ranks == nil {
		return []bson.D{{{Key: "$sort", Value: bson.D{
			{Key: fieldNames[field], Value: dir},
			{Key: "_id", Value: dir},
		}}}}
	}

	return []bson.D{
		{{Key: "$addFields", Value: bson.D{{Key: "_rank", Value: bson.D{
			{Key: "$indexOfArray", Value: bson.A{ranks, "$" + fieldNames[field]}},
		}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_rank", Value: dir}, {Key: "_id", Value: dir}}}},
		{{Key: "$unset", Value: "_rank"}},
	}
}

type countRow struct {
	Key   string `bson:"_id"`
	Count int    `bson:"count"`
}

// AggregateStatistics implements store.Store.
func (s *Store) AggregateStatistics(ctx context.Context, now time.Time) (todo.Statistics, error) {
	const op = "mongostore statistics"
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

	overdue, err := s.coll.CountDocuments(ctx, bson.D{
		{Key: "isDeleted", Value: false},
		{Key: "dueDate", Value: bson.D{{Key: "$lt", Value: stamp(now)}}},
		{Key: "status", Value: bson.D{{Key: "$nin", Value: bson.A{
			string(todo.StatusCompleted), string(todo.StatusArchived),
		}}}},
	})
	if err != nil {
		return todo.Statistics{}, classify(op, "", err)
	}
	stats.Overdue = int(overdue)

	return stats, nil
}

func (s *Store) countBy(ctx context.Context, field string) ([]countRow, error) {
	cur, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "isDeleted", Value: false}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, err
	}
	var rows []countRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
