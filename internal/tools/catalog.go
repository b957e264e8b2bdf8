package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/basket/genie/internal/bus"
	"github.com/basket/genie/internal/session"
)

const idSchema = `{"type":["integer","string"],"pattern":"^[0-9]+$"}`

var (
	schemaNone  = json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
	schemaAddEv = json.RawMessage(`{
		"type":"object",
		"properties":{
			"title":{"type":"string","minLength":1,"description":"Event title"},
			"start_time":{"type":"string","minLength":1,"description":"ISO-8601 start, e.g. 2026-10-16T09:00:00"},
			"end_time":{"type":"string","minLength":1,"description":"ISO-8601 end"}
		},
		"required":["title","start_time","end_time"]
	}`)
	schemaRemoveEv = json.RawMessage(`{
		"type":"object",
		"properties":{"title":{"type":"string","minLength":1}},
		"required":["title"]
	}`)
	schemaAddObjective = json.RawMessage(`{
		"type":"object",
		"properties":{
			"title":{"type":"string","minLength":1},
			"description":{"type":"string"}
		},
		"required":["title"]
	}`)
	schemaAddTask = json.RawMessage(`{
		"type":"object",
		"properties":{
			"objective_id":` + idSchema + `,
			"title":{"type":"string","minLength":1},
			"weight":{"type":"integer","minimum":1,"description":"XP awarded on completion (default 1)"}
		},
		"required":["objective_id","title"]
	}`)
	schemaTaskID = json.RawMessage(`{
		"type":"object",
		"properties":{"task_id":` + idSchema + `},
		"required":["task_id"]
	}`)
	schemaObjectiveID = json.RawMessage(`{
		"type":"object",
		"properties":{"objective_id":` + idSchema + `},
		"required":["objective_id"]
	}`)
)

// builtinCapabilities is the fixed catalog. Each handler performs at most
// one storage unit for the caller in scope.
func builtinCapabilities(d Deps) []Capability {
	return []Capability{
		{
			Name:        "get_server_time",
			Description: "Get the current server date and time. Call this before scheduling anything.",
			Schema:      schemaNone,
			Handler: func(context.Context, *session.Scope, Args) (string, error) {
				return fmt.Sprintf("The current server time is %s.", d.Clock().Format("2006-01-02 15:04:05")), nil
			},
		},
		{
			Name:        "add_calendar_event",
			Description: "Add an event to the user's calendar.",
			Schema:      schemaAddEv,
			Handler:     addCalendarEvent(d),
		},
		{
			Name:        "get_calendar_events",
			Description: "List all events on the user's calendar.",
			Schema:      schemaNone,
			Handler: func(ctx context.Context, scope *session.Scope, _ Args) (string, error) {
				events, err := d.Store.ListCalendarEvents(ctx, scope.ClientID())
				if err != nil {
					return "", err
				}
				return toJSON(events)
			},
		},
		{
			Name:        "remove_calendar_event",
			Description: "Remove every calendar event with the given title.",
			Schema:      schemaRemoveEv,
			Handler:     removeCalendarEvent(d),
		},
		{
			Name:        "get_objectives",
			Description: "List the user's objectives with their tasks.",
			Schema:      schemaNone,
			Handler: func(ctx context.Context, scope *session.Scope, _ Args) (string, error) {
				objs, err := d.Store.ListObjectives(ctx, scope.ClientID())
				if err != nil {
					return "", err
				}
				return toJSON(objs)
			},
		},
		{
			Name:        "add_objective",
			Description: "Create a new objective (a goal that groups tasks).",
			Schema:      schemaAddObjective,
			Handler: func(ctx context.Context, scope *session.Scope, args Args) (string, error) {
				title := args.String("title")
				id, err := d.Store.AddObjective(ctx, scope.ClientID(), title, args.String("description"))
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Objective '%s' created with ID %d.", title, id), nil
			},
		},
		{
			Name:        "add_task",
			Description: "Add a task to one of the user's objectives. Weight is the XP it is worth.",
			Schema:      schemaAddTask,
			Handler:     addTask(d),
		},
		{
			Name:        "remove_task",
			Description: "Delete a task by id.",
			Schema:      schemaTaskID,
			Handler: func(ctx context.Context, scope *session.Scope, args Args) (string, error) {
				id, err := args.Int("task_id", 0)
				if err != nil {
					return "", err
				}
				if _, err := d.Store.RemoveTask(ctx, scope.ClientID(), id); err != nil {
					return "", err
				}
				return fmt.Sprintf("Task %d removed.", id), nil
			},
		},
		{
			Name:        "remove_objective",
			Description: "Delete an objective and all of its tasks.",
			Schema:      schemaObjectiveID,
			Handler: func(ctx context.Context, scope *session.Scope, args Args) (string, error) {
				id, err := args.Int("objective_id", 0)
				if err != nil {
					return "", err
				}
				if _, err := d.Store.RemoveObjective(ctx, scope.ClientID(), id); err != nil {
					return "", err
				}
				return fmt.Sprintf("Objective %d removed.", id), nil
			},
		},
		{
			Name:        "complete_task",
			Description: "Mark a task completed and award its XP.",
			Schema:      schemaTaskID,
			Handler: func(ctx context.Context, scope *session.Scope, args Args) (string, error) {
				id, err := args.Int("task_id", 0)
				if err != nil {
					return "", err
				}
				ok, err := d.Store.CompleteTask(ctx, scope.ClientID(), id)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Task %d completed. Success: %t", id, ok), nil
			},
		},
		{
			Name:        "complete_objective",
			Description: "Mark an objective completed.",
			Schema:      schemaObjectiveID,
			Handler: func(ctx context.Context, scope *session.Scope, args Args) (string, error) {
				id, err := args.Int("objective_id", 0)
				if err != nil {
					return "", err
				}
				ok, err := d.Store.CompleteObjective(ctx, scope.ClientID(), id)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Objective %d completed. Success: %t", id, ok), nil
			},
		},
		{
			Name:        "get_user_stats",
			Description: "Get the user's XP score and completion counters.",
			Schema:      schemaNone,
			Handler: func(ctx context.Context, scope *session.Scope, _ Args) (string, error) {
				st, err := d.Store.Stats(ctx, scope.ClientID())
				if err != nil {
					return "", err
				}
				return toJSON(st)
			},
		},
	}
}

func addCalendarEvent(d Deps) HandlerFunc {
	return func(ctx context.Context, scope *session.Scope, args Args) (string, error) {
		title, start, end := args.String("title"), args.String("start_time"), args.String("end_time")
		if _, err := d.Store.AddCalendarEvent(ctx, scope.ClientID(), title, start, end); err != nil {
			return "", err
		}
		notify(d, bus.Notification{Command: bus.CommandAddEvent, Parameters: []string{title, start, end}})
		return fmt.Sprintf("Event '%s' scheduled for %s", title, start), nil
	}
}

func removeCalendarEvent(d Deps) HandlerFunc {
	return func(ctx context.Context, scope *session.Scope, args Args) (string, error) {
		title := args.String("title")
		if _, err := d.Store.RemoveCalendarEvent(ctx, scope.ClientID(), title); err != nil {
			return "", err
		}
		notify(d, bus.Notification{Command: bus.CommandRemoveEvent, Parameters: []string{title}})
		return fmt.Sprintf("Event '%s' removed from calendar.", title), nil
	}
}

func addTask(d Deps) HandlerFunc {
	return func(ctx context.Context, scope *session.Scope, args Args) (string, error) {
		oid, err := args.Int("objective_id", 0)
		if err != nil {
			return "", err
		}
		weight, err := args.Int("weight", 1)
		if err != nil {
			return "", err
		}
		title := args.String("title")
		id, added, err := d.Store.AddTask(ctx, scope.ClientID(), oid, title, int(weight))
		if err != nil {
			return "", err
		}
		if !added {
			return fmt.Sprintf("Objective %d not found; task not added.", oid), nil
		}
		return fmt.Sprintf("Task '%s' (weight %d) added to objective %d with ID %d.", title, weight, oid, id), nil
	}
}

func notify(d Deps, n bus.Notification) {
	if d.Notifier == nil {
		return
	}
	delivered := d.Notifier.Publish(n)
	d.Logger.Debug("calendar notification published", "command", n.Command, "receivers", delivered)
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}
