package commands

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"tasksync/internal/task"
)

// TaskRef is a parsed task reference: either a 1-based position in the
// full collection (as printed by list) or an explicit task id.
type TaskRef struct {
	Position int
	ID       string
}

// ErrTaskRefRequired indicates no task reference was provided.
var ErrTaskRefRequired = &task.ValidationError{Field: "ref", Msg: "task reference required"}

// ParseTaskRef parses a task reference.
//
// Accepted forms:
//  1. all digits → position (e.g. 3)
//  2. '#' followed by an id → explicit id (e.g. #4f1c…)
//  3. anything else → error: invalid task reference: <ref>
func ParseTaskRef(arg string) (TaskRef, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return TaskRef{}, ErrTaskRefRequired
	}

	if id, ok := strings.CutPrefix(arg, "#"); ok {
		if id == "" {
			return TaskRef{}, invalidRef(arg)
		}
		return TaskRef{ID: id}, nil
	}

	if isAllDigits(arg) {
		num, err := strconv.Atoi(arg)
		if err != nil {
			return TaskRef{}, invalidRef(arg)
		}
		if num < 1 {
			return TaskRef{}, outOfRange(num)
		}
		return TaskRef{Position: num}, nil
	}

	return TaskRef{}, invalidRef(arg)
}

// Resolve finds the referenced task in tasks, which must be the full
// collection in display order.
func (r TaskRef) Resolve(tasks []task.Task) (task.Task, error) {
	if r.ID != "" {
		for _, t := range tasks {
			if t.ID == r.ID {
				return t, nil
			}
		}
		return task.Task{}, &task.NotFoundError{ID: r.ID}
	}
	if r.Position < 1 || r.Position > len(tasks) {
		return task.Task{}, outOfRange(r.Position)
	}
	return tasks[r.Position-1], nil
}

// resolveArgs parses args[0] as a reference and resolves it.
func resolveArgs(args []string, tasks []task.Task) (task.Task, error) {
	if len(args) == 0 {
		return task.Task{}, ErrTaskRefRequired
	}
	ref, err := ParseTaskRef(args[0])
	if err != nil {
		return task.Task{}, err
	}
	return ref.Resolve(tasks)
}

func invalidRef(arg string) error {
	return &task.ValidationError{Field: "ref", Msg: fmt.Sprintf("invalid task reference: %s", arg)}
}

func outOfRange(num int) error {
	return &task.ValidationError{Field: "ref", Msg: fmt.Sprintf("task number out of range: %d", num)}
}

// isAllDigits returns true if s consists only of ASCII digits and is non-empty.
func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
