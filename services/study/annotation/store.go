// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"

	studydb "github.com/AleutianAI/budgetcliff/services/study/storage/badger"
)

const taskPrefix = "t/"

func taskKey(ref string) []byte {
	return []byte(taskPrefix + ref)
}

// TaskStore persists annotation tasks under t/<sample_ref> in the study
// database. Tasks are never deleted.
//
// Thread Safety: Safe for concurrent use.
type TaskStore struct {
	db *studydb.DB
}

// NewTaskStore creates a task store sharing the study database handle.
func NewTaskStore(db *studydb.DB) *TaskStore {
	return &TaskStore{db: db}
}

// TaskTxn reads and stages task writes inside one store transaction.
type TaskTxn struct {
	txn *badger.Txn
}

// Get returns the task for ref.
func (t *TaskTxn) Get(ref string) (Task, bool, error) {
	item, err := t.txn.Get(taskKey(ref))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, fmt.Errorf("get task %s: %w", ref, err)
	}
	var task Task
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &task) }); err != nil {
		return Task{}, false, fmt.Errorf("decode task %s: %w", ref, err)
	}
	return task, true, nil
}

// Put stages a task write.
func (t *TaskTxn) Put(task Task) error {
	val, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.SampleRef, err)
	}
	if err := t.txn.Set(taskKey(task.SampleRef), val); err != nil {
		return fmt.Errorf("put task %s: %w", task.SampleRef, err)
	}
	return nil
}

// Update runs fn in a read-write transaction. Nothing is written when fn
// returns an error. fn may run more than once on write conflicts.
func (s *TaskStore) Update(ctx context.Context, fn func(tx *TaskTxn) error) error {
	return s.db.UpdateWithRetry(ctx, func(txn *badger.Txn) error {
		return fn(&TaskTxn{txn: txn})
	})
}

// Get returns one task.
func (s *TaskStore) Get(ctx context.Context, ref string) (Task, bool, error) {
	var (
		task  Task
		found bool
	)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		task, found, err = (&TaskTxn{txn: txn}).Get(ref)
		return err
	})
	return task, found, err
}

// List returns the tasks at budget in export order. A zero budget lists
// every budget.
func (t *TaskTxn) List(budget int) ([]Task, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(taskPrefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var tasks []Task
	for it.Rewind(); it.Valid(); it.Next() {
		var task Task
		if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &task) }); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		if budget != 0 && task.Budget != budget {
			continue
		}
		tasks = append(tasks, task)
	}
	slices.SortFunc(tasks, func(a, b Task) int {
		if a.Budget != b.Budget {
			return a.Budget - b.Budget
		}
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		return strings.Compare(a.SampleRef, b.SampleRef)
	})
	return tasks, nil
}

// List returns tasks ordered by budget, then export order. A zero budget
// lists every budget.
func (s *TaskStore) List(ctx context.Context, budget int) ([]Task, error) {
	var tasks []Task
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		tasks, err = (&TaskTxn{txn: txn}).List(budget)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}
