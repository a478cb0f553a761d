package main

import (
	"context"
	"encoding/json"

	"github.com/odvcencio/intest/pkg/bus"
	"github.com/odvcencio/intest/pkg/macro"
	"github.com/odvcencio/intest/pkg/storage"
)

type poolSource interface {
	Workers(ctx context.Context) ([]storage.WorkerRecord, error)
	QueueLen() int
}

type macroCounter interface {
	CountMacros(ctx context.Context) (map[macro.Status]int, error)
}

// poolStatus is the reply on bus.SubjectPoolStatus.
type poolStatus struct {
	Queued  int                    `json:"queued"`
	Counts  map[macro.Status]int   `json:"counts"`
	Macros  map[macro.Status]int   `json:"macros"`
	Workers []storage.WorkerRecord `json:"workers"`
	Error   string                 `json:"error,omitempty"`
}

// servePoolStatus answers status requests from other processes on the bus.
func servePoolStatus(ctx context.Context, mb bus.MessageBus, pool poolSource, macros macroCounter) (bus.Subscription, error) {
	return mb.Subscribe(ctx, bus.SubjectPoolStatus, func(msg *bus.Message) []byte {
		status := poolStatus{Queued: pool.QueueLen(), Counts: map[macro.Status]int{}}
		workers, err := pool.Workers(ctx)
		if err != nil {
			status.Error = err.Error()
		}
		for _, w := range workers {
			if w.Exited {
				continue
			}
			status.Counts[w.Status]++
		}
		status.Workers = workers
		counts, err := macros.CountMacros(ctx)
		if err != nil && status.Error == "" {
			status.Error = err.Error()
		}
		status.Macros = counts
		data, err := json.Marshal(status)
		if err != nil {
			return nil
		}
		return data
	})
}
