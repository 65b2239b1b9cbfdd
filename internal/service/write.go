package service

import (
	"context"
	"fmt"

	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/pkg/metrics"
)

// WriteResult describes what a write-path call did. The local write always
// happened when the call returns a nil error; QueueErr reports a failure to
// enqueue the matching backend operation.
type WriteResult struct {
	Record      models.DailyRecord
	Queued      bool
	OperationID string
	QueueErr    error
}

// SaveEntry stores rec locally and, when signed in, queues a create
func (e *Engine) SaveEntry(ctx context.Context, rec models.DailyRecord) (WriteResult, error) {
	return e.write(ctx, models.OpCreate, rec)
}

// UpdateEntry stores rec locally and, when signed in, queues an update
func (e *Engine) UpdateEntry(ctx context.Context, rec models.DailyRecord) (WriteResult, error) {
	return e.write(ctx, models.OpUpdate, rec)
}

// PutEntry stores rec, queueing an update when a record for its date already
// exists locally and a create otherwise.
func (e *Engine) PutEntry(ctx context.Context, rec models.DailyRecord) (WriteResult, error) {
	if err := models.ValidateDateKey(rec.Date); err != nil {
		return WriteResult{}, err
	}
	_, found, err := e.store.Get(ctx, rec.Date)
	if err != nil {
		return WriteResult{}, fmt.Errorf("local read: %w", err)
	}
	if found {
		return e.UpdateEntry(ctx, rec)
	}
	return e.SaveEntry(ctx, rec)
}

// DeleteEntry removes the record for date locally and, when signed in,
// queues a delete
func (e *Engine) DeleteEntry(ctx context.Context, date string) (WriteResult, error) {
	if err := models.ValidateDateKey(date); err != nil {
		return WriteResult{}, err
	}

	e.writeMu.Lock()
	err := e.store.Delete(ctx, date)
	e.writeMu.Unlock()
	if err != nil {
		return WriteResult{}, fmt.Errorf("local delete: %w", err)
	}

	res := WriteResult{Record: models.DailyRecord{Date: date}}
	user := e.gate.CurrentUser()
	if !e.gate.IsAuthenticated() || user == nil {
		return res, nil
	}

	data := models.OperationData{Date: date, UserID: user.ID}
	e.enqueue(ctx, models.OpDelete, data, date, &res)
	return res, nil
}

func (e *Engine) write(ctx context.Context, opType models.OperationType, rec models.DailyRecord) (WriteResult, error) {
	if err := models.ValidateDateKey(rec.Date); err != nil {
		return WriteResult{}, err
	}

	e.writeMu.Lock()
	rec.UpdatedAt = e.now().UTC()
	err := e.store.Put(ctx, rec.Date, rec)
	e.writeMu.Unlock()
	if err != nil {
		return WriteResult{}, fmt.Errorf("local write: %w", err)
	}

	res := WriteResult{Record: rec}
	user := e.gate.CurrentUser()
	if !e.gate.IsAuthenticated() || user == nil {
		return res, nil
	}

	data := models.OperationData{
		Date:      rec.Date,
		Weight:    rec.Weight,
		Calories:  rec.Calories,
		Notes:     rec.Notes,
		UpdatedAt: rec.UpdatedAt,
		UserID:    user.ID,
	}
	e.enqueue(ctx, opType, data, rec.Date, &res)
	return res, nil
}

// enqueue never fails the write: the local copy is already durable
func (e *Engine) enqueue(ctx context.Context, opType models.OperationType, data models.OperationData, localID string, res *WriteResult) {
	id, err := e.queue.Enqueue(ctx, opType, models.TableWeightEntries, data, localID)
	if err != nil {
		e.logger.Error("Local write kept but operation was not queued",
			"type", opType,
			"date", data.Date,
			"error", err,
		)
		res.QueueErr = err
		return
	}

	res.Queued = true
	res.OperationID = id
	metrics.OperationsEnqueued.WithLabelValues(string(opType)).Inc()
	metrics.QueueBacklog.Set(float64(e.queue.Len()))
}
