package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

// Provision creates the tasks table and the status command queue. Existing
// resources are left untouched.
func Provision(ctx context.Context, connStr, tasksTable, statusQueue string) error {
	if tasksTable != "" {
		svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
		if err != nil {
			return err
		}
		table := svc.NewClient(tasksTable)
		err = ensureCreated(ctx, "table", tasksTable, string(aztables.TableAlreadyExists), func(ctx context.Context) error {
			_, err := table.CreateTable(ctx, nil)
			return err
		})
		if err != nil {
			return err
		}
	}
	if statusQueue != "" {
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, statusQueue, nil)
		if err != nil {
			return err
		}
		err = ensureCreated(ctx, "queue", statusQueue, queueAlreadyExists, func(ctx context.Context) error {
			_, err := q.Create(ctx, nil)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func ensureCreated(ctx context.Context, kind, name, existsCode string, create func(context.Context) error) error {
	entry := log.WithFields(log.Fields{"kind": kind, "name": name})
	err := create(ctx)
	if err == nil {
		entry.Info("created")
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == existsCode {
		entry.Debug("already exists")
		return nil
	}
	return err
}
