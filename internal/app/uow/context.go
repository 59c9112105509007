package uow

import (
	"context"
	"errors"
)

var ErrFactoryRequired = errors.New("uow: factory required")

type ctxKey struct{}

// ContextWithUnitOfWork stores the provided unit of work in context.
func ContextWithUnitOfWork(ctx context.Context, unit UnitOfWork) context.Context {
	return context.WithValue(ctx, ctxKey{}, unit)
}

// FromContext retrieves a unit of work from context if present.
func FromContext(ctx context.Context) (UnitOfWork, bool) {
	val := ctx.Value(ctxKey{})
	if val == nil {
		return nil, false
	}
	unit, ok := val.(UnitOfWork)
	return unit, ok
}

// Resolve reuses a unit of work injected by the transaction middleware or
// begins one from the factory. The returned finish func commits or rolls
// back only units Resolve opened; middleware-managed units are left alone.
func Resolve(ctx context.Context, factory UoWFactory, opts TxOptions) (UnitOfWork, context.Context, func(error) error, error) {
	if unit, ok := FromContext(ctx); ok {
		finish := func(err error) error { return err }
		return unit, ctx, finish, nil
	}
	if factory == nil {
		return nil, ctx, nil, ErrFactoryRequired
	}
	unit, err := factory.Begin(ctx, opts)
	if err != nil {
		return nil, ctx, nil, err
	}
	execCtx := ContextWithUnitOfWork(ctx, unit)
	finish := func(err error) error {
		if err != nil {
			_ = unit.Rollback(execCtx)
			return err
		}
		return unit.Commit(execCtx)
	}
	return unit, execCtx, finish, nil
}
