package shared

import "context"

// Transactor runs fn inside a unit of work. Calls nest: when ctx already
// carries a transaction, fn joins it and the outermost call commits.
// Returning an error from fn rolls back every write made through ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransactorFunc adapts a function to Transactor.
type TransactorFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// WithinTx calls f.
func (f TransactorFunc) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// NoTx runs fn directly. Used where the store has no transactions.
var NoTx Transactor = TransactorFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})
