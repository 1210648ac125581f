package repository

import (
	"context"

	"gorm.io/gorm"
)

// TxRunner scopes a unit of work: everything fn does against tx commits or
// rolls back together. The issuance flow relies on this to guarantee a
// sequence number is never consumed without its invoice being persisted.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gormTxRunner struct{ db *gorm.DB }

func NewTxRunner(db *gorm.DB) TxRunner { return &gormTxRunner{db: db} }

func (r *gormTxRunner) RunInTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
