//go:build !cgo

package storage

import (
	"errors"

	logx "tonic/pkg/logx"
)

func openSQLite3(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New(`sqlite3 storage needs a cgo build; use driver "sqlite" instead`)
}
