//go:build cgo

package storage

import (
	_ "github.com/mattn/go-sqlite3"
	logx "tonic/pkg/logx"
)

func openSQLite3(cfg Config, log logx.Logger) (Store, error) {
	return openSQL("sqlite3", cfg, log)
}
