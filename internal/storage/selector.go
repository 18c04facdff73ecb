package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

type Mode string

const (
	ModeRelational Mode = "relational"
	ModeFile       Mode = "file"
)

type Config struct {
	Driver         string
	DSN            string
	ConnectTimeout time.Duration
	DataFile       string
}

// Backend is the storage choice made once at startup. It is never
// re-evaluated while the process runs.
type Backend struct {
	Mode          Mode
	Repository    Repository
	FallbackCause error
}

// Open tries the relational store first and falls back to the JSON file
// store if it cannot be connected or migrated.
func Open(ctx context.Context, cfg Config, logger *logrus.Logger) (*Backend, error) {
	repo, err := OpenSQL(ctx, cfg.Driver, cfg.DSN, cfg.ConnectTimeout, logger)
	if err == nil {
		return &Backend{Mode: ModeRelational, Repository: repo}, nil
	}

	logger.WithError(err).WithFields(logrus.Fields{
		"driver":    cfg.Driver,
		"data_file": cfg.DataFile,
	}).Warn("Relational store unavailable, switching to file-backed storage")

	fileRepo, fileErr := OpenFile(cfg.DataFile, logger)
	if fileErr != nil {
		var result *multierror.Error
		result = multierror.Append(result, fmt.Errorf("relational store: %w", err))
		result = multierror.Append(result, fmt.Errorf("file store: %w", fileErr))
		return nil, result.ErrorOrNil()
	}

	return &Backend{Mode: ModeFile, Repository: fileRepo, FallbackCause: err}, nil
}
