package repository

import (
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/jobs"
)

var (
	_ backtest.RaceSource   = (*PostgresRaceRepository)(nil)
	_ jobs.ResultArchive    = (*PostgresResultRepository)(nil)
	_ jobs.ClientTierLookup = (*PostgresClientRepository)(nil)
)
