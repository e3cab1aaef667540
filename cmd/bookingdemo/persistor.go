package main

import (
	"context"
	"fmt"
	"io"

	"github.com/terraskye/eventpulse"
	"github.com/terraskye/eventpulse/config"
	"github.com/terraskye/eventpulse/persistor/disk"
	"github.com/terraskye/eventpulse/persistor/kurrentdb"
	"github.com/terraskye/eventpulse/persistor/memory"
	"github.com/terraskye/eventpulse/persistor/nats"
	"github.com/terraskye/eventpulse/persistor/sqldb"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openPersistor builds the persistor selected by cfg.Driver.
func openPersistor(ctx context.Context, cfg config.Config) (eventpulse.StreamPersistor, io.Closer, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewPersistor(), nopCloser{}, nil

	case "disk":
		p, err := disk.NewPersistor(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return p, nopCloser{}, nil

	case "kurrentdb":
		p, err := kurrentdb.Dial(cfg.KurrentDBURL)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil

	case "nats":
		p, err := nats.Connect(ctx, cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil

	default:
		p, err := sqldb.Open(cfg.Driver, cfg.DSN, sqldb.WithTable(cfg.EventsTable))
		if err != nil {
			return nil, nil, err
		}
		if err := p.CreateSchema(ctx); err != nil {
			_ = p.Close()
			return nil, nil, fmt.Errorf("prepare %s database: %w", cfg.Driver, err)
		}
		return p, p, nil
	}
}
