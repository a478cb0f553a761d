package main

import (
	"strings"
	"sync"

	"github.com/odvcencio/intest/pkg/browser"
	"github.com/odvcencio/intest/pkg/config"
	"github.com/odvcencio/intest/pkg/erp"
	"github.com/odvcencio/intest/pkg/logging"
	"github.com/odvcencio/intest/pkg/worker"
)

// controllerSet builds one terminal controller per worker slot and keeps
// them reachable for config reloads.
type controllerSet struct {
	manager *browser.Manager
	logger  *logging.Logger

	mu          sync.Mutex
	cfg         erp.Config
	controllers map[int]*erp.Controller
}

func newControllerSet(cfg erp.Config, manager *browser.Manager, logger *logging.Logger) *controllerSet {
	return &controllerSet{
		cfg:         cfg,
		manager:     manager,
		logger:      logger,
		controllers: make(map[int]*erp.Controller),
	}
}

// factory is the scheduler's session factory. Every controller gets its own
// logger so that session binding, overrides and artifacts stay per slot.
func (s *controllerSet) factory(slot int) (worker.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := erp.NewController(slot, s.cfg, s.manager, s.logger.ForWorker(slot))
	s.controllers[slot] = c
	return c, nil
}

// controller returns the controller last built for slot.
func (s *controllerSet) controller(slot int) *erp.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controllers[slot]
}

// reload applies the settings that are safe to change while tasks run: the
// log level and the artifact defaults of the next task.
func (s *controllerSet) reload(cfg *config.Config) {
	level := logging.Level(strings.ToLower(cfg.Logging.Level))
	a := cfg.Artifacts

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Record, s.cfg.RecordPath = a.Record, a.RecordPath
	s.cfg.Log, s.cfg.LogPath = a.Log, a.LogPath
	s.logger.SetMinLevel(level)
	for _, c := range s.controllers {
		c.SetArtifactDefaults(a.Record, a.RecordPath, a.Log, a.LogPath)
		c.Logger().SetMinLevel(level)
	}
}
