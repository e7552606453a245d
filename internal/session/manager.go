package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trinity/guided-upload/internal/controller"
	"github.com/trinity/guided-upload/internal/gateway"
	"github.com/trinity/guided-upload/internal/models"
	"github.com/trinity/guided-upload/internal/persistence"
	"github.com/trinity/guided-upload/internal/stages"
	"go.uber.org/zap"
)

// DefaultMaxFlows limits concurrent flows to bound memory use
const DefaultMaxFlows = 100

// FlowKeepAliveWindow is how long to keep flows that are actively being used
const FlowKeepAliveWindow = 5 * time.Minute

var ErrTooManyFlows = errors.New("too many active flows")

// Config holds what every flow controller is built with.
type Config struct {
	Persistence persistence.StatePersistence
	Gateway     gateway.Client
	Rules       *stages.Rules
	Logger      *zap.Logger
	MaxFlows    int
	SaveTimeout time.Duration
	// OnComplete is called once for each primed flow.
	OnComplete func(ctx context.Context, flowID string, state models.GuidedUploadFlowState)
}

// StartRequest describes a flow to start or resume.
type StartRequest struct {
	FlowKey string
	Env     models.Environment
	Files   []models.UploadedFileInfo
}

// FlowState is one live flow.
type FlowState struct {
	ID           string
	FlowKey      string
	Env          models.Environment
	Controller   *controller.Controller
	CreatedAt    time.Time
	LastAccessed time.Time // for keep-alive
}

// Manager handles active guided upload flows.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.RWMutex
	flows map[string]*FlowState
}

// NewManager creates a flow manager.
func NewManager(cfg Config) *Manager {
	if cfg.MaxFlows <= 0 {
		cfg.MaxFlows = DefaultMaxFlows
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.Named("session"),
		flows:  make(map[string]*FlowState),
	}
}

// StartFlow creates a flow, or returns the live one already registered under
// the same environment and flow key. An empty flow key uses the flow id, so
// such flows can only be resumed by id.
func (m *Manager) StartFlow(ctx context.Context, req StartRequest) (*FlowState, error) {
	req.FlowKey = strings.TrimSpace(req.FlowKey)
	if req.FlowKey != "" {
		if fs, ok := m.findLive(req.Env, req.FlowKey); ok {
			m.TouchFlow(fs.ID)
			return fs, nil
		}
	}

	if err := m.cleanupOldFlowsIfNeeded(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	if req.FlowKey == "" {
		req.FlowKey = id
	}

	ctrl, err := controller.New(ctx, controller.Options{
		FlowKey:     req.FlowKey,
		Files:       req.Files,
		Persistence: m.cfg.Persistence,
		Env:         models.StaticEnvironment(req.Env),
		Gateway:     m.cfg.Gateway,
		Rules:       m.cfg.Rules,
		Logger:      m.cfg.Logger,
		SaveTimeout: m.cfg.SaveTimeout,
		OnComplete: func(ctx context.Context, st models.GuidedUploadFlowState) {
			if m.cfg.OnComplete != nil {
				m.cfg.OnComplete(ctx, id, st)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating flow: %w", err)
	}
	if err := ctrl.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting flow: %w", err)
	}

	now := time.Now()
	fs := &FlowState{
		ID:           id,
		FlowKey:      req.FlowKey,
		Env:          req.Env,
		Controller:   ctrl,
		CreatedAt:    now,
		LastAccessed: now,
	}

	m.mu.Lock()
	m.flows[id] = fs
	m.mu.Unlock()

	m.logger.Info("flow started",
		zap.String("flow", id), zap.String("flow_key", req.FlowKey), zap.Int("files", len(req.Files)))
	return fs, nil
}

func (m *Manager) findLive(env models.Environment, flowKey string) (*FlowState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fs := range m.flows {
		if fs.FlowKey == flowKey && fs.Env == env && !fs.Controller.Finished() {
			return fs, true
		}
	}
	return nil, false
}

// cleanupOldFlowsIfNeeded removes the oldest finished flows if at capacity
func (m *Manager) cleanupOldFlowsIfNeeded() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.flows) < m.cfg.MaxFlows {
		return nil
	}

	var finished []*FlowState
	for _, fs := range m.flows {
		if fs.Controller.Finished() {
			finished = append(finished, fs)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].LastAccessed.Before(finished[j].LastAccessed)
	})

	toFree := len(m.flows) - m.cfg.MaxFlows + 1
	for _, fs := range finished {
		if toFree == 0 {
			break
		}
		delete(m.flows, fs.ID)
		toFree--
		m.logger.Debug("evicted finished flow", zap.String("flow", fs.ID))
	}
	if toFree > 0 {
		return fmt.Errorf("%w: limit %d", ErrTooManyFlows, m.cfg.MaxFlows)
	}
	return nil
}

// CleanupOldFlows removes flows idle for longer than maxAge, but keeps flows
// that have been accessed within FlowKeepAliveWindow. Unfinished flows remain
// in persistence and resume when started again.
func (m *Manager) CleanupOldFlows(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-FlowKeepAliveWindow)

	removed := 0
	for id, fs := range m.flows {
		if fs.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		if fs.LastAccessed.Before(cutoff) {
			delete(m.flows, id)
			removed++
			m.logger.Info("cleaned up idle flow",
				zap.String("flow", id), zap.Duration("idle", now.Sub(fs.LastAccessed).Round(time.Second)))
		}
	}
	return removed
}

// Run cleans up idle flows every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupOldFlows(maxAge)
		}
	}
}

// GetFlow returns a flow by ID and marks it as accessed.
func (m *Manager) GetFlow(id string) (*FlowState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, ok := m.flows[id]
	if !ok {
		return nil, false
	}
	fs.LastAccessed = time.Now()
	return fs, true
}

// TouchFlow updates the LastAccessed timestamp for a flow.
func (m *Manager) TouchFlow(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, ok := m.flows[id]
	if !ok {
		return false
	}
	fs.LastAccessed = time.Now()
	return true
}

// RemoveFlow forgets a flow without touching its persisted state.
func (m *Manager) RemoveFlow(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flows[id]; !ok {
		return false
	}
	delete(m.flows, id)
	return true
}

// Count returns the number of live flows.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.flows)
}
