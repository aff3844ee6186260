package router

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"sessionlink/pkg/types"
)

// Handler processes one decoded inbound frame
type Handler func(env *types.Envelope) error

// Router dispatches inbound frames by their type discriminator.
// ARCHITECTURAL DISCOVERY: Pure dispatch without connection state keeps the
// manager's reactions testable in isolation
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewRouter creates an empty router
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		handlers: make(map[string]Handler),
		logger:   logger.Named("router"),
	}
}

// Register binds h to msgType. Each type has at most one handler.
func (r *Router) Register(msgType string, h Handler) error {
	if msgType == "" {
		return ErrInvalidMessageType
	}
	if h == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[msgType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, msgType)
	}
	r.handlers[msgType] = h
	return nil
}

// Route runs the handler for env.Type. Frames of unknown type are not an
// error; handled reports whether a handler ran.
func (r *Router) Route(env *types.Envelope) (handled bool, err error) {
	r.mu.RLock()
	h, exists := r.handlers[env.Type]
	r.mu.RUnlock()

	if !exists {
		// FUNCTIONAL DISCOVERY: Application frames share the channel, so unknown
		// types are expected and left to observers
		r.logger.Debug("no handler for message type", zap.String("type", env.Type))
		return false, nil
	}

	if err := h(env); err != nil {
		return true, fmt.Errorf("%w: %s: %v", ErrHandlerFailed, env.Type, err)
	}
	return true, nil
}

// Types lists the registered message types in sorted order
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}
