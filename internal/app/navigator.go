package app

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// terminalNavigator stands in for a page redirect: the CLI has no page, so
// the target is printed and remembered.
type terminalNavigator struct {
	out    io.Writer
	logger *zap.Logger

	mu     sync.Mutex
	target string
}

func (n *terminalNavigator) Navigate(target string) {
	n.mu.Lock()
	n.target = target
	n.mu.Unlock()

	n.logger.Info("redirecting", zap.String("target", target))
	if n.out != nil {
		_, _ = fmt.Fprintf(n.out, "redirect: %s\n", target)
	}
}

func (n *terminalNavigator) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target
}
