package connection

import "time"

// Options tunes one Manager. Zero fields take the defaults below.
type Options struct {
	Endpoint string

	MaxReconnectAttempts int
	ReconnectInterval    time.Duration
	ReconnectCap         time.Duration

	HeartbeatInterval     time.Duration
	ConnectionTimeout     time.Duration
	LivenessCheckInterval time.Duration
	DialTimeout           time.Duration

	RedirectDelay    time.Duration
	ConnectedDismiss time.Duration

	// ResyncOnReconnect sends a reconnect_request after every reopen
	ResyncOnReconnect bool

	// MaxMalformedFrames within MalformedWindow marks the peer broken.
	// Zero disables the check.
	MaxMalformedFrames int
	MalformedWindow    time.Duration

	// Debug logs every frame in and out
	Debug bool
}

// DefaultOptions returns the classroom defaults
func DefaultOptions() Options {
	return Options{
		MaxReconnectAttempts:  10,
		ReconnectInterval:     3 * time.Second,
		ReconnectCap:          30 * time.Second,
		HeartbeatInterval:     30 * time.Second,
		ConnectionTimeout:     60 * time.Second,
		LivenessCheckInterval: 10 * time.Second,
		DialTimeout:           10 * time.Second,
		RedirectDelay:         3 * time.Second,
		ConnectedDismiss:      3 * time.Second,
		ResyncOnReconnect:     true,
		MalformedWindow:       time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = d.ReconnectInterval
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = d.ReconnectCap
	}
	if o.ReconnectCap < o.ReconnectInterval {
		o.ReconnectCap = o.ReconnectInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = d.ConnectionTimeout
	}
	if o.LivenessCheckInterval <= 0 {
		o.LivenessCheckInterval = d.LivenessCheckInterval
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.RedirectDelay <= 0 {
		o.RedirectDelay = d.RedirectDelay
	}
	if o.ConnectedDismiss <= 0 {
		o.ConnectedDismiss = d.ConnectedDismiss
	}
	if o.MalformedWindow <= 0 {
		o.MalformedWindow = d.MalformedWindow
	}
	return o
}
