package core

import "sync"

// ConnectivityState classifies how reads and writes are routed.
type ConnectivityState string

// Connectivity states.
const (
	// StateOnline routes reads and writes to the remote backend.
	StateOnline ConnectivityState = "online"
	// StateOffline routes everything to the local store.
	StateOffline ConnectivityState = "offline"
	// StateDegradedFallback keeps attempting remote calls but expects
	// cache fallback; entered after a remote failure while reachable.
	StateDegradedFallback ConnectivityState = "degraded"
)

// Connectivity is the state machine that decides routing. It consumes two
// injected platform signals (network reachability and the user-facing
// offline override) plus remote success/failure reports, and notifies
// subscribers on every transition.
type Connectivity struct {
	mu              sync.Mutex
	reachable       bool
	offlineOverride bool
	degraded        bool
	subscribers     []func(ConnectivityState)
}

// NewConnectivity returns a machine that assumes the network is reachable.
func NewConnectivity() *Connectivity {
	return &Connectivity{reachable: true}
}

func (c *Connectivity) stateLocked() ConnectivityState {
	if !c.reachable || c.offlineOverride {
		return StateOffline
	}
	if c.degraded {
		return StateDegradedFallback
	}
	return StateOnline
}

// State returns the current routing state.
func (c *Connectivity) State() ConnectivityState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Offline reports whether routing is local-only.
func (c *Connectivity) Offline() bool { return c.State() == StateOffline }

// Subscribe registers fn to be called after every state transition.
func (c *Connectivity) Subscribe(fn func(ConnectivityState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

func (c *Connectivity) apply(mutate func()) {
	c.mu.Lock()
	before := c.stateLocked()
	mutate()
	after := c.stateLocked()
	var subs []func(ConnectivityState)
	if after != before {
		subs = append(subs, c.subscribers...)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(after)
	}
}

// SetNetworkReachable feeds the platform reachability signal.
func (c *Connectivity) SetNetworkReachable(reachable bool) {
	c.apply(func() {
		c.reachable = reachable
		if reachable {
			c.degraded = false
		}
	})
}

// SetOfflineOverride feeds the user-facing "offline mode" toggle.
func (c *Connectivity) SetOfflineOverride(on bool) {
	c.apply(func() { c.offlineOverride = on })
}

// ReportRemoteFailure records a failed remote call, degrading routing while
// the network still looks reachable.
func (c *Connectivity) ReportRemoteFailure() {
	c.apply(func() { c.degraded = true })
}

// ReportRemoteSuccess clears the degraded flag after a confirmed remote call.
func (c *Connectivity) ReportRemoteSuccess() {
	c.apply(func() { c.degraded = false })
}
