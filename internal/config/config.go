// Package config implements the datapath's layered configuration: a
// compiled-in defaults layer, an optional TOML file layer, and an
// environment-variable override layer, refreshed by a polling Watcher.
//
// This realizes spec §2 row E ("Registry watcher: push notify + polling
// fallback") — since there is no inotify-style push source on the
// placeholder file backend used here, the watcher always runs in its
// polling-fallback mode, which is therefore exercised on every test run
// rather than only on an injected push failure.
//
// Grounded on the teacher's internal/constants (grouped, documented
// const blocks as the defaults source) with the file/env layering
// idiom borrowed from the wider Go ecosystem's config libraries; file
// parsing uses github.com/BurntSushi/toml, already present in the
// example pack's dependency surface.
package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/xdpgeneric/xdpgeneric/internal/constants"
)

// Values holds the datapath's runtime-tunable registry DWORD
// equivalents (spec §6.3).
type Values struct {
	DelayDetachTimeoutSec int  `toml:"delay_detach_timeout_sec"`
	RxFwdBufferLimit      int  `toml:"rx_fwd_buffer_limit"`
	TxFrameCount          int  `toml:"tx_frame_count"`
	FaultInject           bool `toml:"fault_inject"`
}

// Defaults returns the compiled-in default values.
func Defaults() Values {
	return Values{
		DelayDetachTimeoutSec: constants.GenericDelayDetachTimeoutSecDefault,
		RxFwdBufferLimit:      constants.GenericRxFwdBufferLimitDefault,
		TxFrameCount:          constants.GenericTxFrameCountDefault,
		FaultInject:           constants.XdpFaultInjectDefault,
	}
}

// clamp enforces the documented caps (spec §6.3 / internal/constants).
func (v *Values) clamp() {
	if v.RxFwdBufferLimit > constants.GenericRxFwdBufferLimitCap {
		v.RxFwdBufferLimit = constants.GenericRxFwdBufferLimitCap
	}
	if v.RxFwdBufferLimit <= 0 {
		v.RxFwdBufferLimit = constants.GenericRxFwdBufferLimitDefault
	}
	if v.TxFrameCount > constants.GenericTxFrameCountCap {
		v.TxFrameCount = constants.GenericTxFrameCountCap
	}
	if v.TxFrameCount <= 0 {
		v.TxFrameCount = constants.GenericTxFrameCountDefault
	}
	if v.DelayDetachTimeoutSec <= 0 {
		v.DelayDetachTimeoutSec = constants.GenericDelayDetachTimeoutSecDefault
	}
}

// envPrefix namespaces every override environment variable.
const envPrefix = "XDPGENERIC_"

// Load builds Values by layering defaults, then an optional TOML file
// at path (if non-empty and present), then environment overrides.
func Load(path string) (Values, error) {
	v := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &v); err != nil {
				return v, err
			}
		}
	}

	applyEnvOverrides(&v)
	v.clamp()
	return v, nil
}

func applyEnvOverrides(v *Values) {
	if s, ok := os.LookupEnv(envPrefix + "DELAY_DETACH_TIMEOUT_SEC"); ok {
		if n, err := strconv.Atoi(s); err == nil {
			v.DelayDetachTimeoutSec = n
		}
	}
	if s, ok := os.LookupEnv(envPrefix + "RX_FWD_BUFFER_LIMIT"); ok {
		if n, err := strconv.Atoi(s); err == nil {
			v.RxFwdBufferLimit = n
		}
	}
	if s, ok := os.LookupEnv(envPrefix + "TX_FRAME_COUNT"); ok {
		if n, err := strconv.Atoi(s); err == nil {
			v.TxFrameCount = n
		}
	}
	if s, ok := os.LookupEnv(envPrefix + "FAULT_INJECT"); ok {
		if b, err := strconv.ParseBool(s); err == nil {
			v.FaultInject = b
		}
	}
}

// Watcher polls a config file's mtime and reloads Values when it
// changes, notifying subscribers. It always operates in the polling
// fallback mode described in spec §2 row E.
type Watcher struct {
	path     string
	interval time.Duration

	mu       sync.RWMutex
	current  Values
	lastMod  time.Time

	subscribers []chan Values

	cancel func()
	done   chan struct{}
}

// NewWatcher creates a watcher for path, performing an initial Load.
// path may be empty, in which case the watcher only tracks env/default
// values and never reloads (mtime polling has nothing to watch).
func NewWatcher(path string) (*Watcher, error) {
	v, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:     path,
		interval: constants.ConfigPollInterval,
		current:  v,
		done:     make(chan struct{}),
	}
	if path != "" {
		if fi, err := os.Stat(path); err == nil {
			w.lastMod = fi.ModTime()
		}
	}
	return w, nil
}

// Current returns the most recently loaded Values.
func (w *Watcher) Current() Values {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers a channel that receives the new Values each time
// a reload detects a change. The returned channel is buffered (size 1)
// so a slow subscriber never blocks the watcher's poll loop.
func (w *Watcher) Subscribe() <-chan Values {
	ch := make(chan Values, 1)
	w.mu.Lock()
	w.subscribers = append(w.subscribers, ch)
	w.mu.Unlock()
	return ch
}

// Start begins the polling loop on a background goroutine.
func (w *Watcher) Start() {
	stop := make(chan struct{})
	w.cancel = sync.OnceFunc(func() { close(stop) })
	go w.poll(stop)
}

func (w *Watcher) poll(stop <-chan struct{}) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.reloadIfChanged()
		}
	}
}

func (w *Watcher) reloadIfChanged() {
	if w.path == "" {
		return
	}
	fi, err := os.Stat(w.path)
	if err != nil {
		return
	}

	w.mu.Lock()
	if !fi.ModTime().After(w.lastMod) {
		w.mu.Unlock()
		return
	}
	w.lastMod = fi.ModTime()
	subs := append([]chan Values(nil), w.subscribers...)
	w.mu.Unlock()

	v, err := Load(w.path)
	if err != nil {
		return
	}

	w.mu.Lock()
	w.current = v
	w.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Stop halts the polling loop and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}
