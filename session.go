package main

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Callbacks delivers session events to the frontend. Every callback runs on
// the coordinator goroutine, in event order; implementations must not block.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnBattery      func(level int)
	OnSleepTimer   func(minutes int)
	OnVoicePrompt  func(on bool)
	OnMicMonitor   func(on bool)
	OnLog          func(level, message string)
	OnNotice       func(title, message string, warning bool)
}

// Coordinator events posted by I/O goroutines and public methods. All session
// state changes happen in the run loop; the posters never touch state.
type (
	evOpened       struct{ gen int }
	evOpenFailed   struct {
		gen int
		msg string
	}
	evPacket       struct{ data []byte }
	evReaderFailed struct{ msg string }
	evSelectDevice struct{ key string }
)

// Snapshot is the externally visible session state, safe to read from any
// goroutine.
type Snapshot struct {
	State         string
	Battery       int
	EstimateHours float64
	Selected      string
	Devices       []DeviceDescriptor
}

// Controller owns the headset session: open/retry, command transmission,
// packet reception, hotplug, and user notices. One coordinator goroutine owns
// all mutable state below the "coordinator-owned" marker.
type Controller struct {
	cfg        Config
	log        zerolog.Logger
	tr         Transport
	cb         Callbacks
	classifier txErrorClassifier

	settingsMu   sync.Mutex
	settings     Settings
	settingsPath string

	events chan any
	stopCh chan struct{}
	doneCh chan struct{}

	// Shared with Send and the tx worker.
	ready          uint32
	shuttingDown   uint32
	suspendedUntil int64 // unix nanos; 0 means not suspended
	txEpoch        uint64
	txQueue        chan txRequest
	txStop         chan struct{}
	txDone         chan struct{}
	queueFullLog   *repeatingLog
	txTimeoutLog   *repeatingLog

	// Coordinator-owned state.
	connected           bool
	battery             int
	openGen             int
	openerBusy          bool
	lastOpenErr         string
	lastIOErr           string
	transientTxFailures int
	backoff             *txBackoff
	reader              *packetReceiver

	devices        []DeviceDescriptor
	deviceByKey    map[string]DeviceDescriptor
	selectedKey    string
	lastSignature  string
	scanFailedOnce bool

	micReported  bool
	connDebounce *connectionDebouncer
	battNotify   *batteryNotifier
	history      *batteryHistory

	openRetryTimer  *time.Timer
	pollTimer       *time.Timer
	connNotifyTimer *time.Timer
	battNotifyTimer *time.Timer
	micProbeTimer   *time.Timer

	snapMu   sync.Mutex
	snapshot Snapshot
}

func NewController(cfg Config, log zerolog.Logger, tr Transport, cb Callbacks, settingsPath string) *Controller {
	c := &Controller{
		cfg:          cfg,
		log:          log,
		tr:           tr,
		cb:           cb,
		classifier:   newTxErrorClassifier(cfg.TransientIOMarkers),
		settings:     loadSettings(settingsPath),
		settingsPath: settingsPath,

		events:  make(chan any, 64),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		txQueue: make(chan txRequest, cfg.TxQueueSize),
		txStop:  make(chan struct{}),
		txDone:  make(chan struct{}),

		queueFullLog: newRepeatingLog(cfg.TxQueueFullLogInterval.Duration),
		txTimeoutLog: newRepeatingLog(cfg.TxTimeoutLogInterval.Duration),

		battery:       -1,
		backoff:       newTxBackoff(cfg.BackoffInitial.Duration, cfg.BackoffMax.Duration),
		deviceByKey:   make(map[string]DeviceDescriptor),
		lastSignature: "\x00never-scanned",
		connDebounce:  newConnectionDebouncer(cfg.ConnectionWindow.Duration),
		battNotify:    newBatteryNotifier(cfg.BatteryThresholds, cfg.BatteryCooldown.Duration),
		history:       newBatteryHistory(),

		openRetryTimer:  newStoppedTimer(),
		pollTimer:       newStoppedTimer(),
		connNotifyTimer: newStoppedTimer(),
		battNotifyTimer: newStoppedTimer(),
		micProbeTimer:   newStoppedTimer(),
	}
	c.snapshot = Snapshot{State: "disconnected", Battery: -1}
	return c
}

func (c *Controller) Start() {
	go c.txWorkerLoop()
	go c.run()
}

// Stop tears the session down and blocks until the coordinator exits.
func (c *Controller) Stop() {
	atomic.StoreUint32(&c.shuttingDown, 1)
	close(c.stopCh)
	<-c.doneCh
}

func (c *Controller) run() {
	defer close(c.doneCh)
	hotplug := time.NewTicker(c.cfg.HotplugInterval.Duration)
	defer hotplug.Stop()

	c.pollHotplug()
	for {
		select {
		case <-c.stopCh:
			c.shutdown()
			return
		case ev := <-c.events:
			c.handleEvent(ev)
		case <-c.openRetryTimer.C:
			c.startOpen()
		case <-c.pollTimer.C:
			c.pollHeadset()
		case <-hotplug.C:
			c.pollHotplug()
		case <-c.connNotifyTimer.C:
			c.flushConnectionNotice()
		case <-c.battNotifyTimer.C:
			c.flushBatteryNotice()
		case <-c.micProbeTimer.C:
			c.micProbeTimedOut()
		}
	}
}

// post hands an event to the coordinator without wedging a poster when the
// session is shutting down.
func (c *Controller) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.stopCh:
	}
}

func (c *Controller) handleEvent(ev any) {
	switch e := ev.(type) {
	case evOpened:
		c.handleOpened(e.gen)
	case evOpenFailed:
		c.handleOpenFailed(e.gen, e.msg)
	case evTxResult:
		c.processTxResult(e)
	case evPacket:
		c.handleFrame(e.data)
	case evReaderFailed:
		c.handleIOError("read failed: " + e.msg)
	case evSelectDevice:
		c.handleSelectDevice(e.key)
	}
}

// --- open / retry ---

func (c *Controller) startOpen() {
	if c.openerBusy || atomic.LoadUint32(&c.shuttingDown) != 0 {
		return
	}
	if c.selectedKey == "" {
		c.resetTimer(c.openRetryTimer, c.cfg.OpenRetryInterval.Duration)
		return
	}
	c.openGen++
	gen := c.openGen
	c.openerBusy = true
	c.updateSnapshot()
	go func() {
		if err := c.tr.Open(); err != nil {
			c.post(evOpenFailed{gen: gen, msg: err.Error()})
			return
		}
		c.post(evOpened{gen: gen})
	}()
}

func (c *Controller) handleOpened(gen int) {
	c.openerBusy = false
	if gen != c.openGen {
		// A restart invalidated this attempt after the handle opened.
		c.tr.Close()
		c.startOpen()
		return
	}
	c.lastOpenErr = ""
	c.lastIOErr = ""
	c.transientTxFailures = 0
	c.clearBackoff(false)
	c.stopTimer(c.openRetryTimer)

	atomic.StoreUint32(&c.ready, 1)
	c.startReader()
	c.log.Info().Str("device", c.selectedKey).Msg("Device opened, probing connection state")
	c.Send(CmdConnectionState, true)
	c.resetTimer(c.pollTimer, c.cfg.PollDisconnected.Duration)
	c.updateSnapshot()
}

func (c *Controller) handleOpenFailed(gen int, msg string) {
	c.openerBusy = false
	if gen != c.openGen {
		c.startOpen()
		return
	}
	if msg != c.lastOpenErr {
		c.lastOpenErr = msg
		c.log.Warn().Str("error", msg).Msg("Unable to open device, will retry")
	}
	c.resetTimer(c.openRetryTimer, c.cfg.OpenRetryInterval.Duration)
	c.updateSnapshot()
}

// --- reader ---

func (c *Controller) startReader() {
	c.reader = newPacketReceiver(c.tr, c.cfg.ReadTimeout.Duration,
		func(frame []byte) { c.post(evPacket{data: frame}) },
		func(msg string) { c.post(evReaderFailed{msg: msg}) },
	)
	c.reader.start()
}

func (c *Controller) stopReader() {
	if c.reader == nil {
		return
	}
	c.reader.requestStop()
	if !c.reader.waitStopped(c.cfg.ReaderStopGrace.Duration) {
		c.log.Warn().Msg("Reader did not stop within grace period")
	}
	c.reader = nil
}

// --- failure and restart paths ---

// handleIOError is the single teardown path for a broken session: reader
// failures, fatal write errors, and exhausted transient failures all land
// here. The session closes and the open retry loop takes over.
func (c *Controller) handleIOError(reason string) {
	if reason != c.lastIOErr {
		c.lastIOErr = reason
		c.log.Warn().Str("error", reason).Msg("Session I/O error, closing device")
	}
	c.teardownSession(true)
	c.resetTimer(c.openRetryTimer, c.cfg.OpenRetryInterval.Duration)
}

func (c *Controller) restart(reason string) {
	c.log.Info().Str("reason", reason).Msg("Restarting session")
	c.lastOpenErr = ""
	c.lastIOErr = ""
	c.teardownSession(true)
	// Invalidate any opener still in flight; its completion is discarded
	// and triggers a fresh attempt.
	c.openGen++
	c.startOpen()
}

// teardownSession closes the transport and resets everything tied to the
// current handle. Queued commands from this session never reach the next one.
func (c *Controller) teardownSession(notify bool) {
	atomic.StoreUint32(&c.ready, 0)
	c.invalidateTxSession()
	c.clearBackoff(false)
	c.transientTxFailures = 0
	c.stopReader()
	c.tr.Close()
	c.stopTimer(c.pollTimer)
	c.markDisconnected(notify)
}

func (c *Controller) invalidateTxSession() {
	atomic.AddUint64(&c.txEpoch, 1)
	c.drainTxQueue()
}

// --- connectivity ---

func (c *Controller) markConnected() {
	if c.connected {
		return
	}
	c.connected = true
	c.transientTxFailures = 0
	c.log.Info().Msg("Headset connected")
	c.resetTimer(c.pollTimer, c.cfg.PollConnected.Duration)
	c.applySavedMicPreference()
	c.requestFeatureStates()
	if c.cb.OnConnected != nil {
		c.cb.OnConnected()
	}
	if c.notificationsEnabled() {
		c.connDebounce.record(true, time.Now())
		c.resetTimer(c.connNotifyTimer, c.cfg.ConnectionDebounce.Duration)
	}
	c.updateSnapshot()
}

func (c *Controller) markDisconnected(notify bool) {
	was := c.connected
	c.connected = false
	c.battery = -1
	c.micReported = false
	c.history.clear()
	c.battNotify.resetLevels()
	c.stopTimer(c.micProbeTimer)
	c.stopTimer(c.battNotifyTimer)
	if was {
		c.log.Info().Msg("Headset disconnected")
		if c.cb.OnDisconnected != nil {
			c.cb.OnDisconnected()
		}
		if notify && c.notificationsEnabled() {
			c.connDebounce.record(false, time.Now())
			c.resetTimer(c.connNotifyTimer, c.cfg.ConnectionDebounce.Duration)
		}
	}
	c.updateSnapshot()
}

// requestFeatureStates asks the headset for everything shown to the user.
// The mic monitor report is not guaranteed; a probe timer covers the silence.
func (c *Controller) requestFeatureStates() {
	c.Send(CmdStatusRequest, true)
	c.Send(CmdSleepState, true)
	c.Send(CmdVoiceState, true)
	c.Send(CmdMicMonitorState, true)
	c.resetTimer(c.micProbeTimer, c.cfg.MicProbeTimeout.Duration)
}

func (c *Controller) applySavedMicPreference() {
	c.settingsMu.Lock()
	pref := c.settings.MicMonitor
	c.settingsMu.Unlock()
	if pref == nil {
		return
	}
	cmd := CmdMicMonitorOff
	if *pref {
		cmd = CmdMicMonitorOn
	}
	c.Send(cmd, true)
}

func (c *Controller) micProbeTimedOut() {
	if !c.connected || c.micReported {
		return
	}
	c.log.Debug().Msg("Mic monitor state not reported, applying saved preference")
	c.applySavedMicPreference()
}

// --- inbound frames ---

func (c *Controller) handleFrame(data []byte) {
	op, value, ok := decodeFrame(data)
	if !ok {
		if c.cfg.VerboseIO {
			c.log.Debug().Str("packet", formatPacket(data)).Msg("Ignoring malformed packet")
		}
		return
	}
	if c.cfg.VerboseIO {
		c.log.Debug().Str("packet", formatPacket(data)).Msg("Packet received")
	}

	// Any decoded frame is proof the control channel works.
	c.transientTxFailures = 0
	c.clearBackoff(true)

	switch op {
	case opConnection, opConnectionEcho:
		switch value {
		case connValueConnected:
			c.markConnected()
		case connValueDisconnected:
			c.markDisconnected(true)
		default:
			c.log.Debug().Uint8("value", value).Msg("Ignoring unknown connectivity value")
		}
		return
	}

	// Feature reports only mean something for a connected headset.
	if !c.connected {
		return
	}
	switch op {
	case opBattery:
		c.handleBattery(int(value))
	case opSleepState, opSleepStateEcho:
		if minutes, known := sleepMinutes(value); known {
			if c.cb.OnSleepTimer != nil {
				c.cb.OnSleepTimer(minutes)
			}
		} else {
			c.log.Debug().Uint8("value", value).Msg("Ignoring unknown sleep timer value")
		}
	case opVoiceState, opVoiceStateEcho:
		if c.cb.OnVoicePrompt != nil {
			c.cb.OnVoicePrompt(value == 0x01)
		}
	case opMicMonitorState, opMicMonitorFeedback:
		c.micReported = true
		c.stopTimer(c.micProbeTimer)
		if c.cb.OnMicMonitor != nil {
			c.cb.OnMicMonitor(value == 0x01)
		}
	default:
		if c.cfg.VerboseIO {
			c.log.Debug().Uint8("opcode", op).Msg("Ignoring unknown opcode")
		}
	}
}

func (c *Controller) handleBattery(level int) {
	if level < 0 || level > 100 {
		c.log.Warn().Int("value", level).Msg("Ignoring invalid battery value")
		return
	}
	now := time.Now()
	c.battery = level
	c.history.record(level, now)
	if c.cb.OnBattery != nil {
		c.cb.OnBattery(level)
	}
	if c.notificationsEnabled() && c.battNotify.observe(level, now) {
		c.resetTimer(c.battNotifyTimer, c.cfg.BatteryDebounce.Duration)
	}
	c.updateSnapshot()
}

// --- tx outcomes ---

func (c *Controller) processTxResult(ev evTxResult) {
	if ev.epoch != atomic.LoadUint64(&c.txEpoch) {
		return
	}
	if ev.sent {
		c.transientTxFailures = 0
		c.clearBackoff(true)
		return
	}
	// A busy channel is not a broken channel: timeout-class failures only
	// escalate the backoff, never the teardown path. They also break any
	// run of consecutive generic transient failures.
	if c.classifier.isTimeout(ev.ioErr) {
		c.transientTxFailures = 0
		c.recordTimeoutTxFailure(ev.name, ev.ioErr)
		return
	}
	if ev.handleGone || !ev.allowTransient {
		c.handleIOError("write failed: " + ev.ioErr)
		return
	}
	c.transientTxFailures++
	c.log.Debug().Str("command", ev.name).Int("failures", c.transientTxFailures).
		Msgf("Transient command failure: %s", ev.ioErr)
	if c.transientTxFailures >= c.cfg.TransientTxFailureLimit {
		c.handleIOError("repeated transient failures: " + ev.ioErr)
	}
}

// recordTimeoutTxFailure escalates the busy window and gates Send until it
// lapses. Logging is rate limited; the channel staying busy for a minute
// would otherwise produce hundreds of identical lines.
func (c *Controller) recordTimeoutTxFailure(name, msg string) {
	window := c.backoff.escalate()
	atomic.StoreInt64(&c.suspendedUntil, time.Now().Add(window).UnixNano())
	if suffix, ok := c.txTimeoutLog.emit(); ok {
		c.log.Warn().
			Str("command", name).
			Dur("backoff", window).
			Msgf("Command timed out, control channel busy: %s%s", msg, suffix)
	}
}

// clearBackoff lifts the send suspension on evidence the channel works. When
// announce is set and timeouts were being suppressed, one recovery line
// accounts for them.
func (c *Controller) clearBackoff(announce bool) {
	atomic.StoreInt64(&c.suspendedUntil, 0)
	wasActive := c.backoff.active()
	c.backoff.reset()
	suppressed := c.txTimeoutLog.consume()
	if announce && wasActive {
		if suppressed > 0 {
			c.log.Info().Msgf("Control channel recovered (suppressed %d similar timeout events).", suppressed)
		} else {
			c.log.Info().Msg("Control channel recovered.")
		}
	}
}

// --- polling and hotplug ---

func (c *Controller) pollHeadset() {
	if atomic.LoadUint32(&c.ready) == 0 {
		return
	}
	if c.connected {
		c.Send(CmdStatusRequest, true)
		c.Send(CmdPing, true)
		c.resetTimer(c.pollTimer, c.cfg.PollConnected.Duration)
		return
	}
	c.Send(CmdConnectionState, true)
	c.resetTimer(c.pollTimer, c.cfg.PollDisconnected.Duration)
}

func (c *Controller) pollHotplug() {
	devices, err := c.tr.Enumerate()
	if err != nil {
		if !c.scanFailedOnce {
			c.scanFailedOnce = true
			c.log.Warn().Err(err).Msg("Device enumeration failed, keeping last device list")
		}
		return
	}
	c.scanFailedOnce = false

	sig := deviceSignature(devices)
	if sig == c.lastSignature {
		return
	}
	c.lastSignature = sig
	c.devices = devices
	c.deviceByKey = make(map[string]DeviceDescriptor, len(devices))
	for _, d := range devices {
		c.deviceByKey[d.Key] = d
	}
	c.log.Info().Int("candidates", len(devices)).Msg("Device set changed")

	c.settingsMu.Lock()
	preferred := c.settings.SelectedDeviceKey
	c.settingsMu.Unlock()

	sel, found := chooseSelection(devices, c.selectedKey, preferred)
	switch {
	case !found:
		hadDevice := c.selectedKey != ""
		c.selectedKey = ""
		c.tr.SetTarget(nil)
		if hadDevice {
			c.restart("device removed")
		}
	case sel.Key != c.selectedKey:
		c.selectedKey = sel.Key
		c.tr.SetTarget(&sel)
		c.restart("device selection changed: " + sel.DisplayName())
	}
	c.updateSnapshot()
}

func (c *Controller) handleSelectDevice(key string) {
	if key == c.selectedKey {
		return
	}
	desc, ok := c.deviceByKey[key]
	if !ok {
		c.log.Warn().Str("key", key).Msg("Ignoring selection of unknown device")
		return
	}
	c.selectedKey = key
	c.tr.SetTarget(&desc)
	c.settingsMu.Lock()
	c.settings.SelectedDeviceKey = key
	c.settingsMu.Unlock()
	c.persistSettings()
	c.restart("user selected " + desc.DisplayName())
}

// --- notices ---

func (c *Controller) flushConnectionNotice() {
	if notice := c.connDebounce.flush(time.Now()); notice != nil {
		c.emitNotice(notice)
	}
}

func (c *Controller) flushBatteryNotice() {
	if notice := c.battNotify.flush(time.Now()); notice != nil {
		c.emitNotice(notice)
	}
}

func (c *Controller) emitNotice(n *Notice) {
	if !c.notificationsEnabled() {
		return
	}
	c.log.Info().Str("title", n.Title).Bool("warning", n.Warning).Msg(n.Message)
	if c.cb.OnNotice != nil {
		c.cb.OnNotice(n.Title, n.Message, n.Warning)
	}
}

// --- shutdown ---

func (c *Controller) shutdown() {
	// No user notice for a teardown the user asked for.
	c.teardownSession(false)
	close(c.txStop)
	select {
	case c.txQueue <- txRequest{poison: true}:
	default:
	}
	select {
	case <-c.txDone:
	case <-time.After(2 * time.Second):
		c.log.Warn().Msg("Command worker did not stop in time")
	}
	c.persistSettings()
	c.stopTimer(c.openRetryTimer)
	c.stopTimer(c.connNotifyTimer)
	c.stopTimer(c.battNotifyTimer)
	c.log.Info().Msg("Session stopped")
}

// --- public surface ---

// SelectDevice switches the session to the device with the given key, as
// listed by Devices. The switch is asynchronous.
func (c *Controller) SelectDevice(key string) {
	c.post(evSelectDevice{key: key})
}

func (c *Controller) Devices() []DeviceDescriptor {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	out := make([]DeviceDescriptor, len(c.snapshot.Devices))
	copy(out, c.snapshot.Devices)
	return out
}

func (c *Controller) State() string {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.snapshot.State
}

// Battery returns the last reported level, or -1 when unknown.
func (c *Controller) Battery() int {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.snapshot.Battery
}

func (c *Controller) Snapshot() Snapshot {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	snap := c.snapshot
	snap.Devices = append([]DeviceDescriptor(nil), c.snapshot.Devices...)
	return snap
}

func (c *Controller) SetSleepTimer(minutes int) bool {
	switch minutes {
	case 10:
		return c.Send(CmdSleepTimer10, false)
	case 20:
		return c.Send(CmdSleepTimer20, false)
	case 30:
		return c.Send(CmdSleepTimer30, false)
	}
	return false
}

func (c *Controller) SetVoicePrompts(on bool) bool {
	if on {
		return c.Send(CmdVoicePromptsOn, false)
	}
	return c.Send(CmdVoicePromptsOff, false)
}

// SetMicMonitor pushes the setting to the device and persists it as the
// preference applied on future connects.
func (c *Controller) SetMicMonitor(on bool) bool {
	c.settingsMu.Lock()
	v := on
	c.settings.MicMonitor = &v
	c.settingsMu.Unlock()
	c.persistSettings()
	if on {
		return c.Send(CmdMicMonitorOn, false)
	}
	return c.Send(CmdMicMonitorOff, false)
}

func (c *Controller) RequestStates() {
	c.Send(CmdConnectionState, true)
	c.Send(CmdStatusRequest, true)
	c.Send(CmdSleepState, true)
	c.Send(CmdVoiceState, true)
	c.Send(CmdMicMonitorState, true)
}

func (c *Controller) SetNotificationsEnabled(on bool) {
	c.settingsMu.Lock()
	c.settings.NotificationsEnabled = on
	c.settingsMu.Unlock()
	c.persistSettings()
}

func (c *Controller) notificationsEnabled() bool {
	c.settingsMu.Lock()
	defer c.settingsMu.Unlock()
	return c.settings.NotificationsEnabled
}

func (c *Controller) persistSettings() {
	c.settingsMu.Lock()
	snapshot := c.settings
	c.settingsMu.Unlock()
	if err := saveSettings(c.settingsPath, snapshot); err != nil {
		c.log.Warn().Err(err).Msg("Unable to save settings")
	}
}

func (c *Controller) updateSnapshot() {
	state := "disconnected"
	switch {
	case c.connected:
		state = "connected"
	case atomic.LoadUint32(&c.ready) == 1:
		// Handle open, but no connectivity frame yet. A failed or
		// still-running open attempt is plain disconnected.
		state = "opening"
	}
	estimate := 0.0
	if hours, ok := c.history.estimateHours(); ok {
		estimate = hours
	}
	c.snapMu.Lock()
	c.snapshot = Snapshot{
		State:         state,
		Battery:       c.battery,
		EstimateHours: estimate,
		Selected:      c.selectedKey,
		Devices:       append([]DeviceDescriptor(nil), c.devices...),
	}
	c.snapMu.Unlock()
}

// --- timer helpers ---

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

func (c *Controller) resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (c *Controller) stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
