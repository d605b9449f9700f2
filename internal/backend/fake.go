package backend

import (
	"context"
	"sync"
	"time"

	"github.com/jmylchreest/archsense/internal/model"
)

// Fake is an in-memory Backend for tests and for running archsensed on
// machines without the driver.
type Fake struct {
	mu          sync.Mutex
	state       model.HardwareState
	choices     []model.ThermalProfile
	unsupported map[model.Capability]bool
	failures    map[model.Capability]Kind
	telemetry   model.Telemetry
	delay       time.Duration
	readDelay   time.Duration
	writes      []model.Capability
	// duty written by SetFanSpeed, cleared by SetFan
	fanSpeed *[2]int
}

// NewFake creates a fake whose hardware starts in state initial with every
// capability present.
func NewFake(initial model.HardwareState) *Fake {
	return &Fake{
		state:       initial,
		unsupported: make(map[model.Capability]bool),
		failures:    make(map[model.Capability]Kind),
		telemetry:   model.Telemetry{CPUTempC: 45},
		choices: []model.ThermalProfile{
			model.ThermalLowPower,
			model.ThermalBalanced,
			model.ThermalPerformance,
		},
	}
}

// SetThermalChoices sets the platform profiles the fake firmware offers.
func (f *Fake) SetThermalChoices(choices ...model.ThermalProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.choices = append([]model.ThermalProfile(nil), choices...)
}

// SetReadDelay makes every read block for d, or until the context ends.
func (f *Fake) SetReadDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readDelay = d
}

// FanSpeed returns the duty last written by SetFanSpeed, if it is still
// in effect.
func (f *Fake) FanSpeed() (cpu, gpu int, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fanSpeed == nil {
		return 0, 0, false
	}
	return f.fanSpeed[0], f.fanSpeed[1], true
}

// SetUnsupported removes capabilities from the fake machine.
func (f *Fake) SetUnsupported(caps ...model.Capability) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range caps {
		f.unsupported[c] = true
	}
}

// Fail makes every write to c fail with kind until Recover is called.
func (f *Fake) Fail(c model.Capability, kind Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[c] = kind
}

// Recover clears an injected failure.
func (f *Fake) Recover(c model.Capability) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, c)
}

// SetDelay makes every write block for d, or until the context ends.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// SetTelemetry sets the readings returned by ReadTelemetry.
func (f *Fake) SetTelemetry(t model.Telemetry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.telemetry = t
}

// Hardware returns the fake's current hardware state.
func (f *Fake) Hardware() model.HardwareState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Writes returns the capabilities written so far, in order.
func (f *Fake) Writes() []model.Capability {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Capability(nil), f.writes...)
}

// check gates writes. Injected failures do not affect reads.
func (f *Fake) check(c model.Capability) error {
	if f.unsupported[c] {
		return &Error{Kind: Unsupported, Attr: string(c)}
	}
	if k, ok := f.failures[c]; ok {
		return &Error{Kind: k, Attr: string(c)}
	}
	return nil
}

func (f *Fake) readable(c model.Capability) bool {
	return !f.unsupported[c]
}

func (f *Fake) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return &Error{Kind: Unavailable, Err: ctx.Err()}
	}
}

func (f *Fake) waitRead(ctx context.Context) error {
	f.mu.Lock()
	d := f.readDelay
	f.mu.Unlock()
	return f.wait(ctx, d)
}

func (f *Fake) apply(ctx context.Context, c model.Capability, fn func(*model.HardwareState)) error {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()

	if err := f.wait(ctx, delay); err != nil {
		return &Error{Kind: Unavailable, Attr: string(c), Err: ctx.Err()}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(c); err != nil {
		return err
	}
	fn(&f.state)
	f.writes = append(f.writes, c)
	return nil
}

func (f *Fake) Probe(ctx context.Context) Capabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	caps := make(Capabilities)
	for _, c := range model.AllCapabilities() {
		caps[c] = !f.unsupported[c]
	}
	return caps
}

func (f *Fake) SetRGB(ctx context.Context, rgb RGBSettings) error {
	return f.apply(ctx, model.CapRGB, func(s *model.HardwareState) {
		s.RgbMode = rgb.Mode
		s.RgbSpeed = rgb.Speed
		s.RgbBrightness = rgb.Brightness
		s.RgbColor = rgb.Color
	})
}

func (f *Fake) SetFan(ctx context.Context, mode model.FanMode) error {
	return f.apply(ctx, model.CapFan, func(s *model.HardwareState) {
		s.FanMode = mode
		f.fanSpeed = nil
	})
}

func (f *Fake) SetFanSpeed(ctx context.Context, cpu, gpu int) error {
	return f.apply(ctx, model.CapFan, func(s *model.HardwareState) {
		f.fanSpeed = &[2]int{cpu, gpu}
	})
}

func (f *Fake) SetThermalProfile(ctx context.Context, p model.ThermalProfile) error {
	return f.apply(ctx, model.CapThermal, func(s *model.HardwareState) {
		s.ThermalProfile = p
	})
}

func (f *Fake) SetToggle(ctx context.Context, feat model.Feature, v bool) error {
	return f.apply(ctx, model.CapabilityOf(feat), func(s *model.HardwareState) {
		*s = s.WithToggle(feat, v)
	})
}

func (f *Fake) SetUsbThreshold(ctx context.Context, t model.UsbThreshold) error {
	return f.apply(ctx, model.CapUsbCharging, func(s *model.HardwareState) {
		s.UsbThreshold = t
	})
}

func (f *Fake) ReadState(ctx context.Context) (LiveState, error) {
	if err := f.waitRead(ctx); err != nil {
		return LiveState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var live LiveState
	if f.readable(model.CapRGB) {
		rgb := RGBOf(f.state)
		live.RGB = &rgb
	}
	if f.readable(model.CapFan) {
		fan := f.state.FanMode
		live.Fan = &fan
	}
	live.Toggles = make(map[model.Feature]bool)
	for _, feat := range model.Features {
		if f.readable(model.CapabilityOf(feat)) {
			live.Toggles[feat] = f.state.Toggle(feat)
		}
	}
	if f.readable(model.CapUsbCharging) {
		t := f.state.UsbThreshold
		live.Usb = &t
	}
	if f.readable(model.CapThermal) {
		p := f.state.ThermalProfile
		live.Thermal = &p
		live.ThermalChoices = append([]model.ThermalProfile(nil), f.choices...)
	}
	return live, nil
}

func (f *Fake) ReadTelemetry(ctx context.Context) (model.Telemetry, error) {
	if err := f.waitRead(ctx); err != nil {
		return model.Telemetry{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.telemetry
	t.UpdatedAt = time.Now()
	if f.readable(model.CapFan) {
		pct := fanSetPoints[f.state.FanMode]
		t.CPUFanPercent, t.GPUFanPercent = pct, pct
		if f.fanSpeed != nil {
			t.CPUFanPercent, t.GPUFanPercent = f.fanSpeed[0], f.fanSpeed[1]
		}
	}
	return t, nil
}

func (f *Fake) ReadCPUTemp(ctx context.Context) (float64, error) {
	if err := f.waitRead(ctx); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.telemetry.CPUTempC, nil
}
