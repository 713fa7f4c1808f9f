package control

import (
	"fmt"

	"github.com/voice-drive-lab/internal/voice"
)

// ForceLevel selects one of the two calibrated forward forces.
type ForceLevel int

const (
	Slow ForceLevel = iota
	Fast
)

func (l ForceLevel) String() string {
	if l == Fast {
		return "fast"
	}
	return "slow"
}

// Params are the vehicle control constants.
type Params struct {
	SteeringValue   float64
	EngineForceSlow float64
	EngineForceFast float64
	BrakeForce      float64
	DriveWheels     []int
	StartPosition   Vec3
	StartRotationY  float64
}

func DefaultParams() Params {
	return Params{
		SteeringValue:   0.05,
		EngineForceSlow: 60,
		EngineForceFast: 150,
		BrakeForce:      10,
		DriveWheels:     []int{2, 3},
		StartPosition:   Vec3{X: 0, Y: 1, Z: 0},
		StartRotationY:  0,
	}
}

func (p Params) Validate() error {
	if p.SteeringValue <= 0 {
		return fmt.Errorf("steering value must be > 0")
	}
	if p.EngineForceSlow <= 0 || p.EngineForceFast <= p.EngineForceSlow {
		return fmt.Errorf("engine forces must satisfy 0 < slow < fast")
	}
	if p.BrakeForce <= 0 {
		return fmt.Errorf("brake force must be > 0")
	}
	if len(p.DriveWheels) == 0 {
		return fmt.Errorf("at least one drive wheel is required")
	}
	return nil
}

// Resolver turns key state and the active voice command into actuator calls.
// It keeps the engine force level and the camera mode between calls.
type Resolver struct {
	p           Params
	level       ForceLevel
	thirdPerson bool
	prevToggle  bool
}

func NewResolver(p Params) *Resolver {
	return &Resolver{p: p, thirdPerson: true}
}

func (r *Resolver) Level() ForceLevel { return r.level }

func (r *Resolver) ThirdPerson() bool { return r.thirdPerson }

func (r *Resolver) force() float64 {
	if r.level == Fast {
		return r.p.EngineForceFast
	}
	return r.p.EngineForceSlow
}

// Resolve issues one update's worth of actuator calls. A voice command, when
// active, replaces keyboard control entirely for that update.
func (r *Resolver) Resolve(keys KeyState, cmds voice.CommandSet, t Target) {
	toggleDown := keys.Pressed(KeyToggleView)
	edge := toggleDown && !r.prevToggle
	r.prevToggle = toggleDown

	if cmd, ok := cmds.Active(); ok {
		r.resolveVoice(cmd, t)
		return
	}

	left, right := keys.Pressed(KeyLeft), keys.Pressed(KeyRight)
	switch {
	case left && !right:
		r.steer(t, r.p.SteeringValue)
	case right && !left:
		r.steer(t, -r.p.SteeringValue)
	default:
		r.steer(t, 0)
	}

	fwd, back := keys.Pressed(KeyForward), keys.Pressed(KeyBackward)
	switch {
	case fwd && !back:
		r.engine(t, r.force())
	case back && !fwd:
		r.engine(t, -r.p.EngineForceSlow)
	default:
		r.engine(t, 0)
	}

	if keys.Pressed(KeyBrake) {
		r.brake(t, r.p.BrakeForce)
	} else {
		r.brake(t, 0)
	}

	if keys.Pressed(KeyReset) {
		t.SetPosition(r.p.StartPosition)
		t.SetVelocity(Vec3{})
		t.SetAngularVelocity(Vec3{})
		t.SetRotation(Vec3{Y: r.p.StartRotationY})
	}

	if edge {
		r.thirdPerson = !r.thirdPerson
		t.SetThirdPerson(r.thirdPerson)
	}
}

func (r *Resolver) resolveVoice(cmd voice.Command, t Target) {
	switch cmd {
	case voice.Stop:
		r.engine(t, 0)
		r.brake(t, r.p.BrakeForce)
		r.steer(t, 0)
	case voice.Forward:
		r.level = Slow
		r.engine(t, r.force())
		r.steer(t, 0)
	case voice.Backward:
		r.engine(t, -r.p.EngineForceSlow)
		r.steer(t, 0)
	case voice.Left:
		r.steer(t, r.p.SteeringValue)
		r.engine(t, 0)
	case voice.Right:
		r.steer(t, -r.p.SteeringValue)
		r.engine(t, 0)
	case voice.Faster:
		r.level = Fast
		r.engine(t, r.force())
		r.steer(t, 0)
	case voice.Slower:
		r.level = Slow
		r.engine(t, r.force())
		r.steer(t, 0)
	}
}

func (r *Resolver) steer(t Vehicle, v float64) {
	for _, w := range r.p.DriveWheels {
		t.SetSteeringValue(v, w)
	}
}

func (r *Resolver) engine(t Vehicle, f float64) {
	for _, w := range r.p.DriveWheels {
		t.ApplyEngineForce(f, w)
	}
}

func (r *Resolver) brake(t Vehicle, b float64) {
	for _, w := range r.p.DriveWheels {
		t.SetBrake(b, w)
	}
}
