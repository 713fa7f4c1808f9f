package control

// Vec3 is a world-space vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vehicle is the raycast vehicle surface of the physics engine.
type Vehicle interface {
	SetSteeringValue(value float64, wheel int)
	ApplyEngineForce(force float64, wheel int)
	SetBrake(brake float64, wheel int)
}

// Chassis is the rigid body the vehicle is mounted on; only reset uses it.
type Chassis interface {
	SetPosition(Vec3)
	SetVelocity(Vec3)
	SetAngularVelocity(Vec3)
	SetRotation(Vec3)
}

// Camera flips between first and third person.
type Camera interface {
	SetThirdPerson(on bool)
}

// Target bundles every actuator the resolver drives.
type Target interface {
	Vehicle
	Chassis
	Camera
}

// OpKind names the actuator call an Op stands for.
type OpKind string

const (
	OpSteering        OpKind = "steering"
	OpEngineForce     OpKind = "engine_force"
	OpBrake           OpKind = "brake"
	OpPosition        OpKind = "position"
	OpVelocity        OpKind = "velocity"
	OpAngularVelocity OpKind = "angular_velocity"
	OpRotation        OpKind = "rotation"
	OpThirdPerson     OpKind = "third_person"
)

// Op is one recorded actuator call, serialised to the page as-is.
type Op struct {
	Kind  OpKind  `json:"op"`
	Wheel int     `json:"wheel"`
	Value float64 `json:"value"`
	Vec   *Vec3   `json:"vec,omitempty"`
	On    *bool   `json:"on,omitempty"`
}

// Recorder implements Target by appending Ops.
type Recorder struct {
	ops []Op
}

func (r *Recorder) SetSteeringValue(value float64, wheel int) {
	r.ops = append(r.ops, Op{Kind: OpSteering, Wheel: wheel, Value: value})
}

func (r *Recorder) ApplyEngineForce(force float64, wheel int) {
	r.ops = append(r.ops, Op{Kind: OpEngineForce, Wheel: wheel, Value: force})
}

func (r *Recorder) SetBrake(brake float64, wheel int) {
	r.ops = append(r.ops, Op{Kind: OpBrake, Wheel: wheel, Value: brake})
}

func (r *Recorder) SetPosition(v Vec3) { r.vec(OpPosition, v) }

func (r *Recorder) SetVelocity(v Vec3) { r.vec(OpVelocity, v) }

func (r *Recorder) SetAngularVelocity(v Vec3) { r.vec(OpAngularVelocity, v) }

func (r *Recorder) SetRotation(v Vec3) { r.vec(OpRotation, v) }

func (r *Recorder) SetThirdPerson(on bool) {
	r.ops = append(r.ops, Op{Kind: OpThirdPerson, On: &on})
}

func (r *Recorder) vec(kind OpKind, v Vec3) {
	r.ops = append(r.ops, Op{Kind: kind, Vec: &v})
}

// Ops returns the recorded calls in order.
func (r *Recorder) Ops() []Op { return r.ops }

// Last returns the most recent op of kind for wheel (wheel is ignored for
// non-wheel ops).
func (r *Recorder) Last(kind OpKind, wheel int) (Op, bool) {
	for i := len(r.ops) - 1; i >= 0; i-- {
		op := r.ops[i]
		if op.Kind != kind {
			continue
		}
		switch kind {
		case OpSteering, OpEngineForce, OpBrake:
			if op.Wheel != wheel {
				continue
			}
		}
		return op, true
	}
	return Op{}, false
}

// Reset drops recorded ops.
func (r *Recorder) Reset() { r.ops = r.ops[:0] }
