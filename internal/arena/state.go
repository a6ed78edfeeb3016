package arena

import (
	"math"
	"math/rand/v2"
)

type Ball struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// Moving reports whether the ball has any velocity.
func (b Ball) Moving() bool {
	return b.VX != 0 || b.VY != 0
}

// State is the physical state of one match.
type State struct {
	Mode    Mode             `json:"mode"`
	Paddles map[Slot]float64 `json:"paddles"`
	Ball    Ball             `json:"ball"`
}

// NewState centres every paddle and freezes the ball at the centre.
func NewState(m Mode) State {
	g, _ := GeometryFor(m)
	paddles := make(map[Slot]float64, len(g.Slots))
	for _, s := range g.Slots {
		paddles[s] = Size / 2
	}
	st := State{Mode: m, Paddles: paddles}
	st.ResetBall()
	return st
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s State) Clone() State {
	paddles := make(map[Slot]float64, len(s.Paddles))
	for k, v := range s.Paddles {
		paddles[k] = v
	}
	s.Paddles = paddles
	return s
}

// ResetBall places the ball at the centre with zero velocity.
func (s *State) ResetBall() {
	s.Ball = Ball{X: Size / 2, Y: Size / 2}
}

// Serve places the ball at the centre and launches it with (±300, ±200).
func (s *State) Serve(rng *rand.Rand) {
	dirX, dirY := 1.0, 1.0
	if rng.IntN(2) == 0 {
		dirX = -1
	}
	if rng.IntN(2) == 0 {
		dirY = -1
	}
	s.Ball = Ball{X: Size / 2, Y: Size / 2, VX: ServeSpeedX * dirX, VY: ServeSpeedY * dirY}
}

// MovePaddle sets a paddle position. In duo mode the axis is ignored; in
// quad mode it must name the axis implied by the slot. The position is
// always clamped.
func (s *State) MovePaddle(slot Slot, axis Axis, value float64) bool {
	if _, ok := s.Paddles[slot]; !ok {
		return false
	}
	if math.IsNaN(value) {
		return false
	}
	if s.Mode == Quad && axis != AxisOf(slot) {
		return false
	}
	s.Paddles[slot] = ClampPaddle(value)
	return true
}

// Step advances the ball by dt seconds. It returns the slot credited with a
// goal, if any; on a goal the ball is frozen at the centre.
func (s *State) Step(dt float64) (Slot, bool) {
	g, _ := GeometryFor(s.Mode)
	b := &s.Ball
	b.X += b.VX * dt
	b.Y += b.VY * dt

	if g.SideWalls {
		if b.Y-BallRadius < 0 {
			b.Y = BallRadius
			b.VY = math.Abs(b.VY)
		}
		if b.Y+BallRadius > Size {
			b.Y = Size - BallRadius
			b.VY = -math.Abs(b.VY)
		}
	}

	for _, slot := range g.Slots {
		s.deflect(slot)
	}

	if scorer, ok := s.goal(); ok {
		s.ResetBall()
		return scorer, true
	}
	return "", false
}

func onPaddle(centre, along float64) bool {
	return along >= centre-PaddleLength/2 && along <= centre+PaddleLength/2
}

func (s *State) deflect(slot Slot) {
	b := &s.Ball
	p := s.Paddles[slot]
	switch WallOf(slot) {
	case Left:
		if b.X-BallRadius < FaceLine && onPaddle(p, b.Y) {
			b.X = FaceLine + BallRadius
			b.VX = math.Abs(b.VX)
		}
	case Right:
		if b.X+BallRadius > Size-FaceLine && onPaddle(p, b.Y) {
			b.X = Size - FaceLine - BallRadius
			b.VX = -math.Abs(b.VX)
		}
	case Top:
		if b.Y-BallRadius < FaceLine && onPaddle(p, b.X) {
			b.Y = FaceLine + BallRadius
			b.VY = math.Abs(b.VY)
		}
	case Bottom:
		if b.Y+BallRadius > Size-FaceLine && onPaddle(p, b.X) {
			b.Y = Size - FaceLine - BallRadius
			b.VY = -math.Abs(b.VY)
		}
	}
}

// goal credits the slot opposite the breached edge.
func (s *State) goal() (Slot, bool) {
	b := s.Ball
	switch {
	case b.X < 0:
		return P2, true
	case b.X > Size:
		return P1, true
	}
	if s.Mode == Quad {
		switch {
		case b.Y < 0:
			return P4, true
		case b.Y > Size:
			return P3, true
		}
	}
	return "", false
}
