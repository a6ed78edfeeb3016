package arena

import (
	"fmt"
	"time"
)

const (
	Size            = 600.0
	PaddleLength    = 100.0
	PaddleThickness = 10.0
	BallRadius      = 10.0

	// PaddleInset is the gap between a wall and the back of the paddle defending it.
	PaddleInset = 20.0

	// FaceLine is the distance from a wall to the face of its paddle.
	FaceLine = PaddleThickness + PaddleInset

	ServeSpeedX = 300.0
	ServeSpeedY = 200.0

	WinScore = 10

	TickInterval = 16 * time.Millisecond
	TickSeconds  = 0.016
)

// Mode is the number of paddles in a match.
type Mode int

const (
	Duo  Mode = 2
	Quad Mode = 4
)

func (m Mode) Valid() bool {
	return m == Duo || m == Quad
}

func (m Mode) String() string {
	switch m {
	case Duo:
		return "duo"
	case Quad:
		return "quad"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts "duo"/"2" and "quad"/"4".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "duo", "2":
		return Duo, nil
	case "quad", "4":
		return Quad, nil
	}
	return 0, fmt.Errorf("INVALID_MODE: unknown mode %q", s)
}

// Slot names a paddle: p1..p4. The slot of a player is its 1-based
// position in the match's player list.
type Slot string

const (
	P1 Slot = "p1"
	P2 Slot = "p2"
	P3 Slot = "p3"
	P4 Slot = "p4"
)

var slotsByIndex = [...]Slot{P1, P2, P3, P4}

// SlotFor returns the slot for a 1-based paddle index.
func SlotFor(index int) (Slot, bool) {
	if index < 1 || index > len(slotsByIndex) {
		return "", false
	}
	return slotsByIndex[index-1], true
}

// Index returns the 1-based paddle index of the slot, or 0 if unknown.
func (s Slot) Index() int {
	for i, slot := range slotsByIndex {
		if slot == s {
			return i + 1
		}
	}
	return 0
}

type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
)

// Wall identifies the edge a paddle defends.
type Wall int

const (
	Left Wall = iota
	Right
	Top
	Bottom
)

// Geometry describes the layout for one mode.
type Geometry struct {
	Mode Mode
	// Slots in paddle order.
	Slots []Slot
	// SideWalls is true when the top and bottom edges bounce instead of scoring.
	SideWalls bool
}

var geometries = map[Mode]Geometry{
	Duo:  {Mode: Duo, Slots: []Slot{P1, P2}, SideWalls: true},
	Quad: {Mode: Quad, Slots: []Slot{P1, P2, P3, P4}, SideWalls: false},
}

// GeometryFor returns the geometry table entry for a mode.
func GeometryFor(m Mode) (Geometry, bool) {
	g, ok := geometries[m]
	return g, ok
}

var walls = map[Slot]Wall{P1: Left, P2: Right, P3: Top, P4: Bottom}

// WallOf returns the edge defended by a slot.
func WallOf(s Slot) Wall {
	return walls[s]
}

// AxisOf returns the axis along which a slot's paddle travels.
func AxisOf(s Slot) Axis {
	if s == P3 || s == P4 {
		return AxisX
	}
	return AxisY
}

// Config is sent to clients once on admission.
type Config struct {
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	PaddleLength    float64 `json:"paddleLength"`
	PaddleThickness float64 `json:"paddleThickness"`
	PaddleInset     float64 `json:"paddleInset"`
	BallRadius      float64 `json:"ballRadius"`
	WinScore        int     `json:"winScore"`
}

func DefaultConfig() Config {
	return Config{
		Width:           Size,
		Height:          Size,
		PaddleLength:    PaddleLength,
		PaddleThickness: PaddleThickness,
		PaddleInset:     PaddleInset,
		BallRadius:      BallRadius,
		WinScore:        WinScore,
	}
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampPaddle keeps a paddle centre fully inside the arena.
func ClampPaddle(v float64) float64 {
	return Clamp(v, PaddleLength/2, Size-PaddleLength/2)
}
