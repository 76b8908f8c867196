package input

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

// DefaultDevice is the touchscreen event device on the reference hardware.
const DefaultDevice = "/dev/input/event1"

const (
	tapSettle = 50 * time.Millisecond
	swipeStep = 10 * time.Millisecond
)

const (
	touchUp   int32 = 0
	touchDown int32 = 1
)

// DeviceError is returned when the input device cannot be opened or written.
// It wraps the underlying OS error and is never retried: a wrong device path needs reconfiguration.
type DeviceError struct {
	Op   string
	Path string
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("input device %s: %s: %s", e.Path, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Synthesizer writes tap and swipe gestures to an input device.
// The device is opened for each gesture and closed afterwards.
type Synthesizer struct {
	DevicePath string

	now   func() time.Time
	sleep func(time.Duration)
	open  func(path string) (io.WriteCloser, error)
}

func NewSynthesizer(devicePath string) *Synthesizer {
	if devicePath == "" {
		devicePath = DefaultDevice
	}
	return &Synthesizer{
		DevicePath: devicePath,
		now:        time.Now,
		sleep:      time.Sleep,
		open:       openDevice,
	}
}

func openDevice(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_WRONLY, 0)
}

// Tap touches down and up at (x, y), then waits for the gesture to settle.
func (s *Synthesizer) Tap(x, y int32) error {
	return s.withDevice(func(e *emitter) error {
		if err := e.touch(x, y, touchDown); err != nil {
			return err
		}
		if err := e.touch(x, y, touchUp); err != nil {
			return err
		}
		s.sleep(tapSettle)
		return nil
	})
}

// Swipe touches down at (x1, y1), moves linearly to (x2, y2) in 10ms steps spread over durationMS,
// and touches up at exactly (x2, y2). At least one step is always taken.
func (s *Synthesizer) Swipe(x1, y1, x2, y2 int32, durationMS uint64) error {
	return s.withDevice(func(e *emitter) error {
		if err := e.touch(x1, y1, touchDown); err != nil {
			return err
		}
		for _, p := range interpolate(x1, y1, x2, y2, durationMS) {
			if err := e.move(p.X, p.Y); err != nil {
				return err
			}
			s.sleep(swipeStep)
		}
		return e.touch(x2, y2, touchUp)
	})
}

func (s *Synthesizer) withDevice(f func(e *emitter) error) error {
	w, err := s.open(s.DevicePath)
	if err != nil {
		return &DeviceError{Op: "open", Path: s.DevicePath, Err: err}
	}
	err = f(&emitter{w: w, now: s.now, path: s.DevicePath})
	closeErr := w.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return &DeviceError{Op: "close", Path: s.DevicePath, Err: closeErr}
	}
	return nil
}

// Point is a screen position.
type Point struct {
	X, Y int32
}

// interpolate returns the intermediate positions of a swipe, one per 10ms step.
// The i-th of n steps is at start + i*(end-start)/n, rounded.
func interpolate(x1, y1, x2, y2 int32, durationMS uint64) []Point {
	steps := durationMS / uint64(swipeStep/time.Millisecond)
	if steps < 1 {
		steps = 1
	}
	points := make([]Point, 0, steps)
	dx := float64(x2) - float64(x1)
	dy := float64(y2) - float64(y1)
	n := float64(steps)
	for i := uint64(1); i <= steps; i++ {
		step := float64(i)
		points = append(points, Point{
			X: int32(math.Round(float64(x1) + step*dx/n)),
			Y: int32(math.Round(float64(y1) + step*dy/n)),
		})
	}
	return points
}

type emitter struct {
	w    io.Writer
	now  func() time.Time
	path string
}

func (e *emitter) write(typ, code uint16, value int32) error {
	b, err := Event{Time: e.now(), Type: typ, Code: code, Value: value}.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := e.w.Write(b); err != nil {
		return &DeviceError{Op: "write", Path: e.path, Err: err}
	}
	return nil
}

// touch sends a position with a BTN_TOUCH state change.
func (e *emitter) touch(x, y, state int32) error {
	if err := e.write(EvAbs, AbsMTPositionX, x); err != nil {
		return err
	}
	if err := e.write(EvAbs, AbsMTPositionY, y); err != nil {
		return err
	}
	if err := e.write(EvKey, BtnTouch, state); err != nil {
		return err
	}
	return e.write(EvSyn, SynReport, 0)
}

// move sends a position update without a touch state change.
func (e *emitter) move(x, y int32) error {
	if err := e.write(EvAbs, AbsMTPositionX, x); err != nil {
		return err
	}
	if err := e.write(EvAbs, AbsMTPositionY, y); err != nil {
		return err
	}
	return e.write(EvSyn, SynReport, 0)
}
