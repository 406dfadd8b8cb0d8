// Package detector wraps the external pothole classifier.
package detector

import (
	"context"
	"errors"
	"log"
	"sync"
)

const DefaultConfidence = 0.25

var ErrUnavailable = errors.New("detector unavailable")

// Detection is the classifier verdict for one image.
type Detection struct {
	Detected    bool      `json:"detected"`
	Confidences []float64 `json:"confidences,omitempty"`
}

// Oracle classifies an image at the given confidence threshold.
type Oracle interface {
	Detect(ctx context.Context, image []byte, filename string, confidence float64) (Detection, error)
}

type State int

const (
	StateUnloaded State = iota
	StateAvailable
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	}
	return "unloaded"
}

// Loader produces the oracle on first use.
type Loader func(ctx context.Context) (Oracle, error)

// Handle is the shared, lazily loaded classifier. A failed load leaves the
// handle unavailable for the life of the process.
type Handle struct {
	load       Loader
	confidence float64

	once   sync.Once
	mu     sync.RWMutex
	oracle Oracle
	state  State
	err    error
}

func NewHandle(load Loader, confidence float64) *Handle {
	if confidence <= 0 {
		confidence = DefaultConfidence
	}
	return &Handle{load: load, confidence: confidence}
}

// Unavailable returns a handle that never classifies.
func Unavailable(reason error) *Handle {
	h := &Handle{state: StateUnavailable, err: reason, confidence: DefaultConfidence}
	h.once.Do(func() {})
	return h
}

func (h *Handle) ensure(ctx context.Context) {
	h.once.Do(func() {
		if h.load == nil {
			h.setState(nil, StateUnavailable, ErrUnavailable)
			return
		}
		oracle, err := h.load(ctx)
		if err != nil || oracle == nil {
			if err == nil {
				err = ErrUnavailable
			}
			log.Printf("[Detector]: model could not be loaded: %v", err)
			h.setState(nil, StateUnavailable, err)
			return
		}
		h.setState(oracle, StateAvailable, nil)
	})
}

func (h *Handle) setState(o Oracle, s State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.oracle, h.state, h.err = o, s, err
}

func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Handle) Confidence() float64 {
	return h.confidence
}

// Detect classifies image, loading the oracle on first use. It returns
// ErrUnavailable when no oracle could be loaded.
func (h *Handle) Detect(ctx context.Context, image []byte, filename string) (Detection, error) {
	h.ensure(ctx)

	h.mu.RLock()
	oracle, state, loadErr := h.oracle, h.state, h.err
	h.mu.RUnlock()

	if state != StateAvailable {
		if loadErr == nil {
			loadErr = ErrUnavailable
		}
		return Detection{}, errors.Join(ErrUnavailable, loadErr)
	}
	return oracle.Detect(ctx, image, filename, h.confidence)
}

// IsPothole is the fail-safe verdict: any failure reads as "no pothole".
func (h *Handle) IsPothole(ctx context.Context, image []byte, filename string) bool {
	d, err := h.Detect(ctx, image, filename)
	if err != nil {
		log.Printf("[Detector]: classification skipped for %s: %v", filename, err)
		return false
	}
	switch {
	case d.Detected && len(d.Confidences) > 0:
		log.Printf("[Detector]: pothole detected in %s (objects: %d)", filename, len(d.Confidences))
	case d.Detected:
		log.Printf("[Detector]: pothole detected in %s", filename)
	default:
		log.Printf("[Detector]: no pothole in %s below confidence %.2f", filename, h.confidence)
	}
	return d.Detected
}
