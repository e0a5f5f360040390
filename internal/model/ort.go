package model

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ORTOptions configures the ONNX Runtime backend.
type ORTOptions struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default lookup.
	LibraryPath    string
	IO             IONames
	IntraOpThreads int
}

// ORTRuntime loads sessions through onnxruntime_go. The process-wide
// environment is initialized on first Load.
type ORTRuntime struct {
	opts ORTOptions

	once    sync.Once
	initErr error
	owned   bool
}

func NewORTRuntime(opts ORTOptions) *ORTRuntime {
	return &ORTRuntime{opts: opts}
}

func (r *ORTRuntime) init() error {
	r.once.Do(func() {
		if r.opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(r.opts.LibraryPath)
		}
		if ort.IsInitialized() {
			return
		}
		if err := ort.InitializeEnvironment(); err != nil {
			r.initErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
			return
		}
		r.owned = true
	})
	return r.initErr
}

// Load creates a session directly from the model bytes; nothing is written
// to disk.
func (r *ORTRuntime) Load(model []byte) (Session, error) {
	if len(model) == 0 {
		return nil, errors.New("empty model data")
	}
	if err := r.init(); err != nil {
		return nil, err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()
	if r.opts.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(r.opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(model,
		[]string{r.opts.IO.Input}, []string{r.opts.IO.Output}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &ortSession{session: session}, nil
}

// Close tears down the environment if this runtime created it.
func (r *ORTRuntime) Close() error {
	if !r.owned {
		return nil
	}
	r.owned = false
	return ort.DestroyEnvironment()
}

type ortSession struct {
	session *ort.DynamicAdvancedSession
}

func (s *ortSession) Run(input []float32, shape []int64) ([]float32, error) {
	in, err := ort.NewTensor(ort.NewShape(shape...), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	outputs := []ort.ArbitraryTensor{nil}
	if err := s.session.Run([]ort.ArbitraryTensor{in}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	// Output memory belongs to the runtime and is released on Destroy.
	scores := make([]float32, len(out.GetData()))
	copy(scores, out.GetData())
	return scores, nil
}

func (s *ortSession) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
