package model

// Session is one loaded model. Implementations need not be safe for
// concurrent Run calls; Engine serializes them.
type Session interface {
	// Run executes a forward pass over input laid out as shape and returns
	// the flattened output scores.
	Run(input []float32, shape []int64) ([]float32, error)
	Close() error
}

// Runtime instantiates sessions from serialized model bytes.
type Runtime interface {
	Load(model []byte) (Session, error)
}

// IONames are the graph input and output the classifier is run through.
type IONames struct {
	Input  string
	Output string
}
