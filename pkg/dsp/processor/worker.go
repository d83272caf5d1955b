package processor

// CCWorker is a complex in, complex out stage. WorkBuffer writes into out,
// which holds at least PredictOutputSize(len(in)) samples, and returns how
// many samples it wrote.
type CCWorker interface {
	WorkBuffer(in []complex64, out []complex64) int
	PredictOutputSize(int) int
}

type DSPWorker struct {
	Name       string
	InputRate  int
	OutputRate int

	worker CCWorker
	output []complex64
}

func NewDSPWorker(name string, inputRate, outputRate int, worker CCWorker) *DSPWorker {
	return &DSPWorker{
		Name:       name,
		InputRate:  inputRate,
		OutputRate: outputRate,
		worker:     worker,
	}
}

func (w *DSPWorker) work(input []complex64) []complex64 {
	need := w.worker.PredictOutputSize(len(input))
	if len(w.output) < need {
		w.output = make([]complex64, need*2)
	}
	n := w.worker.WorkBuffer(input, w.output)
	return w.output[:n]
}
