package detect

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// OnnxConfig configures the local ONNX detector.
type OnnxConfig struct {
	ModelPath  string
	OrtLib     string // path to the onnxruntime shared library
	InputSize  int    // square model input, e.g. 640
	MinConf    float64
	IoU        float64
	Classes    []string // index -> class name
	InputName  string   // defaults to "images"
	OutputName string   // defaults to "output0"
}

// OnnxDetector runs a YOLO-style detection model through ONNX Runtime.
// Output layout is the YOLOv8 head: [1, 4+numClasses, numCandidates] with
// cx,cy,w,h rows followed by per-class scores.
type OnnxDetector struct {
	cfg     OnnxConfig
	session *ort.DynamicAdvancedSession
	mu      sync.Mutex
}

var ortInitOnce sync.Once
var ortInitErr error

// NewOnnxDetector initializes the runtime and loads the model.
func NewOnnxDetector(cfg OnnxConfig) (*OnnxDetector, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx detector: model path not configured")
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.MinConf <= 0 {
		cfg.MinConf = 0.25
	}
	if cfg.IoU <= 0 {
		cfg.IoU = 0.45
	}
	if cfg.InputName == "" {
		cfg.InputName = "images"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "output0"
	}
	ortInitOnce.Do(func() {
		if cfg.OrtLib != "" {
			ort.SetSharedLibraryPath(cfg.OrtLib)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", ortInitErr)
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", cfg.ModelPath, err)
	}
	return &OnnxDetector{cfg: cfg, session: session}, nil
}

// DetectFrame runs the model on one frame and returns detections in
// source pixel coordinates after confidence filtering and NMS.
func (d *OnnxDetector) DetectFrame(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	canvas, lb := letterboxImage(img, d.cfg.InputSize)
	data := imageToTensor(canvas, d.cfg.InputSize)

	shape := ort.NewShape(1, 3, int64(d.cfg.InputSize), int64(d.cfg.InputSize))
	input, err := ort.NewTensor(shape, data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	// ORT sessions are not safe for concurrent Run calls
	d.mu.Lock()
	outputs := []ort.Value{nil}
	err = d.session.Run([]ort.Value{input}, outputs)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run model: %w", err)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	defer out.Destroy()

	dims := out.GetShape()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	rows, candidates := int(dims[1]), int(dims[2])
	dets := decodeYOLO(out.GetData(), rows, candidates, d.cfg.MinConf, d.cfg.Classes, lb)
	return NMS(dets, d.cfg.IoU), nil
}

func (d *OnnxDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		err := d.session.Destroy()
		d.session = nil
		return err
	}
	return nil
}

// decodeYOLO walks the [rows x candidates] output plane. Values are in
// letterboxed input space; boxes are mapped back to source pixels.
func decodeYOLO(data []float32, rows, candidates int, minConf float64, classes []string, lb Letterbox) []Detection {
	numClasses := rows - 4
	if numClasses < 1 || len(data) < rows*candidates {
		return nil
	}
	var dets []Detection
	at := func(row, col int) float32 { return data[row*candidates+col] }
	for c := 0; c < candidates; c++ {
		best := -1
		bestScore := float32(0)
		for k := 0; k < numClasses; k++ {
			if s := at(4+k, c); s > bestScore {
				bestScore = s
				best = k
			}
		}
		if best < 0 || float64(bestScore) < minConf {
			continue
		}
		cx := float64(at(0, c))
		cy := float64(at(1, c))
		w := float64(at(2, c))
		h := float64(at(3, c))
		box := lb.toSource(cx-w/2, cy-h/2, cx+w/2, cy+h/2)
		if box[2] <= box[0] || box[3] <= box[1] {
			continue
		}
		dets = append(dets, Detection{
			Class: className(classes, best),
			Box:   box,
			Conf:  float64(bestScore),
		})
	}
	return dets
}

func className(classes []string, idx int) string {
	if idx >= 0 && idx < len(classes) {
		return classes[idx]
	}
	return "class_" + strconv.Itoa(idx)
}
