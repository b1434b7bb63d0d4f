package detect

import (
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestIoU(t *testing.T) {
	t.Parallel()
	a := [4]int{0, 0, 10, 10}
	require.Equal(t, 1.0, IoU(a, a))
	require.Equal(t, 0.0, IoU(a, [4]int{20, 20, 30, 30}))
	// half overlap: inter 50, union 150
	require.InDelta(t, 50.0/150.0, IoU(a, [4]int{5, 0, 15, 10}), 1e-9)
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	t.Parallel()
	dets := []Detection{
		{Class: "cup", Box: [4]int{0, 0, 10, 10}, Conf: 0.9},
		{Class: "cup", Box: [4]int{1, 1, 11, 11}, Conf: 0.8},
		{Class: "cup", Box: [4]int{50, 50, 60, 60}, Conf: 0.7},
	}
	kept := NMS(dets, 0.45)
	require.Len(t, kept, 2)
	require.Equal(t, 0.9, kept[0].Conf)
	require.Equal(t, [4]int{50, 50, 60, 60}, kept[1].Box)
}

func TestNMSKeepsDifferentClasses(t *testing.T) {
	t.Parallel()
	dets := []Detection{
		{Class: "cup", Box: [4]int{0, 0, 10, 10}, Conf: 0.9},
		{Class: "plate", Box: [4]int{0, 0, 10, 10}, Conf: 0.8},
	}
	require.Len(t, NMS(dets, 0.45), 2)
}

func TestLetterboxMapping(t *testing.T) {
	t.Parallel()
	// 200x100 source into a 100x100 square: scale 0.5, vertical padding 25
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	canvas, lb := letterboxImage(img, 100)
	require.Equal(t, 100, canvas.Bounds().Dx())
	require.Equal(t, 0.5, lb.Scale)
	require.Equal(t, 0, lb.PadX)
	require.Equal(t, 25, lb.PadY)

	box := lb.toSource(10, 35, 60, 60)
	require.Equal(t, [4]int{20, 20, 120, 70}, box)
}

func TestLetterboxClampsToFrame(t *testing.T) {
	t.Parallel()
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	_, lb := letterboxImage(img, 100)
	box := lb.toSource(-10, -10, 150, 150)
	require.Equal(t, [4]int{0, 0, 100, 100}, box)
}

func TestImageToTensorLayout(t *testing.T) {
	t.Parallel()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Pix[0] = 255 // R of pixel (0,0)
	data := imageToTensor(img, 2)
	require.Len(t, data, 12)
	require.Equal(t, float32(1.0), data[0]) // R plane first
	require.Equal(t, float32(0.0), data[4]) // G plane
}

func TestDecodeYOLO(t *testing.T) {
	t.Parallel()
	// 2 candidates, 2 classes: rows = 6
	rows, candidates := 6, 2
	data := make([]float32, rows*candidates)
	set := func(row, col int, v float32) { data[row*candidates+col] = v }
	// candidate 0: center 50,50 size 20x20, class 1 score 0.9
	set(0, 0, 50)
	set(1, 0, 50)
	set(2, 0, 20)
	set(3, 0, 20)
	set(5, 0, 0.9)
	// candidate 1: below threshold
	set(4, 1, 0.1)

	lb := Letterbox{Scale: 1, SrcW: 100, SrcH: 100}
	dets := decodeYOLO(data, rows, candidates, 0.25, []string{"good-cup", "bad-cup"}, lb)
	require.Len(t, dets, 1)
	require.Equal(t, "bad-cup", dets[0].Class)
	require.Equal(t, [4]int{40, 40, 60, 60}, dets[0].Box)
	require.InDelta(t, 0.9, dets[0].Conf, 1e-6)
}

func TestDecodeYOLOUnknownClassIndex(t *testing.T) {
	t.Parallel()
	require.Equal(t, "class_7", className(nil, 7))
	require.Equal(t, "good-cup", className([]string{"good-cup"}, 0))
}

func TestRemoteDetector(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"x": 10, "y": 20, "width": 30, "height": 40, "class": "cup", "confidence": 0.75},
			},
		})
	}))
	defer srv.Close()

	d := NewRemoteDetector(srv.URL)
	dets, err := d.DetectFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, Detection{Class: "cup", Box: [4]int{10, 20, 40, 60}, Conf: 0.75}, dets[0])
}

func TestRemoteDetectorErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewRemoteDetector(srv.URL)
	_, err := d.DetectFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.Error(t, err)
}

func TestRemoteDetectorCheckHealth(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	require.NoError(t, NewRemoteDetector(srv.URL).CheckHealth(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	require.ErrorContains(t, NewRemoteDetector(down.URL).CheckHealth(context.Background()), "unhealthy")
}
